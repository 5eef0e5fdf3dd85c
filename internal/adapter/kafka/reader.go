package kafka

import (
	"context"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// Reader consumes the event topic within a consumer group, starting from the
// earliest offset for a fresh group.
type Reader struct {
	reader *kafkago.Reader
	logger *slog.Logger
}

// NewReader creates the consumer-group reader for the event topic.
func NewReader(cfg *config.Config, logger *slog.Logger) *Reader {
	r := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     cfg.KafkaBrokers,
		GroupID:     cfg.KafkaGroupID,
		Topic:       cfg.KafkaTopic,
		StartOffset: kafkago.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     time.Second,
	})
	return &Reader{reader: r, logger: logger}
}

// Fetch blocks until a message arrives or the context is cancelled. The
// offset is not committed until the returned event's Commit runs.
func (r *Reader) Fetch(ctx context.Context) (domain.RawEvent, error) {
	msg, err := r.reader.FetchMessage(ctx)
	if err != nil {
		return domain.RawEvent{}, err
	}
	return mapMessageToRawEvent(r.reader, msg), nil
}

// Close shuts the reader down and leaves uncommitted offsets for redelivery.
func (r *Reader) Close() error {
	return r.reader.Close()
}

func mapMessageToRawEvent(reader *kafkago.Reader, msg kafkago.Message) domain.RawEvent {
	return domain.RawEvent{
		Key:       msg.Key,
		Value:     msg.Value,
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Commit: func(ctx context.Context) error {
			return reader.CommitMessages(ctx, msg)
		},
	}
}
