package kafka

import (
	"context"
	"log/slog"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/air-quality-etl/internal/config"
)

// DeadLetterWriter publishes failed records to the dead-letter topic.
// Writes are synchronous: a dead letter is the last trace of a failed record,
// so the caller hears about delivery failures immediately.
type DeadLetterWriter struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewDeadLetterWriter creates a producer for the configured dead-letter topic.
func NewDeadLetterWriter(cfg *config.Config, logger *slog.Logger) *DeadLetterWriter {
	return &DeadLetterWriter{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(cfg.KafkaBrokers...),
			Topic:        cfg.DeadLetterTopic,
			Balancer:     &kafkago.Hash{},
			RequiredAcks: kafkago.RequireAll,
		},
		logger: logger,
	}
}

// Publish delivers one dead-letter message keyed by city.
func (w *DeadLetterWriter) Publish(ctx context.Context, key, value []byte) error {
	return w.writer.WriteMessages(ctx, kafkago.Message{Key: key, Value: value})
}

// Close releases the underlying producer.
func (w *DeadLetterWriter) Close() error {
	return w.writer.Close()
}
