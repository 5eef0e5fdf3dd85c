package kafka

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/air-quality-etl/internal/config"
	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// DeliveryFunc observes the outcome of an async batch delivery. It runs on
// the writer's internal goroutine and must not block.
type DeliveryFunc func(count int, err error)

// Writer publishes change events to the event topic. Sends are asynchronous:
// Publish enqueues and returns immediately, and the delivery callback reports
// the outcome later. Close flushes everything still in flight.
type Writer struct {
	writer   *kafkago.Writer
	logger   *slog.Logger
	inFlight atomic.Int64
}

// NewWriter creates the async producer for the event topic. The hash
// balancer keys partition selection on the message key, which is what keeps
// events for the same (city, timestamp) identity in publish order.
func NewWriter(cfg *config.Config, onDelivery DeliveryFunc, logger *slog.Logger) *Writer {
	w := &Writer{logger: logger}
	w.writer = &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafkago.Message, err error) {
			w.inFlight.Add(-int64(len(messages)))
			if onDelivery != nil {
				onDelivery(len(messages), err)
			}
		},
	}
	return w
}

// Publish serializes one change event and enqueues it under its identity key.
// The returned error covers enqueueing only; delivery outcomes arrive via the
// callback.
func (w *Writer) Publish(ctx context.Context, ev domain.ChangeEvent) error {
	value, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	key := domain.EventKey(ev.City, time.UnixMilli(ev.TimestampMS).UTC())
	msg := kafkago.Message{
		Key:   []byte(key),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "source", Value: []byte(ev.Source)},
			{Key: "ingest_time", Value: []byte(time.UnixMilli(ev.IngestTimeMS).UTC().Format(time.RFC3339))},
		},
	}

	w.inFlight.Add(1)
	if err := w.writer.WriteMessages(ctx, msg); err != nil {
		w.inFlight.Add(-1)
		return err
	}
	return nil
}

// InFlight reports how many enqueued sends have not been acknowledged yet.
// Zero marks a safe point to persist the change-stream resume position.
func (w *Writer) InFlight() int64 {
	return w.inFlight.Load()
}

// Close flushes in-flight sends and releases the writer. No event is dropped
// mid-send on shutdown.
func (w *Writer) Close() error {
	return w.writer.Close()
}
