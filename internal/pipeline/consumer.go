package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// EventSource delivers raw records from the event log with at-least-once
// semantics.
type EventSource interface {
	Fetch(ctx context.Context) (domain.RawEvent, error)
}

// RowWriter applies one change event to its columnar row, idempotently.
type RowWriter interface {
	WriteEvent(ctx context.Context, ev domain.ChangeEvent) error
}

// DecodeFunc deserializes an event payload against the registered schema.
type DecodeFunc func(data []byte) (domain.ChangeEvent, error)

// Consumer folds change events into the columnar store. Redelivered events
// re-apply the same columns to the same row, so the loop commits an offset
// only after the row write succeeded.
type Consumer struct {
	source     EventSource
	writer     RowWriter
	decode     DecodeFunc
	deadLetter DeadLetterSink
	logger     *slog.Logger
	metrics    *observability.Metrics
	ready      atomic.Bool
}

// NewConsumer wires the materialization stage.
func NewConsumer(source EventSource, writer RowWriter, decode DecodeFunc, deadLetter DeadLetterSink, logger *slog.Logger, metrics *observability.Metrics) *Consumer {
	return &Consumer{
		source:     source,
		writer:     writer,
		decode:     decode,
		deadLetter: deadLetter,
		logger:     logger,
		metrics:    metrics,
	}
}

// CheckReadiness returns nil once at least one event has been processed.
func (c *Consumer) CheckReadiness(_ context.Context) error {
	if !c.ready.Load() {
		return errors.New("consumer has not processed any events yet")
	}
	return nil
}

// Run polls until the context is cancelled. A poll error is logged and the
// loop continues; an in-flight event at shutdown is simply redelivered on
// restart.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("consumer started")
	c.metrics.PipelineRunning.Set(1)
	defer c.metrics.PipelineRunning.Set(0)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "reason", ctx.Err())
			return nil
		default:
		}

		msg, err := c.source.Fetch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			c.logger.Error("poll failed", "error", err)
			continue
		}

		c.processMessage(ctx, msg)
	}
}

// processMessage runs one DESERIALIZE → MAP_KEY → IDEMPOTENT_WRITE cycle.
func (c *Consumer) processMessage(ctx context.Context, msg domain.RawEvent) {
	c.metrics.EventsConsumed.Inc()

	ev, err := c.decode(msg.Value)
	if err != nil {
		// Poison: never retried. Dead-letter it and commit past it so the
		// partition does not stall.
		c.logger.Error("undeserializable event",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		c.deadLetter.ProcessingError(string(msg.Value), "unknown", "deserialize")
		c.commit(ctx, msg)
		return
	}

	if err := c.writer.WriteEvent(ctx, ev); err != nil {
		// Transient store failure: log and leave the offset uncommitted so
		// the event is redelivered.
		c.metrics.StoreOps.WithLabelValues("insert_columnar", "fail").Inc()
		c.metrics.Errors.WithLabelValues("persistence", ev.City).Inc()
		c.logger.Error("columnar write failed",
			"error", err,
			"city", ev.City,
			"offset", msg.Offset,
		)
		return
	}

	c.metrics.StoreOps.WithLabelValues("insert_columnar", "success").Inc()
	c.metrics.RowsMaterialized.Inc()
	c.ready.Store(true)
	c.commit(ctx, msg)
}

func (c *Consumer) commit(ctx context.Context, msg domain.RawEvent) {
	if msg.Commit == nil {
		return
	}
	if err := msg.Commit(ctx); err != nil {
		c.logger.Warn("commit offset failed",
			"error", err,
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}
