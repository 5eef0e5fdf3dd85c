package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// ChangeSource is a lazy, infinite sequence of curated-store mutations with a
// persistable resume position.
type ChangeSource interface {
	Next(ctx context.Context) (domain.CuratedRecord, error)
	SaveResumeToken(ctx context.Context) error
	Close(ctx context.Context) error
}

// OpenFunc (re)opens the change source, resuming from the last persisted
// position.
type OpenFunc func(ctx context.Context) (ChangeSource, error)

// EventSink publishes change events asynchronously. InFlight reports sends
// that have not been acknowledged yet; Close flushes them all.
type EventSink interface {
	Publish(ctx context.Context, ev domain.ChangeEvent) error
	InFlight() int64
	Close() error
}

// Publisher observes every curated-store mutation in store order and
// publishes exactly one change event per mutation. On unrecoverable stream
// errors it pauses briefly and reopens from the last persisted position, so
// a mutation may be republished after a restart; the idempotent fold
// downstream tolerates that.
type Publisher struct {
	open       OpenFunc
	sink       EventSink
	logger     *slog.Logger
	metrics    *observability.Metrics
	retryDelay time.Duration
	ready      atomic.Bool
}

// NewPublisher wires the change-capture stage.
func NewPublisher(open OpenFunc, sink EventSink, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		open:       open,
		sink:       sink,
		logger:     logger,
		metrics:    metrics,
		retryDelay: 2 * time.Second,
	}
}

// CheckReadiness returns nil once the change stream has been opened.
func (p *Publisher) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("change stream not open yet")
	}
	return nil
}

// Run observes and publishes until the context is cancelled, then flushes
// in-flight sends so no event is dropped mid-send.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("publisher started")
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	for {
		if ctx.Err() != nil {
			return p.shutdown(nil)
		}

		source, err := p.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return p.shutdown(nil)
			}
			p.logger.Error("open change stream failed", "error", err)
			if !sleepWithContext(ctx, p.retryDelay) {
				return p.shutdown(nil)
			}
			continue
		}
		p.ready.Store(true)

		err = p.observe(ctx, source)
		if ctx.Err() != nil {
			return p.shutdown(source)
		}

		// Unrecoverable stream error: pause briefly and reopen from the
		// last persisted position.
		p.logger.Warn("change stream interrupted, reopening", "error", err)
		_ = source.Close(context.Background())
		if !sleepWithContext(ctx, p.retryDelay) {
			return p.shutdown(nil)
		}
	}
}

// observe is the inner loop: next change, build event, enqueue, and persist
// the resume position at quiescent points (no unacknowledged sends).
func (p *Publisher) observe(ctx context.Context, source ChangeSource) error {
	for {
		if p.sink.InFlight() == 0 {
			if err := source.SaveResumeToken(ctx); err != nil {
				p.logger.Warn("save resume token failed", "error", err)
			}
		}

		rec, err := source.Next(ctx)
		if err != nil {
			return err
		}

		ev := domain.NewChangeEvent(rec, domain.Now())
		if err := p.sink.Publish(ctx, ev); err != nil {
			// Enqueue failures are logged, not retried inline; backpressure
			// is the log client's responsibility.
			p.metrics.PublishFailures.Inc()
			p.logger.Error("enqueue change event failed",
				"error", err,
				"city", rec.City,
				"pollutant", rec.Pollutant,
			)
		}
	}
}

// shutdown flushes in-flight sends, persists the final resume position, and
// closes the source.
func (p *Publisher) shutdown(source ChangeSource) error {
	p.logger.Info("publisher stopping, flushing in-flight sends")
	if err := p.sink.Close(); err != nil {
		p.logger.Error("flush event sink failed", "error", err)
	}

	if source != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if p.sink.InFlight() == 0 {
			if err := source.SaveResumeToken(flushCtx); err != nil {
				p.logger.Warn("save final resume token failed", "error", err)
			}
		}
		_ = source.Close(flushCtx)
	}

	p.logger.Info("publisher stopped")
	return nil
}
