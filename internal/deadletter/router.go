// Package deadletter sets permanently failed payloads and cells aside.
//
// The router is a terminal, best-effort sink: it must never throw back into
// the pipeline. Routed messages go to the dead-letter topic when a sink is
// attached, and are always surfaced through structured logs and the
// dead-letter counter. Replay is an operational action outside this pipeline.
package deadletter

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

const publishTimeout = 5 * time.Second

// Sink delivers a serialized dead-letter message to durable storage.
type Sink interface {
	Publish(ctx context.Context, key, value []byte) error
}

// Router captures permanently failed records with a namespaced reason code.
type Router struct {
	topic   string
	sink    Sink
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRouter creates the dead-letter sink for the given topic name. A nil sink
// degrades to log-and-count only.
func NewRouter(topic string, sink Sink, logger *slog.Logger, metrics *observability.Metrics) *Router {
	return &Router{topic: topic, sink: sink, logger: logger, metrics: metrics}
}

// Route records a dead-letter message. It always succeeds from the caller's
// perspective: internal failures are counted, never propagated.
func (r *Router) Route(original any, reason, city string, pollutant domain.Pollutant) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.Errors.WithLabelValues("dead_letter_failure", city).Inc()
			r.logger.Error("dead letter routing failed", "city", city, "panic", rec)
		}
	}()

	msg := domain.DeadLetterMessage{
		Timestamp:       domain.Now(),
		OriginalMessage: original,
		ErrorReason:     reason,
		City:            city,
		Pollutant:       pollutant,
		RetryCount:      0,
	}

	r.logger.Error("message routed to dead letter",
		"topic", r.topic,
		"reason", msg.ErrorReason,
		"city", msg.City,
		"pollutant", msg.Pollutant,
	)
	r.metrics.DeadLetterMessages.WithLabelValues(r.topic, reason).Inc()
	r.metrics.Errors.WithLabelValues("dead_letter", city).Inc()

	if r.sink == nil {
		return
	}
	value, err := json.Marshal(msg)
	if err != nil {
		r.metrics.Errors.WithLabelValues("dead_letter_failure", city).Inc()
		r.logger.Error("dead letter encode failed", "city", city, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := r.sink.Publish(ctx, []byte(city), value); err != nil {
		r.metrics.Errors.WithLabelValues("dead_letter_failure", city).Inc()
		r.logger.Error("dead letter publish failed", "city", city, "error", err)
	}
}

// ValidationError routes a rejected cell under validation_error_<detail>.
func (r *Router) ValidationError(original any, city string, pollutant domain.Pollutant, detail string) {
	r.Route(original, "validation_error_"+detail, city, pollutant)
}

// ProcessingError routes a pipeline failure under processing_error_<detail>.
func (r *Router) ProcessingError(original any, city, detail string) {
	r.Route(original, "processing_error_"+detail, city, "")
}

// APIError routes an upstream fetch failure under api_error_<detail>.
func (r *Router) APIError(city, detail string) {
	r.Route(map[string]string{"city": city, "error": detail}, "api_error_"+detail, city, "")
}
