package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges shared by the
// ingest, stream, and store services. Each binary registers the full set;
// families untouched by a service simply stay at zero.
type Metrics struct {
	APICalls   *prometheus.CounterVec   // labels: city, status={success,fail}
	APILatency *prometheus.HistogramVec // labels: city

	ValidationErrors *prometheus.CounterVec // labels: city, pollutant
	RecordsProcessed *prometheus.CounterVec // labels: city, status={success,fail}
	StoreOps         *prometheus.CounterVec // labels: operation, status={success,fail}

	Errors             *prometheus.CounterVec // labels: error_type, city
	DeadLetterMessages *prometheus.CounterVec // labels: topic, reason

	EventsPublished  prometheus.Counter
	PublishFailures  prometheus.Counter
	EventsConsumed   prometheus.Counter
	RowsMaterialized prometheus.Counter

	ProcessingDuration *prometheus.HistogramVec // labels: city, stage
	PipelineRunning    prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.APICalls,
		m.APILatency,
		m.ValidationErrors,
		m.RecordsProcessed,
		m.StoreOps,
		m.Errors,
		m.DeadLetterMessages,
		m.EventsPublished,
		m.PublishFailures,
		m.EventsConsumed,
		m.RowsMaterialized,
		m.ProcessingDuration,
		m.PipelineRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		APICalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "api_calls_total",
			Help:      "Upstream API calls by city and outcome.",
		}, []string{"city", "status"}),
		APILatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "air_quality",
			Name:      "api_call_duration_seconds",
			Help:      "Upstream API call duration.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"city"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "validation_errors_total",
			Help:      "Rejected cells by city and pollutant.",
		}, []string{"city", "pollutant"}),
		RecordsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "records_processed_total",
			Help:      "Curated records processed by city and outcome.",
		}, []string{"city", "status"}),
		StoreOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "store_operations_total",
			Help:      "Store operations by kind and outcome.",
		}, []string{"operation", "status"}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "errors_total",
			Help:      "Failures by error kind and city.",
		}, []string{"error_type", "city"}),
		DeadLetterMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "dead_letter_messages_total",
			Help:      "Messages routed to the dead-letter sink.",
		}, []string{"topic", "reason"}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "events_published_total",
			Help:      "Change events acknowledged by the event log.",
		}),
		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "publish_failures_total",
			Help:      "Change events whose delivery callback reported an error.",
		}),
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "events_consumed_total",
			Help:      "Change events read from the event log.",
		}),
		RowsMaterialized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "air_quality",
			Name:      "rows_materialized_total",
			Help:      "Column-level upserts applied to the columnar store.",
		}),
		ProcessingDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "air_quality",
			Name:      "processing_duration_seconds",
			Help:      "Stage duration per city.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}, []string{"city", "stage"}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "air_quality",
			Name:      "pipeline_running",
			Help:      "1 when the service loop is active, 0 when shut down.",
		}),
	}
}
