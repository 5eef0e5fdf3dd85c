package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

const backfillDateLayout = "2006-01-02"

// Fetcher retrieves hourly air-quality payloads from the upstream provider.
type Fetcher interface {
	Fetch(ctx context.Context, city string) (*domain.HourlyPayload, []byte, error)
	FetchRange(ctx context.Context, city, startDate, endDate string) (*domain.HourlyPayload, []byte, error)
}

// CurateStore validates a payload and persists the surviving readings.
type CurateStore interface {
	CurateAndStore(ctx context.Context, city string, payload *domain.HourlyPayload, rawBody []byte) (domain.CurationResult, error)
}

// Scheduler drives the ingest service: one historical backfill sweep at
// startup, then a fetch-and-curate cycle for every configured city on a fixed
// interval. Each city is processed independently so one upstream failure never
// blocks the rest of the cycle.
type Scheduler struct {
	fetcher      Fetcher
	curator      CurateStore
	deadLetter   DeadLetterSink
	cities       []string
	interval     time.Duration
	backfillDays int
	clock        clockwork.Clock
	logger       *slog.Logger
	metrics      *observability.Metrics
	ready        atomic.Bool
}

// NewScheduler wires the ingest cycle. Cities are iterated in sorted order so
// cycle output is deterministic.
func NewScheduler(fetcher Fetcher, curator CurateStore, deadLetter DeadLetterSink, cities []string, interval time.Duration, backfillDays int, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	sorted := make([]string, len(cities))
	copy(sorted, cities)
	sort.Strings(sorted)

	return &Scheduler{
		fetcher:      fetcher,
		curator:      curator,
		deadLetter:   deadLetter,
		cities:       sorted,
		interval:     interval,
		backfillDays: backfillDays,
		clock:        clock,
		logger:       logger,
		metrics:      metrics,
	}
}

// CheckReadiness returns nil once the first full cycle has completed.
func (s *Scheduler) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("first ingest cycle has not completed")
	}
	return nil
}

// Run executes the backfill sweep, then ticks until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("ingest scheduler started",
		"cities", len(s.cities),
		"interval", s.interval,
		"backfill_days", s.backfillDays,
	)
	s.metrics.PipelineRunning.Set(1)
	defer s.metrics.PipelineRunning.Set(0)

	s.RunBackfill(ctx)
	s.Tick(ctx)
	s.ready.Store(true)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingest scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick runs one fetch-and-curate cycle for every city.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, city := range s.cities {
		if ctx.Err() != nil {
			return
		}
		s.ingestCity(ctx, city)
	}
}

// RunBackfill sweeps the previous backfillDays calendar days for every city,
// oldest day first. A failed day is dead-lettered and skipped; the sweep
// continues with the next day.
func (s *Scheduler) RunBackfill(ctx context.Context) {
	if s.backfillDays <= 0 {
		return
	}
	s.logger.Info("backfill sweep started", "days", s.backfillDays)

	today := s.clock.Now().UTC()
	for _, city := range s.cities {
		for day := s.backfillDays; day >= 1; day-- {
			if ctx.Err() != nil {
				return
			}
			date := today.AddDate(0, 0, -day).Format(backfillDateLayout)
			s.ingestRange(ctx, city, date, date)
		}
	}
	s.logger.Info("backfill sweep finished")
}

func (s *Scheduler) ingestCity(ctx context.Context, city string) {
	payload, rawBody, ok := s.fetch(ctx, city, func(ctx context.Context) (*domain.HourlyPayload, []byte, error) {
		return s.fetcher.Fetch(ctx, city)
	})
	if !ok {
		return
	}
	s.curate(ctx, city, payload, rawBody)
}

func (s *Scheduler) ingestRange(ctx context.Context, city, startDate, endDate string) {
	payload, rawBody, ok := s.fetch(ctx, city, func(ctx context.Context) (*domain.HourlyPayload, []byte, error) {
		return s.fetcher.FetchRange(ctx, city, startDate, endDate)
	})
	if !ok {
		return
	}
	s.curate(ctx, city, payload, rawBody)
}

func (s *Scheduler) fetch(ctx context.Context, city string, do func(context.Context) (*domain.HourlyPayload, []byte, error)) (*domain.HourlyPayload, []byte, bool) {
	start := s.clock.Now()
	payload, rawBody, err := do(ctx)
	s.metrics.APILatency.WithLabelValues(city).Observe(s.clock.Since(start).Seconds())

	if err != nil {
		s.metrics.APICalls.WithLabelValues(city, "fail").Inc()
		s.metrics.Errors.WithLabelValues("api", city).Inc()
		s.logger.Error("fetch failed", "city", city, "error", err)
		s.deadLetter.APIError(city, "fetch_failure")
		return nil, nil, false
	}

	s.metrics.APICalls.WithLabelValues(city, "success").Inc()
	return payload, rawBody, true
}

func (s *Scheduler) curate(ctx context.Context, city string, payload *domain.HourlyPayload, rawBody []byte) {
	start := s.clock.Now()
	result, err := s.curator.CurateAndStore(ctx, city, payload, rawBody)
	s.metrics.ProcessingDuration.WithLabelValues(city, "curate").Observe(s.clock.Since(start).Seconds())

	if err != nil {
		// Already dead-lettered and counted by the curator.
		s.logger.Error("curation failed", "city", city, "error", err)
		return
	}
	s.logger.Info("cycle complete",
		"city", city,
		"accepted", result.Accepted,
		"rejected", result.Rejected,
	)
}
