package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
)

// RawStore appends provider payloads verbatim for audit and replay.
type RawStore interface {
	InsertRaw(ctx context.Context, doc domain.RawDocument) error
}

// CuratedStore upserts validated readings under their identity key.
type CuratedStore interface {
	UpsertReadings(ctx context.Context, readings []domain.PollutantReading) error
}

// DeadLetterSink captures permanently failed payloads and cells. Terminal and
// best-effort: calls never fail back into the pipeline.
type DeadLetterSink interface {
	ValidationError(original any, city string, pollutant domain.Pollutant, detail string)
	ProcessingError(original any, city, detail string)
	APIError(city, detail string)
}

// Curator turns one raw provider payload into curated records: quality gate,
// raw audit write, per-cell validation, idempotent upsert. Every cell ends up
// either stored or dead-lettered, never silently dropped.
type Curator struct {
	raw        RawStore
	curated    CuratedStore
	deadLetter DeadLetterSink
	loc        *time.Location
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewCurator wires the curation stage. loc is the timezone the provider's
// hourly timestamps are fixed to.
func NewCurator(raw RawStore, curated CuratedStore, deadLetter DeadLetterSink, loc *time.Location, logger *slog.Logger, metrics *observability.Metrics) *Curator {
	return &Curator{
		raw:        raw,
		curated:    curated,
		deadLetter: deadLetter,
		loc:        loc,
		logger:     logger,
		metrics:    metrics,
	}
}

// CurateAndStore validates and persists one payload for one city.
//
// A payload that fails the quality gate is dead-lettered and dropped without
// error: that is a terminal verdict, not a unit failure. Raw-store and
// curated-store write failures are dead-lettered and returned so the caller
// can count the unit as failed and retry on its own schedule.
func (c *Curator) CurateAndStore(ctx context.Context, city string, payload *domain.HourlyPayload, rawBody []byte) (domain.CurationResult, error) {
	report := domain.EvaluateQuality(payload)
	c.reportQuality(city, report)

	if !report.Accepted {
		c.logger.Warn("payload rejected by quality gate",
			"city", city,
			"score", report.Score,
			"valid_cells", report.ValidCells,
			"total_cells", report.TotalCells,
		)
		c.deadLetter.ValidationError(string(rawBody), city, "", "low_data_quality")
		return domain.CurationResult{Rejected: report.TotalCells - report.ValidCells}, nil
	}

	if err := c.storeRaw(ctx, city, payload, rawBody); err != nil {
		return domain.CurationResult{}, err
	}

	readings, result := c.collectReadings(city, payload)

	if err := c.curated.UpsertReadings(ctx, readings); err != nil {
		c.metrics.StoreOps.WithLabelValues("upsert_curated", "fail").Inc()
		c.metrics.RecordsProcessed.WithLabelValues(city, "fail").Add(float64(len(readings)))
		c.deadLetter.ProcessingError(string(rawBody), city, "upsert_curated_failure")
		return domain.CurationResult{}, &domain.PersistenceError{Op: "upsert_curated", Err: err}
	}
	c.metrics.StoreOps.WithLabelValues("upsert_curated", "success").Inc()
	c.metrics.RecordsProcessed.WithLabelValues(city, "success").Add(float64(result.Accepted))

	c.logger.Info("payload curated",
		"city", city,
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"score", report.Score,
	)
	return result, nil
}

// storeRaw appends the payload verbatim, keyed by city and provider-reported
// time when the provider sent one.
func (c *Curator) storeRaw(ctx context.Context, city string, payload *domain.HourlyPayload, rawBody []byte) error {
	ingestTS := domain.Now().UTC()
	if payload.Current != nil && payload.Current.Time != "" {
		if ts, err := domain.ParseHourlyTime(payload.Current.Time, c.loc); err == nil {
			ingestTS = ts
		}
	}

	err := c.raw.InsertRaw(ctx, domain.RawDocument{
		City:       city,
		RawPayload: rawBody,
		IngestTS:   ingestTS,
	})
	if err != nil {
		c.metrics.StoreOps.WithLabelValues("insert_raw", "fail").Inc()
		c.deadLetter.ProcessingError(string(rawBody), city, "insert_raw_failure")
		return &domain.PersistenceError{Op: "insert_raw", Err: err}
	}
	c.metrics.StoreOps.WithLabelValues("insert_raw", "success").Inc()
	return nil
}

// collectReadings walks every (timestamp, pollutant) cell in deterministic
// order, turning valid cells into readings and dead-lettering the rest.
func (c *Curator) collectReadings(city string, payload *domain.HourlyPayload) ([]domain.PollutantReading, domain.CurationResult) {
	hourly := payload.Hourly
	readings := make([]domain.PollutantReading, 0, len(hourly.Time)*len(domain.Pollutants))
	var result domain.CurationResult

	for i, tsRaw := range hourly.Time {
		ts, err := domain.ParseHourlyTime(tsRaw, c.loc)
		if err != nil {
			result.Rejected += len(domain.Pollutants)
			c.deadLetter.ValidationError(tsRaw, city, "", "timestamp")
			continue
		}

		for _, p := range domain.Pollutants {
			series := hourly.Series(p)
			var cell any
			if i < len(series) {
				cell = series[i]
			}

			value, kind := domain.ValidateCell(p, cell)
			if kind != domain.RejectNone {
				result.Rejected++
				c.metrics.ValidationErrors.WithLabelValues(city, string(p)).Inc()
				c.deadLetter.ValidationError(cell, city, p, string(kind))
				continue
			}

			readings = append(readings, domain.PollutantReading{
				City:      city,
				Timestamp: ts,
				Pollutant: p,
				Value:     value,
				Source:    domain.SourceOpenMeteo,
			})
			result.Accepted++
		}
	}
	return readings, result
}

// reportQuality surfaces the gate's per-kind rejection counts.
func (c *Curator) reportQuality(city string, report domain.QualityReport) {
	for kind, count := range report.Rejects {
		c.metrics.Errors.WithLabelValues("validation_"+string(kind), city).Add(float64(count))
	}
}
