package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
	"github.com/couchcryptid/air-quality-etl/internal/observability"
	"github.com/couchcryptid/air-quality-etl/internal/pipeline"
)

// --- mocks ---

type mockRawStore struct {
	docs []domain.RawDocument
	err  error
}

func (m *mockRawStore) InsertRaw(_ context.Context, doc domain.RawDocument) error {
	if m.err != nil {
		return m.err
	}
	m.docs = append(m.docs, doc)
	return nil
}

type mockCuratedStore struct {
	batches [][]domain.PollutantReading
	err     error
}

func (m *mockCuratedStore) UpsertReadings(_ context.Context, readings []domain.PollutantReading) error {
	if m.err != nil {
		return m.err
	}
	m.batches = append(m.batches, readings)
	return nil
}

type deadLetterEntry struct {
	reason    string
	city      string
	pollutant domain.Pollutant
}

type mockDeadLetter struct {
	entries []deadLetterEntry
}

func (m *mockDeadLetter) ValidationError(_ any, city string, pollutant domain.Pollutant, detail string) {
	m.entries = append(m.entries, deadLetterEntry{reason: "validation_error_" + detail, city: city, pollutant: pollutant})
}

func (m *mockDeadLetter) ProcessingError(_ any, city, detail string) {
	m.entries = append(m.entries, deadLetterEntry{reason: "processing_error_" + detail, city: city})
}

func (m *mockDeadLetter) APIError(city, detail string) {
	m.entries = append(m.entries, deadLetterEntry{reason: "api_error_" + detail, city: city})
}

func (m *mockDeadLetter) reasons() []string {
	out := make([]string, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.reason
	}
	return out
}

func newTestMetrics() *observability.Metrics {
	// Fresh registry per test to avoid "already registered" panics.
	return observability.NewMetricsForTesting()
}

// fullPayload builds a payload with n hourly timestamps and every pollutant
// series fully populated with valid values.
func fullPayload(n int) *domain.HourlyPayload {
	h := &domain.HourlyBlock{}
	for i := 0; i < n; i++ {
		h.Time = append(h.Time, fmt.Sprintf("2026-03-10T%02d:00", i))
		h.PM25 = append(h.PM25, 12.5)
		h.PM10 = append(h.PM10, 20.0)
		h.Ozone = append(h.Ozone, 60.0)
		h.CarbonMonoxide = append(h.CarbonMonoxide, 250.0)
		h.NitrogenDioxide = append(h.NitrogenDioxide, 15.0)
		h.SulphurDioxide = append(h.SulphurDioxide, 5.0)
		h.UVIndex = append(h.UVIndex, 4.0)
	}
	return &domain.HourlyPayload{Hourly: h}
}

func newCurator(raw *mockRawStore, curated *mockCuratedStore, dl *mockDeadLetter) *pipeline.Curator {
	return pipeline.NewCurator(raw, curated, dl, time.UTC, slog.Default(), newTestMetrics())
}

// --- tests ---

func TestCurateAndStore_HappyPath(t *testing.T) {
	raw := &mockRawStore{}
	curated := &mockCuratedStore{}
	dl := &mockDeadLetter{}
	c := newCurator(raw, curated, dl)

	result, err := c.CurateAndStore(context.Background(), "Nairobi", fullPayload(2), []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, domain.CurationResult{Accepted: 14, Rejected: 0}, result)
	assert.Empty(t, dl.entries)

	require.Len(t, raw.docs, 1)
	assert.Equal(t, "Nairobi", raw.docs[0].City)
	assert.Equal(t, []byte(`{}`), raw.docs[0].RawPayload)

	require.Len(t, curated.batches, 1)
	readings := curated.batches[0]
	require.Len(t, readings, 14)
	for _, r := range readings {
		assert.Equal(t, "Nairobi", r.City)
		assert.Equal(t, domain.SourceOpenMeteo, r.Source)
	}
}

func TestCurateAndStore_DeterministicOrder(t *testing.T) {
	// Timestamp-major, pollutant-minor, so repeated runs over the same
	// payload produce the same batch.
	curated := &mockCuratedStore{}
	c := newCurator(&mockRawStore{}, curated, &mockDeadLetter{})

	_, err := c.CurateAndStore(context.Background(), "Nairobi", fullPayload(2), nil)
	require.NoError(t, err)

	readings := curated.batches[0]
	for i, r := range readings {
		wantTS := time.Date(2026, 3, 10, i/len(domain.Pollutants), 0, 0, 0, time.UTC)
		assert.Equal(t, wantTS, r.Timestamp, "reading %d", i)
		assert.Equal(t, domain.Pollutants[i%len(domain.Pollutants)], r.Pollutant, "reading %d", i)
	}
}

func TestCurateAndStore_Idempotent(t *testing.T) {
	// Curating the same payload twice yields identical upsert batches; the
	// store's identity key makes the second pass overwrite, not duplicate.
	curated := &mockCuratedStore{}
	c := newCurator(&mockRawStore{}, curated, &mockDeadLetter{})

	_, err := c.CurateAndStore(context.Background(), "Nairobi", fullPayload(2), nil)
	require.NoError(t, err)
	_, err = c.CurateAndStore(context.Background(), "Nairobi", fullPayload(2), nil)
	require.NoError(t, err)

	require.Len(t, curated.batches, 2)
	assert.Equal(t, curated.batches[0], curated.batches[1])
}

func TestCurateAndStore_QualityGateRejectsSparsePayload(t *testing.T) {
	// Only one of seven series populated: score 1/7. The whole payload is
	// dead-lettered before anything is written.
	payload := &domain.HourlyPayload{
		Hourly: &domain.HourlyBlock{
			Time: []string{"2026-03-10T00:00", "2026-03-10T01:00"},
			PM25: []any{12.5, 13.0},
		},
	}
	raw := &mockRawStore{}
	curated := &mockCuratedStore{}
	dl := &mockDeadLetter{}
	c := newCurator(raw, curated, dl)

	result, err := c.CurateAndStore(context.Background(), "Nairobi", payload, []byte(`{"sparse":true}`))

	require.NoError(t, err)
	assert.Equal(t, domain.CurationResult{Accepted: 0, Rejected: 12}, result)
	assert.Empty(t, raw.docs, "gate-rejected payload must not reach the raw store")
	assert.Empty(t, curated.batches)
	assert.Equal(t, []string{"validation_error_low_data_quality"}, dl.reasons())
}

func TestCurateAndStore_OnePopulatedSeriesOfSevenIsRejected(t *testing.T) {
	// A full day of valid pm2_5 plus a full day of invalid uv_index still
	// leaves five series empty: 24 valid of 168 cells, nowhere near the gate.
	h := &domain.HourlyBlock{}
	for i := 0; i < 24; i++ {
		h.Time = append(h.Time, fmt.Sprintf("2026-03-10T%02d:00", i))
		h.PM25 = append(h.PM25, 500.0)      // valid
		h.UVIndex = append(h.UVIndex, 25.0) // above range
	}
	payload := &domain.HourlyPayload{Hourly: h}

	raw := &mockRawStore{}
	curated := &mockCuratedStore{}
	dl := &mockDeadLetter{}
	c := newCurator(raw, curated, dl)

	result, err := c.CurateAndStore(context.Background(), "Nairobi", payload, []byte(`{}`))

	require.NoError(t, err)
	assert.Equal(t, domain.CurationResult{Accepted: 0, Rejected: 144}, result)
	assert.Empty(t, raw.docs)
	assert.Empty(t, curated.batches)
	assert.Equal(t, []string{"validation_error_low_data_quality"}, dl.reasons())
}

func TestCurateAndStore_InvalidCellsDeadLettered(t *testing.T) {
	payload := fullPayload(1)
	payload.Hourly.Ozone[0] = -1.0  // out of range
	payload.Hourly.UVIndex[0] = nil // missing

	curated := &mockCuratedStore{}
	dl := &mockDeadLetter{}
	c := newCurator(&mockRawStore{}, curated, dl)

	result, err := c.CurateAndStore(context.Background(), "Nairobi", payload, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.CurationResult{Accepted: 5, Rejected: 2}, result)
	require.Len(t, curated.batches, 1)
	assert.Len(t, curated.batches[0], 5)

	assert.ElementsMatch(t, []deadLetterEntry{
		{reason: "validation_error_range", city: "Nairobi", pollutant: domain.Ozone},
		{reason: "validation_error_missing", city: "Nairobi", pollutant: domain.UVIndex},
	}, dl.entries)
}

func TestCurateAndStore_BadTimestampRejectsWholeHour(t *testing.T) {
	payload := fullPayload(2)
	payload.Hourly.Time[1] = "not-a-timestamp"

	curated := &mockCuratedStore{}
	dl := &mockDeadLetter{}
	c := newCurator(&mockRawStore{}, curated, dl)

	result, err := c.CurateAndStore(context.Background(), "Nairobi", payload, nil)

	require.NoError(t, err)
	assert.Equal(t, domain.CurationResult{Accepted: 7, Rejected: 7}, result)
	assert.Equal(t, []string{"validation_error_timestamp"}, dl.reasons())
}

func TestCurateAndStore_RawInsertFailure(t *testing.T) {
	raw := &mockRawStore{err: errors.New("mongo down")}
	curated := &mockCuratedStore{}
	dl := &mockDeadLetter{}
	c := newCurator(raw, curated, dl)

	_, err := c.CurateAndStore(context.Background(), "Nairobi", fullPayload(1), []byte(`{}`))

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "insert_raw", perr.Op)
	assert.Empty(t, curated.batches, "curated upsert must not run after a raw-store failure")
	assert.Equal(t, []string{"processing_error_insert_raw_failure"}, dl.reasons())
}

func TestCurateAndStore_UpsertFailure(t *testing.T) {
	curated := &mockCuratedStore{err: errors.New("bulk write failed")}
	dl := &mockDeadLetter{}
	c := newCurator(&mockRawStore{}, curated, dl)

	_, err := c.CurateAndStore(context.Background(), "Nairobi", fullPayload(1), []byte(`{}`))

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "upsert_curated", perr.Op)
	assert.Equal(t, []string{"processing_error_upsert_curated_failure"}, dl.reasons())
}

func TestCurateAndStore_UsesProviderReportedTime(t *testing.T) {
	payload := fullPayload(1)
	payload.Current = &domain.CurrentInfo{Time: "2026-03-10T06:00"}

	raw := &mockRawStore{}
	c := newCurator(raw, &mockCuratedStore{}, &mockDeadLetter{})

	_, err := c.CurateAndStore(context.Background(), "Nairobi", payload, nil)

	require.NoError(t, err)
	require.Len(t, raw.docs, 1)
	assert.Equal(t, time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC), raw.docs[0].IngestTS)
}
