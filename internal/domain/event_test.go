package domain_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

func TestNewChangeEvent_PopulatesOnlyOwnPollutant(t *testing.T) {
	rec := domain.CuratedRecord{
		City:      "Nairobi",
		Timestamp: time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC),
		Pollutant: domain.PM10,
		Value:     33.5,
		Source:    domain.SourceOpenMeteo,
	}
	ingest := time.Date(2026, 3, 10, 7, 5, 0, 0, time.UTC)

	ev := domain.NewChangeEvent(rec, ingest)

	require.NotNil(t, ev.PM10)
	assert.Equal(t, 33.5, *ev.PM10)
	for _, p := range domain.Pollutants {
		if p == domain.PM10 {
			continue
		}
		assert.Nil(t, ev.Value(p), "pollutant %s should be unset", p)
	}
	assert.Equal(t, "Nairobi", ev.City)
	assert.Equal(t, rec.Timestamp.UnixMilli(), ev.TimestampMS)
	assert.Equal(t, ingest.UnixMilli(), ev.IngestTimeMS)
	assert.Equal(t, domain.SourceOpenMeteo, ev.Source)
}

func TestEventKey(t *testing.T) {
	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	assert.Equal(t, "Nairobi_2026-03-10T07:00:00Z", domain.EventKey("Nairobi", ts))
}

func TestEventKey_NormalizesToUTC(t *testing.T) {
	nairobi := time.FixedZone("EAT", 3*60*60)
	local := time.Date(2026, 3, 10, 10, 0, 0, 0, nairobi)
	utc := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)

	assert.Equal(t, domain.EventKey("Nairobi", utc), domain.EventKey("Nairobi", local))
}

func TestRowKeyFromEvent(t *testing.T) {
	ts := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	ev := domain.ChangeEvent{City: "Mombasa", TimestampMS: ts.UnixMilli()}

	key := domain.RowKeyFromEvent(ev)

	assert.Equal(t, domain.RowKey{City: "Mombasa", Date: "2026-03-10", Hour: 22}, key)
}

func TestRowKeyFromEvent_DayBoundaries(t *testing.T) {
	tests := []struct {
		name string
		ts   time.Time
		want domain.RowKey
	}{
		{
			"midnight starts the new date",
			time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC),
			domain.RowKey{City: "Nairobi", Date: "2026-03-11", Hour: 0},
		},
		{
			"last hour stays on the old date",
			time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC),
			domain.RowKey{City: "Nairobi", Date: "2026-03-10", Hour: 23},
		},
		{
			"non-UTC timestamps normalize before the date splits",
			time.Date(2026, 3, 11, 2, 0, 0, 0, time.FixedZone("EAT", 3*60*60)),
			domain.RowKey{City: "Nairobi", Date: "2026-03-10", Hour: 23},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := domain.ChangeEvent{City: "Nairobi", TimestampMS: tt.ts.UnixMilli()}
			assert.Equal(t, tt.want, domain.RowKeyFromEvent(ev))
		})
	}
}

func TestRowKeyFromEvent_SameIdentitySameRow(t *testing.T) {
	// Events born from the same curated identity always target the same row,
	// whatever pollutant they carry.
	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	a := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.PM25, Value: 1}, ts)
	b := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.Ozone, Value: 2}, ts)

	assert.Equal(t, domain.RowKeyFromEvent(a), domain.RowKeyFromEvent(b))
}

func TestColumnarRowMerge_DisjointColumnsCommute(t *testing.T) {
	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	evA := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.PM25, Value: 12.5}, ts)
	evB := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.UVIndex, Value: 4.0}, ts)

	var ab, ba domain.ColumnarRow
	ab.Merge(evA)
	ab.Merge(evB)
	ba.Merge(evB)
	ba.Merge(evA)

	if diff := cmp.Diff(ab.Values, ba.Values); diff != "" {
		t.Errorf("merge order changed the row (-ab +ba):\n%s", diff)
	}
	assert.Equal(t, map[domain.Pollutant]float64{domain.PM25: 12.5, domain.UVIndex: 4.0}, ab.Values)
}

func TestColumnarRowMerge_RedeliveryConverges(t *testing.T) {
	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	ev := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.PM25, Value: 12.5}, ts)

	var once, twice domain.ColumnarRow
	once.Merge(ev)
	twice.Merge(ev)
	twice.Merge(ev)

	assert.Equal(t, once.Values, twice.Values)
	assert.Equal(t, once.IngestTime, twice.IngestTime)
}

func TestColumnarRowMerge_SameColumnLastWriteWins(t *testing.T) {
	ts := time.Date(2026, 3, 10, 7, 0, 0, 0, time.UTC)
	first := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.PM25, Value: 12.5}, ts)
	second := domain.NewChangeEvent(domain.CuratedRecord{City: "Nairobi", Timestamp: ts, Pollutant: domain.PM25, Value: 14.0}, ts.Add(time.Minute))

	var row domain.ColumnarRow
	row.Merge(first)
	row.Merge(second)

	assert.Equal(t, 14.0, row.Values[domain.PM25])
}
