package domain

import (
	"context"
	"fmt"
	"time"
)

// RawEvent is one fetched-but-uncommitted record from the event log.
// Committing marks the offset consumed for the group; an uncommitted record
// is redelivered after a restart (at-least-once).
type RawEvent struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Timestamp time.Time
	Commit    func(ctx context.Context) error
}

// ChangeEvent is the canonical wire form of one curated-store mutation. It is
// a sparse wide row: only the mutated pollutant's field is non-nil, the other
// six stay null. The columnar fold downstream merges events per column, so
// two events for the same (city, date, hour) with disjoint non-null fields
// commute.
type ChangeEvent struct {
	City            string   `avro:"city" json:"city"`
	TimestampMS     int64    `avro:"timestamp" json:"timestamp"`
	PM25            *float64 `avro:"pm2_5" json:"pm2_5"`
	PM10            *float64 `avro:"pm10" json:"pm10"`
	Ozone           *float64 `avro:"ozone" json:"ozone"`
	CarbonMonoxide  *float64 `avro:"carbon_monoxide" json:"carbon_monoxide"`
	NitrogenDioxide *float64 `avro:"nitrogen_dioxide" json:"nitrogen_dioxide"`
	SulphurDioxide  *float64 `avro:"sulphur_dioxide" json:"sulphur_dioxide"`
	UVIndex         *float64 `avro:"uv_index" json:"uv_index"`
	Source          string   `avro:"source" json:"source"`
	IngestTimeMS    int64    `avro:"ingest_time" json:"ingest_time"`
}

// NewChangeEvent maps a curated record into its event form, populating only
// the record's own pollutant field.
func NewChangeEvent(rec CuratedRecord, ingestTime time.Time) ChangeEvent {
	ev := ChangeEvent{
		City:         rec.City,
		TimestampMS:  rec.Timestamp.UnixMilli(),
		Source:       rec.Source,
		IngestTimeMS: ingestTime.UnixMilli(),
	}
	v := rec.Value
	switch rec.Pollutant {
	case PM25:
		ev.PM25 = &v
	case PM10:
		ev.PM10 = &v
	case Ozone:
		ev.Ozone = &v
	case CarbonMonoxide:
		ev.CarbonMonoxide = &v
	case NitrogenDioxide:
		ev.NitrogenDioxide = &v
	case SulphurDioxide:
		ev.SulphurDioxide = &v
	case UVIndex:
		ev.UVIndex = &v
	}
	return ev
}

// Value returns the event's field for the given pollutant, nil when unset.
func (ev ChangeEvent) Value(p Pollutant) *float64 {
	switch p {
	case PM25:
		return ev.PM25
	case PM10:
		return ev.PM10
	case Ozone:
		return ev.Ozone
	case CarbonMonoxide:
		return ev.CarbonMonoxide
	case NitrogenDioxide:
		return ev.NitrogenDioxide
	case SulphurDioxide:
		return ev.SulphurDioxide
	case UVIndex:
		return ev.UVIndex
	default:
		return nil
	}
}

// EventKey builds the Kafka message key "<city>_<RFC3339 timestamp>". Events
// sharing an identity share a key, which pins them to one partition and
// preserves their publish order.
func EventKey(city string, ts time.Time) string {
	return fmt.Sprintf("%s_%s", city, ts.UTC().Format(time.RFC3339))
}

// RowKey addresses one columnar row: the (city, date) partition plus the hour
// clustering column.
type RowKey struct {
	City string
	Date string // "2006-01-02", UTC
	Hour int
}

// RowKeyFromEvent derives the columnar write target from an event timestamp.
// Both this key and the curated identity key come from the same timestamp, so
// replayed or reordered events land on the same row.
func RowKeyFromEvent(ev ChangeEvent) RowKey {
	ts := time.UnixMilli(ev.TimestampMS).UTC()
	return RowKey{
		City: ev.City,
		Date: ts.Format("2006-01-02"),
		Hour: ts.Hour(),
	}
}

// ColumnarRow is the materialized per-city/per-day/per-hour row. Values holds
// only columns that have been written; merging a ChangeEvent overwrites the
// event's non-null columns and leaves the rest untouched (last-write-wins per
// column, not per row).
type ColumnarRow struct {
	Key        RowKey
	Values     map[Pollutant]float64
	IngestTime time.Time
}

// Merge folds an event's non-null columns into the row.
func (r *ColumnarRow) Merge(ev ChangeEvent) {
	if r.Values == nil {
		r.Values = make(map[Pollutant]float64, len(Pollutants))
	}
	for _, p := range Pollutants {
		if v := ev.Value(p); v != nil {
			r.Values[p] = *v
		}
	}
	r.IngestTime = time.UnixMilli(ev.IngestTimeMS).UTC()
}
