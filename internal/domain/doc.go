// Package domain models hourly air-quality measurements for a fixed set of cities.
//
// # Data Source
//
// Measurements come from the Open-Meteo Air Quality API
// (https://air-quality-api.open-meteo.com/v1/air-quality). The ingest service
// polls it hourly per city and sweeps a bounded trailing window of days at
// startup. Responses carry an "hourly" block: a "time" series of
// timezone-fixed, hour-aligned timestamps plus one value series per pollutant.
//
// # Pollutants and Ranges
//
// Seven pollutant series are tracked: pm2_5, pm10, ozone, carbon_monoxide,
// nitrogen_dioxide, sulphur_dioxide, uv_index. Each has a closed plausibility
// range (see [ValidateValue]); a cell whose value is absent, non-numeric, or
// out of range never reaches the curated store — it is routed to the
// dead-letter sink instead.
//
// # Identity Keys
//
// A curated record is identified by (city, timestamp, pollutant). The change
// event key is "<city>_<RFC3339 timestamp>", so events for the same identity
// share a Kafka partition and preserve publish order. The columnar row key
// (city, date, hour) is derived from the same timestamp, which makes the
// downstream fold commutative and idempotent: replaying or reordering events
// converges to the same row.
//
// # Payload Quality
//
// A payload is accepted only when strictly more than half of its
// timestamp × pollutant cells validate ([EvaluateQuality]). Empty payloads,
// payloads without an hourly block, and payloads without timestamps score 0.
package domain
