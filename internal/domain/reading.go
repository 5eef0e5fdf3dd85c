package domain

import (
	"time"
)

// Pollutant names one of the tracked air-quality series. The string values
// match the Open-Meteo hourly field names and are used verbatim as Mongo
// document fields and Avro schema fields.
type Pollutant string

const (
	PM25            Pollutant = "pm2_5"
	PM10            Pollutant = "pm10"
	Ozone           Pollutant = "ozone"
	CarbonMonoxide  Pollutant = "carbon_monoxide"
	NitrogenDioxide Pollutant = "nitrogen_dioxide"
	SulphurDioxide  Pollutant = "sulphur_dioxide"
	UVIndex         Pollutant = "uv_index"
)

// Pollutants lists all tracked pollutants in canonical order. Cell processing
// iterates timestamps first, then this slice, so curation order is
// deterministic (timestamp-major, pollutant-minor).
var Pollutants = []Pollutant{
	PM25, PM10, Ozone, CarbonMonoxide, NitrogenDioxide, SulphurDioxide, UVIndex,
}

// SourceOpenMeteo is the provenance tag stamped on every curated record.
const SourceOpenMeteo = "open-meteo"

// HourlyPayload is the raw Open-Meteo air-quality response for one city.
type HourlyPayload struct {
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Hourly    *HourlyBlock `json:"hourly"`
	Current   *CurrentInfo `json:"current,omitempty"`
}

// CurrentInfo carries the provider-reported observation time, when present.
type CurrentInfo struct {
	Time string `json:"time"`
}

// HourlyBlock holds the parallel time and value series. Value cells are kept
// as decoded JSON (float64, nil, or something malformed) so the validator can
// distinguish missing, wrong-type, and out-of-range cells.
type HourlyBlock struct {
	Time            []string `json:"time"`
	PM25            []any    `json:"pm2_5"`
	PM10            []any    `json:"pm10"`
	Ozone           []any    `json:"ozone"`
	CarbonMonoxide  []any    `json:"carbon_monoxide"`
	NitrogenDioxide []any    `json:"nitrogen_dioxide"`
	SulphurDioxide  []any    `json:"sulphur_dioxide"`
	UVIndex         []any    `json:"uv_index"`
}

// Series returns the value series for the given pollutant.
func (h *HourlyBlock) Series(p Pollutant) []any {
	switch p {
	case PM25:
		return h.PM25
	case PM10:
		return h.PM10
	case Ozone:
		return h.Ozone
	case CarbonMonoxide:
		return h.CarbonMonoxide
	case NitrogenDioxide:
		return h.NitrogenDioxide
	case SulphurDioxide:
		return h.SulphurDioxide
	case UVIndex:
		return h.UVIndex
	default:
		return nil
	}
}

// hourlyTimeLayout is the timestamp format Open-Meteo uses in hourly blocks.
// The wall-clock values are fixed to the timezone requested at fetch time.
const hourlyTimeLayout = "2006-01-02T15:04"

// ParseHourlyTime parses an Open-Meteo hourly timestamp in the given location.
func ParseHourlyTime(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(hourlyTimeLayout, s, loc)
}

// PollutantReading is a single validated cell: one pollutant value for one
// city at one hour-aligned timestamp.
type PollutantReading struct {
	City      string
	Timestamp time.Time
	Pollutant Pollutant
	Value     float64
	Source    string
}

// CuratedRecord is the curated-store document, one per (city, timestamp,
// pollutant) identity. Value and source are overwritten in place by upserts;
// records are never deleted by the pipeline.
type CuratedRecord struct {
	City      string    `bson:"city" json:"city"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	Pollutant Pollutant `bson:"pollutant" json:"pollutant"`
	Value     float64   `bson:"value" json:"value"`
	Source    string    `bson:"source" json:"source"`
}

// RawDocument is the append-only audit copy of a provider payload.
type RawDocument struct {
	City       string    `bson:"city"`
	RawPayload []byte    `bson:"raw_payload"`
	IngestTS   time.Time `bson:"ingest_ts"`
}

// CurationResult counts the outcome of one curation pass for observability.
type CurationResult struct {
	Accepted int
	Rejected int
}

// DeadLetterMessage is the structured record set aside for every permanently
// failed payload or cell. Append-only; replay is an operational action, never
// automatic.
type DeadLetterMessage struct {
	Timestamp       time.Time `json:"timestamp"`
	OriginalMessage any       `json:"original_message"`
	ErrorReason     string    `json:"error_reason"`
	City            string    `json:"city"`
	Pollutant       Pollutant `json:"pollutant,omitempty"`
	RetryCount      int       `json:"retry_count"`
}
