package kafka

import (
	"fmt"

	"github.com/hamba/avro/v2"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// eventSchemaJSON is the registered schema for change events. Pollutant
// fields are nullable because each event carries only the mutated pollutant;
// the other six stay null.
const eventSchemaJSON = `{
  "type": "record",
  "name": "AirQualityEvent",
  "namespace": "com.couchcryptid.airquality",
  "fields": [
    {"name": "city", "type": "string"},
    {"name": "timestamp", "type": "long"},
    {"name": "pm2_5", "type": ["null", "double"], "default": null},
    {"name": "pm10", "type": ["null", "double"], "default": null},
    {"name": "ozone", "type": ["null", "double"], "default": null},
    {"name": "carbon_monoxide", "type": ["null", "double"], "default": null},
    {"name": "nitrogen_dioxide", "type": ["null", "double"], "default": null},
    {"name": "sulphur_dioxide", "type": ["null", "double"], "default": null},
    {"name": "uv_index", "type": ["null", "double"], "default": null},
    {"name": "source", "type": "string"},
    {"name": "ingest_time", "type": "long"}
  ]
}`

var eventSchema = avro.MustParse(eventSchemaJSON)

// EncodeEvent serializes a change event against the registered schema.
func EncodeEvent(ev domain.ChangeEvent) ([]byte, error) {
	data, err := avro.Marshal(eventSchema, ev)
	if err != nil {
		return nil, fmt.Errorf("encode change event: %w", err)
	}
	return data, nil
}

// DecodeEvent deserializes a change event. A failure here marks the message
// as poison: it is never retried.
func DecodeEvent(data []byte) (domain.ChangeEvent, error) {
	var ev domain.ChangeEvent
	if err := avro.Unmarshal(eventSchema, data, &ev); err != nil {
		return domain.ChangeEvent{}, &domain.PoisonMessageError{Err: err}
	}
	return ev, nil
}
