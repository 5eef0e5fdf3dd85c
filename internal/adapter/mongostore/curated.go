package mongostore

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// InsertRaw appends one provider payload to the audit collection.
func (s *Store) InsertRaw(ctx context.Context, doc domain.RawDocument) error {
	if _, err := s.raw.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert raw payload for %s: %w", doc.City, err)
	}
	return nil
}

// UpsertReadings writes validated readings into the curated collection in one
// bulk operation, matching on the (city, timestamp, pollutant) identity and
// setting value and source. Re-running the same input is a no-op in effect.
func (s *Store) UpsertReadings(ctx context.Context, readings []domain.PollutantReading) error {
	if len(readings) == 0 {
		return nil
	}

	models := make([]mongo.WriteModel, len(readings))
	for i, r := range readings {
		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{
				"city":      r.City,
				"timestamp": r.Timestamp,
				"pollutant": r.Pollutant,
			}).
			SetUpdate(bson.M{
				"$set": bson.M{
					"value":  r.Value,
					"source": r.Source,
				},
			}).
			SetUpsert(true)
	}

	// Unordered: one failed cell must not shadow the rest of the batch.
	opts := options.BulkWrite().SetOrdered(false)
	if _, err := s.curated.BulkWrite(ctx, models, opts); err != nil {
		return fmt.Errorf("upsert curated batch of %d: %w", len(readings), err)
	}
	return nil
}
