package mongostore

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchcryptid/air-quality-etl/internal/config"
)

// Store owns the Mongo client and the raw, curated, and offset collections.
// It is created once at process start and passed by handle into the
// components that need it; Close releases the connection on shutdown.
type Store struct {
	client  *mongo.Client
	raw     *mongo.Collection
	curated *mongo.Collection
	offsets *mongo.Collection
	logger  *slog.Logger
}

// Connect establishes the Mongo connection, verifies it with a ping, and
// ensures the curated identity index exists.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	connCtx, cancel := context.WithTimeout(ctx, cfg.MongoConnTimeout)
	defer cancel()

	client, err := mongo.Connect(connCtx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(connCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	db := client.Database(cfg.MongoDatabase)
	s := &Store{
		client:  client,
		raw:     db.Collection(cfg.RawCollection),
		curated: db.Collection(cfg.CuratedCollection),
		offsets: db.Collection(cfg.OffsetCollection),
		logger:  logger,
	}

	if err := s.ensureIndexes(connCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo index ensure: %w", err)
	}

	logger.Info("mongo store connected", "database", cfg.MongoDatabase)
	return s, nil
}

// Close releases the underlying client.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ensureIndexes creates the unique identity index the curated upsert matches
// on. Idempotent.
func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.curated.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "city", Value: 1},
			{Key: "timestamp", Value: 1},
			{Key: "pollutant", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("identity_unique"),
	})
	if err != nil {
		return err
	}
	s.logger.Debug("mongo index ensured", "collection", s.curated.Name(), "index", "identity_unique")
	return nil
}
