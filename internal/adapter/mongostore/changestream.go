package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/couchcryptid/air-quality-etl/internal/domain"
)

// resumeDocID keys the persisted resume token for the curated collection's
// change stream. One stream, one document.
const resumeDocID = "curated_change_stream"

// ChangeStream is a lazy, infinite sequence of curated-store mutations. The
// resume token is persisted after acknowledged publishes, so reopening the
// stream resumes where the previous run stopped instead of replaying from
// the beginning.
type ChangeStream struct {
	stream  *mongo.ChangeStream
	offsets *mongo.Collection
}

type changeDoc struct {
	FullDocument domain.CuratedRecord `bson:"fullDocument"`
}

type resumeDoc struct {
	ID    string   `bson:"_id"`
	Token bson.Raw `bson:"token"`
}

// OpenChangeStream starts watching the curated collection for inserts and
// updates, resuming from the persisted token when one exists. The stream
// delivers the full post-image of each mutated document.
func (s *Store) OpenChangeStream(ctx context.Context) (*ChangeStream, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)

	token, err := s.loadResumeToken(ctx)
	if err != nil {
		return nil, err
	}
	if token != nil {
		opts.SetResumeAfter(token)
	}

	stream, err := s.curated.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("open change stream: %w", err)
	}

	s.logger.Info("change stream opened", "collection", s.curated.Name(), "resumed", token != nil)
	return &ChangeStream{stream: stream, offsets: s.offsets}, nil
}

// Next blocks until the next mutation arrives, the stream fails, or the
// context is cancelled.
func (cs *ChangeStream) Next(ctx context.Context) (domain.CuratedRecord, error) {
	if !cs.stream.Next(ctx) {
		if err := cs.stream.Err(); err != nil {
			return domain.CuratedRecord{}, fmt.Errorf("change stream: %w", err)
		}
		return domain.CuratedRecord{}, errors.New("change stream exhausted")
	}

	var doc changeDoc
	if err := cs.stream.Decode(&doc); err != nil {
		return domain.CuratedRecord{}, fmt.Errorf("decode change: %w", err)
	}
	return doc.FullDocument, nil
}

// SaveResumeToken persists the stream's current position. Call after the
// publishes up to this position have been acknowledged; anything newer is
// redelivered on restart, which the idempotent fold downstream tolerates.
func (cs *ChangeStream) SaveResumeToken(ctx context.Context) error {
	token := cs.stream.ResumeToken()
	if token == nil {
		return nil
	}
	_, err := cs.offsets.UpdateOne(ctx,
		bson.M{"_id": resumeDocID},
		bson.M{"$set": bson.M{"token": token}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("save resume token: %w", err)
	}
	return nil
}

// Close releases the server-side cursor.
func (cs *ChangeStream) Close(ctx context.Context) error {
	return cs.stream.Close(ctx)
}

func (s *Store) loadResumeToken(ctx context.Context) (bson.Raw, error) {
	var doc resumeDoc
	err := s.offsets.FindOne(ctx, bson.M{"_id": resumeDocID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load resume token: %w", err)
	}
	return doc.Token, nil
}
