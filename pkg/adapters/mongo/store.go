package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aretw0/journey/pkg/domain"
	"github.com/aretw0/journey/pkg/ports"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	_ ports.DurableStore  = (*Store)(nil)
	_ ports.SessionLister = (*Store)(nil)
)

// Store is a DurableStore backed by MongoDB. Timestamps are stored as int64
// Unix nanoseconds because BSON dates only keep milliseconds.
type Store struct {
	progress  *mongo.Collection
	responses *mongo.Collection
}

// New creates a Mongo-backed store. dbName defaults to "journey".
func New(client *mongo.Client, dbName string) *Store {
	if dbName == "" {
		dbName = "journey"
	}
	db := client.Database(dbName)
	return &Store{
		progress:  db.Collection("progress"),
		responses: db.Collection("responses"),
	}
}

// Connect dials uri and returns a store on dbName.
func Connect(ctx context.Context, uri, dbName string) (*Store, *mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("failed to reach mongo: %w", err)
	}
	return New(client, dbName), client, nil
}

type sessionID struct {
	UserID     string `bson:"user_id"`
	PlaybookID string `bson:"playbook_id"`
}

type progressDoc struct {
	ID              sessionID `bson:"_id"`
	ProgressID      string    `bson:"progress_id"`
	PlaybookVersion int       `bson:"playbook_version"`
	Status          string    `bson:"status"`
	CurrentIndex    int       `bson:"current_index"`
	FrontierIndex   int       `bson:"frontier_index"`
	StartedAt       int64     `bson:"started_at"`
	CompletedAt     int64     `bson:"completed_at"`
	UpdatedAt       int64     `bson:"updated_at"`
	Revision        int64     `bson:"revision"`
	ExternalRef     string    `bson:"external_ref"`
}

type responseID struct {
	UserID     string `bson:"user_id"`
	PlaybookID string `bson:"playbook_id"`
	ItemID     string `bson:"item_id"`
}

type responseDoc struct {
	ID          responseID `bson:"_id"`
	ResponseID  string     `bson:"id"`
	Payload     string     `bson:"payload"`
	CompletedAt int64      `bson:"completed_at"`
	UpdatedAt   int64      `bson:"updated_at"`
}

func sessionFilter(key domain.SessionKey) bson.M {
	return bson.M{"_id": sessionID{UserID: key.UserID, PlaybookID: key.PlaybookID}}
}

// responsesFilter matches every response of a session.
func responsesFilter(key domain.SessionKey) bson.M {
	return bson.M{"_id.user_id": key.UserID, "_id.playbook_id": key.PlaybookID}
}

func toProgressDoc(p domain.Progress) progressDoc {
	return progressDoc{
		ID:              sessionID{UserID: p.UserID, PlaybookID: p.PlaybookID},
		ProgressID:      p.ID,
		PlaybookVersion: p.PlaybookVersion,
		Status:          string(p.Status),
		CurrentIndex:    p.CurrentIndex,
		FrontierIndex:   p.FrontierIndex,
		StartedAt:       nanos(p.StartedAt),
		CompletedAt:     nanos(p.CompletedAt),
		UpdatedAt:       nanos(p.UpdatedAt),
		Revision:        p.Revision,
		ExternalRef:     p.ExternalRef,
	}
}

func (d progressDoc) progress() domain.Progress {
	return domain.Progress{
		ID:              d.ProgressID,
		UserID:          d.ID.UserID,
		PlaybookID:      d.ID.PlaybookID,
		PlaybookVersion: d.PlaybookVersion,
		Status:          domain.Status(d.Status),
		CurrentIndex:    d.CurrentIndex,
		FrontierIndex:   d.FrontierIndex,
		StartedAt:       fromNanos(d.StartedAt),
		CompletedAt:     fromNanos(d.CompletedAt),
		UpdatedAt:       fromNanos(d.UpdatedAt),
		Revision:        d.Revision,
		ExternalRef:     d.ExternalRef,
	}
}

func (d responseDoc) response() (domain.Response, error) {
	payload := map[string]any{}
	if err := domain.DecodeJSON([]byte(d.Payload), &payload); err != nil {
		return domain.Response{}, fmt.Errorf("corrupt payload: %w", err)
	}
	return domain.Response{
		ID:          d.ResponseID,
		UserID:      d.ID.UserID,
		PlaybookID:  d.ID.PlaybookID,
		ItemID:      d.ID.ItemID,
		Payload:     payload,
		CompletedAt: fromNanos(d.CompletedAt),
		UpdatedAt:   fromNanos(d.UpdatedAt),
	}, nil
}

// LoadProgress returns domain.ErrProgressNotFound when no document exists.
func (s *Store) LoadProgress(ctx context.Context, key domain.SessionKey) (domain.Progress, error) {
	var doc progressDoc
	err := s.progress.FindOne(ctx, sessionFilter(key)).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.Progress{}, domain.ErrProgressNotFound
		}
		return domain.Progress{}, fmt.Errorf("failed to load progress: %w", err)
	}
	return doc.progress(), nil
}

// SaveProgress inserts (expectedRevision 0) or replaces the document guarded by its revision.
func (s *Store) SaveProgress(ctx context.Context, p domain.Progress, expectedRevision int64) error {
	doc := toProgressDoc(p)

	if expectedRevision == 0 {
		_, err := s.progress.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrStaleWrite
		}
		if err != nil {
			return fmt.Errorf("failed to insert progress: %w", err)
		}
		return nil
	}

	filter := bson.M{"_id": doc.ID, "revision": expectedRevision}
	res, err := s.progress.ReplaceOne(ctx, filter, doc)
	if err != nil {
		return fmt.Errorf("failed to replace progress: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrStaleWrite
	}
	return nil
}

// DeleteProgress removes the progress document.
func (s *Store) DeleteProgress(ctx context.Context, key domain.SessionKey) error {
	if _, err := s.progress.DeleteOne(ctx, sessionFilter(key)); err != nil {
		return fmt.Errorf("failed to delete progress: %w", err)
	}
	return nil
}

// SaveResponse upserts atomically with an update pipeline: the first id and
// completed_at stay, updated_at never moves backwards.
func (s *Store) SaveResponse(ctx context.Context, r domain.Response) (domain.Response, error) {
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		return domain.Response{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	if r.Payload == nil {
		payload = []byte("{}")
	}

	updated := nanos(r.UpdatedAt)
	pipeline := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"id":           bson.M{"$ifNull": bson.A{"$id", r.ID}},
		"completed_at": bson.M{"$ifNull": bson.A{"$completed_at", nanos(r.CompletedAt)}},
		"payload":      bson.M{"$literal": string(payload)},
		"updated_at": bson.M{"$cond": bson.A{
			bson.M{"$gt": bson.A{updated, bson.M{"$ifNull": bson.A{"$updated_at", int64(-1)}}}},
			updated,
			bson.M{"$add": bson.A{"$updated_at", int64(1)}},
		}},
	}}}}

	filter := bson.M{"_id": responseID{UserID: r.UserID, PlaybookID: r.PlaybookID, ItemID: r.ItemID}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var doc responseDoc
	if err := s.responses.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&doc); err != nil {
		return domain.Response{}, fmt.Errorf("failed to save response: %w", err)
	}
	return doc.response()
}

// GetResponses returns the responses of a session keyed by item id.
func (s *Store) GetResponses(ctx context.Context, key domain.SessionKey) (map[string]domain.Response, error) {
	cur, err := s.responses.Find(ctx, responsesFilter(key))
	if err != nil {
		return nil, fmt.Errorf("failed to query responses: %w", err)
	}
	defer cur.Close(ctx)

	out := make(map[string]domain.Response)
	for cur.Next(ctx) {
		var doc responseDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		r, err := doc.response()
		if err != nil {
			return nil, err
		}
		out[r.ItemID] = r
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate responses: %w", err)
	}
	return out, nil
}

// DeleteResponses removes every response of the session.
func (s *Store) DeleteResponses(ctx context.Context, key domain.SessionKey) error {
	if _, err := s.responses.DeleteMany(ctx, responsesFilter(key)); err != nil {
		return fmt.Errorf("failed to delete responses: %w", err)
	}
	return nil
}

// ListSessions returns every session with a progress document, ordered by key.
func (s *Store) ListSessions(ctx context.Context) ([]domain.SessionKey, error) {
	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id.user_id", Value: 1}, {Key: "_id.playbook_id", Value: 1}})
	cur, err := s.progress.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer cur.Close(ctx)

	var keys []domain.SessionKey
	for cur.Next(ctx) {
		var doc struct {
			ID sessionID `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, domain.NewSessionKey(doc.ID.UserID, doc.ID.PlaybookID))
	}
	return keys, cur.Err()
}

func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
