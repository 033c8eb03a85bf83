// Package mongo backs docstore.Store with MongoDB and turns its change
// stream into trigger events.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"github.com/godamri/helix-triggers/docstore"
)

type Config struct {
	URI      string `envconfig:"URI" yaml:"uri"`
	Database string `envconfig:"DATABASE" yaml:"database"`
}

// Connect opens a client and pings the primary.
func Connect(ctx context.Context, cfg Config) (*mongod.Client, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("docstore/mongo: connect: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore/mongo: ping: %w", err)
	}
	return client, nil
}

// Store keeps one MongoDB collection per document collection, with the
// document id in _id. The caller owns the database lifecycle.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

func New(db *mongod.Database, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

func (s *Store) Ping(ctx context.Context) error {
	return mapError(s.db.Client().Ping(ctx, readpref.Primary()))
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	var raw bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.D{{Key: "_id", Value: id}}).Decode(&raw)
	if err != nil {
		return nil, fmt.Errorf("docstore/mongo: get %s/%s: %w", collection, id, mapError(err))
	}

	data := normalizeDocument(raw)
	snap := &docstore.Snapshot{Collection: collection, ID: id, Data: data}
	if ts, ok := data[fieldUpdatedAt].(time.Time); ok {
		snap.UpdateTime = ts
		delete(data, fieldUpdatedAt)
	}
	return snap, nil
}

// fieldUpdatedAt is maintained by the store on every write.
const fieldUpdatedAt = "_updatedAt"

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	set := bson.D{}
	stamped := bson.D{{Key: fieldUpdatedAt, Value: true}}
	for k, v := range fields {
		if docstore.IsServerTimestamp(v) {
			stamped = append(stamped, bson.E{Key: k, Value: true})
			continue
		}
		set = append(set, bson.E{Key: k, Value: v})
	}

	update := bson.D{{Key: "$currentDate", Value: stamped}}
	if len(set) > 0 {
		resolved := docstore.ResolveTimestamps(docstore.Fields(toMap(set)), time.Now().UTC())
		update = append(update, bson.E{Key: "$set", Value: bson.M(resolved)})
	}

	res, err := s.db.Collection(collection).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, update)
	if err != nil {
		return fmt.Errorf("docstore/mongo: update %s/%s: %w", collection, id, mapError(err))
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("docstore/mongo: update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := bson.NewObjectID().Hex()
	if err := s.Create(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

// Create inserts with the client clock standing in for server timestamps;
// an insert cannot use $currentDate.
func (s *Store) Create(ctx context.Context, collection, id string, fields docstore.Fields) error {
	now := time.Now().UTC()
	doc := bson.M(docstore.ResolveTimestamps(fields, now))
	doc["_id"] = id
	doc[fieldUpdatedAt] = now

	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("docstore/mongo: create %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func toMap(d bson.D) map[string]any {
	out := make(map[string]any, len(d))
	for _, e := range d {
		out[e.Key] = e.Value
	}
	return out
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongod.ErrNoDocuments):
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
	case isDuplicateKey(err):
		return fmt.Errorf("%w: %w", docstore.ErrAlreadyExists, err)
	case mongod.IsNetworkError(err), mongod.IsTimeout(err), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
	}
	return err
}

func isDuplicateKey(err error) bool {
	if mongod.IsDuplicateKeyError(err) {
		return true
	}
	return strings.Contains(err.Error(), "E11000")
}

// normalizeDocument converts driver types into the plain maps, slices and
// times the handlers expect, and drops _id.
func normalizeDocument(m bson.M) docstore.Fields {
	out := make(docstore.Fields, len(m))
	for k, v := range m {
		if k == "_id" {
			continue
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case bson.M:
		return map[string]any(normalizeDocument(val))
	case bson.D:
		out := make(map[string]any, len(val))
		for _, e := range val {
			out[e.Key] = normalizeValue(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(val))
		for i := range val {
			out[i] = normalizeValue(val[i])
		}
		return out
	case bson.DateTime:
		return val.Time().UTC()
	case bson.ObjectID:
		return val.Hex()
	case int32:
		return int64(val)
	default:
		return v
	}
}
