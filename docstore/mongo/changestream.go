package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/trigger"
)

// changeDoc is the subset of a change stream event we consume.
type changeDoc struct {
	OperationType string `bson:"operationType"`
	NS            struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID any `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument             bson.M         `bson:"fullDocument"`
	FullDocumentBeforeChange bson.M         `bson:"fullDocumentBeforeChange"`
	ClusterTime              bson.Timestamp `bson:"clusterTime"`
	WallTime                 bson.DateTime  `bson:"wallTime"`
}

// ChangeStream watches the whole database and submits create and update
// events to a trigger sink. Before-images require changeStreamPreAndPostImages
// on the watched collections; without it updates carry no Before snapshot.
type ChangeStream struct {
	db     *mongod.Database
	sink   trigger.Sink
	logger *slog.Logger
	stream *mongod.ChangeStream
}

func NewChangeStream(db *mongod.Database, sink trigger.Sink, logger *slog.Logger) *ChangeStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChangeStream{db: db, sink: sink, logger: logger.With("source", "mongo")}
}

func (c *ChangeStream) Name() string { return "mongo-change-stream" }

func (c *ChangeStream) Start(ctx context.Context) error {
	pipeline := mongod.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"insert", "update", "replace"}}}},
		}}},
	}
	opts := options.ChangeStream().
		SetFullDocument(options.UpdateLookup).
		SetFullDocumentBeforeChange(options.WhenAvailable)

	stream, err := c.db.Watch(ctx, pipeline, opts)
	if err != nil {
		return fmt.Errorf("docstore/mongo: open change stream: %w", err)
	}
	c.stream = stream
	defer stream.Close(context.Background())

	c.logger.InfoContext(ctx, "change stream started", "database", c.db.Name())

	for stream.Next(ctx) {
		var doc changeDoc
		if err := stream.Decode(&doc); err != nil {
			c.logger.ErrorContext(ctx, "undecodable change event skipped", "error", err)
			continue
		}

		evt, err := toChangeEvent(doc, stream.ResumeToken().String())
		if err != nil {
			c.logger.WarnContext(ctx, "change event skipped", "error", err)
			continue
		}
		if err := c.sink.Submit(ctx, evt, nil); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("docstore/mongo: change stream: %w", err)
	}
	return ctx.Err()
}

// Close is a no-op; Start closes the stream when its context ends.
func (c *ChangeStream) Close() error { return nil }

func toChangeEvent(doc changeDoc, resumeToken string) (trigger.ChangeEvent, error) {
	var op trigger.Operation
	switch doc.OperationType {
	case "insert":
		op = trigger.OpCreate
	case "update", "replace":
		op = trigger.OpUpdate
	default:
		return trigger.ChangeEvent{}, fmt.Errorf("unsupported operation %q", doc.OperationType)
	}

	id := fmt.Sprint(normalizeValue(doc.DocumentKey.ID))
	evt := trigger.ChangeEvent{
		ID:         crypto.DeriveKey("mongo", resumeToken),
		Collection: doc.NS.Coll,
		DocumentID: id,
		Operation:  op,
		Source:     "mongo",
		Time:       time.Unix(int64(doc.ClusterTime.T), 0).UTC(),
	}
	if doc.WallTime != 0 {
		evt.Time = doc.WallTime.Time().UTC()
	}
	if doc.FullDocument != nil {
		evt.After = cleanSnapshot(doc.FullDocument)
	}
	if doc.FullDocumentBeforeChange != nil {
		evt.Before = cleanSnapshot(doc.FullDocumentBeforeChange)
	}
	return evt, nil
}

func cleanSnapshot(m bson.M) map[string]any {
	data := normalizeDocument(m)
	delete(data, fieldUpdatedAt)
	return map[string]any(data)
}
