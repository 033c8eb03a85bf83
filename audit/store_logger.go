package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

// StoreLogger appends entries to a document store collection. It never
// updates or deletes an entry.
//
// When the context carries an idempotency key (set per event or per request
// by the dispatcher) the entry id is derived from it, so redelivery of the
// same event re-targets the same document and the duplicate is absorbed.
type StoreLogger struct {
	store      docstore.Store
	collection string
	sinks      []Sink
	logger     *slog.Logger
}

func NewStoreLogger(store docstore.Store, collection string, logger *slog.Logger, sinks ...Sink) *StoreLogger {
	if collection == "" {
		collection = "adminLogs"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreLogger{
		store:      store,
		collection: collection,
		sinks:      sinks,
		logger:     logger.With("component", "audit"),
	}
}

func (l *StoreLogger) Append(ctx context.Context, e Entry) (string, error) {
	if err := e.Validate(); err != nil {
		return "", err
	}
	if e.IdempotencyKey == "" {
		if scope := contextx.GetIdempotencyKey(ctx); scope != "" {
			e.IdempotencyKey = crypto.DeriveKey(scope, string(e.Type), e.Action, e.TargetID)
		}
	}
	if e.TraceID == "" {
		if tid := contextx.GetTraceID(ctx); tid != "untriaged" {
			e.TraceID = tid
		}
	}

	id, err := l.write(ctx, e)
	if err != nil {
		return "", err
	}
	e.ID = id

	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	for _, s := range l.sinks {
		if err := s.Log(ctx, e); err != nil {
			l.logger.WarnContext(ctx, "audit sink rejected entry", "id", id, "action", e.Action, "error", err)
		}
	}
	return id, nil
}

func (l *StoreLogger) write(ctx context.Context, e Entry) (string, error) {
	fields := e.Fields()

	if e.IdempotencyKey == "" {
		id, err := l.store.Add(ctx, l.collection, fields)
		if err != nil {
			return "", fmt.Errorf("%w: %s on %s: %w", ErrAppendFailed, e.Action, e.TargetID, err)
		}
		return id, nil
	}

	err := l.store.Create(ctx, l.collection, e.IdempotencyKey, fields)
	switch {
	case err == nil:
		return e.IdempotencyKey, nil
	case errors.Is(err, docstore.ErrAlreadyExists):
		l.logger.DebugContext(ctx, "duplicate audit append absorbed",
			"id", e.IdempotencyKey,
			"action", e.Action,
			"target_id", e.TargetID,
		)
		return e.IdempotencyKey, nil
	default:
		return "", fmt.Errorf("%w: %s on %s: %w", ErrAppendFailed, e.Action, e.TargetID, err)
	}
}
