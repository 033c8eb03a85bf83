// Package docstore defines the document store the triggers read and write.
//
// The store is an external collaborator: implementations live in the
// memory, mongo and postgres subpackages and are injected into every
// component by the process entry point.
package docstore

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("docstore: document not found")
	ErrAlreadyExists = errors.New("docstore: document already exists")
	// ErrUnavailable marks transient store failures (connection loss, timeouts).
	ErrUnavailable = errors.New("docstore: store unavailable")
)

// Fields is a partial or complete document body.
type Fields map[string]any

// Snapshot is a point-in-time copy of a stored document.
type Snapshot struct {
	Collection string
	ID         string
	Data       Fields
	UpdateTime time.Time
}

// String returns the string value at key, or "" when absent or not a string.
func (s *Snapshot) String(key string) string {
	if s == nil {
		return ""
	}
	v, _ := s.Data[key].(string)
	return v
}

type serverTimestamp struct{}

// ServerTimestamp is a field value placeholder. The store replaces it with
// its own clock reading at write time.
var ServerTimestamp any = serverTimestamp{}

// IsServerTimestamp reports whether v is the ServerTimestamp placeholder.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

// Store is the document store client consumed by the triggers.
// Implementations serialize writes per document; no multi-document
// atomicity is assumed by callers.
type Store interface {
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context, collection, id string) (*Snapshot, error)
	// Update merges fields into an existing document. ErrNotFound when missing.
	Update(ctx context.Context, collection, id string, fields Fields) error
	// Add creates a document with a store-assigned id.
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	// Create creates a document with a caller-chosen id.
	// ErrAlreadyExists when the id is taken; the existing document is left untouched.
	Create(ctx context.Context, collection, id string, fields Fields) error
}

// Pinger is implemented by stores that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ResolveTimestamps returns a copy of fields with every ServerTimestamp
// placeholder replaced by ts. Nested maps are resolved too.
func ResolveTimestamps(fields Fields, ts time.Time) Fields {
	out := make(Fields, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case serverTimestamp:
			out[k] = ts
		case Fields:
			out[k] = ResolveTimestamps(val, ts)
		case map[string]any:
			out[k] = map[string]any(ResolveTimestamps(val, ts))
		default:
			out[k] = v
		}
	}
	return out
}

// Clone deep-copies maps and slices so snapshots never alias stored state.
func Clone(fields Fields) Fields {
	if fields == nil {
		return nil
	}
	return Fields(cloneMap(fields))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case Fields:
		return Fields(cloneMap(val))
	case map[string]any:
		return cloneMap(val)
	case []any:
		out := make([]any, len(val))
		for i := range val {
			out[i] = cloneValue(val[i])
		}
		return out
	default:
		return v
	}
}
