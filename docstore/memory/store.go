// Package memory provides an in-process document store that emits change
// events the way a hosted document database would. It backs dev mode and
// every handler test.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.jetify.com/typeid/v2"

	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/trigger"
)

var _ docstore.Store = (*Store)(nil)

type document struct {
	data    docstore.Fields
	updated time.Time
}

// Store is safe for concurrent use. Writes are serialized by a single lock,
// which is stronger than the per-document ordering callers rely on.
type Store struct {
	mu          sync.Mutex
	collections map[string]map[string]*document
	clock       func() time.Time
	last        time.Time
	subs        map[*subscriber]struct{}
	failures    map[string]error
}

// Option configures the Store.
type Option func(*Store)

// WithClock overrides the time source behind server timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

func New(opts ...Option) *Store {
	s := &Store{
		collections: make(map[string]map[string]*document),
		clock:       time.Now,
		subs:        make(map[*subscriber]struct{}),
		failures:    make(map[string]error),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FailNext makes the next call of op ("get", "update", "add", "create") on
// collection return err. Used to simulate outages.
func (s *Store) FailNext(op, collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op+":"+collection] = err
}

func (s *Store) injected(op, collection string) error {
	key := op + ":" + collection
	if err, ok := s.failures[key]; ok {
		delete(s.failures, key)
		return err
	}
	return nil
}

// now returns a strictly increasing UTC timestamp.
func (s *Store) now() time.Time {
	t := s.clock().UTC()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("get", collection); err != nil {
		return nil, err
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}
	return &docstore.Snapshot{
		Collection: collection,
		ID:         id,
		Data:       docstore.Clone(doc.data),
		UpdateTime: doc.updated,
	}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("update", collection); err != nil {
		return err
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", docstore.ErrNotFound, collection, id)
	}

	ts := s.now()
	before := docstore.Clone(doc.data)
	for k, v := range docstore.ResolveTimestamps(docstore.Clone(fields), ts) {
		doc.data[k] = v
	}
	doc.updated = ts

	s.emit(trigger.ChangeEvent{
		Collection: collection,
		DocumentID: id,
		Operation:  trigger.OpUpdate,
		Before:     before,
		After:      docstore.Clone(doc.data),
		Time:       ts,
	})
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tid, err := typeid.Generate("doc")
	if err != nil {
		return "", fmt.Errorf("memory: generate id: %w", err)
	}
	id := tid.String()

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("add", collection); err != nil {
		return "", err
	}
	s.insert(collection, id, fields)
	return id, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.injected("create", collection); err != nil {
		return err
	}
	if _, exists := s.collections[collection][id]; exists {
		return fmt.Errorf("%w: %s/%s", docstore.ErrAlreadyExists, collection, id)
	}
	s.insert(collection, id, fields)
	return nil
}

// insert must be called with s.mu held.
func (s *Store) insert(collection, id string, fields docstore.Fields) {
	ts := s.now()
	data := docstore.ResolveTimestamps(docstore.Clone(fields), ts)

	col, ok := s.collections[collection]
	if !ok {
		col = make(map[string]*document)
		s.collections[collection] = col
	}
	col[id] = &document{data: data, updated: ts}

	s.emit(trigger.ChangeEvent{
		Collection: collection,
		DocumentID: id,
		Operation:  trigger.OpCreate,
		After:      docstore.Clone(data),
		Time:       ts,
	})
}

// List returns every document of a collection in insertion-independent
// order. Intended for assertions and admin tooling.
func (s *Store) List(collection string) []docstore.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]docstore.Snapshot, 0, len(s.collections[collection]))
	for id, doc := range s.collections[collection] {
		out = append(out, docstore.Snapshot{
			Collection: collection,
			ID:         id,
			Data:       docstore.Clone(doc.data),
			UpdateTime: doc.updated,
		})
	}
	return out
}
