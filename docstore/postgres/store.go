// Package postgres stores documents as JSONB rows keyed by collection and id.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/godamri/helix-triggers/database"
	"github.com/godamri/helix-triggers/docstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection text        NOT NULL,
	id         text        NOT NULL,
	data       jsonb       NOT NULL DEFAULT '{}'::jsonb,
	created_at timestamptz NOT NULL DEFAULT clock_timestamp(),
	updated_at timestamptz NOT NULL DEFAULT clock_timestamp(),
	PRIMARY KEY (collection, id)
)`

// serverStamped builds a jsonb object mapping each key in $n to the
// database clock.
const serverStamped = `COALESCE((SELECT jsonb_object_agg(k, to_jsonb(clock_timestamp())) FROM unnest(%s::text[]) AS k), '{}'::jsonb)`

var (
	queryGet    = `SELECT data, updated_at FROM documents WHERE collection = $1 AND id = $2`
	queryUpdate = `UPDATE documents SET data = data || $3::jsonb || ` + fmt.Sprintf(serverStamped, "$4") +
		`, updated_at = clock_timestamp() WHERE collection = $1 AND id = $2`
	queryInsert = `INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb || ` + fmt.Sprintf(serverStamped, "$4") + `)`
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the documents table if needed.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", database.MapError(err))
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return database.MapError(s.db.PingContext(ctx))
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	var (
		raw     []byte
		updated time.Time
	)
	err := s.db.QueryRowContext(ctx, queryGet, collection, id).Scan(&raw, &updated)
	if err != nil {
		return nil, fmt.Errorf("postgres: get %s/%s: %w", collection, id, database.MapError(err))
	}

	data := docstore.Fields{}
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("postgres: decode %s/%s: %w", collection, id, err)
	}
	return &docstore.Snapshot{Collection: collection, ID: id, Data: data, UpdateTime: updated}, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	body, stamped, err := encode(fields)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, queryUpdate, collection, id, body, stamped)
	if err != nil {
		return fmt.Errorf("postgres: update %s/%s: %w", collection, id, database.MapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: update %s/%s: %w", collection, id, database.MapError(err))
	}
	if n == 0 {
		return fmt.Errorf("postgres: update %s/%s: %w", collection, id, docstore.ErrNotFound)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.Create(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields docstore.Fields) error {
	body, stamped, err := encode(fields)
	if err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, queryInsert, collection, id, body, stamped); err != nil {
		return fmt.Errorf("postgres: create %s/%s: %w", collection, id, database.MapError(err))
	}
	return nil
}

// encode splits top-level ServerTimestamp placeholders out of fields so the
// database clock fills them. Nested placeholders get the local clock.
func encode(fields docstore.Fields) ([]byte, []string, error) {
	plain := make(docstore.Fields, len(fields))
	stamped := []string{}
	for k, v := range fields {
		if docstore.IsServerTimestamp(v) {
			stamped = append(stamped, k)
			continue
		}
		plain[k] = v
	}
	plain = docstore.ResolveTimestamps(plain, time.Now().UTC())

	body, err := json.Marshal(plain)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: encode fields: %w", err)
	}
	return body, stamped, nil
}
