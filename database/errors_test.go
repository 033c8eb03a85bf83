package database_test

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/godamri/helix-triggers/database"
	"github.com/godamri/helix-triggers/docstore"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		in   error
		want error
	}{
		{"pgx no rows", pgx.ErrNoRows, docstore.ErrNotFound},
		{"sql no rows", sql.ErrNoRows, docstore.ErrNotFound},
		{"unique violation", &pgconn.PgError{Code: "23505", Detail: "Key (collection, id) already exists."}, docstore.ErrAlreadyExists},
		{"serialization", &pgconn.PgError{Code: "40001"}, docstore.ErrUnavailable},
		{"connection failure", &pgconn.PgError{Code: "08006"}, docstore.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := database.MapError(tt.in); !errors.Is(got, tt.want) {
				t.Errorf("MapError(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}

	if database.MapError(nil) != nil {
		t.Error("MapError(nil) != nil")
	}
	other := database.MapError(&pgconn.PgError{Code: "42P01", Message: "relation does not exist"})
	if errors.Is(other, docstore.ErrNotFound) || errors.Is(other, docstore.ErrUnavailable) {
		t.Errorf("unexpected classification: %v", other)
	}
}
