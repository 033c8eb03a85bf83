package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/godamri/helix-triggers/docstore"
)

// MapError translates driver errors into docstore errors so callers can
// branch with errors.Is regardless of the backing store.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if IsNoRows(err) {
		return fmt.Errorf("%w: %w", docstore.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505": // unique_violation
			return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, pgErr.Detail)
		case pgErr.Code == "40001", // serialization_failure
			pgErr.Code == "40P01", // deadlock_detected
			pgErr.Code == "57014", // query_canceled
			pgErr.Code == "57P01", // admin_shutdown
			pgErr.Code == "53300", // too_many_connections
			strings.HasPrefix(pgErr.Code, "08"): // connection_exception
			return fmt.Errorf("%w: %s (%s)", docstore.ErrUnavailable, pgErr.Message, pgErr.Code)
		}
	}

	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", docstore.ErrUnavailable, err)
	}

	return fmt.Errorf("database: %w", err)
}

func IsNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, sql.ErrNoRows)
}
