package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type Config struct {
	DSN             string        `envconfig:"DSN" yaml:"dsn"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" yaml:"max_open_conns"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" yaml:"conn_max_lifetime"`
}

// NewPostgres opens an instrumented *sql.DB on the pgx driver and pings it.
func NewPostgres(ctx context.Context, cfg Config, serviceName string) (*sql.DB, error) {
	db, err := otelsql.Open("pgx", cfg.DSN,
		otelsql.WithAttributes(semconv.ServiceNameKey.String(serviceName)),
		otelsql.WithDBName("postgres"),
	)
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: ping: %w", err)
	}

	return db, nil
}
