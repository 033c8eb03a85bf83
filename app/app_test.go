package app_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/godamri/helix-triggers/app"
)

func TestRunnerStopsOnComponentError(t *testing.T) {
	r := app.NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	boom := errors.New("listener died")

	var order []string
	r.Go("blocking", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	r.Go("failing", func(ctx context.Context) error { return boom })
	r.OnShutdown("first", func() error { order = append(order, "first"); return nil })
	r.OnShutdown("second", func() error { order = append(order, "second"); return errors.New("ignored") })

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()

	select {
	case err := <-done:
		if !errors.Is(err, boom) {
			t.Fatalf("Run = %v, want %v", err, boom)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after a component failed")
	}
	if want := []string{"second", "first"}; !reflect.DeepEqual(order, want) {
		t.Errorf("shutdown order = %v, want %v", order, want)
	}
}

func TestRunnerCleanStop(t *testing.T) {
	r := app.NewRunner(slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.Go("blocking", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Run(ctx); err != nil {
		t.Fatalf("Run = %v, want nil", err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "triggers.yaml")
	yaml := `
service_name: triggers-staging
store:
  driver: mongo
mongo:
  uri: mongodb://localhost:27017
dispatcher:
  concurrency: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TRIGGERS_MONGO_DATABASE", "orders")
	t.Setenv("TRIGGERS_REDIS_ADDR", "localhost:6379")

	cfg, err := app.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ServiceName != "triggers-staging" || cfg.Store.Driver != app.DriverMongo {
		t.Errorf("yaml not applied: %+v", cfg)
	}
	if cfg.Mongo.Database != "orders" || cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("env not applied: mongo=%+v redis=%+v", cfg.Mongo, cfg.Redis)
	}
	if cfg.Dispatcher.Concurrency != 4 || cfg.Dispatcher.DedupeTTL != 24*time.Hour {
		t.Errorf("dispatcher = %+v", cfg.Dispatcher)
	}
	if cfg.Server.HTTPPort != "8080" || cfg.Audit.Collection != "adminLogs" {
		t.Errorf("defaults lost: server=%+v audit=%+v", cfg.Server, cfg.Audit)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*app.Config)
		want   string
	}{
		{"defaults", func(*app.Config) {}, ""},
		{"mongo without uri", func(c *app.Config) { c.Store.Driver = app.DriverMongo }, "mongo.uri"},
		{"postgres watch", func(c *app.Config) {
			c.Store.Driver = app.DriverPostgres
			c.Database.DSN = "postgres://x"
		}, "no change stream"},
		{"jwt without secret", func(c *app.Config) { c.Auth.Mode = app.AuthModeJWT }, "auth.jwt.secret"},
		{"audit mirror without brokers", func(c *app.Config) { c.Audit.KafkaTopic = "audit" }, "kafka.producer.brokers"},
		{"rate limit without redis", func(c *app.Config) { c.RateLimit.Rate = 100 }, "redis.addr"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := app.Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Fatalf("Validate = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Validate = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
