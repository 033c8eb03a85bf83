package health_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/godamri/helix-triggers/docstore/memory"
	"github.com/godamri/helix-triggers/server/health"
)

func TestReadiness(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		redisErr error
		wantCode int
		want     map[string]string
	}{
		{"all up", nil, http.StatusOK, map[string]string{"status": "UP", "store": "UP", "redis": "UP"}},
		{"redis down", errors.New("dial tcp: refused"), http.StatusServiceUnavailable, map[string]string{"status": "DOWN", "store": "UP", "redis": "DOWN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := health.NewChecker(time.Second, logger)
			c.Add("store", memory.New())
			c.Add("redis", health.PingFunc(func(context.Context) error { return tt.redisErr }))

			r := chi.NewRouter()
			c.RegisterRoutes(r)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			var got map[string]string
			if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
				t.Fatal(err)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("%s = %q, want %q", k, got[k], v)
				}
			}
		})
	}
}

func TestLiveness(t *testing.T) {
	c := health.NewChecker(0, slog.New(slog.NewTextHandler(io.Discard, nil)))
	c.Add("store", health.PingFunc(func(context.Context) error { return errors.New("down") }))

	r := chi.NewRouter()
	c.RegisterRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("liveness must not depend on dependencies, got %d", rec.Code)
	}
}
