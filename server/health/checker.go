package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
)

// Pinger is anything readiness depends on: the document store, Redis.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const (
	statusUp   = "UP"
	statusDown = "DOWN"
)

// Checker handles the health check endpoints.
type Checker struct {
	deps    map[string]Pinger
	timeout time.Duration
	logger  *slog.Logger
}

// NewChecker creates a checker whose readiness probe gives every dependency
// at most timeout to answer.
func NewChecker(timeout time.Duration, logger *slog.Logger) *Checker {
	if timeout <= 0 {
		timeout = 200 * time.Millisecond
	}
	return &Checker{
		deps:    make(map[string]Pinger),
		timeout: timeout,
		logger:  logger,
	}
}

// Add registers a readiness dependency. Not safe to call once serving.
func (c *Checker) Add(name string, p Pinger) {
	c.deps[name] = p
}

func (c *Checker) RegisterRoutes(r chi.Router) {
	r.Get("/health", c.HandleHealth)   // Liveness
	r.Get("/ready", c.HandleReadiness) // Readiness
}

// HandleHealth returns 200 as long as the process serves HTTP.
func (c *Checker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	c.write(w, http.StatusOK, map[string]string{"status": statusUp})
}

// HandleReadiness pings every dependency. A slow dependency counts as down
// so the load balancer stops routing callables here.
func (c *Checker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), c.timeout)
	defer cancel()

	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	body := map[string]string{"status": statusUp}
	code := http.StatusOK
	for _, name := range names {
		body[name] = statusUp
		if err := c.deps[name].Ping(ctx); err != nil {
			c.logger.ErrorContext(ctx, "readiness check failed", "dependency", name, "error", err)
			body[name] = statusDown
			body["status"] = statusDown
			code = http.StatusServiceUnavailable
		}
	}
	c.write(w, code, body)
}

func (c *Checker) write(w http.ResponseWriter, code int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		c.logger.Error("failed to write health response", "error", err)
	}
}
