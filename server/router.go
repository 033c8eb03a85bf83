package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/godamri/helix-triggers/http/response"
	"github.com/godamri/helix-triggers/server/health"
	"github.com/godamri/helix-triggers/server/middleware"
)

type RouterDeps struct {
	ServiceName string
	Logger      *slog.Logger
	Invoker     Invoker
	Auth        *middleware.AuthMiddleware
	Health      *health.Checker

	// Redis backs rate limiting and idempotent replay. Nil disables both.
	Redis          redis.UniversalClient
	RateLimit      middleware.RateLimitConfig
	IdempotencyTTL time.Duration
}

// NewRouter mounts the callable endpoint, health probes, and /metrics.
func NewRouter(d RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.OTelMiddleware(d.ServiceName, r))
	r.Use(middleware.TraceIDMiddleware)
	r.Use(middleware.PanicRecovery(d.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MetricsMiddleware)
	r.Use(middleware.LoggerMiddleware(d.Logger))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		response.ErrorProblem(w, req, response.CodeNotFound, "Not Found", "no route for "+req.Method+" "+req.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		(&response.Problem{
			Type:     "about:blank",
			Title:    "Method Not Allowed",
			Status:   http.StatusMethodNotAllowed,
			Instance: req.URL.Path,
		}).Render(w)
	})

	if d.Health != nil {
		d.Health.RegisterRoutes(r)
	}
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/callable", func(r chi.Router) {
		if d.Auth != nil {
			r.Use(d.Auth.HTTPMiddleware)
		}
		if d.Redis != nil && d.RateLimit.Enabled() {
			r.Use(middleware.RateLimitMiddleware(d.Redis, d.RateLimit))
		}
		if d.Redis != nil && d.IdempotencyTTL > 0 {
			r.Use(middleware.IdempotencyMiddleware(middleware.IdempotencyConfig{
				Expiry:      d.IdempotencyTTL,
				RedisClient: d.Redis,
				Logger:      d.Logger,
			}))
		}
		r.Method(http.MethodPost, "/{name}", NewCallableHandler(d.Invoker))
	})

	return r
}
