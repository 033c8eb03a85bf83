package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"
)

// SecurityHeaders adds basic security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// OTelMiddleware opens a server span per request, named by chi route
// pattern.
func OTelMiddleware(serviceName string, routes chi.Routes) func(http.Handler) http.Handler {
	return otelchi.Middleware(serviceName, otelchi.WithChiRoutes(routes))
}

// LoggerMiddleware logs one line per request. Caller and trace ids are
// added by the log handler from the request context.
func LoggerMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			level := slog.LevelInfo
			if ww.Status() >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(r.Context(), level, "http_request",
				"method", r.Method,
				"route", routePattern(r, ww.Status()),
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_ip", getRealIP(r),
			)
		})
	}
}

// routePattern never returns the raw path, which would blow up label and
// log cardinality.
func routePattern(r *http.Request, status int) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	if status == http.StatusNotFound {
		return "not_found"
	}
	return "unmatched_route"
}
