package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triggers_http_requests_total",
			Help: "HTTP requests processed, labeled by status, method, and route pattern.",
		},
		[]string{"status", "method", "route"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "triggers_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status", "method", "route"},
	)

	grpcRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triggers_grpc_requests_total",
			Help: "Unary gRPC calls processed, labeled by full method and status code.",
		},
		[]string{"method", "code"},
	)
)

// MetricsMiddleware records RED metrics for every request.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		code := strconv.Itoa(ww.Status())
		route := routePattern(r, ww.Status())
		httpRequestsTotal.WithLabelValues(code, r.Method, route).Inc()
		httpRequestDuration.WithLabelValues(code, r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func GRPCMetricsInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	resp, err := handler(ctx, req)
	grpcRequestsTotal.WithLabelValues(info.FullMethod, status.Code(err).String()).Inc()
	return resp, err
}
