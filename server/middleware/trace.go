package middleware

import (
	"context"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/godamri/helix-triggers/pkg/contextx"
)

const (
	TraceHeader   = "X-Trace-Id"
	RequestHeader = "X-Request-Id"
)

// resolveTraceID prefers the active span, then the caller's header, then a
// fresh id.
func resolveTraceID(ctx context.Context, header string) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	if header != "" {
		return header
	}
	uid := uuid.New()
	return hex.EncodeToString(uid[:])
}

func TraceIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		traceID := resolveTraceID(ctx, r.Header.Get(TraceHeader))

		reqID := r.Header.Get(RequestHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}

		w.Header().Set(TraceHeader, traceID)
		w.Header().Set(RequestHeader, reqID)

		ctx = contextx.WithTraceID(ctx, traceID)
		ctx = contextx.WithRequestID(ctx, reqID)
		ctx = contextx.WithEntryPoint(ctx, "http")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GRPCTraceInterceptor is the unary counterpart of TraceIDMiddleware,
// reading the ids from lowercase metadata keys.
func GRPCTraceInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	var traceHdr, reqID string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get("x-trace-id"); len(v) > 0 {
			traceHdr = v[0]
		}
		if v := md.Get("x-request-id"); len(v) > 0 {
			reqID = v[0]
		}
	}
	if reqID == "" {
		reqID = uuid.NewString()
	}

	ctx = contextx.WithTraceID(ctx, resolveTraceID(ctx, traceHdr))
	ctx = contextx.WithRequestID(ctx, reqID)
	ctx = contextx.WithEntryPoint(ctx, "grpc")
	return handler(ctx, req)
}
