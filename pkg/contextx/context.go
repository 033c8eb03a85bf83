package contextx

import (
	"context"
)

type contextKey string

const (
	AuthPrincipalIDKey contextKey = "helix.auth_principal_id" // resolved caller (already authenticated upstream)

	TraceIDKey    contextKey = "helix.trace_id"
	RequestIDKey  contextKey = "helix.request_id"
	EntryPointKey contextKey = "helix.entry_point" // http | grpc | change_event | callable

	// Trigger execution scope.
	EventIDKey         contextKey = "helix.event_id"
	TriggerKey         contextKey = "helix.trigger"
	IdempotencyKey     contextKey = "helix.idempotency_key"
	EventSourceKey     contextKey = "helix.event_source"
	DispatchAttemptKey contextKey = "helix.dispatch_attempt"
)

func GetTraceID(ctx context.Context) string { return getString(ctx, TraceIDKey, "untriaged") }
func WithTraceID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TraceIDKey, v)
}

func GetRequestID(ctx context.Context) string { return getString(ctx, RequestIDKey, "") }
func WithRequestID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, RequestIDKey, v)
}

func GetEntryPoint(ctx context.Context) string { return getString(ctx, EntryPointKey, "unknown") }
func WithEntryPoint(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, EntryPointKey, v)
}

func GetAuthPrincipalID(ctx context.Context) string { return getString(ctx, AuthPrincipalIDKey, "") }
func WithAuthPrincipalID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, AuthPrincipalIDKey, v)
}

func GetEventID(ctx context.Context) string { return getString(ctx, EventIDKey, "") }
func WithEventID(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, EventIDKey, v)
}

func GetTrigger(ctx context.Context) string { return getString(ctx, TriggerKey, "") }
func WithTrigger(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, TriggerKey, v)
}

func GetEventSource(ctx context.Context) string { return getString(ctx, EventSourceKey, "unknown") }
func WithEventSource(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, EventSourceKey, v)
}

// GetIdempotencyKey returns the key scoping side effects of the current unit
// of work. Audit appends derive their document id from it.
func GetIdempotencyKey(ctx context.Context) string { return getString(ctx, IdempotencyKey, "") }
func WithIdempotencyKey(ctx context.Context, v string) context.Context {
	return context.WithValue(ctx, IdempotencyKey, v)
}

func GetDispatchAttempt(ctx context.Context) int { return getInt(ctx, DispatchAttemptKey, 0) }
func WithDispatchAttempt(ctx context.Context, v int) context.Context {
	return context.WithValue(ctx, DispatchAttemptKey, v)
}

func getString(ctx context.Context, key contextKey, fallback string) string {
	if ctx == nil {
		return fallback
	}
	if val, ok := ctx.Value(key).(string); ok {
		return val
	}
	return fallback
}

func getInt(ctx context.Context, key contextKey, fallback int) int {
	if ctx == nil {
		return fallback
	}
	if val, ok := ctx.Value(key).(int); ok {
		return val
	}
	return fallback
}
