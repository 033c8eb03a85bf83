package trigger

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Kind distinguishes background change events from synchronous callables.
type Kind string

const (
	KindEvent    Kind = "change_event"
	KindCallable Kind = "callable"
)

// Call describes the handler invocation a middleware wraps.
type Call struct {
	Trigger string
	Kind    Kind
	EventID string
	Route   Route
}

// Next continues the handler chain.
type Next func(ctx context.Context) error

// Middleware wraps a handler call with cross-cutting logic. It must call
// next unless it short-circuits with an error.
type Middleware func(ctx context.Context, call Call, next Next) error

// Chain composes middleware; the first one is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, call Call, next Next) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, call, prev)
			}
		}
		return h(ctx)
	}
}

// Logging logs handler start and completion at debug level. Failures are
// always logged by the dispatcher itself. Trigger and event ids come from
// the context-aware log handler.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, call Call, next Next) error {
		logger.DebugContext(ctx, "trigger started", slog.String("kind", string(call.Kind)))

		start := time.Now()
		err := next(ctx)

		logger.DebugContext(ctx, "trigger finished",
			slog.Duration("elapsed", time.Since(start)),
			slog.Bool("ok", err == nil),
		)
		return err
	}
}

// Tracing opens one span per handler call.
func Tracing(tp trace.TracerProvider) Middleware {
	tracer := tp.Tracer("helix-triggers/trigger")
	return func(ctx context.Context, call Call, next Next) error {
		attrs := []attribute.KeyValue{
			attribute.String("trigger.name", call.Trigger),
			attribute.String("trigger.kind", string(call.Kind)),
		}
		if call.EventID != "" {
			attrs = append(attrs, attribute.String("trigger.event_id", call.EventID))
		}
		if call.Route.Collection != "" {
			attrs = append(attrs,
				attribute.String("db.collection.name", call.Route.Collection),
				attribute.String("trigger.operation", string(call.Route.Operation)),
			)
		}

		spanKind := trace.SpanKindConsumer
		if call.Kind == KindCallable {
			spanKind = trace.SpanKindServer
		}

		ctx, span := tracer.Start(ctx, "trigger "+call.Trigger,
			trace.WithSpanKind(spanKind),
			trace.WithAttributes(attrs...),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return err
	}
}

// Metrics records handler latency.
func Metrics() Middleware {
	return func(ctx context.Context, call Call, next Next) error {
		start := time.Now()
		err := next(ctx)

		result := "ok"
		if err != nil {
			result = "error"
		}
		handlerDuration.WithLabelValues(call.Trigger, string(call.Kind), result).Observe(time.Since(start).Seconds())
		return err
	}
}
