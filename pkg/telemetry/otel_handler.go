package telemetry

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/godamri/helix-triggers/pkg/contextx"
)

// OTelHandler wraps a slog.Handler. It stamps every record with the active
// trace and the trigger scope found in the context, and mirrors warnings
// and errors onto the active span.
type OTelHandler struct {
	slog.Handler
}

func NewOTelHandler(h slog.Handler) *OTelHandler {
	return &OTelHandler{Handler: h}
}

func (h *OTelHandler) Handle(ctx context.Context, r slog.Record) error {
	addScope(ctx, &r)

	span := trace.SpanFromContext(ctx)
	if span.IsRecording() {
		sc := span.SpanContext()
		if sc.HasTraceID() {
			r.AddAttrs(slog.String("trace_id", sc.TraceID().String()))
		}
		if sc.HasSpanID() {
			r.AddAttrs(slog.String("span_id", sc.SpanID().String()))
		}

		if r.Level >= slog.LevelWarn {
			h.enrichSpan(span, r)
		}
	} else if tid := contextx.GetTraceID(ctx); tid != "untriaged" {
		r.AddAttrs(slog.String("trace_id", tid))
	}

	return h.Handler.Handle(ctx, r)
}

func addScope(ctx context.Context, r *slog.Record) {
	if ctx == nil {
		return
	}
	if v := contextx.GetTrigger(ctx); v != "" {
		r.AddAttrs(slog.String("trigger", v))
	}
	if v := contextx.GetEventID(ctx); v != "" {
		r.AddAttrs(slog.String("event_id", v))
	}
	if v := contextx.GetRequestID(ctx); v != "" {
		r.AddAttrs(slog.String("request_id", v))
	}
	if v := contextx.GetAuthPrincipalID(ctx); v != "" {
		r.AddAttrs(slog.String("caller_id", v))
	}
}

func (h *OTelHandler) enrichSpan(span trace.Span, r slog.Record) {
	otelAttrs := make([]attribute.KeyValue, 0, r.NumAttrs())

	var errFound error

	r.Attrs(func(a slog.Attr) bool {
		switch a.Value.Kind() {
		case slog.KindString:
			otelAttrs = append(otelAttrs, attribute.String(a.Key, a.Value.String()))
		case slog.KindInt64:
			otelAttrs = append(otelAttrs, attribute.Int64(a.Key, a.Value.Int64()))
		case slog.KindFloat64:
			otelAttrs = append(otelAttrs, attribute.Float64(a.Key, a.Value.Float64()))
		case slog.KindBool:
			otelAttrs = append(otelAttrs, attribute.Bool(a.Key, a.Value.Bool()))
		default:
			otelAttrs = append(otelAttrs, attribute.String(a.Key, a.Value.String()))
		}

		if a.Key == "error" {
			if e, ok := a.Value.Any().(error); ok {
				errFound = e
			} else if a.Value.Kind() == slog.KindString {
				errFound = errors.New(a.Value.String())
			}
		}
		return true
	})

	if errFound == nil && r.Level >= slog.LevelError {
		errFound = errors.New(r.Message)
	}

	if r.Level >= slog.LevelError {
		span.RecordError(errFound, trace.WithAttributes(otelAttrs...))
		span.SetStatus(codes.Error, r.Message)
	} else if r.Level == slog.LevelWarn {
		span.AddEvent("log_warning", trace.WithAttributes(
			append(otelAttrs, attribute.String("message", r.Message))...,
		))
	}
}

func (h *OTelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *OTelHandler) WithGroup(name string) slog.Handler {
	return &OTelHandler{Handler: h.Handler.WithGroup(name)}
}
