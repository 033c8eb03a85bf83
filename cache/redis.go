package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	Addr     string `envconfig:"ADDR" yaml:"addr"`
	Password string `envconfig:"PASSWORD" yaml:"password"`
	DB       int    `envconfig:"DB" yaml:"db"`
}

func (c Config) Enabled() bool { return c.Addr != "" }

// NewRedis connects and pings, failing fast when Redis is unreachable.
func NewRedis(ctx context.Context, cfg Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	rdb.AddHook(newTracingHook(otel.GetTracerProvider()))

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: connect to redis at %s: %w", cfg.Addr, err)
	}

	return rdb, nil
}

// tracingHook opens a client span per command when the caller is traced.
// Keys can carry caller ids, so only command names are recorded.
type tracingHook struct {
	tracer trace.Tracer
}

func newTracingHook(tp trace.TracerProvider) *tracingHook {
	return &tracingHook{tracer: tp.Tracer("helix-triggers/cache/redis")}
}

func (h *tracingHook) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *tracingHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		return h.traced(ctx, "redis "+cmd.Name(), func(ctx context.Context) error {
			return next(ctx, cmd)
		}, attribute.String("db.operation", cmd.Name()))
	}
}

func (h *tracingHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		return h.traced(ctx, "redis pipeline", func(ctx context.Context) error {
			return next(ctx, cmds)
		}, attribute.String("db.operation", "pipeline"), attribute.Int("db.redis.pipeline_length", len(cmds)))
	}
}

func (h *tracingHook) traced(ctx context.Context, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	if !trace.SpanFromContext(ctx).IsRecording() {
		return fn(ctx)
	}
	ctx, span := h.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(append(attrs, attribute.String("db.system", "redis"))...),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil && !errors.Is(err, redis.Nil) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
