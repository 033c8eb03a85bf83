// Command triggerd runs the trigger dispatcher: it consumes document change
// events from the configured sources and serves callables over HTTP and
// gRPC.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"

	"github.com/godamri/helix-triggers/app"
	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/cache"
	"github.com/godamri/helix-triggers/config"
	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/database"
	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/docstore/memory"
	"github.com/godamri/helix-triggers/docstore/mongo"
	"github.com/godamri/helix-triggers/docstore/postgres"
	"github.com/godamri/helix-triggers/feature"
	"github.com/godamri/helix-triggers/handlers"
	applog "github.com/godamri/helix-triggers/log"
	"github.com/godamri/helix-triggers/messaging"
	"github.com/godamri/helix-triggers/server"
	"github.com/godamri/helix-triggers/server/health"
	"github.com/godamri/helix-triggers/server/middleware"
	"github.com/godamri/helix-triggers/trigger"
)

func main() {
	defaultPath := os.Getenv("TRIGGERS_CONFIG")
	if defaultPath == "" {
		defaultPath = "config.yaml"
	}
	configPath := flag.String("config", defaultPath, "path to the YAML config file (optional)")
	flag.Parse()

	cfg, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, level := applog.New(cfg.Log)
	slog.SetDefault(logger)

	if err := run(context.Background(), cfg, logger, level); err != nil {
		logger.Error("service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger, level *slog.LevelVar) error {
	runner := app.NewRunner(logger)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	runner.OnShutdown("tracer", func() error { return tp.Shutdown(context.Background()) })

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		var err error
		if rdb, err = cache.NewRedis(ctx, cfg.Redis); err != nil {
			return err
		}
		runner.OnShutdown("redis", rdb.Close)
	}

	st, err := openStore(ctx, cfg, logger, runner)
	if err != nil {
		return err
	}

	auditLog, err := buildAudit(cfg, st.store, logger, runner)
	if err != nil {
		return err
	}

	runtime := config.NewContainer(app.Runtime{LogLevel: cfg.Log.Level})
	runtime.OnUpdate(func(rt app.Runtime) {
		if rt.LogLevel != "" {
			level.Set(applog.ParseLevel(rt.LogLevel))
		}
	})
	if cfg.RuntimeFile != "" {
		config.Reload(runtime, cfg.RuntimeFile, logger)
		watcher := config.NewFileWatcher(cfg.RuntimeFile, cfg.RuntimeInterval, logger)
		runner.Go("runtime-watcher", func(ctx context.Context) error {
			watcher.Watch(ctx, func() { config.Reload(runtime, cfg.RuntimeFile, logger) })
			return nil
		})
	}

	flags := feature.NewManager(true, feature.EnvProvider{}, feature.DisabledSet(func() []string {
		names := runtime.Get().DisabledTriggers
		keys := make([]string, len(names))
		for i, n := range names {
			keys[i] = trigger.GateKey(n)
		}
		return keys
	}))

	opts := []trigger.Option{
		trigger.WithLogger(logger),
		trigger.WithConcurrency(cfg.Dispatcher.Concurrency),
		trigger.WithGate(flags),
		trigger.WithMiddleware(trigger.Logging(logger), trigger.Tracing(tp), trigger.Metrics()),
	}
	if cfg.Dispatcher.Dedupe {
		if rdb != nil {
			opts = append(opts, trigger.WithDeduper(cache.NewRedisDeduper(rdb, cfg.Dispatcher.DedupeTTL)))
		} else {
			opts = append(opts, trigger.WithDeduper(cache.NewMemoryDeduper(cfg.Dispatcher.DedupeTTL)))
		}
	}
	if cfg.Kafka.ProducerEnabled() && cfg.Kafka.Producer.Topic != "" {
		producer, err := messaging.NewProducer(cfg.Kafka.Producer, logger)
		if err != nil {
			return err
		}
		runner.OnShutdown("outcome-producer", producer.Close)
		opts = append(opts, trigger.WithOutcomeSink(messaging.NewOutcomePublisher(producer, cfg.Kafka.Producer.Topic)))
	}

	d := trigger.New(opts...)
	if err := handlers.Register(d, handlers.Deps{Store: st.store, Audit: auditLog, Logger: logger}); err != nil {
		return err
	}
	// Hooks run in reverse: in-flight handlers finish before sinks and
	// stores registered above are closed.
	runner.OnShutdown("dispatcher", func() error { d.Wait(); return nil })
	logger.Info("triggers registered", "triggers", d.Triggers())

	if err := registerSources(cfg, st, d, logger, runner); err != nil {
		return err
	}

	srv, err := buildServer(cfg, st.store, rdb, d, logger)
	if err != nil {
		return err
	}
	runner.Go(srv.Name(), srv.Start)

	return runner.Run(ctx)
}

// storeHandle is the opened store plus its native change feed, if any.
type storeHandle struct {
	store  docstore.Store
	memory *memory.Store
	stream func(sink trigger.Sink) messaging.Source
}

func openStore(ctx context.Context, cfg *app.Config, logger *slog.Logger, runner *app.Runner) (storeHandle, error) {
	switch cfg.Store.Driver {
	case app.DriverMongo:
		client, err := mongo.Connect(ctx, cfg.Mongo)
		if err != nil {
			return storeHandle{}, err
		}
		runner.OnShutdown("mongo", func() error { return client.Disconnect(context.Background()) })
		db := client.Database(cfg.Mongo.Database)
		return storeHandle{
			store: mongo.New(db, logger),
			stream: func(sink trigger.Sink) messaging.Source {
				return mongo.NewChangeStream(db, sink, logger)
			},
		}, nil

	case app.DriverPostgres:
		db, err := database.NewPostgres(ctx, cfg.Database, cfg.ServiceName)
		if err != nil {
			return storeHandle{}, err
		}
		runner.OnShutdown("postgres", db.Close)
		pg := postgres.New(db)
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return storeHandle{}, err
			}
		}
		return storeHandle{store: pg}, nil

	default:
		logger.Warn("using the in-memory document store; state is lost on restart")
		mem := memory.New()
		return storeHandle{store: mem, memory: mem}, nil
	}
}

func buildAudit(cfg *app.Config, store docstore.Store, logger *slog.Logger, runner *app.Runner) (*audit.StoreLogger, error) {
	var sinks []audit.Sink
	if cfg.Audit.StreamEnabled {
		s := audit.NewStreamSink(os.Stdout, cfg.Audit.BufferSize, cfg.Audit.BlockOnFull, logger)
		runner.OnShutdown("audit-stream", s.Close)
		sinks = append(sinks, s)
	}
	if cfg.Audit.KafkaTopic != "" {
		k, err := audit.NewKafkaSink(cfg.Kafka.Producer.Brokers, cfg.Audit.KafkaTopic, logger)
		if err != nil {
			return nil, err
		}
		runner.OnShutdown("audit-kafka", k.Close)
		sinks = append(sinks, k)
	}
	return audit.NewStoreLogger(store, cfg.Audit.Collection, logger, sinks...), nil
}

func registerSources(cfg *app.Config, st storeHandle, d *trigger.Dispatcher, logger *slog.Logger, runner *app.Runner) error {
	if st.memory != nil && cfg.Store.WatchChanges {
		events, cancel := st.memory.Watch()
		runner.Go("memory-watch", func(ctx context.Context) error {
			defer cancel()
			return d.Run(ctx, events)
		})
	}

	mgr := messaging.NewManager(logger)
	if st.stream != nil && cfg.Store.WatchChanges {
		mgr.Register(st.stream(d))
	}
	if cfg.Kafka.ConsumerEnabled() {
		c, err := messaging.NewConsumer(cfg.Kafka.Consumer, d, logger)
		if err != nil {
			return err
		}
		mgr.Register(c)
	}
	if cfg.AMQP.URL != "" {
		c, err := messaging.NewAMQPConsumer(cfg.AMQP, d, logger)
		if err != nil {
			return err
		}
		mgr.Register(c)
	}
	if mgr.Len() > 0 {
		runner.Go("sources", mgr.Run)
	}
	return nil
}

func buildServer(cfg *app.Config, store docstore.Store, rdb *redis.Client, d *trigger.Dispatcher, logger *slog.Logger) (*server.Server, error) {
	var strategy middleware.AuthStrategy
	switch cfg.Auth.Mode {
	case app.AuthModeJWT:
		v, err := crypto.NewHMACVerifier(cfg.Auth.JWT)
		if err != nil {
			return nil, err
		}
		strategy = middleware.NewJWTStrategy(v, logger)
	default:
		s, err := middleware.NewTrustedHeaderStrategy(cfg.Auth.Header, logger)
		if err != nil {
			return nil, err
		}
		strategy = s
	}
	auth := middleware.NewAuthMiddleware(strategy)

	checker := health.NewChecker(0, logger)
	if p, ok := store.(docstore.Pinger); ok {
		checker.Add("store", p)
	}

	var shared redis.UniversalClient
	if rdb != nil {
		shared = rdb
		checker.Add("redis", health.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }))
	}

	router := server.NewRouter(server.RouterDeps{
		ServiceName:    cfg.ServiceName,
		Logger:         logger,
		Invoker:        d,
		Auth:           auth,
		Health:         checker,
		Redis:          shared,
		RateLimit:      cfg.RateLimit,
		IdempotencyTTL: cfg.Server.IdempotencyTTL,
	})

	var grpcSrv *grpc.Server
	if cfg.Server.EnableGRPC {
		grpcSrv = server.NewGRPCServer(server.GRPCDeps{
			Logger:    logger,
			Invoker:   d,
			Auth:      auth,
			Redis:     shared,
			RateLimit: cfg.RateLimit,
		})
	}
	return server.New(cfg.Server, logger, router, grpcSrv), nil
}
