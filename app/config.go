package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/cache"
	"github.com/godamri/helix-triggers/config"
	"github.com/godamri/helix-triggers/crypto"
	"github.com/godamri/helix-triggers/database"
	"github.com/godamri/helix-triggers/docstore/mongo"
	"github.com/godamri/helix-triggers/log"
	"github.com/godamri/helix-triggers/messaging"
	"github.com/godamri/helix-triggers/server"
	"github.com/godamri/helix-triggers/server/middleware"
)

// EnvPrefix prefixes every environment override, e.g. TRIGGERS_REDIS_ADDR.
const EnvPrefix = "TRIGGERS"

const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"

	AuthModeHeader = "header"
	AuthModeJWT    = "jwt"
)

// Config is the full service configuration. Sections left empty disable
// the component they configure.
type Config struct {
	ServiceName string `envconfig:"SERVICE_NAME" yaml:"service_name" validate:"required"`

	Log        log.Config                 `envconfig:"LOG" yaml:"log"`
	Store      StoreConfig                `envconfig:"STORE" yaml:"store"`
	Mongo      mongo.Config               `envconfig:"MONGO" yaml:"mongo"`
	Database   database.Config            `envconfig:"DATABASE" yaml:"database"`
	Redis      cache.Config               `envconfig:"REDIS" yaml:"redis"`
	Kafka      KafkaConfig                `envconfig:"KAFKA" yaml:"kafka"`
	AMQP       messaging.AMQPConfig       `envconfig:"AMQP" yaml:"amqp"`
	Audit      audit.Config               `envconfig:"AUDIT" yaml:"audit"`
	Dispatcher DispatcherConfig           `envconfig:"DISPATCHER" yaml:"dispatcher"`
	Server     server.Config              `envconfig:"SERVER" yaml:"server"`
	RateLimit  middleware.RateLimitConfig `envconfig:"RATE_LIMIT" yaml:"rate_limit"`
	Auth       AuthConfig                 `envconfig:"AUTH" yaml:"auth"`

	// RuntimeFile holds the hot-reloadable Runtime section. Empty disables
	// reloading.
	RuntimeFile     string        `envconfig:"RUNTIME_FILE" yaml:"runtime_file"`
	RuntimeInterval time.Duration `envconfig:"RUNTIME_INTERVAL" yaml:"runtime_interval"`
}

type StoreConfig struct {
	Driver string `envconfig:"DRIVER" yaml:"driver" validate:"oneof=memory mongo postgres"`
	// Migrate creates the documents table on start (postgres only).
	Migrate bool `envconfig:"MIGRATE" yaml:"migrate"`
	// WatchChanges feeds the store's own change stream into the dispatcher
	// (memory and mongo).
	WatchChanges bool `envconfig:"WATCH_CHANGES" yaml:"watch_changes"`
}

type KafkaConfig struct {
	Consumer messaging.ConsumerConfig `envconfig:"CONSUMER" yaml:"consumer"`
	Producer messaging.ProducerConfig `envconfig:"PRODUCER" yaml:"producer"`
}

func (k KafkaConfig) ConsumerEnabled() bool {
	return len(k.Consumer.Brokers) > 0 && len(k.Consumer.Topics) > 0
}

func (k KafkaConfig) ProducerEnabled() bool { return len(k.Producer.Brokers) > 0 }

type DispatcherConfig struct {
	Concurrency int `envconfig:"CONCURRENCY" yaml:"concurrency" validate:"min=1"`
	// Dedupe skips redelivered events already handled. Backed by Redis
	// when configured, otherwise by process memory.
	Dedupe    bool          `envconfig:"DEDUPE" yaml:"dedupe"`
	DedupeTTL time.Duration `envconfig:"DEDUPE_TTL" yaml:"dedupe_ttl"`
}

type AuthConfig struct {
	Mode   string                         `envconfig:"MODE" yaml:"mode" validate:"oneof=header jwt"`
	Header middleware.TrustedHeaderConfig `envconfig:"HEADER" yaml:"header"`
	JWT    crypto.JWTConfig               `envconfig:"JWT" yaml:"jwt"`
}

// Runtime is the hot-reloadable slice of configuration.
type Runtime struct {
	LogLevel         string   `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`
	DisabledTriggers []string `yaml:"disabled_triggers"`
}

// Defaults returns a config that runs standalone: memory store watched by
// the dispatcher, HTTP on 8080, header auth trusting loopback.
func Defaults() Config {
	return Config{
		ServiceName: "helix-triggers",
		Log:         log.Config{Level: "info", Format: "json"},
		Store:       StoreConfig{Driver: DriverMemory, WatchChanges: true},
		Mongo:       mongo.Config{Database: "helix"},
		Database: database.Config{
			MaxOpenConns:    25,
			MaxIdleConns:    25,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Consumer: messaging.ConsumerConfig{
				GroupID:        "helix-triggers",
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
			},
			Producer: messaging.ProducerConfig{Topic: "triggers.outcomes"},
		},
		AMQP: messaging.AMQPConfig{Prefetch: 16},
		Audit: audit.Config{
			Collection: "adminLogs",
			BufferSize: 1024,
		},
		Dispatcher: DispatcherConfig{Concurrency: 16, DedupeTTL: 24 * time.Hour},
		Server: server.Config{
			EnableHTTP:       true,
			HTTPPort:         "8080",
			GRPCPort:         "9090",
			HTTPReadTimeout:  10 * time.Second,
			HTTPWriteTimeout: 30 * time.Second,
			ShutdownTimeout:  15 * time.Second,
			IdempotencyTTL:   24 * time.Hour,
		},
		RateLimit: middleware.RateLimitConfig{Burst: 10, Period: time.Second},
		Auth: AuthConfig{
			Mode:   AuthModeHeader,
			Header: middleware.TrustedHeaderConfig{TrustedProxies: []string{"127.0.0.1/32", "::1"}},
		},
		RuntimeInterval: 5 * time.Second,
	}
}

// Validate checks the cross-section rules struct tags cannot express.
func (c *Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverMongo:
		if c.Mongo.URI == "" || c.Mongo.Database == "" {
			errs = append(errs, errors.New("mongo driver requires mongo.uri and mongo.database"))
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("postgres driver requires database.dsn"))
		}
		if c.Store.WatchChanges {
			errs = append(errs, errors.New("postgres driver has no change stream; use kafka or amqp sources"))
		}
	}
	if c.Auth.Mode == AuthModeJWT && c.Auth.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt auth mode requires auth.jwt.secret"))
	}
	if c.Audit.KafkaTopic != "" && !c.Kafka.ProducerEnabled() {
		errs = append(errs, errors.New("audit.kafka_topic requires kafka.producer.brokers"))
	}
	if c.RateLimit.Enabled() && !c.Redis.Enabled() {
		errs = append(errs, errors.New("rate_limit requires redis.addr"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// LoadConfig reads defaults, then path (optional), then TRIGGERS_*
// environment variables.
func LoadConfig(path string) (*Config, error) {
	cfg, err := config.NewLoader[Config](EnvPrefix, path).WithDefaults(Defaults()).Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
