package log

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"

	"github.com/godamri/helix-triggers/pkg/telemetry"
)

type Config struct {
	Level  string `envconfig:"LEVEL" yaml:"level"`   // debug, info, warn, error
	Format string `envconfig:"FORMAT" yaml:"format"` // json, console
}

// ParseLevel maps a config string onto a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds the process logger. The returned LevelVar lets the runtime
// config change verbosity without a restart.
func New(cfg Config) (*slog.Logger, *slog.LevelVar) {
	return NewWithWriter(cfg, os.Stdout)
}

func NewWithWriter(cfg Config, w io.Writer) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Level))

	var handler slog.Handler
	if cfg.Format == "console" {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(telemetry.NewOTelHandler(handler)), level
}
