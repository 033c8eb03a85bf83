package log_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/godamri/helix-triggers/log"
	"github.com/godamri/helix-triggers/pkg/contextx"
)

func TestNew_LevelIsAdjustable(t *testing.T) {
	var buf bytes.Buffer
	logger, level := log.NewWithWriter(log.Config{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	level.Set(slog.LevelDebug)
	logger.DebugContext(contextx.WithTrigger(context.Background(), "secureBlockUser"), "visible")
	if !strings.Contains(buf.String(), `"trigger":"secureBlockUser"`) {
		t.Errorf("trigger scope missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range cases {
		if got := log.ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
