package feature

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// Provider answers for the flags it knows about; ok is false otherwise.
type Provider interface {
	Lookup(ctx context.Context, key string) (enabled, ok bool)
}

// Manager consults providers in order; the first one that knows a key wins.
type Manager struct {
	providers []Provider
	fallback  bool
}

// NewManager returns a Manager answering fallback for keys no provider knows.
func NewManager(fallback bool, providers ...Provider) *Manager {
	return &Manager{providers: providers, fallback: fallback}
}

func (m *Manager) IsEnabled(ctx context.Context, key string) bool {
	for _, p := range m.providers {
		if enabled, ok := p.Lookup(ctx, key); ok {
			return enabled
		}
	}
	return m.fallback
}

// EnvProvider reads FEATURE_<KEY>, with dots and dashes mapped to
// underscores: trigger.onOrderCreated -> FEATURE_TRIGGER_ONORDERCREATED.
type EnvProvider struct{}

func EnvKey(key string) string {
	r := strings.NewReplacer(".", "_", "-", "_")
	return "FEATURE_" + strings.ToUpper(r.Replace(key))
}

func (EnvProvider) Lookup(_ context.Context, key string) (bool, bool) {
	val, ok := os.LookupEnv(EnvKey(key))
	if !ok {
		return false, false
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(val))
	if err != nil {
		return false, false
	}
	return enabled, true
}

// DisabledSet turns off the keys returned by list. It is re-read on every
// lookup so a hot-reloaded list takes effect immediately.
type DisabledSet func() []string

func (d DisabledSet) Lookup(_ context.Context, key string) (bool, bool) {
	for _, k := range d() {
		if k == key {
			return false, true
		}
	}
	return false, false
}
