package config

import (
	"context"
	"log/slog"
	"os"
	"time"
)

// FileWatcher polls a file for changes. fsnotify misses the symlink swaps
// used by mounted ConfigMaps, so it stats on an interval instead.
type FileWatcher struct {
	path     string
	interval time.Duration
	lastMod  time.Time
	logger   *slog.Logger
}

func NewFileWatcher(path string, interval time.Duration, logger *slog.Logger) *FileWatcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &FileWatcher{
		path:     path,
		interval: interval,
		logger:   logger,
	}
}

// Watch blocks until ctx is done, calling onChange whenever the file's
// modification time advances.
func (w *FileWatcher) Watch(ctx context.Context, onChange func()) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod = info.ModTime()
	}

	w.logger.Info("config watcher started", "path", w.path, "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(w.path)
			if err != nil {
				continue // mid-swap
			}

			if info.ModTime().After(w.lastMod) {
				w.logger.Info("config file changed, reloading", "path", w.path)
				w.lastMod = info.ModTime()
				onChange()
			}
		}
	}
}

// Reload decodes path into a fresh T and pushes it into c. Errors are
// logged and the previous config stays active.
func Reload[T any](c *Container[T], path string, logger *slog.Logger) {
	next := *c.Get()
	if err := DecodeFile(path, &next); err != nil {
		logger.Error("config reload failed", "path", path, "error", err)
		return
	}
	if err := c.Update(next); err != nil {
		logger.Error("config reload rejected", "path", path, "error", err)
		return
	}
	logger.Info("config reloaded", "path", path)
}
