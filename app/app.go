package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type component struct {
	name  string
	start func(ctx context.Context) error
}

type closer struct {
	name string
	fn   func() error
}

// Runner owns the process lifecycle: it starts every component, waits for
// SIGINT/SIGTERM or the first component failure, then runs the shutdown
// hooks in reverse registration order.
type Runner struct {
	Logger     *slog.Logger
	components []component
	closers    []closer
}

func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{Logger: logger}
}

// Go registers a component. start must block until ctx is done; returning
// an error before that stops the whole process.
func (r *Runner) Go(name string, start func(ctx context.Context) error) {
	r.components = append(r.components, component{name: name, start: start})
}

// OnShutdown registers a hook run after every component has returned.
func (r *Runner) OnShutdown(name string, fn func() error) {
	r.closers = append(r.closers, closer{name: name, fn: fn})
}

// Run blocks until a signal arrives, ctx ends, or a component fails.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	r.Logger.Info("service starting", "components", len(r.components))

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range r.components {
		g.Go(func() error {
			err := c.start(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				r.Logger.Error("component failed", "component", c.name, "error", err)
				return err
			}
			return nil
		})
	}

	err := g.Wait()
	r.Logger.Info("shutdown signal received, cleaning up")

	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if cerr := c.fn(); cerr != nil {
			r.Logger.Error("shutdown hook failed", "hook", c.name, "error", cerr)
		}
	}

	if err != nil {
		return err
	}
	r.Logger.Info("service shutdown complete")
	return nil
}
