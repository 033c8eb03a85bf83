package messaging

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Source delivers change events until its context ends.
type Source interface {
	Name() string
	Start(ctx context.Context) error
	Close() error
}

// Manager runs every registered source and stops them together.
type Manager struct {
	logger  *slog.Logger
	sources []Source
}

func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("component", "source_manager")}
}

func (m *Manager) Register(s Source) {
	m.sources = append(m.sources, s)
}

func (m *Manager) Len() int { return len(m.sources) }

// Run blocks until ctx is cancelled or a source fails; a failing source
// cancels the others. Sources are closed before Run returns.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range m.sources {
		g.Go(func() error {
			m.logger.Info("source starting", "source", s.Name())
			err := s.Start(gctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				m.logger.Error("source stopped with error", "source", s.Name(), "error", err)
				return err
			}
			m.logger.Info("source stopped", "source", s.Name())
			return nil
		})
	}

	err := g.Wait()
	m.close()
	return err
}

func (m *Manager) close() {
	for _, s := range m.sources {
		if err := s.Close(); err != nil {
			m.logger.Error("failed to close source", "source", s.Name(), "error", err)
		}
	}
}
