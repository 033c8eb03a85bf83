package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// StreamSink writes entries as JSON lines from a single background worker.
type StreamSink struct {
	entries   chan Entry
	writer    io.Writer
	wg        sync.WaitGroup
	logger    *slog.Logger
	closeOnce sync.Once

	blockOnFull bool

	dropCount   uint64
	lastLogTime time.Time
	dropMu      sync.Mutex
}

func NewStreamSink(w io.Writer, bufferSize int, blockOnFull bool, logger *slog.Logger) *StreamSink {
	if w == nil {
		w = os.Stdout
	}
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &StreamSink{
		entries:     make(chan Entry, bufferSize),
		writer:      w,
		logger:      logger,
		blockOnFull: blockOnFull,
		lastLogTime: time.Now(),
	}

	s.wg.Add(1)
	go s.worker()

	return s
}

func (s *StreamSink) Log(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	if s.blockOnFull {
		select {
		case s.entries <- e:
			return nil
		case <-ctx.Done():
			s.handleDrop(e.Action + "_ctx_cancelled")
			return ctx.Err()
		}
	}

	select {
	case s.entries <- e:
	default:
		s.handleDrop(e.Action)
	}
	return nil
}

// Dropped returns the drops not yet reported in a warning.
func (s *StreamSink) Dropped() uint64 {
	return atomic.LoadUint64(&s.dropCount)
}

func (s *StreamSink) handleDrop(action string) {
	currentDrops := atomic.AddUint64(&s.dropCount, 1)

	s.dropMu.Lock()
	defer s.dropMu.Unlock()

	if time.Since(s.lastLogTime) >= 5*time.Second {
		s.logger.Warn("audit stream buffer full, mirror copies dropped",
			"total_dropped", currentDrops,
			"sample_action", action,
		)
		atomic.StoreUint64(&s.dropCount, 0)
		s.lastLogTime = time.Now()
	}
}

func (s *StreamSink) worker() {
	defer s.wg.Done()
	encoder := json.NewEncoder(s.writer)

	for e := range s.entries {
		if err := encoder.Encode(e); err != nil {
			s.logger.Error("failed to write audit line", "error", err)
		}
	}
}

// Close drains queued entries and stops the worker.
func (s *StreamSink) Close() error {
	s.closeOnce.Do(func() {
		close(s.entries)
	})
	s.wg.Wait()
	return nil
}
