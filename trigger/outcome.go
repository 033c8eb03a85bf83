package trigger

import (
	"context"
	"sync"
	"time"
)

// Status summarizes how a change event was processed.
type Status string

const (
	StatusSuccess Status = "success"
	// StatusPartialFailure means at least one step completed before the
	// handler failed, e.g. an order was cancelled but its audit append failed.
	StatusPartialFailure Status = "partial_failure"
	StatusFailed         Status = "failed"
	StatusSkipped        Status = "skipped"
	StatusDuplicate      Status = "duplicate"
	StatusUnmatched      Status = "unmatched"
)

// Outcome is the typed result of one dispatch. It never reaches an external
// caller; it exists for logs, metrics and the optional OutcomeSink so that
// audit gaps are detectable without retrying.
type Outcome struct {
	Trigger        string        `json:"trigger,omitempty"`
	EventID        string        `json:"eventId,omitempty"`
	Collection     string        `json:"collection"`
	DocumentID     string        `json:"documentId"`
	Operation      Operation     `json:"operation"`
	Status         Status        `json:"status"`
	CompletedSteps []string      `json:"completedSteps,omitempty"`
	AuditGap       bool          `json:"auditGap,omitempty"`
	Error          string        `json:"error,omitempty"`
	Duration       time.Duration `json:"durationNs"`

	Err error `json:"-"`
}

// OutcomeSink receives outcomes that need attention (failed, partial_failure).
type OutcomeSink interface {
	Publish(ctx context.Context, o Outcome) error
}

type stepsKey struct{}

type stepLog struct {
	mu    sync.Mutex
	steps []string
}

func withSteps(ctx context.Context) (context.Context, *stepLog) {
	log := &stepLog{}
	return context.WithValue(ctx, stepsKey{}, log), log
}

func (l *stepLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.steps))
	copy(out, l.steps)
	return out
}

// Step records that a handler completed a side effect. Outside a dispatch
// it is a no-op.
func Step(ctx context.Context, name string) {
	log, ok := ctx.Value(stepsKey{}).(*stepLog)
	if !ok {
		return
	}
	log.mu.Lock()
	log.steps = append(log.steps, name)
	log.mu.Unlock()
}
