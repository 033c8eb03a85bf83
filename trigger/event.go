package trigger

import (
	"fmt"
	"time"
)

// Operation is the kind of document change that produced an event.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
)

func ParseOperation(raw string) (Operation, error) {
	switch Operation(raw) {
	case OpCreate, OpUpdate:
		return Operation(raw), nil
	}
	return "", fmt.Errorf("trigger: unknown operation %q", raw)
}

// ChangeEvent notifies that a document was created or updated.
// Delivery is at-least-once; ID is stable across redeliveries of the same
// change when the source can provide one.
type ChangeEvent struct {
	ID         string         `json:"id"`
	Collection string         `json:"collection"`
	DocumentID string         `json:"documentId"`
	Operation  Operation      `json:"operation"`
	Before     map[string]any `json:"before,omitempty"`
	After      map[string]any `json:"after"`
	Time       time.Time      `json:"timestamp"`
	Source     string         `json:"source,omitempty"`
}

// Route identifies the handler slot for a change event.
type Route struct {
	Collection string
	Operation  Operation
}

func (r Route) String() string {
	return r.Collection + "/" + string(r.Operation)
}

// InvocationRequest is a synchronous call from an already-authenticated
// caller. The caller is waiting for a result or a Failure.
type InvocationRequest struct {
	ID             string         `json:"id"`
	CallerID       string         `json:"callerId"`
	Name           string         `json:"name"`
	Payload        map[string]any `json:"data"`
	IdempotencyKey string         `json:"idempotencyKey,omitempty"`
}
