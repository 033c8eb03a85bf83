package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godamri/helix-triggers/docstore"
)

// Type classifies an entry; consumers need it to interpret TargetID.
type Type string

const (
	TypeSystemAction   Type = "SYSTEM_ACTION"
	TypeAdminAction    Type = "ADMIN_ACTION"
	TypeSecurityAction Type = "SECURITY_ACTION"
)

const (
	ActionNewOrderInitialized = "NEW_ORDER_INITIALIZED"
	ActionRestaurantUpdate    = "RESTAURANT_UPDATE"
	ActionUserBlocked         = "USER_BLOCKED"
)

var (
	ErrInvalidEntry = errors.New("audit: invalid entry")
	// ErrAppendFailed wraps every store failure during an append. An error
	// matching it after a mutation means the trail has a gap.
	ErrAppendFailed = errors.New("audit: append failed")
)

// Diff captures a document before and after an update, verbatim.
type Diff struct {
	Before map[string]any `json:"before"`
	After  map[string]any `json:"after"`
}

// Entry is an immutable audit record. The payload fields used depend on Type:
// Details for SYSTEM_ACTION, Diff for ADMIN_ACTION, AdminID for SECURITY_ACTION.
type Entry struct {
	ID        string    `json:"id,omitempty"`
	Type      Type      `json:"type"`
	Action    string    `json:"action"`
	TargetID  string    `json:"targetId"`
	Timestamp time.Time `json:"timestamp"`

	Details string `json:"details,omitempty"`
	Diff    *Diff  `json:"diff,omitempty"`
	AdminID string `json:"adminId,omitempty"`

	// IdempotencyKey, when set, becomes the stored document id so a retried
	// append lands on the same record.
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
	TraceID        string `json:"traceId,omitempty"`
}

func SystemAction(action, targetID, details string) Entry {
	return Entry{Type: TypeSystemAction, Action: action, TargetID: targetID, Details: details}
}

func AdminAction(action, targetID string, before, after map[string]any) Entry {
	return Entry{Type: TypeAdminAction, Action: action, TargetID: targetID, Diff: &Diff{Before: before, After: after}}
}

func SecurityAction(action, targetID, adminID string) Entry {
	return Entry{Type: TypeSecurityAction, Action: action, TargetID: targetID, AdminID: adminID}
}

func (e Entry) Validate() error {
	if e.Action == "" || e.TargetID == "" {
		return fmt.Errorf("%w: action and targetId are required", ErrInvalidEntry)
	}
	switch e.Type {
	case TypeSystemAction:
		if e.Details == "" {
			return fmt.Errorf("%w: %s requires details", ErrInvalidEntry, e.Type)
		}
	case TypeAdminAction:
		if e.Diff == nil {
			return fmt.Errorf("%w: %s requires diff", ErrInvalidEntry, e.Type)
		}
	case TypeSecurityAction:
		if e.AdminID == "" {
			return fmt.Errorf("%w: %s requires adminId", ErrInvalidEntry, e.Type)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEntry, e.Type)
	}
	return nil
}

// Fields renders the stored wire shape. The timestamp is left to the store.
func (e Entry) Fields() docstore.Fields {
	f := docstore.Fields{
		"type":      string(e.Type),
		"action":    e.Action,
		"targetId":  e.TargetID,
		"timestamp": docstore.ServerTimestamp,
	}
	switch e.Type {
	case TypeSystemAction:
		f["details"] = e.Details
	case TypeAdminAction:
		f["diff"] = map[string]any{
			"before": map[string]any(docstore.Clone(e.Diff.Before)),
			"after":  map[string]any(docstore.Clone(e.Diff.After)),
		}
	case TypeSecurityAction:
		f["adminId"] = e.AdminID
	}
	if e.IdempotencyKey != "" {
		f["idempotencyKey"] = e.IdempotencyKey
	}
	if e.TraceID != "" {
		f["traceId"] = e.TraceID
	}
	return f
}

// Logger appends entries to the audit trail and returns the stored id.
type Logger interface {
	Append(ctx context.Context, e Entry) (string, error)
}

// Sink receives a copy of every appended entry (stream, Kafka).
// Sinks are best effort and never affect the outcome of an append.
type Sink interface {
	Log(ctx context.Context, e Entry) error
}
