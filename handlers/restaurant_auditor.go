package handlers

import (
	"context"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/trigger"
)

// RestaurantAuditor records every restaurant update with its full before and
// after snapshots. It does not check who made the change: the write was
// authorized, or not, by whatever accepted it.
type RestaurantAuditor struct {
	audit audit.Logger
}

func NewRestaurantAuditor(auditLog audit.Logger) *RestaurantAuditor {
	return &RestaurantAuditor{audit: auditLog}
}

func (h *RestaurantAuditor) HandleEvent(ctx context.Context, evt trigger.ChangeEvent) error {
	entry := audit.AdminAction(audit.ActionRestaurantUpdate, evt.DocumentID, evt.Before, evt.After)
	if _, err := h.audit.Append(ctx, entry); err != nil {
		return err
	}
	trigger.Step(ctx, StepAudit)
	return nil
}
