package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/authz"
	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/domain"
	"github.com/godamri/helix-triggers/trigger"
)

const msgOnlySuperAdmins = "Only Super Admins can block users."

// Authorizer is satisfied by *authz.Guard.
type Authorizer interface {
	Authorize(ctx context.Context, callerID string, required domain.Role) (authz.Decision, error)
}

// BlockUserResult is returned to the caller on success.
type BlockUserResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BlockUser lets a super admin block another user. The status update and
// the audit append are two writes; if the second fails the user stays
// blocked and the caller gets an error.
type BlockUser struct {
	store  docstore.Store
	guard  Authorizer
	audit  audit.Logger
	logger *slog.Logger
}

// NewBlockUser wires the handler; guard is usually an *authz.Guard over the
// same store.
func NewBlockUser(store docstore.Store, guard Authorizer, auditLog audit.Logger, logger *slog.Logger) *BlockUser {
	return &BlockUser{store: store, guard: guard, audit: auditLog, logger: logger}
}

// Invoke authorizes the caller as super admin, marks the target user blocked
// and appends a SECURITY_ACTION entry. Failures are *trigger.Failure or
// store/audit errors for the dispatcher to map.
func (h *BlockUser) Invoke(ctx context.Context, req trigger.InvocationRequest) (any, error) {
	decision, err := h.guard.Authorize(ctx, req.CallerID, domain.RoleSuperAdmin)
	if err != nil {
		return nil, err
	}
	if !decision.Allowed {
		h.logger.WarnContext(ctx, "block user denied",
			slog.String("caller_id", req.CallerID),
			slog.String("error", decision.Err().Error()),
		)
		return nil, &trigger.Failure{Code: decision.Code, Message: msgOnlySuperAdmins}
	}

	target, err := targetUserID(req.Payload)
	if err != nil {
		return nil, err
	}

	err = h.store.Update(ctx, domain.CollectionUsers, target, docstore.Fields{
		domain.FieldStatus: string(domain.UserBlocked),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, trigger.Fail(trigger.CodeNotFound, "User %s does not exist.", target)
	}
	if err != nil {
		return nil, err
	}
	trigger.Step(ctx, StepBlockUser)

	if _, err := h.audit.Append(ctx, audit.SecurityAction(audit.ActionUserBlocked, target, req.CallerID)); err != nil {
		h.logger.ErrorContext(ctx, "user blocked without audit entry",
			slog.String("target_id", target),
			slog.String("admin_id", req.CallerID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	h.logger.InfoContext(ctx, "user blocked", slog.String("target_id", target), slog.String("admin_id", req.CallerID))
	return BlockUserResult{Success: true, Message: "User " + target + " has been blocked."}, nil
}

// targetUserID reads the user to block. Callers send it as "uid";
// "targetUserId" is accepted as well.
func targetUserID(payload map[string]any) (string, error) {
	for _, key := range []string{"uid", "targetUserId"} {
		raw, ok := payload[key]
		if !ok {
			continue
		}
		id, ok := raw.(string)
		if !ok || id == "" {
			return "", trigger.Fail(trigger.CodeInvalidArgument, "%s must be a non-empty string.", key)
		}
		return id, nil
	}
	return "", trigger.Fail(trigger.CodeInvalidArgument, "uid is required.")
}
