// Package authz resolves a caller to a user document and decides whether it
// may perform a privileged operation. It fails closed.
package authz

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/domain"
)

// CodePermissionDenied is the stable reason code carried by every denial.
const CodePermissionDenied = "permission-denied"

var ErrPermissionDenied = errors.New("authz: permission denied")

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	// Code and Message are set on denial.
	Code    string
	Message string
	Caller  domain.User
}

// Err returns nil when allowed and an error wrapping ErrPermissionDenied otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Message)
}

func deny(format string, args ...any) Decision {
	return Decision{Code: CodePermissionDenied, Message: fmt.Sprintf(format, args...)}
}

// Guard checks caller roles against the users collection.
type Guard struct {
	store      docstore.Store
	collection string
	logger     *slog.Logger
}

func NewGuard(store docstore.Store, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		store:      store,
		collection: domain.CollectionUsers,
		logger:     logger.With("component", "authz"),
	}
}

// Authorize resolves callerID and checks its role by exact match.
//
// A missing caller, an unreadable role, or a role that does not match yields
// a denial with a nil error. The error is non-nil only when the store could
// not be consulted; the decision is then also a denial.
func (g *Guard) Authorize(ctx context.Context, callerID string, required domain.Role) (Decision, error) {
	if callerID == "" {
		return deny("caller identity is missing"), nil
	}

	snap, err := g.store.Get(ctx, g.collection, callerID)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			g.logger.WarnContext(ctx, "authorization denied: unknown caller", "caller_id", callerID, "required_role", required)
			return deny("caller %s is not a known user", callerID), nil
		}
		return deny("caller %s could not be resolved", callerID), fmt.Errorf("authz: resolve caller %s: %w", callerID, err)
	}

	user, err := domain.UserFromData(callerID, snap.Data)
	if err != nil {
		g.logger.WarnContext(ctx, "authorization denied: unreadable caller record", "caller_id", callerID, "error", err)
		return deny("caller %s has no valid role", callerID), nil
	}

	if !user.Role.Satisfies(required) {
		g.logger.InfoContext(ctx, "authorization denied",
			"caller_id", callerID,
			"role", user.Role,
			"required_role", required,
		)
		d := deny("role %s does not satisfy %s", user.Role, required)
		d.Caller = user
		return d, nil
	}

	return Decision{Allowed: true, Caller: user}, nil
}
