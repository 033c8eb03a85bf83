// Package handlers implements the business triggers and binds them to a
// dispatcher.
package handlers

import (
	"log/slog"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/authz"
	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/domain"
	"github.com/godamri/helix-triggers/trigger"
)

// Trigger names as exposed to event sources and callers.
const (
	NameOrderCreated    = "onOrderCreated"
	NameAdminActionLog  = "onAdminActionLog"
	NameSecureBlockUser = "secureBlockUser"
)

// Deps are the collaborators shared by every handler. Guard and Logger are
// optional.
type Deps struct {
	Store  docstore.Store
	Audit  audit.Logger
	Guard  *authz.Guard
	Logger *slog.Logger
}

// Register binds every trigger to d.
func Register(d *trigger.Dispatcher, deps Deps) error {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	guard := deps.Guard
	if guard == nil {
		guard = authz.NewGuard(deps.Store, logger)
	}

	err := d.On(NameOrderCreated,
		trigger.Route{Collection: domain.CollectionOrders, Operation: trigger.OpCreate},
		NewOrderIntake(deps.Store, deps.Audit, logger),
	)
	if err != nil {
		return err
	}

	err = d.On(NameAdminActionLog,
		trigger.Route{Collection: domain.CollectionRestaurants, Operation: trigger.OpUpdate},
		NewRestaurantAuditor(deps.Audit),
	)
	if err != nil {
		return err
	}

	return d.Callable(NameSecureBlockUser,
		NewBlockUser(deps.Store, guard, deps.Audit, logger),
	)
}
