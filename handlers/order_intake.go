package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/godamri/helix-triggers/audit"
	"github.com/godamri/helix-triggers/docstore"
	"github.com/godamri/helix-triggers/domain"
	"github.com/godamri/helix-triggers/trigger"
)

// Steps reported to the dispatcher.
const (
	StepCancelOrder = "cancel_order"
	StepAudit       = "audit"
	StepBlockUser   = "block_user"
)

// OrderIntake validates a new order against its restaurant. A closed or
// missing restaurant cancels the order whatever else the order holds; an
// open one gets the order recorded in the audit trail and leaves it
// untouched.
type OrderIntake struct {
	store  docstore.Store
	audit  audit.Logger
	logger *slog.Logger
}

func NewOrderIntake(store docstore.Store, auditLog audit.Logger, logger *slog.Logger) *OrderIntake {
	return &OrderIntake{store: store, audit: auditLog, logger: logger}
}

func (h *OrderIntake) HandleEvent(ctx context.Context, evt trigger.ChangeEvent) error {
	resID := domain.OrderRestaurantID(evt.After)

	accepts, err := h.restaurantAcceptsOrders(ctx, resID)
	if err != nil {
		return err
	}

	if !accepts {
		err := h.store.Update(ctx, domain.CollectionOrders, evt.DocumentID, docstore.Fields{
			domain.FieldStatus: string(domain.OrderCancelled),
			domain.FieldReason: domain.ReasonRestaurantClosed,
		})
		if err != nil {
			return fmt.Errorf("cancel order %s: %w", evt.DocumentID, err)
		}
		trigger.Step(ctx, StepCancelOrder)
		h.logger.InfoContext(ctx, "order cancelled at intake",
			slog.String("order_id", evt.DocumentID),
			slog.String("restaurant_id", resID),
		)
		return nil
	}

	order, err := domain.OrderFromData(evt.DocumentID, evt.After)
	if err != nil {
		return err
	}
	if !order.StatusKnown {
		h.logger.WarnContext(ctx, "order has unrecognized status",
			slog.String("order_id", order.ID),
			slog.String("status", string(order.Status)),
		)
	}

	details := fmt.Sprintf("Order for $%s initialized by %s", domain.FormatTotal(order.Total), order.UserID)
	if _, err := h.audit.Append(ctx, audit.SystemAction(audit.ActionNewOrderInitialized, order.ID, details)); err != nil {
		return err
	}
	trigger.Step(ctx, StepAudit)
	return nil
}

func (h *OrderIntake) restaurantAcceptsOrders(ctx context.Context, id string) (bool, error) {
	if id == "" {
		h.logger.WarnContext(ctx, "order has no restaurant reference, treating as closed")
		return false, nil
	}
	snap, err := h.store.Get(ctx, domain.CollectionRestaurants, id)
	if errors.Is(err, docstore.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read restaurant %s: %w", id, err)
	}

	r := domain.RestaurantFromData(id, snap.Data)
	if !r.Known {
		h.logger.WarnContext(ctx, "restaurant has unrecognized status, treating as closed",
			slog.String("restaurant_id", id),
			slog.Any("status", snap.Data[domain.FieldStatus]),
		)
	}
	return r.Status.AcceptsOrders(), nil
}
