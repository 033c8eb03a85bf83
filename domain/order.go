package domain

import (
	"encoding/json"
	"strconv"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCancelled OrderStatus = "cancelled"
)

// ReasonRestaurantClosed is recorded on orders cancelled at intake.
const ReasonRestaurantClosed = "Restaurant is closed"

// ParseOrderStatus maps a stored value onto the enum. An absent status is
// treated as pending: freshly created orders often omit it.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	switch OrderStatus(raw) {
	case OrderPending, OrderConfirmed, OrderCancelled:
		return OrderStatus(raw), true
	case "":
		return OrderPending, true
	}
	return "", false
}

type Order struct {
	ID           string
	RestaurantID string
	UserID       string
	Total        float64
	// Status holds the stored value verbatim when it is outside the enum;
	// StatusKnown tells the two apart.
	Status      OrderStatus
	StatusKnown bool
	Reason      string
}

// OrderRestaurantID returns the restaurant an order snapshot points at, or
// "" when the reference is absent.
func OrderRestaurantID(data map[string]any) string {
	id, _ := data[FieldRestaurantID].(string)
	return id
}

// OrderFromData decodes an order snapshot as written by clients. Only the
// restaurant reference and the total are validated.
func OrderFromData(id string, data map[string]any) (Order, error) {
	o := Order{ID: id, RestaurantID: OrderRestaurantID(data)}

	if o.RestaurantID == "" {
		return Order{}, invalid("order", id, "missing %s", FieldRestaurantID)
	}
	o.UserID, _ = data[FieldUserID].(string)

	if raw, ok := data[FieldTotal]; ok && raw != nil {
		total, ok := toFloat(raw)
		if !ok {
			return Order{}, invalid("order", id, "total %v is not numeric", raw)
		}
		if total < 0 {
			return Order{}, invalid("order", id, "negative total %v", total)
		}
		o.Total = total
	}

	rawStatus, _ := data[FieldStatus].(string)
	o.Status, o.StatusKnown = ParseOrderStatus(rawStatus)
	if !o.StatusKnown {
		o.Status = OrderStatus(rawStatus)
	}
	o.Reason, _ = data[FieldReason].(string)

	return o, nil
}

// FormatTotal renders a total the way it is shown in audit details:
// shortest exact decimal, no trailing zeros (42.5, 10, 0.99).
func FormatTotal(total float64) string {
	return strconv.FormatFloat(total, 'f', -1, 64)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
