// Package domain holds the documents the triggers reason about.
//
// Status and role fields are closed enums. Values read from the store are
// parsed once at the boundary; anything outside the known set is reported
// as invalid instead of being compared as a free string.
package domain

import (
	"errors"
	"fmt"
)

// Collection names shared with the clients that produce the original writes.
const (
	CollectionOrders      = "orders"
	CollectionRestaurants = "restaurants"
	CollectionUsers       = "users"
	CollectionAdminLogs   = "adminLogs"
)

// Document field names.
const (
	FieldStatus       = "status"
	FieldReason       = "reason"
	FieldRestaurantID = "resId"
	FieldUserID       = "userId"
	FieldTotal        = "total"
	FieldRole         = "role"
)

var ErrInvalidDocument = errors.New("domain: invalid document")

func invalid(kind, id, format string, args ...any) error {
	return fmt.Errorf("%w: %s %q: %s", ErrInvalidDocument, kind, id, fmt.Sprintf(format, args...))
}
