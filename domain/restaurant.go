package domain

type RestaurantStatus string

const (
	RestaurantOpen   RestaurantStatus = "open"
	RestaurantClosed RestaurantStatus = "closed"
)

func ParseRestaurantStatus(raw string) (RestaurantStatus, bool) {
	switch RestaurantStatus(raw) {
	case RestaurantOpen, RestaurantClosed:
		return RestaurantStatus(raw), true
	}
	return "", false
}

// AcceptsOrders is true only for open restaurants.
func (s RestaurantStatus) AcceptsOrders() bool {
	switch s {
	case RestaurantOpen:
		return true
	case RestaurantClosed:
		return false
	}
	return false
}

// Restaurant keeps every other attribute opaque; they only travel through
// audit diffs.
type Restaurant struct {
	ID     string
	Status RestaurantStatus
	// Known is false when the stored status is outside the enum.
	Known      bool
	Attributes map[string]any
}

func RestaurantFromData(id string, data map[string]any) Restaurant {
	raw, _ := data[FieldStatus].(string)
	status, known := ParseRestaurantStatus(raw)
	return Restaurant{
		ID:         id,
		Status:     status,
		Known:      known,
		Attributes: data,
	}
}
