package domain

import (
	"errors"
	"fmt"
)

var ErrUnknownDeliveryMethod = errors.New("unknown delivery method")

// DeliveryMethod is how a purchased listing reaches the buyer.
type DeliveryMethod string

const (
	DeliveryHand     DeliveryMethod = "hand_delivery"
	DeliveryShipping DeliveryMethod = "shipping"
	DeliveryPickup   DeliveryMethod = "pickup"
	DeliveryOther    DeliveryMethod = "other"
)

func (m DeliveryMethod) Valid() bool {
	switch m {
	case DeliveryHand, DeliveryShipping, DeliveryPickup, DeliveryOther:
		return true
	}
	return false
}

func ParseDeliveryMethod(s string) (DeliveryMethod, error) {
	m := DeliveryMethod(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDeliveryMethod, s)
	}
	return m, nil
}

// DeliverySelection binds one cart entry to the method the buyer picked.
// There is at most one selection per entry.
type DeliverySelection struct {
	ID      string         `json:"id"`
	EntryID string         `json:"entry_id"`
	UserID  string         `json:"user_id"`
	Method  DeliveryMethod `json:"method"`
}

// DeliveryState is the delivery dimension of a cart entry.
type DeliveryState int

const (
	// NoMethodsDeclared is terminal: the listing has no delivery configuration
	// and never blocks checkout.
	NoMethodsDeclared DeliveryState = iota
	Unselected
	Selected
)

func (s DeliveryState) String() string {
	switch s {
	case NoMethodsDeclared:
		return "no_methods_declared"
	case Unselected:
		return "unselected"
	case Selected:
		return "selected"
	}
	return fmt.Sprintf("DeliveryState(%d)", int(s))
}
