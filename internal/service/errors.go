package service

import (
	"errors"

	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
)

var (
	ErrUnauthenticated       = errors.New("no authenticated user")
	ErrRemoteStore           = errors.New("cart store failure")
	ErrInvalidDeliveryMethod = errors.New("delivery method not offered by listing")
	ErrInvalidQuantity       = errors.New("quantity must be at least 1")
	ErrIdentityChanged       = errors.New("identity changed while the command was in flight")
	ErrEntryNotFound         = repository.ErrEntryNotFound
	ErrListingNotFound       = repository.ErrListingNotFound
)
