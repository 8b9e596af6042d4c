package cache

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
)

// SelectionCache stores the delivery selections of a user as one value.
type SelectionCache interface {
	Get(ctx context.Context, userID string) ([]domain.DeliverySelection, error)
	Set(ctx context.Context, userID string, selections []domain.DeliverySelection) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")
