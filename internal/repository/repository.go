package repository

import (
	"context"
	"errors"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
)

var (
	ErrDuplicateEntry  = errors.New("listing already in cart")
	ErrEntryNotFound   = errors.New("cart entry not found")
	ErrListingNotFound = errors.New("listing not found")
)

// CartStore is the remote source of truth for cart membership and delivery
// selections. Every operation is scoped to the owning user.
type CartStore interface {
	// ListCartEntries returns the user's entries oldest first with listing data
	// inlined. Entries whose listing no longer resolves have a nil Listing.
	ListCartEntries(ctx context.Context, userID string) ([]domain.CartEntry, error)
	ListDeliverySelections(ctx context.Context, userID string) ([]domain.DeliverySelection, error)
	// UpsertDeliverySelection replaces any existing selection of entryID.
	UpsertDeliverySelection(ctx context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error)
	DeleteDeliverySelection(ctx context.Context, userID, entryID string) error
	// InsertCartEntry fails with ErrDuplicateEntry when the listing is already in the cart.
	InsertCartEntry(ctx context.Context, userID, listingID string, quantity int) error
	UpdateCartEntryQuantity(ctx context.Context, userID, entryID string, quantity int) error
	// DeleteCartEntry removes the entry and its delivery selection. Deleting a
	// missing entry is not an error.
	DeleteCartEntry(ctx context.Context, userID, entryID string) error
	DeleteAllCartEntries(ctx context.Context, userID string) error
}

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}
