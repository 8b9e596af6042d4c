package repository

import (
	"context"
	"testing"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
)

func setupMongoRepo(t *testing.T) *MongoRepository {
	if testing.Short() {
		t.Skip("skipping MongoDB container test in short mode")
	}
	ctx := context.Background()

	mongoContainer, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := mongoContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	uri, err := mongoContainer.ConnectionString(ctx)
	require.NoError(t, err)

	db, err := ConnectMongoDB(ctx, uri, "testdb")
	require.NoError(t, err)

	repo := NewMongoRepository(db)
	require.NoError(t, repo.CreateIndexes(ctx))
	return repo
}

func TestMongoRepository_CartLifecycle(t *testing.T) {
	repo := setupMongoRepo(t)
	ctx := context.Background()

	shipping := decimal.NewFromInt(300)
	require.NoError(t, repo.UpsertListing(ctx, domain.ListingSnapshot{
		ID:              "l1",
		Title:           "Road bike",
		Price:           decimal.NewFromInt(2500),
		OwnerID:         "owner-1",
		DeliveryMethods: []domain.DeliveryMethod{domain.DeliveryShipping},
		ShippingPrice:   &shipping,
	}))

	require.NoError(t, repo.InsertCartEntry(ctx, "u1", "l1", 1))
	assert.ErrorIs(t, repo.InsertCartEntry(ctx, "u1", "l1", 1), ErrDuplicateEntry)

	entries, err := repo.ListCartEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Listing)
	assert.True(t, entries[0].Listing.Price.Equal(decimal.NewFromInt(2500)))
	require.NotNil(t, entries[0].Listing.ShippingPrice)
	assert.True(t, entries[0].Listing.ShippingPrice.Equal(shipping))
	entryID := entries[0].ID

	first, err := repo.UpsertDeliverySelection(ctx, "u1", entryID, domain.DeliveryShipping)
	require.NoError(t, err)
	second, err := repo.UpsertDeliverySelection(ctx, "u1", entryID, domain.DeliveryPickup)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	selections, err := repo.ListDeliverySelections(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, selections, 1)
	assert.Equal(t, domain.DeliveryPickup, selections[0].Method)

	require.NoError(t, repo.UpdateCartEntryQuantity(ctx, "u1", entryID, 1))
	assert.ErrorIs(t, repo.UpdateCartEntryQuantity(ctx, "u1", "missing", 1), ErrEntryNotFound)

	require.NoError(t, repo.DeleteCartEntry(ctx, "u1", entryID))
	require.NoError(t, repo.DeleteCartEntry(ctx, "u1", entryID))

	selections, err = repo.ListDeliverySelections(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, selections)
}

func TestMongoRepository_DeletedListingLeavesGap(t *testing.T) {
	repo := setupMongoRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.UpsertListing(ctx, domain.ListingSnapshot{ID: "l1", Price: decimal.NewFromInt(10)}))
	require.NoError(t, repo.InsertCartEntry(ctx, "u1", "l1", 1))
	require.NoError(t, repo.DeleteListing(ctx, "l1"))

	entries, err := repo.ListCartEntries(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].Listing)

	require.NoError(t, repo.DeleteAllCartEntries(ctx, "u1"))
	entries, err = repo.ListCartEntries(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
