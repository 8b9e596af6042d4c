package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func price(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func pricePtr(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func TestSnapshotTotals(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{ID: "e1", Quantity: 1, Listing: &ListingSnapshot{ID: "l1", Price: price(1000)}},
			{
				ID:       "e2",
				Quantity: 1,
				Listing: &ListingSnapshot{
					ID:              "l2",
					Price:           price(2500),
					DeliveryMethods: []DeliveryMethod{DeliveryShipping, DeliveryPickup},
					ShippingPrice:   pricePtr(300),
				},
				Delivery: &DeliverySelection{EntryID: "e2", Method: DeliveryShipping},
			},
		},
	}

	assert.True(t, snap.MerchandiseTotal().Equal(price(3500)))
	assert.True(t, snap.DeliveryTotal().Equal(price(300)))
	assert.True(t, snap.GrandTotal().Equal(price(3800)))
	assert.Equal(t, 2, snap.ItemCount())
}

func TestSnapshotTotals_NonShippingMethodIsFree(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{
				ID:       "e1",
				Quantity: 1,
				Listing: &ListingSnapshot{
					Price:           price(700),
					DeliveryMethods: []DeliveryMethod{DeliveryShipping, DeliveryPickup},
					ShippingPrice:   pricePtr(150),
				},
				Delivery: &DeliverySelection{Method: DeliveryPickup},
			},
		},
	}

	assert.True(t, snap.DeliveryTotal().IsZero())
	assert.True(t, snap.GrandTotal().Equal(price(700)))
}

func TestSnapshotTotals_ShippingWithoutPriceContributesZero(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{
				ID:       "e1",
				Quantity: 1,
				Listing:  &ListingSnapshot{Price: price(100), DeliveryMethods: []DeliveryMethod{DeliveryShipping}},
				Delivery: &DeliverySelection{Method: DeliveryShipping},
			},
		},
	}

	assert.True(t, snap.DeliveryTotal().IsZero())
}

func TestSnapshotTotals_UnresolvedEntriesExcluded(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{ID: "e1", Quantity: 1, Listing: &ListingSnapshot{Price: price(1000)}},
			{ID: "gone", Quantity: 1, Delivery: &DeliverySelection{Method: DeliveryShipping}},
		},
	}

	assert.True(t, snap.MerchandiseTotal().Equal(price(1000)))
	assert.True(t, snap.DeliveryTotal().IsZero())
	assert.Equal(t, 1, snap.ItemCount())
	assert.False(t, snap.HasUnselectedDeliveryMethods())
}

func TestSnapshotTotals_Empty(t *testing.T) {
	var snap Snapshot
	assert.True(t, snap.GrandTotal().IsZero())
	assert.Equal(t, 0, snap.ItemCount())
}

func TestHasUnselectedDeliveryMethods(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{ID: "e1", Quantity: 1, Listing: &ListingSnapshot{Price: price(10)}},
			{
				ID:       "e2",
				Quantity: 1,
				Listing:  &ListingSnapshot{Price: price(10), DeliveryMethods: []DeliveryMethod{DeliveryPickup}},
				Delivery: &DeliverySelection{Method: DeliveryPickup},
			},
		},
	}
	assert.False(t, snap.HasUnselectedDeliveryMethods())

	snap.Entries = append(snap.Entries, CartEntry{
		ID:       "e3",
		Quantity: 1,
		Listing:  &ListingSnapshot{Price: price(10), DeliveryMethods: []DeliveryMethod{DeliveryHand, DeliveryOther}},
	})
	assert.True(t, snap.HasUnselectedDeliveryMethods())
}

func TestCartEntryDeliveryState(t *testing.T) {
	noMethods := CartEntry{Listing: &ListingSnapshot{}}
	unselected := CartEntry{Listing: &ListingSnapshot{DeliveryMethods: []DeliveryMethod{DeliveryHand}}}
	selected := unselected
	selected.Delivery = &DeliverySelection{Method: DeliveryHand}

	assert.Equal(t, NoMethodsDeclared, noMethods.DeliveryState())
	assert.Equal(t, Unselected, unselected.DeliveryState())
	assert.Equal(t, Selected, selected.DeliveryState())
	assert.Equal(t, "selected", Selected.String())
}

func TestSoleDeliveryMethod(t *testing.T) {
	m, ok := ListingSnapshot{DeliveryMethods: []DeliveryMethod{DeliveryPickup}}.SoleDeliveryMethod()
	require.True(t, ok)
	assert.Equal(t, DeliveryPickup, m)

	_, ok = ListingSnapshot{DeliveryMethods: []DeliveryMethod{DeliveryPickup, DeliveryHand}}.SoleDeliveryMethod()
	assert.False(t, ok)

	_, ok = ListingSnapshot{}.SoleDeliveryMethod()
	assert.False(t, ok)
}

func TestSnapshotWithDelivery_DoesNotMutateOriginal(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{ID: "e1", Quantity: 1, Listing: &ListingSnapshot{DeliveryMethods: []DeliveryMethod{DeliveryHand, DeliveryPickup}}},
		},
	}

	patched, ok := snap.WithDelivery("e1", &DeliverySelection{EntryID: "e1", Method: DeliveryHand})
	require.True(t, ok)
	assert.Nil(t, snap.Entries[0].Delivery)
	require.NotNil(t, patched.Entries[0].Delivery)
	assert.Equal(t, DeliveryHand, patched.Entries[0].Delivery.Method)

	_, ok = snap.WithDelivery("missing", nil)
	assert.False(t, ok)
}

func TestSnapshotClone_IsDeep(t *testing.T) {
	snap := Snapshot{
		Entries: []CartEntry{
			{ID: "e1", Listing: &ListingSnapshot{Images: []string{"a.jpg"}, ShippingPrice: pricePtr(5)}},
		},
	}

	c := snap.Clone()
	c.Entries[0].Listing.Images[0] = "b.jpg"
	*c.Entries[0].Listing.ShippingPrice = price(9)

	assert.Equal(t, "a.jpg", snap.Entries[0].Listing.Images[0])
	assert.True(t, snap.Entries[0].Listing.ShippingPrice.Equal(price(5)))
}

func TestParseDeliveryMethod(t *testing.T) {
	m, err := ParseDeliveryMethod("shipping")
	require.NoError(t, err)
	assert.Equal(t, DeliveryShipping, m)

	_, err = ParseDeliveryMethod("teleport")
	assert.ErrorIs(t, err, ErrUnknownDeliveryMethod)
}

func TestSingleUnit(t *testing.T) {
	for _, q := range []int{1, 2, 99, 1000} {
		assert.Equal(t, 1, SingleUnit(q))
	}
}
