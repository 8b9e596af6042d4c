package domain

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// ListingSnapshot is the listing data denormalized onto a cart entry at read time.
type ListingSnapshot struct {
	ID                string           `json:"id"`
	Title             string           `json:"title"`
	Price             decimal.Decimal  `json:"price"`
	Images            []string         `json:"images,omitempty"`
	OwnerID           string           `json:"owner_id"`
	ListingType       string           `json:"listing_type,omitempty"`
	LocationTag       string           `json:"location_tag,omitempty"`
	CategoryID        string           `json:"category_id,omitempty"`
	DeliveryMethods   []DeliveryMethod `json:"delivery_methods"`
	ShippingPrice     *decimal.Decimal `json:"shipping_price,omitempty"`
	OtherDeliveryInfo string           `json:"other_delivery_info,omitempty"`
}

func (l ListingSnapshot) Offers(m DeliveryMethod) bool {
	return slices.Contains(l.DeliveryMethods, m)
}

// SoleDeliveryMethod reports the method when the listing advertises exactly one.
func (l ListingSnapshot) SoleDeliveryMethod() (DeliveryMethod, bool) {
	if len(l.DeliveryMethods) != 1 {
		return "", false
	}
	return l.DeliveryMethods[0], true
}

// CartEntry is one listing the user intends to buy. Listing is nil when the
// referenced listing no longer resolves.
type CartEntry struct {
	ID        string             `json:"id"`
	ListingID string             `json:"listing_id"`
	Quantity  int                `json:"quantity"`
	AddedAt   time.Time          `json:"added_at"`
	Listing   *ListingSnapshot   `json:"listing"`
	Delivery  *DeliverySelection `json:"delivery_selection"`
}

func (e CartEntry) Resolved() bool {
	return e.Listing != nil
}

func (e CartEntry) DeliveryState() DeliveryState {
	if e.Listing == nil || len(e.Listing.DeliveryMethods) == 0 {
		return NoMethodsDeclared
	}
	if e.Delivery == nil {
		return Unselected
	}
	return Selected
}

func (e CartEntry) clone() CartEntry {
	c := e
	if e.Listing != nil {
		l := *e.Listing
		l.Images = slices.Clone(e.Listing.Images)
		l.DeliveryMethods = slices.Clone(e.Listing.DeliveryMethods)
		if e.Listing.ShippingPrice != nil {
			sp := *e.Listing.ShippingPrice
			l.ShippingPrice = &sp
		}
		c.Listing = &l
	}
	if e.Delivery != nil {
		d := *e.Delivery
		c.Delivery = &d
	}
	return c
}

// Snapshot is the published state of one user's cart. Totals are derived from
// Entries on every call.
type Snapshot struct {
	UserID  string      `json:"user_id"`
	Entries []CartEntry `json:"entries"`
	Version uint64      `json:"version"`
}

// ItemCount is the sum of quantities of resolvable entries.
func (s Snapshot) ItemCount() int {
	n := 0
	for _, e := range s.Entries {
		if e.Resolved() {
			n += e.Quantity
		}
	}
	return n
}

func (s Snapshot) MerchandiseTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Entries {
		if !e.Resolved() {
			continue
		}
		total = total.Add(e.Listing.Price.Mul(decimal.NewFromInt(int64(e.Quantity))))
	}
	return total
}

// DeliveryTotal sums shipping prices of entries whose selected method is
// shipping. Every other method is free.
func (s Snapshot) DeliveryTotal() decimal.Decimal {
	total := decimal.Zero
	for _, e := range s.Entries {
		if !e.Resolved() || e.Delivery == nil || e.Delivery.Method != DeliveryShipping {
			continue
		}
		if e.Listing.ShippingPrice != nil {
			total = total.Add(*e.Listing.ShippingPrice)
		}
	}
	return total
}

func (s Snapshot) GrandTotal() decimal.Decimal {
	return s.MerchandiseTotal().Add(s.DeliveryTotal())
}

// HasUnselectedDeliveryMethods reports whether any entry advertises delivery
// methods but has none selected.
func (s Snapshot) HasUnselectedDeliveryMethods() bool {
	for _, e := range s.Entries {
		if e.DeliveryState() == Unselected {
			return true
		}
	}
	return false
}

func (s Snapshot) Entry(entryID string) (CartEntry, bool) {
	if i := s.indexOf(entryID); i >= 0 {
		return s.Entries[i].clone(), true
	}
	return CartEntry{}, false
}

func (s Snapshot) EntryForListing(listingID string) (CartEntry, bool) {
	for _, e := range s.Entries {
		if e.ListingID == listingID {
			return e.clone(), true
		}
	}
	return CartEntry{}, false
}

// WithDelivery returns a copy of s where entryID carries sel (nil clears it).
func (s Snapshot) WithDelivery(entryID string, sel *DeliverySelection) (Snapshot, bool) {
	i := s.indexOf(entryID)
	if i < 0 {
		return s, false
	}
	c := s.Clone()
	if sel != nil {
		d := *sel
		sel = &d
	}
	c.Entries[i].Delivery = sel
	return c, true
}

func (s Snapshot) Clone() Snapshot {
	c := s
	c.Entries = make([]CartEntry, len(s.Entries))
	for i, e := range s.Entries {
		c.Entries[i] = e.clone()
	}
	return c
}

func (s Snapshot) indexOf(entryID string) int {
	for i, e := range s.Entries {
		if e.ID == entryID {
			return i
		}
	}
	return -1
}
