package repository

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/google/uuid"
)

type memoryEntry struct {
	domain.CartEntry
	userID string
	seq    int
}

// MemoryRepository implements CartStore in process memory. It keeps the same
// uniqueness and cascade rules as the database implementations.
type MemoryRepository struct {
	mu         sync.RWMutex
	listings   map[string]domain.ListingSnapshot
	entries    map[string]*memoryEntry             // entryID -> entry
	selections map[string]domain.DeliverySelection // entryID -> selection
	seq        int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		listings:   make(map[string]domain.ListingSnapshot),
		entries:    make(map[string]*memoryEntry),
		selections: make(map[string]domain.DeliverySelection),
	}
}

func (s *MemoryRepository) PutListing(l domain.ListingSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listings[l.ID] = l
}

func (s *MemoryRepository) DeleteListing(listingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listings, listingID)
}

func (s *MemoryRepository) ListCartEntries(_ context.Context, userID string) ([]domain.CartEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := make([]*memoryEntry, 0)
	for _, e := range s.entries {
		if e.userID == userID {
			owned = append(owned, e)
		}
	}
	slices.SortFunc(owned, func(a, b *memoryEntry) int { return a.seq - b.seq })

	result := make([]domain.CartEntry, 0, len(owned))
	for _, e := range owned {
		entry := e.CartEntry
		if l, ok := s.listings[e.ListingID]; ok {
			listing := l
			listing.Images = slices.Clone(l.Images)
			listing.DeliveryMethods = slices.Clone(l.DeliveryMethods)
			if l.ShippingPrice != nil {
				sp := *l.ShippingPrice
				listing.ShippingPrice = &sp
			}
			entry.Listing = &listing
		}
		result = append(result, entry)
	}
	return result, nil
}

func (s *MemoryRepository) ListDeliverySelections(_ context.Context, userID string) ([]domain.DeliverySelection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.DeliverySelection, 0)
	for _, sel := range s.selections {
		if sel.UserID == userID {
			result = append(result, sel)
		}
	}
	return result, nil
}

func (s *MemoryRepository) UpsertDeliverySelection(_ context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok || e.userID != userID {
		return nil, ErrEntryNotFound
	}

	sel, exists := s.selections[entryID]
	if !exists {
		sel = domain.DeliverySelection{ID: uuid.NewString(), EntryID: entryID, UserID: userID}
	}
	sel.Method = method
	s.selections[entryID] = sel
	return &sel, nil
}

func (s *MemoryRepository) DeleteDeliverySelection(_ context.Context, userID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sel, ok := s.selections[entryID]; ok && sel.UserID == userID {
		delete(s.selections, entryID)
	}
	return nil
}

func (s *MemoryRepository) InsertCartEntry(_ context.Context, userID, listingID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		if e.userID == userID && e.ListingID == listingID {
			return ErrDuplicateEntry
		}
	}

	s.seq++
	id := uuid.NewString()
	s.entries[id] = &memoryEntry{
		CartEntry: domain.CartEntry{
			ID:        id,
			ListingID: listingID,
			Quantity:  quantity,
			AddedAt:   time.Now(),
		},
		userID: userID,
		seq:    s.seq,
	}
	return nil
}

func (s *MemoryRepository) UpdateCartEntryQuantity(_ context.Context, userID, entryID string, quantity int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryID]
	if !ok || e.userID != userID {
		return ErrEntryNotFound
	}
	e.Quantity = quantity
	return nil
}

func (s *MemoryRepository) DeleteCartEntry(_ context.Context, userID, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[entryID]; ok && e.userID == userID {
		delete(s.entries, entryID)
		delete(s.selections, entryID)
	}
	return nil
}

func (s *MemoryRepository) DeleteAllCartEntries(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.entries {
		if e.userID == userID {
			delete(s.entries, id)
			delete(s.selections, id)
		}
	}
	return nil
}

var _ CartStore = (*MemoryRepository)(nil)
