package service

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// mockStore wraps the memory repository with per-operation failures and gates.
type mockStore struct {
	*repository.MemoryRepository

	m       sync.Mutex
	errs    map[string]error
	gates   map[string]chan struct{}
	started chan string
	calls   map[string]int
}

func newMockStore() *mockStore {
	return &mockStore{
		MemoryRepository: repository.NewMemoryRepository(),
		errs:             make(map[string]error),
		gates:            make(map[string]chan struct{}),
		started:          make(chan string, 16),
		calls:            make(map[string]int),
	}
}

func (s *mockStore) failOn(op string, err error) {
	s.m.Lock()
	defer s.m.Unlock()
	if err == nil {
		delete(s.errs, op)
		return
	}
	s.errs[op] = err
}

// block makes op wait until the returned func is called.
func (s *mockStore) block(op string) func() {
	gate := make(chan struct{})
	s.m.Lock()
	s.gates[op] = gate
	s.m.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(gate)
		})
	}
}

func (s *mockStore) callCount(op string) int {
	s.m.Lock()
	defer s.m.Unlock()
	return s.calls[op]
}

func (s *mockStore) hook(op string) error {
	s.m.Lock()
	s.calls[op]++
	err := s.errs[op]
	gate := s.gates[op]
	s.m.Unlock()

	if gate != nil {
		select {
		case s.started <- op:
		default:
		}
		<-gate
	}
	return err
}

func (s *mockStore) ListCartEntries(ctx context.Context, userID string) ([]domain.CartEntry, error) {
	if err := s.hook("ListCartEntries"); err != nil {
		return nil, err
	}
	return s.MemoryRepository.ListCartEntries(ctx, userID)
}

func (s *mockStore) ListDeliverySelections(ctx context.Context, userID string) ([]domain.DeliverySelection, error) {
	if err := s.hook("ListDeliverySelections"); err != nil {
		return nil, err
	}
	return s.MemoryRepository.ListDeliverySelections(ctx, userID)
}

func (s *mockStore) UpsertDeliverySelection(ctx context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error) {
	if err := s.hook("UpsertDeliverySelection"); err != nil {
		return nil, err
	}
	return s.MemoryRepository.UpsertDeliverySelection(ctx, userID, entryID, method)
}

func (s *mockStore) DeleteDeliverySelection(ctx context.Context, userID, entryID string) error {
	if err := s.hook("DeleteDeliverySelection"); err != nil {
		return err
	}
	return s.MemoryRepository.DeleteDeliverySelection(ctx, userID, entryID)
}

func (s *mockStore) InsertCartEntry(ctx context.Context, userID, listingID string, quantity int) error {
	if err := s.hook("InsertCartEntry"); err != nil {
		return err
	}
	return s.MemoryRepository.InsertCartEntry(ctx, userID, listingID, quantity)
}

func (s *mockStore) UpdateCartEntryQuantity(ctx context.Context, userID, entryID string, quantity int) error {
	if err := s.hook("UpdateCartEntryQuantity"); err != nil {
		return err
	}
	return s.MemoryRepository.UpdateCartEntryQuantity(ctx, userID, entryID, quantity)
}

func (s *mockStore) DeleteCartEntry(ctx context.Context, userID, entryID string) error {
	if err := s.hook("DeleteCartEntry"); err != nil {
		return err
	}
	return s.MemoryRepository.DeleteCartEntry(ctx, userID, entryID)
}

func (s *mockStore) DeleteAllCartEntries(ctx context.Context, userID string) error {
	if err := s.hook("DeleteAllCartEntries"); err != nil {
		return err
	}
	return s.MemoryRepository.DeleteAllCartEntries(ctx, userID)
}

var _ repository.CartStore = (*mockStore)(nil)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func money(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

// bike: two methods with paid shipping. lamp: pickup only. book: no methods.
func seedListings(s *mockStore) {
	s.PutListing(domain.ListingSnapshot{
		ID:              "bike",
		Title:           "Road bike",
		Price:           decimal.NewFromInt(1000),
		OwnerID:         "seller-1",
		DeliveryMethods: []domain.DeliveryMethod{domain.DeliveryShipping, domain.DeliveryPickup},
		ShippingPrice:   money(300),
	})
	s.PutListing(domain.ListingSnapshot{
		ID:              "lamp",
		Title:           "Desk lamp",
		Price:           decimal.NewFromInt(2500),
		OwnerID:         "seller-2",
		DeliveryMethods: []domain.DeliveryMethod{domain.DeliveryPickup},
	})
	s.PutListing(domain.ListingSnapshot{
		ID:      "book",
		Title:   "Paperback",
		Price:   decimal.NewFromInt(500),
		OwnerID: "seller-3",
	})
}

func setupManager(t *testing.T, opts ...Option) (*CartManager, *mockStore) {
	t.Helper()
	store := newMockStore()
	seedListings(store)
	m := NewCartManager(store, append([]Option{WithLogger(quietLogger())}, opts...)...)
	t.Cleanup(m.Close)
	return m, store
}
