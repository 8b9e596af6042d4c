// Package circuitbreaker guards the cart store with a gobreaker circuit so a
// failing backend is failed fast instead of being hammered by every refresh.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/fjod/go_cart/marketplace-cart/internal/metrics"
	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
)

var ErrUnavailable = errors.New("cart store unavailable")

type Settings struct {
	Name        string
	MaxFailures uint32        // consecutive failures that open the circuit
	Timeout     time.Duration // time spent open before a trial request
}

type Store struct {
	next repository.CartStore
	cb   *gobreaker.CircuitBreaker[any]
}

func NewStore(next repository.CartStore, s Settings, log logrus.FieldLogger) *Store {
	if s.Name == "" {
		s.Name = "cart-store"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	metrics.SetBreakerState(s.Name, int(gobreaker.StateClosed))

	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.MaxFailures
		},
		IsSuccessful: isSuccessful,
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetBreakerState(name, int(to))
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("cart store circuit changed state")
		},
	})
	return &Store{next: next, cb: cb}
}

// isSuccessful keeps domain outcomes and caller cancellations from counting
// against the backend.
func isSuccessful(err error) bool {
	return err == nil ||
		errors.Is(err, repository.ErrEntryNotFound) ||
		errors.Is(err, repository.ErrDuplicateEntry) ||
		errors.Is(err, repository.ErrListingNotFound) ||
		errors.Is(err, context.Canceled)
}

func call[T any](s *Store, fn func() (T, error)) (T, error) {
	var zero T
	v, err := s.cb.Execute(func() (any, error) {
		return fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return zero, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

func exec(s *Store, fn func() error) error {
	_, err := call(s, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

func (s *Store) ListCartEntries(ctx context.Context, userID string) ([]domain.CartEntry, error) {
	return call(s, func() ([]domain.CartEntry, error) {
		return s.next.ListCartEntries(ctx, userID)
	})
}

func (s *Store) ListDeliverySelections(ctx context.Context, userID string) ([]domain.DeliverySelection, error) {
	return call(s, func() ([]domain.DeliverySelection, error) {
		return s.next.ListDeliverySelections(ctx, userID)
	})
}

func (s *Store) UpsertDeliverySelection(ctx context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error) {
	return call(s, func() (*domain.DeliverySelection, error) {
		return s.next.UpsertDeliverySelection(ctx, userID, entryID, method)
	})
}

func (s *Store) DeleteDeliverySelection(ctx context.Context, userID, entryID string) error {
	return exec(s, func() error {
		return s.next.DeleteDeliverySelection(ctx, userID, entryID)
	})
}

func (s *Store) InsertCartEntry(ctx context.Context, userID, listingID string, quantity int) error {
	return exec(s, func() error {
		return s.next.InsertCartEntry(ctx, userID, listingID, quantity)
	})
}

func (s *Store) UpdateCartEntryQuantity(ctx context.Context, userID, entryID string, quantity int) error {
	return exec(s, func() error {
		return s.next.UpdateCartEntryQuantity(ctx, userID, entryID, quantity)
	})
}

func (s *Store) DeleteCartEntry(ctx context.Context, userID, entryID string) error {
	return exec(s, func() error {
		return s.next.DeleteCartEntry(ctx, userID, entryID)
	})
}

func (s *Store) DeleteAllCartEntries(ctx context.Context, userID string) error {
	return exec(s, func() error {
		return s.next.DeleteAllCartEntries(ctx, userID)
	})
}

func (s *Store) State() gobreaker.State {
	return s.cb.State()
}

var _ repository.CartStore = (*Store)(nil)
