package cache

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// CachedStore serves delivery selections from a SelectionCache and drops the
// cached value on every write that can change them. Cart entries always come
// from the store since they join foreign listing data.
type CachedStore struct {
	repository.CartStore
	cache SelectionCache
	log   logrus.FieldLogger
	sfg   singleflight.Group // Prevents cache stampede
}

func NewCachedStore(store repository.CartStore, cache SelectionCache, log logrus.FieldLogger) *CachedStore {
	return &CachedStore{
		CartStore: store,
		cache:     cache,
		log:       log,
	}
}

func (s *CachedStore) ListDeliverySelections(ctx context.Context, userID string) ([]domain.DeliverySelection, error) {
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		selections, err := s.cache.Get(ctx, userID)
		if err == nil {
			return selections, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			s.log.WithError(err).WithField("user_id", userID).Warn("selection cache get failed")
		}

		selections, err = s.CartStore.ListDeliverySelections(ctx, userID)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Set(ctx, userID, selections); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("selection cache set failed")
		}
		return selections, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]domain.DeliverySelection)), nil
}

func (s *CachedStore) UpsertDeliverySelection(ctx context.Context, userID, entryID string, method domain.DeliveryMethod) (*domain.DeliverySelection, error) {
	defer s.invalidate(userID)
	return s.CartStore.UpsertDeliverySelection(ctx, userID, entryID, method)
}

func (s *CachedStore) DeleteDeliverySelection(ctx context.Context, userID, entryID string) error {
	defer s.invalidate(userID)
	return s.CartStore.DeleteDeliverySelection(ctx, userID, entryID)
}

func (s *CachedStore) DeleteCartEntry(ctx context.Context, userID, entryID string) error {
	defer s.invalidate(userID)
	return s.CartStore.DeleteCartEntry(ctx, userID, entryID)
}

func (s *CachedStore) DeleteAllCartEntries(ctx context.Context, userID string) error {
	defer s.invalidate(userID)
	return s.CartStore.DeleteAllCartEntries(ctx, userID)
}

// invalidate runs after failed writes too: the store may have applied them.
func (s *CachedStore) invalidate(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("selection cache invalidate failed")
	}
}

var _ repository.CartStore = (*CachedStore)(nil)
