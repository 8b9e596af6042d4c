package service

import (
	"context"
	"sync"

	"github.com/fjod/go_cart/marketplace-cart/internal/metrics"
	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
	"github.com/sirupsen/logrus"
)

// Sessions holds one CartManager per authenticated user.
type Sessions struct {
	store repository.CartStore
	opts  []Option
	log   logrus.FieldLogger

	mu       sync.Mutex
	managers map[string]*CartManager
}

func NewSessions(store repository.CartStore, log logrus.FieldLogger, opts ...Option) *Sessions {
	return &Sessions{
		store:    store,
		opts:     append([]Option{WithLogger(log)}, opts...),
		log:      log,
		managers: make(map[string]*CartManager),
	}
}

// Open returns the manager of userID, creating and loading it on first use.
// A failed initial load still registers the manager so the next refresh can
// recover.
func (s *Sessions) Open(ctx context.Context, userID string) (*CartManager, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}

	s.mu.Lock()
	m, ok := s.managers[userID]
	if ok {
		s.mu.Unlock()
		return m, nil
	}
	m = NewCartManager(s.store, s.opts...)
	m.switchIdentity(userID)
	s.managers[userID] = m
	metrics.SetActiveSessions(len(s.managers))
	s.mu.Unlock()

	s.log.WithField("user_id", userID).Info("cart session opened")
	return m, m.Refresh(ctx)
}

func (s *Sessions) Get(userID string) (*CartManager, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.managers[userID]
	return m, ok
}

// Close logs userID out: its manager publishes an empty snapshot, ends its
// subscriptions and is dropped.
func (s *Sessions) Close(ctx context.Context, userID string) {
	s.mu.Lock()
	m, ok := s.managers[userID]
	if ok {
		delete(s.managers, userID)
		metrics.SetActiveSessions(len(s.managers))
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	if err := m.SetIdentity(ctx, ""); err != nil {
		s.log.WithError(err).WithField("user_id", userID).Warn("failed to reset cart identity")
	}
	m.Close()
	s.log.WithField("user_id", userID).Info("cart session closed")
}

// Purge empties the cart of userID after a completed checkout.
func (s *Sessions) Purge(ctx context.Context, userID string) error {
	if m, ok := s.Get(userID); ok {
		return m.Clear(ctx)
	}
	if err := s.store.DeleteAllCartEntries(ctx, userID); err != nil {
		return storeError("delete cart entries", err)
	}
	return nil
}

// Shutdown closes every session.
func (s *Sessions) Shutdown(ctx context.Context) {
	s.mu.Lock()
	users := make([]string, 0, len(s.managers))
	for userID := range s.managers {
		users = append(users, userID)
	}
	s.mu.Unlock()

	for _, userID := range users {
		s.Close(ctx, userID)
	}
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.managers)
}
