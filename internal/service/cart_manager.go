package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/fjod/go_cart/marketplace-cart/internal/metrics"
	"github.com/fjod/go_cart/marketplace-cart/internal/repository"
	"github.com/sirupsen/logrus"
)

type Option func(*CartManager)

func WithLogger(l logrus.FieldLogger) Option {
	return func(m *CartManager) {
		m.log = l
	}
}

// WithQuantityPolicy overrides the normalization applied to every requested
// and stored quantity. The default keeps one unit per listing.
func WithQuantityPolicy(p domain.QuantityPolicy) Option {
	return func(m *CartManager) {
		m.quantity = p
	}
}

// ticket identifies the state a snapshot was computed from. A publish is
// accepted only if the ticket belongs to the current identity epoch and is
// newer than the last accepted one.
type ticket struct {
	userID string
	epoch  uint64
	seq    uint64
}

// CartManager keeps the published cart snapshot of a single identity in sync
// with the store. Commands are serialized; reads never block on the store.
type CartManager struct {
	store    repository.CartStore
	log      logrus.FieldLogger
	quantity domain.QuantityPolicy

	queue   sync.Mutex // held for the whole of a command, including its refresh
	waiting atomic.Int32

	mu        sync.RWMutex
	userID    string
	epoch     uint64
	seq       uint64
	published uint64
	snapshot  domain.Snapshot
	loading   bool
	loaded    bool
	subs      map[int]chan domain.Snapshot
	nextSub   int
}

func NewCartManager(store repository.CartStore, opts ...Option) *CartManager {
	m := &CartManager{
		store:    store,
		log:      logrus.StandardLogger(),
		quantity: domain.SingleUnit,
		snapshot: domain.Snapshot{Entries: []domain.CartEntry{}},
		subs:     make(map[int]chan domain.Snapshot),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetIdentity switches the manager to userID. The previous identity's
// snapshot is replaced by an empty one immediately, so it is never visible
// under the new identity; any in-flight refresh of the old identity is
// discarded when it completes. An empty userID means logged out.
func (m *CartManager) SetIdentity(ctx context.Context, userID string) error {
	m.switchIdentity(userID)
	if userID == "" {
		return nil
	}
	return m.Refresh(ctx)
}

// switchIdentity starts a new epoch for userID and publishes its empty
// snapshot. It is a no-op when userID is already current.
func (m *CartManager) switchIdentity(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if userID == m.userID && m.epoch > 0 {
		return
	}
	m.userID = userID
	m.epoch++
	m.seq++
	m.loading = false
	m.loaded = false
	m.publishLocked(ticket{userID: userID, epoch: m.epoch, seq: m.seq}, domain.Snapshot{Entries: []domain.CartEntry{}})
	m.log.WithField("user_id", userID).Debug("cart identity changed")
}

func (m *CartManager) Identity() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.userID
}

// Refresh re-reads the cart and the delivery selections of the current
// identity and publishes the result. On failure the previous snapshot stays
// in place.
func (m *CartManager) Refresh(ctx context.Context) error {
	return m.run(ctx, "refresh", false, func(ctx context.Context, t ticket) error {
		_, err := m.refreshLocked(ctx, t)
		return err
	})
}

// Add puts a listing into the cart. Adding a listing that is already present
// updates the existing entry instead of creating a second one.
func (m *CartManager) Add(ctx context.Context, listingID string, quantity int) error {
	return m.run(ctx, "add", true, func(ctx context.Context, t ticket) error {
		if listingID == "" {
			return ErrListingNotFound
		}
		if quantity < 1 {
			return ErrInvalidQuantity
		}
		if existing, ok := m.current(t).EntryForListing(listingID); ok {
			return m.updateQuantityLocked(ctx, t, existing.ID, existing.Quantity+quantity)
		}

		err := m.store.InsertCartEntry(ctx, t.userID, listingID, m.quantity(quantity))
		switch {
		case errors.Is(err, repository.ErrDuplicateEntry):
			// the snapshot was behind the store; resync and merge into the stored row
			if _, err := m.refreshLocked(ctx, t); err != nil {
				return err
			}
			existing, ok := m.current(t).EntryForListing(listingID)
			if !ok {
				return ErrListingNotFound
			}
			return m.updateQuantityLocked(ctx, t, existing.ID, existing.Quantity+quantity)
		case err != nil:
			return storeError("insert cart entry", err)
		}

		dropped, err := m.refreshLocked(ctx, t)
		if err != nil {
			return err
		}
		for _, e := range dropped {
			if e.ListingID != listingID {
				continue
			}
			if err := m.store.DeleteCartEntry(ctx, t.userID, e.ID); err != nil {
				m.log.WithError(err).WithFields(logrus.Fields{
					"user_id":    t.userID,
					"listing_id": listingID,
				}).Warn("failed to delete entry for unknown listing")
			}
			return ErrListingNotFound
		}
		return nil
	})
}

// Remove deletes an entry and its delivery selection. Removing an entry that
// does not exist is not an error.
func (m *CartManager) Remove(ctx context.Context, entryID string) error {
	return m.run(ctx, "remove", true, func(ctx context.Context, t ticket) error {
		return m.removeLocked(ctx, t, entryID)
	})
}

// UpdateQuantity sets the quantity of an entry. A quantity below 1 removes it.
func (m *CartManager) UpdateQuantity(ctx context.Context, entryID string, quantity int) error {
	return m.run(ctx, "update_quantity", true, func(ctx context.Context, t ticket) error {
		return m.updateQuantityLocked(ctx, t, entryID, quantity)
	})
}

func (m *CartManager) Clear(ctx context.Context) error {
	return m.run(ctx, "clear", true, func(ctx context.Context, t ticket) error {
		if err := m.store.DeleteAllCartEntries(ctx, t.userID); err != nil {
			return storeError("delete cart entries", err)
		}
		_, err := m.refreshLocked(ctx, t)
		return err
	})
}

// SelectDeliveryMethod records the chosen method for an entry. The method must
// be one the entry's listing declares.
func (m *CartManager) SelectDeliveryMethod(ctx context.Context, entryID string, method domain.DeliveryMethod) error {
	return m.run(ctx, "select_delivery", true, func(ctx context.Context, t ticket) error {
		if !method.Valid() {
			return fmt.Errorf("%w: %q", ErrInvalidDeliveryMethod, method)
		}
		entry, ok := m.current(t).Entry(entryID)
		if !ok {
			// the entry may have been added elsewhere since the last refresh
			if _, err := m.refreshLocked(ctx, t); err != nil {
				return err
			}
			if entry, ok = m.current(t).Entry(entryID); !ok {
				return ErrEntryNotFound
			}
		}
		if !entry.Listing.Offers(method) {
			return fmt.Errorf("%w: listing %s does not offer %s", ErrInvalidDeliveryMethod, entry.ListingID, method)
		}

		sel, err := m.store.UpsertDeliverySelection(ctx, t.userID, entryID, method)
		if errors.Is(err, repository.ErrEntryNotFound) {
			if _, rerr := m.refreshLocked(ctx, t); rerr != nil {
				return rerr
			}
			return ErrEntryNotFound
		}
		if err != nil {
			return storeError("upsert delivery selection", err)
		}
		return m.patchDelivery(t, entryID, sel)
	})
}

// ClearDeliverySelection deletes the selection of an entry. A listing with a
// single declared method gets it selected again on the next refresh.
func (m *CartManager) ClearDeliverySelection(ctx context.Context, entryID string) error {
	return m.run(ctx, "clear_delivery", true, func(ctx context.Context, t ticket) error {
		if err := m.store.DeleteDeliverySelection(ctx, t.userID, entryID); err != nil {
			return storeError("delete delivery selection", err)
		}
		if err := m.patchDelivery(t, entryID, nil); err != nil && !errors.Is(err, ErrEntryNotFound) {
			return err
		}
		return nil
	})
}

// DeliverySelection returns the selected method of an entry in the current
// snapshot.
func (m *CartManager) DeliverySelection(entryID string) (domain.DeliveryMethod, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.snapshot.Entry(entryID)
	if !ok || entry.Delivery == nil {
		return "", false
	}
	return entry.Delivery.Method, true
}

// HasUnselectedDeliveryMethods gates checkout: it is true while any entry
// offers delivery methods without one being selected.
func (m *CartManager) HasUnselectedDeliveryMethods() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.HasUnselectedDeliveryMethods()
}

// Snapshot returns a copy of the last published snapshot.
func (m *CartManager) Snapshot() domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snapshot.Clone()
}

func (m *CartManager) Loading() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loading
}

// Loaded reports whether a refresh of the current identity has succeeded at
// least once. Until then the published snapshot is a placeholder.
func (m *CartManager) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

// Subscribe returns a channel that receives every published snapshot,
// starting with the current one. A slow reader only sees the latest
// snapshot. The returned func ends the subscription and closes the channel.
func (m *CartManager) Subscribe() (<-chan domain.Snapshot, func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan domain.Snapshot, 1)
	ch <- m.snapshot.Clone()
	m.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if c, ok := m.subs[id]; ok {
				delete(m.subs, id)
				close(c)
			}
		})
	}
}

// Close ends all subscriptions.
func (m *CartManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, ch := range m.subs {
		delete(m.subs, id)
		close(ch)
	}
}

// run executes fn once every earlier command has finished. The command is
// bound to the identity current when it was called: if the identity changes
// while it waits, it fails with ErrIdentityChanged without touching the store.
func (m *CartManager) run(ctx context.Context, op string, requireIdentity bool, fn func(context.Context, ticket) error) (err error) {
	started := time.Now()
	defer func() {
		metrics.ObserveCommand(op, started, err)
	}()

	bound := m.bind()
	if requireIdentity && bound.userID == "" {
		return ErrUnauthenticated
	}

	m.waiting.Add(1)
	metrics.CommandQueued(1)
	m.queue.Lock()
	m.waiting.Add(-1)
	metrics.CommandQueued(-1)
	defer m.queue.Unlock()

	t := m.issue()
	if t.epoch != bound.epoch {
		err = ErrIdentityChanged
	} else {
		err = fn(ctx, t)
	}
	if err != nil {
		entry := m.log.WithError(err).WithFields(logrus.Fields{"op": op, "user_id": bound.userID})
		if errors.Is(err, ErrRemoteStore) {
			entry.Error("cart command failed")
		} else {
			entry.Debug("cart command rejected")
		}
	}
	return err
}

// refreshLocked reads the store and publishes the result. It returns the
// entries that were dropped because their listing no longer resolves.
func (m *CartManager) refreshLocked(ctx context.Context, t ticket) ([]domain.CartEntry, error) {
	t = m.reissue(t)
	if t.userID == "" {
		m.publish(t, domain.Snapshot{Entries: []domain.CartEntry{}})
		return nil, nil
	}

	m.setLoading(t, true)
	defer m.setLoading(t, false)

	entries, err := m.store.ListCartEntries(ctx, t.userID)
	if err != nil {
		return nil, storeError("list cart entries", err)
	}
	selections, err := m.store.ListDeliverySelections(ctx, t.userID)
	if err != nil {
		return nil, storeError("list delivery selections", err)
	}

	byEntry := make(map[string]domain.DeliverySelection, len(selections))
	for _, sel := range selections {
		byEntry[sel.EntryID] = sel
	}

	var dropped []domain.CartEntry
	resolved := make([]domain.CartEntry, 0, len(entries))
	for _, e := range entries {
		if !e.Resolved() {
			dropped = append(dropped, e)
			continue
		}
		e.Quantity = m.quantity(e.Quantity)
		e.Delivery = nil
		// a selection the listing no longer offers counts as unselected
		if sel, ok := byEntry[e.ID]; ok && e.Listing.Offers(sel.Method) {
			e.Delivery = &sel
		}
		if e.Delivery == nil {
			e.Delivery = m.autoSelect(ctx, t, e)
		}
		resolved = append(resolved, e)
	}
	if len(dropped) > 0 {
		m.log.WithFields(logrus.Fields{
			"user_id": t.userID,
			"count":   len(dropped),
		}).Debug("dropped cart entries with unresolved listings")
	}

	if !m.publishRefresh(t, domain.Snapshot{Entries: resolved}) && m.superseded(t) {
		return dropped, ErrIdentityChanged
	}
	return dropped, nil
}

// autoSelect persists the only method of a single-method listing. A failure
// leaves the entry unselected.
func (m *CartManager) autoSelect(ctx context.Context, t ticket, e domain.CartEntry) *domain.DeliverySelection {
	method, ok := e.Listing.SoleDeliveryMethod()
	if !ok {
		return nil
	}
	sel, err := m.store.UpsertDeliverySelection(ctx, t.userID, e.ID, method)
	if err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{
			"user_id":  t.userID,
			"entry_id": e.ID,
			"method":   method,
		}).Warn("failed to auto-select delivery method")
		return nil
	}
	return sel
}

func (m *CartManager) updateQuantityLocked(ctx context.Context, t ticket, entryID string, quantity int) error {
	if quantity < 1 {
		return m.removeLocked(ctx, t, entryID)
	}
	err := m.store.UpdateCartEntryQuantity(ctx, t.userID, entryID, m.quantity(quantity))
	if errors.Is(err, repository.ErrEntryNotFound) {
		if _, rerr := m.refreshLocked(ctx, t); rerr != nil {
			return rerr
		}
		return ErrEntryNotFound
	}
	if err != nil {
		return storeError("update cart entry quantity", err)
	}
	_, err = m.refreshLocked(ctx, t)
	return err
}

func (m *CartManager) removeLocked(ctx context.Context, t ticket, entryID string) error {
	if err := m.store.DeleteCartEntry(ctx, t.userID, entryID); err != nil && !errors.Is(err, repository.ErrEntryNotFound) {
		return storeError("delete cart entry", err)
	}
	_, err := m.refreshLocked(ctx, t)
	return err
}

func (m *CartManager) patchDelivery(t ticket, entryID string, sel *domain.DeliverySelection) error {
	t = m.reissue(t)
	patched, ok := m.current(t).WithDelivery(entryID, sel)
	if !ok {
		return ErrEntryNotFound
	}
	if !m.publish(t, patched) && m.superseded(t) {
		return ErrIdentityChanged
	}
	return nil
}

func (m *CartManager) bind() ticket {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return ticket{userID: m.userID, epoch: m.epoch}
}

func (m *CartManager) issue() ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	return ticket{userID: m.userID, epoch: m.epoch, seq: m.seq}
}

// reissue keeps the identity of t under a fresh sequence number.
func (m *CartManager) reissue(t ticket) ticket {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t.seq = m.seq
	return t
}

func (m *CartManager) superseded(t ticket) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return t.epoch != m.epoch
}

// current returns the published snapshot if it still belongs to t's identity.
func (m *CartManager) current(t ticket) domain.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if t.epoch != m.epoch || m.snapshot.UserID != t.userID {
		return domain.Snapshot{UserID: t.userID}
	}
	return m.snapshot
}

func (m *CartManager) setLoading(t ticket, loading bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.epoch == m.epoch {
		m.loading = loading
	}
}

func (m *CartManager) publish(t ticket, snap domain.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.publishLocked(t, snap)
}

// publishRefresh publishes the result of a store read and marks the identity
// as loaded.
func (m *CartManager) publishRefresh(t ticket, snap domain.Snapshot) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.publishLocked(t, snap) {
		return false
	}
	m.loaded = true
	return true
}

func (m *CartManager) publishLocked(t ticket, snap domain.Snapshot) bool {
	if t.epoch != m.epoch || t.seq <= m.published {
		metrics.DiscardedPublish()
		return false
	}
	snap.UserID = t.userID
	snap.Version = t.seq
	m.snapshot = snap
	m.published = t.seq

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap.Clone():
		default:
		}
	}
	return true
}

func storeError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrRemoteStore, op, err)
}
