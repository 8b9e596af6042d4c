package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/circuitbreaker"
	"github.com/fjod/go_cart/marketplace-cart/internal/domain"
	"github.com/fjod/go_cart/marketplace-cart/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type CartHandler struct {
	sessions *service.Sessions
	timeout  time.Duration
	log      logrus.FieldLogger
}

func NewCartHandler(sessions *service.Sessions, timeout time.Duration, log logrus.FieldLogger) *CartHandler {
	return &CartHandler{
		sessions: sessions,
		timeout:  timeout,
		log:      log,
	}
}

type AddItemRequestDTO struct {
	ListingID string `json:"listing_id"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type SelectDeliveryRequestDTO struct {
	Method string `json:"method"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

type CartItemDTO struct {
	EntryID           string                  `json:"entry_id"`
	ListingID         string                  `json:"listing_id"`
	Title             string                  `json:"title"`
	Price             string                  `json:"price"`
	Quantity          int                     `json:"quantity"`
	Images            []string                `json:"images"`
	OwnerID           string                  `json:"owner_id"`
	ListingType       string                  `json:"listing_type,omitempty"`
	LocationTag       string                  `json:"location_tag,omitempty"`
	CategoryID        string                  `json:"category_id,omitempty"`
	DeliveryMethods   []domain.DeliveryMethod `json:"delivery_methods"`
	ShippingPrice     *string                 `json:"shipping_price"`
	OtherDeliveryInfo string                  `json:"other_delivery_info,omitempty"`
	SelectedDelivery  *domain.DeliveryMethod  `json:"selected_delivery"`
	DeliveryState     string                  `json:"delivery_state"`
	AddedAt           time.Time               `json:"added_at"`
}

type CartViewDTO struct {
	UserID                string        `json:"user_id,omitempty"`
	Items                 []CartItemDTO `json:"items"`
	CartCount             int           `json:"cart_count"`
	CartTotal             string        `json:"cart_total"`
	DeliveryTotal         string        `json:"delivery_total"`
	GrandTotal            string        `json:"grand_total"`
	Loading               bool          `json:"loading"`
	HasUnselectedDelivery bool          `json:"has_unselected_delivery"`
	Version               uint64        `json:"version"`
}

type DeliveryResponseDTO struct {
	EntryID string                 `json:"entry_id"`
	Method  *domain.DeliveryMethod `json:"method"`
	State   string                 `json:"state"`
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	if getUserIDFromContext(r.Context()) == "" {
		respondJSON(w, http.StatusOK, newCartView(domain.Snapshot{}, false))
		return
	}
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, newCartView(m.Snapshot(), m.Loading()))
}

// POST /api/v1/cart/refresh
func (h *CartHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, http.StatusOK, func(ctx context.Context, m *service.CartManager) error {
		return m.Refresh(ctx)
	})
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.ListingID == "" {
		respondError(w, http.StatusBadRequest, "invalid_listing_id", "listing_id is required")
		return
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	h.command(w, r, http.StatusCreated, func(ctx context.Context, m *service.CartManager) error {
		return m.Add(ctx, req.ListingID, req.Quantity)
	})
}

// PUT /api/v1/cart/items/{entry_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entry_id")
	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	h.command(w, r, http.StatusOK, func(ctx context.Context, m *service.CartManager) error {
		return m.UpdateQuantity(ctx, entryID, req.Quantity)
	})
}

// DELETE /api/v1/cart/items/{entry_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entry_id")
	h.command(w, r, http.StatusOK, func(ctx context.Context, m *service.CartManager) error {
		return m.Remove(ctx, entryID)
	})
}

// DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, http.StatusOK, func(ctx context.Context, m *service.CartManager) error {
		return m.Clear(ctx)
	})
}

// GET /api/v1/cart/items/{entry_id}/delivery
func (h *CartHandler) GetDelivery(w http.ResponseWriter, r *http.Request) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}
	entryID := chi.URLParam(r, "entry_id")
	entry, found := m.Snapshot().Entry(entryID)
	if !found {
		respondError(w, http.StatusNotFound, "entry_not_found", "cart entry not found")
		return
	}

	resp := DeliveryResponseDTO{EntryID: entryID, State: entry.DeliveryState().String()}
	if method, selected := m.DeliverySelection(entryID); selected {
		resp.Method = &method
	}
	respondJSON(w, http.StatusOK, resp)
}

// PUT /api/v1/cart/items/{entry_id}/delivery
func (h *CartHandler) SelectDelivery(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entry_id")
	var req SelectDeliveryRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	method, err := domain.ParseDeliveryMethod(req.Method)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_delivery_method", err.Error())
		return
	}

	h.command(w, r, http.StatusOK, func(ctx context.Context, m *service.CartManager) error {
		return m.SelectDeliveryMethod(ctx, entryID, method)
	})
}

// DELETE /api/v1/cart/items/{entry_id}/delivery
func (h *CartHandler) ClearDelivery(w http.ResponseWriter, r *http.Request) {
	entryID := chi.URLParam(r, "entry_id")
	h.command(w, r, http.StatusOK, func(ctx context.Context, m *service.CartManager) error {
		return m.ClearDeliverySelection(ctx, entryID)
	})
}

// POST /api/v1/session/logout
func (h *CartHandler) Logout(w http.ResponseWriter, r *http.Request) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	h.sessions.Close(ctx, userID)
	w.WriteHeader(http.StatusNoContent)
}

// manager opens the caller's session. It writes the error response itself.
func (h *CartHandler) manager(w http.ResponseWriter, r *http.Request) (*service.CartManager, bool) {
	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return nil, false
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	m, ok := h.sessions.Get(userID)
	if !ok {
		var err error
		if m, err = h.sessions.Open(ctx, userID); err != nil {
			h.handleServiceError(w, r, err)
			return nil, false
		}
		return m, true
	}
	// an earlier load failed; never serve the placeholder snapshot as the cart
	if !m.Loaded() {
		if err := m.Refresh(ctx); err != nil {
			h.handleServiceError(w, r, err)
			return nil, false
		}
	}
	return m, true
}

// command runs fn against the caller's manager and responds with the
// resulting cart view.
func (h *CartHandler) command(w http.ResponseWriter, r *http.Request, status int, fn func(context.Context, *service.CartManager) error) {
	m, ok := h.manager(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()
	if err := fn(ctx, m); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	respondJSON(w, status, newCartView(m.Snapshot(), m.Loading()))
}

func newCartView(snap domain.Snapshot, loading bool) CartViewDTO {
	items := make([]CartItemDTO, 0, len(snap.Entries))
	for _, e := range snap.Entries {
		if !e.Resolved() {
			continue
		}
		items = append(items, newCartItem(e))
	}
	return CartViewDTO{
		UserID:                snap.UserID,
		Items:                 items,
		CartCount:             snap.ItemCount(),
		CartTotal:             formatMoney(snap.MerchandiseTotal()),
		DeliveryTotal:         formatMoney(snap.DeliveryTotal()),
		GrandTotal:            formatMoney(snap.GrandTotal()),
		Loading:               loading,
		HasUnselectedDelivery: snap.HasUnselectedDeliveryMethods(),
		Version:               snap.Version,
	}
}

func newCartItem(e domain.CartEntry) CartItemDTO {
	l := e.Listing
	item := CartItemDTO{
		EntryID:           e.ID,
		ListingID:         e.ListingID,
		Title:             l.Title,
		Price:             formatMoney(l.Price),
		Quantity:          e.Quantity,
		Images:            l.Images,
		OwnerID:           l.OwnerID,
		ListingType:       l.ListingType,
		LocationTag:       l.LocationTag,
		CategoryID:        l.CategoryID,
		DeliveryMethods:   l.DeliveryMethods,
		OtherDeliveryInfo: l.OtherDeliveryInfo,
		DeliveryState:     e.DeliveryState().String(),
		AddedAt:           e.AddedAt,
	}
	if item.Images == nil {
		item.Images = []string{}
	}
	if item.DeliveryMethods == nil {
		item.DeliveryMethods = []domain.DeliveryMethod{}
	}
	if l.ShippingPrice != nil {
		sp := formatMoney(*l.ShippingPrice)
		item.ShippingPrice = &sp
	}
	if e.Delivery != nil {
		method := e.Delivery.Method
		item.SelectedDelivery = &method
	}
	return item
}

func formatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func getUserIDFromContext(ctx context.Context) string {
	if userID, ok := ctx.Value(userIDKey).(string); ok {
		return userID
	}
	return ""
}

func getRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(requestIDKey).(string); ok {
		return requestID
	}
	return ""
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logrus.WithError(err).Warn("failed to encode response")
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

func (h *CartHandler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var httpStatus int
	var code string

	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		httpStatus, code = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, service.ErrInvalidQuantity):
		httpStatus, code = http.StatusBadRequest, "invalid_quantity"
	case errors.Is(err, service.ErrInvalidDeliveryMethod), errors.Is(err, domain.ErrUnknownDeliveryMethod):
		httpStatus, code = http.StatusBadRequest, "invalid_delivery_method"
	case errors.Is(err, service.ErrEntryNotFound):
		httpStatus, code = http.StatusNotFound, "entry_not_found"
	case errors.Is(err, service.ErrListingNotFound):
		httpStatus, code = http.StatusNotFound, "listing_not_found"
	case errors.Is(err, service.ErrIdentityChanged):
		httpStatus, code = http.StatusConflict, "identity_changed"
	case errors.Is(err, circuitbreaker.ErrUnavailable):
		httpStatus, code = http.StatusServiceUnavailable, "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		httpStatus, code = http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, service.ErrRemoteStore):
		httpStatus, code = http.StatusServiceUnavailable, "store_error"
	default:
		h.log.WithError(err).WithField("request_id", getRequestID(r.Context())).Error("unhandled cart error")
		respondError(w, http.StatusInternalServerError, "internal_error", "internal server error")
		return
	}
	respondJSON(w, httpStatus, ErrorResponse{
		Error:   http.StatusText(httpStatus),
		Code:    code,
		Details: err.Error(),
	})
}
