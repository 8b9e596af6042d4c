package http

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/marketplace-cart/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// StreamPath is served without the request timeout.
const StreamPath = "/api/v1/cart/stream"

func NewRouter(cart *CartHandler, limiter *RateLimiter, log logrus.FieldLogger, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(AccessLog(log))
	r.Use(metrics.InstrumentHTTP)
	r.Use(AuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(limiter.Handler)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/stream", cart.Stream)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(requestTimeout))
				r.Get("/", cart.GetCart)
				r.Delete("/", cart.ClearCart)
				r.Post("/refresh", cart.Refresh)
				r.Post("/items", cart.AddItem)
				r.Put("/items/{entry_id}", cart.UpdateQuantity)
				r.Delete("/items/{entry_id}", cart.RemoveItem)
				r.Get("/items/{entry_id}/delivery", cart.GetDelivery)
				r.Put("/items/{entry_id}/delivery", cart.SelectDelivery)
				r.Delete("/items/{entry_id}/delivery", cart.ClearDelivery)
			})
		})

		r.With(middleware.Timeout(requestTimeout)).Post("/session/logout", cart.Logout)
	})

	return r
}
