// Package metrics holds the Prometheus collectors of the cart service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	cartCommands = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace_cart",
			Subsystem: "manager",
			Name:      "commands_total",
			Help:      "Cart commands executed, by operation and result.",
		},
		[]string{"op", "result"},
	)

	cartCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace_cart",
			Subsystem: "manager",
			Name:      "command_duration_seconds",
			Help:      "Duration of cart commands including the store round-trips.",
			Buckets:   prometheus.ExponentialBuckets(0.002, 2, 12), // 2ms to ~4s
		},
		[]string{"op"},
	)

	discardedPublishes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "marketplace_cart",
			Subsystem: "manager",
			Name:      "discarded_publishes_total",
			Help:      "Snapshots dropped because a newer one was published or the identity changed.",
		},
	)

	queuedCommands = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace_cart",
			Subsystem: "manager",
			Name:      "queued_commands",
			Help:      "Cart commands waiting for an earlier command of the same cart.",
		},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "marketplace_cart",
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Cart managers currently open.",
		},
	)

	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "marketplace_cart",
			Subsystem: "store",
			Name:      "breaker_state",
			Help:      "Circuit breaker state of the cart store (0 closed, 1 half-open, 2 open).",
		},
		[]string{"name"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "marketplace_cart",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "marketplace_cart",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "path"},
	)
)

func init() {
	Registry.MustRegister(
		cartCommands,
		cartCommandDuration,
		discardedPublishes,
		queuedCommands,
		activeSessions,
		breakerState,
		httpRequests,
		httpDuration,
	)
}

// Handler exposes the registry for scraping.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

func ObserveCommand(op string, started time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	cartCommands.WithLabelValues(op, result).Inc()
	cartCommandDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func DiscardedPublish() {
	discardedPublishes.Inc()
}

func CommandQueued(delta int) {
	queuedCommands.Add(float64(delta))
}

func SetActiveSessions(n int) {
	activeSessions.Set(float64(n))
}

func SetBreakerState(name string, state int) {
	breakerState.WithLabelValues(name).Set(float64(state))
}

// InstrumentHTTP records request counts and latency keyed by the chi route
// pattern. Requests that match no route share the "unmatched" label.
func InstrumentHTTP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		path := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		httpRequests.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		httpDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
