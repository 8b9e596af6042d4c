package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveCommand(t *testing.T) {
	okBefore := testutil.ToFloat64(cartCommands.WithLabelValues("metrics_test", "ok"))
	errBefore := testutil.ToFloat64(cartCommands.WithLabelValues("metrics_test", "error"))

	ObserveCommand("metrics_test", time.Now(), nil)
	ObserveCommand("metrics_test", time.Now(), errors.New("boom"))
	ObserveCommand("metrics_test", time.Now(), errors.New("boom"))

	assert.Equal(t, okBefore+1, testutil.ToFloat64(cartCommands.WithLabelValues("metrics_test", "ok")))
	assert.Equal(t, errBefore+2, testutil.ToFloat64(cartCommands.WithLabelValues("metrics_test", "error")))
}

func TestGauges(t *testing.T) {
	SetActiveSessions(3)
	assert.Equal(t, float64(3), testutil.ToFloat64(activeSessions))

	SetBreakerState("metrics-test", 2)
	assert.Equal(t, float64(2), testutil.ToFloat64(breakerState.WithLabelValues("metrics-test")))

	before := testutil.ToFloat64(discardedPublishes)
	DiscardedPublish()
	assert.Equal(t, before+1, testutil.ToFloat64(discardedPublishes))
}

func TestInstrumentHTTP_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHTTP)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/items/{id}", "418"))
	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/items/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}
	assert.Equal(t, before+2, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/items/{id}", "418")))
}

func TestHandler_ExposesRegistry(t *testing.T) {
	SetActiveSessions(1)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "marketplace_cart_sessions_active 1"))
}

func TestInstrumentHTTP_UnmatchedRoutesShareLabel(t *testing.T) {
	r := chi.NewRouter()
	r.Use(InstrumentHTTP)
	r.Get("/items/{id}", func(w http.ResponseWriter, _ *http.Request) {})

	before := testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404"))
	for _, path := range []string{"/nope/1", "/nope/2", "/wp-admin.php"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusNotFound, rec.Code)
	}
	assert.Equal(t, before+3, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "unmatched", "404")))
	assert.Zero(t, testutil.ToFloat64(httpRequests.WithLabelValues(http.MethodGet, "/nope/1", "404")))
}
