package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/metrics"
)

func TestCollector_CountsOutcomes(t *testing.T) {
	c := metrics.New()

	c.BookingOutcome("ok")
	c.BookingOutcome("ok")
	c.BookingOutcome("slot_full")
	c.CancelOutcome("already_cancelled")
	c.ReplenishmentOutcome("succeeded")
	c.ConflictRetry("book")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Bookings.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Bookings.WithLabelValues("slot_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Cancellations.WithLabelValues("already_cancelled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Replenishments.WithLabelValues("succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ConflictRetries.WithLabelValues("book")))
}

func TestCollector_IndependentRegistries(t *testing.T) {
	a, b := metrics.New(), metrics.New()
	a.BookingOutcome("ok")

	assert.Equal(t, 1.0, testutil.ToFloat64(a.Bookings.WithLabelValues("ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.Bookings.WithLabelValues("ok")))
}

func TestCollector_MiddlewareUsesRoutePattern(t *testing.T) {
	c := metrics.New()
	r := chi.NewRouter()
	r.Use(c.Middleware)
	r.Get("/api/subscribers/{id}/status", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", c.Handler())

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/subscribers/abc/status", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.HTTPRequests.WithLabelValues(http.MethodGet, "/api/subscribers/{id}/status", "404")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "reservation_http_requests_total"))
}
