/*
Package metrics exposes engine outcomes as Prometheus counters.

PURPOSE:
  Collector implements booking.Recorder. Each instance owns its registry, so
  tests and multiple servers in one process do not collide on the default
  registerer.

SERIES:
  reservation_bookings_total{outcome}        ok | already_booked | slot_full | ...
  reservation_cancellations_total{outcome}   ok | already_cancelled | ...
  reservation_replenishments_total{status}   succeeded | skipped | failed
  reservation_conflict_retries_total{op}     book | cancel | replenish | ...
  reservation_replenishment_run_seconds      duration of a batch
  reservation_http_requests_total{method, route, status_code}
*/
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/warp/reservation-engine/booking"
)

const namespace = "reservation"

var _ booking.Recorder = (*Collector)(nil)

type Collector struct {
	registry *prometheus.Registry

	Bookings         *prometheus.CounterVec
	Cancellations    *prometheus.CounterVec
	Replenishments   *prometheus.CounterVec
	ConflictRetries  *prometheus.CounterVec
	RunDuration      prometheus.Histogram
	HTTPRequests     *prometheus.CounterVec
	HTTPRequestTimes *prometheus.HistogramVec
}

// New creates a collector with its own registry, including Go runtime and
// process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bookings_total",
			Help:      "Booking attempts by outcome code",
		}, []string{"outcome"}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellation attempts by outcome code",
		}, []string{"outcome"}),
		Replenishments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replenishments_total",
			Help:      "Per-subscriber replenishment outcomes",
		}, []string{"status"}),
		ConflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Transactions re-run after a concurrent modification",
		}, []string{"op"}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "replenishment_run_seconds",
			Help:      "Duration of replenishment batches",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 600},
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.Bookings,
		c.Cancellations,
		c.Replenishments,
		c.ConflictRetries,
		c.RunDuration,
		c.HTTPRequests,
		c.HTTPRequestTimes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) BookingOutcome(code string) { c.Bookings.WithLabelValues(code).Inc() }
func (c *Collector) CancelOutcome(code string) { c.Cancellations.WithLabelValues(code).Inc() }
func (c *Collector) ReplenishmentOutcome(status string) { c.Replenishments.WithLabelValues(status).Inc() }
func (c *Collector) ConflictRetry(op string) { c.ConflictRetries.WithLabelValues(op).Inc() }

// ObserveRun records the duration of a replenishment batch.
func (c *Collector) ObserveRun(d time.Duration) {
	c.RunDuration.Observe(d.Seconds())
}

// Middleware counts requests by chi route pattern, so path parameters do
// not explode label cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		c.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		c.HTTPRequestTimes.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
