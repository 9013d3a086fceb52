/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. Metrics:    Request counters and latency by route pattern (optional)
  5. CORS:       Cross-origin requests for the front desk app

ROUTE GROUPS:
  /api/reservations/*   Book and cancel
  /api/subscribers/*    Status, history, audit, manual replenishment
  /api/subscriptions    Subscription projection updates
  /api/slots/*          Slot management and rosters
  /api/admin/*          Replenishment runs and stats, feature flags, ledger expiry
  /api/scenarios/*      Demo scenarios
  /health               Liveness
  /metrics              Prometheus scrape endpoint (optional)

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Instrumentation is the metrics surface the router mounts.
type Instrumentation interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// RouterOption customises NewRouter.
type RouterOption func(*routerConfig)

type routerConfig struct {
	metrics        Instrumentation
	allowedOrigins []string
}

// WithMetrics mounts request instrumentation and GET /metrics.
func WithMetrics(m Instrumentation) RouterOption {
	return func(c *routerConfig) { c.metrics = m }
}

// WithAllowedOrigins replaces the default CORS origins.
func WithAllowedOrigins(origins ...string) RouterOption {
	return func(c *routerConfig) { c.allowedOrigins = origins }
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts ...RouterOption) *chi.Mux {
	cfg := routerConfig{
		allowedOrigins: []string{"http://localhost:5173", "http://localhost:8080"},
	}
	for _, o := range opts {
		o(&cfg)
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if cfg.metrics != nil {
		r.Use(cfg.metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/health", h.Health)
	if cfg.metrics != nil {
		r.Handle("/metrics", cfg.metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Reservation routes
		r.Route("/reservations", func(r chi.Router) {
			r.Post("/", h.Book)
			r.Post("/{id}/cancel", h.CancelReservation)
		})

		// Subscriber routes
		r.Route("/subscribers/{id}", func(r chi.Router) {
			r.Get("/status", h.GetStatus)
			r.Get("/reservations", h.ListReservations)
			r.Get("/replenishments", h.ListReplenishments)
			r.Get("/audit", h.ListAudit)
			r.Post("/replenish", h.ManualReplenish)
		})
		r.Put("/subscriptions", h.SaveSubscription)

		// Slot routes
		r.Route("/slots", func(r chi.Router) {
			r.Get("/", h.ListSlots)
			r.Post("/", h.CreateSlot)
			r.Get("/{id}/reservations", h.ListSlotReservations)
			r.Delete("/{id}", h.DeactivateSlot)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/replenishments/run", h.RunReplenishment)
			r.Get("/replenishments", h.ListRecentReplenishments)
			r.Get("/replenishments/stats", h.ReplenishmentStats)
			r.Get("/features/{name}", h.GetFeature)
			r.Put("/features/{name}", h.SetFeature)
			r.Post("/ledgers/expire", h.ExpireLedgers)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
