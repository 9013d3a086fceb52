/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reservation engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags and load configuration
  2. Build logger and metrics collector
  3. Open the configured store (sqlite, postgres or memory)
  4. Create API handler and router
  5. Start the cron scheduler (if enabled)
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config    YAML config file (optional; APP_* env vars override any key)
  -scenario  Load a demo scenario at startup (resets the store)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the cron scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close the store
  5. Exit

EXAMPLES:
  # Run with defaults (sqlite at ./data/reservations.db)
  ./server

  # Run against Postgres
  APP_STORE_DRIVER=postgres APP_POSTGRES_DSN=postgres://... ./server

  # Run in memory with demo data
  APP_STORE_DRIVER=memory ./server -scenario=weekly-ultimate

SEE ALSO:
  - config/config.go: configuration keys
  - api/server.go: Router configuration
  - api/scheduler.go: cron jobs
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/warp/reservation-engine/api"
	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/booking/store"
	"github.com/warp/reservation-engine/config"
	"github.com/warp/reservation-engine/factory"
	"github.com/warp/reservation-engine/logging"
	"github.com/warp/reservation-engine/metrics"
	"github.com/warp/reservation-engine/store/postgres"
	"github.com/warp/reservation-engine/store/sqlite"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "YAML config file")
	scenario := flag.String("scenario", "", "demo scenario to load at startup")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.App.Env)
	if err := run(cfg, *scenario, logger); err != nil {
		logger.Error("server failed", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfg config.Config, scenario string, logger *slog.Logger) error {
	ctx := context.Background()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}
	tierFactory := factory.NewTierFactory()
	tiers, err := tierFactory.ParseTiers(cfg.Tiers)
	if err != nil {
		return err
	}
	for _, t := range tierFactory.ToJSON(tiers).Tiers {
		logger.Info("tier configured",
			slog.String("tier", t.Name),
			slog.Bool("weekly", t.Weekly),
			slog.Int("target", t.Target))
	}

	// Initialize store
	backend, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	collector := metrics.New()
	opts := booking.Options{
		Location: loc,
		Retry:    booking.RetryPolicy{MaxAttempts: cfg.Booking.MaxAttempts, Base: cfg.Booking.RetryBase},
		Logger:   logger,
		Tiers:    tiers,
	}
	if cfg.Metrics.Enabled {
		opts.Metrics = collector
	}

	// Initialize handler
	handler := api.NewHandler(backend, booking.SchedulerConfig{
		Workers:      cfg.Scheduler.Workers,
		BatchTimeout: cfg.Scheduler.BatchTimeout,
	}, opts)

	if scenario != "" {
		if err := handler.LoadScenarioByID(ctx, scenario); err != nil {
			return fmt.Errorf("load scenario: %w", err)
		}
		logger.Info("scenario loaded", slog.String("scenario", scenario))
	}

	// Create router
	var routerOpts []api.RouterOption
	if cfg.Metrics.Enabled {
		routerOpts = append(routerOpts, api.WithMetrics(collector))
	}
	router := api.NewRouter(handler, routerOpts...)

	// Start cron jobs
	if cfg.Scheduler.Enabled {
		rs := api.NewReplenishmentScheduler(handler, collector, loc)
		rs.Cron = cfg.Scheduler.Cron
		rs.ExpiryCron = cfg.Scheduler.ExpiryCron
		if err := rs.Start(); err != nil {
			return err
		}
		defer rs.Stop()
	}

	// Create server
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("addr", cfg.HTTP.Addr),
			slog.String("store", cfg.Store.Driver),
			slog.String("timezone", loc.String()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}

// openStore builds the configured backend and a func that releases it.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (api.Backend, func(), error) {
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := postgres.Connect(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool), pool.Close, nil

	case "memory":
		logger.Warn("using in-memory store; data is lost on exit")
		return store.NewMemory(), func() {}, nil

	default:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." && cfg.SQLite.Path != ":memory:" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, nil, fmt.Errorf("create data dir: %w", err)
			}
		}
		s, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("initialize database: %w", err)
		}
		return s, func() { s.Close() }, nil
	}
}
