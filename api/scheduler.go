/*
scheduler.go - Cron jobs for replenishment and ledger expiry

PURPOSE:
  Runs the weekly replenishment batch and the ledger expiry sweep on cron
  schedules with gocron. Each subscriber's weekly cycle is anchored on their
  own start date, so the replenishment job runs daily and the batch picks
  whoever is due that day.

DESIGN:
  - Jobs run in singleton mode: a run still in progress when the next tick
    arrives causes that tick to be rescheduled, never overlapped
  - Idempotency comes from the (subscriber, cycle date) record, so a
    missed or repeated tick is harmless
  - Jobs share a context that Stop cancels

CONFIGURATION:
  - Cron:       replenishment schedule (default: "0 6 * * *")
  - ExpiryCron: ledger expiry schedule (default: "30 0 * * *")
  - Location:   zone the cron expressions are evaluated in

USAGE:
  rs := NewReplenishmentScheduler(handler, collector, loc)
  if err := rs.Start(); err != nil { ... }
  defer rs.Stop()

SEE ALSO:
  - booking/replenish.go: RunReplenishment
  - handlers.go: RunReplenishment endpoint (manual trigger)
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/warp/reservation-engine/booking"
)

// RunObserver records how long a replenishment batch took.
type RunObserver interface {
	ObserveRun(d time.Duration)
}

// ReplenishmentScheduler owns the cron jobs.
type ReplenishmentScheduler struct {
	Cron       string
	ExpiryCron string
	Location   *time.Location

	handler  *Handler
	observer RunObserver
	log      *slog.Logger

	mu     sync.Mutex
	cron   gocron.Scheduler
	jobs   map[string]gocron.Job
	ctx    context.Context
	cancel context.CancelFunc
}

// NewReplenishmentScheduler creates a scheduler with the default schedules.
// observer may be nil.
func NewReplenishmentScheduler(h *Handler, observer RunObserver, loc *time.Location) *ReplenishmentScheduler {
	if loc == nil {
		loc = time.UTC
	}
	return &ReplenishmentScheduler{
		Cron:       "0 6 * * *",
		ExpiryCron: "30 0 * * *",
		Location:   loc,
		handler:    h,
		observer:   observer,
		log:        h.log.With("component", "cron"),
		jobs:       make(map[string]gocron.Job),
	}
}

// Start registers the jobs and starts the cron scheduler.
func (rs *ReplenishmentScheduler) Start() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron != nil {
		return errors.New("scheduler already started")
	}

	s, err := gocron.NewScheduler(gocron.WithLocation(rs.Location))
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}
	rs.ctx, rs.cancel = context.WithCancel(context.Background())

	replenish, err := s.NewJob(
		gocron.CronJob(rs.Cron, false),
		gocron.NewTask(rs.replenish),
		gocron.WithName("weekly-replenishment"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		rs.cancel()
		_ = s.Shutdown()
		return fmt.Errorf("register replenishment job %q: %w", rs.Cron, err)
	}

	expire, err := s.NewJob(
		gocron.CronJob(rs.ExpiryCron, false),
		gocron.NewTask(rs.expire),
		gocron.WithName("ledger-expiry"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		rs.cancel()
		_ = s.Shutdown()
		return fmt.Errorf("register expiry job %q: %w", rs.ExpiryCron, err)
	}

	rs.jobs["replenishment"] = replenish
	rs.jobs["expiry"] = expire
	s.Start()
	rs.cron = s

	rs.log.Info("scheduler started",
		slog.String("cron", rs.Cron),
		slog.String("expiry_cron", rs.ExpiryCron),
		slog.String("location", rs.Location.String()))
	return nil
}

// Stop cancels running jobs and shuts the scheduler down.
func (rs *ReplenishmentScheduler) Stop() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.cron == nil {
		return nil
	}
	rs.cancel()
	err := rs.cron.Shutdown()
	rs.cron = nil
	rs.jobs = make(map[string]gocron.Job)
	rs.log.Info("scheduler stopped")
	return err
}

// NextRun returns when the replenishment job fires next.
func (rs *ReplenishmentScheduler) NextRun() (time.Time, error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	job, ok := rs.jobs["replenishment"]
	if !ok {
		return time.Time{}, errors.New("scheduler not started")
	}
	return job.NextRun()
}

// RunNow runs a replenishment batch immediately.
func (rs *ReplenishmentScheduler) RunNow(ctx context.Context) (booking.ReplenishmentSummary, error) {
	start := time.Now()
	summary, err := rs.handler.Scheduler.RunReplenishment(ctx)
	if rs.observer != nil {
		rs.observer.ObserveRun(time.Since(start))
	}
	return summary, err
}

func (rs *ReplenishmentScheduler) replenish() {
	summary, err := rs.RunNow(rs.ctx)
	if err != nil {
		rs.log.Error("replenishment run failed", slog.Any("error", err))
		return
	}
	if summary.Failed > 0 {
		rs.log.Warn("replenishment run finished with failures",
			slog.Int("processed", summary.Processed),
			slog.Int("failed", summary.Failed))
	}
}

func (rs *ReplenishmentScheduler) expire() {
	n, err := rs.handler.Coordinator.ExpireLedgers(rs.ctx)
	if err != nil {
		rs.log.Error("ledger expiry failed", slog.Any("error", err))
		return
	}
	if n > 0 {
		rs.log.Info("ledgers expired", slog.Int("count", n))
	}
}
