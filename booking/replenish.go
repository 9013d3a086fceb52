/*
replenish.go - Weekly credit replenishment

PURPOSE:
  Resets the balance of every weekly-tier subscriber to its tier target once
  per weekly cycle. The trigger (a cron job, an admin call) lives outside this
  package; this file is the work done per trigger.

IDEMPOTENCY:
  The key is (subscriber, cycle date). A subscriber whose record for the
  current cycle already exists is skipped, and the unique constraint on the
  record table makes a concurrent duplicate fail its insert and roll back.
  Running the job twice in a cycle changes nothing the second time.

ISOLATION:
  Each subscriber is processed in its own transaction by a bounded worker
  pool. One failure is counted and logged; the batch continues.

SUMMARY:
  processed = succeeded + failed. Skipped subscribers are reported separately
  and are not part of processed.

SEE ALSO:
  - cycle.go: cycle date arithmetic
  - api/scheduler.go: gocron trigger
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// SchedulerConfig bounds a replenishment batch.
type SchedulerConfig struct {
	Workers      int
	BatchTimeout time.Duration
}

// DefaultSchedulerConfig is 8 workers and a 10 minute batch timeout.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Workers: 8, BatchTimeout: 10 * time.Minute}
}

// Scheduler performs replenishment runs.
type Scheduler struct {
	store    Store
	subs     SubscriptionSource
	features FeatureToggle
	cfg      SchedulerConfig
	opts     Options
	log      *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(store Store, subs SubscriptionSource, features FeatureToggle, cfg SchedulerConfig, opts Options) *Scheduler {
	opts = opts.withDefaults()
	def := DefaultSchedulerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = def.BatchTimeout
	}
	return &Scheduler{
		store:    store,
		subs:     subs,
		features: features,
		cfg:      cfg,
		opts:     opts,
		log:      opts.Logger.With("component", "replenishment"),
	}
}

// =============================================================================
// RESULTS
// =============================================================================

type ReplenishmentStatus string

const (
	ReplenishSucceeded ReplenishmentStatus = "succeeded"
	ReplenishSkipped   ReplenishmentStatus = "skipped"
	ReplenishFailed    ReplenishmentStatus = "failed"
)

// ReplenishmentDetail is the outcome for one subscriber.
type ReplenishmentDetail struct {
	SubscriberID    SubscriberID
	Tier            Tier
	CycleDate       time.Time
	WeekNumber      int
	PreviousBalance int
	NewBalance      int
	Status          ReplenishmentStatus
	Error           string
}

// ReplenishmentSummary is the outcome of a batch.
type ReplenishmentSummary struct {
	Processed int
	Succeeded int
	Skipped   int
	Failed    int
	Disabled  bool
	RunAt     time.Time
	Details   []ReplenishmentDetail
}

// =============================================================================
// BATCH
// =============================================================================

// RunReplenishment resets every due weekly-tier subscriber. It is a no-op
// while the weekly refill feature is switched off.
func (s *Scheduler) RunReplenishment(ctx context.Context) (ReplenishmentSummary, error) {
	summary := ReplenishmentSummary{RunAt: s.opts.Clock()}

	enabled, err := s.features.Enabled(ctx, FeatureWeeklyRefill)
	if err != nil {
		return summary, fmt.Errorf("read feature %s: %w", FeatureWeeklyRefill, err)
	}
	if !enabled {
		s.log.Info("replenishment disabled by feature toggle")
		summary.Disabled = true
		return summary, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.BatchTimeout)
	defer cancel()

	today := s.opts.today()
	subs, err := s.subs.ActiveSubscriptions(ctx, today)
	if err != nil {
		return summary, fmt.Errorf("list active subscriptions: %w", err)
	}

	var due []Subscription
	for _, sub := range subs {
		if !sub.Active || !s.opts.Tiers.Weekly(sub.Tier) || !sub.Covers(today) {
			continue
		}
		if !DueForReset(sub.StartDate, today) {
			continue
		}
		due = append(due, sub)
	}

	details := make([]ReplenishmentDetail, len(due))
	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i, sub := range due {
		g.Go(func() error {
			details[i], _ = s.replenish(ctx, sub, today)
			return nil
		})
	}
	_ = g.Wait()

	for _, d := range details {
		switch d.Status {
		case ReplenishSucceeded:
			summary.Succeeded++
		case ReplenishSkipped:
			summary.Skipped++
		case ReplenishFailed:
			summary.Failed++
		}
		s.opts.Metrics.ReplenishmentOutcome(string(d.Status))
	}
	summary.Processed = summary.Succeeded + summary.Failed
	summary.Details = details

	s.log.Info("replenishment run finished",
		slog.Int("processed", summary.Processed),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed))
	return summary, nil
}

// =============================================================================
// STATS
// =============================================================================

// ReplenishmentStats counts recent replenishments by cycle date.
type ReplenishmentStats struct {
	Today     int
	ThisWeek  int
	WeekStart time.Time // Sunday of the current week
	Enabled   bool
	AsOf      time.Time
}

// Stats reports replenishments dated today and since the start of the week,
// along with the state of the weekly refill toggle.
func (s *Scheduler) Stats(ctx context.Context) (ReplenishmentStats, error) {
	today := s.opts.today()
	st := ReplenishmentStats{
		WeekStart: today.AddDate(0, 0, -int(today.Weekday())),
		AsOf:      s.opts.Clock(),
	}

	var err error
	if st.Today, err = s.store.CountReplenishments(ctx, today, today); err != nil {
		return st, fmt.Errorf("count today's replenishments: %w", err)
	}
	if st.ThisWeek, err = s.store.CountReplenishments(ctx, st.WeekStart, today); err != nil {
		return st, fmt.Errorf("count this week's replenishments: %w", err)
	}
	if st.Enabled, err = s.features.Enabled(ctx, FeatureWeeklyRefill); err != nil {
		return st, fmt.Errorf("read feature %s: %w", FeatureWeeklyRefill, err)
	}
	return st, nil
}

// =============================================================================
// SINGLE SUBSCRIBER
// =============================================================================

// ManualReplenish runs one replenishment for subscriber regardless of the
// feature toggle. In the activation week it targets the activation date.
func (s *Scheduler) ManualReplenish(ctx context.Context, subscriber SubscriberID) (ReplenishmentDetail, error) {
	if err := ValidateID("subscriber_id", string(subscriber)); err != nil {
		return ReplenishmentDetail{}, err
	}

	today := s.opts.today()
	sub, err := s.subs.Subscription(ctx, subscriber)
	if errors.Is(err, ErrSubscriberNotFound) {
		return ReplenishmentDetail{}, ErrNoActiveSubscription
	}
	if err != nil {
		return ReplenishmentDetail{}, err
	}
	if !sub.Active || !s.opts.Tiers.Weekly(sub.Tier) || !sub.Covers(today) {
		return ReplenishmentDetail{}, ErrNoActiveSubscription
	}

	d, err := s.replenish(ctx, sub, today)
	s.opts.Metrics.ReplenishmentOutcome(string(d.Status))
	return d, err
}

// replenish resets one subscriber for the cycle containing today. A skip is
// not an error; a failure is returned alongside the detail.
func (s *Scheduler) replenish(ctx context.Context, sub Subscription, today time.Time) (ReplenishmentDetail, error) {
	cycle, week := CurrentCycle(sub.StartDate, today)
	target := s.opts.Tiers.Target(sub)
	d := ReplenishmentDetail{
		SubscriberID: sub.SubscriberID,
		Tier:         sub.Tier,
		CycleDate:    cycle,
		WeekNumber:   week,
		NewBalance:   target,
	}
	log := s.log.With(
		slog.String("subscriber_id", string(sub.SubscriberID)),
		slog.String("cycle_date", cycle.Format(time.DateOnly)))

	err := s.opts.Retry.Do(ctx, "replenish", func() { s.opts.Metrics.ConflictRetry("replenish") }, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx Tx) error {
			prev, err := s.resetTx(ctx, tx, sub, cycle, week, target)
			d.PreviousBalance = prev
			return err
		})
	})

	switch {
	case err == nil:
		d.Status = ReplenishSucceeded
		log.Info("balance replenished",
			slog.Int("previous_balance", d.PreviousBalance),
			slog.Int("new_balance", d.NewBalance))
	case errors.Is(err, ErrAlreadyReplenished):
		d.Status = ReplenishSkipped
		d.PreviousBalance = 0
		log.Debug("already replenished for cycle")
	default:
		d.Status = ReplenishFailed
		d.Error = err.Error()
		log.Error("replenishment failed", slog.Any("error", err))
		return d, err
	}
	return d, nil
}

func (s *Scheduler) resetTx(ctx context.Context, tx Tx, sub Subscription, cycle time.Time, week, target int) (int, error) {
	exists, err := tx.ReplenishmentExists(ctx, sub.SubscriberID, cycle)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, ErrAlreadyReplenished
	}

	now := s.opts.Clock()
	var previous int
	entry, err := tx.ActiveLedger(ctx, sub.SubscriberID, now)
	switch {
	case err == nil:
		previous = entry.Balance
		if err := tx.ResetLedger(ctx, entry.ID, target); err != nil {
			return 0, err
		}
	case errors.Is(err, ErrNoActiveCredit):
		entry = LedgerEntry{
			ID:           LedgerEntryID(NewID()),
			SubscriberID: sub.SubscriberID,
			Balance:      target,
			ExpiresAt:    ExpiryAfter(sub.EndDate, s.opts.Location),
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.OpenLedger(ctx, entry); err != nil {
			return 0, err
		}
	default:
		return 0, err
	}

	if err := tx.InsertReplenishment(ctx, ReplenishmentRecord{
		ID:              NewID(),
		SubscriberID:    sub.SubscriberID,
		Tier:            sub.Tier,
		CycleDate:       cycle,
		WeekNumber:      week,
		PreviousBalance: previous,
		NewBalance:      target,
		CreatedAt:       now,
	}); err != nil {
		return 0, err
	}

	if err := tx.AppendAudit(ctx, AuditEntry{
		ID:            NewID(),
		SubscriberID:  sub.SubscriberID,
		LedgerEntryID: entry.ID,
		Action:        AuditReplenished,
		At:            now,
		Detail:        fmt.Sprintf("week %d: balance %d -> %d", week, previous, target),
	}); err != nil {
		return 0, err
	}
	return previous, nil
}
