package booking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// StatusReport is a read-only view of a subscriber's credit position.
type StatusReport struct {
	SubscriberID    SubscriberID
	Tier            Tier
	Active          bool
	ActivationDate  time.Time
	CurrentBalance  int
	TargetBalance   int
	LedgerExpiresAt *time.Time
	NextCycleDate   *time.Time // nil for non-weekly tiers or past the subscription end
	NextWeekNumber  int
	IsDue           bool
}

// Reporter answers status queries. It never writes.
type Reporter struct {
	store Store
	subs  SubscriptionSource
	opts  Options
}

func NewReporter(store Store, subs SubscriptionSource, opts Options) *Reporter {
	return &Reporter{store: store, subs: subs, opts: opts.withDefaults()}
}

// Status reports balance, target and the next replenishment cycle.
// IsDue is true when the current cycle is resettable and has no record yet.
func (r *Reporter) Status(ctx context.Context, subscriber SubscriberID) (StatusReport, error) {
	if err := ValidateID("subscriber_id", string(subscriber)); err != nil {
		return StatusReport{}, err
	}

	sub, err := r.subs.Subscription(ctx, subscriber)
	if err != nil {
		return StatusReport{}, err
	}

	rep := StatusReport{
		SubscriberID:   subscriber,
		Tier:           sub.Tier,
		Active:         sub.Active,
		ActivationDate: DateOf(sub.StartDate),
		TargetBalance:  r.opts.Tiers.Target(sub),
	}

	now := r.opts.Clock()
	entry, err := r.store.ActiveLedger(ctx, subscriber, now)
	switch {
	case err == nil:
		rep.CurrentBalance = entry.Balance
		expires := entry.ExpiresAt
		rep.LedgerExpiresAt = &expires
	case errors.Is(err, ErrNoActiveCredit):
	default:
		return StatusReport{}, fmt.Errorf("load ledger: %w", err)
	}

	if !sub.Active || !r.opts.Tiers.Weekly(sub.Tier) {
		return rep, nil
	}

	today := r.opts.today()
	next, week := NextCycle(sub.StartDate, today)
	if DueForReset(sub.StartDate, today) {
		current, currentWeek := CurrentCycle(sub.StartDate, today)
		done, err := r.store.ReplenishmentExists(ctx, subscriber, current)
		if err != nil {
			return StatusReport{}, fmt.Errorf("check replenishment: %w", err)
		}
		if !done && sub.Covers(today) {
			next, week = current, currentWeek
			rep.IsDue = true
		}
	}

	if next.After(DateOf(sub.EndDate)) {
		return rep, nil
	}
	rep.NextCycleDate = &next
	rep.NextWeekNumber = week
	return rep, nil
}
