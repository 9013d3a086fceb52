package booking_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/booking"
	"github.com/warp/reservation-engine/booking/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// monday is the default "now" for engine tests: Monday 2026-03-02 09:00 UTC.
var monday = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	now   time.Time
	mem   *store.Memory
	opts  booking.Options
	coord *booking.Coordinator
	sched *booking.Scheduler
	rep   *booking.Reporter
}

func newFixture(t *testing.T) *fixture {
	return newFixtureIn(t, nil)
}

// newFixtureIn builds a fixture whose engine runs in loc (UTC when nil).
func newFixtureIn(t *testing.T, loc *time.Location) *fixture {
	t.Helper()
	f := &fixture{t: t, ctx: context.Background(), now: monday, mem: store.NewMemory()}
	f.opts = booking.Options{
		Clock:    func() time.Time { return f.now },
		Location: loc,
		Retry:    booking.RetryPolicy{MaxAttempts: 3, Base: time.Millisecond},
	}
	f.coord = booking.NewCoordinator(f.mem, f.opts)
	f.sched = booking.NewScheduler(f.mem, f.mem, f.mem, booking.SchedulerConfig{Workers: 4}, f.opts)
	f.rep = booking.NewReporter(f.mem, f.mem, f.opts)
	return f
}

// subscribe stores a subscription starting on start and running 12 weeks,
// then opens its ledger.
func (f *fixture) subscribe(tier booking.Tier, start time.Time, packageCredits int) booking.SubscriberID {
	f.t.Helper()
	sub := booking.Subscription{
		SubscriberID:   booking.SubscriberID(booking.NewID()),
		Tier:           tier,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 12*7-1),
		Active:         true,
		PackageCredits: packageCredits,
	}
	require.NoError(f.t, f.mem.SaveSubscription(f.ctx, sub))
	_, err := f.coord.OpenLedger(f.ctx, sub)
	require.NoError(f.t, err)
	return sub.SubscriberID
}

func (f *fixture) slot(date time.Time, start string, capacity int) booking.SlotID {
	f.t.Helper()
	id := booking.SlotID(booking.NewID())
	require.NoError(f.t, f.mem.SaveSlot(f.ctx, booking.Slot{
		ID:        id,
		Date:      date,
		StartTime: start,
		Capacity:  capacity,
		Active:    true,
	}))
	return id
}

// tomorrowSlot creates a slot on the day after now.
func (f *fixture) tomorrowSlot(capacity int) booking.SlotID {
	return f.slot(booking.DateOf(f.now).AddDate(0, 0, 1), "10:00", capacity)
}

func (f *fixture) balance(sub booking.SubscriberID) int {
	f.t.Helper()
	e, err := f.mem.ActiveLedger(f.ctx, sub, f.now)
	require.NoError(f.t, err)
	return e.Balance
}

func (f *fixture) occupancy(slot booking.SlotID) int {
	f.t.Helper()
	s, err := f.mem.Slot(f.ctx, slot)
	require.NoError(f.t, err)
	return s.Occupancy
}

// =============================================================================
// FAULT INJECTION
// =============================================================================

// faultyStore wraps the memory store and lets a test fail a transaction
// from inside.
type faultyStore struct {
	*store.Memory
	failInsertReplenishment func(booking.ReplenishmentRecord) error
	failInsertReservation   func() error
}

func (s *faultyStore) WithTx(ctx context.Context, fn func(booking.Tx) error) error {
	return s.Memory.WithTx(ctx, func(tx booking.Tx) error {
		return fn(&faultyTx{Tx: tx, s: s})
	})
}

type faultyTx struct {
	booking.Tx
	s *faultyStore
}

func (tx *faultyTx) InsertReplenishment(ctx context.Context, rec booking.ReplenishmentRecord) error {
	if tx.s.failInsertReplenishment != nil {
		if err := tx.s.failInsertReplenishment(rec); err != nil {
			return err
		}
	}
	return tx.Tx.InsertReplenishment(ctx, rec)
}

func (tx *faultyTx) InsertReservation(ctx context.Context, r booking.Reservation) error {
	if tx.s.failInsertReservation != nil {
		if err := tx.s.failInsertReservation(); err != nil {
			return err
		}
	}
	return tx.Tx.InsertReservation(ctx, r)
}
