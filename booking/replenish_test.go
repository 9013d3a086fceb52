package booking_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// WEEKLY RUN
// =============================================================================

func TestReplenishment_UltimateWeek(t *testing.T) {
	// GIVEN: Ultimate subscriber activated Monday, spends all 3 credits
	// WHEN: The fourth booking is attempted, one booking is cancelled, then
	//       the next cycle is replenished twice
	// THEN: Fourth booking is refused; the run resets 1 to 3; the rerun is a no-op

	f := newFixture(t)
	start := booking.DateOf(monday)
	sub := f.subscribe(booking.TierUltimate, start, 0)

	var booked []booking.ReservationID
	for i := 0; i < 3; i++ {
		res, err := f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
		require.NoError(t, err)
		booked = append(booked, res.ReservationID)
	}
	_, err := f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
	require.ErrorIs(t, err, booking.ErrInsufficientBalance)
	assert.Equal(t, 0, f.balance(sub))

	_, err = f.coord.Cancel(f.ctx, booked[0])
	require.NoError(t, err)
	assert.Equal(t, 1, f.balance(sub))

	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)
	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Details, 1)
	d := summary.Details[0]
	assert.Equal(t, day(2026, time.March, 9), d.CycleDate)
	assert.Equal(t, 2, d.WeekNumber)
	assert.Equal(t, 1, d.PreviousBalance)
	assert.Equal(t, 3, d.NewBalance)
	assert.Equal(t, 3, f.balance(sub))

	again, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, again.Processed)
	assert.Equal(t, 3, f.balance(sub))
}

func TestReplenishment_ResetsRatherThanAdds(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	for i := 0; i < 2; i++ {
		_, err := f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
		require.NoError(t, err)
	}

	f.now = time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC)
	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)

	require.Len(t, summary.Details, 1)
	assert.Equal(t, 1, summary.Details[0].PreviousBalance)
	assert.Equal(t, 3, f.balance(sub), "unused credits do not carry over")
}

func TestReplenishment_SecondRunInCycleIsNoop(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)

	first, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Succeeded)

	_, err = f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
	require.NoError(t, err)

	second, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed)
	assert.Equal(t, 1, second.Skipped)
	assert.Equal(t, 2, f.balance(sub), "second run must not touch the balance")

	records, err := f.mem.Replenishments(f.ctx, sub)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestReplenishment_ActivationWeekNotScheduled(t *testing.T) {
	f := newFixture(t)
	f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)

	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, summary.Details)
}

func TestReplenishment_MidweekActivationAnchorsCycle(t *testing.T) {
	// GIVEN: Activated on a Wednesday
	// WHEN: Run the following Thursday
	// THEN: Cycle date is the following Wednesday, week 2

	f := newFixture(t)
	f.subscribe(booking.TierUltimateMedium, day(2026, time.March, 4), 0)
	f.now = time.Date(2026, time.March, 12, 6, 0, 0, 0, time.UTC)

	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	require.Len(t, summary.Details, 1)
	assert.Equal(t, day(2026, time.March, 11), summary.Details[0].CycleDate)
	assert.Equal(t, 2, summary.Details[0].WeekNumber)
	assert.Equal(t, 1, summary.Details[0].NewBalance)
}

func TestReplenishment_SkipsNonWeeklyTiers(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierStandard, booking.DateOf(monday), 10)
	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)

	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, summary.Details)
	assert.Equal(t, 10, f.balance(sub))
}

func TestReplenishment_DisabledByFeatureToggle(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	_, err := f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
	require.NoError(t, err)

	require.NoError(t, f.mem.SetFeature(f.ctx, booking.FeatureWeeklyRefill, false))
	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)

	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.True(t, summary.Disabled)
	assert.Equal(t, 0, summary.Processed)
	assert.Equal(t, 2, f.balance(sub))
}

func TestReplenishment_OpensLedgerWhenNoneActive(t *testing.T) {
	f := newFixture(t)
	sub := booking.Subscription{
		SubscriberID: booking.SubscriberID(booking.NewID()),
		Tier:         booking.TierUltimate,
		StartDate:    booking.DateOf(monday),
		EndDate:      booking.DateOf(monday).AddDate(0, 3, 0),
		Active:       true,
	}
	require.NoError(t, f.mem.SaveSubscription(f.ctx, sub))
	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)

	summary, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 3, f.balance(sub.SubscriberID))
}

func TestReplenishment_FailureIsIsolated(t *testing.T) {
	// GIVEN: Two due subscribers, one whose record insert fails
	// THEN: The other is replenished; the failing one is rolled back

	f := newFixture(t)
	good := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	bad := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	for _, sub := range []booking.SubscriberID{good, bad} {
		_, err := f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
		require.NoError(t, err)
	}

	fs := &faultyStore{Memory: f.mem}
	fs.failInsertReplenishment = func(rec booking.ReplenishmentRecord) error {
		if rec.SubscriberID == bad {
			return errors.New("disk on fire")
		}
		return nil
	}
	sched := booking.NewScheduler(fs, f.mem, f.mem, booking.SchedulerConfig{Workers: 2}, f.opts)
	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)

	summary, err := sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)

	assert.Equal(t, 3, f.balance(good))
	assert.Equal(t, 2, f.balance(bad))

	for _, d := range summary.Details {
		if d.SubscriberID == bad {
			assert.Equal(t, booking.ReplenishFailed, d.Status)
			assert.Contains(t, d.Error, "disk on fire")
		}
	}
}

func TestReplenishment_ConcurrentRunsReplenishOnce(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	}
	f.now = time.Date(2026, time.March, 9, 6, 0, 0, 0, time.UTC)

	results := make(chan booking.ReplenishmentSummary, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := f.sched.RunReplenishment(f.ctx)
			assert.NoError(t, err)
			results <- s
		}()
	}
	a, b := <-results, <-results

	assert.Equal(t, 5, a.Succeeded+b.Succeeded)
	assert.Equal(t, 5, a.Skipped+b.Skipped)

	recent, err := f.mem.RecentReplenishments(f.ctx, 0)
	require.NoError(t, err)
	assert.Len(t, recent, 5)
}

// =============================================================================
// MANUAL REPLENISHMENT
// =============================================================================

func TestManualReplenish_IgnoresToggleAndActivationWeek(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	_, err := f.coord.Book(f.ctx, sub, f.tomorrowSlot(5))
	require.NoError(t, err)
	require.NoError(t, f.mem.SetFeature(f.ctx, booking.FeatureWeeklyRefill, false))

	d, err := f.sched.ManualReplenish(f.ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, booking.ReplenishSucceeded, d.Status)
	assert.Equal(t, booking.DateOf(monday), d.CycleDate)
	assert.Equal(t, 1, d.WeekNumber)
	assert.Equal(t, 2, d.PreviousBalance)
	assert.Equal(t, 3, f.balance(sub))

	again, err := f.sched.ManualReplenish(f.ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, booking.ReplenishSkipped, again.Status)
}

func TestManualReplenish_NoWeeklySubscription(t *testing.T) {
	f := newFixture(t)
	standard := f.subscribe(booking.TierStandard, booking.DateOf(monday), 10)

	_, err := f.sched.ManualReplenish(f.ctx, standard)
	assert.ErrorIs(t, err, booking.ErrNoActiveSubscription)

	_, err = f.sched.ManualReplenish(f.ctx, booking.SubscriberID(booking.NewID()))
	assert.ErrorIs(t, err, booking.ErrNoActiveSubscription)

	_, err = f.sched.ManualReplenish(f.ctx, "bogus")
	assert.ErrorIs(t, err, booking.ErrInvalidInput)
}

// =============================================================================
// STATS
// =============================================================================

func TestStats_CountsTodayAndWeekFromSunday(t *testing.T) {
	// GIVEN: Subscribers whose cycles fall on Monday and on Wednesday
	// WHEN: Both are replenished and stats are read on Wednesday, then on Sunday
	// THEN: Wednesday sees 1 today and 2 this week; Sunday opens a fresh week

	f := newFixture(t)
	f.subscribe(booking.TierUltimate, day(2026, time.February, 23), 0)
	f.subscribe(booking.TierUltimate, day(2026, time.February, 25), 0)

	_, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)
	f.now = time.Date(2026, time.March, 4, 6, 0, 0, 0, time.UTC)
	_, err = f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)

	st, err := f.sched.Stats(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Today)
	assert.Equal(t, 2, st.ThisWeek)
	assert.Equal(t, day(2026, time.March, 1), st.WeekStart)
	assert.True(t, st.Enabled)

	f.now = time.Date(2026, time.March, 8, 12, 0, 0, 0, time.UTC)
	st, err = f.sched.Stats(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, st.Today)
	assert.Zero(t, st.ThisWeek)
	assert.Equal(t, day(2026, time.March, 8), st.WeekStart)
}
