package booking_test

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// STATUS
// =============================================================================

func TestStatus_ActivationWeek(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)

	rep, err := f.rep.Status(f.ctx, sub)
	require.NoError(t, err)

	assert.Equal(t, booking.TierUltimate, rep.Tier)
	assert.True(t, rep.Active)
	assert.Equal(t, 3, rep.CurrentBalance)
	assert.Equal(t, 3, rep.TargetBalance)
	assert.False(t, rep.IsDue)
	require.NotNil(t, rep.NextCycleDate)
	assert.Equal(t, day(2026, time.March, 9), *rep.NextCycleDate)
	assert.Equal(t, 2, rep.NextWeekNumber)
	require.NotNil(t, rep.LedgerExpiresAt)
}

func TestStatus_DueUntilReplenished(t *testing.T) {
	// GIVEN: Second week started, no run yet
	// THEN: IsDue with the current cycle as next; after the run, the cycle after

	f := newFixture(t)
	sub := f.subscribe(booking.TierUltimate, booking.DateOf(monday), 0)
	f.now = time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	rep, err := f.rep.Status(f.ctx, sub)
	require.NoError(t, err)
	assert.True(t, rep.IsDue)
	assert.Equal(t, day(2026, time.March, 9), *rep.NextCycleDate)
	assert.Equal(t, 2, rep.NextWeekNumber)

	_, err = f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)

	rep, err = f.rep.Status(f.ctx, sub)
	require.NoError(t, err)
	assert.False(t, rep.IsDue)
	assert.Equal(t, day(2026, time.March, 16), *rep.NextCycleDate)
	assert.Equal(t, 3, rep.NextWeekNumber)
}

func TestStatus_StandardTierHasNoCycle(t *testing.T) {
	f := newFixture(t)
	sub := f.subscribe(booking.TierStandard, booking.DateOf(monday), 8)

	rep, err := f.rep.Status(f.ctx, sub)
	require.NoError(t, err)
	assert.Equal(t, 8, rep.CurrentBalance)
	assert.Equal(t, 8, rep.TargetBalance)
	assert.Nil(t, rep.NextCycleDate)
	assert.False(t, rep.IsDue)
}

func TestStatus_LastWeekHasNoNextCycle(t *testing.T) {
	f := newFixture(t)
	start := booking.DateOf(monday).AddDate(0, 0, -11*7)
	sub := f.subscribe(booking.TierUltimate, start, 0)

	_, err := f.sched.RunReplenishment(f.ctx)
	require.NoError(t, err)

	rep, err := f.rep.Status(f.ctx, sub)
	require.NoError(t, err)
	assert.False(t, rep.IsDue)
	assert.Nil(t, rep.NextCycleDate)
}

func TestStatus_UnknownSubscriber(t *testing.T) {
	f := newFixture(t)
	_, err := f.rep.Status(f.ctx, booking.SubscriberID(booking.NewID()))
	assert.ErrorIs(t, err, booking.ErrSubscriberNotFound)
}

// =============================================================================
// CYCLE ARITHMETIC
// =============================================================================

func TestCycleMath(t *testing.T) {
	start := day(2026, time.March, 4)

	tests := []struct {
		name      string
		day       time.Time
		wantCycle time.Time
		wantWeek  int
		wantDue   bool
	}{
		{"before start", day(2026, time.March, 1), start, 1, false},
		{"activation day", start, start, 1, false},
		{"end of first week", day(2026, time.March, 10), start, 1, false},
		{"second cycle day", day(2026, time.March, 11), day(2026, time.March, 11), 2, true},
		{"mid second week", day(2026, time.March, 15), day(2026, time.March, 11), 2, true},
		{"tenth week", day(2026, time.May, 8), day(2026, time.May, 6), 10, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cycle, week := booking.CurrentCycle(start, tt.day)
			assert.Equal(t, tt.wantCycle, cycle)
			assert.Equal(t, tt.wantWeek, week)
			assert.Equal(t, tt.wantDue, booking.DueForReset(start, tt.day))
		})
	}
}

func TestCycleMath_AcrossDSTChange(t *testing.T) {
	// Calendar days, not 24h spans, so a DST shift cannot move a cycle.
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	start := time.Date(2026, time.March, 23, 0, 0, 0, 0, loc)
	after := time.Date(2026, time.March, 30, 0, 30, 0, 0, loc)

	cycle, week := booking.CurrentCycle(start, after)
	assert.Equal(t, day(2026, time.March, 30), cycle)
	assert.Equal(t, 2, week)
}

func TestNextCycle(t *testing.T) {
	start := day(2026, time.March, 2)
	next, week := booking.NextCycle(start, day(2026, time.March, 4))
	assert.Equal(t, day(2026, time.March, 9), next)
	assert.Equal(t, 2, week)
}

func TestTierTable_Target(t *testing.T) {
	tiers := booking.DefaultTiers()

	assert.Equal(t, 3, tiers.Target(booking.Subscription{Tier: booking.TierUltimate, PackageCredits: 12}))
	assert.Equal(t, 1, tiers.Target(booking.Subscription{Tier: booking.TierUltimateMedium}))
	assert.Equal(t, 12, tiers.Target(booking.Subscription{Tier: booking.TierStandard, PackageCredits: 12}))
	assert.Equal(t, 5, tiers.Target(booking.Subscription{Tier: "gold", PackageCredits: 5}))
	assert.False(t, tiers.Weekly(booking.TierStandard))
	assert.True(t, tiers.Weekly(booking.TierUltimateMedium))
}
