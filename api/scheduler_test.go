package api

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/booking"
)

type countingObserver struct{ runs atomic.Int32 }

func (o *countingObserver) ObserveRun(time.Duration) { o.runs.Add(1) }

func TestReplenishmentScheduler_StartStop(t *testing.T) {
	s := newTestServer(t)
	rs := NewReplenishmentScheduler(s.handler, nil, time.UTC)

	_, err := rs.NextRun()
	assert.Error(t, err, "not started yet")

	require.NoError(t, rs.Start())
	assert.Error(t, rs.Start(), "second start")

	assert.Eventually(t, func() bool {
		next, err := rs.NextRun()
		return err == nil && next.After(time.Now())
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rs.Stop())
	require.NoError(t, rs.Stop(), "stop is idempotent")
}

func TestReplenishmentScheduler_InvalidCron(t *testing.T) {
	s := newTestServer(t)
	rs := NewReplenishmentScheduler(s.handler, nil, time.UTC)
	rs.Cron = "every tuesday"

	assert.Error(t, rs.Start())
}

func TestReplenishmentScheduler_RunNow(t *testing.T) {
	// GIVEN: A due Ultimate subscriber
	// WHEN: RunNow is called twice
	// THEN: One replenishment, two observed runs

	s := newTestServer(t)
	s.subscribe(booking.TierUltimate, day(2026, 2, 23))
	obs := &countingObserver{}
	rs := NewReplenishmentScheduler(s.handler, obs, time.UTC)

	summary, err := rs.RunNow(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)

	summary, err = rs.RunNow(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Processed)

	assert.Equal(t, int32(2), obs.runs.Load())
}
