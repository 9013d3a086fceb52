package booking

import (
	"io"
	"log/slog"
	"time"
)

// Recorder receives operation outcomes. The metrics package implements it
// with Prometheus counters.
type Recorder interface {
	BookingOutcome(code string)
	CancelOutcome(code string)
	ReplenishmentOutcome(status string)
	ConflictRetry(op string)
}

type nopRecorder struct{}

func (nopRecorder) BookingOutcome(string)       {}
func (nopRecorder) CancelOutcome(string)        {}
func (nopRecorder) ReplenishmentOutcome(string) {}
func (nopRecorder) ConflictRetry(string)        {}

// Options are the dependencies shared by Coordinator, Scheduler and Reporter.
// Zero fields fall back to defaults.
type Options struct {
	Clock    Clock
	Location *time.Location // zone used to interpret slot start times and "today"
	Retry    RetryPolicy
	Logger   *slog.Logger
	Metrics  Recorder
	Tiers    TierTable
}

func (o Options) withDefaults() Options {
	if o.Clock == nil {
		o.Clock = SystemClock
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = DefaultRetryPolicy()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.Metrics == nil {
		o.Metrics = nopRecorder{}
	}
	if o.Tiers == nil {
		o.Tiers = DefaultTiers()
	}
	return o
}

// today is the current calendar day in the configured zone.
func (o Options) today() time.Time {
	return DateOf(o.Clock().In(o.Location))
}
