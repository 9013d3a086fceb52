/*
Package booking provides the class credit ledger and slot reservation engine.

PURPOSE:
  A subscriber holds a credit balance that funds class bookings. Each booking
  consumes one credit and one seat in a capacity-bounded slot; each
  cancellation returns both. Weekly-tier subscribers get their balance reset
  to a tier target once per weekly cycle by the replenishment scheduler.

KEY CONCEPTS IN THIS FILE (types.go):
  - Tier: subscription tier and its replenishment target
  - Subscription: read-only projection of the external subscription record
  - LedgerEntry: the active credit balance of a subscriber
  - Slot: a bookable class instance with capacity and live occupancy
  - Reservation: a confirmed or cancelled booking of one slot
  - ReplenishmentRecord: proof that a (subscriber, cycle date) was reset

INVARIANTS:
  1. At most one active ledger entry per subscriber
  2. Ledger balance never drops below zero
  3. 0 <= slot occupancy <= slot capacity
  4. At most one confirmed reservation per (subscriber, slot)
  5. At most one replenishment record per (subscriber, cycle date)

SEE ALSO:
  - coordinator.go: Book and Cancel
  - replenish.go: weekly replenishment
  - status.go: subscriber status report
  - store.go: persistence contracts
*/
package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type SubscriberID string
type SlotID string
type ReservationID string
type LedgerEntryID string

// NewID returns a fresh random identifier.
func NewID() string {
	return uuid.NewString()
}

// ValidateID rejects identifiers that are not UUIDs.
func ValidateID(field, id string) error {
	if id == "" {
		return &ValidationError{Field: field, Value: id, Reason: "required"}
	}
	if _, err := uuid.Parse(id); err != nil {
		return &ValidationError{Field: field, Value: id, Reason: "must be a UUID"}
	}
	return nil
}

// =============================================================================
// TIERS
// =============================================================================

type Tier string

const (
	TierStandard       Tier = "standard_pilates"
	TierUltimate       Tier = "ultimate"
	TierUltimateMedium Tier = "ultimate_medium"
)

// TierRule describes how a tier funds its subscribers.
// A zero Target means the credit count comes from the subscription package.
type TierRule struct {
	Target int
	Weekly bool
}

// TierTable maps each known tier to its rule.
type TierTable map[Tier]TierRule

// DefaultTiers returns the built-in tier table.
func DefaultTiers() TierTable {
	return TierTable{
		TierStandard:       {Target: 0, Weekly: false},
		TierUltimate:       {Target: 3, Weekly: true},
		TierUltimateMedium: {Target: 1, Weekly: true},
	}
}

// Weekly reports whether the tier is reset by the weekly scheduler.
func (t TierTable) Weekly(tier Tier) bool {
	return t[tier].Weekly
}

// Target returns the balance a subscription should hold after a reset or
// when its ledger is first opened.
func (t TierTable) Target(sub Subscription) int {
	rule, ok := t[sub.Tier]
	if !ok || rule.Target == 0 {
		return sub.PackageCredits
	}
	return rule.Target
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

// Subscription mirrors the subscriber's membership. The engine never writes
// it during booking or replenishment.
type Subscription struct {
	SubscriberID   SubscriberID
	Tier           Tier
	StartDate      time.Time
	EndDate        time.Time
	Active         bool
	PackageCredits int
}

// Covers reports whether day falls within [StartDate, EndDate].
func (s Subscription) Covers(day time.Time) bool {
	d := DateOf(day)
	return !d.Before(DateOf(s.StartDate)) && !d.After(DateOf(s.EndDate))
}

// =============================================================================
// LEDGER
// =============================================================================

// LedgerEntry is a subscriber's credit balance.
type LedgerEntry struct {
	ID           LedgerEntryID
	SubscriberID SubscriberID
	Balance      int
	ExpiresAt    time.Time
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Usable reports whether the entry can fund a booking at now.
func (e LedgerEntry) Usable(now time.Time) bool {
	return e.Active && now.Before(e.ExpiresAt)
}

// =============================================================================
// SLOTS
// =============================================================================

// Slot is a single class instance.
type Slot struct {
	ID        SlotID
	Date      time.Time // calendar day, midnight UTC
	StartTime string    // "15:04"
	Capacity  int
	Occupancy int
	Active    bool
}

// StartsAt combines Date and StartTime in loc.
func (s Slot) StartsAt(loc *time.Location) (time.Time, error) {
	clock, err := time.Parse("15:04", s.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("slot %s: invalid start time %q: %w", s.ID, s.StartTime, err)
	}
	return time.Date(s.Date.Year(), s.Date.Month(), s.Date.Day(),
		clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// Remaining returns the number of free seats.
func (s Slot) Remaining() int {
	if s.Occupancy >= s.Capacity {
		return 0
	}
	return s.Capacity - s.Occupancy
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationStatus string

const (
	StatusConfirmed ReservationStatus = "confirmed"
	StatusCancelled ReservationStatus = "cancelled"
)

// Reservation is one booking of one slot. A cancelled row is terminal;
// booking the same slot again inserts a new row.
type Reservation struct {
	ID            ReservationID
	SubscriberID  SubscriberID
	SlotID        SlotID
	LedgerEntryID LedgerEntryID // entry that was debited
	Status        ReservationStatus
	CreatedAt     time.Time
	CancelledAt   *time.Time
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

// ReplenishmentRecord is written once per (subscriber, cycle date) and never
// changed afterwards.
type ReplenishmentRecord struct {
	ID              string
	SubscriberID    SubscriberID
	Tier            Tier
	CycleDate       time.Time
	WeekNumber      int
	PreviousBalance int
	NewBalance      int
	CreatedAt       time.Time
}

// =============================================================================
// AUDIT
// =============================================================================

type AuditAction string

const (
	AuditBooked        AuditAction = "booked"
	AuditCancelled     AuditAction = "cancelled"
	AuditReplenished   AuditAction = "replenished"
	AuditLedgerOpened  AuditAction = "ledger_opened"
	AuditLedgerExpired AuditAction = "ledger_expired"
)

// AuditEntry records a state change made by the engine.
type AuditEntry struct {
	ID            string
	SubscriberID  SubscriberID
	SlotID        SlotID
	ReservationID ReservationID
	LedgerEntryID LedgerEntryID
	Action        AuditAction
	At            time.Time
	Detail        string
}
