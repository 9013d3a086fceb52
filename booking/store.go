/*
store.go - Persistence contracts for the booking engine

PURPOSE:
  Defines the interface between the engine and the database. Every mutating
  engine operation runs its reads and writes through a single Tx obtained from
  Store.WithTx, so either all of its effects commit or none do.

KEY INTERFACES:
  LedgerStore:        credit balances (one active entry per subscriber)
  SlotStore:          class slots with capacity and live occupancy
  ReservationStore:   bookings, unique per (subscriber, slot) while confirmed
  ReplenishmentStore: weekly reset records, unique per (subscriber, cycle date)
  AuditLog:           append-only trail of engine actions
  Store:              all of the above plus WithTx

CONDITIONAL WRITES:
  Capacity and balance checks are expressed as conditional updates
  (occupancy < capacity, balance >= n) evaluated by the store inside the
  write itself. Callers never read-then-write those counters.

IMPLEMENTATIONS:
  - booking/store/memory.go: in-memory, for tests and local runs
  - store/sqlite: single-writer SQLite with goose migrations
  - store/postgres: pgx with row locks

EXTERNAL COLLABORATORS:
  SubscriptionSource and FeatureToggle are owned by other systems; the stores
  in this repo carry a local projection of both.

SEE ALSO:
  - coordinator.go: Book and Cancel transactions
  - replenish.go: per-subscriber replenishment transactions
*/
package booking

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER
// =============================================================================

type LedgerStore interface {
	// ActiveLedger returns the subscriber's usable entry at now, locking it for
	// the rest of the transaction. ErrNoActiveCredit if none.
	ActiveLedger(ctx context.Context, subscriber SubscriberID, now time.Time) (LedgerEntry, error)

	// LedgerEntry loads an entry by id regardless of state.
	LedgerEntry(ctx context.Context, id LedgerEntryID) (LedgerEntry, error)

	// DecrementLedger subtracts by from the balance if the result stays >= 0.
	// Returns the new balance or ErrInsufficientBalance.
	DecrementLedger(ctx context.Context, id LedgerEntryID, by int) (int, error)

	// IncrementLedger adds by to the balance and returns the new balance.
	IncrementLedger(ctx context.Context, id LedgerEntryID, by int) (int, error)

	// ResetLedger overwrites the balance.
	ResetLedger(ctx context.Context, id LedgerEntryID, balance int) error

	// OpenLedger deactivates any active entry of the subscriber and inserts
	// entry as the new active one.
	OpenLedger(ctx context.Context, entry LedgerEntry) error

	// ExpireLedgers deactivates every active entry with ExpiresAt <= now and
	// returns them.
	ExpireLedgers(ctx context.Context, now time.Time) ([]LedgerEntry, error)
}

// =============================================================================
// SLOTS
// =============================================================================

type SlotStore interface {
	// Slot returns ErrSlotNotFound for unknown ids.
	Slot(ctx context.Context, id SlotID) (Slot, error)

	// TryIncrementOccupancy adds one seat only if occupancy < capacity.
	// Returns ErrSlotFull otherwise.
	TryIncrementOccupancy(ctx context.Context, id SlotID) error

	// DecrementOccupancy frees one seat, never going below zero.
	DecrementOccupancy(ctx context.Context, id SlotID) error

	SaveSlot(ctx context.Context, slot Slot) error
	ListSlots(ctx context.Context, from, to time.Time) ([]Slot, error)
	DeactivateSlot(ctx context.Context, id SlotID) error
}

// =============================================================================
// RESERVATIONS
// =============================================================================

type ReservationStore interface {
	// ConfirmedReservation finds the confirmed reservation for the pair, if any.
	ConfirmedReservation(ctx context.Context, subscriber SubscriberID, slot SlotID) (Reservation, bool, error)

	// Reservation returns ErrReservationNotFound for unknown ids.
	Reservation(ctx context.Context, id ReservationID) (Reservation, error)

	// InsertReservation returns ErrAlreadyBooked if a confirmed row for the
	// same pair already exists.
	InsertReservation(ctx context.Context, r Reservation) error

	// MarkCancelled flips a confirmed reservation to cancelled.
	// Returns ErrAlreadyCancelled if it was not confirmed.
	MarkCancelled(ctx context.Context, id ReservationID, at time.Time) error

	ReservationsBySubscriber(ctx context.Context, subscriber SubscriberID) ([]Reservation, error)

	// ReservationsBySlot returns the slot's confirmed reservations, oldest first.
	ReservationsBySlot(ctx context.Context, slot SlotID) ([]Reservation, error)
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

type ReplenishmentStore interface {
	ReplenishmentExists(ctx context.Context, subscriber SubscriberID, cycle time.Time) (bool, error)

	// InsertReplenishment returns ErrAlreadyReplenished on a duplicate
	// (subscriber, cycle date).
	InsertReplenishment(ctx context.Context, rec ReplenishmentRecord) error

	// Replenishments returns the subscriber's records, newest first.
	Replenishments(ctx context.Context, subscriber SubscriberID) ([]ReplenishmentRecord, error)

	// RecentReplenishments returns the latest records across all subscribers.
	RecentReplenishments(ctx context.Context, limit int) ([]ReplenishmentRecord, error)

	// CountReplenishments counts records whose cycle date is within [from, to].
	CountReplenishments(ctx context.Context, from, to time.Time) (int, error)
}

// =============================================================================
// AUDIT LOG
// =============================================================================

type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error

	// AuditTrail returns the subscriber's entries, oldest first.
	AuditTrail(ctx context.Context, subscriber SubscriberID) ([]AuditEntry, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// Tx is the view of the store inside a transaction.
type Tx interface {
	LedgerStore
	SlotStore
	ReservationStore
	ReplenishmentStore
	AuditLog
}

// Store is the full persistence surface of the engine.
type Store interface {
	Tx

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

// =============================================================================
// EXTERNAL COLLABORATORS
// =============================================================================

// SubscriptionSource is the read-only view of the membership system.
type SubscriptionSource interface {
	// Subscription returns ErrSubscriberNotFound if the subscriber has none.
	Subscription(ctx context.Context, subscriber SubscriberID) (Subscription, error)

	// ActiveSubscriptions lists active subscriptions covering day.
	ActiveSubscriptions(ctx context.Context, day time.Time) ([]Subscription, error)
}

// SubscriptionWriter lets the membership system push changes into the local
// projection.
type SubscriptionWriter interface {
	SaveSubscription(ctx context.Context, sub Subscription) error
}

// FeatureWeeklyRefill gates RunReplenishment.
const FeatureWeeklyRefill = "weekly_pilates_refill_enabled"

// FeatureToggle reports whether a named feature is switched on.
// Unknown features are off.
type FeatureToggle interface {
	Enabled(ctx context.Context, name string) (bool, error)
}

// FeatureWriter switches features on or off.
type FeatureWriter interface {
	SetFeature(ctx context.Context, name string, enabled bool) error
}
