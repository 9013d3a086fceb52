/*
errors.go - Centralized error types for the booking engine

PURPOSE:
  All error types in one place. Business rejections are ordinary return
  values: callers branch on them with errors.Is and map them to user-facing
  codes with RejectionCode.

ERROR CATEGORIES:
  1. Rejections - booking/cancel refused by a business rule
  2. Lookups - referenced record does not exist
  3. Conflicts - transient serialization failures, retried with backoff
  4. Invariant violations - the store refused a write that would break a
     hard constraint; never expected in a correct run

SEE ALSO:
  - coordinator.go: returns rejections
  - retry.go: retries conflicts
  - store/sqlite, store/postgres: translate driver errors into these
*/
package booking

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAlreadyBooked is returned when the subscriber already holds a
	// confirmed reservation for the slot.
	ErrAlreadyBooked = errors.New("already booked")

	// ErrNoActiveCredit is returned when the subscriber has no usable ledger entry.
	ErrNoActiveCredit = errors.New("no active credit")

	// ErrInsufficientBalance is returned when the active entry has no credits left.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrSlotFull is returned when occupancy has reached capacity.
	ErrSlotFull = errors.New("slot full")

	// ErrSlotNotFound is returned for an unknown slot id.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrSlotUnavailable is returned for deactivated or already started slots.
	ErrSlotUnavailable = errors.New("slot unavailable")

	// ErrReservationNotFound is returned for an unknown reservation id.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrAlreadyCancelled is returned when cancelling a cancelled reservation.
	ErrAlreadyCancelled = errors.New("already cancelled")

	// ErrSubscriberNotFound is returned when no subscription exists.
	ErrSubscriberNotFound = errors.New("subscriber not found")

	// ErrNoActiveSubscription is returned by manual replenishment when the
	// subscriber has no active weekly-tier subscription.
	ErrNoActiveSubscription = errors.New("no active weekly subscription")

	// ErrAlreadyReplenished is returned when a record for the
	// (subscriber, cycle date) pair already exists.
	ErrAlreadyReplenished = errors.New("already replenished for cycle")

	// ErrLedgerNotFound is returned for an unknown ledger entry id.
	ErrLedgerNotFound = errors.New("ledger entry not found")

	// ErrConflict is returned when the store aborted a transaction because of
	// a concurrent writer. Safe to retry.
	ErrConflict = errors.New("concurrent modification")

	// ErrInvariantViolation is returned when a write would break a hard
	// constraint (negative balance, occupancy above capacity).
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidInput is returned for malformed caller input.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a malformed field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// InsufficientBalanceError reports the balance that was found.
type InsufficientBalanceError struct {
	SubscriberID SubscriberID
	Balance      int
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: subscriber %s has %d credits", e.SubscriberID, e.Balance)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// SlotFullError reports the capacity that was hit.
type SlotFullError struct {
	SlotID   SlotID
	Capacity int
}

func (e *SlotFullError) Error() string {
	return fmt.Sprintf("slot %s is full (capacity %d)", e.SlotID, e.Capacity)
}

func (e *SlotFullError) Unwrap() error {
	return ErrSlotFull
}

// ConflictError is surfaced after the retry budget is spent.
type ConflictError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// InvariantError names the constraint a store refused to break.
type InvariantError struct {
	Constraint string
	Err        error
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation (%s): %v", e.Constraint, e.Err)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

var rejectionCodes = []struct {
	err  error
	code string
}{
	{ErrAlreadyBooked, "already_booked"},
	{ErrNoActiveCredit, "no_active_credit"},
	{ErrInsufficientBalance, "insufficient_balance"},
	{ErrSlotFull, "slot_full"},
	{ErrSlotNotFound, "slot_not_found"},
	{ErrSlotUnavailable, "slot_unavailable"},
	{ErrReservationNotFound, "reservation_not_found"},
	{ErrAlreadyCancelled, "already_cancelled"},
	{ErrSubscriberNotFound, "subscriber_not_found"},
	{ErrNoActiveSubscription, "no_active_subscription"},
	{ErrInvalidInput, "invalid_input"},
	{ErrConflict, "conflict"},
}

// RejectionCode returns the stable snake_case code for a known error, or
// "internal" for anything else.
func RejectionCode(err error) string {
	for _, rc := range rejectionCodes {
		if errors.Is(err, rc.err) {
			return rc.code
		}
	}
	return "internal"
}

// IsRejection returns true if the error is an expected business outcome
// rather than a fault.
func IsRejection(err error) bool {
	return errors.Is(err, ErrAlreadyBooked) ||
		errors.Is(err, ErrNoActiveCredit) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrSlotFull) ||
		errors.Is(err, ErrSlotUnavailable) ||
		errors.Is(err, ErrAlreadyCancelled) ||
		errors.Is(err, ErrNoActiveSubscription) ||
		errors.Is(err, ErrInvalidInput)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSlotNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrSubscriberNotFound) ||
		errors.Is(err, ErrLedgerNotFound)
}
