/*
coordinator.go - Book and Cancel

PURPOSE:
  The Coordinator turns a booking or cancellation request into exactly one
  store transaction. Either the reservation, the ledger change and the
  occupancy change all commit together, or nothing changes.

BOOK (one transaction):
  1. Slot must exist, be active and not have started
  2. No confirmed reservation for (subscriber, slot)
  3. Active ledger entry with balance > 0 (row locked)
  4. Conditional occupancy increment (occupancy < capacity)
  5. Ledger decrement by 1
  6. Insert confirmed reservation, append audit entry

CANCEL (one transaction):
  1. Reservation must exist and be confirmed
  2. Mark cancelled
  3. Refund 1 credit to the currently active entry, or to the entry that
     funded the booking when the subscriber has none
  4. Decrement occupancy, append audit entry

LOCK ORDER:
  Both paths touch the ledger row before the slot row.

CONFLICTS:
  A transaction aborted by the store with ErrConflict is re-run under the
  configured RetryPolicy. Rejections are never retried.

SEE ALSO:
  - store.go: transactional contracts
  - retry.go: bounded backoff
*/
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Coordinator executes booking and cancellation transactions.
type Coordinator struct {
	store Store
	opts  Options
	log   *slog.Logger
}

// NewCoordinator creates a coordinator over store.
func NewCoordinator(store Store, opts Options) *Coordinator {
	opts = opts.withDefaults()
	return &Coordinator{
		store: store,
		opts:  opts,
		log:   opts.Logger.With("component", "coordinator"),
	}
}

// BookResult is returned by a successful Book.
type BookResult struct {
	ReservationID ReservationID
	LedgerEntryID LedgerEntryID
	Balance       int
}

// CancelResult is returned by a successful Cancel.
type CancelResult struct {
	ReservationID   ReservationID
	LedgerEntryID   LedgerEntryID
	RefundedBalance int
}

// =============================================================================
// BOOK
// =============================================================================

// Book reserves one seat in slot for subscriber and debits one credit.
func (c *Coordinator) Book(ctx context.Context, subscriber SubscriberID, slot SlotID) (BookResult, error) {
	if err := ValidateID("subscriber_id", string(subscriber)); err != nil {
		c.opts.Metrics.BookingOutcome(RejectionCode(err))
		return BookResult{}, err
	}
	if err := ValidateID("slot_id", string(slot)); err != nil {
		c.opts.Metrics.BookingOutcome(RejectionCode(err))
		return BookResult{}, err
	}

	var result BookResult
	err := c.opts.Retry.Do(ctx, "book", func() { c.opts.Metrics.ConflictRetry("book") }, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx Tx) error {
			var err error
			result, err = c.bookTx(ctx, tx, subscriber, slot)
			return err
		})
	})

	c.finish("book", err, slog.String("subscriber_id", string(subscriber)), slog.String("slot_id", string(slot)))
	if err != nil {
		c.opts.Metrics.BookingOutcome(RejectionCode(err))
		return BookResult{}, err
	}
	c.opts.Metrics.BookingOutcome("ok")
	return result, nil
}

func (c *Coordinator) bookTx(ctx context.Context, tx Tx, subscriber SubscriberID, slotID SlotID) (BookResult, error) {
	now := c.opts.Clock()

	slot, err := tx.Slot(ctx, slotID)
	if err != nil {
		return BookResult{}, err
	}
	if !slot.Active {
		return BookResult{}, fmt.Errorf("slot %s is deactivated: %w", slotID, ErrSlotUnavailable)
	}
	startsAt, err := slot.StartsAt(c.opts.Location)
	if err != nil {
		return BookResult{}, err
	}
	if !now.Before(startsAt) {
		return BookResult{}, fmt.Errorf("slot %s started at %s: %w", slotID, startsAt.Format(time.RFC3339), ErrSlotUnavailable)
	}

	if _, found, err := tx.ConfirmedReservation(ctx, subscriber, slotID); err != nil {
		return BookResult{}, err
	} else if found {
		return BookResult{}, ErrAlreadyBooked
	}

	entry, err := tx.ActiveLedger(ctx, subscriber, now)
	if err != nil {
		return BookResult{}, err
	}
	if entry.Balance <= 0 {
		return BookResult{}, &InsufficientBalanceError{SubscriberID: subscriber, Balance: entry.Balance}
	}

	if err := tx.TryIncrementOccupancy(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotFull) {
			return BookResult{}, &SlotFullError{SlotID: slotID, Capacity: slot.Capacity}
		}
		return BookResult{}, err
	}

	balance, err := tx.DecrementLedger(ctx, entry.ID, 1)
	if err != nil {
		return BookResult{}, err
	}

	r := Reservation{
		ID:            ReservationID(NewID()),
		SubscriberID:  subscriber,
		SlotID:        slotID,
		LedgerEntryID: entry.ID,
		Status:        StatusConfirmed,
		CreatedAt:     now,
	}
	if err := tx.InsertReservation(ctx, r); err != nil {
		return BookResult{}, err
	}

	if err := tx.AppendAudit(ctx, AuditEntry{
		ID:            NewID(),
		SubscriberID:  subscriber,
		SlotID:        slotID,
		ReservationID: r.ID,
		LedgerEntryID: entry.ID,
		Action:        AuditBooked,
		At:            now,
		Detail:        fmt.Sprintf("balance %d -> %d", entry.Balance, balance),
	}); err != nil {
		return BookResult{}, err
	}

	return BookResult{ReservationID: r.ID, LedgerEntryID: entry.ID, Balance: balance}, nil
}

// =============================================================================
// CANCEL
// =============================================================================

// Cancel releases a confirmed reservation and refunds its credit.
func (c *Coordinator) Cancel(ctx context.Context, id ReservationID) (CancelResult, error) {
	if err := ValidateID("reservation_id", string(id)); err != nil {
		c.opts.Metrics.CancelOutcome(RejectionCode(err))
		return CancelResult{}, err
	}

	var result CancelResult
	err := c.opts.Retry.Do(ctx, "cancel", func() { c.opts.Metrics.ConflictRetry("cancel") }, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx Tx) error {
			var err error
			result, err = c.cancelTx(ctx, tx, id)
			return err
		})
	})

	c.finish("cancel", err, slog.String("reservation_id", string(id)))
	if err != nil {
		c.opts.Metrics.CancelOutcome(RejectionCode(err))
		return CancelResult{}, err
	}
	c.opts.Metrics.CancelOutcome("ok")
	return result, nil
}

func (c *Coordinator) cancelTx(ctx context.Context, tx Tx, id ReservationID) (CancelResult, error) {
	now := c.opts.Clock()

	r, err := tx.Reservation(ctx, id)
	if err != nil {
		return CancelResult{}, err
	}
	if r.Status == StatusCancelled {
		return CancelResult{}, ErrAlreadyCancelled
	}

	if err := tx.MarkCancelled(ctx, id, now); err != nil {
		return CancelResult{}, err
	}

	refundTo := r.LedgerEntryID
	entry, err := tx.ActiveLedger(ctx, r.SubscriberID, now)
	switch {
	case err == nil:
		refundTo = entry.ID
	case errors.Is(err, ErrNoActiveCredit):
		// refund the entry that paid for the booking
	default:
		return CancelResult{}, err
	}

	balance, err := tx.IncrementLedger(ctx, refundTo, 1)
	if err != nil {
		return CancelResult{}, err
	}

	if err := tx.DecrementOccupancy(ctx, r.SlotID); err != nil {
		return CancelResult{}, err
	}

	if err := tx.AppendAudit(ctx, AuditEntry{
		ID:            NewID(),
		SubscriberID:  r.SubscriberID,
		SlotID:        r.SlotID,
		ReservationID: r.ID,
		LedgerEntryID: refundTo,
		Action:        AuditCancelled,
		At:            now,
		Detail:        fmt.Sprintf("refunded to %s, balance %d", refundTo, balance),
	}); err != nil {
		return CancelResult{}, err
	}

	return CancelResult{ReservationID: r.ID, LedgerEntryID: refundTo, RefundedBalance: balance}, nil
}

// =============================================================================
// LEDGER LIFECYCLE
// =============================================================================

// OpenLedger starts a fresh active entry for sub funded with its tier target.
// Any previously active entry is deactivated.
func (c *Coordinator) OpenLedger(ctx context.Context, sub Subscription) (LedgerEntry, error) {
	if err := ValidateID("subscriber_id", string(sub.SubscriberID)); err != nil {
		return LedgerEntry{}, err
	}
	now := c.opts.Clock()
	entry := LedgerEntry{
		ID:           LedgerEntryID(NewID()),
		SubscriberID: sub.SubscriberID,
		Balance:      c.opts.Tiers.Target(sub),
		ExpiresAt:    ExpiryAfter(sub.EndDate, c.opts.Location),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := c.opts.Retry.Do(ctx, "open_ledger", func() { c.opts.Metrics.ConflictRetry("open_ledger") }, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx Tx) error {
			if err := tx.OpenLedger(ctx, entry); err != nil {
				return err
			}
			return tx.AppendAudit(ctx, AuditEntry{
				ID:            NewID(),
				SubscriberID:  sub.SubscriberID,
				LedgerEntryID: entry.ID,
				Action:        AuditLedgerOpened,
				At:            now,
				Detail:        fmt.Sprintf("tier %s, balance %d", sub.Tier, entry.Balance),
			})
		})
	})
	if err != nil {
		return LedgerEntry{}, err
	}

	c.log.Info("ledger opened",
		slog.String("subscriber_id", string(sub.SubscriberID)),
		slog.String("tier", string(sub.Tier)),
		slog.Int("balance", entry.Balance))
	return entry, nil
}

// ExpireLedgers deactivates every entry past its expiry and returns how
// many were closed.
func (c *Coordinator) ExpireLedgers(ctx context.Context) (int, error) {
	now := c.opts.Clock()
	var expired []LedgerEntry

	err := c.opts.Retry.Do(ctx, "expire_ledgers", func() { c.opts.Metrics.ConflictRetry("expire_ledgers") }, func(ctx context.Context) error {
		return c.store.WithTx(ctx, func(tx Tx) error {
			var err error
			expired, err = tx.ExpireLedgers(ctx, now)
			if err != nil {
				return err
			}
			for _, e := range expired {
				if err := tx.AppendAudit(ctx, AuditEntry{
					ID:            NewID(),
					SubscriberID:  e.SubscriberID,
					LedgerEntryID: e.ID,
					Action:        AuditLedgerExpired,
					At:            now,
					Detail:        fmt.Sprintf("forfeited %d credits", e.Balance),
				}); err != nil {
					return err
				}
			}
			return nil
		})
	})
	if err != nil {
		c.log.Error("ledger expiry failed", slog.Any("error", err))
		return 0, err
	}

	if len(expired) > 0 {
		c.log.Info("ledgers expired", slog.Int("count", len(expired)))
	}
	return len(expired), nil
}

// finish logs the outcome of an operation: rejections at debug, faults at error.
func (c *Coordinator) finish(op string, err error, attrs ...slog.Attr) {
	args := make([]any, 0, len(attrs)+2)
	for _, a := range attrs {
		args = append(args, a)
	}
	switch {
	case err == nil:
		c.log.Debug(op+" committed", args...)
	case IsRejection(err) || IsNotFound(err):
		args = append(args, slog.String("code", RejectionCode(err)))
		c.log.Debug(op+" rejected", args...)
	default:
		args = append(args, slog.Any("error", err))
		c.log.Error(op+" failed", args...)
	}
}
