package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// LEDGER STORE (booking.LedgerStore interface)
// =============================================================================

const ledgerColumns = `id, subscriber_id, balance, expires_at, active, created_at, updated_at`

func scanLedger(row scanner) (booking.LedgerEntry, error) {
	var e booking.LedgerEntry
	var expiresAt, createdAt, updatedAt string
	if err := row.Scan(&e.ID, &e.SubscriberID, &e.Balance, &expiresAt, &e.Active, &createdAt, &updatedAt); err != nil {
		return e, err
	}
	var err error
	if e.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return e, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return e, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return e, err
	}
	return e, nil
}

func (o *ops) ActiveLedger(ctx context.Context, subscriber booking.SubscriberID, now time.Time) (booking.LedgerEntry, error) {
	row := o.q.QueryRowContext(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE subscriber_id = ? AND active = 1 AND expires_at > ?
		LIMIT 1
	`, subscriber, formatTime(now))

	e, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, booking.ErrNoActiveCredit
	}
	if err != nil {
		return e, mapError(fmt.Errorf("failed to load active ledger: %w", err))
	}
	return e, nil
}

func (o *ops) LedgerEntry(ctx context.Context, id booking.LedgerEntryID) (booking.LedgerEntry, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = ?`, id)
	e, err := scanLedger(row)
	if errors.Is(err, sql.ErrNoRows) {
		return e, booking.ErrLedgerNotFound
	}
	if err != nil {
		return e, mapError(fmt.Errorf("failed to load ledger entry: %w", err))
	}
	return e, nil
}

func (o *ops) DecrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (int, error) {
	var balance int
	err := o.q.QueryRowContext(ctx, `
		UPDATE ledger_entries
		SET balance = balance - ?, updated_at = ?
		WHERE id = ? AND balance >= ?
		RETURNING balance
	`, by, formatTime(time.Now()), id, by).Scan(&balance)

	if errors.Is(err, sql.ErrNoRows) {
		e, lerr := o.LedgerEntry(ctx, id)
		if lerr != nil {
			return 0, lerr
		}
		return 0, &booking.InsufficientBalanceError{SubscriberID: e.SubscriberID, Balance: e.Balance}
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to decrement ledger: %w", err))
	}
	return balance, nil
}

func (o *ops) IncrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (int, error) {
	var balance int
	err := o.q.QueryRowContext(ctx, `
		UPDATE ledger_entries
		SET balance = balance + ?, updated_at = ?
		WHERE id = ?
		RETURNING balance
	`, by, formatTime(time.Now()), id).Scan(&balance)

	if errors.Is(err, sql.ErrNoRows) {
		return 0, booking.ErrLedgerNotFound
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to increment ledger: %w", err))
	}
	return balance, nil
}

func (o *ops) ResetLedger(ctx context.Context, id booking.LedgerEntryID, balance int) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE ledger_entries SET balance = ?, updated_at = ? WHERE id = ?
	`, balance, formatTime(time.Now()), id)
	if err != nil {
		return mapError(fmt.Errorf("failed to reset ledger: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrLedgerNotFound
	}
	return nil
}

func (o *ops) OpenLedger(ctx context.Context, e booking.LedgerEntry) error {
	now := formatTime(time.Now())
	if _, err := o.q.ExecContext(ctx, `
		UPDATE ledger_entries SET active = 0, updated_at = ?
		WHERE subscriber_id = ? AND active = 1
	`, now, e.SubscriberID); err != nil {
		return mapError(fmt.Errorf("failed to deactivate ledger: %w", err))
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES (?, ?, ?, ?, 1, ?, ?)
	`, e.ID, e.SubscriberID, e.Balance, formatTime(e.ExpiresAt), formatTime(createdAt), now)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: concurrent ledger open for %s", booking.ErrConflict, e.SubscriberID)
		}
		return mapError(fmt.Errorf("failed to open ledger: %w", err))
	}
	return nil
}

func (o *ops) ExpireLedgers(ctx context.Context, now time.Time) ([]booking.LedgerEntry, error) {
	rows, err := o.q.QueryContext(ctx, `
		UPDATE ledger_entries SET active = 0, updated_at = ?
		WHERE active = 1 AND expires_at <= ?
		RETURNING `+ledgerColumns+`
	`, formatTime(time.Now()), formatTime(now))
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to expire ledgers: %w", err))
	}
	defer rows.Close()

	var expired []booking.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, e)
	}
	return expired, rows.Err()
}

// =============================================================================
// NON-TRANSACTIONAL ENTRY POINTS
// =============================================================================

func (s *Store) ActiveLedger(ctx context.Context, subscriber booking.SubscriberID, now time.Time) (e booking.LedgerEntry, err error) {
	err = s.read(func(o *ops) error { e, err = o.ActiveLedger(ctx, subscriber, now); return err })
	return e, err
}

func (s *Store) LedgerEntry(ctx context.Context, id booking.LedgerEntryID) (e booking.LedgerEntry, err error) {
	err = s.read(func(o *ops) error { e, err = o.LedgerEntry(ctx, id); return err })
	return e, err
}

func (s *Store) DecrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (n int, err error) {
	err = s.write(func(o *ops) error { n, err = o.DecrementLedger(ctx, id, by); return err })
	return n, err
}

func (s *Store) IncrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (n int, err error) {
	err = s.write(func(o *ops) error { n, err = o.IncrementLedger(ctx, id, by); return err })
	return n, err
}

func (s *Store) ResetLedger(ctx context.Context, id booking.LedgerEntryID, balance int) error {
	return s.write(func(o *ops) error { return o.ResetLedger(ctx, id, balance) })
}

// OpenLedger runs in its own transaction so the deactivate and insert land together.
func (s *Store) OpenLedger(ctx context.Context, e booking.LedgerEntry) error {
	return s.WithTx(ctx, func(tx booking.Tx) error { return tx.OpenLedger(ctx, e) })
}

func (s *Store) ExpireLedgers(ctx context.Context, now time.Time) (expired []booking.LedgerEntry, err error) {
	err = s.write(func(o *ops) error { expired, err = o.ExpireLedgers(ctx, now); return err })
	return expired, err
}
