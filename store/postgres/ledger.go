package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/reservation-engine/booking"
)

type scanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// LEDGER STORE (booking.LedgerStore interface)
// =============================================================================

const ledgerColumns = `id, subscriber_id, balance, expires_at, active, created_at, updated_at`

func scanLedger(row scanner) (booking.LedgerEntry, error) {
	var e booking.LedgerEntry
	err := row.Scan(&e.ID, &e.SubscriberID, &e.Balance, &e.ExpiresAt, &e.Active, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (o *ops) ActiveLedger(ctx context.Context, subscriber booking.SubscriberID, now time.Time) (booking.LedgerEntry, error) {
	row := o.q.QueryRow(ctx, `
		SELECT `+ledgerColumns+`
		FROM ledger_entries
		WHERE subscriber_id = $1 AND active AND expires_at > $2`+o.forUpdate(),
		subscriber, now)

	e, err := scanLedger(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return e, booking.ErrNoActiveCredit
	}
	if err != nil {
		return e, mapError(fmt.Errorf("failed to load active ledger: %w", err))
	}
	return e, nil
}

func (o *ops) LedgerEntry(ctx context.Context, id booking.LedgerEntryID) (booking.LedgerEntry, error) {
	e, err := scanLedger(o.q.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return e, booking.ErrLedgerNotFound
	}
	if err != nil {
		return e, mapError(fmt.Errorf("failed to load ledger entry: %w", err))
	}
	return e, nil
}

func (o *ops) DecrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (int, error) {
	var balance int
	err := o.q.QueryRow(ctx, `
		UPDATE ledger_entries
		SET balance = balance - $2, updated_at = NOW()
		WHERE id = $1 AND balance >= $2
		RETURNING balance
	`, id, by).Scan(&balance)

	if errors.Is(err, pgx.ErrNoRows) {
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
	err := o.q.QueryRow(ctx, `
		UPDATE ledger_entries
		SET balance = balance + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING balance
	`, id, by).Scan(&balance)

	if errors.Is(err, pgx.ErrNoRows) {
		return 0, booking.ErrLedgerNotFound
	}
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to increment ledger: %w", err))
	}
	return balance, nil
}

func (o *ops) ResetLedger(ctx context.Context, id booking.LedgerEntryID, balance int) error {
	tag, err := o.q.Exec(ctx, `
		UPDATE ledger_entries SET balance = $2, updated_at = NOW() WHERE id = $1
	`, id, balance)
	if err != nil {
		return mapError(fmt.Errorf("failed to reset ledger: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrLedgerNotFound
	}
	return nil
}

func (o *ops) OpenLedger(ctx context.Context, e booking.LedgerEntry) error {
	if _, err := o.q.Exec(ctx, `
		UPDATE ledger_entries SET active = FALSE, updated_at = NOW()
		WHERE subscriber_id = $1 AND active
	`, e.SubscriberID); err != nil {
		return mapError(fmt.Errorf("failed to deactivate ledger: %w", err))
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := o.q.Exec(ctx, `
		INSERT INTO ledger_entries (`+ledgerColumns+`)
		VALUES ($1, $2, $3, $4, TRUE, $5, NOW())
	`, e.ID, e.SubscriberID, e.Balance, e.ExpiresAt, createdAt)
	if err != nil {
		if isUniqueViolation(err, constraintOneActive) {
			return fmt.Errorf("%w: concurrent ledger open for %s", booking.ErrConflict, e.SubscriberID)
		}
		return mapError(fmt.Errorf("failed to open ledger: %w", err))
	}
	return nil
}

func (o *ops) ExpireLedgers(ctx context.Context, now time.Time) ([]booking.LedgerEntry, error) {
	rows, err := o.q.Query(ctx, `
		UPDATE ledger_entries SET active = FALSE, updated_at = NOW()
		WHERE active AND expires_at <= $1
		RETURNING `+ledgerColumns, now)
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
	return expired, mapError(rows.Err())
}
