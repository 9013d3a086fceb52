package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// REPLENISHMENT STORE (booking.ReplenishmentStore interface)
// =============================================================================

const replenishmentColumns = `id, subscriber_id, tier, cycle_date, week_number, previous_balance, new_balance, created_at`

func scanReplenishment(row scanner) (booking.ReplenishmentRecord, error) {
	var r booking.ReplenishmentRecord
	var cycle, createdAt string
	if err := row.Scan(&r.ID, &r.SubscriberID, &r.Tier, &cycle, &r.WeekNumber, &r.PreviousBalance, &r.NewBalance, &createdAt); err != nil {
		return r, err
	}
	var err error
	if r.CycleDate, err = parseDate(cycle); err != nil {
		return r, err
	}
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	return r, nil
}

func (o *ops) ReplenishmentExists(ctx context.Context, subscriber booking.SubscriberID, cycle time.Time) (bool, error) {
	var n int
	err := o.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM replenishments WHERE subscriber_id = ? AND cycle_date = ?
	`, subscriber, formatDate(cycle)).Scan(&n)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to check replenishment: %w", err))
	}
	return n > 0, nil
}

func (o *ops) InsertReplenishment(ctx context.Context, r booking.ReplenishmentRecord) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO replenishments (`+replenishmentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SubscriberID, r.Tier, formatDate(r.CycleDate), r.WeekNumber,
		r.PreviousBalance, r.NewBalance, formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrAlreadyReplenished
		}
		return mapError(fmt.Errorf("failed to insert replenishment: %w", err))
	}
	return nil
}

func (o *ops) Replenishments(ctx context.Context, subscriber booking.SubscriberID) ([]booking.ReplenishmentRecord, error) {
	return o.queryReplenishments(ctx, `
		SELECT `+replenishmentColumns+` FROM replenishments
		WHERE subscriber_id = ?
		ORDER BY cycle_date DESC
	`, subscriber)
}

func (o *ops) RecentReplenishments(ctx context.Context, limit int) ([]booking.ReplenishmentRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return o.queryReplenishments(ctx, `
		SELECT `+replenishmentColumns+` FROM replenishments
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
}

func (o *ops) CountReplenishments(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := o.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM replenishments WHERE cycle_date BETWEEN ? AND ?
	`, formatDate(from), formatDate(to)).Scan(&n)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to count replenishments: %w", err))
	}
	return n, nil
}

func (o *ops) queryReplenishments(ctx context.Context, query string, args ...any) ([]booking.ReplenishmentRecord, error) {
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query replenishments: %w", err))
	}
	defer rows.Close()

	var out []booking.ReplenishmentRecord
	for rows.Next() {
		r, err := scanReplenishment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// =============================================================================
// AUDIT LOG (booking.AuditLog interface)
// =============================================================================

func (o *ops) AppendAudit(ctx context.Context, e booking.AuditEntry) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO audit_log (id, subscriber_id, slot_id, reservation_id, ledger_entry_id, action, at, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.SubscriberID, nullString(string(e.SlotID)), nullString(string(e.ReservationID)),
		nullString(string(e.LedgerEntryID)), e.Action, formatTime(e.At), nullString(e.Detail))
	if err != nil {
		return mapError(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

func (o *ops) AuditTrail(ctx context.Context, subscriber booking.SubscriberID) ([]booking.AuditEntry, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT id, subscriber_id, slot_id, reservation_id, ledger_entry_id, action, at, detail
		FROM audit_log WHERE subscriber_id = ?
		ORDER BY at, rowid
	`, subscriber)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query audit log: %w", err))
	}
	defer rows.Close()

	var out []booking.AuditEntry
	for rows.Next() {
		var e booking.AuditEntry
		var slot, res, ledger, detail sql.NullString
		var at string
		if err := rows.Scan(&e.ID, &e.SubscriberID, &slot, &res, &ledger, &e.Action, &at, &detail); err != nil {
			return nil, err
		}
		e.SlotID = booking.SlotID(slot.String)
		e.ReservationID = booking.ReservationID(res.String)
		e.LedgerEntryID = booking.LedgerEntryID(ledger.String)
		e.Detail = detail.String
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =============================================================================
// NON-TRANSACTIONAL ENTRY POINTS
// =============================================================================

func (s *Store) ReplenishmentExists(ctx context.Context, subscriber booking.SubscriberID, cycle time.Time) (ok bool, err error) {
	err = s.read(func(o *ops) error { ok, err = o.ReplenishmentExists(ctx, subscriber, cycle); return err })
	return ok, err
}

func (s *Store) InsertReplenishment(ctx context.Context, r booking.ReplenishmentRecord) error {
	return s.write(func(o *ops) error { return o.InsertReplenishment(ctx, r) })
}

func (s *Store) Replenishments(ctx context.Context, subscriber booking.SubscriberID) (out []booking.ReplenishmentRecord, err error) {
	err = s.read(func(o *ops) error { out, err = o.Replenishments(ctx, subscriber); return err })
	return out, err
}

func (s *Store) RecentReplenishments(ctx context.Context, limit int) (out []booking.ReplenishmentRecord, err error) {
	err = s.read(func(o *ops) error { out, err = o.RecentReplenishments(ctx, limit); return err })
	return out, err
}

func (s *Store) CountReplenishments(ctx context.Context, from, to time.Time) (n int, err error) {
	err = s.read(func(o *ops) error { n, err = o.CountReplenishments(ctx, from, to); return err })
	return n, err
}

func (s *Store) AppendAudit(ctx context.Context, e booking.AuditEntry) error {
	return s.write(func(o *ops) error { return o.AppendAudit(ctx, e) })
}

func (s *Store) AuditTrail(ctx context.Context, subscriber booking.SubscriberID) (out []booking.AuditEntry, err error) {
	err = s.read(func(o *ops) error { out, err = o.AuditTrail(ctx, subscriber); return err })
	return out, err
}
