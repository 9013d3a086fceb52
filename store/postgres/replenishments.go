package postgres

import (
	"context"
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
	err := row.Scan(&r.ID, &r.SubscriberID, &r.Tier, &r.CycleDate, &r.WeekNumber, &r.PreviousBalance, &r.NewBalance, &r.CreatedAt)
	r.CycleDate = booking.DateOf(r.CycleDate)
	return r, err
}

func (o *ops) ReplenishmentExists(ctx context.Context, subscriber booking.SubscriberID, cycle time.Time) (bool, error) {
	var exists bool
	err := o.q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM replenishments WHERE subscriber_id = $1 AND cycle_date = $2)
	`, subscriber, booking.DateOf(cycle)).Scan(&exists)
	if err != nil {
		return false, mapError(fmt.Errorf("failed to check replenishment: %w", err))
	}
	return exists, nil
}

func (o *ops) InsertReplenishment(ctx context.Context, r booking.ReplenishmentRecord) error {
	_, err := o.q.Exec(ctx, `
		INSERT INTO replenishments (`+replenishmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, r.ID, r.SubscriberID, r.Tier, booking.DateOf(r.CycleDate), r.WeekNumber,
		r.PreviousBalance, r.NewBalance, r.CreatedAt)
	if err != nil {
		if isUniqueViolation(err, constraintCycleUnique) {
			return booking.ErrAlreadyReplenished
		}
		return mapError(fmt.Errorf("failed to insert replenishment: %w", err))
	}
	return nil
}

func (o *ops) Replenishments(ctx context.Context, subscriber booking.SubscriberID) ([]booking.ReplenishmentRecord, error) {
	return o.queryReplenishments(ctx, `
		SELECT `+replenishmentColumns+` FROM replenishments
		WHERE subscriber_id = $1
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
		LIMIT $1
	`, limit)
}

func (o *ops) CountReplenishments(ctx context.Context, from, to time.Time) (int, error) {
	var n int
	err := o.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM replenishments WHERE cycle_date BETWEEN $1 AND $2
	`, booking.DateOf(from), booking.DateOf(to)).Scan(&n)
	if err != nil {
		return 0, mapError(fmt.Errorf("failed to count replenishments: %w", err))
	}
	return n, nil
}

func (o *ops) queryReplenishments(ctx context.Context, query string, args ...any) ([]booking.ReplenishmentRecord, error) {
	rows, err := o.q.Query(ctx, query, args...)
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

func nullable[T ~string](v T) *T {
	if v == "" {
		return nil
	}
	return &v
}

func (o *ops) AppendAudit(ctx context.Context, e booking.AuditEntry) error {
	_, err := o.q.Exec(ctx, `
		INSERT INTO audit_log (id, subscriber_id, slot_id, reservation_id, ledger_entry_id, action, at, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, e.ID, e.SubscriberID, nullable(e.SlotID), nullable(e.ReservationID),
		nullable(e.LedgerEntryID), e.Action, e.At, nullable(e.Detail))
	if err != nil {
		return mapError(fmt.Errorf("failed to append audit entry: %w", err))
	}
	return nil
}

func (o *ops) AuditTrail(ctx context.Context, subscriber booking.SubscriberID) ([]booking.AuditEntry, error) {
	rows, err := o.q.Query(ctx, `
		SELECT id, subscriber_id, slot_id, reservation_id, ledger_entry_id, action, at, detail
		FROM audit_log WHERE subscriber_id = $1
		ORDER BY at, seq
	`, subscriber)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to query audit log: %w", err))
	}
	defer rows.Close()

	var out []booking.AuditEntry
	for rows.Next() {
		var e booking.AuditEntry
		var slot, res, ledger, detail *string
		if err := rows.Scan(&e.ID, &e.SubscriberID, &slot, &res, &ledger, &e.Action, &e.At, &detail); err != nil {
			return nil, err
		}
		e.SlotID = booking.SlotID(deref(slot))
		e.ReservationID = booking.ReservationID(deref(res))
		e.LedgerEntryID = booking.LedgerEntryID(deref(ledger))
		e.Detail = deref(detail)
		out = append(out, e)
	}
	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
