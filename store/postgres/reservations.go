package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// RESERVATION STORE (booking.ReservationStore interface)
// =============================================================================

const reservationColumns = `id, subscriber_id, slot_id, ledger_entry_id, status, created_at, cancelled_at`

func scanReservation(row scanner) (booking.Reservation, error) {
	var r booking.Reservation
	err := row.Scan(&r.ID, &r.SubscriberID, &r.SlotID, &r.LedgerEntryID, &r.Status, &r.CreatedAt, &r.CancelledAt)
	return r, err
}

func (o *ops) ConfirmedReservation(ctx context.Context, subscriber booking.SubscriberID, slot booking.SlotID) (booking.Reservation, bool, error) {
	r, err := scanReservation(o.q.QueryRow(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE subscriber_id = $1 AND slot_id = $2 AND status = 'confirmed'
	`, subscriber, slot))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, mapError(fmt.Errorf("failed to load reservation: %w", err))
	}
	return r, true, nil
}

func (o *ops) Reservation(ctx context.Context, id booking.ReservationID) (booking.Reservation, error) {
	r, err := scanReservation(o.q.QueryRow(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE id = $1`+o.forUpdate(), id))
	if errors.Is(err, pgx.ErrNoRows) {
		return r, booking.ErrReservationNotFound
	}
	if err != nil {
		return r, mapError(fmt.Errorf("failed to load reservation: %w", err))
	}
	return r, nil
}

func (o *ops) InsertReservation(ctx context.Context, r booking.Reservation) error {
	_, err := o.q.Exec(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, r.ID, r.SubscriberID, r.SlotID, r.LedgerEntryID, r.Status, r.CreatedAt, r.CancelledAt)
	if err != nil {
		if isUniqueViolation(err, constraintOneConfirmed) {
			return booking.ErrAlreadyBooked
		}
		return mapError(fmt.Errorf("failed to insert reservation: %w", err))
	}
	return nil
}

func (o *ops) MarkCancelled(ctx context.Context, id booking.ReservationID, at time.Time) error {
	tag, err := o.q.Exec(ctx, `
		UPDATE reservations SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'confirmed'
	`, id, at)
	if err != nil {
		return mapError(fmt.Errorf("failed to cancel reservation: %w", err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := o.Reservation(ctx, id); err != nil {
			return err
		}
		return booking.ErrAlreadyCancelled
	}
	return nil
}

func (o *ops) ReservationsBySubscriber(ctx context.Context, subscriber booking.SubscriberID) ([]booking.Reservation, error) {
	rows, err := o.q.Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE subscriber_id = $1
		ORDER BY created_at DESC
	`, subscriber)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list reservations: %w", err))
	}
	defer rows.Close()

	var out []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (o *ops) ReservationsBySlot(ctx context.Context, slot booking.SlotID) ([]booking.Reservation, error) {
	rows, err := o.q.Query(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE slot_id = $1 AND status = 'confirmed'
		ORDER BY created_at, id
	`, slot)
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list slot reservations: %w", err))
	}
	defer rows.Close()

	var out []booking.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
