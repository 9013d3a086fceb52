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
// RESERVATION STORE (booking.ReservationStore interface)
// =============================================================================

const reservationColumns = `id, subscriber_id, slot_id, ledger_entry_id, status, created_at, cancelled_at`

func scanReservation(row scanner) (booking.Reservation, error) {
	var r booking.Reservation
	var createdAt string
	var cancelledAt sql.NullString
	if err := row.Scan(&r.ID, &r.SubscriberID, &r.SlotID, &r.LedgerEntryID, &r.Status, &createdAt, &cancelledAt); err != nil {
		return r, err
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return r, err
	}
	if cancelledAt.Valid {
		t, err := parseTime(cancelledAt.String)
		if err != nil {
			return r, err
		}
		r.CancelledAt = &t
	}
	return r, nil
}

func (o *ops) ConfirmedReservation(ctx context.Context, subscriber booking.SubscriberID, slot booking.SlotID) (booking.Reservation, bool, error) {
	row := o.q.QueryRowContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE subscriber_id = ? AND slot_id = ? AND status = 'confirmed'
	`, subscriber, slot)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, false, nil
	}
	if err != nil {
		return r, false, mapError(fmt.Errorf("failed to load reservation: %w", err))
	}
	return r, true, nil
}

func (o *ops) Reservation(ctx context.Context, id booking.ReservationID) (booking.Reservation, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, booking.ErrReservationNotFound
	}
	if err != nil {
		return r, mapError(fmt.Errorf("failed to load reservation: %w", err))
	}
	return r, nil
}

func (o *ops) InsertReservation(ctx context.Context, r booking.Reservation) error {
	var cancelledAt sql.NullString
	if r.CancelledAt != nil {
		cancelledAt = nullString(formatTime(*r.CancelledAt))
	}
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO reservations (`+reservationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.SubscriberID, r.SlotID, r.LedgerEntryID, r.Status, formatTime(r.CreatedAt), cancelledAt)
	if err != nil {
		if isUniqueConstraintError(err) {
			return booking.ErrAlreadyBooked
		}
		return mapError(fmt.Errorf("failed to insert reservation: %w", err))
	}
	return nil
}

func (o *ops) MarkCancelled(ctx context.Context, id booking.ReservationID, at time.Time) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE reservations SET status = 'cancelled', cancelled_at = ?
		WHERE id = ? AND status = 'confirmed'
	`, formatTime(at), id)
	if err != nil {
		return mapError(fmt.Errorf("failed to cancel reservation: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := o.Reservation(ctx, id); err != nil {
			return err
		}
		return booking.ErrAlreadyCancelled
	}
	return nil
}

func (o *ops) ReservationsBySubscriber(ctx context.Context, subscriber booking.SubscriberID) ([]booking.Reservation, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE subscriber_id = ?
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
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+reservationColumns+` FROM reservations
		WHERE slot_id = ? AND status = 'confirmed'
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

// =============================================================================
// NON-TRANSACTIONAL ENTRY POINTS
// =============================================================================

func (s *Store) ConfirmedReservation(ctx context.Context, subscriber booking.SubscriberID, slot booking.SlotID) (r booking.Reservation, found bool, err error) {
	err = s.read(func(o *ops) error { r, found, err = o.ConfirmedReservation(ctx, subscriber, slot); return err })
	return r, found, err
}

func (s *Store) Reservation(ctx context.Context, id booking.ReservationID) (r booking.Reservation, err error) {
	err = s.read(func(o *ops) error { r, err = o.Reservation(ctx, id); return err })
	return r, err
}

func (s *Store) InsertReservation(ctx context.Context, r booking.Reservation) error {
	return s.write(func(o *ops) error { return o.InsertReservation(ctx, r) })
}

func (s *Store) MarkCancelled(ctx context.Context, id booking.ReservationID, at time.Time) error {
	return s.write(func(o *ops) error { return o.MarkCancelled(ctx, id, at) })
}

func (s *Store) ReservationsBySubscriber(ctx context.Context, subscriber booking.SubscriberID) (out []booking.Reservation, err error) {
	err = s.read(func(o *ops) error { out, err = o.ReservationsBySubscriber(ctx, subscriber); return err })
	return out, err
}

func (s *Store) ReservationsBySlot(ctx context.Context, slot booking.SlotID) (out []booking.Reservation, err error) {
	err = s.read(func(o *ops) error { out, err = o.ReservationsBySlot(ctx, slot); return err })
	return out, err
}
