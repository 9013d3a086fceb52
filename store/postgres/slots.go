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
// SLOT STORE (booking.SlotStore interface)
// =============================================================================

const slotColumns = `id, date, start_time, capacity, occupancy, active`

func scanSlot(row scanner) (booking.Slot, error) {
	var sl booking.Slot
	err := row.Scan(&sl.ID, &sl.Date, &sl.StartTime, &sl.Capacity, &sl.Occupancy, &sl.Active)
	sl.Date = booking.DateOf(sl.Date)
	return sl, err
}

func (o *ops) Slot(ctx context.Context, id booking.SlotID) (booking.Slot, error) {
	sl, err := scanSlot(o.q.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return sl, booking.ErrSlotNotFound
	}
	if err != nil {
		return sl, mapError(fmt.Errorf("failed to load slot: %w", err))
	}
	return sl, nil
}

// TryIncrementOccupancy takes the slot row lock and checks capacity in the
// same statement.
func (o *ops) TryIncrementOccupancy(ctx context.Context, id booking.SlotID) error {
	tag, err := o.q.Exec(ctx, `
		UPDATE slots SET occupancy = occupancy + 1
		WHERE id = $1 AND occupancy < capacity
	`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to increment occupancy: %w", err))
	}
	if tag.RowsAffected() == 0 {
		if _, err := o.Slot(ctx, id); err != nil {
			return err
		}
		return booking.ErrSlotFull
	}
	return nil
}

func (o *ops) DecrementOccupancy(ctx context.Context, id booking.SlotID) error {
	tag, err := o.q.Exec(ctx, `
		UPDATE slots SET occupancy = GREATEST(occupancy - 1, 0) WHERE id = $1
	`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to decrement occupancy: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrSlotNotFound
	}
	return nil
}

// SaveSlot inserts a slot or updates its schedule and capacity. Occupancy is
// owned by bookings and is not overwritten on update.
func (o *ops) SaveSlot(ctx context.Context, sl booking.Slot) error {
	_, err := o.q.Exec(ctx, `
		INSERT INTO slots (`+slotColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			date = EXCLUDED.date,
			start_time = EXCLUDED.start_time,
			capacity = EXCLUDED.capacity,
			active = EXCLUDED.active
	`, sl.ID, booking.DateOf(sl.Date), sl.StartTime, sl.Capacity, sl.Occupancy, sl.Active)
	if err != nil {
		return mapError(fmt.Errorf("failed to save slot: %w", err))
	}
	return nil
}

func (o *ops) ListSlots(ctx context.Context, from, to time.Time) ([]booking.Slot, error) {
	rows, err := o.q.Query(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE date BETWEEN $1 AND $2
		ORDER BY date, start_time, id
	`, booking.DateOf(from), booking.DateOf(to))
	if err != nil {
		return nil, mapError(fmt.Errorf("failed to list slots: %w", err))
	}
	defer rows.Close()

	var slots []booking.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, sl)
	}
	return slots, rows.Err()
}

func (o *ops) DeactivateSlot(ctx context.Context, id booking.SlotID) error {
	tag, err := o.q.Exec(ctx, `UPDATE slots SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to deactivate slot: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return booking.ErrSlotNotFound
	}
	return nil
}
