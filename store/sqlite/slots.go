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
// SLOT STORE (booking.SlotStore interface)
// =============================================================================

const slotColumns = `id, date, start_time, capacity, occupancy, active`

func scanSlot(row scanner) (booking.Slot, error) {
	var sl booking.Slot
	var date string
	if err := row.Scan(&sl.ID, &date, &sl.StartTime, &sl.Capacity, &sl.Occupancy, &sl.Active); err != nil {
		return sl, err
	}
	d, err := parseDate(date)
	if err != nil {
		return sl, err
	}
	sl.Date = d
	return sl, nil
}

func (o *ops) Slot(ctx context.Context, id booking.SlotID) (booking.Slot, error) {
	row := o.q.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, id)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return sl, booking.ErrSlotNotFound
	}
	if err != nil {
		return sl, mapError(fmt.Errorf("failed to load slot: %w", err))
	}
	return sl, nil
}

// TryIncrementOccupancy is a single conditional UPDATE; the capacity check
// and the increment cannot be separated by another writer.
func (o *ops) TryIncrementOccupancy(ctx context.Context, id booking.SlotID) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE slots SET occupancy = occupancy + 1
		WHERE id = ? AND occupancy < capacity
	`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to increment occupancy: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := o.Slot(ctx, id); err != nil {
			return err
		}
		return booking.ErrSlotFull
	}
	return nil
}

func (o *ops) DecrementOccupancy(ctx context.Context, id booking.SlotID) error {
	res, err := o.q.ExecContext(ctx, `
		UPDATE slots SET occupancy = MAX(occupancy - 1, 0) WHERE id = ?
	`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to decrement occupancy: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrSlotNotFound
	}
	return nil
}

// SaveSlot inserts a slot or updates its schedule and capacity. Occupancy is
// owned by bookings and is not overwritten on update.
func (o *ops) SaveSlot(ctx context.Context, sl booking.Slot) error {
	_, err := o.q.ExecContext(ctx, `
		INSERT INTO slots (`+slotColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			date = excluded.date,
			start_time = excluded.start_time,
			capacity = excluded.capacity,
			active = excluded.active
	`, sl.ID, formatDate(sl.Date), sl.StartTime, sl.Capacity, sl.Occupancy, sl.Active)
	if err != nil {
		return mapError(fmt.Errorf("failed to save slot: %w", err))
	}
	return nil
}

func (o *ops) ListSlots(ctx context.Context, from, to time.Time) ([]booking.Slot, error) {
	rows, err := o.q.QueryContext(ctx, `
		SELECT `+slotColumns+` FROM slots
		WHERE date >= ? AND date <= ?
		ORDER BY date, start_time, id
	`, formatDate(from), formatDate(to))
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
	res, err := o.q.ExecContext(ctx, `UPDATE slots SET active = 0 WHERE id = ?`, id)
	if err != nil {
		return mapError(fmt.Errorf("failed to deactivate slot: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return booking.ErrSlotNotFound
	}
	return nil
}

// =============================================================================
// NON-TRANSACTIONAL ENTRY POINTS
// =============================================================================

func (s *Store) Slot(ctx context.Context, id booking.SlotID) (sl booking.Slot, err error) {
	err = s.read(func(o *ops) error { sl, err = o.Slot(ctx, id); return err })
	return sl, err
}

func (s *Store) TryIncrementOccupancy(ctx context.Context, id booking.SlotID) error {
	return s.write(func(o *ops) error { return o.TryIncrementOccupancy(ctx, id) })
}

func (s *Store) DecrementOccupancy(ctx context.Context, id booking.SlotID) error {
	return s.write(func(o *ops) error { return o.DecrementOccupancy(ctx, id) })
}

func (s *Store) SaveSlot(ctx context.Context, sl booking.Slot) error {
	return s.write(func(o *ops) error { return o.SaveSlot(ctx, sl) })
}

func (s *Store) ListSlots(ctx context.Context, from, to time.Time) (slots []booking.Slot, err error) {
	err = s.read(func(o *ops) error { slots, err = o.ListSlots(ctx, from, to); return err })
	return slots, err
}

func (s *Store) DeactivateSlot(ctx context.Context, id booking.SlotID) error {
	return s.write(func(o *ops) error { return o.DeactivateSlot(ctx, id) })
}
