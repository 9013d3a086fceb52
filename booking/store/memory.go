// Package store provides an in-memory booking.Store.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

var (
	_ booking.Store              = (*Memory)(nil)
	_ booking.SubscriptionSource = (*Memory)(nil)
	_ booking.FeatureToggle      = (*Memory)(nil)
)

// Memory implements booking.Store together with the subscription and feature
// projections. WithTx holds the lock for the whole transaction, so
// transactions are serial; rollback restores a snapshot.
type Memory struct {
	mu sync.Mutex
	st state
}

type state struct {
	ledgers        map[booking.LedgerEntryID]booking.LedgerEntry
	slots          map[booking.SlotID]booking.Slot
	reservations   map[booking.ReservationID]booking.Reservation
	replenishments map[replKey]booking.ReplenishmentRecord
	audit          []booking.AuditEntry
	subscriptions  map[booking.SubscriberID]booking.Subscription
	features       map[string]bool
}

type replKey struct {
	Subscriber booking.SubscriberID
	Cycle      string
}

func NewMemory() *Memory {
	return &Memory{st: state{
		ledgers:        make(map[booking.LedgerEntryID]booking.LedgerEntry),
		slots:          make(map[booking.SlotID]booking.Slot),
		reservations:   make(map[booking.ReservationID]booking.Reservation),
		replenishments: make(map[replKey]booking.ReplenishmentRecord),
		subscriptions:  make(map[booking.SubscriberID]booking.Subscription),
		features:       map[string]bool{booking.FeatureWeeklyRefill: true},
	}}
}

// Reset clears all data and restores default feature flags.
func (m *Memory) Reset(_ context.Context) error {
	fresh := NewMemory()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = fresh.st
	return nil
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(booking.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&m.st); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (s *state) clone() state {
	c := state{
		ledgers:        make(map[booking.LedgerEntryID]booking.LedgerEntry, len(s.ledgers)),
		slots:          make(map[booking.SlotID]booking.Slot, len(s.slots)),
		reservations:   make(map[booking.ReservationID]booking.Reservation, len(s.reservations)),
		replenishments: make(map[replKey]booking.ReplenishmentRecord, len(s.replenishments)),
		audit:          append([]booking.AuditEntry(nil), s.audit...),
		subscriptions:  make(map[booking.SubscriberID]booking.Subscription, len(s.subscriptions)),
		features:       make(map[string]bool, len(s.features)),
	}
	for k, v := range s.ledgers {
		c.ledgers[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.reservations {
		c.reservations[k] = v
	}
	for k, v := range s.replenishments {
		c.replenishments[k] = v
	}
	for k, v := range s.subscriptions {
		c.subscriptions[k] = v
	}
	for k, v := range s.features {
		c.features[k] = v
	}
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS (booking.Store outside a transaction)
// =============================================================================

func (m *Memory) ActiveLedger(ctx context.Context, subscriber booking.SubscriberID, now time.Time) (booking.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ActiveLedger(ctx, subscriber, now)
}

func (m *Memory) LedgerEntry(ctx context.Context, id booking.LedgerEntryID) (booking.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.LedgerEntry(ctx, id)
}

func (m *Memory) DecrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DecrementLedger(ctx, id, by)
}

func (m *Memory) IncrementLedger(ctx context.Context, id booking.LedgerEntryID, by int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.IncrementLedger(ctx, id, by)
}

func (m *Memory) ResetLedger(ctx context.Context, id booking.LedgerEntryID, balance int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ResetLedger(ctx, id, balance)
}

func (m *Memory) OpenLedger(ctx context.Context, entry booking.LedgerEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.OpenLedger(ctx, entry)
}

func (m *Memory) ExpireLedgers(ctx context.Context, now time.Time) ([]booking.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ExpireLedgers(ctx, now)
}

func (m *Memory) Slot(ctx context.Context, id booking.SlotID) (booking.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Slot(ctx, id)
}

func (m *Memory) TryIncrementOccupancy(ctx context.Context, id booking.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.TryIncrementOccupancy(ctx, id)
}

func (m *Memory) DecrementOccupancy(ctx context.Context, id booking.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DecrementOccupancy(ctx, id)
}

func (m *Memory) SaveSlot(ctx context.Context, slot booking.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.SaveSlot(ctx, slot)
}

func (m *Memory) ListSlots(ctx context.Context, from, to time.Time) ([]booking.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ListSlots(ctx, from, to)
}

func (m *Memory) DeactivateSlot(ctx context.Context, id booking.SlotID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.DeactivateSlot(ctx, id)
}

func (m *Memory) ConfirmedReservation(ctx context.Context, subscriber booking.SubscriberID, slot booking.SlotID) (booking.Reservation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ConfirmedReservation(ctx, subscriber, slot)
}

func (m *Memory) Reservation(ctx context.Context, id booking.ReservationID) (booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Reservation(ctx, id)
}

func (m *Memory) InsertReservation(ctx context.Context, r booking.Reservation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertReservation(ctx, r)
}

func (m *Memory) MarkCancelled(ctx context.Context, id booking.ReservationID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.MarkCancelled(ctx, id, at)
}

func (m *Memory) ReservationsBySubscriber(ctx context.Context, subscriber booking.SubscriberID) ([]booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReservationsBySubscriber(ctx, subscriber)
}

func (m *Memory) ReservationsBySlot(ctx context.Context, slot booking.SlotID) ([]booking.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReservationsBySlot(ctx, slot)
}

func (m *Memory) ReplenishmentExists(ctx context.Context, subscriber booking.SubscriberID, cycle time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.ReplenishmentExists(ctx, subscriber, cycle)
}

func (m *Memory) InsertReplenishment(ctx context.Context, rec booking.ReplenishmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.InsertReplenishment(ctx, rec)
}

func (m *Memory) Replenishments(ctx context.Context, subscriber booking.SubscriberID) ([]booking.ReplenishmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Replenishments(ctx, subscriber)
}

func (m *Memory) RecentReplenishments(ctx context.Context, limit int) ([]booking.ReplenishmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.RecentReplenishments(ctx, limit)
}

func (m *Memory) CountReplenishments(ctx context.Context, from, to time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.CountReplenishments(ctx, from, to)
}

func (m *Memory) AppendAudit(ctx context.Context, entry booking.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AppendAudit(ctx, entry)
}

func (m *Memory) AuditTrail(ctx context.Context, subscriber booking.SubscriberID) ([]booking.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.AuditTrail(ctx, subscriber)
}

// =============================================================================
// SUBSCRIPTIONS AND FEATURES
// =============================================================================

func (m *Memory) SaveSubscription(_ context.Context, sub booking.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.subscriptions[sub.SubscriberID] = sub
	return nil
}

func (m *Memory) Subscription(_ context.Context, subscriber booking.SubscriberID) (booking.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.st.subscriptions[subscriber]
	if !ok {
		return booking.Subscription{}, booking.ErrSubscriberNotFound
	}
	return sub, nil
}

func (m *Memory) ActiveSubscriptions(_ context.Context, day time.Time) ([]booking.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []booking.Subscription
	for _, sub := range m.st.subscriptions {
		if sub.Active && sub.Covers(day) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubscriberID < out[j].SubscriberID })
	return out, nil
}

func (m *Memory) SetFeature(_ context.Context, name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.features[name] = enabled
	return nil
}

func (m *Memory) Enabled(_ context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.features[name], nil
}

// =============================================================================
// UNLOCKED STATE (booking.Tx)
// =============================================================================

func (s *state) ActiveLedger(_ context.Context, subscriber booking.SubscriberID, now time.Time) (booking.LedgerEntry, error) {
	for _, e := range s.ledgers {
		if e.SubscriberID == subscriber && e.Usable(now) {
			return e, nil
		}
	}
	return booking.LedgerEntry{}, booking.ErrNoActiveCredit
}

func (s *state) LedgerEntry(_ context.Context, id booking.LedgerEntryID) (booking.LedgerEntry, error) {
	e, ok := s.ledgers[id]
	if !ok {
		return booking.LedgerEntry{}, booking.ErrLedgerNotFound
	}
	return e, nil
}

func (s *state) DecrementLedger(_ context.Context, id booking.LedgerEntryID, by int) (int, error) {
	e, ok := s.ledgers[id]
	if !ok {
		return 0, booking.ErrLedgerNotFound
	}
	if e.Balance-by < 0 {
		return 0, &booking.InsufficientBalanceError{SubscriberID: e.SubscriberID, Balance: e.Balance}
	}
	e.Balance -= by
	e.UpdatedAt = time.Now().UTC()
	s.ledgers[id] = e
	return e.Balance, nil
}

func (s *state) IncrementLedger(_ context.Context, id booking.LedgerEntryID, by int) (int, error) {
	e, ok := s.ledgers[id]
	if !ok {
		return 0, booking.ErrLedgerNotFound
	}
	e.Balance += by
	e.UpdatedAt = time.Now().UTC()
	s.ledgers[id] = e
	return e.Balance, nil
}

func (s *state) ResetLedger(_ context.Context, id booking.LedgerEntryID, balance int) error {
	if balance < 0 {
		return &booking.InvariantError{Constraint: "ledger_balance_non_negative"}
	}
	e, ok := s.ledgers[id]
	if !ok {
		return booking.ErrLedgerNotFound
	}
	e.Balance = balance
	e.UpdatedAt = time.Now().UTC()
	s.ledgers[id] = e
	return nil
}

func (s *state) OpenLedger(_ context.Context, entry booking.LedgerEntry) error {
	if entry.Balance < 0 {
		return &booking.InvariantError{Constraint: "ledger_balance_non_negative"}
	}
	for id, e := range s.ledgers {
		if e.SubscriberID == entry.SubscriberID && e.Active {
			e.Active = false
			s.ledgers[id] = e
		}
	}
	entry.Active = true
	s.ledgers[entry.ID] = entry
	return nil
}

func (s *state) ExpireLedgers(_ context.Context, now time.Time) ([]booking.LedgerEntry, error) {
	var expired []booking.LedgerEntry
	for id, e := range s.ledgers {
		if e.Active && !now.Before(e.ExpiresAt) {
			e.Active = false
			s.ledgers[id] = e
			expired = append(expired, e)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired, nil
}

func (s *state) Slot(_ context.Context, id booking.SlotID) (booking.Slot, error) {
	slot, ok := s.slots[id]
	if !ok {
		return booking.Slot{}, booking.ErrSlotNotFound
	}
	return slot, nil
}

func (s *state) TryIncrementOccupancy(_ context.Context, id booking.SlotID) error {
	slot, ok := s.slots[id]
	if !ok {
		return booking.ErrSlotNotFound
	}
	if slot.Occupancy >= slot.Capacity {
		return booking.ErrSlotFull
	}
	slot.Occupancy++
	s.slots[id] = slot
	return nil
}

func (s *state) DecrementOccupancy(_ context.Context, id booking.SlotID) error {
	slot, ok := s.slots[id]
	if !ok {
		return booking.ErrSlotNotFound
	}
	if slot.Occupancy > 0 {
		slot.Occupancy--
	}
	s.slots[id] = slot
	return nil
}

func (s *state) SaveSlot(_ context.Context, slot booking.Slot) error {
	if slot.Capacity < 0 || slot.Occupancy < 0 || slot.Occupancy > slot.Capacity {
		return &booking.InvariantError{Constraint: "slot_occupancy_within_capacity"}
	}
	slot.Date = booking.DateOf(slot.Date)
	s.slots[slot.ID] = slot
	return nil
}

func (s *state) ListSlots(_ context.Context, from, to time.Time) ([]booking.Slot, error) {
	from, to = booking.DateOf(from), booking.DateOf(to)
	var out []booking.Slot
	for _, slot := range s.slots {
		if !slot.Date.Before(from) && !slot.Date.After(to) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].StartTime != out[j].StartTime {
			return out[i].StartTime < out[j].StartTime
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) DeactivateSlot(_ context.Context, id booking.SlotID) error {
	slot, ok := s.slots[id]
	if !ok {
		return booking.ErrSlotNotFound
	}
	slot.Active = false
	s.slots[id] = slot
	return nil
}

func (s *state) ConfirmedReservation(_ context.Context, subscriber booking.SubscriberID, slot booking.SlotID) (booking.Reservation, bool, error) {
	for _, r := range s.reservations {
		if r.SubscriberID == subscriber && r.SlotID == slot && r.Status == booking.StatusConfirmed {
			return r, true, nil
		}
	}
	return booking.Reservation{}, false, nil
}

func (s *state) Reservation(_ context.Context, id booking.ReservationID) (booking.Reservation, error) {
	r, ok := s.reservations[id]
	if !ok {
		return booking.Reservation{}, booking.ErrReservationNotFound
	}
	return r, nil
}

func (s *state) InsertReservation(ctx context.Context, r booking.Reservation) error {
	if r.Status == booking.StatusConfirmed {
		if _, found, _ := s.ConfirmedReservation(ctx, r.SubscriberID, r.SlotID); found {
			return booking.ErrAlreadyBooked
		}
	}
	s.reservations[r.ID] = r
	return nil
}

func (s *state) MarkCancelled(_ context.Context, id booking.ReservationID, at time.Time) error {
	r, ok := s.reservations[id]
	if !ok {
		return booking.ErrReservationNotFound
	}
	if r.Status != booking.StatusConfirmed {
		return booking.ErrAlreadyCancelled
	}
	r.Status = booking.StatusCancelled
	r.CancelledAt = &at
	s.reservations[id] = r
	return nil
}

func (s *state) ReservationsBySubscriber(_ context.Context, subscriber booking.SubscriberID) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.SubscriberID == subscriber {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *state) ReservationsBySlot(_ context.Context, slot booking.SlotID) ([]booking.Reservation, error) {
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.SlotID == slot && r.Status == booking.StatusConfirmed {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *state) ReplenishmentExists(_ context.Context, subscriber booking.SubscriberID, cycle time.Time) (bool, error) {
	_, ok := s.replenishments[replKey{subscriber, cycle.Format(time.DateOnly)}]
	return ok, nil
}

func (s *state) InsertReplenishment(_ context.Context, rec booking.ReplenishmentRecord) error {
	k := replKey{rec.SubscriberID, rec.CycleDate.Format(time.DateOnly)}
	if _, ok := s.replenishments[k]; ok {
		return booking.ErrAlreadyReplenished
	}
	s.replenishments[k] = rec
	return nil
}

func (s *state) Replenishments(_ context.Context, subscriber booking.SubscriberID) ([]booking.ReplenishmentRecord, error) {
	var out []booking.ReplenishmentRecord
	for _, rec := range s.replenishments {
		if rec.SubscriberID == subscriber {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CycleDate.After(out[j].CycleDate) })
	return out, nil
}

func (s *state) RecentReplenishments(_ context.Context, limit int) ([]booking.ReplenishmentRecord, error) {
	out := make([]booking.ReplenishmentRecord, 0, len(s.replenishments))
	for _, rec := range s.replenishments {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *state) CountReplenishments(_ context.Context, from, to time.Time) (int, error) {
	from, to = booking.DateOf(from), booking.DateOf(to)
	n := 0
	for _, rec := range s.replenishments {
		d := booking.DateOf(rec.CycleDate)
		if !d.Before(from) && !d.After(to) {
			n++
		}
	}
	return n, nil
}

func (s *state) AppendAudit(_ context.Context, entry booking.AuditEntry) error {
	s.audit = append(s.audit, entry)
	return nil
}

func (s *state) AuditTrail(_ context.Context, subscriber booking.SubscriberID) ([]booking.AuditEntry, error) {
	var out []booking.AuditEntry
	for _, e := range s.audit {
		if e.SubscriberID == subscriber {
			out = append(out, e)
		}
	}
	return out, nil
}
