/*
handlers_test.go - HTTP tests for the reservation API

Tests for:
- Book and cancel round trip with status codes
- Error code to HTTP status mapping
- Subscription upsert opening a ledger
- Slot listing, deactivation and rosters
- Subscriber audit trail
- Replenishment runs, history, stats and feature toggle
- Ledger expiry endpoint
*/
package api

import (
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// RESERVATIONS
// =============================================================================

func TestBookAndCancel_RoundTrip(t *testing.T) {
	// GIVEN: An Ultimate subscriber (3 credits) and a slot tomorrow
	// WHEN: Booking, re-booking, cancelling twice
	// THEN: 201, 409, 200, 409 and the balance returns to 3

	s := newTestServer(t)
	sub := s.subscribe(booking.TierUltimate, monday)
	slot := s.createSlot(day(2026, 3, 3), "18:30", 2)

	rec := s.book(sub, slot)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	booked := decode[BookResponse](t, rec)
	assert.Equal(t, 2, booked.Balance)
	assert.NotEmpty(t, booked.ReservationID)

	rec = s.book(sub, slot)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_booked", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/reservations/"+booked.ReservationID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 3, decode[CancelResponse](t, rec).RefundedBalance)

	rec = s.do(http.MethodPost, "/api/reservations/"+booked.ReservationID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_cancelled", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/api/subscribers/"+sub+"/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 3, decode[StatusDTO](t, rec).CurrentBalance)

	rec = s.do(http.MethodGet, "/api/subscribers/"+sub+"/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]ReservationDTO](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "cancelled", history[0].Status)
	assert.NotNil(t, history[0].CancelledAt)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Bookings.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.Bookings.WithLabelValues("already_booked")))
}

func TestBook_ErrorMapping(t *testing.T) {
	s := newTestServer(t)

	medium := s.subscribe(booking.TierUltimateMedium, monday)
	first := s.createSlot(day(2026, 3, 3), "07:00", 5)
	second := s.createSlot(day(2026, 3, 4), "07:00", 5)
	full := s.createSlot(day(2026, 3, 5), "07:00", 1)
	past := s.createSlot(day(2026, 3, 2), "07:00", 5)
	closed := s.createSlot(day(2026, 3, 6), "07:00", 5)
	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/slots/"+closed, nil).Code)

	// Medium tier holds one credit.
	require.Equal(t, http.StatusCreated, s.book(medium, first).Code)

	other := s.subscribe(booking.TierUltimate, monday)
	require.Equal(t, http.StatusCreated, s.book(other, full).Code)
	third := s.subscribe(booking.TierUltimate, monday)

	inactive := booking.NewID()
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/subscriptions", SubscriptionRequest{
		SubscriberID: inactive, Tier: "ultimate", StartDate: "2026-03-02", EndDate: "2026-05-24", Active: false,
	}).Code)

	tests := []struct {
		name       string
		subscriber string
		slot       string
		wantStatus int
		wantCode   string
	}{
		{"insufficient balance", medium, second, http.StatusPaymentRequired, "insufficient_balance"},
		{"no ledger", inactive, second, http.StatusPaymentRequired, "no_active_credit"},
		{"slot full", third, full, http.StatusConflict, "slot_full"},
		{"unknown slot", other, booking.NewID(), http.StatusNotFound, "slot_not_found"},
		{"slot started", other, past, http.StatusUnprocessableEntity, "slot_unavailable"},
		{"slot deactivated", other, closed, http.StatusUnprocessableEntity, "slot_unavailable"},
		{"invalid subscriber id", "nope", second, http.StatusBadRequest, "invalid_input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.book(tt.subscriber, tt.slot)
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decode[ErrorResponse](t, rec).Code)
		})
	}

	t.Run("malformed body", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/reservations", `{"subscriber_id":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown reservation", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/reservations/"+booking.NewID()+"/cancel", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "reservation_not_found", decode[ErrorResponse](t, rec).Code)
	})
}

// =============================================================================
// SUBSCRIPTIONS
// =============================================================================

func TestSaveSubscription_OpensLedgerOnce(t *testing.T) {
	// GIVEN: A new active Ultimate subscription
	// WHEN: It is pushed twice
	// THEN: The first push opens a ledger at 3, the second reuses it

	s := newTestServer(t)
	req := SubscriptionRequest{
		SubscriberID: booking.NewID(),
		Tier:         "ultimate",
		StartDate:    "2026-03-02",
		EndDate:      "2026-05-24",
		Active:       true,
	}

	rec := s.do(http.MethodPut, "/api/subscriptions", req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[SubscriptionDTO](t, rec)
	require.NotNil(t, first.Balance)
	assert.Equal(t, 3, *first.Balance)

	slot := s.createSlot(day(2026, 3, 3), "07:00", 4)
	require.Equal(t, http.StatusCreated, s.book(req.SubscriberID, slot).Code)

	rec = s.do(http.MethodPut, "/api/subscriptions", req)
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[SubscriptionDTO](t, rec)
	assert.Equal(t, first.LedgerEntryID, second.LedgerEntryID)
	assert.Equal(t, 2, *second.Balance)
}

func TestSaveSubscription_Validation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		req  SubscriptionRequest
	}{
		{"bad id", SubscriptionRequest{SubscriberID: "x", Tier: "ultimate", StartDate: "2026-03-02", EndDate: "2026-05-24"}},
		{"no tier", SubscriptionRequest{SubscriberID: booking.NewID(), StartDate: "2026-03-02", EndDate: "2026-05-24"}},
		{"bad date", SubscriptionRequest{SubscriberID: booking.NewID(), Tier: "ultimate", StartDate: "03/02/2026", EndDate: "2026-05-24"}},
		{"end before start", SubscriptionRequest{SubscriberID: booking.NewID(), Tier: "ultimate", StartDate: "2026-03-02", EndDate: "2026-03-01"}},
		{"negative credits", SubscriptionRequest{SubscriberID: booking.NewID(), Tier: "standard_pilates", StartDate: "2026-03-02", EndDate: "2026-05-24", PackageCredits: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(http.MethodPut, "/api/subscriptions", tt.req)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Code)
		})
	}
}

func TestGetStatus_UnknownSubscriber(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/subscribers/"+booking.NewID()+"/status", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "subscriber_not_found", decode[ErrorResponse](t, rec).Code)
}

func TestListAudit_RecordsEngineActions(t *testing.T) {
	// GIVEN: A subscriber who booked and then cancelled
	// WHEN: Reading the audit trail
	// THEN: Ledger opening, booking and cancellation appear in order

	s := newTestServer(t)
	sub := s.subscribe(booking.TierUltimate, monday)
	slot := s.createSlot(day(2026, 3, 3), "07:00", 4)
	rec := s.book(sub, slot)
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decode[BookResponse](t, rec)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/reservations/"+res.ReservationID+"/cancel", nil).Code)

	rec = s.do(http.MethodGet, "/api/subscribers/"+sub+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	trail := decode[[]AuditEntryDTO](t, rec)
	require.Len(t, trail, 3)
	assert.Equal(t, "ledger_opened", trail[0].Action)
	assert.Equal(t, "booked", trail[1].Action)
	assert.Equal(t, slot, trail[1].SlotID)
	assert.Equal(t, "cancelled", trail[2].Action)
	assert.Equal(t, res.ReservationID, trail[2].ReservationID)

	rec = s.do(http.MethodGet, "/api/subscribers/"+booking.NewID()+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]AuditEntryDTO](t, rec))

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/subscribers/member-7/audit", nil).Code)
}

// =============================================================================
// SLOTS
// =============================================================================

func TestSlots_ListAndDeactivate(t *testing.T) {
	s := newTestServer(t)
	inWeek := s.createSlot(day(2026, 3, 3), "18:30", 6)
	s.createSlot(day(2026, 3, 20), "18:30", 6)

	rec := s.do(http.MethodGet, "/api/slots", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	slots := decode[[]SlotDTO](t, rec)
	require.Len(t, slots, 1)
	assert.Equal(t, inWeek, slots[0].ID)
	assert.Equal(t, 6, slots[0].Remaining)
	assert.True(t, slots[0].Active)

	rec = s.do(http.MethodGet, "/api/slots?from=2026-03-01&to=2026-03-31", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotDTO](t, rec), 2)

	require.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/slots/"+inWeek, nil).Code)
	rec = s.do(http.MethodGet, "/api/slots", nil)
	assert.False(t, decode[[]SlotDTO](t, rec)[0].Active)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/slots?from=tomorrow", nil).Code)
}

func TestCreateSlot_Validation(t *testing.T) {
	s := newTestServer(t)

	for name, req := range map[string]CreateSlotRequest{
		"bad date":      {Date: "2026-3-3", StartTime: "07:00", Capacity: 1},
		"bad time":      {Date: "2026-03-03", StartTime: "7am", Capacity: 1},
		"zero capacity": {Date: "2026-03-03", StartTime: "07:00", Capacity: 0},
		"bad id":        {ID: "slot-1", Date: "2026-03-03", StartTime: "07:00", Capacity: 1},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/slots", req).Code)
		})
	}
}

func TestListSlotReservations_ConfirmedOnly(t *testing.T) {
	// GIVEN: A slot booked by two subscribers and a third who cancelled
	// WHEN: Reading the slot roster
	// THEN: Only the two confirmed bookings are listed

	s := newTestServer(t)
	slot := s.createSlot(day(2026, 3, 3), "18:30", 6)
	first := s.subscribe(booking.TierUltimate, monday)
	second := s.subscribe(booking.TierUltimateMedium, monday)
	gone := s.subscribe(booking.TierUltimate, monday)

	require.Equal(t, http.StatusCreated, s.book(first, slot).Code)
	require.Equal(t, http.StatusCreated, s.book(second, slot).Code)
	rec := s.book(gone, slot)
	require.Equal(t, http.StatusCreated, rec.Code)
	cancelled := decode[BookResponse](t, rec).ReservationID
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/reservations/"+cancelled+"/cancel", nil).Code)

	rec = s.do(http.MethodGet, "/api/slots/"+slot+"/reservations", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	roster := decode[[]ReservationDTO](t, rec)
	require.Len(t, roster, 2)
	var who []string
	for _, r := range roster {
		assert.Equal(t, "confirmed", r.Status)
		assert.Equal(t, slot, r.SlotID)
		who = append(who, r.SubscriberID)
	}
	assert.ElementsMatch(t, []string{first, second}, who)

	rec = s.do(http.MethodGet, "/api/slots/"+booking.NewID()+"/reservations", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "slot_not_found", decode[ErrorResponse](t, rec).Code)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/slots/slot-1/reservations", nil).Code)
}

func TestDeactivateSlot_InvalidID(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodDelete, "/api/slots/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodDelete, "/api/slots/"+booking.NewID(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

func TestRunReplenishment_ResetsDueSubscribersOnce(t *testing.T) {
	// GIVEN: An Ultimate subscriber who started a week ago and spent a credit
	// WHEN: The batch runs twice
	// THEN: The first run resets week 2 to 3 credits, the second processes nobody

	s := newTestServer(t)
	sub := s.subscribe(booking.TierUltimate, day(2026, 2, 23))
	fresh := s.subscribe(booking.TierUltimate, monday)
	slot := s.createSlot(day(2026, 3, 3), "07:00", 4)
	require.Equal(t, http.StatusCreated, s.book(sub, slot).Code)

	rec := s.do(http.MethodPost, "/api/admin/replenishments/run", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	summary := decode[ReplenishmentSummaryDTO](t, rec)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Details, 1)
	assert.Equal(t, sub, summary.Details[0].SubscriberID)
	assert.Equal(t, 2, summary.Details[0].PreviousBalance)
	assert.Equal(t, 3, summary.Details[0].NewBalance)
	assert.Equal(t, 2, summary.Details[0].WeekNumber)
	assert.Equal(t, "2026-03-02", summary.Details[0].CycleDate)

	rec = s.do(http.MethodPost, "/api/admin/replenishments/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[ReplenishmentSummaryDTO](t, rec).Processed)

	rec = s.do(http.MethodGet, "/api/subscribers/"+sub+"/replenishments", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ReplenishmentRecordDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/subscribers/"+fresh+"/replenishments", nil)
	assert.Empty(t, decode[[]ReplenishmentRecordDTO](t, rec))

	rec = s.do(http.MethodGet, "/api/admin/replenishments?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ReplenishmentRecordDTO](t, rec), 1)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/admin/replenishments?limit=0", nil).Code)
}

func TestFeatureToggle_DisablesBatch(t *testing.T) {
	s := newTestServer(t)
	s.subscribe(booking.TierUltimate, day(2026, 2, 23))
	path := "/api/admin/features/" + booking.FeatureWeeklyRefill

	rec := s.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[FeatureDTO](t, rec).Enabled)

	rec = s.do(http.MethodPut, path, map[string]bool{"enabled": false})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, decode[FeatureDTO](t, rec).Enabled)

	rec = s.do(http.MethodPost, "/api/admin/replenishments/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[ReplenishmentSummaryDTO](t, rec)
	assert.True(t, summary.Disabled)
	assert.Equal(t, 0, summary.Processed)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPut, path, map[string]string{}).Code)

	rec = s.do(http.MethodGet, "/api/admin/features/unknown_flag", nil)
	assert.False(t, decode[FeatureDTO](t, rec).Enabled)
}

func TestManualReplenish(t *testing.T) {
	s := newTestServer(t)
	sub := s.subscribe(booking.TierUltimate, day(2026, 2, 23))

	rec := s.do(http.MethodPost, "/api/subscribers/"+sub+"/replenish", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "succeeded", decode[ReplenishmentDTO](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/subscribers/"+sub+"/replenish", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decode[ReplenishmentDTO](t, rec).Status)

	rec = s.do(http.MethodPost, "/api/subscribers/"+booking.NewID()+"/replenish", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "no_active_subscription", decode[ErrorResponse](t, rec).Code)
}

func TestReplenishmentStats(t *testing.T) {
	// GIVEN: One due subscriber and one in their activation week
	// WHEN: The batch runs and the second is replenished by hand
	// THEN: Both count for today and for the week starting Sunday 2026-03-01

	s := newTestServer(t)
	s.subscribe(booking.TierUltimate, day(2026, 2, 23))
	fresh := s.subscribe(booking.TierUltimateMedium, monday)

	rec := s.do(http.MethodGet, "/api/admin/replenishments/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	stats := decode[ReplenishmentStatsDTO](t, rec)
	assert.Zero(t, stats.TodayRefills)
	assert.Zero(t, stats.WeekRefills)
	assert.True(t, stats.FeatureEnabled)
	assert.Equal(t, "2026-03-01", stats.WeekStart)

	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/admin/replenishments/run", nil).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/subscribers/"+fresh+"/replenish", nil).Code)
	require.Equal(t, http.StatusOK, s.do(http.MethodPut, "/api/admin/features/"+booking.FeatureWeeklyRefill, map[string]bool{"enabled": false}).Code)

	rec = s.do(http.MethodGet, "/api/admin/replenishments/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats = decode[ReplenishmentStatsDTO](t, rec)
	assert.Equal(t, 2, stats.TodayRefills)
	assert.Equal(t, 2, stats.WeekRefills)
	assert.False(t, stats.FeatureEnabled)
}

func TestExpireLedgers_Endpoint(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.handler.LoadScenarioByID(t.Context(), "expiring"))

	rec := s.do(http.MethodPost, "/api/admin/ledgers/expire", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ExpireResponse](t, rec).Expired)

	rec = s.do(http.MethodPost, "/api/admin/ledgers/expire", nil)
	assert.Equal(t, 0, decode[ExpireResponse](t, rec).Expired)
}

// =============================================================================
// OPS
// =============================================================================

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", nil).Code)

	rec := s.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "reservation_http_requests_total")
}
