/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the booking domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

TYPES:
  Reservations:
    BookRequest, BookResponse, CancelResponse, ReservationDTO

  Subscribers:
    SubscriptionRequest, SubscriptionDTO, StatusDTO

  Slots:
    CreateSlotRequest, SlotDTO

  Replenishment:
    ReplenishmentDTO, ReplenishmentSummaryDTO, ReplenishmentRecordDTO

  Admin:
    FeatureDTO, ExpireResponse

  Scenarios:
    ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers and the booking package, not in DTOs.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/reservation-engine/booking"
)

const dateLayout = "2006-01-02"

// =============================================================================
// RESERVATIONS
// =============================================================================

// BookRequest is the body of POST /api/reservations.
type BookRequest struct {
	SubscriberID string `json:"subscriber_id"`
	SlotID       string `json:"slot_id"`
}

// BookResponse is returned for a confirmed booking.
type BookResponse struct {
	ReservationID string `json:"reservation_id"`
	LedgerEntryID string `json:"ledger_entry_id"`
	Balance       int    `json:"balance"`
}

// CancelResponse is returned for a cancelled reservation.
type CancelResponse struct {
	ReservationID   string `json:"reservation_id"`
	LedgerEntryID   string `json:"ledger_entry_id"`
	RefundedBalance int    `json:"refunded_balance"`
}

// ReservationDTO is one row of a subscriber's booking history.
type ReservationDTO struct {
	ID            string  `json:"id"`
	SubscriberID  string  `json:"subscriber_id"`
	SlotID        string  `json:"slot_id"`
	LedgerEntryID string  `json:"ledger_entry_id"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	CancelledAt   *string `json:"cancelled_at,omitempty"`
}

func toReservationDTO(r booking.Reservation) ReservationDTO {
	dto := ReservationDTO{
		ID:            string(r.ID),
		SubscriberID:  string(r.SubscriberID),
		SlotID:        string(r.SlotID),
		LedgerEntryID: string(r.LedgerEntryID),
		Status:        string(r.Status),
		CreatedAt:     r.CreatedAt.Format(time.RFC3339),
	}
	if r.CancelledAt != nil {
		dto.CancelledAt = strPtr(r.CancelledAt.Format(time.RFC3339))
	}
	return dto
}

func toReservationDTOs(rs []booking.Reservation) []ReservationDTO {
	out := make([]ReservationDTO, len(rs))
	for i, r := range rs {
		out[i] = toReservationDTO(r)
	}
	return out
}

// =============================================================================
// SUBSCRIBERS
// =============================================================================

// SubscriptionRequest is the body of PUT /api/subscriptions. It mirrors a
// change pushed by the membership system.
type SubscriptionRequest struct {
	SubscriberID   string `json:"subscriber_id"`
	Tier           string `json:"tier"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Active         bool   `json:"active"`
	PackageCredits int    `json:"package_credits"`
}

// SubscriptionDTO is the stored subscription plus the ledger it funds.
type SubscriptionDTO struct {
	SubscriberID   string `json:"subscriber_id"`
	Tier           string `json:"tier"`
	StartDate      string `json:"start_date"`
	EndDate        string `json:"end_date"`
	Active         bool   `json:"active"`
	PackageCredits int    `json:"package_credits"`
	LedgerEntryID  string `json:"ledger_entry_id,omitempty"`
	Balance        *int   `json:"balance,omitempty"`
}

// StatusDTO is the subscriber status report.
type StatusDTO struct {
	SubscriberID    string  `json:"subscriber_id"`
	Tier            string  `json:"tier"`
	Active          bool    `json:"active"`
	ActivationDate  string  `json:"activation_date"`
	CurrentBalance  int     `json:"current_balance"`
	TargetBalance   int     `json:"target_balance"`
	LedgerExpiresAt *string `json:"ledger_expires_at,omitempty"`
	NextCycleDate   *string `json:"next_cycle_date,omitempty"`
	NextWeekNumber  int     `json:"next_week_number,omitempty"`
	IsDue           bool    `json:"is_due"`
}

func toStatusDTO(s booking.StatusReport) StatusDTO {
	dto := StatusDTO{
		SubscriberID:   string(s.SubscriberID),
		Tier:           string(s.Tier),
		Active:         s.Active,
		ActivationDate: s.ActivationDate.Format(dateLayout),
		CurrentBalance: s.CurrentBalance,
		TargetBalance:  s.TargetBalance,
		NextWeekNumber: s.NextWeekNumber,
		IsDue:          s.IsDue,
	}
	if s.LedgerExpiresAt != nil {
		dto.LedgerExpiresAt = strPtr(s.LedgerExpiresAt.Format(time.RFC3339))
	}
	if s.NextCycleDate != nil {
		dto.NextCycleDate = strPtr(s.NextCycleDate.Format(dateLayout))
	}
	return dto
}

// =============================================================================
// SLOTS
// =============================================================================

// CreateSlotRequest is the body of POST /api/slots. ID is optional.
type CreateSlotRequest struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Capacity  int    `json:"capacity"`
}

// SlotDTO is a class slot with its live seat count.
type SlotDTO struct {
	ID        string `json:"id"`
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	Capacity  int    `json:"capacity"`
	Occupancy int    `json:"occupancy"`
	Remaining int    `json:"remaining"`
	Active    bool   `json:"active"`
}

func toSlotDTO(s booking.Slot) SlotDTO {
	return SlotDTO{
		ID:        string(s.ID),
		Date:      s.Date.Format(dateLayout),
		StartTime: s.StartTime,
		Capacity:  s.Capacity,
		Occupancy: s.Occupancy,
		Remaining: s.Remaining(),
		Active:    s.Active,
	}
}

// =============================================================================
// REPLENISHMENT
// =============================================================================

// ReplenishmentDTO is the outcome for one subscriber.
type ReplenishmentDTO struct {
	SubscriberID    string `json:"subscriber_id"`
	Tier            string `json:"tier"`
	CycleDate       string `json:"cycle_date,omitempty"`
	WeekNumber      int    `json:"week_number"`
	PreviousBalance int    `json:"previous_balance"`
	NewBalance      int    `json:"new_balance"`
	Status          string `json:"status"`
	Error           string `json:"error,omitempty"`
}

func toReplenishmentDTO(d booking.ReplenishmentDetail) ReplenishmentDTO {
	dto := ReplenishmentDTO{
		SubscriberID:    string(d.SubscriberID),
		Tier:            string(d.Tier),
		WeekNumber:      d.WeekNumber,
		PreviousBalance: d.PreviousBalance,
		NewBalance:      d.NewBalance,
		Status:          string(d.Status),
		Error:           d.Error,
	}
	if !d.CycleDate.IsZero() {
		dto.CycleDate = d.CycleDate.Format(dateLayout)
	}
	return dto
}

// ReplenishmentSummaryDTO is the outcome of a batch run.
type ReplenishmentSummaryDTO struct {
	Processed int                `json:"processed"`
	Succeeded int                `json:"succeeded"`
	Skipped   int                `json:"skipped"`
	Failed    int                `json:"failed"`
	Disabled  bool               `json:"disabled"`
	RunAt     string             `json:"run_at"`
	Details   []ReplenishmentDTO `json:"details"`
}

func toSummaryDTO(s booking.ReplenishmentSummary) ReplenishmentSummaryDTO {
	dto := ReplenishmentSummaryDTO{
		Processed: s.Processed,
		Succeeded: s.Succeeded,
		Skipped:   s.Skipped,
		Failed:    s.Failed,
		Disabled:  s.Disabled,
		RunAt:     s.RunAt.Format(time.RFC3339),
		Details:   make([]ReplenishmentDTO, len(s.Details)),
	}
	for i, d := range s.Details {
		dto.Details[i] = toReplenishmentDTO(d)
	}
	return dto
}

// ReplenishmentRecordDTO is a stored replenishment record.
type ReplenishmentRecordDTO struct {
	ID              string `json:"id"`
	SubscriberID    string `json:"subscriber_id"`
	Tier            string `json:"tier"`
	CycleDate       string `json:"cycle_date"`
	WeekNumber      int    `json:"week_number"`
	PreviousBalance int    `json:"previous_balance"`
	NewBalance      int    `json:"new_balance"`
	CreatedAt       string `json:"created_at"`
}

func toRecordDTOs(recs []booking.ReplenishmentRecord) []ReplenishmentRecordDTO {
	out := make([]ReplenishmentRecordDTO, len(recs))
	for i, r := range recs {
		out[i] = ReplenishmentRecordDTO{
			ID:              r.ID,
			SubscriberID:    string(r.SubscriberID),
			Tier:            string(r.Tier),
			CycleDate:       r.CycleDate.Format(dateLayout),
			WeekNumber:      r.WeekNumber,
			PreviousBalance: r.PreviousBalance,
			NewBalance:      r.NewBalance,
			CreatedAt:       r.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

// ReplenishmentStatsDTO counts replenishments by cycle date.
type ReplenishmentStatsDTO struct {
	TodayRefills   int    `json:"today_refills"`
	WeekRefills    int    `json:"week_refills"`
	WeekStart      string `json:"week_start"`
	FeatureEnabled bool   `json:"feature_enabled"`
	AsOf           string `json:"as_of"`
}

func toStatsDTO(st booking.ReplenishmentStats) ReplenishmentStatsDTO {
	return ReplenishmentStatsDTO{
		TodayRefills:   st.Today,
		WeekRefills:    st.ThisWeek,
		WeekStart:      st.WeekStart.Format(dateLayout),
		FeatureEnabled: st.Enabled,
		AsOf:           st.AsOf.Format(time.RFC3339),
	}
}

// =============================================================================
// ADMIN
// =============================================================================

// FeatureDTO is a feature flag and its state.
type FeatureDTO struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// ExpireResponse reports how many ledger entries were closed.
type ExpireResponse struct {
	Expired int `json:"expired"`
}

// AuditEntryDTO is one line of a subscriber's audit trail.
type AuditEntryDTO struct {
	ID            string `json:"id"`
	Action        string `json:"action"`
	At            string `json:"at"`
	SlotID        string `json:"slot_id,omitempty"`
	ReservationID string `json:"reservation_id,omitempty"`
	LedgerEntryID string `json:"ledger_entry_id,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

func toAuditDTOs(entries []booking.AuditEntry) []AuditEntryDTO {
	out := make([]AuditEntryDTO, len(entries))
	for i, e := range entries {
		out[i] = AuditEntryDTO{
			ID:            e.ID,
			Action:        string(e.Action),
			At:            e.At.Format(time.RFC3339),
			SlotID:        string(e.SlotID),
			ReservationID: string(e.ReservationID),
			LedgerEntryID: string(e.LedgerEntryID),
			Detail:        e.Detail,
		}
	}
	return out
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest is the body of POST /api/scenarios/load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}
