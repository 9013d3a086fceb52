/*
handlers.go - HTTP API handlers for the reservation engine

PURPOSE:
  Exposes the booking engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the booking package.

ENDPOINTS:
  Reservations:
    POST   /api/reservations                       Book a slot
    POST   /api/reservations/{id}/cancel           Cancel a reservation

  Subscribers:
    GET    /api/subscribers/{id}/status            Balance and next cycle
    GET    /api/subscribers/{id}/reservations      Booking history
    GET    /api/subscribers/{id}/replenishments    Replenishment history
    GET    /api/subscribers/{id}/audit             Audit trail
    POST   /api/subscribers/{id}/replenish         Manual replenishment
    PUT    /api/subscriptions                      Upsert a subscription

  Slots:
    GET    /api/slots?from=&to=                    List slots
    POST   /api/slots                              Create or update a slot
    GET    /api/slots/{id}/reservations            Confirmed bookings of a slot
    DELETE /api/slots/{id}                         Deactivate a slot

  Admin:
    POST   /api/admin/replenishments/run           Run the weekly batch now
    GET    /api/admin/replenishments?limit=        Recent replenishments
    GET    /api/admin/replenishments/stats         Refills today and this week
    GET    /api/admin/features/{name}              Read a feature flag
    PUT    /api/admin/features/{name}              Switch a feature flag
    POST   /api/admin/ledgers/expire               Expire overdue ledgers

ARCHITECTURE:
  Handler struct holds all dependencies:
  - Store: persistence plus the local subscription and feature projections
  - Coordinator, Scheduler, Reporter: the booking engine

ERROR HANDLING:
  Engine errors go through writeEngineError (errors.go), which maps the
  rejection code to an HTTP status. Malformed bodies are 400.

SECURITY NOTE:
  No authentication. Deploy behind a gateway that authenticates callers.

SEE ALSO:
  - dto.go: Request/response data structures
  - errors.go: status mapping
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Backend is the store surface the handlers need.
type Backend interface {
	booking.Store
	booking.SubscriptionSource
	booking.SubscriptionWriter
	booking.FeatureToggle
	booking.FeatureWriter
	Reset(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       Backend
	Coordinator *booking.Coordinator
	Scheduler   *booking.Scheduler
	Reporter    *booking.Reporter

	clock booking.Clock
	loc   *time.Location
	log   *slog.Logger

	// Track currently loaded scenario
	mu              sync.Mutex
	currentScenario string
}

// NewHandler wires the engine over store.
func NewHandler(store Backend, cfg booking.SchedulerConfig, opts booking.Options) *Handler {
	if opts.Clock == nil {
		opts.Clock = booking.SystemClock
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Handler{
		Store:       store,
		Coordinator: booking.NewCoordinator(store, opts),
		Scheduler:   booking.NewScheduler(store, store, store, cfg, opts),
		Reporter:    booking.NewReporter(store, store, opts),
		clock:       opts.Clock,
		loc:         opts.Location,
		log:         opts.Logger.With("component", "api"),
	}
}

func (h *Handler) today() time.Time {
	return booking.DateOf(h.clock().In(h.loc))
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// RESERVATION HANDLERS
// =============================================================================

// Book reserves a slot for a subscriber.
func (h *Handler) Book(w http.ResponseWriter, r *http.Request) {
	var req BookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Coordinator.Book(r.Context(), booking.SubscriberID(req.SubscriberID), booking.SlotID(req.SlotID))
	if err != nil {
		h.writeEngineError(w, r, "Booking rejected", err)
		return
	}

	writeJSON(w, http.StatusCreated, BookResponse{
		ReservationID: string(res.ReservationID),
		LedgerEntryID: string(res.LedgerEntryID),
		Balance:       res.Balance,
	})
}

// CancelReservation cancels a confirmed reservation and refunds its credit.
func (h *Handler) CancelReservation(w http.ResponseWriter, r *http.Request) {
	id := booking.ReservationID(chi.URLParam(r, "id"))

	res, err := h.Coordinator.Cancel(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Cancellation rejected", err)
		return
	}

	writeJSON(w, http.StatusOK, CancelResponse{
		ReservationID:   string(res.ReservationID),
		LedgerEntryID:   string(res.LedgerEntryID),
		RefundedBalance: res.RefundedBalance,
	})
}

// =============================================================================
// SUBSCRIBER HANDLERS
// =============================================================================

// GetStatus returns the subscriber's balance and next replenishment.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	id := booking.SubscriberID(chi.URLParam(r, "id"))

	status, err := h.Reporter.Status(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Failed to get status", err)
		return
	}

	writeJSON(w, http.StatusOK, toStatusDTO(status))
}

// ListReservations returns the subscriber's bookings, newest first.
func (h *Handler) ListReservations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := booking.ValidateID("subscriber_id", id); err != nil {
		h.writeEngineError(w, r, "Invalid subscriber id", err)
		return
	}

	rs, err := h.Store.ReservationsBySubscriber(r.Context(), booking.SubscriberID(id))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(rs))
}

// ListAudit returns the subscriber's audit trail, oldest first.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := booking.ValidateID("subscriber_id", id); err != nil {
		h.writeEngineError(w, r, "Invalid subscriber id", err)
		return
	}

	entries, err := h.Store.AuditTrail(r.Context(), booking.SubscriberID(id))
	if err != nil {
		h.writeEngineError(w, r, "Failed to read audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, toAuditDTOs(entries))
}

// ListReplenishments returns the subscriber's replenishment history.
func (h *Handler) ListReplenishments(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := booking.ValidateID("subscriber_id", id); err != nil {
		h.writeEngineError(w, r, "Invalid subscriber id", err)
		return
	}

	recs, err := h.Store.Replenishments(r.Context(), booking.SubscriberID(id))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list replenishments", err)
		return
	}

	writeJSON(w, http.StatusOK, toRecordDTOs(recs))
}

// ManualReplenish resets the subscriber's current cycle now.
func (h *Handler) ManualReplenish(w http.ResponseWriter, r *http.Request) {
	id := booking.SubscriberID(chi.URLParam(r, "id"))

	detail, err := h.Scheduler.ManualReplenish(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, r, "Replenishment failed", err)
		return
	}

	writeJSON(w, http.StatusOK, toReplenishmentDTO(detail))
}

// SaveSubscription upserts a subscription. An active subscription without
// a usable ledger entry gets one opened at its tier target.
func (h *Handler) SaveSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sub, err := req.toSubscription()
	if err != nil {
		h.writeEngineError(w, r, "Invalid subscription", err)
		return
	}

	ctx := r.Context()
	if err := h.Store.SaveSubscription(ctx, sub); err != nil {
		h.writeEngineError(w, r, "Failed to save subscription", err)
		return
	}

	dto := SubscriptionDTO{
		SubscriberID:   string(sub.SubscriberID),
		Tier:           string(sub.Tier),
		StartDate:      sub.StartDate.Format(dateLayout),
		EndDate:        sub.EndDate.Format(dateLayout),
		Active:         sub.Active,
		PackageCredits: sub.PackageCredits,
	}

	if sub.Active {
		entry, err := h.Store.ActiveLedger(ctx, sub.SubscriberID, h.clock())
		if errors.Is(err, booking.ErrNoActiveCredit) {
			entry, err = h.Coordinator.OpenLedger(ctx, sub)
		}
		if err != nil {
			h.writeEngineError(w, r, "Failed to open ledger", err)
			return
		}
		dto.LedgerEntryID = string(entry.ID)
		dto.Balance = &entry.Balance
	}

	writeJSON(w, http.StatusOK, dto)
}

func (req SubscriptionRequest) toSubscription() (booking.Subscription, error) {
	if err := booking.ValidateID("subscriber_id", req.SubscriberID); err != nil {
		return booking.Subscription{}, err
	}
	if strings.TrimSpace(req.Tier) == "" {
		return booking.Subscription{}, &booking.ValidationError{Field: "tier", Value: req.Tier, Reason: "required"}
	}
	start, err := booking.ParseDate(req.StartDate)
	if err != nil {
		return booking.Subscription{}, &booking.ValidationError{Field: "start_date", Value: req.StartDate, Reason: "use YYYY-MM-DD"}
	}
	end, err := booking.ParseDate(req.EndDate)
	if err != nil {
		return booking.Subscription{}, &booking.ValidationError{Field: "end_date", Value: req.EndDate, Reason: "use YYYY-MM-DD"}
	}
	if end.Before(start) {
		return booking.Subscription{}, &booking.ValidationError{Field: "end_date", Value: req.EndDate, Reason: "before start_date"}
	}
	if req.PackageCredits < 0 {
		return booking.Subscription{}, &booking.ValidationError{Field: "package_credits", Value: strconv.Itoa(req.PackageCredits), Reason: "must not be negative"}
	}
	return booking.Subscription{
		SubscriberID:   booking.SubscriberID(req.SubscriberID),
		Tier:           booking.Tier(req.Tier),
		StartDate:      start,
		EndDate:        end,
		Active:         req.Active,
		PackageCredits: req.PackageCredits,
	}, nil
}

// =============================================================================
// SLOT HANDLERS
// =============================================================================

// ListSlots returns slots between from and to (inclusive). Defaults to the
// next seven days.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	from, to := h.today(), h.today().AddDate(0, 0, 6)

	if s := r.URL.Query().Get("from"); s != "" {
		d, err := booking.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid from date (use YYYY-MM-DD)", err)
			return
		}
		from = d
	}
	if s := r.URL.Query().Get("to"); s != "" {
		d, err := booking.ParseDate(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid to date (use YYYY-MM-DD)", err)
			return
		}
		to = d
	}

	slots, err := h.Store.ListSlots(r.Context(), from, to)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list slots", err)
		return
	}

	dtos := make([]SlotDTO, len(slots))
	for i, s := range slots {
		dtos[i] = toSlotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSlot creates a slot, or updates date, time and capacity of an
// existing one. Occupancy is never written here.
func (h *Handler) CreateSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.ID == "" {
		req.ID = booking.NewID()
	}
	if err := booking.ValidateID("slot_id", req.ID); err != nil {
		h.writeEngineError(w, r, "Invalid slot", err)
		return
	}
	date, err := booking.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid date format (use YYYY-MM-DD)", err)
		return
	}
	if _, err := time.Parse("15:04", req.StartTime); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_time format (use HH:MM)", err)
		return
	}
	if req.Capacity < 1 {
		writeError(w, http.StatusBadRequest, "Capacity must be positive", nil)
		return
	}

	ctx := r.Context()
	slot := booking.Slot{
		ID:        booking.SlotID(req.ID),
		Date:      date,
		StartTime: req.StartTime,
		Capacity:  req.Capacity,
		Active:    true,
	}
	if err := h.Store.SaveSlot(ctx, slot); err != nil {
		h.writeEngineError(w, r, "Failed to save slot", err)
		return
	}

	saved, err := h.Store.Slot(ctx, slot.ID)
	if err != nil {
		h.writeEngineError(w, r, "Failed to load slot", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotDTO(saved))
}

// DeactivateSlot stops further bookings of a slot. Existing reservations
// are untouched.
func (h *Handler) DeactivateSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := booking.ValidateID("slot_id", id); err != nil {
		h.writeEngineError(w, r, "Invalid slot id", err)
		return
	}

	if err := h.Store.DeactivateSlot(r.Context(), booking.SlotID(id)); err != nil {
		h.writeEngineError(w, r, "Failed to deactivate slot", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListSlotReservations returns the confirmed bookings of a slot in booking order.
func (h *Handler) ListSlotReservations(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := booking.ValidateID("slot_id", id); err != nil {
		h.writeEngineError(w, r, "Invalid slot id", err)
		return
	}

	if _, err := h.Store.Slot(r.Context(), booking.SlotID(id)); err != nil {
		h.writeEngineError(w, r, "Slot not found", err)
		return
	}
	rs, err := h.Store.ReservationsBySlot(r.Context(), booking.SlotID(id))
	if err != nil {
		h.writeEngineError(w, r, "Failed to list slot reservations", err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationDTOs(rs))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// RunReplenishment runs the weekly batch immediately.
func (h *Handler) RunReplenishment(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Scheduler.RunReplenishment(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Replenishment run failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toSummaryDTO(summary))
}

// ListRecentReplenishments returns the latest records across subscribers.
func (h *Handler) ListRecentReplenishments(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	recs, err := h.Store.RecentReplenishments(r.Context(), limit)
	if err != nil {
		h.writeEngineError(w, r, "Failed to list replenishments", err)
		return
	}
	writeJSON(w, http.StatusOK, toRecordDTOs(recs))
}

// ReplenishmentStats counts today's and this week's replenishments.
func (h *Handler) ReplenishmentStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Scheduler.Stats(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Failed to read replenishment stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(st))
}

// GetFeature reads a feature flag. Unknown flags are off.
func (h *Handler) GetFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	on, err := h.Store.Enabled(r.Context(), name)
	if err != nil {
		h.writeEngineError(w, r, "Failed to read feature", err)
		return
	}
	writeJSON(w, http.StatusOK, FeatureDTO{Name: name, Enabled: on})
}

// SetFeature switches a feature flag.
func (h *Handler) SetFeature(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Enabled == nil {
		writeError(w, http.StatusBadRequest, "enabled is required", nil)
		return
	}

	if err := h.Store.SetFeature(r.Context(), name, *req.Enabled); err != nil {
		h.writeEngineError(w, r, "Failed to update feature", err)
		return
	}

	h.log.Info("feature switched", slog.String("name", name), slog.Bool("enabled", *req.Enabled))
	writeJSON(w, http.StatusOK, FeatureDTO{Name: name, Enabled: *req.Enabled})
}

// ExpireLedgers closes every ledger entry past its expiry.
func (h *Handler) ExpireLedgers(w http.ResponseWriter, r *http.Request) {
	n, err := h.Coordinator.ExpireLedgers(r.Context())
	if err != nil {
		h.writeEngineError(w, r, "Ledger expiry failed", err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireResponse{Expired: n})
}

// ResetDatabase clears all data. Development only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}
