/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with subscribers,
	ledgers and class slots for demos and manual testing.

AVAILABLE SCENARIOS:

	weekly-ultimate:  Ultimate subscribers on a 3 credit weekly reset
	mixed-tiers:      Ultimate, Ultimate Medium and Standard Pilates side by side
	last-seat:        Two subscribers competing for a capacity 1 class
	expiring:         A subscription that ended yesterday, ready for the expiry sweep

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Save subscriptions
 3. Open a ledger per active subscription at its tier target
 4. Create slots for the coming week

IDENTIFIERS:

	Scenario ids are name-based UUIDs, so the same scenario always yields the
	same subscriber and slot ids (e.g. demoID("sub-ultimate-1")).

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "weekly-ultimate"}

NOTE:

	Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: ResetDatabase
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/warp/reservation-engine/booking"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "weekly-ultimate",
		Name:        "Weekly Ultimate",
		Description: "Ultimate subscribers reset to 3 credits on their weekly cycle day",
	},
	{
		ID:          "mixed-tiers",
		Name:        "Mixed Tiers",
		Description: "Ultimate (3/week), Ultimate Medium (1/week) and a 10 class Standard Pilates package",
	},
	{
		ID:          "last-seat",
		Name:        "Last Seat",
		Description: "Two subscribers and one capacity 1 class: exactly one booking wins",
	},
	{
		ID:          "expiring",
		Name:        "Expiring Subscription",
		Description: "A subscription that ended yesterday; run the ledger expiry sweep to close it",
	},
}

var scenarioLoaders = map[string]func(h *Handler, ctx context.Context) error{
	"weekly-ultimate": (*Handler).loadWeeklyUltimateScenario,
	"mixed-tiers":     (*Handler).loadMixedTiersScenario,
	"last-seat":       (*Handler).loadLastSeatScenario,
	"expiring":        (*Handler).loadExpiringScenario,
}

// demoID derives a stable UUID from a scenario-local name.
func demoID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("reservation-engine/"+name)).String()
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	if current == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, ScenarioDTO{ID: current, Name: current})
}

// LoadScenario resets the store and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if _, ok := scenarioLoaders[req.ScenarioID]; !ok {
		writeError(w, http.StatusBadRequest, "Unknown scenario", nil)
		return
	}

	if err := h.LoadScenarioByID(r.Context(), req.ScenarioID); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to load scenario: %v", err), err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

// LoadScenarioByID resets the store and loads scenario id. Used by the HTTP
// handler and by cmd/server's -scenario flag.
func (h *Handler) LoadScenarioByID(ctx context.Context, id string) error {
	load, ok := scenarioLoaders[id]
	if !ok {
		return fmt.Errorf("unknown scenario %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.Store.Reset(ctx); err != nil {
		return fmt.Errorf("reset store: %w", err)
	}
	h.currentScenario = ""

	if err := load(h, ctx); err != nil {
		return err
	}
	h.currentScenario = id
	return nil
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadWeeklyUltimateScenario(ctx context.Context) error {
	today := h.today()

	// Started today, eight days ago and three days ago: one is in its
	// activation week, one is due for its second reset, one is mid-cycle.
	starts := []int{0, 8, 3}
	for i, ago := range starts {
		if err := h.seedSubscriber(ctx, fmt.Sprintf("sub-ultimate-%d", i+1), booking.TierUltimate, today.AddDate(0, 0, -ago), 0); err != nil {
			return err
		}
	}
	return h.seedWeekOfSlots(ctx, "weekly-ultimate", 8)
}

func (h *Handler) loadMixedTiersScenario(ctx context.Context) error {
	today := h.today()
	start := today.AddDate(0, 0, -7)

	if err := h.seedSubscriber(ctx, "sub-ultimate", booking.TierUltimate, start, 0); err != nil {
		return err
	}
	if err := h.seedSubscriber(ctx, "sub-medium", booking.TierUltimateMedium, start, 0); err != nil {
		return err
	}
	if err := h.seedSubscriber(ctx, "sub-standard", booking.TierStandard, start, 10); err != nil {
		return err
	}
	return h.seedWeekOfSlots(ctx, "mixed-tiers", 6)
}

func (h *Handler) loadLastSeatScenario(ctx context.Context) error {
	today := h.today()

	for _, name := range []string{"sub-first", "sub-second"} {
		if err := h.seedSubscriber(ctx, name, booking.TierUltimate, today, 0); err != nil {
			return err
		}
	}
	return h.Store.SaveSlot(ctx, booking.Slot{
		ID:        booking.SlotID(demoID("last-seat/slot")),
		Date:      today.AddDate(0, 0, 1),
		StartTime: "07:00",
		Capacity:  1,
		Active:    true,
	})
}

func (h *Handler) loadExpiringScenario(ctx context.Context) error {
	today := h.today()

	sub := booking.Subscription{
		SubscriberID: booking.SubscriberID(demoID("sub-expiring")),
		Tier:         booking.TierUltimate,
		StartDate:    today.AddDate(0, 0, -84),
		EndDate:      today.AddDate(0, 0, -1),
		Active:       true,
	}
	if err := h.Store.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	// Opened directly so the entry exists even though it is already past
	// its expiry; the sweep closes it.
	now := h.clock()
	entry := booking.LedgerEntry{
		ID:           booking.LedgerEntryID(demoID("sub-expiring/ledger")),
		SubscriberID: sub.SubscriberID,
		Balance:      2,
		ExpiresAt:    booking.ExpiryAfter(sub.EndDate, h.loc),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := h.Store.OpenLedger(ctx, entry); err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}

	return h.seedSubscriber(ctx, "sub-current", booking.TierUltimate, today.AddDate(0, 0, -3), 0)
}

// =============================================================================
// HELPERS
// =============================================================================

// seedSubscriber saves a 12 week subscription and opens its ledger.
func (h *Handler) seedSubscriber(ctx context.Context, name string, tier booking.Tier, start time.Time, credits int) error {
	sub := booking.Subscription{
		SubscriberID:   booking.SubscriberID(demoID(name)),
		Tier:           tier,
		StartDate:      start,
		EndDate:        start.AddDate(0, 0, 12*7-1),
		Active:         true,
		PackageCredits: credits,
	}
	if err := h.Store.SaveSubscription(ctx, sub); err != nil {
		return fmt.Errorf("save subscription %s: %w", name, err)
	}
	if _, err := h.Coordinator.OpenLedger(ctx, sub); err != nil {
		return fmt.Errorf("open ledger %s: %w", name, err)
	}
	return nil
}

var demoTimes = []string{"07:00", "12:15", "18:30"}

// seedWeekOfSlots creates three classes a day for the next seven days.
func (h *Handler) seedWeekOfSlots(ctx context.Context, scenario string, capacity int) error {
	today := h.today()
	for d := 1; d <= 7; d++ {
		for _, at := range demoTimes {
			slot := booking.Slot{
				ID:        booking.SlotID(demoID(fmt.Sprintf("%s/slot/%d/%s", scenario, d, at))),
				Date:      today.AddDate(0, 0, d),
				StartTime: at,
				Capacity:  capacity,
				Active:    true,
			}
			if err := h.Store.SaveSlot(ctx, slot); err != nil {
				return fmt.Errorf("save slot: %w", err)
			}
		}
	}
	return nil
}
