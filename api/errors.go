/*
errors.go - JSON responses and engine error mapping

PURPOSE:
  Every handler writes through writeJSON and writeError so clients get one
  response shape. Engine errors carry a stable code from
  booking.RejectionCode; statusFor maps that code to an HTTP status.

STATUS MAPPING:
  400  invalid_input
  402  no_active_credit, insufficient_balance
  404  slot_not_found, reservation_not_found, subscriber_not_found,
       no_active_subscription
  409  already_booked, slot_full, already_cancelled
  422  slot_unavailable
  503  conflict (retry budget spent)
  500  anything else
*/
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/warp/reservation-engine/booking"
)

var codeStatus = map[string]int{
	"invalid_input":          http.StatusBadRequest,
	"no_active_credit":       http.StatusPaymentRequired,
	"insufficient_balance":   http.StatusPaymentRequired,
	"slot_not_found":         http.StatusNotFound,
	"reservation_not_found":  http.StatusNotFound,
	"subscriber_not_found":   http.StatusNotFound,
	"no_active_subscription": http.StatusNotFound,
	"already_booked":         http.StatusConflict,
	"slot_full":              http.StatusConflict,
	"already_cancelled":      http.StatusConflict,
	"slot_unavailable":       http.StatusUnprocessableEntity,
	"conflict":               http.StatusServiceUnavailable,
}

func statusFor(code string) int {
	if s, ok := codeStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError writes err with the status its rejection code maps to.
// Internal errors are logged and their details withheld.
func (h *Handler) writeEngineError(w http.ResponseWriter, r *http.Request, message string, err error) {
	code := booking.RejectionCode(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.log.ErrorContext(r.Context(), message,
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		writeJSON(w, status, ErrorResponse{Error: message, Code: code})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: message, Code: code, Details: err.Error()})
}

func strPtr(s string) *string {
	return &s
}
