package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dan22333/theravillage/internal/auth"
	"github.com/dan22333/theravillage/internal/scheduling"
)

// Error codes shared with the REST client.
const (
	CodeValidation        = "validation_failed"
	CodePastTime          = "past_time"
	CodeUnauthorized      = "unauthorized"
	CodeForbidden         = "forbidden"
	CodeNotFound          = "not_found"
	CodeSlotExists        = "slot_exists"
	CodeTimeOccupied      = "time_occupied"
	CodeSlotUnavailable   = "slot_unavailable"
	CodeSlotBeingBooked   = "slot_being_booked"
	CodeInvalidState      = "invalid_state"
	CodeClientNotAssigned = "client_not_assigned"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "could not parse JSON body")
		return false
	}
	return true
}

// classify maps service errors onto status codes and stable codes.
func classify(err error) (int, string, string) {
	switch {
	case errors.Is(err, scheduling.ErrInvalidInput):
		return http.StatusBadRequest, CodeValidation, err.Error()
	case errors.Is(err, scheduling.ErrPastTime):
		return http.StatusBadRequest, CodePastTime, err.Error()
	case errors.Is(err, scheduling.ErrUserNotFound),
		errors.Is(err, scheduling.ErrSlotNotFound),
		errors.Is(err, scheduling.ErrAppointmentNotFound),
		errors.Is(err, scheduling.ErrRequestNotFound),
		errors.Is(err, scheduling.ErrNotificationNotFound):
		return http.StatusNotFound, CodeNotFound, err.Error()
	case errors.Is(err, scheduling.ErrSlotExists):
		return http.StatusConflict, CodeSlotExists, err.Error()
	case errors.Is(err, scheduling.ErrTimeOccupied):
		return http.StatusConflict, CodeTimeOccupied, err.Error()
	case errors.Is(err, scheduling.ErrSlotUnavailable):
		return http.StatusConflict, CodeSlotUnavailable, err.Error()
	case errors.Is(err, scheduling.ErrSlotBeingBooked):
		return http.StatusConflict, CodeSlotBeingBooked, "calendar is currently being updated, please retry shortly"
	case errors.Is(err, scheduling.ErrSlotBooked),
		errors.Is(err, scheduling.ErrRequestNotPending),
		errors.Is(err, scheduling.ErrInvalidStatusTransition):
		return http.StatusConflict, CodeInvalidState, err.Error()
	case errors.Is(err, scheduling.ErrClientNotAssigned):
		return http.StatusUnprocessableEntity, CodeClientNotAssigned, err.Error()
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrUnknownUser):
		return http.StatusUnauthorized, CodeUnauthorized, err.Error()
	default:
		return http.StatusInternalServerError, CodeInternal, "internal error"
	}
}
