package calendar

import "errors"

var (
	// ErrFetch covers transport and authentication failures reaching the backend.
	ErrFetch = errors.New("backend unreachable")
	// ErrConflict means the slot already exists or the time is already booked.
	ErrConflict = errors.New("conflict")
	// ErrPastTime rejects mutations before the rounded-up current time.
	ErrPastTime = errors.New("time is in the past")
	// ErrInvalidState rejects transitions the current status does not allow.
	ErrInvalidState = errors.New("invalid state")
	// ErrValidation rejects malformed input.
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	// ErrNotReady means no bearer token is available yet. It is not an
	// authentication failure and is never surfaced to the user.
	ErrNotReady = errors.New("token not ready")
)

// Category names the taxonomy bucket of err for user-facing summaries.
func Category(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPastTime):
		return "past time"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrInvalidState):
		return "invalid state"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not found"
	case errors.Is(err, ErrNotReady):
		return "not ready"
	default:
		return "network"
	}
}
