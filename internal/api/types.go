package api

import (
	"github.com/dan22333/theravillage/internal/calendar"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type CreateSlotRequest struct {
	SlotDate  string `json:"slot_date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type SlotsResponse struct {
	Slots []calendar.Slot `json:"slots"`
}

type SubmitRequestBody struct {
	TherapistID        string `json:"therapist_id"`
	SlotID             string `json:"slot_id,omitempty"`
	RequestedDate      string `json:"requested_date"`
	RequestedStartTime string `json:"requested_start_time"`
	RequestedEndTime   string `json:"requested_end_time"`
	ClientMessage      string `json:"client_message,omitempty"`
}

type RespondRequestBody struct {
	Status                string                 `json:"status"`
	TherapistResponse     string                 `json:"therapist_response,omitempty"`
	SuggestedAlternatives []calendar.Alternative `json:"suggested_alternatives,omitempty"`
}

type RequestsResponse struct {
	Requests []calendar.SchedulingRequest `json:"requests"`
}

// AppointmentRequest is the body of both create and reschedule.
// ClientID is ignored on reschedule.
type AppointmentRequest struct {
	ClientID         string             `json:"client_id,omitempty"`
	StartTS          string             `json:"start_ts"`
	DurationMinutes  int                `json:"duration_minutes"`
	Location         *calendar.Location `json:"location,omitempty"`
	RecurringRule    string             `json:"recurring_rule,omitempty"`
	RecurringEndDate string             `json:"recurring_end_date,omitempty"`
}

type CancelAppointmentRequest struct {
	CancellationReason string `json:"cancellation_reason"`
}

type AppointmentsResponse struct {
	Message      string                 `json:"message,omitempty"`
	Appointments []calendar.Appointment `json:"appointments"`
	Count        int                    `json:"count"`
}

type NotificationsResponse struct {
	Notifications []calendar.Notification `json:"notifications"`
}
