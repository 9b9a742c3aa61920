package scheduling

import (
	"time"

	"github.com/google/uuid"

	"github.com/dan22333/theravillage/internal/calendar"
)

type Role string

const (
	RoleTherapist Role = "therapist"
	RoleClient    Role = "client"
)

type User struct {
	ID          uuid.UUID
	Name        string
	Email       string
	Role        Role
	FirebaseUID string
	CreatedAt   time.Time
}

const (
	NotifySchedulingRequest = "scheduling_request"
	NotifyRequestApproved   = "request_approved"
	NotifyRequestDeclined   = "request_declined"
	NotifyRequestCountered  = "request_counter_proposed"
	NotifyRequestCancelled  = "request_cancelled"
	NotifyAppointmentBooked = "appointment_scheduled"
	NotifyAppointmentMoved  = "appointment_rescheduled"
	NotifyAppointmentCancel = "appointment_cancelled"
)

const (
	cancelledByClient    = "client"
	cancelledByTherapist = "therapist"
)

// SubmitRequest is a client's proposal to book a range of available slots.
type SubmitRequest struct {
	TherapistID uuid.UUID
	SlotID      *uuid.UUID
	Date        calendar.Date
	StartTime   calendar.Clock
	EndTime     calendar.Clock
	Message     string
}

type Response struct {
	Status       calendar.RequestStatus
	Text         string
	Alternatives []calendar.Alternative
}

// Resolution is the terminal state written onto a pending request.
type Resolution struct {
	Status             calendar.RequestStatus
	TherapistResponse  string
	Alternatives       []calendar.Alternative
	CancelledBy        string
	CancellationReason string
	RespondedAt        time.Time
}

// BookAppointment creates one appointment or a recurring series.
type BookAppointment struct {
	ClientID         uuid.UUID
	Start            calendar.DateTime
	DurationMinutes  int
	Location         *calendar.Location
	RecurringRule    calendar.RecurringRule
	RecurringEndDate *calendar.Date
}

type Reschedule struct {
	Start            calendar.DateTime
	DurationMinutes  int
	Location         *calendar.Location
	RecurringRule    calendar.RecurringRule
	RecurringEndDate *calendar.Date
}

// occurrences expands a start/duration and optional rule into the ranges
// of every occurrence up to and including the end date.
func occurrences(start calendar.DateTime, minutes int, rule calendar.RecurringRule, until *calendar.Date) [][2]calendar.DateTime {
	out := [][2]calendar.DateTime{{start, start.AddMinutes(minutes)}}
	if !rule.Recurs() || until == nil {
		return out
	}
	step := rule.IntervalDays() * 24 * 60
	for next := start.AddMinutes(step); !next.Date.After(*until); next = next.AddMinutes(step) {
		out = append(out, [2]calendar.DateTime{next, next.AddMinutes(minutes)})
	}
	return out
}
