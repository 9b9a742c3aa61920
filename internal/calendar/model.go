package calendar

import (
	"fmt"
	"strings"
	"time"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
)

// Slot is a therapist-declared 15-minute interval of availability.
type Slot struct {
	ID          string     `json:"id"`
	TherapistID string     `json:"therapist_id,omitempty"`
	Date        Date       `json:"slot_date"`
	StartTime   Clock      `json:"start_time"`
	EndTime     Clock      `json:"end_time"`
	Status      SlotStatus `json:"status"`
}

type AppointmentStatus string

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCompleted AppointmentStatus = "completed"
	AppointmentCancelled AppointmentStatus = "cancelled"
)

// CanTransition enforces scheduled -> cancelled | completed and nothing else.
func (s AppointmentStatus) CanTransition(to AppointmentStatus) bool {
	return s == AppointmentScheduled && (to == AppointmentCancelled || to == AppointmentCompleted)
}

type RecurringRule string

const (
	RecurNone     RecurringRule = "none"
	RecurWeekly   RecurringRule = "weekly"
	RecurBiweekly RecurringRule = "biweekly"
	RecurMonthly  RecurringRule = "monthly"
)

// Recurs is false for the empty rule and for "none".
func (r RecurringRule) Recurs() bool {
	return r != "" && r != RecurNone
}

func (r RecurringRule) Valid() bool {
	switch r {
	case "", RecurNone, RecurWeekly, RecurBiweekly, RecurMonthly:
		return true
	}
	return false
}

// IntervalDays is the spacing between occurrences. Monthly is a flat 30
// days, not a calendar month.
func (r RecurringRule) IntervalDays() int {
	switch r {
	case RecurBiweekly:
		return 14
	case RecurMonthly:
		return 30
	default:
		return 7
	}
}

type LocationType string

const (
	LocationVirtual  LocationType = "virtual"
	LocationInPerson LocationType = "in_person"
)

type Location struct {
	Type    LocationType `json:"type"`
	Address string       `json:"address,omitempty"`
}

func (l *Location) Validate() error {
	if l == nil {
		return nil
	}
	switch l.Type {
	case LocationVirtual:
		return nil
	case LocationInPerson:
		if strings.TrimSpace(l.Address) == "" {
			return fmt.Errorf("%w: in-person location requires an address", ErrValidation)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown location type %q", ErrValidation, l.Type)
}

type Appointment struct {
	ID                  string            `json:"id"`
	TherapistID         string            `json:"therapist_id,omitempty"`
	ClientID            string            `json:"client_id"`
	ClientName          string            `json:"client_name,omitempty"`
	SchedulingRequestID string            `json:"scheduling_request_id,omitempty"`
	Start               DateTime          `json:"start_ts"`
	End                 DateTime          `json:"end_ts"`
	Status              AppointmentStatus `json:"status"`
	RecurringRule       RecurringRule     `json:"recurring_rule,omitempty"`
	Location            *Location         `json:"location,omitempty"`
	CancellationReason  string            `json:"cancellation_reason,omitempty"`
}

// Active appointments occupy their range; cancelled ones never do.
func (a Appointment) Active() bool {
	return a.Status != AppointmentCancelled
}

// Covers reports whether the cell [c, c+15) on d intersects [Start, End).
// Cells partially covered by an off-grid appointment count as covered.
func (a Appointment) Covers(d Date, c Clock) bool {
	at := At(d, c)
	return a.Overlaps(at, at.AddMinutes(SlotMinutes))
}

func (a Appointment) DurationMinutes() int {
	return a.Start.MinutesUntil(a.End)
}

// Overlaps reports whether [start, end) intersects the appointment range.
func (a Appointment) Overlaps(start, end DateTime) bool {
	return a.Start.Before(end) && start.Before(a.End)
}

type RequestStatus string

const (
	RequestPending         RequestStatus = "pending"
	RequestApproved        RequestStatus = "approved"
	RequestDeclined        RequestStatus = "declined"
	RequestCancelled       RequestStatus = "cancelled"
	RequestCounterProposed RequestStatus = "counter_proposed"
)

// Terminal is true for every status except pending.
func (s RequestStatus) Terminal() bool {
	return s != RequestPending
}

// CanTransition allows exactly one move out of pending.
func (s RequestStatus) CanTransition(to RequestStatus) bool {
	if s != RequestPending {
		return false
	}
	switch to {
	case RequestApproved, RequestDeclined, RequestCancelled, RequestCounterProposed:
		return true
	}
	return false
}

// Alternative is a time a therapist suggests instead of the requested one.
type Alternative struct {
	Date      Date   `json:"date"`
	StartTime Clock  `json:"start_time"`
	EndTime   Clock  `json:"end_time"`
	Note      string `json:"note,omitempty"`
}

type SchedulingRequest struct {
	ID                    string        `json:"id"`
	ClientID              string        `json:"client_id"`
	ClientName            string        `json:"client_name,omitempty"`
	TherapistID           string        `json:"therapist_id"`
	TherapistName         string        `json:"therapist_name,omitempty"`
	RequestedSlotID       string        `json:"requested_slot_id,omitempty"`
	RequestedDate         Date          `json:"requested_date"`
	RequestedStartTime    Clock         `json:"requested_start_time"`
	RequestedEndTime      Clock         `json:"requested_end_time"`
	Status                RequestStatus `json:"status"`
	ClientMessage         string        `json:"client_message,omitempty"`
	TherapistResponse     string        `json:"therapist_response,omitempty"`
	SuggestedAlternatives []Alternative `json:"suggested_alternatives,omitempty"`
	CancelledBy           string        `json:"cancelled_by,omitempty"`
	CancellationReason    string        `json:"cancellation_reason,omitempty"`
	CreatedAt             *time.Time    `json:"created_at,omitempty"`
	RespondedAt           *time.Time    `json:"responded_at,omitempty"`
}

type Notification struct {
	ID                   string    `json:"id"`
	UserID               string    `json:"user_id"`
	Type                 string    `json:"type"`
	Title                string    `json:"title"`
	Message              string    `json:"message"`
	RelatedRequestID     string    `json:"related_request_id,omitempty"`
	RelatedAppointmentID string    `json:"related_appointment_id,omitempty"`
	IsRead               bool      `json:"is_read"`
	CreatedAt            time.Time `json:"created_at"`
}

// WeekView is the therapist calendar payload for one Monday-based week.
type WeekView struct {
	WeekStart          Date                `json:"week_start"`
	WeekEnd            Date                `json:"week_end"`
	Slots              []Slot              `json:"slots"`
	Appointments       []Appointment       `json:"appointments"`
	SchedulingRequests []SchedulingRequest `json:"scheduling_requests"`
}
