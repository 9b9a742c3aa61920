package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dan22333/theravillage/internal/calendar"
)

type createSlotBody struct {
	SlotDate  calendar.Date  `json:"slot_date"`
	StartTime calendar.Clock `json:"start_time"`
	EndTime   calendar.Clock `json:"end_time"`
}

// SubmitRequestInput is a client's request for a time range on a
// therapist's calendar.
type SubmitRequestInput struct {
	TherapistID string         `json:"therapist_id"`
	SlotID      string         `json:"slot_id,omitempty"`
	Date        calendar.Date  `json:"requested_date"`
	StartTime   calendar.Clock `json:"requested_start_time"`
	EndTime     calendar.Clock `json:"requested_end_time"`
	Message     string         `json:"client_message,omitempty"`
}

type respondBody struct {
	Status                calendar.RequestStatus `json:"status"`
	TherapistResponse     string                 `json:"therapist_response,omitempty"`
	SuggestedAlternatives []calendar.Alternative `json:"suggested_alternatives,omitempty"`
}

// AppointmentInput is the body of create and reschedule. ClientID is
// ignored by reschedule.
type AppointmentInput struct {
	ClientID         string                 `json:"client_id,omitempty"`
	Start            calendar.DateTime      `json:"start_ts"`
	DurationMinutes  int                    `json:"duration_minutes"`
	Location         *calendar.Location     `json:"location,omitempty"`
	RecurringRule    calendar.RecurringRule `json:"recurring_rule,omitempty"`
	RecurringEndDate *calendar.Date         `json:"recurring_end_date,omitempty"`
}

type appointmentsEnvelope struct {
	Appointments []calendar.Appointment `json:"appointments"`
	Count        int                    `json:"count"`
}

func escape(id string) string { return url.PathEscape(id) }

// Week loads the slots, active appointments and pending requests of the
// week starting at monday.
func (c *Client) Week(ctx context.Context, monday calendar.Date) (*calendar.WeekView, error) {
	var out calendar.WeekView
	if err := c.doJSON(ctx, "week", http.MethodGet, "/calendar/therapist/calendar/week/"+monday.String(), nil, &out); err != nil {
		return nil, fmt.Errorf("load week %s: %w", monday, err)
	}
	return &out, nil
}

func (c *Client) CreateSlot(ctx context.Context, date calendar.Date, start, end calendar.Clock) (*calendar.Slot, error) {
	var out calendar.Slot
	body := createSlotBody{SlotDate: date, StartTime: start, EndTime: end}
	if err := c.doJSON(ctx, "create_slot", http.MethodPost, "/calendar/therapist/calendar/slots", body, &out); err != nil {
		return nil, fmt.Errorf("create slot %s %s: %w", date, start.Short(), err)
	}
	return &out, nil
}

func (c *Client) DeleteSlot(ctx context.Context, slotID string) error {
	if err := c.doJSON(ctx, "delete_slot", http.MethodDelete, "/calendar/therapist/calendar/slots/"+escape(slotID), nil, nil); err != nil {
		return fmt.Errorf("delete slot %s: %w", slotID, err)
	}
	return nil
}

// AvailableSlots lists a therapist's open slots. Zero dates fall back to
// the backend's default window.
func (c *Client) AvailableSlots(ctx context.Context, therapistID string, from, to calendar.Date) ([]calendar.Slot, error) {
	q := url.Values{}
	if !from.IsZero() {
		q.Set("start_date", from.String())
	}
	if !to.IsZero() {
		q.Set("end_date", to.String())
	}
	path := "/calendar/client/therapist/" + escape(therapistID) + "/available-slots"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Slots []calendar.Slot `json:"slots"`
	}
	if err := c.doJSON(ctx, "available_slots", http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("available slots: %w", err)
	}
	return out.Slots, nil
}

// PendingRequests returns the therapist's pending queue, or for a client
// their recent requests.
func (c *Client) PendingRequests(ctx context.Context) ([]calendar.SchedulingRequest, error) {
	var out struct {
		Requests []calendar.SchedulingRequest `json:"requests"`
	}
	if err := c.doJSON(ctx, "pending_requests", http.MethodGet, "/calendar/scheduling-requests/pending", nil, &out); err != nil {
		return nil, fmt.Errorf("pending requests: %w", err)
	}
	return out.Requests, nil
}

func (c *Client) SubmitRequest(ctx context.Context, in SubmitRequestInput) (*calendar.SchedulingRequest, error) {
	var out calendar.SchedulingRequest
	if err := c.doJSON(ctx, "submit_request", http.MethodPost, "/calendar/client/scheduling-requests", in, &out); err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}
	return &out, nil
}

func (c *Client) RespondToRequest(ctx context.Context, requestID string, status calendar.RequestStatus, text string, alternatives []calendar.Alternative) (*calendar.SchedulingRequest, error) {
	var out calendar.SchedulingRequest
	body := respondBody{Status: status, TherapistResponse: text, SuggestedAlternatives: alternatives}
	if err := c.doJSON(ctx, "respond_request", http.MethodPost, "/calendar/scheduling-requests/"+escape(requestID)+"/respond", body, &out); err != nil {
		return nil, fmt.Errorf("respond to request %s: %w", requestID, err)
	}
	return &out, nil
}

func (c *Client) CancelRequest(ctx context.Context, requestID string) error {
	if err := c.doJSON(ctx, "cancel_request", http.MethodPost, "/calendar/scheduling-requests/"+escape(requestID)+"/cancel", nil, nil); err != nil {
		return fmt.Errorf("cancel request %s: %w", requestID, err)
	}
	return nil
}

// Appointments lists every appointment, cancelled ones included,
// overlapping the inclusive date window.
func (c *Client) Appointments(ctx context.Context, from, to calendar.Date) ([]calendar.Appointment, error) {
	q := url.Values{}
	q.Set("start_date", from.String())
	q.Set("end_date", to.String())

	var out appointmentsEnvelope
	if err := c.doJSON(ctx, "appointments", http.MethodGet, "/therapist/appointments?"+q.Encode(), nil, &out); err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return out.Appointments, nil
}

func (c *Client) Appointment(ctx context.Context, id string) (*calendar.Appointment, error) {
	var out calendar.Appointment
	if err := c.doJSON(ctx, "appointment", http.MethodGet, "/therapist/appointments/"+escape(id), nil, &out); err != nil {
		return nil, fmt.Errorf("get appointment %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) CreateAppointment(ctx context.Context, in AppointmentInput) ([]calendar.Appointment, error) {
	var out appointmentsEnvelope
	if err := c.doJSON(ctx, "create_appointment", http.MethodPost, "/therapist/appointments", in, &out); err != nil {
		return nil, fmt.Errorf("create appointment: %w", err)
	}
	return out.Appointments, nil
}

func (c *Client) RescheduleAppointment(ctx context.Context, id string, in AppointmentInput) ([]calendar.Appointment, error) {
	in.ClientID = ""
	var out appointmentsEnvelope
	if err := c.doJSON(ctx, "reschedule_appointment", http.MethodPost, "/therapist/appointments/"+escape(id)+"/reschedule", in, &out); err != nil {
		return nil, fmt.Errorf("reschedule appointment %s: %w", id, err)
	}
	return out.Appointments, nil
}

func (c *Client) CancelAppointment(ctx context.Context, id, reason string) error {
	body := struct {
		CancellationReason string `json:"cancellation_reason"`
	}{reason}
	if err := c.doJSON(ctx, "cancel_appointment", http.MethodPost, "/therapist/appointments/"+escape(id)+"/cancel", body, nil); err != nil {
		return fmt.Errorf("cancel appointment %s: %w", id, err)
	}
	return nil
}

func (c *Client) CompleteAppointment(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, "complete_appointment", http.MethodPost, "/therapist/appointments/"+escape(id)+"/complete", nil, nil); err != nil {
		return fmt.Errorf("complete appointment %s: %w", id, err)
	}
	return nil
}

func (c *Client) Notifications(ctx context.Context) ([]calendar.Notification, error) {
	var out struct {
		Notifications []calendar.Notification `json:"notifications"`
	}
	if err := c.doJSON(ctx, "notifications", http.MethodGet, "/calendar/notifications", nil, &out); err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}
	return out.Notifications, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, "mark_notification_read", http.MethodPost, "/calendar/notifications/"+escape(id)+"/mark-read", nil, nil); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}
