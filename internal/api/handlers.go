package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/auth"
	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/scheduling"
)

// SchedulingService is the part of scheduling.Service the handlers use.
type SchedulingService interface {
	WeekView(ctx context.Context, therapistID uuid.UUID, weekStart calendar.Date) (*calendar.WeekView, error)
	CreateSlot(ctx context.Context, therapistID uuid.UUID, date calendar.Date, start, end calendar.Clock) (*calendar.Slot, error)
	DeleteSlot(ctx context.Context, therapistID, slotID uuid.UUID) error
	AvailableSlots(ctx context.Context, clientID, therapistID uuid.UUID, from, to *calendar.Date) ([]calendar.Slot, error)

	SubmitRequest(ctx context.Context, clientID uuid.UUID, in scheduling.SubmitRequest) (*calendar.SchedulingRequest, error)
	PendingForTherapist(ctx context.Context, therapistID uuid.UUID) ([]calendar.SchedulingRequest, error)
	RecentForClient(ctx context.Context, clientID uuid.UUID) ([]calendar.SchedulingRequest, error)
	RespondToRequest(ctx context.Context, therapistID, requestID uuid.UUID, in scheduling.Response) (*calendar.SchedulingRequest, error)
	CancelRequest(ctx context.Context, actorID uuid.UUID, role scheduling.Role, requestID uuid.UUID) (*calendar.SchedulingRequest, error)

	ListAppointments(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date) ([]calendar.Appointment, error)
	GetAppointment(ctx context.Context, therapistID, id uuid.UUID) (*calendar.Appointment, error)
	CreateAppointment(ctx context.Context, therapistID uuid.UUID, in scheduling.BookAppointment) ([]calendar.Appointment, error)
	RescheduleAppointment(ctx context.Context, therapistID, id uuid.UUID, in scheduling.Reschedule) ([]calendar.Appointment, error)
	CancelAppointment(ctx context.Context, therapistID, id uuid.UUID, reason string) (*calendar.Appointment, error)
	CompleteAppointment(ctx context.Context, therapistID, id uuid.UUID) (*calendar.Appointment, error)

	Notifications(ctx context.Context, userID uuid.UUID) ([]calendar.Notification, error)
	MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error
}

type Handler struct {
	svc    SchedulingService
	logger *zap.Logger
}

func NewHandler(svc SchedulingService, logger *zap.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, details := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
	}
	writeError(w, status, code, details)
}

func identity(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// fieldParser collects the first parse failure across several fields.
type fieldParser struct {
	field string
	err   error
}

func (p *fieldParser) date(field, v string) calendar.Date {
	d, err := calendar.ParseDate(v)
	if err != nil && p.err == nil {
		p.field, p.err = field, err
	}
	return d
}

func (p *fieldParser) optionalDate(field, v string) *calendar.Date {
	if v == "" {
		return nil
	}
	d := p.date(field, v)
	return &d
}

func (p *fieldParser) clock(field, v string) calendar.Clock {
	c, err := calendar.ParseClock(v)
	if err != nil && p.err == nil {
		p.field, p.err = field, err
	}
	return c
}

func (p *fieldParser) dateTime(field, v string) calendar.DateTime {
	dt, err := calendar.ParseDateTime(v)
	if err != nil && p.err == nil {
		p.field, p.err = field, err
	}
	return dt
}

func (p *fieldParser) id(field, v string) uuid.UUID {
	id, err := uuid.Parse(v)
	if err != nil && p.err == nil {
		p.field, p.err = field, err
	}
	return id
}

func (p *fieldParser) check(w http.ResponseWriter) bool {
	if p.err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, p.field+": "+p.err.Error())
		return false
	}
	return true
}

// Calendar

func (h *Handler) weekView(w http.ResponseWriter, r *http.Request) {
	var p fieldParser
	monday := p.date("mondayDate", chi.URLParam(r, "mondayDate"))
	if !p.check(w) {
		return
	}

	view, err := h.svc.WeekView(r.Context(), identity(r).UserID, monday)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) createSlot(w http.ResponseWriter, r *http.Request) {
	var req CreateSlotRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var p fieldParser
	date := p.date("slot_date", req.SlotDate)
	start := p.clock("start_time", req.StartTime)
	end := p.clock("end_time", req.EndTime)
	if !p.check(w) {
		return
	}

	slot, err := h.svc.CreateSlot(r.Context(), identity(r).UserID, date, start, end)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

func (h *Handler) deleteSlot(w http.ResponseWriter, r *http.Request) {
	slotID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.DeleteSlot(r.Context(), identity(r).UserID, slotID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "slot deleted"})
}

func (h *Handler) availableSlots(w http.ResponseWriter, r *http.Request) {
	therapistID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	var p fieldParser
	from := p.optionalDate("start_date", r.URL.Query().Get("start_date"))
	to := p.optionalDate("end_date", r.URL.Query().Get("end_date"))
	if !p.check(w) {
		return
	}

	slots, err := h.svc.AvailableSlots(r.Context(), identity(r).UserID, therapistID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SlotsResponse{Slots: slots})
}

// Scheduling requests

func (h *Handler) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}

	var p fieldParser
	in := scheduling.SubmitRequest{
		TherapistID: p.id("therapist_id", req.TherapistID),
		Date:        p.date("requested_date", req.RequestedDate),
		StartTime:   p.clock("requested_start_time", req.RequestedStartTime),
		EndTime:     p.clock("requested_end_time", req.RequestedEndTime),
		Message:     strings.TrimSpace(req.ClientMessage),
	}
	if req.SlotID != "" {
		slotID := p.id("slot_id", req.SlotID)
		in.SlotID = &slotID
	}
	if !p.check(w) {
		return
	}

	created, err := h.svc.SubmitRequest(r.Context(), identity(r).UserID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// pendingRequests serves therapists their pending queue and clients their
// own recent requests.
func (h *Handler) pendingRequests(w http.ResponseWriter, r *http.Request) {
	id := identity(r)

	var (
		reqs []calendar.SchedulingRequest
		err  error
	)
	if id.IsTherapist() {
		reqs, err = h.svc.PendingForTherapist(r.Context(), id.UserID)
	} else {
		reqs, err = h.svc.RecentForClient(r.Context(), id.UserID)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RequestsResponse{Requests: reqs})
}

func (h *Handler) respondToRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req RespondRequestBody
	if !decodeJSON(w, r, &req) {
		return
	}

	resolved, err := h.svc.RespondToRequest(r.Context(), identity(r).UserID, requestID, scheduling.Response{
		Status:       calendar.RequestStatus(req.Status),
		Text:         strings.TrimSpace(req.TherapistResponse),
		Alternatives: req.SuggestedAlternatives,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resolved)
}

func (h *Handler) cancelRequest(w http.ResponseWriter, r *http.Request) {
	requestID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	id := identity(r)

	cancelled, err := h.svc.CancelRequest(r.Context(), id.UserID, scheduling.Role(id.Role), requestID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelled)
}

// Appointments

func (h *Handler) listAppointments(w http.ResponseWriter, r *http.Request) {
	var p fieldParser
	from := p.date("start_date", r.URL.Query().Get("start_date"))
	to := p.date("end_date", r.URL.Query().Get("end_date"))
	if !p.check(w) {
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), identity(r).UserID, from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentsResponse{Appointments: appts, Count: len(appts)})
}

func (h *Handler) getAppointment(w http.ResponseWriter, r *http.Request) {
	apptID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.GetAppointment(r.Context(), identity(r).UserID, apptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req AppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var p fieldParser
	in := scheduling.BookAppointment{
		ClientID:         p.id("client_id", req.ClientID),
		Start:            p.dateTime("start_ts", req.StartTS),
		DurationMinutes:  req.DurationMinutes,
		Location:         req.Location,
		RecurringRule:    calendar.RecurringRule(req.RecurringRule),
		RecurringEndDate: p.optionalDate("recurring_end_date", req.RecurringEndDate),
	}
	if !p.check(w) {
		return
	}

	appts, err := h.svc.CreateAppointment(r.Context(), identity(r).UserID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, AppointmentsResponse{
		Message:      "appointment(s) created",
		Appointments: appts,
		Count:        len(appts),
	})
}

func (h *Handler) rescheduleAppointment(w http.ResponseWriter, r *http.Request) {
	apptID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req AppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	var p fieldParser
	in := scheduling.Reschedule{
		Start:            p.dateTime("start_ts", req.StartTS),
		DurationMinutes:  req.DurationMinutes,
		Location:         req.Location,
		RecurringRule:    calendar.RecurringRule(req.RecurringRule),
		RecurringEndDate: p.optionalDate("recurring_end_date", req.RecurringEndDate),
	}
	if !p.check(w) {
		return
	}

	appts, err := h.svc.RescheduleAppointment(r.Context(), identity(r).UserID, apptID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AppointmentsResponse{
		Message:      "appointment rescheduled",
		Appointments: appts,
		Count:        len(appts),
	})
}

func (h *Handler) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	apptID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req CancelAppointmentRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	appt, err := h.svc.CancelAppointment(r.Context(), identity(r).UserID, apptID, req.CancellationReason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

func (h *Handler) completeAppointment(w http.ResponseWriter, r *http.Request) {
	apptID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	appt, err := h.svc.CompleteAppointment(r.Context(), identity(r).UserID, apptID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, appt)
}

// Notifications

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.Notifications(r.Context(), identity(r).UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, NotificationsResponse{Notifications: list})
}

func (h *Handler) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}

	if err := h.svc.MarkNotificationRead(r.Context(), identity(r).UserID, id); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "notification marked as read"})
}
