package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/client"
)

type AppointmentBackend interface {
	Appointments(ctx context.Context, from, to calendar.Date) ([]calendar.Appointment, error)
	Appointment(ctx context.Context, id string) (*calendar.Appointment, error)
	CreateAppointment(ctx context.Context, in client.AppointmentInput) ([]calendar.Appointment, error)
	RescheduleAppointment(ctx context.Context, id string, in client.AppointmentInput) ([]calendar.Appointment, error)
	CancelAppointment(ctx context.Context, id, reason string) error
	CompleteAppointment(ctx context.Context, id string) error
}

// Range is an inclusive window of calendar dates.
type Range struct {
	From calendar.Date
	To   calendar.Date
}

// Booking describes an appointment to create or the new placement of a
// rescheduled one.
type Booking struct {
	Start            calendar.DateTime
	DurationMinutes  int
	Location         *calendar.Location
	RecurringRule    calendar.RecurringRule
	RecurringEndDate *calendar.Date
}

func (b Booking) validate() error {
	if b.Start.IsZero() {
		return fmt.Errorf("%w: start is required", calendar.ErrValidation)
	}
	if b.DurationMinutes <= 0 {
		return fmt.Errorf("%w: duration must be positive, got %d", calendar.ErrValidation, b.DurationMinutes)
	}
	if !b.Start.Time.Aligned() || b.DurationMinutes%calendar.SlotMinutes != 0 {
		return fmt.Errorf("%w: appointments must start and end on %d-minute boundaries", calendar.ErrValidation, calendar.SlotMinutes)
	}
	if !b.RecurringRule.Valid() {
		return fmt.Errorf("%w: unknown recurring rule %q", calendar.ErrValidation, b.RecurringRule)
	}
	if b.RecurringRule.Recurs() && b.RecurringEndDate == nil {
		return fmt.Errorf("%w: recurring rule %s needs an end date", calendar.ErrValidation, b.RecurringRule)
	}
	return b.Location.Validate()
}

func (b Booking) input(clientID string) client.AppointmentInput {
	return client.AppointmentInput{
		ClientID:         clientID,
		Start:            b.Start,
		DurationMinutes:  b.DurationMinutes,
		Location:         b.Location,
		RecurringRule:    b.RecurringRule,
		RecurringEndDate: b.RecurringEndDate,
	}
}

// AppointmentStore holds the appointments overlapping one date window,
// cancelled ones included.
type AppointmentStore struct {
	backend AppointmentBackend
	win     window[Range, calendar.Appointment]
}

func NewAppointmentStore(backend AppointmentBackend) *AppointmentStore {
	return &AppointmentStore{backend: backend}
}

// Load fetches the appointments overlapping [from, to].
func (s *AppointmentStore) Load(ctx context.Context, from, to calendar.Date) ([]calendar.Appointment, error) {
	if to.Before(from) {
		return nil, fmt.Errorf("%w: window end %s before start %s", calendar.ErrValidation, to, from)
	}
	gen := s.win.begin()
	appts, err := s.backend.Appointments(ctx, from, to)
	if err := s.win.settle(gen, Range{From: from, To: to}, appts, err); err != nil {
		return nil, err
	}
	return appts, nil
}

func (s *AppointmentStore) Snapshot() (Range, []calendar.Appointment, bool) {
	return s.win.snapshot()
}

// Covering returns the active appointment whose range contains the cell
// starting at (d, c).
func (s *AppointmentStore) Covering(d calendar.Date, c calendar.Clock) (calendar.Appointment, bool) {
	return s.win.find(func(a calendar.Appointment) bool {
		return a.Active() && a.Covers(d, c)
	})
}

func (s *AppointmentStore) Invalidate() {
	s.win.invalidate()
}

// Detail fetches one appointment for the detail view.
func (s *AppointmentStore) Detail(ctx context.Context, id string) (*calendar.Appointment, error) {
	return s.backend.Appointment(ctx, id)
}

// Create books an appointment, or a series when the rule recurs. The
// result always holds at least one appointment.
func (s *AppointmentStore) Create(ctx context.Context, clientID string, b Booking) ([]calendar.Appointment, error) {
	if strings.TrimSpace(clientID) == "" {
		return nil, fmt.Errorf("%w: client is required", calendar.ErrValidation)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	return s.backend.CreateAppointment(ctx, b.input(clientID))
}

// Reschedule moves an appointment, keeping its id. With a recurring rule
// the result is the full set of occurrences.
func (s *AppointmentStore) Reschedule(ctx context.Context, id string, b Booking) ([]calendar.Appointment, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if err := s.checkScheduled(id); err != nil {
		return nil, err
	}
	return s.backend.RescheduleAppointment(ctx, id, b.input(""))
}

// Cancel requires a non-empty reason.
func (s *AppointmentStore) Cancel(ctx context.Context, id, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: cancellation reason is required", calendar.ErrValidation)
	}
	if err := s.checkScheduled(id); err != nil {
		return err
	}
	return s.backend.CancelAppointment(ctx, id, reason)
}

func (s *AppointmentStore) Complete(ctx context.Context, id string) error {
	if err := s.checkScheduled(id); err != nil {
		return err
	}
	return s.backend.CompleteAppointment(ctx, id)
}

// checkScheduled rejects transitions out of a status the snapshot already
// shows as terminal. Unknown ids are left to the backend.
func (s *AppointmentStore) checkScheduled(id string) error {
	known, ok := s.win.find(func(a calendar.Appointment) bool { return a.ID == id })
	if ok && known.Status != calendar.AppointmentScheduled {
		return fmt.Errorf("%w: appointment %s is %s", calendar.ErrInvalidState, id, known.Status)
	}
	return nil
}
