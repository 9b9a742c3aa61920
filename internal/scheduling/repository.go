package scheduling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dan22333/theravillage/internal/calendar"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrSlotNotFound         = errors.New("slot not found")
	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrRequestNotFound      = errors.New("scheduling request not found")
	ErrNotificationNotFound = errors.New("notification not found")
	ErrSlotExists           = errors.New("slot already exists")
	ErrRequestNotPending    = errors.New("scheduling request is not pending")
)

// Repository contains all persistence needed by the service.
type Repository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByFirebaseUID(ctx context.Context, uid string) (*User, error)
	IsClientAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error)

	// Slots
	ListSlots(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date, status calendar.SlotStatus) ([]calendar.Slot, error)
	ListSlotsInRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) ([]calendar.Slot, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*calendar.Slot, error)
	InsertSlot(ctx context.Context, slot calendar.Slot) (*calendar.Slot, error)
	DeleteSlot(ctx context.Context, id uuid.UUID) error
	BookRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) error
	ReleaseRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) (int64, error)
	ReleaseStuckSlots(ctx context.Context, since calendar.Date) (int64, error)

	// Appointments
	ListAppointments(ctx context.Context, therapistID uuid.UUID, from, to calendar.DateTime, includeCancelled bool) ([]calendar.Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*calendar.Appointment, error)
	FindOverlapping(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime, exclude *uuid.UUID) ([]calendar.Appointment, error)
	InsertAppointment(ctx context.Context, appt calendar.Appointment) (*calendar.Appointment, error)
	UpdateAppointmentTimes(ctx context.Context, id uuid.UUID, start, end calendar.DateTime, loc *calendar.Location, rule calendar.RecurringRule) (*calendar.Appointment, error)
	// UpdateAppointmentStatus only applies while the row is still in from.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to calendar.AppointmentStatus, reason string) (*calendar.Appointment, error)

	// Scheduling requests
	InsertRequest(ctx context.Context, req calendar.SchedulingRequest) (*calendar.SchedulingRequest, error)
	GetRequest(ctx context.Context, id uuid.UUID) (*calendar.SchedulingRequest, error)
	ListPendingForTherapist(ctx context.Context, therapistID uuid.UUID) ([]calendar.SchedulingRequest, error)
	ListRecentForClient(ctx context.Context, clientID uuid.UUID, since time.Time, limit int) ([]calendar.SchedulingRequest, error)
	ListRequestsForWeek(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date) ([]calendar.SchedulingRequest, error)
	// ResolveRequest fails with ErrRequestNotPending if the request already left pending.
	ResolveRequest(ctx context.Context, id uuid.UUID, res Resolution) (*calendar.SchedulingRequest, error)

	// Notifications
	InsertNotification(ctx context.Context, n calendar.Notification) error
	ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]calendar.Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error

	// InTx runs fn against a repository whose writes commit together.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error
}
