package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/logging"
	"github.com/dan22333/theravillage/internal/metrics"
	redisclient "github.com/dan22333/theravillage/internal/redis"
)

var (
	ErrInvalidInput            = errors.New("invalid input")
	ErrPastTime                = errors.New("cannot schedule in the past")
	ErrTimeOccupied            = errors.New("time range overlaps an existing appointment")
	ErrSlotUnavailable         = errors.New("requested time is not available")
	ErrSlotBeingBooked         = errors.New("therapist calendar is being updated, please retry")
	ErrSlotBooked              = errors.New("slot is booked")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrClientNotAssigned       = errors.New("client is not assigned to this therapist")
)

const (
	notificationLimit   = 50
	clientRequestWindow = 30 * 24 * time.Hour
	clientRequestLimit  = 10
	availableWindowDays = 28
)

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	loc     *time.Location
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.SchedulingMetrics
}

type Option func(*Service)

// WithClock overrides the wall clock used for "today" and past-time checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logging.OrNop(logger) }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo Repository, locker redisclient.Locker, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		repo:   repo,
		locker: locker,
		loc:    loc,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time {
	return s.now().In(s.loc)
}

func (s *Service) today() calendar.Date {
	return calendar.DateOf(s.clock())
}

func (s *Service) observe(op string, err *error) {
	s.metrics.ObserveOperation(op, *err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// withTherapistLock serialises overlap checks and writes on one calendar.
func (s *Service) withTherapistLock(ctx context.Context, therapistID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithTherapistLock(ctx, therapistID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrSlotBeingBooked
	}
	return err
}

// UserByFirebaseUID resolves a Firebase account to a local user.
func (s *Service) UserByFirebaseUID(ctx context.Context, uid string) (*User, error) {
	return s.repo.GetUserByFirebaseUID(ctx, uid)
}

func (s *Service) notify(ctx context.Context, n calendar.Notification) {
	n.CreatedAt = s.clock()
	if err := s.repo.InsertNotification(ctx, n); err != nil {
		s.logger.Warn("failed to insert notification",
			zap.String("type", n.Type),
			zap.String("user_id", n.UserID),
			zap.Error(err),
		)
	}
}

// Notifications returns the latest notifications for a user.
func (s *Service) Notifications(ctx context.Context, userID uuid.UUID) ([]calendar.Notification, error) {
	list, err := s.repo.ListNotifications(ctx, userID, notificationLimit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	return list, nil
}

func (s *Service) MarkNotificationRead(ctx context.Context, userID, id uuid.UUID) error {
	if err := s.repo.MarkNotificationRead(ctx, id, userID); err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return err
		}
		return fmt.Errorf("mark notification read: %w", err)
	}
	return nil
}

// ReconcileSlots releases booked slots from today onward that no active
// appointment covers. Intended to be called by the worker periodically.
func (s *Service) ReconcileSlots(ctx context.Context) (released int64, err error) {
	defer s.observe("reconcile_slots", &err)

	released, err = s.repo.ReleaseStuckSlots(ctx, s.today())
	if err != nil {
		return 0, fmt.Errorf("release stuck slots: %w", err)
	}
	if released > 0 {
		s.logger.Info("released stuck slots", zap.Int64("count", released))
	}
	return released, nil
}
