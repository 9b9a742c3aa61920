package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/calendar"
)

func validateBooking(start calendar.DateTime, minutes int, loc *calendar.Location, rule calendar.RecurringRule, until *calendar.Date) error {
	if start.IsZero() {
		return invalid("start time is required")
	}
	if minutes <= 0 {
		return invalid("duration_minutes must be positive")
	}
	if !start.Time.Aligned() || minutes%calendar.SlotMinutes != 0 {
		return invalid("appointments must start and end on %d-minute boundaries", calendar.SlotMinutes)
	}
	if !rule.Valid() {
		return invalid("unknown recurring_rule %q", rule)
	}
	if rule.Recurs() {
		if until == nil {
			return invalid("recurring_end_date is required for recurring appointments")
		}
		if until.Before(start.Date) {
			return invalid("recurring_end_date must not be before the first occurrence")
		}
	}
	if err := loc.Validate(); err != nil {
		return invalid("%v", err)
	}
	return nil
}

// ListAppointments returns every appointment, cancelled ones included,
// overlapping the inclusive date window.
func (s *Service) ListAppointments(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date) ([]calendar.Appointment, error) {
	if to.Before(from) {
		return nil, invalid("end_date must not be before start_date")
	}
	appts, err := s.repo.ListAppointments(ctx, therapistID, calendar.At(from, 0), calendar.At(to.AddDays(1), 0), true)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

func (s *Service) GetAppointment(ctx context.Context, therapistID, id uuid.UUID) (*calendar.Appointment, error) {
	appt, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.TherapistID != therapistID.String() {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

// insertSeries checks every occurrence for overlap before writing any of
// them: one collision fails the whole series.
func insertSeries(ctx context.Context, tx Repository, therapistID uuid.UUID, exclude *uuid.UUID, ranges [][2]calendar.DateTime, template calendar.Appointment) ([]calendar.Appointment, error) {
	for _, r := range ranges {
		overlapping, err := tx.FindOverlapping(ctx, therapistID, r[0], r[1], exclude)
		if err != nil {
			return nil, fmt.Errorf("check appointments: %w", err)
		}
		if len(overlapping) > 0 {
			return nil, fmt.Errorf("%w: occurrence at %s", ErrTimeOccupied, r[0])
		}
	}

	created := make([]calendar.Appointment, 0, len(ranges))
	for _, r := range ranges {
		appt := template
		appt.Start, appt.End = r[0], r[1]
		inserted, err := tx.InsertAppointment(ctx, appt)
		if err != nil {
			return nil, fmt.Errorf("insert appointment: %w", err)
		}
		if err := tx.BookRange(ctx, therapistID, r[0], r[1]); err != nil {
			return nil, fmt.Errorf("book slots: %w", err)
		}
		created = append(created, *inserted)
	}
	return created, nil
}

// CreateAppointment books one appointment, or every occurrence of a
// recurring series, for an assigned client.
func (s *Service) CreateAppointment(ctx context.Context, therapistID uuid.UUID, in BookAppointment) (appts []calendar.Appointment, err error) {
	defer s.observe("create_appointment", &err)

	if err := validateBooking(in.Start, in.DurationMinutes, in.Location, in.RecurringRule, in.RecurringEndDate); err != nil {
		return nil, err
	}

	assigned, err := s.repo.IsClientAssigned(ctx, therapistID, in.ClientID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if !assigned {
		return nil, ErrClientNotAssigned
	}

	rule := in.RecurringRule
	if rule == "" {
		rule = calendar.RecurNone
	}
	ranges := occurrences(in.Start, in.DurationMinutes, rule, in.RecurringEndDate)
	template := calendar.Appointment{
		TherapistID:   therapistID.String(),
		ClientID:      in.ClientID.String(),
		Status:        calendar.AppointmentScheduled,
		RecurringRule: rule,
		Location:      in.Location,
	}

	err = s.withTherapistLock(ctx, therapistID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(ctx context.Context, tx Repository) error {
			var txErr error
			appts, txErr = insertSeries(ctx, tx, therapistID, nil, ranges, template)
			return txErr
		})
	})
	if err != nil {
		return nil, err
	}

	first := appts[0]
	s.notify(ctx, calendar.Notification{
		UserID:               first.ClientID,
		Type:                 NotifyAppointmentBooked,
		Title:                "Appointment scheduled",
		Message:              fmt.Sprintf("%d session(s) scheduled starting %s", len(appts), first.Start),
		RelatedAppointmentID: first.ID,
	})
	s.logger.Info("appointments created",
		zap.String("therapist_id", therapistID.String()),
		zap.Int("count", len(appts)),
		zap.String("rule", string(rule)),
	)
	return appts, nil
}

// RescheduleAppointment moves an appointment, keeping its id. A recurring
// rule adds the following occurrences as new appointments.
func (s *Service) RescheduleAppointment(ctx context.Context, therapistID, id uuid.UUID, in Reschedule) (appts []calendar.Appointment, err error) {
	defer s.observe("reschedule_appointment", &err)

	if err := validateBooking(in.Start, in.DurationMinutes, in.Location, in.RecurringRule, in.RecurringEndDate); err != nil {
		return nil, err
	}

	current, err := s.GetAppointment(ctx, therapistID, id)
	if err != nil {
		return nil, err
	}
	if current.Status != calendar.AppointmentScheduled {
		return nil, ErrInvalidStatusTransition
	}

	rule := in.RecurringRule
	if rule == "" {
		rule = current.RecurringRule
	}
	ranges := occurrences(in.Start, in.DurationMinutes, in.RecurringRule, in.RecurringEndDate)
	first := ranges[0]

	err = s.withTherapistLock(ctx, therapistID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(ctx context.Context, tx Repository) error {
			for _, r := range ranges {
				overlapping, err := tx.FindOverlapping(ctx, therapistID, r[0], r[1], &id)
				if err != nil {
					return fmt.Errorf("check appointments: %w", err)
				}
				if len(overlapping) > 0 {
					return fmt.Errorf("%w: occurrence at %s", ErrTimeOccupied, r[0])
				}
			}

			if _, err := tx.ReleaseRange(ctx, therapistID, current.Start, current.End); err != nil {
				return fmt.Errorf("release slots: %w", err)
			}
			moved, err := tx.UpdateAppointmentTimes(ctx, id, first[0], first[1], in.Location, rule)
			if err != nil {
				return fmt.Errorf("update appointment: %w", err)
			}
			if err := tx.BookRange(ctx, therapistID, first[0], first[1]); err != nil {
				return fmt.Errorf("book slots: %w", err)
			}
			appts = append(appts, *moved)

			if len(ranges) > 1 {
				template := *moved
				template.ID = ""
				template.SchedulingRequestID = ""
				rest, err := insertSeries(ctx, tx, therapistID, &id, ranges[1:], template)
				if err != nil {
					return err
				}
				appts = append(appts, rest...)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, calendar.Notification{
		UserID:               current.ClientID,
		Type:                 NotifyAppointmentMoved,
		Title:                "Appointment rescheduled",
		Message:              fmt.Sprintf("Your session on %s moved to %s", current.Start, first[0]),
		RelatedAppointmentID: current.ID,
	})
	return appts, nil
}

// CancelAppointment cancels a scheduled appointment and frees its slots.
func (s *Service) CancelAppointment(ctx context.Context, therapistID, id uuid.UUID, reason string) (appt *calendar.Appointment, err error) {
	defer s.observe("cancel_appointment", &err)

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("cancellation_reason is required")
	}

	current, err := s.GetAppointment(ctx, therapistID, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(calendar.AppointmentCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	err = s.repo.InTx(ctx, func(ctx context.Context, tx Repository) error {
		var txErr error
		appt, txErr = tx.UpdateAppointmentStatus(ctx, id, calendar.AppointmentScheduled, calendar.AppointmentCancelled, reason)
		if errors.Is(txErr, ErrAppointmentNotFound) {
			return ErrInvalidStatusTransition
		}
		if txErr != nil {
			return fmt.Errorf("cancel appointment: %w", txErr)
		}
		if _, err := tx.ReleaseRange(ctx, therapistID, appt.Start, appt.End); err != nil {
			return fmt.Errorf("release slots: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, calendar.Notification{
		UserID:               appt.ClientID,
		Type:                 NotifyAppointmentCancel,
		Title:                "Appointment cancelled",
		Message:              fmt.Sprintf("Your session on %s was cancelled: %s", appt.Start, reason),
		RelatedAppointmentID: appt.ID,
	})
	return appt, nil
}

// CompleteAppointment marks a scheduled appointment as held.
func (s *Service) CompleteAppointment(ctx context.Context, therapistID, id uuid.UUID) (appt *calendar.Appointment, err error) {
	defer s.observe("complete_appointment", &err)

	current, err := s.GetAppointment(ctx, therapistID, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransition(calendar.AppointmentCompleted) {
		return nil, ErrInvalidStatusTransition
	}

	appt, err = s.repo.UpdateAppointmentStatus(ctx, id, calendar.AppointmentScheduled, calendar.AppointmentCompleted, "")
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}
	return appt, nil
}
