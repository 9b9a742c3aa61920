package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/calendar"
)

// WeekView loads slots, active appointments and requests for the Monday
// based week containing weekStart.
func (s *Service) WeekView(ctx context.Context, therapistID uuid.UUID, weekStart calendar.Date) (*calendar.WeekView, error) {
	monday := calendar.MondayOf(weekStart)
	sunday := monday.AddDays(6)

	slots, err := s.repo.ListSlots(ctx, therapistID, monday, sunday, "")
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	from := calendar.At(monday, 0)
	to := calendar.At(monday.AddDays(7), 0)
	appts, err := s.repo.ListAppointments(ctx, therapistID, from, to, false)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}

	reqs, err := s.repo.ListRequestsForWeek(ctx, therapistID, monday, sunday)
	if err != nil {
		return nil, fmt.Errorf("list scheduling requests: %w", err)
	}

	return &calendar.WeekView{
		WeekStart:          monday,
		WeekEnd:            sunday,
		Slots:              slots,
		Appointments:       appts,
		SchedulingRequests: reqs,
	}, nil
}

// CreateSlot declares one interval of availability. Duplicates and ranges
// overlapping an active appointment are rejected. The overlap check and the
// insert share one therapist lock with approvals and bookings.
func (s *Service) CreateSlot(ctx context.Context, therapistID uuid.UUID, date calendar.Date, start, end calendar.Clock) (slot *calendar.Slot, err error) {
	defer s.observe("create_slot", &err)

	if date.IsZero() {
		return nil, invalid("slot_date is required")
	}
	if !start.Aligned() || !end.Aligned() {
		return nil, invalid("slot times must fall on %d-minute boundaries", calendar.SlotMinutes)
	}
	if start >= end {
		return nil, invalid("start_time must be before end_time")
	}
	if calendar.IsPast(date, start, s.clock()) {
		return nil, fmt.Errorf("%w: %s %s", ErrPastTime, date, start.Short())
	}

	err = s.withTherapistLock(ctx, therapistID, func(ctx context.Context) error {
		overlapping, err := s.repo.FindOverlapping(ctx, therapistID, calendar.At(date, start), calendar.At(date, end), nil)
		if err != nil {
			return fmt.Errorf("check appointments: %w", err)
		}
		if len(overlapping) > 0 {
			return ErrTimeOccupied
		}

		slot, err = s.repo.InsertSlot(ctx, calendar.Slot{
			TherapistID: therapistID.String(),
			Date:        date,
			StartTime:   start,
			EndTime:     end,
			Status:      calendar.SlotAvailable,
		})
		if err != nil && !errors.Is(err, ErrSlotExists) {
			return fmt.Errorf("insert slot: %w", err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug("slot created",
		zap.String("therapist_id", therapistID.String()),
		zap.Stringer("date", date),
		zap.String("start", start.Short()),
	)
	return slot, nil
}

// DeleteSlot removes an available slot owned by the therapist.
func (s *Service) DeleteSlot(ctx context.Context, therapistID, slotID uuid.UUID) (err error) {
	defer s.observe("delete_slot", &err)

	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return err
		}
		return fmt.Errorf("load slot: %w", err)
	}
	if slot.TherapistID != therapistID.String() {
		return ErrSlotNotFound
	}
	if slot.Status == calendar.SlotBooked {
		return ErrSlotBooked
	}

	if err := s.repo.DeleteSlot(ctx, slotID); err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return err
		}
		return fmt.Errorf("delete slot: %w", err)
	}
	return nil
}

// AvailableSlots lists bookable slots for a client. The window defaults to
// today through four weeks from today; slots already in the past are skipped.
func (s *Service) AvailableSlots(ctx context.Context, clientID, therapistID uuid.UUID, from, to *calendar.Date) ([]calendar.Slot, error) {
	assigned, err := s.repo.IsClientAssigned(ctx, therapistID, clientID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if !assigned {
		return nil, ErrClientNotAssigned
	}

	start := s.today()
	if from != nil {
		start = *from
	}
	end := start.AddDays(availableWindowDays)
	if to != nil {
		end = *to
	}
	if end.Before(start) {
		return nil, invalid("end_date must not be before start_date")
	}

	slots, err := s.repo.ListSlots(ctx, therapistID, start, end, calendar.SlotAvailable)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	now := s.clock()
	out := slots[:0]
	for _, sl := range slots {
		if !calendar.IsPast(sl.Date, sl.StartTime, now) {
			out = append(out, sl)
		}
	}
	return out, nil
}
