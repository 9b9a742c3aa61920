package scheduling

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dan22333/theravillage/internal/calendar"
)

// SubmitRequest creates a pending request for a range of available slots.
// The slots themselves are left untouched until a therapist approves.
func (s *Service) SubmitRequest(ctx context.Context, clientID uuid.UUID, in SubmitRequest) (req *calendar.SchedulingRequest, err error) {
	defer s.observe("submit_request", &err)

	if in.Date.IsZero() {
		return nil, invalid("requested_date is required")
	}
	if in.StartTime >= in.EndTime {
		return nil, invalid("requested_start_time must be before requested_end_time")
	}
	if !in.StartTime.Aligned() || !in.EndTime.Aligned() {
		return nil, invalid("requested times must fall on %d-minute boundaries", calendar.SlotMinutes)
	}
	if calendar.IsPast(in.Date, in.StartTime, s.clock()) {
		return nil, fmt.Errorf("%w: %s %s", ErrPastTime, in.Date, in.StartTime.Short())
	}

	assigned, err := s.repo.IsClientAssigned(ctx, in.TherapistID, clientID)
	if err != nil {
		return nil, fmt.Errorf("check assignment: %w", err)
	}
	if !assigned {
		return nil, ErrClientNotAssigned
	}

	start := calendar.At(in.Date, in.StartTime)
	end := calendar.At(in.Date, in.EndTime)
	slots, err := s.repo.ListSlotsInRange(ctx, in.TherapistID, start, end)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	if len(slots) != start.MinutesUntil(end)/calendar.SlotMinutes {
		return nil, ErrSlotUnavailable
	}
	referenced := in.SlotID == nil
	for _, sl := range slots {
		if sl.Status != calendar.SlotAvailable {
			return nil, ErrSlotUnavailable
		}
		if in.SlotID != nil && sl.ID == in.SlotID.String() {
			referenced = true
		}
	}
	if !referenced {
		return nil, ErrSlotUnavailable
	}

	record := calendar.SchedulingRequest{
		ClientID:           clientID.String(),
		TherapistID:        in.TherapistID.String(),
		RequestedDate:      in.Date,
		RequestedStartTime: in.StartTime,
		RequestedEndTime:   in.EndTime,
		Status:             calendar.RequestPending,
		ClientMessage:      in.Message,
	}
	if in.SlotID != nil {
		record.RequestedSlotID = in.SlotID.String()
	}
	created := s.clock()
	record.CreatedAt = &created

	req, err = s.repo.InsertRequest(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("insert scheduling request: %w", err)
	}

	s.notify(ctx, calendar.Notification{
		UserID:           req.TherapistID,
		Type:             NotifySchedulingRequest,
		Title:            "New scheduling request",
		Message:          fmt.Sprintf("%s requested %s %s-%s", displayName(req.ClientName, "A client"), req.RequestedDate, req.RequestedStartTime.Short(), req.RequestedEndTime.Short()),
		RelatedRequestID: req.ID,
	})
	return req, nil
}

// PendingForTherapist lists a therapist's pending requests, newest first.
func (s *Service) PendingForTherapist(ctx context.Context, therapistID uuid.UUID) ([]calendar.SchedulingRequest, error) {
	reqs, err := s.repo.ListPendingForTherapist(ctx, therapistID)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	return reqs, nil
}

// RecentForClient lists a client's own requests of the last 30 days.
func (s *Service) RecentForClient(ctx context.Context, clientID uuid.UUID) ([]calendar.SchedulingRequest, error) {
	since := s.clock().Add(-clientRequestWindow)
	reqs, err := s.repo.ListRecentForClient(ctx, clientID, since, clientRequestLimit)
	if err != nil {
		return nil, fmt.Errorf("list client requests: %w", err)
	}
	return reqs, nil
}

func (s *Service) ownedRequest(ctx context.Context, id uuid.UUID, owner func(*calendar.SchedulingRequest) bool) (*calendar.SchedulingRequest, error) {
	req, err := s.repo.GetRequest(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load scheduling request: %w", err)
	}
	if !owner(req) {
		return nil, ErrRequestNotFound
	}
	if req.Status.Terminal() {
		return nil, ErrRequestNotPending
	}
	return req, nil
}

// RespondToRequest applies a therapist decision. Approval books the
// requested range and creates the appointment in one transaction.
func (s *Service) RespondToRequest(ctx context.Context, therapistID, requestID uuid.UUID, in Response) (req *calendar.SchedulingRequest, err error) {
	defer s.observe("respond_request", &err)

	switch in.Status {
	case calendar.RequestApproved, calendar.RequestDeclined, calendar.RequestCounterProposed:
	default:
		return nil, invalid("status must be approved, declined or counter_proposed")
	}

	current, err := s.ownedRequest(ctx, requestID, func(r *calendar.SchedulingRequest) bool {
		return r.TherapistID == therapistID.String()
	})
	if err != nil {
		return nil, err
	}

	res := Resolution{
		Status:            in.Status,
		TherapistResponse: in.Text,
		Alternatives:      in.Alternatives,
		RespondedAt:       s.clock(),
	}

	if in.Status == calendar.RequestApproved {
		req, err = s.approve(ctx, therapistID, current, res)
	} else {
		if in.Status == calendar.RequestDeclined {
			res.CancelledBy = cancelledByTherapist
			res.CancellationReason = in.Text
		}
		req, err = s.repo.ResolveRequest(ctx, requestID, res)
	}
	if err != nil {
		if errors.Is(err, ErrRequestNotPending) || errors.Is(err, ErrTimeOccupied) || errors.Is(err, ErrSlotBeingBooked) {
			return nil, err
		}
		return nil, fmt.Errorf("resolve scheduling request: %w", err)
	}

	n := calendar.Notification{
		UserID:           req.ClientID,
		RelatedRequestID: req.ID,
	}
	when := fmt.Sprintf("%s %s", req.RequestedDate, req.RequestedStartTime.Short())
	switch req.Status {
	case calendar.RequestApproved:
		n.Type, n.Title = NotifyRequestApproved, "Request approved"
		n.Message = fmt.Sprintf("Your session on %s is confirmed", when)
	case calendar.RequestDeclined:
		n.Type, n.Title = NotifyRequestDeclined, "Request declined"
		n.Message = fmt.Sprintf("Your request for %s was declined", when)
	default:
		n.Type, n.Title = NotifyRequestCountered, "New times suggested"
		n.Message = fmt.Sprintf("Your therapist suggested %d alternative time(s) for %s", len(req.SuggestedAlternatives), when)
	}
	s.notify(ctx, n)

	s.logger.Info("scheduling request resolved",
		zap.String("request_id", req.ID),
		zap.String("status", string(req.Status)),
	)
	return req, nil
}

func (s *Service) approve(ctx context.Context, therapistID uuid.UUID, req *calendar.SchedulingRequest, res Resolution) (*calendar.SchedulingRequest, error) {
	start := calendar.At(req.RequestedDate, req.RequestedStartTime)
	end := calendar.At(req.RequestedDate, req.RequestedEndTime)
	requestID := uuid.MustParse(req.ID)

	var resolved *calendar.SchedulingRequest
	err := s.withTherapistLock(ctx, therapistID, func(lockCtx context.Context) error {
		return s.repo.InTx(lockCtx, func(ctx context.Context, tx Repository) error {
			overlapping, err := tx.FindOverlapping(ctx, therapistID, start, end, nil)
			if err != nil {
				return fmt.Errorf("check appointments: %w", err)
			}
			if len(overlapping) > 0 {
				return ErrTimeOccupied
			}

			if _, err := tx.InsertAppointment(ctx, calendar.Appointment{
				TherapistID:         req.TherapistID,
				ClientID:            req.ClientID,
				SchedulingRequestID: req.ID,
				Start:               start,
				End:                 end,
				Status:              calendar.AppointmentScheduled,
				RecurringRule:       calendar.RecurNone,
			}); err != nil {
				return fmt.Errorf("insert appointment: %w", err)
			}

			if err := tx.BookRange(ctx, therapistID, start, end); err != nil {
				return fmt.Errorf("book slots: %w", err)
			}

			resolved, err = tx.ResolveRequest(ctx, requestID, res)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return resolved, nil
}

// CancelRequest withdraws a pending request on behalf of either party.
func (s *Service) CancelRequest(ctx context.Context, actorID uuid.UUID, role Role, requestID uuid.UUID) (req *calendar.SchedulingRequest, err error) {
	defer s.observe("cancel_request", &err)

	_, err = s.ownedRequest(ctx, requestID, func(r *calendar.SchedulingRequest) bool {
		if role == RoleTherapist {
			return r.TherapistID == actorID.String()
		}
		return r.ClientID == actorID.String()
	})
	if err != nil {
		return nil, err
	}

	res := Resolution{
		Status:      calendar.RequestCancelled,
		RespondedAt: s.clock(),
	}
	if role == RoleTherapist {
		res.CancelledBy = cancelledByTherapist
	} else {
		res.CancelledBy = cancelledByClient
		res.TherapistResponse = "Cancelled by client"
	}

	req, err = s.repo.ResolveRequest(ctx, requestID, res)
	if err != nil {
		if errors.Is(err, ErrRequestNotPending) || errors.Is(err, ErrRequestNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("cancel scheduling request: %w", err)
	}

	recipient := req.TherapistID
	if role == RoleTherapist {
		recipient = req.ClientID
	}
	s.notify(ctx, calendar.Notification{
		UserID:           recipient,
		Type:             NotifyRequestCancelled,
		Title:            "Request cancelled",
		Message:          fmt.Sprintf("The request for %s %s was cancelled", req.RequestedDate, req.RequestedStartTime.Short()),
		RelatedRequestID: req.ID,
	})
	return req, nil
}

func displayName(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}
