package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/client"
)

type RequestBackend interface {
	PendingRequests(ctx context.Context) ([]calendar.SchedulingRequest, error)
	SubmitRequest(ctx context.Context, in client.SubmitRequestInput) (*calendar.SchedulingRequest, error)
	RespondToRequest(ctx context.Context, requestID string, status calendar.RequestStatus, text string, alternatives []calendar.Alternative) (*calendar.SchedulingRequest, error)
	CancelRequest(ctx context.Context, requestID string) error
}

// Submission is a client's request for a range on a therapist's calendar.
type Submission struct {
	TherapistID string
	SlotID      string
	Date        calendar.Date
	StartTime   calendar.Clock
	EndTime     calendar.Clock
	Message     string
}

// RequestStore holds the scheduling requests visible to the caller:
// a therapist's pending queue or a client's recent requests.
type RequestStore struct {
	backend RequestBackend
	now     func() time.Time
	win     window[struct{}, calendar.SchedulingRequest]
}

func NewRequestStore(backend RequestBackend, opts ...Option) *RequestStore {
	o := buildOptions(opts)
	return &RequestStore{backend: backend, now: o.now}
}

func (s *RequestStore) LoadPending(ctx context.Context) ([]calendar.SchedulingRequest, error) {
	gen := s.win.begin()
	reqs, err := s.backend.PendingRequests(ctx)
	if err := s.win.settle(gen, struct{}{}, reqs, err); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *RequestStore) Snapshot() ([]calendar.SchedulingRequest, bool) {
	_, reqs, ok := s.win.snapshot()
	return reqs, ok
}

// Get returns a request from the snapshot.
func (s *RequestStore) Get(id string) (calendar.SchedulingRequest, bool) {
	return s.win.find(func(r calendar.SchedulingRequest) bool { return r.ID == id })
}

// Submit creates a pending request. The referenced slot is not touched
// locally; it reflects the request only after the next slot load.
func (s *RequestStore) Submit(ctx context.Context, in Submission) (*calendar.SchedulingRequest, error) {
	if strings.TrimSpace(in.TherapistID) == "" {
		return nil, fmt.Errorf("%w: therapist is required", calendar.ErrValidation)
	}
	if !in.StartTime.Aligned() || !in.EndTime.Aligned() {
		return nil, fmt.Errorf("%w: requested times must sit on 15-minute boundaries", calendar.ErrValidation)
	}
	if in.EndTime <= in.StartTime {
		return nil, fmt.Errorf("%w: requested end must be after start", calendar.ErrValidation)
	}
	if err := calendar.CheckNotPast(in.Date, in.StartTime, s.now()); err != nil {
		return nil, err
	}
	return s.backend.SubmitRequest(ctx, client.SubmitRequestInput{
		TherapistID: in.TherapistID,
		SlotID:      in.SlotID,
		Date:        in.Date,
		StartTime:   in.StartTime,
		EndTime:     in.EndTime,
		Message:     strings.TrimSpace(in.Message),
	})
}

// Respond resolves a pending request. Approval books the appointment on
// the backend; callers reload slots and appointments afterwards.
func (s *RequestStore) Respond(ctx context.Context, id string, decision calendar.RequestStatus, text string, alternatives []calendar.Alternative) (*calendar.SchedulingRequest, error) {
	switch decision {
	case calendar.RequestApproved, calendar.RequestDeclined, calendar.RequestCounterProposed:
	default:
		return nil, fmt.Errorf("%w: unsupported decision %q", calendar.ErrValidation, decision)
	}
	if err := s.checkPending(id); err != nil {
		return nil, err
	}
	return s.backend.RespondToRequest(ctx, id, decision, strings.TrimSpace(text), alternatives)
}

// Cancel withdraws a request. Only pending requests are cancellable; a
// request the snapshot shows in another status is rejected locally.
func (s *RequestStore) Cancel(ctx context.Context, id string) error {
	if err := s.checkPending(id); err != nil {
		return err
	}
	return s.backend.CancelRequest(ctx, id)
}

func (s *RequestStore) checkPending(id string) error {
	known, ok := s.Get(id)
	if ok && known.Status != calendar.RequestPending {
		return fmt.Errorf("%w: request %s is %s", calendar.ErrInvalidState, id, known.Status)
	}
	return nil
}
