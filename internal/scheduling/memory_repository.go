package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dan22333/theravillage/internal/calendar"
)

type memState struct {
	users         map[uuid.UUID]User
	assignments   map[[2]uuid.UUID]bool
	slots         map[uuid.UUID]calendar.Slot
	appointments  map[uuid.UUID]calendar.Appointment
	requests      map[uuid.UUID]calendar.SchedulingRequest
	notifications []calendar.Notification
}

func newMemState() *memState {
	return &memState{
		users:        make(map[uuid.UUID]User),
		assignments:  make(map[[2]uuid.UUID]bool),
		slots:        make(map[uuid.UUID]calendar.Slot),
		appointments: make(map[uuid.UUID]calendar.Appointment),
		requests:     make(map[uuid.UUID]calendar.SchedulingRequest),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.assignments {
		c.assignments[k] = v
	}
	for k, v := range s.slots {
		c.slots[k] = v
	}
	for k, v := range s.appointments {
		c.appointments[k] = v
	}
	for k, v := range s.requests {
		c.requests[k] = v
	}
	c.notifications = append([]calendar.Notification(nil), s.notifications...)
	return c
}

// MemoryRepository keeps everything in process. Writes and transactions
// are serialised; reads only wait for the data lock.
type MemoryRepository struct {
	writeMu sync.Mutex
	mu      sync.RWMutex
	state   *memState
	now     func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{state: newMemState(), now: time.Now}
}

// AddUser registers a therapist or client. Used by seeding and tests.
func (r *MemoryRepository) AddUser(u User) {
	r.write(func(s *memState) error {
		if u.CreatedAt.IsZero() {
			u.CreatedAt = r.now()
		}
		s.users[u.ID] = u
		return nil
	})
}

// Assign links a client to a therapist.
func (r *MemoryRepository) Assign(therapistID, clientID uuid.UUID) {
	r.write(func(s *memState) error {
		s.assignments[[2]uuid.UUID{therapistID, clientID}] = true
		return nil
	})
}

func (r *MemoryRepository) read(fn func(s *memState)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.state)
}

func (r *MemoryRepository) write(fn func(s *memState) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(r.state)
}

func (r *MemoryRepository) InTx(ctx context.Context, fn func(ctx context.Context, tx Repository) error) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.RLock()
	child := &MemoryRepository{state: r.state.clone(), now: r.now}
	r.mu.RUnlock()

	if err := fn(ctx, child); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = child.state
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var (
		u  User
		ok bool
	)
	r.read(func(s *memState) { u, ok = s.users[id] })
	if !ok {
		return nil, ErrUserNotFound
	}
	return &u, nil
}

func (r *MemoryRepository) GetUserByFirebaseUID(ctx context.Context, uid string) (*User, error) {
	var found *User
	r.read(func(s *memState) {
		for _, u := range s.users {
			if u.FirebaseUID != "" && u.FirebaseUID == uid {
				u := u
				found = &u
				return
			}
		}
	})
	if found == nil {
		return nil, ErrUserNotFound
	}
	return found, nil
}

func (r *MemoryRepository) IsClientAssigned(ctx context.Context, therapistID, clientID uuid.UUID) (bool, error) {
	var ok bool
	r.read(func(s *memState) { ok = s.assignments[[2]uuid.UUID{therapistID, clientID}] })
	return ok, nil
}

func slotStart(sl calendar.Slot) calendar.DateTime {
	return calendar.At(sl.Date, sl.StartTime)
}

func sortSlots(slots []calendar.Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slotStart(slots[i]).Before(slotStart(slots[j]))
	})
}

func (r *MemoryRepository) ListSlots(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date, status calendar.SlotStatus) ([]calendar.Slot, error) {
	out := []calendar.Slot{}
	r.read(func(s *memState) {
		for _, sl := range s.slots {
			if sl.TherapistID != therapistID.String() || sl.Date.Before(from) || sl.Date.After(to) {
				continue
			}
			if status != "" && sl.Status != status {
				continue
			}
			out = append(out, sl)
		}
	})
	sortSlots(out)
	return out, nil
}

func (r *MemoryRepository) ListSlotsInRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) ([]calendar.Slot, error) {
	out := []calendar.Slot{}
	r.read(func(s *memState) {
		for _, sl := range s.slots {
			at := slotStart(sl)
			if sl.TherapistID == therapistID.String() && !at.Before(start) && at.Before(end) {
				out = append(out, sl)
			}
		}
	})
	sortSlots(out)
	return out, nil
}

func (r *MemoryRepository) GetSlot(ctx context.Context, id uuid.UUID) (*calendar.Slot, error) {
	var (
		sl calendar.Slot
		ok bool
	)
	r.read(func(s *memState) { sl, ok = s.slots[id] })
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &sl, nil
}

func findSlotAt(s *memState, therapistID string, d calendar.Date, c calendar.Clock) (uuid.UUID, bool) {
	for id, sl := range s.slots {
		if sl.TherapistID == therapistID && sl.Date == d && sl.StartTime == c {
			return id, true
		}
	}
	return uuid.Nil, false
}

func (r *MemoryRepository) InsertSlot(ctx context.Context, slot calendar.Slot) (*calendar.Slot, error) {
	err := r.write(func(s *memState) error {
		if _, exists := findSlotAt(s, slot.TherapistID, slot.Date, slot.StartTime); exists {
			return ErrSlotExists
		}
		id := uuid.New()
		slot.ID = id.String()
		s.slots[id] = slot
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &slot, nil
}

func (r *MemoryRepository) DeleteSlot(ctx context.Context, id uuid.UUID) error {
	return r.write(func(s *memState) error {
		if _, ok := s.slots[id]; !ok {
			return ErrSlotNotFound
		}
		delete(s.slots, id)
		return nil
	})
}

func (r *MemoryRepository) BookRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) error {
	return r.write(func(s *memState) error {
		tid := therapistID.String()
		for at := start; at.Before(end); at = at.AddMinutes(calendar.SlotMinutes) {
			if id, ok := findSlotAt(s, tid, at.Date, at.Time); ok {
				sl := s.slots[id]
				sl.Status = calendar.SlotBooked
				s.slots[id] = sl
				continue
			}
			id := uuid.New()
			s.slots[id] = calendar.Slot{
				ID:          id.String(),
				TherapistID: tid,
				Date:        at.Date,
				StartTime:   at.Time,
				EndTime:     at.Time.SlotEnd(),
				Status:      calendar.SlotBooked,
			}
		}
		return nil
	})
}

func (r *MemoryRepository) ReleaseRange(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime) (int64, error) {
	var n int64
	err := r.write(func(s *memState) error {
		for id, sl := range s.slots {
			at := slotStart(sl)
			if sl.TherapistID != therapistID.String() || sl.Status != calendar.SlotBooked {
				continue
			}
			if !at.Before(start) && at.Before(end) {
				sl.Status = calendar.SlotAvailable
				s.slots[id] = sl
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *MemoryRepository) ReleaseStuckSlots(ctx context.Context, since calendar.Date) (int64, error) {
	var n int64
	err := r.write(func(s *memState) error {
		for id, sl := range s.slots {
			if sl.Status != calendar.SlotBooked || sl.Date.Before(since) {
				continue
			}
			covered := false
			for _, a := range s.appointments {
				if a.TherapistID == sl.TherapistID && a.Active() && a.Covers(sl.Date, sl.StartTime) {
					covered = true
					break
				}
			}
			if !covered {
				sl.Status = calendar.SlotAvailable
				s.slots[id] = sl
				n++
			}
		}
		return nil
	})
	return n, err
}

func (r *MemoryRepository) withClientName(s *memState, a calendar.Appointment) calendar.Appointment {
	if id, err := uuid.Parse(a.ClientID); err == nil {
		if u, ok := s.users[id]; ok {
			a.ClientName = u.Name
		}
	}
	return a
}

func sortAppointments(appts []calendar.Appointment) {
	sort.Slice(appts, func(i, j int) bool { return appts[i].Start.Before(appts[j].Start) })
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, therapistID uuid.UUID, from, to calendar.DateTime, includeCancelled bool) ([]calendar.Appointment, error) {
	out := []calendar.Appointment{}
	r.read(func(s *memState) {
		for _, a := range s.appointments {
			if a.TherapistID != therapistID.String() || !a.Overlaps(from, to) {
				continue
			}
			if !includeCancelled && !a.Active() {
				continue
			}
			out = append(out, r.withClientName(s, a))
		}
	})
	sortAppointments(out)
	return out, nil
}

func (r *MemoryRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*calendar.Appointment, error) {
	var (
		a  calendar.Appointment
		ok bool
	)
	r.read(func(s *memState) {
		a, ok = s.appointments[id]
		a = r.withClientName(s, a)
	})
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *MemoryRepository) FindOverlapping(ctx context.Context, therapistID uuid.UUID, start, end calendar.DateTime, exclude *uuid.UUID) ([]calendar.Appointment, error) {
	var out []calendar.Appointment
	r.read(func(s *memState) {
		for id, a := range s.appointments {
			if exclude != nil && id == *exclude {
				continue
			}
			if a.TherapistID == therapistID.String() && a.Active() && a.Overlaps(start, end) {
				out = append(out, a)
			}
		}
	})
	sortAppointments(out)
	return out, nil
}

func (r *MemoryRepository) InsertAppointment(ctx context.Context, appt calendar.Appointment) (*calendar.Appointment, error) {
	err := r.write(func(s *memState) error {
		id := uuid.New()
		appt.ID = id.String()
		s.appointments[id] = appt
		appt = r.withClientName(s, appt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &appt, nil
}

func (r *MemoryRepository) UpdateAppointmentTimes(ctx context.Context, id uuid.UUID, start, end calendar.DateTime, loc *calendar.Location, rule calendar.RecurringRule) (*calendar.Appointment, error) {
	var out calendar.Appointment
	err := r.write(func(s *memState) error {
		a, ok := s.appointments[id]
		if !ok {
			return ErrAppointmentNotFound
		}
		a.Start, a.End = start, end
		if loc != nil {
			a.Location = loc
		}
		if rule != "" {
			a.RecurringRule = rule
		}
		s.appointments[id] = a
		out = r.withClientName(s, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to calendar.AppointmentStatus, reason string) (*calendar.Appointment, error) {
	var out calendar.Appointment
	err := r.write(func(s *memState) error {
		a, ok := s.appointments[id]
		if !ok || a.Status != from {
			return ErrAppointmentNotFound
		}
		a.Status = to
		if reason != "" {
			a.CancellationReason = reason
		}
		s.appointments[id] = a
		out = r.withClientName(s, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MemoryRepository) withNames(s *memState, req calendar.SchedulingRequest) calendar.SchedulingRequest {
	if id, err := uuid.Parse(req.ClientID); err == nil {
		req.ClientName = s.users[id].Name
	}
	if id, err := uuid.Parse(req.TherapistID); err == nil {
		req.TherapistName = s.users[id].Name
	}
	return req
}

func newestFirst(reqs []calendar.SchedulingRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		a, b := reqs[i].CreatedAt, reqs[j].CreatedAt
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		return a.After(*b)
	})
}

func (r *MemoryRepository) InsertRequest(ctx context.Context, req calendar.SchedulingRequest) (*calendar.SchedulingRequest, error) {
	err := r.write(func(s *memState) error {
		id := uuid.New()
		req.ID = id.String()
		if req.CreatedAt == nil {
			now := r.now()
			req.CreatedAt = &now
		}
		s.requests[id] = req
		req = r.withNames(s, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *MemoryRepository) GetRequest(ctx context.Context, id uuid.UUID) (*calendar.SchedulingRequest, error) {
	var (
		req calendar.SchedulingRequest
		ok  bool
	)
	r.read(func(s *memState) {
		req, ok = s.requests[id]
		req = r.withNames(s, req)
	})
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &req, nil
}

func (r *MemoryRepository) ListPendingForTherapist(ctx context.Context, therapistID uuid.UUID) ([]calendar.SchedulingRequest, error) {
	out := []calendar.SchedulingRequest{}
	r.read(func(s *memState) {
		for _, req := range s.requests {
			if req.TherapistID == therapistID.String() && req.Status == calendar.RequestPending {
				out = append(out, r.withNames(s, req))
			}
		}
	})
	newestFirst(out)
	return out, nil
}

func (r *MemoryRepository) ListRecentForClient(ctx context.Context, clientID uuid.UUID, since time.Time, limit int) ([]calendar.SchedulingRequest, error) {
	out := []calendar.SchedulingRequest{}
	r.read(func(s *memState) {
		for _, req := range s.requests {
			if req.ClientID != clientID.String() {
				continue
			}
			if req.CreatedAt != nil && req.CreatedAt.Before(since) {
				continue
			}
			out = append(out, r.withNames(s, req))
		}
	})
	newestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepository) ListRequestsForWeek(ctx context.Context, therapistID uuid.UUID, from, to calendar.Date) ([]calendar.SchedulingRequest, error) {
	out := []calendar.SchedulingRequest{}
	r.read(func(s *memState) {
		for _, req := range s.requests {
			if req.TherapistID != therapistID.String() || req.RequestedDate.Before(from) || req.RequestedDate.After(to) {
				continue
			}
			out = append(out, r.withNames(s, req))
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return calendar.At(out[i].RequestedDate, out[i].RequestedStartTime).Before(calendar.At(out[j].RequestedDate, out[j].RequestedStartTime))
	})
	return out, nil
}

func (r *MemoryRepository) ResolveRequest(ctx context.Context, id uuid.UUID, res Resolution) (*calendar.SchedulingRequest, error) {
	var out calendar.SchedulingRequest
	err := r.write(func(s *memState) error {
		req, ok := s.requests[id]
		if !ok {
			return ErrRequestNotFound
		}
		if req.Status != calendar.RequestPending {
			return ErrRequestNotPending
		}
		req.Status = res.Status
		req.TherapistResponse = res.TherapistResponse
		req.SuggestedAlternatives = res.Alternatives
		req.CancelledBy = res.CancelledBy
		req.CancellationReason = res.CancellationReason
		at := res.RespondedAt
		req.RespondedAt = &at
		s.requests[id] = req
		out = r.withNames(s, req)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *MemoryRepository) InsertNotification(ctx context.Context, n calendar.Notification) error {
	return r.write(func(s *memState) error {
		n.ID = uuid.NewString()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = r.now()
		}
		s.notifications = append(s.notifications, n)
		return nil
	})
}

func (r *MemoryRepository) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]calendar.Notification, error) {
	out := []calendar.Notification{}
	r.read(func(s *memState) {
		for i := len(s.notifications) - 1; i >= 0; i-- {
			if s.notifications[i].UserID == userID.String() {
				out = append(out, s.notifications[i])
			}
			if limit > 0 && len(out) == limit {
				return
			}
		}
	})
	return out, nil
}

func (r *MemoryRepository) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	return r.write(func(s *memState) error {
		for i := range s.notifications {
			n := &s.notifications[i]
			if n.ID == id.String() && n.UserID == userID.String() {
				n.IsRead = true
				return nil
			}
		}
		return ErrNotificationNotFound
	})
}
