package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/client"
)

var fixedNow = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

type fakeBackend struct {
	mu       sync.Mutex
	calls    []string
	week     *calendar.WeekView
	weekErr  error
	appts    []calendar.Appointment
	requests []calendar.SchedulingRequest
	err      error
	block    chan struct{}
}

func (f *fakeBackend) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeBackend) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeBackend) Week(ctx context.Context, monday calendar.Date) (*calendar.WeekView, error) {
	f.record("week " + monday.String())
	if f.block != nil {
		<-f.block
	}
	if f.weekErr != nil {
		return nil, f.weekErr
	}
	return f.week, nil
}

func (f *fakeBackend) CreateSlot(ctx context.Context, date calendar.Date, start, end calendar.Clock) (*calendar.Slot, error) {
	f.record("create " + date.String() + " " + start.Short())
	return &calendar.Slot{ID: "new", Date: date, StartTime: start, EndTime: end, Status: calendar.SlotAvailable}, f.err
}

func (f *fakeBackend) DeleteSlot(ctx context.Context, slotID string) error {
	f.record("delete " + slotID)
	return f.err
}

func (f *fakeBackend) Appointments(ctx context.Context, from, to calendar.Date) ([]calendar.Appointment, error) {
	f.record("appointments")
	return f.appts, f.err
}

func (f *fakeBackend) Appointment(ctx context.Context, id string) (*calendar.Appointment, error) {
	f.record("appointment " + id)
	return &calendar.Appointment{ID: id}, f.err
}

func (f *fakeBackend) CreateAppointment(ctx context.Context, in client.AppointmentInput) ([]calendar.Appointment, error) {
	f.record("create_appointment")
	return []calendar.Appointment{{ID: "a-new"}}, f.err
}

func (f *fakeBackend) RescheduleAppointment(ctx context.Context, id string, in client.AppointmentInput) ([]calendar.Appointment, error) {
	f.record("reschedule " + id)
	return []calendar.Appointment{{ID: id}}, f.err
}

func (f *fakeBackend) CancelAppointment(ctx context.Context, id, reason string) error {
	f.record("cancel_appointment " + id)
	return f.err
}

func (f *fakeBackend) CompleteAppointment(ctx context.Context, id string) error {
	f.record("complete " + id)
	return f.err
}

func (f *fakeBackend) PendingRequests(ctx context.Context) ([]calendar.SchedulingRequest, error) {
	f.record("pending")
	return f.requests, f.err
}

func (f *fakeBackend) SubmitRequest(ctx context.Context, in client.SubmitRequestInput) (*calendar.SchedulingRequest, error) {
	f.record("submit")
	return &calendar.SchedulingRequest{ID: "r-new", Status: calendar.RequestPending}, f.err
}

func (f *fakeBackend) RespondToRequest(ctx context.Context, id string, status calendar.RequestStatus, text string, alts []calendar.Alternative) (*calendar.SchedulingRequest, error) {
	f.record("respond " + id + " " + string(status))
	return &calendar.SchedulingRequest{ID: id, Status: status}, f.err
}

func (f *fakeBackend) CancelRequest(ctx context.Context, id string) error {
	f.record("cancel_request " + id)
	return f.err
}

func slot(id, date, start string, status calendar.SlotStatus) calendar.Slot {
	c := calendar.MustParseClock(start)
	return calendar.Slot{ID: id, Date: calendar.MustParseDate(date), StartTime: c, EndTime: c.SlotEnd(), Status: status}
}

func TestSlotStoreLoad(t *testing.T) {
	backend := &fakeBackend{week: &calendar.WeekView{Slots: []calendar.Slot{
		slot("s1", "2025-06-03", "10:00", calendar.SlotAvailable),
		slot("s2", "2025-06-09", "10:00", calendar.SlotAvailable),
	}}}
	s := NewSlotStore(backend, WithClock(clock))

	slots, err := s.Load(context.Background(), calendar.MustParseDate("2025-06-05"))
	require.NoError(t, err)
	require.Len(t, slots, 1, "slots outside the week are dropped")
	assert.Equal(t, []string{"week 2025-06-02"}, backend.Calls())

	week, snap, ok := s.Snapshot()
	assert.True(t, ok)
	assert.Equal(t, "2025-06-02", week.String())
	assert.Len(t, snap, 1)

	found, ok := s.At(calendar.MustParseDate("2025-06-03"), calendar.MustParseClock("10:00"))
	assert.True(t, ok)
	assert.Equal(t, "s1", found.ID)
}

func TestSlotStoreFailedLoad(t *testing.T) {
	backend := &fakeBackend{week: &calendar.WeekView{Slots: []calendar.Slot{
		slot("s1", "2025-06-03", "10:00", calendar.SlotAvailable),
	}}}
	s := NewSlotStore(backend, WithClock(clock))
	ctx := context.Background()

	_, err := s.Load(ctx, calendar.MustParseDate("2025-06-02"))
	require.NoError(t, err)

	backend.weekErr = calendar.ErrFetch
	_, err = s.Load(ctx, calendar.MustParseDate("2025-06-02"))
	require.ErrorIs(t, err, calendar.ErrFetch)
	_, snap, ok := s.Snapshot()
	assert.True(t, ok, "same week keeps the last settled data")
	assert.Len(t, snap, 1)

	_, err = s.Load(ctx, calendar.MustParseDate("2025-06-09"))
	require.ErrorIs(t, err, calendar.ErrFetch)
	week, _, ok := s.Snapshot()
	assert.False(t, ok, "a failed load of a new week means no data")
	assert.Equal(t, "2025-06-09", week.String())
}

func TestSlotStoreStaleLoad(t *testing.T) {
	backend := &fakeBackend{
		week:  &calendar.WeekView{Slots: []calendar.Slot{slot("old", "2025-06-03", "10:00", calendar.SlotAvailable)}},
		block: make(chan struct{}),
	}
	s := NewSlotStore(backend, WithClock(clock))

	errc := make(chan error, 1)
	go func() {
		_, err := s.Load(context.Background(), calendar.MustParseDate("2025-06-02"))
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(backend.Calls()) == 1 }, time.Second, time.Millisecond)

	s.Invalidate()
	close(backend.block)

	assert.ErrorIs(t, <-errc, ErrStale)
	_, _, ok := s.Snapshot()
	assert.False(t, ok)
}

func TestSlotStoreCreate(t *testing.T) {
	backend := &fakeBackend{}
	s := NewSlotStore(backend, WithClock(clock))
	ctx := context.Background()
	today := calendar.MustParseDate("2025-06-02")

	_, err := s.Create(ctx, today, calendar.MustParseClock("00:00"), calendar.MustParseClock("00:15"))
	assert.ErrorIs(t, err, calendar.ErrPastTime)
	_, err = s.Create(ctx, today, calendar.MustParseClock("15:00"), calendar.MustParseClock("15:30"))
	assert.ErrorIs(t, err, calendar.ErrValidation)
	_, err = s.Create(ctx, today, calendar.MustParseClock("15:05"), calendar.MustParseClock("15:20"))
	assert.ErrorIs(t, err, calendar.ErrValidation)
	assert.Empty(t, backend.Calls(), "invalid creates never reach the backend")

	created, err := s.Create(ctx, today, calendar.MustParseClock("14:00"), calendar.MustParseClock("14:15"))
	require.NoError(t, err)
	assert.Equal(t, "new", created.ID)
	_, snap, _ := s.Snapshot()
	assert.Empty(t, snap, "writes do not touch the snapshot")
}

func TestSlotStoreDeleteBooked(t *testing.T) {
	backend := &fakeBackend{week: &calendar.WeekView{Slots: []calendar.Slot{
		slot("b1", "2025-06-03", "10:00", calendar.SlotBooked),
		slot("a1", "2025-06-03", "10:15", calendar.SlotAvailable),
	}}}
	s := NewSlotStore(backend, WithClock(clock))
	ctx := context.Background()
	_, err := s.Load(ctx, calendar.MustParseDate("2025-06-02"))
	require.NoError(t, err)

	err = s.Delete(ctx, "b1")
	assert.ErrorIs(t, err, calendar.ErrInvalidState)
	require.NoError(t, s.Delete(ctx, "a1"))
	assert.Equal(t, []string{"week 2025-06-02", "delete a1"}, backend.Calls())
}

func TestAppointmentStoreValidation(t *testing.T) {
	backend := &fakeBackend{}
	s := NewAppointmentStore(backend)
	ctx := context.Background()
	start := calendar.MustParseDateTime("2025-06-03T09:00")
	until := calendar.MustParseDate("2025-07-01")

	tests := []struct {
		name string
		b    Booking
	}{
		{"zero duration", Booking{Start: start}},
		{"negative duration", Booking{Start: start, DurationMinutes: -30}},
		{"off-grid start", Booking{Start: calendar.MustParseDateTime("2025-06-03T09:05"), DurationMinutes: 30}},
		{"off-grid duration", Booking{Start: start, DurationMinutes: 40}},
		{"recurring without end", Booking{Start: start, DurationMinutes: 60, RecurringRule: calendar.RecurWeekly}},
		{"unknown rule", Booking{Start: start, DurationMinutes: 60, RecurringRule: "daily", RecurringEndDate: &until}},
		{"in person without address", Booking{Start: start, DurationMinutes: 60, Location: &calendar.Location{Type: calendar.LocationInPerson}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(ctx, "c1", tt.b)
			assert.ErrorIs(t, err, calendar.ErrValidation)
			_, err = s.Reschedule(ctx, "a1", tt.b)
			assert.ErrorIs(t, err, calendar.ErrValidation)
		})
	}

	assert.ErrorIs(t, s.Cancel(ctx, "a1", "   "), calendar.ErrValidation)
	assert.Empty(t, backend.Calls())

	appts, err := s.Create(ctx, "c1", Booking{Start: start, DurationMinutes: 60, RecurringRule: calendar.RecurWeekly, RecurringEndDate: &until})
	require.NoError(t, err)
	assert.Len(t, appts, 1)
}

func TestAppointmentStoreTransitions(t *testing.T) {
	backend := &fakeBackend{appts: []calendar.Appointment{
		{ID: "done", Status: calendar.AppointmentCompleted,
			Start: calendar.MustParseDateTime("2025-06-03T09:00"), End: calendar.MustParseDateTime("2025-06-03T10:00")},
		{ID: "gone", Status: calendar.AppointmentCancelled,
			Start: calendar.MustParseDateTime("2025-06-03T11:00"), End: calendar.MustParseDateTime("2025-06-03T12:00")},
		{ID: "live", Status: calendar.AppointmentScheduled,
			Start: calendar.MustParseDateTime("2025-06-04T11:00"), End: calendar.MustParseDateTime("2025-06-04T12:00")},
	}}
	s := NewAppointmentStore(backend)
	ctx := context.Background()

	_, err := s.Load(ctx, calendar.MustParseDate("2025-06-02"), calendar.MustParseDate("2025-06-08"))
	require.NoError(t, err)

	assert.ErrorIs(t, s.Cancel(ctx, "gone", "again"), calendar.ErrInvalidState)
	assert.ErrorIs(t, s.Complete(ctx, "done"), calendar.ErrInvalidState)
	require.NoError(t, s.Cancel(ctx, "live", "sick"))

	_, ok := s.Covering(calendar.MustParseDate("2025-06-03"), calendar.MustParseClock("11:15"))
	assert.False(t, ok, "cancelled appointments cover nothing")
	found, ok := s.Covering(calendar.MustParseDate("2025-06-04"), calendar.MustParseClock("11:45"))
	assert.True(t, ok)
	assert.Equal(t, "live", found.ID)
	_, ok = s.Covering(calendar.MustParseDate("2025-06-04"), calendar.MustParseClock("12:00"))
	assert.False(t, ok, "end is exclusive")
}

func TestRequestStore(t *testing.T) {
	backend := &fakeBackend{requests: []calendar.SchedulingRequest{
		{ID: "p1", Status: calendar.RequestPending},
		{ID: "ok1", Status: calendar.RequestApproved},
	}}
	s := NewRequestStore(backend, WithClock(clock))
	ctx := context.Background()

	_, err := s.LoadPending(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, s.Cancel(ctx, "ok1"), calendar.ErrInvalidState)
	_, err = s.Respond(ctx, "ok1", calendar.RequestDeclined, "", nil)
	assert.ErrorIs(t, err, calendar.ErrInvalidState)
	_, err = s.Respond(ctx, "p1", calendar.RequestCancelled, "", nil)
	assert.ErrorIs(t, err, calendar.ErrValidation)

	resolved, err := s.Respond(ctx, "p1", calendar.RequestApproved, " see you ", nil)
	require.NoError(t, err)
	assert.Equal(t, calendar.RequestApproved, resolved.Status)
	got, _ := s.Get("p1")
	assert.Equal(t, calendar.RequestPending, got.Status, "snapshot changes only on reload")

	require.NoError(t, s.Cancel(ctx, "unknown"))
	assert.Equal(t, []string{"pending", "respond p1 approved", "cancel_request unknown"}, backend.Calls())
}

func TestRequestStoreSubmit(t *testing.T) {
	backend := &fakeBackend{}
	s := NewRequestStore(backend, WithClock(clock))
	ctx := context.Background()
	tue := calendar.MustParseDate("2025-06-03")

	_, err := s.Submit(ctx, Submission{TherapistID: "t1", Date: calendar.MustParseDate("2025-06-01"),
		StartTime: calendar.MustParseClock("10:00"), EndTime: calendar.MustParseClock("10:30")})
	assert.ErrorIs(t, err, calendar.ErrPastTime)
	_, err = s.Submit(ctx, Submission{TherapistID: "t1", Date: tue,
		StartTime: calendar.MustParseClock("10:30"), EndTime: calendar.MustParseClock("10:00")})
	assert.ErrorIs(t, err, calendar.ErrValidation)
	_, err = s.Submit(ctx, Submission{Date: tue,
		StartTime: calendar.MustParseClock("10:00"), EndTime: calendar.MustParseClock("10:30")})
	assert.ErrorIs(t, err, calendar.ErrValidation)
	assert.Empty(t, backend.Calls())

	req, err := s.Submit(ctx, Submission{TherapistID: "t1", SlotID: "s1", Date: tue,
		StartTime: calendar.MustParseClock("10:00"), EndTime: calendar.MustParseClock("10:30")})
	require.NoError(t, err)
	assert.Equal(t, calendar.RequestPending, req.Status)
}

func TestBackendErrorsPassThrough(t *testing.T) {
	backend := &fakeBackend{err: errors.Join(calendar.ErrConflict, errors.New("slot_exists"))}
	s := NewSlotStore(backend, WithClock(clock))

	_, err := s.Create(context.Background(), calendar.MustParseDate("2025-06-03"),
		calendar.MustParseClock("09:00"), calendar.MustParseClock("09:15"))
	assert.ErrorIs(t, err, calendar.ErrConflict)
}
