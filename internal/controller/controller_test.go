package controller

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/client"
	"github.com/dan22333/theravillage/internal/metrics"
	"github.com/dan22333/theravillage/internal/store"
)

var (
	monday   = calendar.MustParseDate("2025-06-02")
	tuesday  = calendar.MustParseDate("2025-06-03")
	sundayAM = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
)

func at(d calendar.Date, hhmm string) CellRef {
	return CellRef{Date: d, Time: calendar.MustParseClock(hhmm)}
}

// fakeBackend keeps server state in memory and records every call.
type fakeBackend struct {
	mu        sync.Mutex
	calls     []string
	slots     map[CellRef]calendar.Slot
	appts     []calendar.Appointment
	requests  []calendar.SchedulingRequest
	nextID    int
	failCells map[CellRef]error
	weekErr   error
	weekGate  map[string]chan struct{}

	// createGate, when set, holds every CreateSlot until it is closed.
	createGate chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		slots:     make(map[CellRef]calendar.Slot),
		failCells: make(map[CellRef]error),
		weekGate:  make(map[string]chan struct{}),
	}
}

func (f *fakeBackend) record(format string, args ...any) {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
}

func (f *fakeBackend) Calls(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

func (f *fakeBackend) addSlot(ref CellRef, status calendar.SlotStatus) calendar.Slot {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s := calendar.Slot{ID: fmt.Sprintf("s%d", f.nextID), Date: ref.Date, StartTime: ref.Time, EndTime: ref.Time.SlotEnd(), Status: status}
	f.slots[ref] = s
	return s
}

func (f *fakeBackend) addAppointment(id, clientName, start, end string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appts = append(f.appts, calendar.Appointment{
		ID: id, ClientID: "c1", ClientName: clientName, Status: calendar.AppointmentScheduled,
		Start: calendar.MustParseDateTime(start), End: calendar.MustParseDateTime(end),
	})
}

func (f *fakeBackend) Week(ctx context.Context, m calendar.Date) (*calendar.WeekView, error) {
	f.mu.Lock()
	f.record("week %s", m)
	gate := f.weekGate[m.String()]
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.weekErr != nil {
		return nil, f.weekErr
	}
	view := &calendar.WeekView{WeekStart: m, WeekEnd: m.AddDays(6)}
	for _, s := range f.slots {
		view.Slots = append(view.Slots, s)
	}
	return view, nil
}

func (f *fakeBackend) CreateSlot(ctx context.Context, d calendar.Date, start, end calendar.Clock) (*calendar.Slot, error) {
	f.mu.Lock()
	f.record("create %s %s-%s", d, start.Short(), end.Short())
	gate := f.createGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	ref := CellRef{Date: d, Time: start}
	if err := f.failCells[ref]; err != nil {
		return nil, err
	}
	f.nextID++
	s := calendar.Slot{ID: fmt.Sprintf("s%d", f.nextID), Date: d, StartTime: start, EndTime: end, Status: calendar.SlotAvailable}
	f.slots[ref] = s
	return &s, nil
}

func (f *fakeBackend) DeleteSlot(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete %s", id)
	for ref, s := range f.slots {
		if s.ID == id {
			delete(f.slots, ref)
			return nil
		}
	}
	return &client.APIError{Status: 404, Code: "not_found"}
}

func (f *fakeBackend) Appointments(ctx context.Context, from, to calendar.Date) ([]calendar.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("appointments %s %s", from, to)
	return append([]calendar.Appointment(nil), f.appts...), nil
}

func (f *fakeBackend) Appointment(ctx context.Context, id string) (*calendar.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("appointment %s", id)
	for _, a := range f.appts {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, &client.APIError{Status: 404, Code: "not_found"}
}

func (f *fakeBackend) CreateAppointment(ctx context.Context, in client.AppointmentInput) ([]calendar.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create_appointment")
	a := calendar.Appointment{ID: "new", ClientID: in.ClientID, Start: in.Start, End: in.Start.AddMinutes(in.DurationMinutes), Status: calendar.AppointmentScheduled}
	f.appts = append(f.appts, a)
	return []calendar.Appointment{a}, nil
}

func (f *fakeBackend) RescheduleAppointment(ctx context.Context, id string, in client.AppointmentInput) ([]calendar.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("reschedule %s", id)
	return nil, nil
}

func (f *fakeBackend) CancelAppointment(ctx context.Context, id, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel_appointment %s", id)
	for i := range f.appts {
		if f.appts[i].ID == id {
			f.appts[i].Status = calendar.AppointmentCancelled
		}
	}
	return nil
}

func (f *fakeBackend) CompleteAppointment(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("complete %s", id)
	return nil
}

func (f *fakeBackend) PendingRequests(ctx context.Context) ([]calendar.SchedulingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("pending")
	return append([]calendar.SchedulingRequest(nil), f.requests...), nil
}

func (f *fakeBackend) SubmitRequest(ctx context.Context, in client.SubmitRequestInput) (*calendar.SchedulingRequest, error) {
	return nil, fmt.Errorf("%w: not used", calendar.ErrFetch)
}

func (f *fakeBackend) RespondToRequest(ctx context.Context, id string, status calendar.RequestStatus, text string, alts []calendar.Alternative) (*calendar.SchedulingRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("respond %s %s", id, status)
	for i := range f.requests {
		if f.requests[i].ID == id {
			f.requests[i].Status = status
			return &f.requests[i], nil
		}
	}
	return nil, &client.APIError{Status: 404, Code: "not_found"}
}

func (f *fakeBackend) CancelRequest(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cancel_request %s", id)
	return nil
}

type noticeLog struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *noticeLog) Notify(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *noticeLog) All() []Notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Notice(nil), n.notices...)
}

func newController(t *testing.T, backend *fakeBackend, now time.Time) (*Controller, *noticeLog) {
	t.Helper()
	notices := &noticeLog{}
	c, err := New(backend, Config{
		Now:      func() time.Time { return now },
		Notifier: notices,
		Metrics:  metrics.NewCalendarMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, notices
}

func kindAt(t *testing.T, c *Controller, ref CellRef) CellKind {
	t.Helper()
	cell, ok := c.Grid().Cell(ref)
	require.True(t, ok, "cell %s not on grid", ref)
	return cell.Kind
}

func drag(c *Controller, cells ...CellRef) Intent {
	if in := c.PointerDown(cells[0]); in.Kind != IntentNone {
		return in
	}
	for _, ref := range cells[1:] {
		c.PointerEnter(ref)
	}
	return c.PointerUp(cells[len(cells)-1])
}

func TestLayout(t *testing.T) {
	l := DefaultLayout()
	times := l.Times()
	require.Len(t, times, 64)
	assert.Equal(t, "06:00", times[0].Short())
	assert.Equal(t, "21:45", times[63].Short())
	assert.True(t, l.Contains(calendar.MustParseClock("21:45")))
	assert.False(t, l.Contains(calendar.MustParseClock("22:00")))
	assert.False(t, l.Contains(calendar.MustParseClock("09:10")))

	assert.Error(t, GridLayout{StartHour: 10, EndHour: 9}.Validate())
}

func TestCellKindNames(t *testing.T) {
	assert.Equal(t, "booked-middle", CellBookedMiddle.String())
	assert.Equal(t, "drag-preview-unselect", CellPreviewUnselect.String())
	assert.True(t, CellBookedEnd.Booked())
	assert.False(t, CellAvailable.Booked())
	assert.False(t, CellPast.Interactive())
}

func TestShowWeekNormalizesToMonday(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newController(t, backend, sundayAM)

	require.NoError(t, c.ShowWeek(context.Background(), calendar.MustParseDate("2025-06-08")))
	assert.Equal(t, monday, c.Week())
	assert.Equal(t, []string{"week 2025-06-02"}, backend.Calls("week"))
	assert.Equal(t, []string{"appointments 2025-06-02 2025-06-08"}, backend.Calls("appointments"))

	grid := c.Grid()
	assert.True(t, grid.Loaded)
	for i, day := range grid.Days {
		assert.Equal(t, monday.AddDays(i), day.Date)
		assert.Len(t, day.Cells, 64)
	}
}

func TestDragSelectCreatesSlots(t *testing.T) {
	backend := newFakeBackend()
	c, notices := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	cells := []CellRef{at(monday, "09:00"), at(monday, "09:15"), at(monday, "09:30")}
	intent := drag(c, cells...)
	require.Equal(t, IntentSlots, intent.Kind)
	assert.Equal(t, DragSelect, intent.Mode)
	assert.Len(t, intent.Creates, 3)
	assert.Equal(t, CellPreviewSelect, kindAt(t, c, cells[1]), "preview stays until the batch settles")

	out, err := c.Commit(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Created)

	assert.Equal(t, []string{
		"create 2025-06-02 09:00-09:15",
		"create 2025-06-02 09:15-09:30",
		"create 2025-06-02 09:30-09:45",
	}, backend.Calls("create"))
	for _, ref := range cells {
		assert.Equal(t, CellAvailable, kindAt(t, c, ref))
	}
	assert.Equal(t, DragNone, c.Dragging())
	assert.Len(t, backend.Calls("week"), 2, "batch reloads the week")

	all := notices.All()
	require.Len(t, all, 1)
	assert.Equal(t, LevelInfo, all[0].Level)
}

func TestDragUnselectSkipsBooked(t *testing.T) {
	backend := newFakeBackend()
	a := backend.addSlot(at(tuesday, "10:00"), calendar.SlotAvailable)
	b := backend.addSlot(at(tuesday, "10:15"), calendar.SlotAvailable)
	backend.addSlot(at(tuesday, "10:30"), calendar.SlotBooked)
	backend.addAppointment("appt-1", "Chris", "2025-06-03T10:30", "2025-06-03T11:00")

	c, _ := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	intent := drag(c, at(tuesday, "10:00"), at(tuesday, "10:15"), at(tuesday, "10:30"))
	require.Equal(t, DragUnselect, intent.Mode)
	_, err := c.Commit(ctx, intent)
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"delete " + a.ID, "delete " + b.ID}, backend.Calls("delete"))
	assert.Equal(t, CellEmpty, kindAt(t, c, at(tuesday, "10:00")))
	assert.Equal(t, CellBookedStart, kindAt(t, c, at(tuesday, "10:30")))
}

func TestCreateThenDeleteRoundTrip(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	ref := at(tuesday, "15:00")
	before := kindAt(t, c, ref)

	_, err := c.Commit(ctx, drag(c, ref))
	require.NoError(t, err)
	assert.Equal(t, CellAvailable, kindAt(t, c, ref))

	_, err = c.Commit(ctx, drag(c, ref))
	require.NoError(t, err)
	assert.Equal(t, before, kindAt(t, c, ref))
}

func TestBookedClassificationAndClick(t *testing.T) {
	backend := newFakeBackend()
	backend.addSlot(at(tuesday, "09:15"), calendar.SlotAvailable)
	backend.addAppointment("appt-1", "Chris", "2025-06-03T09:00", "2025-06-03T10:00")
	c, _ := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	assert.Equal(t, CellBookedStart, kindAt(t, c, at(tuesday, "09:00")))
	assert.Equal(t, CellBookedMiddle, kindAt(t, c, at(tuesday, "09:15")), "a covered slot is never available")
	assert.Equal(t, CellBookedMiddle, kindAt(t, c, at(tuesday, "09:30")))
	assert.Equal(t, CellBookedEnd, kindAt(t, c, at(tuesday, "09:45")))
	assert.Equal(t, CellEmpty, kindAt(t, c, at(tuesday, "10:00")))

	cell, _ := c.Grid().Cell(at(tuesday, "09:00"))
	assert.Equal(t, "Chris (60 min)", cell.Label())

	intent := c.PointerDown(at(tuesday, "09:30"))
	require.Equal(t, IntentOpenAppointment, intent.Kind)
	assert.Equal(t, DragNone, c.Dragging())

	out, err := c.Commit(ctx, intent)
	require.NoError(t, err)
	require.NotNil(t, out.Appointment)
	assert.Equal(t, "appt-1", out.Appointment.ID)
	assert.Empty(t, backend.Calls("create"))
	assert.Empty(t, backend.Calls("delete"))
}

func TestOffGridAppointmentCoversOverlappedCells(t *testing.T) {
	backend := newFakeBackend()
	backend.addSlot(at(tuesday, "09:00"), calendar.SlotAvailable)
	backend.addSlot(at(tuesday, "09:45"), calendar.SlotAvailable)
	backend.addAppointment("legacy", "Chris", "2025-06-03T09:05", "2025-06-03T09:45")
	c, _ := newController(t, backend, sundayAM)
	require.NoError(t, c.ShowWeek(context.Background(), monday))

	assert.Equal(t, CellBookedStart, kindAt(t, c, at(tuesday, "09:00")), "a partially covered slot is never available")
	assert.Equal(t, CellBookedMiddle, kindAt(t, c, at(tuesday, "09:15")))
	assert.Equal(t, CellBookedEnd, kindAt(t, c, at(tuesday, "09:30")))
	assert.Equal(t, CellAvailable, kindAt(t, c, at(tuesday, "09:45")))
}

func TestOffGridBookingRejectedLocally(t *testing.T) {
	backend := newFakeBackend()
	c, notices := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	_, err := c.CreateAppointment(ctx, "c1", store.Booking{Start: calendar.MustParseDateTime("2025-06-03T09:05"), DurationMinutes: 40})
	assert.ErrorIs(t, err, calendar.ErrValidation)
	assert.Empty(t, backend.Calls("create_appointment"))
	require.Len(t, notices.All(), 1)
	assert.Equal(t, "validation", notices.All()[0].Category)
}

func TestDragIgnoresBookedAndPastCells(t *testing.T) {
	backend := newFakeBackend()
	backend.addAppointment("appt-1", "Chris", "2025-06-03T10:15", "2025-06-03T10:30")
	now := time.Date(2025, 6, 3, 10, 1, 0, 0, time.UTC)
	c, _ := newController(t, backend, now)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	assert.Equal(t, CellPast, kindAt(t, c, at(tuesday, "10:00")), "10:01 rounds up to 10:15")
	assert.Equal(t, CellPast, kindAt(t, c, at(monday, "21:45")))
	assert.Equal(t, CellEmpty, kindAt(t, c, at(tuesday, "10:30")))

	assert.Equal(t, IntentNone, c.PointerDown(at(tuesday, "10:00")).Kind)
	assert.Equal(t, DragNone, c.Dragging())

	intent := drag(c, at(tuesday, "10:30"), at(tuesday, "10:15"), at(tuesday, "10:00"), at(tuesday, "10:45"))
	require.Equal(t, IntentSlots, intent.Kind)
	assert.Equal(t, []CellRef{at(tuesday, "10:30"), at(tuesday, "10:45")}, intent.Creates)
	_, err := c.Commit(ctx, intent)
	require.NoError(t, err)
}

func TestPlainClickWithoutPointerDown(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	intent := c.PointerUp(at(monday, "08:00"))
	require.Equal(t, IntentSlots, intent.Kind)
	require.Len(t, intent.Creates, 1)
	_, err := c.Commit(ctx, intent)
	require.NoError(t, err)
	assert.Len(t, backend.Calls("create"), 1)

	assert.Equal(t, IntentNone, c.PointerUp(at(monday, "05:45")).Kind, "off-grid cells are ignored")
}

func TestGesturesBlockedWhileCommitting(t *testing.T) {
	backend := newFakeBackend()
	c, _ := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	intent := drag(c, at(monday, "08:00"))
	require.Equal(t, IntentSlots, intent.Kind)

	assert.Equal(t, IntentNone, c.PointerDown(at(monday, "09:00")).Kind)
	assert.Equal(t, IntentNone, c.PointerUp(at(monday, "09:00")).Kind)

	_, err := c.Commit(ctx, intent)
	require.NoError(t, err)
	assert.Equal(t, []string{"create 2025-06-02 08:00-08:15"}, backend.Calls("create"))
}

func TestPartialFailureSingleNotice(t *testing.T) {
	backend := newFakeBackend()
	backend.failCells[at(monday, "09:15")] = fmt.Errorf("%w: slot exists", calendar.ErrConflict)
	backend.failCells[at(monday, "09:30")] = fmt.Errorf("%w: time occupied", calendar.ErrConflict)
	c, notices := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	out, err := c.Commit(ctx, drag(c, at(monday, "09:00"), at(monday, "09:15"), at(monday, "09:30")))
	require.Error(t, err)
	assert.Equal(t, 1, out.Created)
	assert.Equal(t, 2, out.Failed)

	all := notices.All()
	require.Len(t, all, 1)
	assert.Equal(t, LevelError, all[0].Level)
	assert.Equal(t, "conflict", all[0].Category)

	assert.Equal(t, CellAvailable, kindAt(t, c, at(monday, "09:00")))
	assert.Equal(t, CellEmpty, kindAt(t, c, at(monday, "09:15")), "failed cells revert after the reload")
	assert.Len(t, backend.Calls("week"), 2)
}

func TestStaleLoadDiscarded(t *testing.T) {
	backend := newFakeBackend()
	gate := make(chan struct{})
	backend.weekGate["2025-06-02"] = gate
	c, notices := newController(t, backend, sundayAM)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() { errc <- c.ShowWeek(ctx, monday) }()
	require.Eventually(t, func() bool { return len(backend.Calls("week 2025-06-02")) == 1 }, time.Second, time.Millisecond)

	next := calendar.MustParseDate("2025-06-09")
	backend.addSlot(at(next, "09:00"), calendar.SlotAvailable)
	require.NoError(t, c.ShowWeek(ctx, next))
	close(gate)

	assert.ErrorIs(t, <-errc, store.ErrStale)
	assert.Equal(t, next, c.Week())
	assert.True(t, c.Grid().Loaded)
	assert.Equal(t, CellAvailable, kindAt(t, c, at(next, "09:00")))
	assert.Empty(t, notices.All(), "stale loads are never reported")
}

func TestBatchOutlivingWeekIsDropped(t *testing.T) {
	backend := newFakeBackend()
	backend.createGate = make(chan struct{})
	backend.failCells[at(monday, "09:00")] = fmt.Errorf("%w: connection reset", calendar.ErrFetch)
	next := calendar.MustParseDate("2025-06-09")
	backend.addSlot(at(next, "09:00"), calendar.SlotAvailable)
	c, notices := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	intent := drag(c, at(monday, "09:00"))
	require.Equal(t, IntentSlots, intent.Kind)
	errc := make(chan error, 1)
	go func() {
		_, err := c.Commit(ctx, intent)
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(backend.Calls("create")) == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.ShowWeek(ctx, next))
	before := c.Grid()
	close(backend.createGate)

	assert.ErrorIs(t, <-errc, calendar.ErrFetch)
	assert.Empty(t, notices.All(), "a batch for an abandoned week is not reported")
	assert.Len(t, backend.Calls("week 2025-06-02"), 1, "the abandoned week is not reloaded")
	assert.Len(t, backend.Calls("week 2025-06-09"), 1)
	assert.Equal(t, next, c.Week())
	assert.Equal(t, before, c.Grid())
	assert.Equal(t, CellAvailable, kindAt(t, c, at(next, "09:00")))
}

func TestNotReadyIsQuiet(t *testing.T) {
	backend := newFakeBackend()
	backend.weekErr = calendar.ErrNotReady
	c, notices := newController(t, backend, sundayAM)

	err := c.ShowWeek(context.Background(), monday)
	assert.ErrorIs(t, err, calendar.ErrNotReady)
	assert.Empty(t, notices.All())
	assert.False(t, c.Grid().Loaded)
}

func TestLoadFailureReported(t *testing.T) {
	backend := newFakeBackend()
	backend.weekErr = fmt.Errorf("%w: connection refused", calendar.ErrFetch)
	c, notices := newController(t, backend, sundayAM)

	err := c.ShowWeek(context.Background(), monday)
	assert.ErrorIs(t, err, calendar.ErrFetch)
	require.Len(t, notices.All(), 1)
	assert.Equal(t, "network", notices.All()[0].Category)
	assert.False(t, c.Grid().Loaded, "a failed first load is no data, not an empty week")
}

func TestRequestActionsRefresh(t *testing.T) {
	backend := newFakeBackend()
	backend.requests = []calendar.SchedulingRequest{
		{ID: "r1", Status: calendar.RequestPending},
		{ID: "r2", Status: calendar.RequestApproved},
	}
	c, notices := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))
	require.Len(t, c.PendingRequests(), 2)

	err := c.CancelRequest(ctx, "r2")
	assert.ErrorIs(t, err, calendar.ErrInvalidState)
	assert.Empty(t, backend.Calls("cancel_request"))
	assert.Len(t, backend.Calls("week"), 1, "local rejections do not reload")
	require.Len(t, notices.All(), 1)

	require.NoError(t, c.RespondToRequest(ctx, "r1", calendar.RequestApproved, "", nil))
	assert.Len(t, backend.Calls("week"), 2)
	assert.Len(t, backend.Calls("appointments"), 2)
	assert.Len(t, backend.Calls("pending"), 2)
}

func TestAppointmentActions(t *testing.T) {
	backend := newFakeBackend()
	backend.addAppointment("appt-1", "Chris", "2025-06-04T09:00", "2025-06-04T10:00")
	c, _ := newController(t, backend, sundayAM)
	ctx := context.Background()
	require.NoError(t, c.ShowWeek(ctx, monday))

	assert.ErrorIs(t, c.CancelAppointment(ctx, "appt-1", ""), calendar.ErrValidation)
	require.NoError(t, c.CancelAppointment(ctx, "appt-1", "sick"))
	assert.Equal(t, CellEmpty, kindAt(t, c, at(calendar.MustParseDate("2025-06-04"), "09:00")))
	assert.ErrorIs(t, c.CompleteAppointment(ctx, "appt-1"), calendar.ErrInvalidState)

	created, err := c.CreateAppointment(ctx, "c1", store.Booking{Start: calendar.MustParseDateTime("2025-06-05T13:00"), DurationMinutes: 45})
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, CellBookedStart, kindAt(t, c, at(calendar.MustParseDate("2025-06-05"), "13:00")))
	assert.Equal(t, CellBookedEnd, kindAt(t, c, at(calendar.MustParseDate("2025-06-05"), "13:30")))
}
