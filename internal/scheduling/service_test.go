package scheduling

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dan22333/theravillage/internal/calendar"
	redisclient "github.com/dan22333/theravillage/internal/redis"
)

type fixture struct {
	repo      *MemoryRepository
	svc       *Service
	therapist uuid.UUID
	client    uuid.UUID
}

// Sunday 2025-06-01 14:00, the day before the test week starts.
var fixedNow = time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := NewMemoryRepository()
	f := &fixture{
		repo:      repo,
		therapist: uuid.New(),
		client:    uuid.New(),
	}
	repo.AddUser(User{ID: f.therapist, Name: "Dana Therapist", Role: RoleTherapist})
	repo.AddUser(User{ID: f.client, Name: "Chris Client", Role: RoleClient})
	repo.Assign(f.therapist, f.client)

	f.svc = NewService(repo, redisclient.NewLocalLocker(time.Second), time.UTC, WithClock(func() time.Time { return fixedNow }))
	return f
}

func d(s string) calendar.Date      { return calendar.MustParseDate(s) }
func c(s string) calendar.Clock     { return calendar.MustParseClock(s) }
func dt(s string) calendar.DateTime { return calendar.MustParseDateTime(s) }

func (f *fixture) slot(t *testing.T, date, start string) *calendar.Slot {
	t.Helper()
	st := c(start)
	sl, err := f.svc.CreateSlot(context.Background(), f.therapist, d(date), st, st.SlotEnd())
	require.NoError(t, err)
	return sl
}

func TestCreateSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sl := f.slot(t, "2025-06-03", "10:00")
	assert.Equal(t, calendar.SlotAvailable, sl.Status)
	assert.Equal(t, c("10:15"), sl.EndTime)

	_, err := f.svc.CreateSlot(ctx, f.therapist, d("2025-06-03"), c("10:00"), c("10:15"))
	assert.ErrorIs(t, err, ErrSlotExists)

	_, err = f.svc.CreateSlot(ctx, f.therapist, d("2025-06-01"), c("13:45"), c("14:00"))
	assert.ErrorIs(t, err, ErrPastTime)

	_, err = f.svc.CreateSlot(ctx, f.therapist, d("2025-06-01"), c("14:00"), c("14:15"))
	assert.NoError(t, err, "the current boundary is still bookable")

	_, err = f.svc.CreateSlot(ctx, f.therapist, d("2025-06-03"), c("11:00"), c("11:00"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateSlotRejectsTimeCoveredByAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:        f.client,
		Start:           dt("2025-06-04T09:00:00"),
		DurationMinutes: 60,
	})
	require.NoError(t, err)

	_, err = f.svc.CreateSlot(ctx, f.therapist, d("2025-06-04"), c("09:30"), c("09:45"))
	assert.ErrorIs(t, err, ErrTimeOccupied)
}

func TestDeleteSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sl := f.slot(t, "2025-06-03", "10:00")
	id := uuid.MustParse(sl.ID)

	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, uuid.New(), id), ErrSlotNotFound)
	require.NoError(t, f.svc.DeleteSlot(ctx, f.therapist, id))
	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, f.therapist, id), ErrSlotNotFound)

	require.NoError(t, f.repo.BookRange(ctx, f.therapist, dt("2025-06-03T11:00:00"), dt("2025-06-03T11:15:00")))
	slots, err := f.repo.ListSlotsInRange(ctx, f.therapist, dt("2025-06-03T11:00:00"), dt("2025-06-03T11:15:00"))
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.ErrorIs(t, f.svc.DeleteSlot(ctx, f.therapist, uuid.MustParse(slots[0].ID)), ErrSlotBooked)
}

func TestAvailableSlotsDefaultsToFourWeeks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.slot(t, "2025-06-03", "10:00")
	f.slot(t, "2025-06-29", "10:00")
	f.slot(t, "2025-06-30", "10:00")

	slots, err := f.svc.AvailableSlots(ctx, f.client, f.therapist, nil, nil)
	require.NoError(t, err)
	require.Len(t, slots, 2)
	assert.Equal(t, d("2025-06-03"), slots[0].Date)

	_, err = f.svc.AvailableSlots(ctx, uuid.New(), f.therapist, nil, nil)
	assert.ErrorIs(t, err, ErrClientNotAssigned)
}

func TestRequestApprovalBooksSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.slot(t, "2025-06-03", "10:00")
	f.slot(t, "2025-06-03", "10:15")
	slotID := uuid.MustParse(first.ID)

	req, err := f.svc.SubmitRequest(ctx, f.client, SubmitRequest{
		TherapistID: f.therapist,
		SlotID:      &slotID,
		Date:        d("2025-06-03"),
		StartTime:   c("10:00"),
		EndTime:     c("10:30"),
		Message:     "first session",
	})
	require.NoError(t, err)
	assert.Equal(t, calendar.RequestPending, req.Status)
	assert.Equal(t, "Chris Client", req.ClientName)

	pending, err := f.svc.PendingForTherapist(ctx, f.therapist)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	approved, err := f.svc.RespondToRequest(ctx, f.therapist, uuid.MustParse(req.ID), Response{Status: calendar.RequestApproved})
	require.NoError(t, err)
	assert.Equal(t, calendar.RequestApproved, approved.Status)
	assert.NotNil(t, approved.RespondedAt)

	week, err := f.svc.WeekView(ctx, f.therapist, d("2025-06-04"))
	require.NoError(t, err)
	assert.Equal(t, d("2025-06-02"), week.WeekStart)
	assert.Equal(t, d("2025-06-08"), week.WeekEnd)
	require.Len(t, week.Appointments, 1)
	assert.Equal(t, dt("2025-06-03T10:00:00"), week.Appointments[0].Start)
	assert.Equal(t, dt("2025-06-03T10:30:00"), week.Appointments[0].End)
	assert.Equal(t, req.ID, week.Appointments[0].SchedulingRequestID)
	require.Len(t, week.Slots, 2)
	for _, sl := range week.Slots {
		assert.Equal(t, calendar.SlotBooked, sl.Status)
	}
	require.Len(t, week.SchedulingRequests, 1)

	_, err = f.svc.CancelRequest(ctx, f.client, RoleClient, uuid.MustParse(req.ID))
	assert.ErrorIs(t, err, ErrRequestNotPending)

	notes, err := f.svc.Notifications(ctx, f.client)
	require.NoError(t, err)
	require.NotEmpty(t, notes)
	assert.Equal(t, NotifyRequestApproved, notes[0].Type)

	therapistNotes, err := f.svc.Notifications(ctx, f.therapist)
	require.NoError(t, err)
	require.Len(t, therapistNotes, 1)
	require.NoError(t, f.svc.MarkNotificationRead(ctx, f.therapist, uuid.MustParse(therapistNotes[0].ID)))
	assert.ErrorIs(t, f.svc.MarkNotificationRead(ctx, f.client, uuid.MustParse(therapistNotes[0].ID)), ErrNotificationNotFound)
}

func TestSubmitRequestNeedsEveryCellAvailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.slot(t, "2025-06-03", "10:00")

	_, err := f.svc.SubmitRequest(ctx, f.client, SubmitRequest{
		TherapistID: f.therapist,
		Date:        d("2025-06-03"),
		StartTime:   c("10:00"),
		EndTime:     c("10:30"),
	})
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.SubmitRequest(ctx, f.client, SubmitRequest{
		TherapistID: f.therapist,
		Date:        d("2025-06-01"),
		StartTime:   c("09:00"),
		EndTime:     c("09:15"),
	})
	assert.ErrorIs(t, err, ErrPastTime)
}

func TestDeclineAndClientCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.slot(t, "2025-06-03", "10:00")
	submit := SubmitRequest{TherapistID: f.therapist, Date: d("2025-06-03"), StartTime: c("10:00"), EndTime: c("10:15")}

	first, err := f.svc.SubmitRequest(ctx, f.client, submit)
	require.NoError(t, err)
	declined, err := f.svc.RespondToRequest(ctx, f.therapist, uuid.MustParse(first.ID), Response{
		Status: calendar.RequestDeclined,
		Text:   "out of office",
		Alternatives: []calendar.Alternative{
			{Date: d("2025-06-05"), StartTime: c("09:00"), EndTime: c("09:15")},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, calendar.RequestDeclined, declined.Status)
	assert.Equal(t, "therapist", declined.CancelledBy)
	assert.Len(t, declined.SuggestedAlternatives, 1)

	second, err := f.svc.SubmitRequest(ctx, f.client, submit)
	require.NoError(t, err)

	_, err = f.svc.CancelRequest(ctx, uuid.New(), RoleClient, uuid.MustParse(second.ID))
	assert.ErrorIs(t, err, ErrRequestNotFound)

	cancelled, err := f.svc.CancelRequest(ctx, f.client, RoleClient, uuid.MustParse(second.ID))
	require.NoError(t, err)
	assert.Equal(t, calendar.RequestCancelled, cancelled.Status)
	assert.Equal(t, "Cancelled by client", cancelled.TherapistResponse)

	slots, err := f.repo.ListSlots(ctx, f.therapist, d("2025-06-03"), d("2025-06-03"), calendar.SlotAvailable)
	require.NoError(t, err)
	assert.Len(t, slots, 1, "decline and cancel leave the slot available")

	recent, err := f.svc.RecentForClient(ctx, f.client)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestRespondRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.RespondToRequest(context.Background(), f.therapist, uuid.New(), Response{Status: calendar.RequestCancelled})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestCreateRecurringAppointments(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	until := d("2025-06-17")

	appts, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:         f.client,
		Start:            dt("2025-06-03T10:00:00"),
		DurationMinutes:  45,
		Location:         &calendar.Location{Type: calendar.LocationVirtual},
		RecurringRule:    calendar.RecurWeekly,
		RecurringEndDate: &until,
	})
	require.NoError(t, err)
	require.Len(t, appts, 3)
	assert.Equal(t, dt("2025-06-17T10:00:00"), appts[2].Start)
	assert.Equal(t, dt("2025-06-17T10:45:00"), appts[2].End)
	assert.Equal(t, "Chris Client", appts[0].ClientName)

	slots, err := f.repo.ListSlots(ctx, f.therapist, d("2025-06-03"), d("2025-06-03"), calendar.SlotBooked)
	require.NoError(t, err)
	assert.Len(t, slots, 3)
}

func TestRecurringConflictFailsWholeSeries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:        f.client,
		Start:           dt("2025-06-10T10:30:00"),
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	until := d("2025-06-17")
	_, err = f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:         f.client,
		Start:            dt("2025-06-03T10:00:00"),
		DurationMinutes:  60,
		RecurringRule:    calendar.RecurWeekly,
		RecurringEndDate: &until,
	})
	assert.ErrorIs(t, err, ErrTimeOccupied)

	appts, err := f.svc.ListAppointments(ctx, f.therapist, d("2025-06-01"), d("2025-06-30"))
	require.NoError(t, err)
	assert.Len(t, appts, 1, "no occurrence of the failed series is written")
}

func TestCreateAppointmentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   BookAppointment
		want error
	}{
		{"zero duration", BookAppointment{ClientID: f.client, Start: dt("2025-06-03T10:00:00")}, ErrInvalidInput},
		{"off-grid start", BookAppointment{ClientID: f.client, Start: dt("2025-06-03T09:05:00"), DurationMinutes: 30}, ErrInvalidInput},
		{"off-grid duration", BookAppointment{ClientID: f.client, Start: dt("2025-06-03T09:00:00"), DurationMinutes: 40}, ErrInvalidInput},
		{"rule without end", BookAppointment{ClientID: f.client, Start: dt("2025-06-03T10:00:00"), DurationMinutes: 30, RecurringRule: calendar.RecurBiweekly}, ErrInvalidInput},
		{"address missing", BookAppointment{ClientID: f.client, Start: dt("2025-06-03T10:00:00"), DurationMinutes: 30, Location: &calendar.Location{Type: calendar.LocationInPerson}}, ErrInvalidInput},
		{"unassigned client", BookAppointment{ClientID: uuid.New(), Start: dt("2025-06-03T10:00:00"), DurationMinutes: 30}, ErrClientNotAssigned},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.CreateAppointment(ctx, f.therapist, tt.in)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRescheduleKeepsIDAndMovesSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:        f.client,
		Start:           dt("2025-06-03T10:00:00"),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	id := uuid.MustParse(created[0].ID)

	moved, err := f.svc.RescheduleAppointment(ctx, f.therapist, id, Reschedule{
		Start:           dt("2025-06-05T15:00:00"),
		DurationMinutes: 15,
	})
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, created[0].ID, moved[0].ID)
	assert.Equal(t, dt("2025-06-05T15:15:00"), moved[0].End)

	old, err := f.repo.ListSlots(ctx, f.therapist, d("2025-06-03"), d("2025-06-03"), calendar.SlotBooked)
	require.NoError(t, err)
	assert.Empty(t, old)
	booked, err := f.repo.ListSlots(ctx, f.therapist, d("2025-06-05"), d("2025-06-05"), calendar.SlotBooked)
	require.NoError(t, err)
	assert.Len(t, booked, 1)
}

func TestCancelAndCompleteAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:        f.client,
		Start:           dt("2025-06-03T10:00:00"),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	id := uuid.MustParse(created[0].ID)

	_, err = f.svc.CancelAppointment(ctx, f.therapist, id, "  ")
	assert.ErrorIs(t, err, ErrInvalidInput)

	cancelled, err := f.svc.CancelAppointment(ctx, f.therapist, id, "client sick")
	require.NoError(t, err)
	assert.Equal(t, calendar.AppointmentCancelled, cancelled.Status)
	assert.Equal(t, "client sick", cancelled.CancellationReason)

	_, err = f.svc.CancelAppointment(ctx, f.therapist, id, "again")
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)
	_, err = f.svc.CompleteAppointment(ctx, f.therapist, id)
	assert.ErrorIs(t, err, ErrInvalidStatusTransition)

	available, err := f.repo.ListSlots(ctx, f.therapist, d("2025-06-03"), d("2025-06-03"), calendar.SlotAvailable)
	require.NoError(t, err)
	assert.Len(t, available, 2, "cancelling releases the booked slots")

	second, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:        f.client,
		Start:           dt("2025-06-03T10:00:00"),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
	done, err := f.svc.CompleteAppointment(ctx, f.therapist, uuid.MustParse(second[0].ID))
	require.NoError(t, err)
	assert.Equal(t, calendar.AppointmentCompleted, done.Status)
}

func TestReconcileSlots(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.repo.BookRange(ctx, f.therapist, dt("2025-06-03T08:00:00"), dt("2025-06-03T08:30:00")))
	_, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
		ClientID:        f.client,
		Start:           dt("2025-06-03T10:00:00"),
		DurationMinutes: 15,
	})
	require.NoError(t, err)

	released, err := f.svc.ReconcileSlots(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), released)

	again, err := f.svc.ReconcileSlots(ctx)
	require.NoError(t, err)
	assert.Zero(t, again)
}

func TestLockContentionMapsToSlotBeingBooked(t *testing.T) {
	f := newFixture(t)
	locker := redisclient.NewLocalLocker(0)
	f.svc.locker = locker

	err := locker.WithTherapistLock(context.Background(), f.therapist, func(ctx context.Context) error {
		_, err := f.svc.CreateAppointment(ctx, f.therapist, BookAppointment{
			ClientID:        f.client,
			Start:           dt("2025-06-03T10:00:00"),
			DurationMinutes: 30,
		})
		return err
	})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)
}

func TestCreateSlotTakesTherapistLock(t *testing.T) {
	f := newFixture(t)
	locker := redisclient.NewLocalLocker(0)
	f.svc.locker = locker
	ctx := context.Background()

	err := locker.WithTherapistLock(ctx, f.therapist, func(ctx context.Context) error {
		_, err := f.svc.CreateSlot(ctx, f.therapist, d("2025-06-03"), c("10:00"), c("10:15"))
		return err
	})
	assert.ErrorIs(t, err, ErrSlotBeingBooked)

	view, err := f.svc.WeekView(ctx, f.therapist, d("2025-06-02"))
	require.NoError(t, err)
	assert.Empty(t, view.Slots, "nothing is inserted without the lock")

	_, err = f.svc.CreateSlot(ctx, f.therapist, d("2025-06-03"), c("10:00"), c("10:15"))
	require.NoError(t, err)
}

func TestOccurrences(t *testing.T) {
	until := d("2025-08-01")
	got := occurrences(dt("2025-06-02T09:00:00"), 60, calendar.RecurMonthly, &until)
	require.Len(t, got, 3, "the end date is inclusive")
	assert.Equal(t, dt("2025-07-02T09:00:00"), got[1][0])
	assert.Equal(t, dt("2025-08-01T09:00:00"), got[2][0])

	single := occurrences(dt("2025-06-02T09:00:00"), 60, calendar.RecurNone, &until)
	assert.Len(t, single, 1)
}
