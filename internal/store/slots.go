package store

import (
	"context"
	"fmt"
	"time"

	"github.com/dan22333/theravillage/internal/calendar"
)

// SlotBackend is the slice of the REST client SlotStore needs.
type SlotBackend interface {
	Week(ctx context.Context, monday calendar.Date) (*calendar.WeekView, error)
	CreateSlot(ctx context.Context, date calendar.Date, start, end calendar.Clock) (*calendar.Slot, error)
	DeleteSlot(ctx context.Context, slotID string) error
}

// SlotStore holds the availability slots of one Monday-based week.
type SlotStore struct {
	backend SlotBackend
	now     func() time.Time
	win     window[calendar.Date, calendar.Slot]
}

func NewSlotStore(backend SlotBackend, opts ...Option) *SlotStore {
	o := buildOptions(opts)
	return &SlotStore{backend: backend, now: o.now}
}

// Load fetches every slot dated inside the week starting at weekStart.
// weekStart is normalized to its Monday. On error the caller must treat
// the week as having no data, not as having zero slots.
func (s *SlotStore) Load(ctx context.Context, weekStart calendar.Date) ([]calendar.Slot, error) {
	monday := calendar.MondayOf(weekStart)
	gen := s.win.begin()

	view, err := s.backend.Week(ctx, monday)
	var slots []calendar.Slot
	if err == nil {
		end := monday.AddDays(7)
		slots = make([]calendar.Slot, 0, len(view.Slots))
		for _, sl := range view.Slots {
			if !sl.Date.Before(monday) && sl.Date.Before(end) {
				slots = append(slots, sl)
			}
		}
	}
	if err := s.win.settle(gen, monday, slots, err); err != nil {
		return nil, err
	}
	return slots, nil
}

// Snapshot returns the last settled week. ok is false when nothing has
// loaded for that week.
func (s *SlotStore) Snapshot() (weekStart calendar.Date, slots []calendar.Slot, ok bool) {
	return s.win.snapshot()
}

// At returns the slot starting at (d, c), if one is known.
func (s *SlotStore) At(d calendar.Date, c calendar.Clock) (calendar.Slot, bool) {
	return s.win.find(func(sl calendar.Slot) bool {
		return sl.Date == d && sl.StartTime == c
	})
}

// Invalidate discards the snapshot, for example when the visible week
// changes.
func (s *SlotStore) Invalidate() {
	s.win.invalidate()
}

// Create asks for exactly one 15-minute slot. Past cells are rejected
// locally without a network call.
func (s *SlotStore) Create(ctx context.Context, date calendar.Date, start, end calendar.Clock) (*calendar.Slot, error) {
	if !start.Aligned() {
		return nil, fmt.Errorf("%w: start %s is not on a 15-minute boundary", calendar.ErrValidation, start.Short())
	}
	if end != start.SlotEnd() {
		return nil, fmt.Errorf("%w: slot must span exactly %d minutes", calendar.ErrValidation, calendar.SlotMinutes)
	}
	if err := calendar.CheckNotPast(date, start, s.now()); err != nil {
		return nil, err
	}
	return s.backend.CreateSlot(ctx, date, start, end)
}

// Delete removes an available slot. A slot known to be booked is rejected
// locally with ErrInvalidState.
func (s *SlotStore) Delete(ctx context.Context, slotID string) error {
	known, ok := s.win.find(func(sl calendar.Slot) bool { return sl.ID == slotID })
	if ok && known.Status == calendar.SlotBooked {
		return fmt.Errorf("%w: slot %s is booked", calendar.ErrInvalidState, slotID)
	}
	return s.backend.DeleteSlot(ctx, slotID)
}
