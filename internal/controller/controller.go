// Package controller composes the slot, appointment and request stores into
// a weekly grid and turns pointer gestures into backend calls. Every
// mutation is followed by a reload; the grid never shows a guessed state.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dan22333/theravillage/internal/calendar"
	"github.com/dan22333/theravillage/internal/client"
	"github.com/dan22333/theravillage/internal/logging"
	"github.com/dan22333/theravillage/internal/metrics"
	"github.com/dan22333/theravillage/internal/store"
)

const defaultBatchConcurrency = 8

// Backend is everything the stores call. *client.Client implements it.
type Backend interface {
	store.SlotBackend
	store.AppointmentBackend
	store.RequestBackend
}

type Level int

const (
	LevelInfo Level = iota
	LevelError
)

// Notice is one user-facing message. Each user action produces at most one.
type Notice struct {
	Level    Level
	Title    string
	Message  string
	Category string
}

type Notifier interface {
	Notify(n Notice)
}

type NotifierFunc func(n Notice)

func (f NotifierFunc) Notify(n Notice) { f(n) }

type Config struct {
	Layout   GridLayout
	Now      func() time.Time
	Notifier Notifier
	Logger   *zap.Logger
	Metrics  *metrics.CalendarMetrics
	// BatchConcurrency caps concurrent slot calls per batch.
	BatchConcurrency int
}

type Controller struct {
	slots *store.SlotStore
	appts *store.AppointmentStore
	reqs  *store.RequestStore

	layout      GridLayout
	now         func() time.Time
	notifier    Notifier
	logger      *zap.Logger
	metrics     *metrics.CalendarMetrics
	concurrency int

	mu         sync.Mutex
	shown      bool
	week       calendar.Date
	weekGen    uint64
	loadGen    uint64
	cancelLoad context.CancelFunc
	drag       dragState
}

// Outcome summarizes a committed intent.
type Outcome struct {
	Mode        DragMode
	Created     int
	Deleted     int
	Failed      int
	Appointment *calendar.Appointment
}

func New(backend Backend, cfg Config) (*Controller, error) {
	if backend == nil {
		return nil, errors.New("controller: backend is required")
	}
	if cfg.Layout == (GridLayout{}) {
		cfg.Layout = DefaultLayout()
	}
	if err := cfg.Layout.Validate(); err != nil {
		return nil, err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notifier == nil {
		cfg.Notifier = NotifierFunc(func(Notice) {})
	}
	if cfg.BatchConcurrency <= 0 {
		cfg.BatchConcurrency = defaultBatchConcurrency
	}

	return &Controller{
		slots:       store.NewSlotStore(backend, store.WithClock(cfg.Now)),
		appts:       store.NewAppointmentStore(backend),
		reqs:        store.NewRequestStore(backend, store.WithClock(cfg.Now)),
		layout:      cfg.Layout,
		now:         cfg.Now,
		notifier:    cfg.Notifier,
		logger:      logging.OrNop(cfg.Logger),
		metrics:     cfg.Metrics,
		concurrency: cfg.BatchConcurrency,
	}, nil
}

func (c *Controller) Layout() GridLayout { return c.layout }

// Week returns the Monday of the visible week.
func (c *Controller) Week() calendar.Date {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.week
}

// ShowWeek makes the week containing d visible and loads it. Loads still
// running for a previous week are cancelled and their results dropped.
func (c *Controller) ShowWeek(ctx context.Context, d calendar.Date) error {
	monday := calendar.MondayOf(d)

	c.mu.Lock()
	if !c.shown || monday != c.week {
		c.shown = true
		c.week = monday
		c.weekGen++
		c.slots.Invalidate()
		c.appts.Invalidate()
		if !c.drag.committing {
			c.drag.reset()
		}
	}
	c.mu.Unlock()

	return c.reload(ctx, true)
}

// Refresh reloads the visible week.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.reload(ctx, true)
}

// Close cancels any in-flight load.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancelLoad != nil {
		c.cancelLoad()
		c.cancelLoad = nil
	}
	c.weekGen++
	c.loadGen++
}

func (c *Controller) reload(ctx context.Context, report bool) error {
	c.mu.Lock()
	if !c.shown {
		c.mu.Unlock()
		return fmt.Errorf("%w: no week selected", calendar.ErrValidation)
	}
	if c.cancelLoad != nil {
		c.cancelLoad()
	}
	c.loadGen++
	gen, monday := c.loadGen, c.week
	loadCtx, cancel := context.WithCancel(ctx)
	c.cancelLoad = cancel
	c.mu.Unlock()
	defer cancel()

	g, gctx := errgroup.WithContext(loadCtx)
	g.Go(func() error {
		_, err := c.slots.Load(gctx, monday)
		return err
	})
	g.Go(func() error {
		_, err := c.appts.Load(gctx, monday, monday.AddDays(DaysPerWeek-1))
		return err
	})
	g.Go(func() error {
		_, err := c.reqs.LoadPending(gctx)
		return err
	})
	err := g.Wait()

	c.mu.Lock()
	stale := gen != c.loadGen || monday != c.week
	c.mu.Unlock()
	if stale || errors.Is(err, store.ErrStale) {
		c.metrics.ObserveStale()
		return store.ErrStale
	}
	if err != nil {
		if report {
			c.report("Could not load the calendar", err)
		}
		return err
	}
	return nil
}

// Grid renders the visible week from the last settled store state.
func (c *Controller) Grid() Grid {
	c.mu.Lock()
	defer c.mu.Unlock()

	weekStart, _, slotsOK := c.slots.Snapshot()
	window, _, apptsOK := c.appts.Snapshot()
	grid := Grid{
		WeekStart: c.week,
		Loaded:    c.shown && slotsOK && apptsOK && weekStart == c.week && window.From == c.week,
	}
	if !c.shown {
		return grid
	}

	times := c.layout.Times()
	for i, date := range calendar.WeekDates(c.week) {
		col := DayColumn{Date: date, Cells: make([]Cell, len(times))}
		for j, t := range times {
			ref := CellRef{Date: date, Time: t}
			st := c.stateLocked(ref)
			st.preview = c.drag.has(ref)
			st.mode = c.drag.mode
			col.Cells[j] = classify(ref, st)
		}
		grid.Days[i] = col
	}
	return grid
}

func (c *Controller) stateLocked(ref CellRef) cellState {
	var st cellState
	if a, ok := c.appts.Covering(ref.Date, ref.Time); ok {
		st.appt = &a
	}
	if s, ok := c.slots.At(ref.Date, ref.Time); ok {
		st.slot = &s
	}
	st.past = calendar.IsPast(ref.Date, ref.Time, c.now())
	return st
}

// cellLocked classifies ref ignoring any drag preview.
func (c *Controller) cellLocked(ref CellRef) Cell {
	return classify(ref, c.stateLocked(ref))
}

func (c *Controller) onGridLocked(ref CellRef) bool {
	if !c.shown || !c.layout.Contains(ref.Time) {
		return false
	}
	return !ref.Date.Before(c.week) && ref.Date.Before(c.week.AddDays(DaysPerWeek))
}

// Commit executes an intent returned by a pointer handler. Slot operations
// run concurrently; once all settle the preview clears, one summary notice
// goes out and the stores reload. A batch that outlives its week is
// neither reported nor reloaded.
func (c *Controller) Commit(ctx context.Context, in Intent) (Outcome, error) {
	switch in.Kind {
	case IntentNone:
		return Outcome{}, nil
	case IntentOpenAppointment:
		appt, err := c.OpenAppointment(ctx, in.AppointmentID)
		return Outcome{Appointment: appt}, err
	}

	c.mu.Lock()
	weekGen := c.weekGen
	c.mu.Unlock()

	errs := make([]error, in.Ops())
	g := new(errgroup.Group)
	g.SetLimit(c.concurrency)
	for i, cell := range in.Creates {
		g.Go(func() error {
			_, errs[i] = c.slots.Create(ctx, cell.Date, cell.Time, cell.Time.SlotEnd())
			return nil
		})
	}
	for i, del := range in.Deletes {
		g.Go(func() error {
			errs[len(in.Creates)+i] = c.slots.Delete(ctx, del.SlotID)
			return nil
		})
	}
	_ = g.Wait()

	out := Outcome{Mode: in.Mode}
	var firstErr error
	resync := false
	for i, err := range errs {
		if reachedBackend(err) {
			resync = true
		}
		if err != nil {
			out.Failed++
			if firstErr == nil {
				firstErr = err
			}
			c.logger.Debug("slot operation failed", zap.Error(err))
			continue
		}
		if i < len(in.Creates) {
			out.Created++
		} else {
			out.Deleted++
		}
	}

	c.mu.Lock()
	c.drag.reset()
	stale := weekGen != c.weekGen
	c.mu.Unlock()

	c.metrics.ObserveBatch(in.Mode.String(), in.Ops(), out.Failed)

	var err error
	if firstErr != nil {
		err = fmt.Errorf("%d of %d slot changes failed: %w", out.Failed, in.Ops(), firstErr)
	}
	if stale {
		c.metrics.ObserveStale()
		return out, err
	}
	c.reportBatch(out, in.Ops(), firstErr)
	if resync {
		if rerr := c.reload(ctx, false); rerr != nil && !errors.Is(rerr, store.ErrStale) {
			c.logger.Warn("reload after batch failed", zap.Error(rerr))
		}
	}
	return out, err
}

// reachedBackend reports whether an operation got as far as the server,
// which means the stores may no longer match it.
func reachedBackend(err error) bool {
	if err == nil {
		return true
	}
	var apiErr *client.APIError
	return errors.As(err, &apiErr) || errors.Is(err, calendar.ErrFetch)
}

func (c *Controller) reportBatch(out Outcome, ops int, firstErr error) {
	if firstErr != nil {
		if quiet(firstErr) {
			return
		}
		c.notifier.Notify(Notice{
			Level:    LevelError,
			Title:    "Some availability changes were not saved",
			Message:  fmt.Sprintf("%d of %d changes failed (%s)", out.Failed, ops, calendar.Category(firstErr)),
			Category: calendar.Category(firstErr),
		})
		return
	}
	msg := fmt.Sprintf("Added %d slot(s)", out.Created)
	if out.Mode == DragUnselect {
		msg = fmt.Sprintf("Removed %d slot(s)", out.Deleted)
	}
	c.notifier.Notify(Notice{Level: LevelInfo, Title: "Availability updated", Message: msg})
}

func (c *Controller) report(title string, err error) {
	if quiet(err) {
		return
	}
	c.notifier.Notify(Notice{
		Level:    LevelError,
		Title:    title,
		Message:  err.Error(),
		Category: calendar.Category(err),
	})
}

// quiet errors are never shown: a missing token only means "not yet", and
// cancelled or superseded work has a newer action behind it.
func quiet(err error) bool {
	return errors.Is(err, calendar.ErrNotReady) ||
		errors.Is(err, store.ErrStale) ||
		errors.Is(err, context.Canceled)
}

// mutate runs one user action, reports a failure once and reloads when
// the backend was reached.
func (c *Controller) mutate(ctx context.Context, title string, fn func() error) error {
	err := fn()
	if err != nil {
		c.report(title, err)
	}
	if reachedBackend(err) {
		if rerr := c.reload(ctx, false); rerr != nil && !errors.Is(rerr, store.ErrStale) {
			c.logger.Warn("reload after mutation failed", zap.String("action", title), zap.Error(rerr))
		}
	}
	return err
}

// OpenAppointment loads the detail of a booked cell's appointment.
func (c *Controller) OpenAppointment(ctx context.Context, id string) (*calendar.Appointment, error) {
	appt, err := c.appts.Detail(ctx, id)
	if err != nil {
		c.report("Could not open the appointment", err)
		return nil, err
	}
	return appt, nil
}

// PendingRequests returns the last settled request list.
func (c *Controller) PendingRequests() []calendar.SchedulingRequest {
	reqs, _ := c.reqs.Snapshot()
	return reqs
}

// Appointments returns the last settled appointments of the visible week,
// cancelled ones included.
func (c *Controller) Appointments() []calendar.Appointment {
	_, appts, _ := c.appts.Snapshot()
	return appts
}

func (c *Controller) RespondToRequest(ctx context.Context, id string, decision calendar.RequestStatus, text string, alternatives []calendar.Alternative) error {
	return c.mutate(ctx, "Could not respond to the request", func() error {
		_, err := c.reqs.Respond(ctx, id, decision, text, alternatives)
		return err
	})
}

func (c *Controller) CancelRequest(ctx context.Context, id string) error {
	return c.mutate(ctx, "Could not cancel the request", func() error {
		return c.reqs.Cancel(ctx, id)
	})
}

func (c *Controller) CreateAppointment(ctx context.Context, clientID string, b store.Booking) ([]calendar.Appointment, error) {
	var created []calendar.Appointment
	err := c.mutate(ctx, "Could not schedule the appointment", func() error {
		var err error
		created, err = c.appts.Create(ctx, clientID, b)
		return err
	})
	return created, err
}

func (c *Controller) RescheduleAppointment(ctx context.Context, id string, b store.Booking) ([]calendar.Appointment, error) {
	var moved []calendar.Appointment
	err := c.mutate(ctx, "Could not reschedule the appointment", func() error {
		var err error
		moved, err = c.appts.Reschedule(ctx, id, b)
		return err
	})
	return moved, err
}

func (c *Controller) CancelAppointment(ctx context.Context, id, reason string) error {
	return c.mutate(ctx, "Could not cancel the appointment", func() error {
		return c.appts.Cancel(ctx, id, reason)
	})
}

func (c *Controller) CompleteAppointment(ctx context.Context, id string) error {
	return c.mutate(ctx, "Could not complete the appointment", func() error {
		return c.appts.Complete(ctx, id)
	})
}
