package controller

import (
	"fmt"

	"github.com/dan22333/theravillage/internal/calendar"
)

const (
	DefaultStartHour = 6
	DefaultEndHour   = 22
	DaysPerWeek      = 7
)

// GridLayout is the visible hour range of each day column.
type GridLayout struct {
	StartHour int
	EndHour   int
}

func DefaultLayout() GridLayout {
	return GridLayout{StartHour: DefaultStartHour, EndHour: DefaultEndHour}
}

func (g GridLayout) Validate() error {
	if g.StartHour < 0 || g.EndHour > 24 || g.StartHour >= g.EndHour {
		return fmt.Errorf("%w: grid hours %d-%d", calendar.ErrValidation, g.StartHour, g.EndHour)
	}
	return nil
}

// Rows is the number of 15-minute rows per day.
func (g GridLayout) Rows() int {
	return (g.EndHour - g.StartHour) * 60 / calendar.SlotMinutes
}

// Times lists the start of every row.
func (g GridLayout) Times() []calendar.Clock {
	out := make([]calendar.Clock, g.Rows())
	first := calendar.NewClock(g.StartHour, 0)
	for i := range out {
		out[i] = first.Add(i * calendar.SlotMinutes)
	}
	return out
}

// Contains reports whether a row starts at c.
func (g GridLayout) Contains(c calendar.Clock) bool {
	return c.Aligned() && c >= calendar.NewClock(g.StartHour, 0) && c < calendar.NewClock(g.EndHour, 0)
}

// CellKind is the closed set of states a grid cell renders as.
type CellKind int

const (
	CellEmpty CellKind = iota
	CellAvailable
	CellBookedStart
	CellBookedMiddle
	CellBookedEnd
	CellPast
	CellPreviewSelect
	CellPreviewUnselect
)

var cellKindNames = [...]string{
	CellEmpty:           "empty",
	CellAvailable:       "available",
	CellBookedStart:     "booked-start",
	CellBookedMiddle:    "booked-middle",
	CellBookedEnd:       "booked-end",
	CellPast:            "past",
	CellPreviewSelect:   "drag-preview-select",
	CellPreviewUnselect: "drag-preview-unselect",
}

func (k CellKind) String() string {
	if k < 0 || int(k) >= len(cellKindNames) {
		return fmt.Sprintf("CellKind(%d)", int(k))
	}
	return cellKindNames[k]
}

func (k CellKind) Booked() bool {
	return k == CellBookedStart || k == CellBookedMiddle || k == CellBookedEnd
}

// Interactive is false for cells whose pointer handlers must not attach.
func (k CellKind) Interactive() bool {
	return k != CellPast
}

// CellRef addresses one cell of the grid.
type CellRef struct {
	Date calendar.Date
	Time calendar.Clock
}

func (r CellRef) String() string {
	return r.Date.String() + " " + r.Time.Short()
}

type Cell struct {
	CellRef
	Kind CellKind
	// SlotID is set when a slot exists for the cell.
	SlotID string
	// Appointment is set on booked cells.
	Appointment *calendar.Appointment
}

// Label is the text a booked-start cell shows.
func (c Cell) Label() string {
	if c.Kind != CellBookedStart || c.Appointment == nil {
		return ""
	}
	return fmt.Sprintf("%s (%d min)", c.Appointment.ClientName, c.Appointment.DurationMinutes())
}

type DayColumn struct {
	Date  calendar.Date
	Cells []Cell
}

// Grid is one rendered week.
type Grid struct {
	WeekStart calendar.Date
	Days      [DaysPerWeek]DayColumn
	// Loaded is false when the week has no settled data to show.
	Loaded bool
}

// Cell returns the cell at ref, if it lies on the grid.
func (g Grid) Cell(ref CellRef) (Cell, bool) {
	for _, day := range g.Days {
		if day.Date != ref.Date {
			continue
		}
		for _, c := range day.Cells {
			if c.Time == ref.Time {
				return c, true
			}
		}
	}
	return Cell{}, false
}

// Count tallies cells by kind.
func (g Grid) Count() map[CellKind]int {
	out := make(map[CellKind]int)
	for _, day := range g.Days {
		for _, c := range day.Cells {
			out[c.Kind]++
		}
	}
	return out
}

// classification inputs for one cell, gathered from the stores.
type cellState struct {
	appt    *calendar.Appointment
	slot    *calendar.Slot
	past    bool
	preview bool
	mode    DragMode
}

// classify decides the kind of one cell. Appointments win over slots,
// so a covered cell is never available.
func classify(ref CellRef, st cellState) Cell {
	cell := Cell{CellRef: ref}
	if st.slot != nil {
		cell.SlotID = st.slot.ID
	}

	if a := st.appt; a != nil {
		cell.Appointment = a
		at := calendar.At(ref.Date, ref.Time)
		next := at.AddMinutes(calendar.SlotMinutes)
		last := a.End.AddMinutes(-1)
		switch {
		case !a.Start.Before(at) && a.Start.Before(next):
			cell.Kind = CellBookedStart
		case !last.Before(at) && last.Before(next):
			cell.Kind = CellBookedEnd
		default:
			cell.Kind = CellBookedMiddle
		}
		return cell
	}

	switch {
	case st.past:
		cell.Kind = CellPast
	case st.preview && st.mode == DragUnselect:
		cell.Kind = CellPreviewUnselect
	case st.preview:
		cell.Kind = CellPreviewSelect
	case st.slot != nil && st.slot.Status == calendar.SlotAvailable:
		cell.Kind = CellAvailable
	default:
		cell.Kind = CellEmpty
	}
	return cell
}
