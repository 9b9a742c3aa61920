package controller

import "github.com/dan22333/theravillage/internal/calendar"

type DragMode int

const (
	DragNone DragMode = iota
	DragSelect
	DragUnselect
)

func (m DragMode) String() string {
	switch m {
	case DragSelect:
		return "select"
	case DragUnselect:
		return "unselect"
	default:
		return "none"
	}
}

type IntentKind int

const (
	// IntentNone means the gesture produced nothing to do.
	IntentNone IntentKind = iota
	// IntentSlots is a batch of slot creates or deletes.
	IntentSlots
	// IntentOpenAppointment asks for the detail view of a booked cell.
	IntentOpenAppointment
)

// SlotDelete names a slot to remove and the cell it occupies.
type SlotDelete struct {
	Cell   CellRef
	SlotID string
}

// Intent is what a finished gesture asks the controller to do.
type Intent struct {
	Kind          IntentKind
	Mode          DragMode
	Creates       []CellRef
	Deletes       []SlotDelete
	AppointmentID string
}

// Ops is the number of slot operations in the intent.
func (in Intent) Ops() int {
	return len(in.Creates) + len(in.Deletes)
}

// dragState is the in-progress gesture. preview keeps insertion order so
// batches are issued deterministically.
type dragState struct {
	active     bool
	committing bool
	mode       DragMode
	preview    map[CellRef]struct{}
	order      []CellRef
}

func (d *dragState) start(ref CellRef, mode DragMode) {
	d.active = true
	d.mode = mode
	d.preview = map[CellRef]struct{}{ref: {}}
	d.order = []CellRef{ref}
}

func (d *dragState) add(ref CellRef) {
	if _, ok := d.preview[ref]; ok {
		return
	}
	d.preview[ref] = struct{}{}
	d.order = append(d.order, ref)
}

func (d *dragState) has(ref CellRef) bool {
	_, ok := d.preview[ref]
	return ok
}

func (d *dragState) reset() {
	*d = dragState{}
}

// PointerDown starts a gesture. A booked cell short-circuits to its
// appointment; past cells and cells off the grid are ignored, as is any
// gesture while a batch is still settling.
func (c *Controller) PointerDown(ref CellRef) Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drag.committing || !c.onGridLocked(ref) {
		return Intent{}
	}
	cell := c.cellLocked(ref)
	if cell.Kind.Booked() {
		c.drag.reset()
		return Intent{Kind: IntentOpenAppointment, AppointmentID: cell.Appointment.ID}
	}
	if cell.Kind == CellPast {
		return Intent{}
	}

	mode := DragSelect
	if cell.Kind == CellAvailable {
		mode = DragUnselect
	}
	c.drag.start(ref, mode)
	return Intent{}
}

// PointerEnter extends the preview while dragging. Booked and past cells
// never join it.
func (c *Controller) PointerEnter(ref CellRef) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.drag.active || c.drag.committing || !c.onGridLocked(ref) {
		return
	}
	if c.drag.has(ref) {
		return
	}
	if kind := c.cellLocked(ref).Kind; kind.Booked() || kind == CellPast {
		return
	}
	c.drag.add(ref)
}

// PointerUp finishes the gesture and returns the batch it implies. A
// pointer-up with no gesture in progress is a one-cell click on ref. The
// preview stays visible until Commit settles the batch.
func (c *Controller) PointerUp(ref CellRef) Intent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.drag.committing {
		return Intent{}
	}
	if !c.drag.active {
		if !c.onGridLocked(ref) {
			return Intent{}
		}
		cell := c.cellLocked(ref)
		switch {
		case cell.Kind.Booked():
			return Intent{Kind: IntentOpenAppointment, AppointmentID: cell.Appointment.ID}
		case cell.Kind == CellPast:
			return Intent{}
		case cell.Kind == CellAvailable:
			c.drag.start(ref, DragUnselect)
		default:
			c.drag.start(ref, DragSelect)
		}
	} else if c.onGridLocked(ref) && !c.drag.has(ref) {
		if kind := c.cellLocked(ref).Kind; !kind.Booked() && kind != CellPast {
			c.drag.add(ref)
		}
	}

	in := Intent{Kind: IntentSlots, Mode: c.drag.mode}
	for _, cell := range c.drag.order {
		slot, hasSlot := c.slots.At(cell.Date, cell.Time)
		if _, booked := c.appts.Covering(cell.Date, cell.Time); booked {
			continue
		}
		switch c.drag.mode {
		case DragSelect:
			if !hasSlot {
				in.Creates = append(in.Creates, cell)
			}
		case DragUnselect:
			if hasSlot && slot.Status == calendar.SlotAvailable {
				in.Deletes = append(in.Deletes, SlotDelete{Cell: cell, SlotID: slot.ID})
			}
		}
	}

	c.drag.active = false
	if in.Ops() == 0 {
		c.drag.reset()
		return Intent{}
	}
	c.drag.committing = true
	return in
}

// CancelDrag abandons an uncommitted gesture.
func (c *Controller) CancelDrag() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drag.committing {
		c.drag.reset()
	}
}

// Dragging reports the active mode, DragNone when idle.
func (c *Controller) Dragging() DragMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.drag.active && !c.drag.committing {
		return DragNone
	}
	return c.drag.mode
}
