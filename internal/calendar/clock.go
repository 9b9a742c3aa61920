package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotMinutes is the fixed granularity of availability slots and grid cells.
const SlotMinutes = 15

const minutesPerDay = 24 * 60

// Clock is a wall-clock time of day in whole minutes since midnight.
// 24:00 is representable as an exclusive end bound.
type Clock int

func NewClock(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts HH:MM or HH:MM:SS. Seconds must be zero.
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, s)
	}
	var n [3]int
	for i, p := range parts {
		if len(p) != 2 {
			return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, s)
		}
		v, err := strconv.Atoi(p)
		if err != nil {
			return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, s)
		}
		n[i] = v
	}
	h, m, sec := n[0], n[1], n[2]
	if m > 59 || sec != 0 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("%w: invalid time %q", ErrValidation, s)
	}
	return NewClock(h, m), nil
}

// MustParseClock is ParseClock for literals.
func MustParseClock(s string) Clock {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf takes the wall-clock hour and minute of t, dropping seconds.
func ClockOf(t time.Time) Clock {
	return NewClock(t.Hour(), t.Minute())
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

// String renders HH:MM:SS, the form the backend stores.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d:00", c.Hour(), c.Minute())
}

// Short renders HH:MM for display.
func (c Clock) Short() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clock) UnmarshalText(b []byte) error {
	parsed, err := ParseClock(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Add returns c moved by minutes without wrapping past midnight.
func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// Aligned reports whether c sits on a slot boundary.
func (c Clock) Aligned() bool {
	return int(c)%SlotMinutes == 0
}

// SlotEnd is the exclusive end of the slot starting at c.
func (c Clock) SlotEnd() Clock {
	return c.Add(SlotMinutes)
}

// RoundUpToSlot rounds minute up to the next slot boundary, carrying into
// the next hour when it reaches 60. The returned carry is true when the
// result crosses midnight, in which case the clock is 00:00 of the next day.
func RoundUpToSlot(hour, minute int) (Clock, bool) {
	rounded := (minute + SlotMinutes - 1) / SlotMinutes * SlotMinutes
	if rounded == 60 {
		hour++
		rounded = 0
	}
	if hour >= 24 {
		return NewClock(hour-24, rounded), true
	}
	return NewClock(hour, rounded), false
}
