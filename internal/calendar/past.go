package calendar

import (
	"fmt"
	"time"
)

// EarliestBookable is the first (date, time) at which a slot may still be
// created: now with its minute rounded up to the next slot boundary.
func EarliestBookable(now time.Time) DateTime {
	today := DateOf(now)
	c, carry := RoundUpToSlot(now.Hour(), now.Minute())
	if carry {
		today = today.AddDays(1)
	}
	return DateTime{Date: today, Time: c}
}

// IsPast reports whether the cell at (d, c) lies strictly before the
// rounded-up now.
func IsPast(d Date, c Clock, now time.Time) bool {
	return At(d, c).Before(EarliestBookable(now))
}

// CheckNotPast returns ErrPastTime for cells before the rounded-up now.
func CheckNotPast(d Date, c Clock, now time.Time) error {
	if IsPast(d, c, now) {
		return fmt.Errorf("%w: %s %s is before %s", ErrPastTime, d, c.Short(), EarliestBookable(now))
	}
	return nil
}
