package calendar

import (
	"fmt"
	"strings"
	"time"
)

// DateTime is a timezone-naive wall-clock instant, used only for
// appointment bounds. It never passes through a local-time conversion.
type DateTime struct {
	Date Date
	Time Clock
}

func At(d Date, c Clock) DateTime {
	return DateTime{Date: d, Time: c}.normalize()
}

// ParseDateTime accepts "YYYY-MM-DDTHH:MM[:SS]" or the same with a space.
// Fractional seconds and zone suffixes are rejected.
func ParseDateTime(s string) (DateTime, error) {
	s = strings.TrimSpace(s)
	sep := strings.IndexAny(s, "T ")
	if sep < 0 {
		return DateTime{}, fmt.Errorf("%w: invalid timestamp %q", ErrValidation, s)
	}
	d, err := ParseDate(s[:sep])
	if err != nil {
		return DateTime{}, err
	}
	c, err := ParseClock(s[sep+1:])
	if err != nil {
		return DateTime{}, err
	}
	return At(d, c), nil
}

func MustParseDateTime(s string) DateTime {
	dt, err := ParseDateTime(s)
	if err != nil {
		panic(err)
	}
	return dt
}

// DateTimeOf reads the wall-clock components of t.
func DateTimeOf(t time.Time) DateTime {
	return DateTime{Date: DateOf(t), Time: ClockOf(t)}
}

func (dt DateTime) String() string {
	return dt.Date.String() + "T" + dt.Time.String()
}

func (dt DateTime) IsZero() bool {
	return dt.Date.IsZero() && dt.Time == 0
}

func (dt DateTime) MarshalText() ([]byte, error) {
	return []byte(dt.String()), nil
}

func (dt *DateTime) UnmarshalText(b []byte) error {
	parsed, err := ParseDateTime(string(b))
	if err != nil {
		return err
	}
	*dt = parsed
	return nil
}

// AddMinutes moves dt, carrying whole days through the date components.
func (dt DateTime) AddMinutes(n int) DateTime {
	return DateTime{Date: dt.Date, Time: dt.Time + Clock(n)}.normalize()
}

// MinutesUntil returns the signed number of minutes from dt to other.
func (dt DateTime) MinutesUntil(other DateTime) int {
	return dt.Date.DaysUntil(other.Date)*minutesPerDay + int(other.Time-dt.Time)
}

func (dt DateTime) Compare(other DateTime) int {
	if c := dt.Date.Compare(other.Date); c != 0 {
		return c
	}
	switch {
	case dt.Time < other.Time:
		return -1
	case dt.Time > other.Time:
		return 1
	}
	return 0
}

func (dt DateTime) Before(other DateTime) bool { return dt.Compare(other) < 0 }
func (dt DateTime) After(other DateTime) bool  { return dt.Compare(other) > 0 }

// UTCTime carries the wall-clock components into a time.Time in UTC. It is
// only meant for storage drivers that need a time.Time value.
func (dt DateTime) UTCTime() time.Time {
	return time.Date(dt.Date.Year, time.Month(dt.Date.Month), dt.Date.Day,
		dt.Time.Hour(), dt.Time.Minute(), 0, 0, time.UTC)
}

func (dt DateTime) normalize() DateTime {
	days := floorDiv(int(dt.Time), minutesPerDay)
	if days == 0 {
		return dt
	}
	return DateTime{Date: dt.Date.AddDays(days), Time: dt.Time - Clock(days*minutesPerDay)}
}
