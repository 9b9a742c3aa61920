package calendar

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Date is a calendar date with no time or zone component. All grid
// arithmetic runs on its integer fields so that no local-time object can
// shift a rendered day.
type Date struct {
	Year  int
	Month int
	Day   int
}

// NewDate builds a Date, rejecting impossible components.
func NewDate(year, month, day int) (Date, error) {
	if month < 1 || month > 12 {
		return Date{}, fmt.Errorf("%w: month %d out of range", ErrValidation, month)
	}
	if day < 1 || day > daysIn(year, month) {
		return Date{}, fmt.Errorf("%w: day %d out of range for %04d-%02d", ErrValidation, day, year, month)
	}
	return Date{Year: year, Month: month, Day: day}, nil
}

// ParseDate accepts the YYYY-MM-DD form used on the wire.
func ParseDate(s string) (Date, error) {
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return Date{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
	}
	var n [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return Date{}, fmt.Errorf("%w: invalid date %q", ErrValidation, s)
		}
		n[i] = v
	}
	return NewDate(n[0], n[1], n[2])
}

// MustParseDate is ParseDate for literals in tests and seed data.
func MustParseDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// DateOf takes the wall-clock date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: int(m), Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, d.Month, d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Date) UnmarshalText(b []byte) error {
	parsed, err := ParseDate(string(b))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// AddDays moves the date by n days (n may be negative).
func (d Date) AddDays(n int) Date {
	return fromOrdinal(d.ordinal() + n)
}

// DaysUntil returns the number of days from d to other.
func (d Date) DaysUntil(other Date) int {
	return other.ordinal() - d.ordinal()
}

// Compare returns -1, 0 or 1.
func (d Date) Compare(other Date) int {
	switch a, b := d.ordinal(), other.ordinal(); {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func (d Date) Before(other Date) bool { return d.Compare(other) < 0 }
func (d Date) After(other Date) bool  { return d.Compare(other) > 0 }

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func (d Date) ISOWeekday() int {
	// ordinal 0 is 1970-01-01, a Thursday (ISO 4).
	w := (d.ordinal()%7 + 7 + 3) % 7
	return w + 1
}

// MondayOf returns the Monday of the ISO week containing d.
func MondayOf(d Date) Date {
	switch wd := d.ISOWeekday(); wd {
	case 7:
		return d.AddDays(-6)
	case 1:
		return d
	default:
		return d.AddDays(-(wd - 1))
	}
}

// WeekDates returns the seven consecutive dates starting at monday.
func WeekDates(monday Date) [7]Date {
	var week [7]Date
	for i := range week {
		week[i] = monday.AddDays(i)
	}
	return week
}

// ordinal counts days since 1970-01-01 on the proleptic Gregorian calendar.
func (d Date) ordinal() int {
	y := d.Year
	if d.Month <= 2 {
		y--
	}
	era := floorDiv(y, 400)
	yoe := y - era*400
	mp := (d.Month + 9) % 12
	doy := (153*mp+2)/5 + d.Day - 1
	doe := yoe*365 + yoe/4 - yoe/100 + doy
	return era*146097 + doe - 719468
}

func fromOrdinal(z int) Date {
	z += 719468
	era := floorDiv(z, 146097)
	doe := z - era*146097
	yoe := (doe - doe/1460 + doe/36524 - doe/146096) / 365
	y := yoe + era*400
	doy := doe - (365*yoe + yoe/4 - yoe/100)
	mp := (5*doy + 2) / 153
	day := doy - (153*mp+2)/5 + 1
	month := mp + 3
	if month > 12 {
		month -= 12
	}
	if month <= 2 {
		y++
	}
	return Date{Year: y, Month: month, Day: day}
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func isLeap(y int) bool {
	return y%4 == 0 && (y%100 != 0 || y%400 == 0)
}

func daysIn(year, month int) int {
	switch month {
	case 2:
		if isLeap(year) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}
