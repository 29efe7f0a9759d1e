// Package window tracks calendar-day boundaries in a fixed reference
// timezone. Everything here is a pure function of the injected clock; the
// ledger owns the mutation that happens when a window rolls over.
package window

import (
	"fmt"
	"time"
)

// Clock abstracts wall-clock time so tests can move across midnight.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Date is a calendar date with no time-of-day or zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

const dateLayout = "2006-01-02"

// DateOf returns the calendar date of t as observed in loc.
func DateOf(t time.Time, loc *time.Location) Date {
	y, m, d := t.In(loc).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse window date %q: %w", s, err)
	}
	return DateOf(t, time.UTC), nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// Start returns midnight of d in loc.
func (d Date) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns the date n days after d.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC), time.UTC)
}

// Manager answers "what day is it" in the reference timezone.
type Manager struct {
	loc   *time.Location
	clock Clock
}

// NewManager creates a Manager. A nil location means UTC, a nil clock means
// the system clock.
func NewManager(loc *time.Location, clock Clock) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Manager{loc: loc, clock: clock}
}

// Location returns the reference timezone.
func (m *Manager) Location() *time.Location {
	return m.loc
}

// Now returns the current instant from the injected clock.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}

// CurrentWindowDate returns today's date in the reference timezone.
func (m *Manager) CurrentWindowDate() Date {
	return DateOf(m.clock.Now(), m.loc)
}

// CheckRollover reports whether a counter valid for stateDate belongs to a
// window that has already ended. A zero stateDate always rolls over.
func (m *Manager) CheckRollover(stateDate Date) bool {
	return stateDate != m.CurrentWindowDate()
}

// NextBoundary returns the instant the current window ends.
func (m *Manager) NextBoundary() time.Time {
	return m.CurrentWindowDate().AddDays(1).Start(m.loc)
}
