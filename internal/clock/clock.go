package clock

import (
	"fmt"
	"sync"
	"time"
)

// DayLayout is the ISO calendar-date format used for event days.
const DayLayout = "2006-01-02"

// Clock is the source of wall time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Real returns the system clock.
func Real() Clock { return realClock{} }

// Fake is a settable clock for tests. It is safe for concurrent use.
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Calendar does all day-boundary math in one canonical location so that
// every client agrees on what "today" is.
type Calendar struct {
	clock Clock
	loc   *time.Location
}

func NewCalendar(c Clock, loc *time.Location) *Calendar {
	if c == nil {
		c = Real()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{clock: c, loc: loc}
}

// LoadCalendar resolves an IANA timezone name.
func LoadCalendar(c Clock, tz string) (*Calendar, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return NewCalendar(c, loc), nil
}

func (c *Calendar) Now() time.Time {
	return c.clock.Now().In(c.loc)
}

func (c *Calendar) Location() *time.Location {
	return c.loc
}

// Today returns the current calendar date as YYYY-MM-DD.
func (c *Calendar) Today() string {
	return c.DayOf(c.clock.Now())
}

func (c *Calendar) DayOf(t time.Time) string {
	return t.In(c.loc).Format(DayLayout)
}

// ParseDay parses a YYYY-MM-DD date as midnight in the calendar's location.
func (c *Calendar) ParseDay(day string) (time.Time, error) {
	return time.ParseInLocation(DayLayout, day, c.loc)
}

// DaysBetween returns the number of calendar-day boundaries crossed going
// from a to b. It is negative when b is on an earlier day than a.
func (c *Calendar) DaysBetween(a, b time.Time) int {
	ay, am, ad := a.In(c.loc).Date()
	by, bm, bd := b.In(c.loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}
