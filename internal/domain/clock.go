package domain

import "time"

// Clock reads the current time in the exchange time zone.
type Clock struct {
	now func() time.Time
	loc *time.Location
}

// NewClock returns a clock for loc. A nil now uses time.Now.
func NewClock(loc *time.Location, now func() time.Time) Clock {
	if now == nil {
		now = time.Now
	}
	if loc == nil {
		loc = time.UTC
	}
	return Clock{now: now, loc: loc}
}

// Now returns the current time in the exchange time zone.
func (c Clock) Now() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now().In(c.Location())
}

// Location returns the exchange time zone.
func (c Clock) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}

// Today returns the current trading-day key.
func (c Clock) Today() string {
	return DateKey(c.Now())
}
