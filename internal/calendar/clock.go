package calendar

import "time"

// Clock supplies the current instant. Implementations must return times in
// the canonical location so civil dates are derived consistently.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock and converts it into Location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FixedClock always returns the same instant. It is meant for tests and for
// operator backfills that evaluate a specific moment.
type FixedClock struct {
	At time.Time
}

func (c FixedClock) Now() time.Time { return c.At }
