/**
 * @description
 * Pure calendar arithmetic for certification schedules. Every function here is
 * deterministic given its inputs; callers are expected to pass instants that
 * are already in the service's canonical location.
 */
package calendar

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// maxLookback bounds the backward search for the last scheduled day.
const maxLookback = 7

// ErrInvalidCutoff is returned when a cutoff time string cannot be parsed.
var ErrInvalidCutoff = errors.New("invalid cutoff time")

// ParseCutoff accepts "HH:MM" or "HH:MM:SS[.fffffffff]".
func ParseCutoff(s string) (civil.Time, error) {
	if len(s) == len("15:04") {
		s += ":00"
	}
	t, err := civil.ParseTime(s)
	if err != nil {
		return civil.Time{}, fmt.Errorf("%w: %q", ErrInvalidCutoff, s)
	}
	return t, nil
}

// WeekdayOf returns the day of the week date falls on.
func WeekdayOf(date civil.Date) time.Weekday {
	return date.In(time.UTC).Weekday()
}

// IsScheduledDay reports whether date falls on one of the weekdays.
func IsScheduledDay(date civil.Date, weekdays []string) bool {
	return Contains(weekdays, LabelOf(WeekdayOf(date)))
}

// IsPastCutoff reports whether the time-of-day of now is strictly after
// cutoff. The date part of now is ignored.
func IsPastCutoff(now time.Time, cutoff civil.Time) bool {
	return nanosOfDay(civil.TimeOf(now)) > nanosOfDay(cutoff)
}

// NearestApplicableDate returns the most recent scheduled date whose cutoff
// has already passed at now: today when today is scheduled and now is past
// the cutoff, otherwise the closest scheduled day in the previous seven
// days. The boolean is false when weekdays is empty.
func NearestApplicableDate(now time.Time, weekdays []string, cutoff civil.Time) (civil.Date, bool) {
	today := civil.DateOf(now)
	if IsScheduledDay(today, weekdays) && IsPastCutoff(now, cutoff) {
		return today, true
	}
	for i := 1; i <= maxLookback; i++ {
		candidate := today.AddDays(-i)
		if IsScheduledDay(candidate, weekdays) {
			return candidate, true
		}
	}
	return civil.Date{}, false
}

// PreviousDay is the fixed one-day lookback used by the penalty sweep.
func PreviousDay(now time.Time) civil.Date {
	return civil.DateOf(now).AddDays(-1)
}

func nanosOfDay(t civil.Time) int64 {
	return int64(t.Hour)*int64(time.Hour) +
		int64(t.Minute)*int64(time.Minute) +
		int64(t.Second)*int64(time.Second) +
		int64(t.Nanosecond)
}
