package calendar

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidWeekday is returned when a weekday label is not one of the
// seven canonical labels.
var ErrInvalidWeekday = errors.New("invalid weekday label")

// Labels lists the canonical weekday labels, Monday first.
var Labels = [7]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

// LabelOf maps a time.Weekday (Sunday = 0) to its canonical label.
func LabelOf(d time.Weekday) string {
	return Labels[(int(d)+6)%7]
}

func labelIndex(label string) (int, bool) {
	for i, l := range Labels {
		if strings.EqualFold(l, strings.TrimSpace(label)) {
			return i, true
		}
	}
	return 0, false
}

// ParseWeekdays validates a list of labels and returns them canonicalised,
// de-duplicated and sorted Monday first. An empty input yields an empty set.
func ParseWeekdays(labels []string) ([]string, error) {
	seen := make(map[int]struct{}, len(labels))
	for _, l := range labels {
		idx, ok := labelIndex(l)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrInvalidWeekday, l)
		}
		seen[idx] = struct{}{}
	}

	indexes := make([]int, 0, len(seen))
	for idx := range seen {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)

	out := make([]string, 0, len(indexes))
	for _, idx := range indexes {
		out = append(out, Labels[idx])
	}
	return out, nil
}

// Contains reports whether weekdays includes label. Matching is exact on the
// canonical form.
func Contains(weekdays []string, label string) bool {
	for _, w := range weekdays {
		if w == label {
			return true
		}
	}
	return false
}
