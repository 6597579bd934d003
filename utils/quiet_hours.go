package utils

import (
	"time"
)

// QuietHours is a blocked local time-of-day range. Start after End wraps
// over midnight.
type QuietHours struct {
	StartM int
	EndM   int
}

// NewQuietHours builds a range from "HH:MM" strings.
func NewQuietHours(start, end string) (QuietHours, error) {
	s, err := ParseClock(start)
	if err != nil {
		return QuietHours{}, err
	}
	e, err := ParseClock(end)
	if err != nil {
		return QuietHours{}, err
	}
	return QuietHours{StartM: s, EndM: e}, nil
}

// Override replaces bounds with per-user values when both parse.
func (q QuietHours) Override(start, end *string) QuietHours {
	if start == nil || end == nil {
		return q
	}
	o, err := NewQuietHours(*start, *end)
	if err != nil {
		return q
	}
	return o
}

// Contains evaluates now on the wall clock of loc. Minutes are compared,
// not hours, so zones with half-hour offsets land on the right side of
// the boundary.
func (q QuietHours) Contains(now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	return InWindow(MinuteOfDay(now.In(loc)), q.StartM, q.EndM)
}
