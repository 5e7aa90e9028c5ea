package device

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time within a day.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM" in 24 hour format.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: expected HH:MM", s)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// WorkingHours is the weekly opening schedule of the installation.
// Outside it the protocol uses testing timeouts and does not transmit.
type WorkingHours struct {
	// Days lists the open weekdays. Empty means every day.
	Days []time.Weekday
	// Start and End bound the daily window. Start after End wraps past
	// midnight; equal values mean the whole day.
	Start, End TimeOfDay
	// Location is the installation timezone. Nil means UTC.
	Location *time.Location
}

// Contains reports whether t falls inside the schedule.
func (w WorkingHours) Contains(t time.Time) bool {
	loc := w.Location
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)

	if len(w.Days) > 0 {
		open := false
		for _, d := range w.Days {
			if d == local.Weekday() {
				open = true
				break
			}
		}
		if !open {
			return false
		}
	}

	m := local.Hour()*60 + local.Minute()
	start, end := w.Start.minutes(), w.End.minutes()
	switch {
	case start == end:
		return true
	case start < end:
		return m >= start && m < end
	default:
		return m >= start || m < end
	}
}
