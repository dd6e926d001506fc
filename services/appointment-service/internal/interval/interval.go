// Package interval models half-open time ranges [Start, End) and the single
// overlap rule shared by conflict checks, booking and slot generation.
package interval

import (
	"errors"
	"time"
)

// Booking bounds for newly created appointments. Persisted rows may carry
// other durations.
const (
	MinBookingMinutes = 15
	MaxBookingMinutes = 480
)

var ErrNonPositiveDuration = errors.New("duration must be at least 1 minute")

type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start time.Time, minutes int) (Interval, error) {
	if minutes < 1 {
		return Interval{}, ErrNonPositiveDuration
	}
	return Of(start, minutes), nil
}

// Of builds an interval without validation, for rows already persisted.
func Of(start time.Time, minutes int) Interval {
	return Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

// Overlaps is true iff a.Start < b.End && b.Start < a.End. Back-to-back
// intervals do not overlap.
func (a Interval) Overlaps(b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

func (a Interval) Duration() time.Duration {
	return a.End.Sub(a.Start)
}

func OverlapsAny(a Interval, others []Interval) bool {
	for _, b := range others {
		if a.Overlaps(b) {
			return true
		}
	}
	return false
}

// BookableMinutes reports whether minutes is an acceptable length for a new booking.
func BookableMinutes(minutes int) bool {
	return minutes >= MinBookingMinutes && minutes <= MaxBookingMinutes
}
