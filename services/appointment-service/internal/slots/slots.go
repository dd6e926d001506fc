// Package slots generates bookable start times for one doctor-day and filters
// them against busy intervals. Two filters are provided: a row scan that
// tests every candidate against every busy interval, and a sort-merge sweep.
// Both apply interval.Overlaps and must agree on every input.
package slots

import (
	"errors"
	"sort"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/interval"
)

const DefaultStepMinutes = 30

var (
	ErrInvalidWindow = errors.New("work_start must be before work_end and within 0..24")
	ErrInvalidStep   = errors.New("step must be at least 1 minute")
)

// Query describes one doctor-day. Day is interpreted by its calendar date in
// Location.
type Query struct {
	Day             time.Time
	Location        *time.Location
	DurationMinutes int
	WorkStartHour   int
	WorkEndHour     int
	StepMinutes     int
	Now             time.Time
}

func (q Query) Validate() error {
	if q.DurationMinutes < 1 {
		return interval.ErrNonPositiveDuration
	}
	if q.WorkStartHour < 0 || q.WorkEndHour > 24 || q.WorkStartHour >= q.WorkEndHour {
		return ErrInvalidWindow
	}
	if q.StepMinutes < 1 {
		return ErrInvalidStep
	}
	return nil
}

// Window is the working window [work_start:00, work_end:00) on the query day.
func (q Query) Window() interval.Interval {
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := q.Day.Date()
	return interval.Interval{
		Start: time.Date(y, m, d, q.WorkStartHour, 0, 0, 0, loc),
		End:   time.Date(y, m, d, q.WorkEndHour, 0, 0, 0, loc),
	}
}

// Candidates returns every future candidate interval, ascending. A candidate
// starts on a step boundary, ends no later than the window end, and starts
// strictly after Now.
func Candidates(q Query) []interval.Interval {
	if q.Validate() != nil {
		return nil
	}
	win := q.Window()
	duration := time.Duration(q.DurationMinutes) * time.Minute
	step := time.Duration(q.StepMinutes) * time.Minute

	var out []interval.Interval
	for t := win.Start; !t.Add(duration).After(win.End); t = t.Add(step) {
		if !t.After(q.Now) {
			continue
		}
		out = append(out, interval.Interval{Start: t, End: t.Add(duration)})
	}
	return out
}

// RowScan keeps candidates that overlap none of busy, checking each pair.
func RowScan(q Query, busy []interval.Interval) []time.Time {
	var out []time.Time
	for _, c := range Candidates(q) {
		if !interval.OverlapsAny(c, busy) {
			out = append(out, c.Start)
		}
	}
	return out
}

// Sweep produces the same result as RowScan in O((n+m) log n). Candidates
// share a duration, so both their starts and ends ascend; the busy intervals
// with Start < c.End only grow, and c overlaps one of them iff the largest End
// among them is after c.Start.
func Sweep(q Query, busy []interval.Interval) []time.Time {
	sorted := make([]interval.Interval, len(busy))
	copy(sorted, busy)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	var (
		out    []time.Time
		maxEnd time.Time
		opened bool
		j      int
	)
	for _, c := range Candidates(q) {
		for j < len(sorted) && sorted[j].Start.Before(c.End) {
			if !opened || sorted[j].End.After(maxEnd) {
				maxEnd = sorted[j].End
				opened = true
			}
			j++
		}
		if opened && c.Start.Before(maxEnd) {
			continue
		}
		out = append(out, c.Start)
	}
	return out
}
