package scheduling

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/interval"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
)

// Conflicting is the advisory check: it reads the doctor's active set
// without locking and returns every appointment overlapping the proposed
// interval. It never gates a write; Book re-checks under the doctor lock.
// Past start times are not rejected here.
func (s *Service) Conflicting(ctx context.Context, doctorID string, start time.Time, minutes int) ([]Conflict, error) {
	if !interval.BookableMinutes(minutes) {
		return nil, invalid("duration_minutes", durationReason)
	}
	if _, err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	iv := interval.Of(start, minutes)
	rows, err := s.store.ActiveInWindow(ctx, doctorID, iv.Start, iv.End, false)
	if err != nil {
		return nil, err
	}
	return overlapping(rows, iv, ""), nil
}

func (s *Service) HasConflict(ctx context.Context, doctorID string, start time.Time, minutes int) (bool, error) {
	conflicts, err := s.Conflicting(ctx, doctorID, start, minutes)
	if err != nil {
		return false, err
	}
	return len(conflicts) > 0, nil
}

// overlapping filters rows down to active-set members overlapping iv,
// skipping excludeID.
func overlapping(rows []model.Appointment, iv interval.Interval, excludeID string) []Conflict {
	var out []Conflict
	for _, a := range rows {
		if a.ID == excludeID || !a.InActiveSet() {
			continue
		}
		if a.Interval().Overlaps(iv) {
			out = append(out, ConflictOf(a))
		}
	}
	return out
}

var durationReason = fmt.Sprintf("must be between %d and %d minutes", interval.MinBookingMinutes, interval.MaxBookingMinutes)
