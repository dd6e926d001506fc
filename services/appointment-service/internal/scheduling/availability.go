package scheduling

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/interval"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/slots"
	"go.uber.org/zap"
)

// ErrSourceUnavailable marks a slot source whose backing infrastructure is
// missing, e.g. a database function that was never migrated.
var ErrSourceUnavailable = errors.New("slot source unavailable")

// SlotSource computes the free start times for one doctor-day. All
// implementations return identical ordered results for identical inputs.
type SlotSource interface {
	Slots(ctx context.Context, doctorID string, q slots.Query) ([]time.Time, error)
}

// RowScanSource loads the doctor's active rows for the window and tests every
// candidate against every row.
type RowScanSource struct {
	Store Store
}

func (r RowScanSource) Slots(ctx context.Context, doctorID string, q slots.Query) ([]time.Time, error) {
	busy, err := busyIntervals(ctx, r.Store, doctorID, q)
	if err != nil {
		return nil, err
	}
	return slots.RowScan(q, busy), nil
}

// SweepSource is the in-process set-oriented path.
type SweepSource struct {
	Store Store
}

func (s SweepSource) Slots(ctx context.Context, doctorID string, q slots.Query) ([]time.Time, error) {
	busy, err := busyIntervals(ctx, s.Store, doctorID, q)
	if err != nil {
		return nil, err
	}
	return slots.Sweep(q, busy), nil
}

func busyIntervals(ctx context.Context, store Store, doctorID string, q slots.Query) ([]interval.Interval, error) {
	win := q.Window()
	rows, err := store.ActiveInWindow(ctx, doctorID, win.Start, win.End, false)
	if err != nil {
		return nil, err
	}
	busy := make([]interval.Interval, 0, len(rows))
	for _, a := range rows {
		if a.InActiveSet() {
			busy = append(busy, a.Interval())
		}
	}
	return busy, nil
}

// FallbackSource serves from Primary until it reports ErrSourceUnavailable,
// then switches to Fallback for the life of the process.
type FallbackSource struct {
	Primary  SlotSource
	Fallback SlotSource
	Logger   *zap.Logger

	degraded atomic.Bool
}

func (f *FallbackSource) Slots(ctx context.Context, doctorID string, q slots.Query) ([]time.Time, error) {
	if f.degraded.Load() {
		return f.Fallback.Slots(ctx, doctorID, q)
	}
	out, err := f.Primary.Slots(ctx, doctorID, q)
	if errors.Is(err, ErrSourceUnavailable) {
		if f.degraded.CompareAndSwap(false, true) && f.Logger != nil {
			f.Logger.Warn("set-oriented availability unavailable, using row scan", zap.Error(err))
		}
		return f.Fallback.Slots(ctx, doctorID, q)
	}
	return out, err
}

func (f *FallbackSource) Degraded() bool { return f.degraded.Load() }

type AvailabilityRequest struct {
	DoctorID        string
	Day             time.Time
	DurationMinutes int
	WorkStartHour   int
	WorkEndHour     int
	StepMinutes     int
}

// Availability lists bookable start times for a doctor on a clinic-local
// date, ascending. Times at or before now are never returned.
func (s *Service) Availability(ctx context.Context, req AvailabilityRequest) ([]time.Time, error) {
	if req.StepMinutes == 0 {
		req.StepMinutes = slots.DefaultStepMinutes
	}
	if !interval.BookableMinutes(req.DurationMinutes) {
		return nil, invalid("duration_minutes", durationReason)
	}
	q := slots.Query{
		Day:             s.DayStart(req.Day),
		Location:        s.loc,
		DurationMinutes: req.DurationMinutes,
		WorkStartHour:   req.WorkStartHour,
		WorkEndHour:     req.WorkEndHour,
		StepMinutes:     req.StepMinutes,
		Now:             s.now(),
	}
	if err := q.Validate(); err != nil {
		return nil, invalid("window", err.Error())
	}
	if _, err := s.requireDoctor(ctx, req.DoctorID); err != nil {
		return nil, err
	}
	return s.slots.Slots(ctx, req.DoctorID, q)
}

// ActiveOnly keeps active-set rows; stores that filter in memory share it.
func ActiveOnly(rows []model.Appointment, includeDeleted bool) []model.Appointment {
	out := rows[:0:0]
	for _, a := range rows {
		if !a.Status.Active() {
			continue
		}
		if a.DeletedAt != nil && !includeDeleted {
			continue
		}
		out = append(out, a)
	}
	return out
}
