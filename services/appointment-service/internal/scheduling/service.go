// Package scheduling is the appointment engine: conflict detection, the
// locking booking protocol, the status state machine, the same-day queue and
// the availability query path.
package scheduling

import (
	"context"
	"time"

	otelx "github.com/clinicbook/clinicbook/libs/otel"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/audit"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const DefaultCheckInLead = time.Hour

type Options struct {
	Store     Store
	Directory Directory
	// Slots defaults to a SweepSource over Store.
	Slots     SlotSource
	Cache     Invalidator
	Reminders ReminderPlanner
	Audit     *audit.Recorder
	Location  *time.Location
	Now       func() time.Time
	Logger    *zap.Logger
	// CheckInLead is how long before start a patient may check in.
	CheckInLead time.Duration
}

type Service struct {
	store       Store
	dir         Directory
	slots       SlotSource
	cache       Invalidator
	reminders   ReminderPlanner
	audit       *audit.Recorder
	loc         *time.Location
	now         func() time.Time
	logger      *zap.Logger
	tracer      trace.Tracer
	checkInLead time.Duration
}

func NewService(opts Options) *Service {
	s := &Service{
		store:       opts.Store,
		dir:         opts.Directory,
		slots:       opts.Slots,
		cache:       opts.Cache,
		reminders:   opts.Reminders,
		audit:       opts.Audit,
		loc:         opts.Location,
		now:         opts.Now,
		logger:      opts.Logger,
		checkInLead: opts.CheckInLead,
		tracer:      otelx.Tracer("github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"),
	}
	if s.loc == nil {
		s.loc = time.UTC
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.slots == nil {
		s.slots = SweepSource{Store: s.store}
	}
	if s.cache == nil {
		s.cache = noopInvalidator{}
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder(s.now)
	}
	if s.checkInLead <= 0 {
		s.checkInLead = DefaultCheckInLead
	}
	return s
}

// Location is the clinic's local timezone; calendar dates are read in it.
func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) Now() time.Time { return s.now() }

// DayStart returns local midnight of the calendar day containing t.
func (s *Service) DayStart(t time.Time) time.Time {
	y, m, d := t.In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) Appointment(ctx context.Context, id string, includeDeleted bool) (model.Appointment, error) {
	return s.store.Appointment(ctx, id, includeDeleted)
}

func (s *Service) Reminders(ctx context.Context, appointmentID string) ([]model.Reminder, error) {
	if _, err := s.store.Appointment(ctx, appointmentID, true); err != nil {
		return nil, err
	}
	return s.store.Reminders(ctx, appointmentID)
}

// requireDoctor resolves an active doctor or returns a NotFoundError.
func (s *Service) requireDoctor(ctx context.Context, id string) (model.Party, error) {
	doc, err := s.dir.Doctor(ctx, id)
	if err != nil {
		return model.Party{}, err
	}
	if !doc.Active {
		return model.Party{}, &NotFoundError{Entity: "doctor", ID: id}
	}
	return doc, nil
}

// invalidate runs after commit; a cache outage never fails the request.
func (s *Service) invalidate(ctx context.Context, doctorID string, start time.Time) {
	day := s.DayStart(start)
	if err := s.cache.Invalidate(ctx, doctorID, day); err != nil {
		s.logger.Warn("availability cache invalidation failed",
			zap.String("doctor_id", doctorID),
			zap.String("date", day.Format(time.DateOnly)),
			zap.Error(err),
		)
	}
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string, time.Time) error { return nil }
