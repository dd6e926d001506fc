package scheduling

import (
	"context"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
)

// Store is the persistence boundary of the engine. Every query that reads the
// active set takes includeDeleted explicitly; callers on the scheduling path
// pass false.
type Store interface {
	// InTx runs fn in one transaction, committing when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	Appointment(ctx context.Context, id string, includeDeleted bool) (model.Appointment, error)
	// ActiveInWindow returns a doctor's active-set rows overlapping [start, end), ordered by start.
	ActiveInWindow(ctx context.Context, doctorID string, start, end time.Time, includeDeleted bool) ([]model.Appointment, error)
	// ActiveOnDay returns every doctor's active-set rows starting in [start, end).
	ActiveOnDay(ctx context.Context, start, end time.Time, includeDeleted bool) ([]model.Appointment, error)
	// SetQueueOrder reports false when no live appointment has the id.
	SetQueueOrder(ctx context.Context, id string, order int) (bool, error)
	Reminders(ctx context.Context, appointmentID string) ([]model.Reminder, error)
}

// Tx is the set of writes and locking reads available inside Store.InTx.
type Tx interface {
	outbox.Emitter

	// LockDoctor serializes booking attempts for one doctor until the
	// transaction ends. A wait longer than the store's lock timeout returns
	// a TransientError wrapping ErrLockTimeout.
	LockDoctor(ctx context.Context, doctorID string) error
	// ActiveForDoctor locks and returns the doctor's active rows overlapping [start, end).
	ActiveForDoctor(ctx context.Context, doctorID string, start, end time.Time) ([]model.Appointment, error)
	// AppointmentForUpdate locks one row. Soft-deleted rows are NotFound
	// unless includeDeleted is set.
	AppointmentForUpdate(ctx context.Context, id string, includeDeleted bool) (model.Appointment, error)

	Insert(ctx context.Context, a *model.Appointment) error
	Update(ctx context.Context, a model.Appointment) error
	InsertReminders(ctx context.Context, reminders []model.Reminder) error

	// ClaimIdempotencyKey locks key for this transaction and returns the
	// appointment id recorded by an earlier successful call, if any.
	ClaimIdempotencyKey(ctx context.Context, key string) (string, error)
	FinalizeIdempotencyKey(ctx context.Context, key, appointmentID string) error
}

// Directory resolves doctors and patients owned by the CRUD side.
type Directory interface {
	Doctor(ctx context.Context, id string) (model.Party, error)
	Patient(ctx context.Context, id string) (model.Party, error)
}

// Invalidator drops cached availability for a doctor-day.
type Invalidator interface {
	Invalidate(ctx context.Context, doctorID string, day time.Time) error
}

// ReminderPlanner decides which reminder records a new booking gets.
type ReminderPlanner interface {
	Plan(ctx context.Context, appt model.Appointment, patient model.Party, now time.Time) []model.Reminder
}
