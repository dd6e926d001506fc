package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const DefaultLockTimeout = 5 * time.Second

const appointmentColumns = `
	id::text, doctor_id::text, patient_id::text, patient_label, start_time, duration_minutes,
	appointment_type, urgency, is_walk_in, reason, status, queue_order,
	checked_in_at, checked_out_at, cancelled_at, reminder_sent_at,
	COALESCE(cancelled_by, ''), COALESCE(cancellation_reason, ''), COALESCE(rescheduled_from::text, ''),
	deleted_at, created_at, updated_at`

// Store is the Postgres scheduling.Store. Booking serialization relies on a
// row per doctor in doctor_booking_locks plus the appointments exclusion
// constraint as a backstop.
type Store struct {
	pool        *db.Pool
	outbox      *outbox.Repository
	lockTimeout time.Duration
}

var _ scheduling.Store = (*Store)(nil)

func NewStore(pool *db.Pool, outboxRepo *outbox.Repository, lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if outboxRepo == nil {
		outboxRepo = outbox.NewRepository()
	}
	return &Store{pool: pool, outbox: outboxRepo, lockTimeout: lockTimeout}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	err := s.pool.InTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, store: s, locked: make(map[string]bool)})
	})
	return classify("transaction", err)
}

func (s *Store) Appointment(ctx context.Context, id string, includeDeleted bool) (model.Appointment, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND ($2 OR deleted_at IS NULL)
	`, id, includeDeleted)
	a, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, notFound("appointment", id, err)
	}
	return a, nil
}

func (s *Store) ActiveInWindow(ctx context.Context, doctorID string, start, end time.Time, includeDeleted bool) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status = ANY($2)
			AND ($5 OR deleted_at IS NULL)
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time, id
	`, doctorID, activeStatuses(), start, end, includeDeleted)
	if err != nil {
		return nil, classify("active in window", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
	return out, classify("active in window", err)
}

func (s *Store) ActiveOnDay(ctx context.Context, start, end time.Time, includeDeleted bool) ([]model.Appointment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = ANY($1)
			AND ($4 OR deleted_at IS NULL)
			AND start_time >= $2
			AND start_time < $3
		ORDER BY start_time, id
	`, activeStatuses(), start, end, includeDeleted)
	if err != nil {
		return nil, classify("active on day", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
	return out, classify("active on day", err)
}

func (s *Store) SetQueueOrder(ctx context.Context, id string, order int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE appointments
		SET queue_order = $2, updated_at = now()
		WHERE id = $1 AND deleted_at IS NULL
	`, id, order)
	if db.IsInvalidText(err) {
		return false, nil
	}
	if err != nil {
		return false, classify("set queue order", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Reminders(ctx context.Context, appointmentID string) ([]model.Reminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, appointment_id::text, channel, recipient, remind_at, status,
			attempts, COALESCE(last_error, ''), sent_at, updated_at
		FROM appointment_reminders
		WHERE appointment_id = $1
		ORDER BY remind_at, id
	`, appointmentID)
	if err != nil {
		return nil, classify("reminders", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Reminder, error) {
		var r model.Reminder
		var status string
		err := row.Scan(&r.ID, &r.AppointmentID, &r.Channel, &r.Recipient, &r.RemindAt, &status,
			&r.Attempts, &r.LastError, &r.SentAt, &r.UpdatedAt)
		r.Status = model.ReminderStatus(status)
		return r, err
	})
	return out, classify("reminders", err)
}

type pgTx struct {
	tx     pgx.Tx
	store  *Store
	locked map[string]bool
	bound  bool
}

var _ scheduling.Tx = (*pgTx)(nil)

// boundLocks caps every lock wait in this transaction at the store's timeout.
func (t *pgTx) boundLocks(ctx context.Context) error {
	if t.bound {
		return nil
	}
	ms := fmt.Sprintf("%dms", t.store.lockTimeout.Milliseconds())
	if _, err := t.tx.Exec(ctx, `SELECT set_config('lock_timeout', $1, true)`, ms); err != nil {
		return err
	}
	t.bound = true
	return nil
}

func (t *pgTx) LockDoctor(ctx context.Context, doctorID string) error {
	if t.locked[doctorID] {
		return nil
	}
	if err := t.boundLocks(ctx); err != nil {
		return classify("lock doctor", err)
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO doctor_booking_locks (doctor_id)
		VALUES ($1)
		ON CONFLICT (doctor_id) DO NOTHING
	`, doctorID); err != nil {
		return classify("lock doctor", err)
	}
	var got string
	if err := t.tx.QueryRow(ctx, `
		SELECT doctor_id::text
		FROM doctor_booking_locks
		WHERE doctor_id = $1
		FOR UPDATE
	`, doctorID).Scan(&got); err != nil {
		return classify("lock doctor", err)
	}
	t.locked[doctorID] = true
	return nil
}

func (t *pgTx) ActiveForDoctor(ctx context.Context, doctorID string, start, end time.Time) ([]model.Appointment, error) {
	if err := t.boundLocks(ctx); err != nil {
		return nil, classify("lock active rows", err)
	}
	rows, err := t.tx.Query(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
			AND status = ANY($2)
			AND deleted_at IS NULL
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time, id
		FOR UPDATE
	`, doctorID, activeStatuses(), start, end)
	if err != nil {
		return nil, classify("lock active rows", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Appointment, error) {
		return scanAppointment(row)
	})
	return out, classify("lock active rows", err)
}

func (t *pgTx) AppointmentForUpdate(ctx context.Context, id string, includeDeleted bool) (model.Appointment, error) {
	if err := t.boundLocks(ctx); err != nil {
		return model.Appointment{}, classify("lock appointment", err)
	}
	row := t.tx.QueryRow(ctx, `SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1 AND ($2 OR deleted_at IS NULL)
		FOR UPDATE
	`, id, includeDeleted)
	a, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, notFound("appointment", id, classify("lock appointment", err))
	}
	return a, nil
}

func (t *pgTx) Insert(ctx context.Context, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments (
			id, doctor_id, patient_id, patient_label, start_time, duration_minutes, end_time,
			appointment_type, urgency, is_walk_in, reason, status, queue_order, rescheduled_from,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, '')::uuid, $15, $16)
	`, a.ID, a.DoctorID, a.PatientID, a.PatientLabel, a.Start, a.DurationMinutes, a.End(),
		string(a.Type), string(a.Urgency), a.IsWalkIn, a.Reason, string(a.Status), a.QueueOrder, a.RescheduledFrom,
		a.CreatedAt, a.UpdatedAt)
	if db.IsExclusionViolation(err) {
		return t.store.exclusionConflict(ctx, *a)
	}
	return classify("insert appointment", err)
}

func (t *pgTx) Update(ctx context.Context, a model.Appointment) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2,
			queue_order = $3,
			checked_in_at = $4,
			checked_out_at = $5,
			cancelled_at = $6,
			reminder_sent_at = $7,
			cancelled_by = NULLIF($8, ''),
			cancellation_reason = NULLIF($9, ''),
			deleted_at = $10,
			updated_at = $11
		WHERE id = $1
	`, a.ID, string(a.Status), a.QueueOrder, a.CheckedInAt, a.CheckedOutAt, a.CancelledAt, a.ReminderSentAt,
		a.CancelledBy, a.CancellationReason, a.DeletedAt, a.UpdatedAt)
	if err != nil {
		return classify("update appointment", err)
	}
	if tag.RowsAffected() == 0 {
		return &scheduling.NotFoundError{Entity: "appointment", ID: a.ID}
	}
	return nil
}

func (t *pgTx) InsertReminders(ctx context.Context, reminders []model.Reminder) error {
	if len(reminders) == 0 {
		return nil
	}
	_, err := t.tx.CopyFrom(ctx,
		pgx.Identifier{"appointment_reminders"},
		[]string{"id", "appointment_id", "channel", "recipient", "remind_at", "status"},
		pgx.CopyFromSlice(len(reminders), func(i int) ([]any, error) {
			r := reminders[i]
			id, err := uuid.Parse(r.ID)
			if err != nil {
				id = uuid.New()
			}
			apptID, err := uuid.Parse(r.AppointmentID)
			if err != nil {
				return nil, fmt.Errorf("reminder appointment id: %w", err)
			}
			return []any{id, apptID, r.Channel, r.Recipient, r.RemindAt, string(r.Status)}, nil
		}),
	)
	return classify("insert reminders", err)
}

func (t *pgTx) ClaimIdempotencyKey(ctx context.Context, key string) (string, error) {
	if err := t.boundLocks(ctx); err != nil {
		return "", classify("claim idempotency key", err)
	}
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key)
		VALUES ($1)
		ON CONFLICT (idempotency_key) DO NOTHING
	`, key); err != nil {
		return "", classify("claim idempotency key", err)
	}
	var appointmentID string
	err := t.tx.QueryRow(ctx, `
		SELECT COALESCE(appointment_id::text, '')
		FROM booking_idempotency_keys
		WHERE idempotency_key = $1
		FOR UPDATE
	`, key).Scan(&appointmentID)
	return appointmentID, classify("claim idempotency key", err)
}

func (t *pgTx) FinalizeIdempotencyKey(ctx context.Context, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $2, updated_at = now()
		WHERE idempotency_key = $1
	`, key, appointmentID)
	return classify("finalize idempotency key", err)
}

func (t *pgTx) Emit(ctx context.Context, evt outbox.Event) error {
	return classify("emit event", t.store.outbox.Insert(ctx, t.tx, evt))
}

// exclusionConflict describes a row the exclusion constraint rejected. The
// transaction is already aborted, so the colliding rows are read through the
// pool; the constraint only fires once the other writer has committed.
func (s *Store) exclusionConflict(ctx context.Context, a model.Appointment) error {
	cerr := &scheduling.ConflictError{DoctorID: a.DoctorID}
	rows, err := s.ActiveInWindow(ctx, a.DoctorID, a.Start, a.End(), false)
	if err != nil {
		return cerr
	}
	for _, r := range rows {
		if r.ID == a.ID || r.ID == a.RescheduledFrom {
			continue
		}
		cerr.Conflicts = append(cerr.Conflicts, scheduling.ConflictOf(r))
	}
	return cerr
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var (
		a                         model.Appointment
		apptType, urgency, status string
	)
	err := row.Scan(
		&a.ID, &a.DoctorID, &a.PatientID, &a.PatientLabel, &a.Start, &a.DurationMinutes,
		&apptType, &urgency, &a.IsWalkIn, &a.Reason, &status, &a.QueueOrder,
		&a.CheckedInAt, &a.CheckedOutAt, &a.CancelledAt, &a.ReminderSentAt,
		&a.CancelledBy, &a.CancellationReason, &a.RescheduledFrom,
		&a.DeletedAt, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Type = model.AppointmentType(apptType)
	a.Urgency = model.Urgency(urgency)
	a.Status = model.Status(status)
	return a, nil
}

func activeStatuses() []string {
	out := make([]string, len(model.ActiveStatuses))
	for i, s := range model.ActiveStatuses {
		out[i] = string(s)
	}
	return out
}

// classify maps Postgres failures onto the scheduling error kinds. Errors
// that already carry a kind pass through unchanged.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, scheduling.ErrValidation), errors.Is(err, scheduling.ErrConflict),
		errors.Is(err, scheduling.ErrStateTransition), errors.Is(err, scheduling.ErrNotFound),
		errors.Is(err, scheduling.ErrTransient):
		return err
	case db.IsExclusionViolation(err):
		// Only Insert adds rows to the active set and it resolves its own
		// violations; this covers a violation surfacing at commit.
		return &scheduling.ConflictError{}
	case db.IsLockTimeout(err):
		return &scheduling.TransientError{Op: op, Err: fmt.Errorf("%w: %w", scheduling.ErrLockTimeout, err)}
	case db.IsTransient(err):
		return &scheduling.TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

func notFound(entity, id string, err error) error {
	if db.IsNotFound(err) || db.IsInvalidText(err) {
		return &scheduling.NotFoundError{Entity: entity, ID: id}
	}
	return classify(entity, err)
}
