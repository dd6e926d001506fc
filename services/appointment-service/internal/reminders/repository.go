package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/jackc/pgx/v5"
)

// ErrIllegalTransition rejects a delivery report that does not fit the
// reminder's current status.
var ErrIllegalTransition = errors.New("illegal reminder transition")

// ErrUnknownReminder is returned for delivery reports about reminders that do
// not exist here.
var ErrUnknownReminder = errors.New("unknown reminder")

// Due is a pending reminder joined with the appointment it belongs to.
type Due struct {
	Reminder     model.Reminder
	DoctorID     string
	PatientID    string
	PatientLabel string
	Start        time.Time
	Duration     int
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// FetchDue claims pending reminders that are due and whose appointment is
// still in the active set. Rows locked by another dispatcher are skipped.
func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Due, error) {
	rows, err := tx.Query(ctx, `
		SELECT r.id::text, r.appointment_id::text, r.channel, r.recipient, r.remind_at, r.attempts,
			a.doctor_id::text, a.patient_id::text, a.patient_label, a.start_time, a.duration_minutes
		FROM appointment_reminders r
		JOIN appointments a ON a.id = r.appointment_id
		WHERE r.status = 'pending'
			AND r.remind_at <= $1
			AND a.deleted_at IS NULL
			AND a.status IN ('scheduled', 'confirmed', 'checked_in', 'in_progress')
		ORDER BY r.remind_at
		LIMIT $2
		FOR UPDATE OF r SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Due, error) {
		var d Due
		err := row.Scan(&d.Reminder.ID, &d.Reminder.AppointmentID, &d.Reminder.Channel, &d.Reminder.Recipient,
			&d.Reminder.RemindAt, &d.Reminder.Attempts, &d.DoctorID, &d.PatientID, &d.PatientLabel, &d.Start, &d.Duration)
		d.Reminder.Status = model.ReminderPending
		return d, err
	})
}

func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = 'sent', sent_at = $2, attempts = attempts + 1, updated_at = $2
		WHERE id = ANY($1::uuid[]) AND status = 'pending'
	`, ids, now)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id string, lastError string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = 'failed', attempts = attempts + 1, last_error = $2, updated_at = $3
		WHERE id = $1 AND status = 'pending'
	`, id, lastError, now)
	return err
}

// MarkAppointmentsReminded sets reminder_sent_at on each appointment once.
func (r *Repository) MarkAppointmentsReminded(ctx context.Context, tx pgx.Tx, appointmentIDs []string, now time.Time) error {
	if len(appointmentIDs) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE appointments
		SET reminder_sent_at = $2
		WHERE id = ANY($1::uuid[]) AND reminder_sent_at IS NULL
	`, appointmentIDs, now)
	return err
}

// ApplyDeliveryStatus moves a reminder to status if its current status
// allows it.
func (r *Repository) ApplyDeliveryStatus(ctx context.Context, tx pgx.Tx, reminderID string, status model.ReminderStatus, lastError string, now time.Time) error {
	var current string
	err := tx.QueryRow(ctx, `
		SELECT status
		FROM appointment_reminders
		WHERE id = $1
		FOR UPDATE
	`, reminderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrUnknownReminder, reminderID)
	}
	if err != nil {
		return err
	}
	if !model.ReminderStatus(current).CanTransition(status) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current, status)
	}
	_, err = tx.Exec(ctx, `
		UPDATE appointment_reminders
		SET status = $2, last_error = NULLIF($3, ''), updated_at = $4
		WHERE id = $1
	`, reminderID, string(status), lastError, now)
	return err
}
