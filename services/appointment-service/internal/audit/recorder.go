// Package audit publishes appointment audit records. Persistence belongs to
// the audit log consumer; this side only writes the event to the outbox in
// the same transaction as the change it describes.
package audit

import (
	"context"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
)

type Action string

const (
	ActionBooked        Action = "appointment.booked"
	ActionStatusChanged Action = "appointment.status_changed"
	ActionRescheduled   Action = "appointment.rescheduled"
	ActionDeleted       Action = "appointment.deleted"
)

type Entry struct {
	Action        Action         `json:"action"`
	AppointmentID string         `json:"appointment_id"`
	DoctorID      string         `json:"doctor_id"`
	ActorID       string         `json:"actor_id,omitempty"`
	FromStatus    string         `json:"from_status,omitempty"`
	ToStatus      string         `json:"to_status,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

type Recorder struct {
	now func() time.Time
}

func NewRecorder(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

func (r *Recorder) Record(ctx context.Context, emitter outbox.Emitter, e Entry) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now().UTC()
	}
	evt, err := outbox.NewEvent(e.AppointmentID, outbox.TypeAppointmentAudit, e)
	if err != nil {
		return err
	}
	return emitter.Emit(ctx, evt)
}
