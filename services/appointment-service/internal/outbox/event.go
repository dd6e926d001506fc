package outbox

import (
	"context"
	"encoding/json"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Emitter stages events inside the caller's transaction.
type Emitter interface {
	Emit(ctx context.Context, evt Event) error
}

const AggregateAppointment = "appointment"

const (
	TypeAppointmentBooked        = "appointment.booked.v1"
	TypeAppointmentStatusChanged = "appointment.status_changed.v1"
	TypeAppointmentAudit         = "appointment.audit.v1"
	TypeReminderDue              = "appointment.reminder.due.v1"
)

func NewEvent(aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		AggregateType: AggregateAppointment,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}
