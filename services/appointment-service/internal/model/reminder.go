package model

import "time"

type ReminderStatus string

const (
	ReminderPending   ReminderStatus = "pending"
	ReminderSent      ReminderStatus = "sent"
	ReminderDelivered ReminderStatus = "delivered"
	ReminderFailed    ReminderStatus = "failed"
	ReminderBounced   ReminderStatus = "bounced"
)

var reminderTransitions = map[ReminderStatus][]ReminderStatus{
	ReminderPending: {ReminderSent, ReminderFailed},
	ReminderSent:    {ReminderDelivered, ReminderFailed, ReminderBounced},
}

func (s ReminderStatus) CanTransition(to ReminderStatus) bool {
	for _, next := range reminderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

const (
	ChannelSMS   = "sms"
	ChannelEmail = "email"
)

type Reminder struct {
	ID            string
	AppointmentID string
	Channel       string
	Recipient     string
	RemindAt      time.Time
	Status        ReminderStatus
	Attempts      int
	LastError     string
	SentAt        *time.Time
	UpdatedAt     time.Time
}
