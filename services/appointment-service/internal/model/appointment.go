package model

import (
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/interval"
)

type Status string

const (
	StatusScheduled   Status = "scheduled"
	StatusConfirmed   Status = "confirmed"
	StatusCheckedIn   Status = "checked_in"
	StatusInProgress  Status = "in_progress"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
	StatusRescheduled Status = "rescheduled"
)

// ActiveStatuses are the statuses that occupy a doctor's time.
var ActiveStatuses = []Status{StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress}

var AllStatuses = []Status{
	StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress,
	StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled,
}

func (s Status) Active() bool {
	switch s {
	case StatusScheduled, StatusConfirmed, StatusCheckedIn, StatusInProgress:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow, StatusRescheduled:
		return true
	}
	return false
}

func (s Status) Valid() bool {
	return s.Active() || s.Terminal()
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeProcedure    AppointmentType = "procedure"
	TypeLabWork      AppointmentType = "lab_work"
	TypeVaccination  AppointmentType = "vaccination"
	TypePhysicalExam AppointmentType = "physical_exam"
	TypeEmergency    AppointmentType = "emergency"
	TypeTelemedicine AppointmentType = "telemedicine"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeConsultation, TypeFollowUp, TypeProcedure, TypeLabWork,
		TypeVaccination, TypePhysicalExam, TypeEmergency, TypeTelemedicine:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyRoutine, UrgencyUrgent, UrgencyEmergency:
		return true
	}
	return false
}

// Rank orders urgencies for the queue; unknown values sort last.
func (u Urgency) Rank() int {
	switch u {
	case UrgencyEmergency:
		return 0
	case UrgencyUrgent:
		return 1
	case UrgencyRoutine:
		return 2
	default:
		return 3
	}
}

type Appointment struct {
	ID              string
	DoctorID        string
	PatientID       string
	PatientLabel    string
	Start           time.Time
	DurationMinutes int
	Type            AppointmentType
	Urgency         Urgency
	IsWalkIn        bool
	Reason          string
	Status          Status
	QueueOrder      int

	CheckedInAt    *time.Time
	CheckedOutAt   *time.Time
	CancelledAt    *time.Time
	ReminderSentAt *time.Time

	CancelledBy        string
	CancellationReason string
	RescheduledFrom    string
	DeletedAt          *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Interval() interval.Interval {
	return interval.Of(a.Start, a.DurationMinutes)
}

func (a Appointment) End() time.Time {
	return a.Interval().End
}

// InActiveSet reports membership in the set that blocks a doctor's time.
func (a Appointment) InActiveSet() bool {
	return a.DeletedAt == nil && a.Status.Active()
}

// Party is a doctor or patient as seen by the scheduler.
type Party struct {
	ID          string
	DisplayName string
	Email       string
	Phone       string
	Active      bool
}
