package scheduling

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
)

// Error kinds. Every error returned by the engine matches exactly one of
// these with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrConflict        = errors.New("time slot conflict")
	ErrStateTransition = errors.New("illegal state transition")
	ErrNotFound        = errors.New("not found")
	ErrTransient       = errors.New("transient storage failure")
)

type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Conflict is one existing appointment overlapping a proposed interval.
type Conflict struct {
	ID              string
	PatientID       string
	PatientLabel    string
	Start           time.Time
	DurationMinutes int
}

func ConflictOf(a model.Appointment) Conflict {
	return Conflict{
		ID:              a.ID,
		PatientID:       a.PatientID,
		PatientLabel:    a.PatientLabel,
		Start:           a.Start,
		DurationMinutes: a.DurationMinutes,
	}
}

type ConflictError struct {
	DoctorID  string
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.ID)
	}
	if len(ids) == 0 {
		return fmt.Sprintf("doctor %s already has an overlapping appointment", e.DoctorID)
	}
	return fmt.Sprintf("doctor %s already has overlapping appointment(s): %s", e.DoctorID, strings.Join(ids, ", "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

type StateTransitionError struct {
	AppointmentID string
	From          model.Status
	To            model.Status
	Reason        string
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("appointment %s: cannot move from %s to %s", e.AppointmentID, e.From, e.To)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *StateTransitionError) Is(target error) bool { return target == ErrStateTransition }

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// TransientError wraps a storage failure after which the whole operation can
// be retried from scratch, such as a lock wait timeout.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func (e *TransientError) Is(target error) bool { return target == ErrTransient }

// ErrLockTimeout is returned (wrapped in a TransientError) when the per-doctor
// booking lock is not granted within the configured wait.
var ErrLockTimeout = errors.New("booking lock wait timed out")
