package scheduling

import (
	"context"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/audit"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Legal status moves. Anything absent is a StateTransitionError; terminal
// statuses have no entry.
var transitions = map[model.Status][]model.Status{
	model.StatusScheduled: {
		model.StatusConfirmed, model.StatusCancelled, model.StatusCheckedIn,
		model.StatusNoShow, model.StatusRescheduled,
	},
	model.StatusConfirmed: {
		model.StatusCancelled, model.StatusCheckedIn, model.StatusNoShow, model.StatusRescheduled,
	},
	model.StatusCheckedIn:  {model.StatusInProgress, model.StatusCompleted},
	model.StatusInProgress: {model.StatusCompleted},
}

func CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type change struct {
	to model.Status
	// input is a request error reported only once the move itself is legal.
	input error
	// refuse returns a non-empty reason when the precondition fails.
	refuse func(a model.Appointment, now time.Time) string
	apply  func(a *model.Appointment, now time.Time)
}

func (s *Service) Confirm(ctx context.Context, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, id, actorID, change{to: model.StatusConfirmed})
}

func (s *Service) CheckIn(ctx context.Context, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, id, actorID, change{
		to: model.StatusCheckedIn,
		refuse: func(a model.Appointment, now time.Time) string {
			if a.Start.After(now.Add(s.checkInLead)) {
				return "too early to check in"
			}
			return ""
		},
		apply: func(a *model.Appointment, now time.Time) {
			a.CheckedInAt = once(a.CheckedInAt, now)
		},
	})
}

func (s *Service) StartConsultation(ctx context.Context, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, id, actorID, change{to: model.StatusInProgress})
}

func (s *Service) Complete(ctx context.Context, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, id, actorID, change{
		to: model.StatusCompleted,
		apply: func(a *model.Appointment, now time.Time) {
			a.CheckedOutAt = once(a.CheckedOutAt, now)
		},
	})
}

func (s *Service) Cancel(ctx context.Context, id, actorID, reason string) (model.Appointment, error) {
	reason = strings.TrimSpace(reason)
	var input error
	if reason == "" {
		input = invalid("reason", "required")
	}
	return s.transition(ctx, id, actorID, change{
		to:    model.StatusCancelled,
		input: input,
		apply: func(a *model.Appointment, now time.Time) {
			a.CancelledAt = once(a.CancelledAt, now)
			a.CancelledBy = actorID
			a.CancellationReason = reason
		},
	})
}

func (s *Service) MarkNoShow(ctx context.Context, id, actorID string) (model.Appointment, error) {
	return s.transition(ctx, id, actorID, change{
		to: model.StatusNoShow,
		refuse: func(a model.Appointment, now time.Time) string {
			if !now.After(a.Start) {
				return "appointment has not started yet"
			}
			return ""
		},
	})
}

// transition applies a single-row status change. It locks only the
// appointment row; the doctor lock is not needed because no status change
// can add a member to the active set.
func (s *Service) transition(ctx context.Context, id, actorID string, ch change) (model.Appointment, error) {
	now := s.now()
	var out model.Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AppointmentForUpdate(ctx, id, false)
		if err != nil {
			return err
		}
		if !CanTransition(a.Status, ch.to) {
			return &StateTransitionError{AppointmentID: a.ID, From: a.Status, To: ch.to}
		}
		if ch.refuse != nil {
			if reason := ch.refuse(a, now); reason != "" {
				return &StateTransitionError{AppointmentID: a.ID, From: a.Status, To: ch.to, Reason: reason}
			}
		}
		if ch.input != nil {
			return ch.input
		}

		from := a.Status
		a.Status = ch.to
		a.UpdatedAt = now
		if ch.apply != nil {
			ch.apply(&a, now)
		}
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		if err := s.emitStatusChange(ctx, tx, a, from, actorID, nil); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if !out.Status.Active() {
		s.invalidate(ctx, out.DoctorID, out.Start)
	}
	return out, nil
}

// Reschedule moves a scheduled or confirmed appointment to newStart. The
// source becomes rescheduled and a new scheduled appointment pointing back
// to it is created under the doctor's booking lock. The source's own slot
// does not count as a conflict for its replacement.
func (s *Service) Reschedule(ctx context.Context, id string, newStart time.Time, actorID string) (source, created model.Appointment, err error) {
	now := s.now()
	if newStart.IsZero() || !newStart.After(now) {
		return model.Appointment{}, model.Appointment{}, invalid("new_start", "must be in the future")
	}

	current, err := s.store.Appointment(ctx, id, false)
	if err != nil {
		return model.Appointment{}, model.Appointment{}, err
	}
	if !CanTransition(current.Status, model.StatusRescheduled) {
		return model.Appointment{}, model.Appointment{}, &StateTransitionError{
			AppointmentID: current.ID, From: current.Status, To: model.StatusRescheduled,
		}
	}
	patient, err := s.requireParties(ctx, current.DoctorID, current.PatientID)
	if err != nil {
		return model.Appointment{}, model.Appointment{}, err
	}

	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		// Doctor lock before the row lock, the same order Book uses.
		if err := tx.LockDoctor(ctx, current.DoctorID); err != nil {
			return err
		}
		src, err := tx.AppointmentForUpdate(ctx, id, false)
		if err != nil {
			return err
		}
		if !CanTransition(src.Status, model.StatusRescheduled) {
			return &StateTransitionError{AppointmentID: src.ID, From: src.Status, To: model.StatusRescheduled}
		}

		from := src.Status
		src.Status = model.StatusRescheduled
		src.UpdatedAt = now
		if err := tx.Update(ctx, src); err != nil {
			return err
		}

		next := successor(src, newStart, now)
		next.PatientLabel = patient.DisplayName
		made, err := s.insertLocked(ctx, tx, next, patient, src.ID, actorID, now)
		if err != nil {
			return err
		}
		meta := map[string]any{"rescheduled_to": made.ID, "new_start": made.Start.UTC().Format(time.RFC3339)}
		if err := s.emitStatusChange(ctx, tx, src, from, actorID, meta); err != nil {
			return err
		}
		source, created = src, made
		return nil
	})
	if err != nil {
		return model.Appointment{}, model.Appointment{}, err
	}

	s.invalidate(ctx, source.DoctorID, source.Start)
	if !sameDay(source.Start, created.Start, s.loc) {
		s.invalidate(ctx, created.DoctorID, created.Start)
	}
	s.logger.Info("appointment rescheduled",
		zap.String("appointment_id", source.ID),
		zap.String("rescheduled_to", created.ID),
		zap.Time("new_start", created.Start),
	)
	return source, created, nil
}

// successor copies src into a fresh scheduled appointment. The chain only
// ever grows forward: the new id is unused, so nothing can already point at it.
func successor(src model.Appointment, start, now time.Time) model.Appointment {
	return model.Appointment{
		ID:              uuid.NewString(),
		DoctorID:        src.DoctorID,
		PatientID:       src.PatientID,
		PatientLabel:    src.PatientLabel,
		Start:           start,
		DurationMinutes: src.DurationMinutes,
		Type:            src.Type,
		Urgency:         src.Urgency,
		IsWalkIn:        src.IsWalkIn,
		Reason:          src.Reason,
		Status:          model.StatusScheduled,
		QueueOrder:      src.QueueOrder,
		RescheduledFrom: src.ID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// Delete soft-deletes an appointment. The row is kept and leaves the active set.
func (s *Service) Delete(ctx context.Context, id, actorID string) (model.Appointment, error) {
	now := s.now()
	var out model.Appointment
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		a, err := tx.AppointmentForUpdate(ctx, id, true)
		if err != nil {
			return err
		}
		a.DeletedAt = once(a.DeletedAt, now)
		a.UpdatedAt = now
		if err := tx.Update(ctx, a); err != nil {
			return err
		}
		out = a
		return s.audit.Record(ctx, tx, audit.Entry{
			Action:        audit.ActionDeleted,
			AppointmentID: a.ID,
			DoctorID:      a.DoctorID,
			ActorID:       actorID,
			FromStatus:    string(a.Status),
		})
	})
	if err != nil {
		return model.Appointment{}, err
	}
	if out.Status.Active() {
		s.invalidate(ctx, out.DoctorID, out.Start)
	}
	return out, nil
}

func (s *Service) emitStatusChange(ctx context.Context, tx Tx, a model.Appointment, from model.Status, actorID string, meta map[string]any) error {
	payload := map[string]any{
		"appointment_id": a.ID,
		"doctor_id":      a.DoctorID,
		"patient_id":     a.PatientID,
		"from_status":    from,
		"to_status":      a.Status,
		"start":          a.Start.UTC().Format(time.RFC3339),
		"actor_id":       actorID,
	}
	if a.Status == model.StatusCancelled {
		payload["cancellation_reason"] = a.CancellationReason
	}
	for k, v := range meta {
		payload[k] = v
	}
	evt, err := outbox.NewEvent(a.ID, outbox.TypeAppointmentStatusChanged, payload)
	if err != nil {
		return err
	}
	if err := tx.Emit(ctx, evt); err != nil {
		return err
	}
	action := audit.ActionStatusChanged
	if a.Status == model.StatusRescheduled {
		action = audit.ActionRescheduled
	}
	return s.audit.Record(ctx, tx, audit.Entry{
		Action:        action,
		AppointmentID: a.ID,
		DoctorID:      a.DoctorID,
		ActorID:       actorID,
		FromStatus:    string(from),
		ToStatus:      string(a.Status),
		Metadata:      meta,
	})
}

func once(current *time.Time, now time.Time) *time.Time {
	if current != nil {
		return current
	}
	t := now
	return &t
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
