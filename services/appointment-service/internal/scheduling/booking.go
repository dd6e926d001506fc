package scheduling

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/audit"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/interval"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type BookRequest struct {
	PatientID       string
	DoctorID        string
	Start           time.Time
	DurationMinutes int
	Type            model.AppointmentType
	Urgency         model.Urgency
	Reason          string
	IsWalkIn        bool
	// IdempotencyKey makes a retried request return the appointment created
	// by the first successful attempt.
	IdempotencyKey string
	ActorID        string
}

// Book creates a scheduled appointment. Inside one transaction it takes the
// doctor's booking lock, locks and re-reads the doctor's overlapping active
// rows, and inserts only if none overlap. Concurrent overlapping requests
// for one doctor therefore commit at most one row.
func (s *Service) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "scheduling.Book", trace.WithAttributes(
		attribute.String("doctor.id", req.DoctorID),
		attribute.Int("appointment.duration_minutes", req.DurationMinutes),
	))
	defer span.End()

	now := s.now()
	patient, err := s.validateBooking(ctx, req, now)
	if err != nil {
		span.SetStatus(codes.Error, "validation")
		return model.Appointment{}, err
	}

	appt := model.Appointment{
		ID:              uuid.NewString(),
		DoctorID:        req.DoctorID,
		PatientID:       req.PatientID,
		PatientLabel:    patient.DisplayName,
		Start:           req.Start,
		DurationMinutes: req.DurationMinutes,
		Type:            req.Type,
		Urgency:         req.Urgency,
		IsWalkIn:        req.IsWalkIn,
		Reason:          strings.TrimSpace(req.Reason),
		Status:          model.StatusScheduled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	var (
		out    model.Appointment
		replay bool
	)
	err = s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		key := strings.TrimSpace(req.IdempotencyKey)
		if key != "" {
			existingID, err := tx.ClaimIdempotencyKey(ctx, key)
			if err != nil {
				return err
			}
			if existingID != "" {
				prior, err := tx.AppointmentForUpdate(ctx, existingID, true)
				if err != nil {
					return err
				}
				out, replay = prior, true
				return nil
			}
		}

		if err := tx.LockDoctor(ctx, appt.DoctorID); err != nil {
			return err
		}
		created, err := s.insertLocked(ctx, tx, appt, patient, "", req.ActorID, now)
		if err != nil {
			return err
		}
		if key != "" {
			if err := tx.FinalizeIdempotencyKey(ctx, key, created.ID); err != nil {
				return err
			}
		}
		out = created
		return nil
	})
	if err != nil {
		span.RecordError(err)
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			span.SetStatus(codes.Error, "conflict")
			s.logger.Info("booking conflict",
				zap.String("doctor_id", req.DoctorID),
				zap.Time("start", req.Start),
				zap.Int("conflicts", len(conflict.Conflicts)),
			)
		} else {
			span.SetStatus(codes.Error, err.Error())
		}
		return model.Appointment{}, err
	}

	span.SetAttributes(attribute.String("appointment.id", out.ID), attribute.Bool("idempotent_replay", replay))
	if !replay {
		s.invalidate(ctx, out.DoctorID, out.Start)
		s.logger.Info("appointment booked",
			zap.String("appointment_id", out.ID),
			zap.String("doctor_id", out.DoctorID),
			zap.Time("start", out.Start),
		)
	}
	return out, nil
}

// validateBooking runs every check that needs no transaction and returns the
// resolved patient.
func (s *Service) validateBooking(ctx context.Context, req BookRequest, now time.Time) (model.Party, error) {
	switch {
	case strings.TrimSpace(req.DoctorID) == "":
		return model.Party{}, invalid("doctor_id", "required")
	case strings.TrimSpace(req.PatientID) == "":
		return model.Party{}, invalid("patient_id", "required")
	case req.Start.IsZero():
		return model.Party{}, invalid("start", "required")
	case !req.Start.After(now):
		return model.Party{}, invalid("start", "must be in the future")
	case !interval.BookableMinutes(req.DurationMinutes):
		return model.Party{}, invalid("duration_minutes", durationReason)
	case !req.Type.Valid():
		return model.Party{}, invalid("appointment_type", "unknown type "+string(req.Type))
	case !req.Urgency.Valid():
		return model.Party{}, invalid("urgency", "unknown urgency "+string(req.Urgency))
	}
	return s.requireParties(ctx, req.DoctorID, req.PatientID)
}

// requireParties maps a missing or inactive doctor or patient to a
// ValidationError; on the booking path they are bad input, not missing routes.
func (s *Service) requireParties(ctx context.Context, doctorID, patientID string) (model.Party, error) {
	doc, err := s.dir.Doctor(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Party{}, invalid("doctor_id", "unknown doctor")
		}
		return model.Party{}, err
	}
	if !doc.Active {
		return model.Party{}, invalid("doctor_id", "doctor is inactive")
	}
	patient, err := s.dir.Patient(ctx, patientID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.Party{}, invalid("patient_id", "unknown patient")
		}
		return model.Party{}, err
	}
	if !patient.Active {
		return model.Party{}, invalid("patient_id", "patient is inactive")
	}
	return patient, nil
}

// insertLocked must run with the doctor's booking lock held. It re-checks
// overlap against the locked rows, ignoring excludeID, then writes the row,
// its reminders and its events.
func (s *Service) insertLocked(ctx context.Context, tx Tx, appt model.Appointment, patient model.Party, excludeID, actorID string, now time.Time) (model.Appointment, error) {
	iv := appt.Interval()
	rows, err := tx.ActiveForDoctor(ctx, appt.DoctorID, iv.Start, iv.End)
	if err != nil {
		return model.Appointment{}, err
	}
	if conflicts := overlapping(rows, iv, excludeID); len(conflicts) > 0 {
		return model.Appointment{}, &ConflictError{DoctorID: appt.DoctorID, Conflicts: conflicts}
	}

	if err := tx.Insert(ctx, &appt); err != nil {
		return model.Appointment{}, err
	}
	if s.reminders != nil {
		if planned := s.reminders.Plan(ctx, appt, patient, now); len(planned) > 0 {
			if err := tx.InsertReminders(ctx, planned); err != nil {
				return model.Appointment{}, err
			}
		}
	}

	evt, err := outbox.NewEvent(appt.ID, outbox.TypeAppointmentBooked, bookedPayload(appt))
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Emit(ctx, evt); err != nil {
		return model.Appointment{}, err
	}
	entry := audit.Entry{
		Action:        audit.ActionBooked,
		AppointmentID: appt.ID,
		DoctorID:      appt.DoctorID,
		ActorID:       actorID,
		ToStatus:      string(appt.Status),
	}
	if appt.RescheduledFrom != "" {
		entry.Metadata = map[string]any{"rescheduled_from": appt.RescheduledFrom}
	}
	if err := s.audit.Record(ctx, tx, entry); err != nil {
		return model.Appointment{}, err
	}
	return appt, nil
}

func bookedPayload(a model.Appointment) map[string]any {
	p := map[string]any{
		"appointment_id":   a.ID,
		"doctor_id":        a.DoctorID,
		"patient_id":       a.PatientID,
		"start":            a.Start.UTC().Format(time.RFC3339),
		"duration_minutes": a.DurationMinutes,
		"appointment_type": a.Type,
		"urgency":          a.Urgency,
		"is_walk_in":       a.IsWalkIn,
	}
	if a.RescheduledFrom != "" {
		p["rescheduled_from"] = a.RescheduledFrom
	}
	return p
}
