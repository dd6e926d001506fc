package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
)

func seeded(t *testing.T, lockTimeout time.Duration) (*Store, model.Appointment) {
	t.Helper()
	s := New(lockTimeout)
	a := model.Appointment{
		ID: "appt-1", DoctorID: "doc-1", PatientID: "pat-1",
		Start:           time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC),
		DurationMinutes: 30, Type: model.TypeConsultation, Urgency: model.UrgencyRoutine,
		Status: model.StatusScheduled,
	}
	s.Seed(a)
	return s, a
}

func TestSetQueueOrder_WaitsForRowLock(t *testing.T) {
	s, a := seeded(t, 5*time.Second)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
			row, err := tx.AppointmentForUpdate(ctx, a.ID, false)
			if err != nil {
				return err
			}
			close(locked)
			<-release
			row.Status = model.StatusConfirmed
			return tx.Update(ctx, row)
		})
	}()
	<-locked

	reordered := make(chan error, 1)
	go func() {
		ok, err := s.SetQueueOrder(ctx, a.ID, 3)
		if err == nil && !ok {
			err = errors.New("row not found")
		}
		reordered <- err
	}()

	select {
	case err := <-reordered:
		t.Fatalf("reorder finished while the row was locked: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	if err := <-txDone; err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := <-reordered; err != nil {
		t.Fatalf("reorder: %v", err)
	}

	got, err := s.Appointment(ctx, a.ID, false)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != model.StatusConfirmed || got.QueueOrder != 3 {
		t.Fatalf("expected confirmed with queue order 3, got %s / %d", got.Status, got.QueueOrder)
	}
}

func TestSetQueueOrder_LockTimeout(t *testing.T) {
	s, a := seeded(t, 20*time.Millisecond)
	ctx := context.Background()

	locked := make(chan struct{})
	release := make(chan struct{})
	txDone := make(chan error, 1)
	go func() {
		txDone <- s.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
			if _, err := tx.AppointmentForUpdate(ctx, a.ID, false); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := s.SetQueueOrder(ctx, a.ID, 1)
	close(release)
	if txErr := <-txDone; txErr != nil {
		t.Fatalf("holder: %v", txErr)
	}
	if !errors.Is(err, scheduling.ErrTransient) || !errors.Is(err, scheduling.ErrLockTimeout) {
		t.Fatalf("expected transient lock timeout, got %v", err)
	}
}

func TestAppointmentForUpdate_DeletedRows(t *testing.T) {
	s, a := seeded(t, time.Second)
	ctx := context.Background()
	deleted := time.Date(2026, 1, 27, 8, 0, 0, 0, time.UTC)
	a.DeletedAt = &deleted
	s.Seed(a)

	err := s.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		if _, err := tx.AppointmentForUpdate(ctx, a.ID, false); !errors.Is(err, scheduling.ErrNotFound) {
			t.Fatalf("expected deleted row hidden, got %v", err)
		}
		row, err := tx.AppointmentForUpdate(ctx, a.ID, true)
		if err != nil || row.DeletedAt == nil {
			t.Fatalf("expected deleted row with includeDeleted, got %+v (%v)", row, err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx: %v", err)
	}
}

func TestCommit_ExclusionNamesConflicts(t *testing.T) {
	s, a := seeded(t, time.Second)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		// Skips the doctor lock on purpose so only the commit-time check can catch it.
		return tx.Insert(ctx, &model.Appointment{
			DoctorID: a.DoctorID, PatientID: "pat-2", Start: a.Start.Add(15 * time.Minute),
			DurationMinutes: 30, Type: model.TypeConsultation, Urgency: model.UrgencyRoutine,
			Status: model.StatusScheduled,
		})
	})
	var cerr *scheduling.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cerr.DoctorID != a.DoctorID || len(cerr.Conflicts) != 1 || cerr.Conflicts[0].ID != a.ID {
		t.Fatalf("expected conflict naming %s, got %+v", a.ID, cerr)
	}
	rows, err := s.ActiveInWindow(ctx, a.DoctorID, a.Start, a.End(), false)
	if err != nil || len(rows) != 1 {
		t.Fatalf("rejected row must not be written, got %d rows (%v)", len(rows), err)
	}
}
