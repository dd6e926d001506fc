package scheduling_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
)

func queueRows(day time.Time) []model.Appointment {
	checkedIn := day.Add(8*time.Hour + 50*time.Minute)
	deleted := day
	base := func(id string, hour int, urgency model.Urgency) model.Appointment {
		return model.Appointment{
			ID: id, DoctorID: "doc-1", PatientID: "pat-1", Start: day.Add(time.Duration(hour) * time.Hour),
			DurationMinutes: 15, Type: model.TypeConsultation, Urgency: urgency, Status: model.StatusScheduled,
		}
	}
	a := base("q-a", 9, model.UrgencyRoutine)
	b := base("q-b", 10, model.UrgencyEmergency)
	c := base("q-c", 11, model.UrgencyRoutine)
	c.QueueOrder = -1
	d := base("q-d", 9, model.UrgencyRoutine)
	d.Status = model.StatusCheckedIn
	d.CheckedInAt = &checkedIn
	e := base("q-e", 8, "")
	f := base("q-f", 12, model.UrgencyUrgent)
	gone := base("q-cancelled", 9, model.UrgencyEmergency)
	gone.Status = model.StatusCancelled
	del := base("q-deleted", 9, model.UrgencyEmergency)
	del.DeletedAt = &deleted
	tomorrow := base("q-tomorrow", 33, model.UrgencyEmergency)
	return []model.Appointment{a, b, c, d, e, f, gone, del, tomorrow}
}

func ids(rows []model.Appointment) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func TestRank_Deterministic(t *testing.T) {
	day := time.Date(2026, 1, 28, 0, 0, 0, 0, time.UTC)
	rows := queueRows(day)[:6]
	want := []string{"q-c", "q-b", "q-f", "q-d", "q-a", "q-e"}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Appointment(nil), rows...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := ids(scheduling.Rank(shuffled))
		for k := range want {
			if got[k] != want[k] {
				t.Fatalf("permutation %d: expected %v, got %v", i, want, got)
			}
		}
	}
}

func TestQueue_ActiveSetOfDay(t *testing.T) {
	f := newFixture(t, 0)
	f.store.Seed(queueRows(f.day)...)

	got, err := f.svc.Queue(context.Background(), f.at(15, 0))
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	want := []string{"q-c", "q-b", "q-f", "q-d", "q-a", "q-e"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids(got))
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("expected %v, got %v", want, ids(got))
		}
	}
}

func TestReorder_SkipsUnknown(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()
	f.store.Seed(queueRows(f.day)...)

	res, err := f.svc.Reorder(ctx, map[string]int{"q-e": -5, "missing": 1, "q-deleted": -9}, "staff-1")
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	if len(res.Applied) != 1 || res.Applied[0] != "q-e" {
		t.Fatalf("unexpected applied %v", res.Applied)
	}
	if len(res.Skipped) != 2 {
		t.Fatalf("unexpected skipped %v", res.Skipped)
	}

	got, err := f.svc.Queue(ctx, f.day)
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	if got[0].ID != "q-e" {
		t.Fatalf("expected manual override first, got %v", ids(got))
	}
}
