package model

import "testing"

func TestStatusPartition(t *testing.T) {
	for _, s := range AllStatuses {
		if s.Active() == s.Terminal() {
			t.Fatalf("%s must be exactly one of active or terminal", s)
		}
	}
	if len(ActiveStatuses) != 4 {
		t.Fatalf("expected 4 active statuses, got %d", len(ActiveStatuses))
	}
	if Status("archived").Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestUrgencyRank(t *testing.T) {
	if UrgencyEmergency.Rank() != 0 || UrgencyUrgent.Rank() != 1 || UrgencyRoutine.Rank() != 2 || Urgency("").Rank() != 3 {
		t.Fatal("unexpected urgency ranks")
	}
}

func TestReminderTransitions(t *testing.T) {
	allowed := map[[2]ReminderStatus]bool{
		{ReminderPending, ReminderSent}:      true,
		{ReminderPending, ReminderFailed}:    true,
		{ReminderSent, ReminderDelivered}:    true,
		{ReminderSent, ReminderFailed}:       true,
		{ReminderSent, ReminderBounced}:      true,
		{ReminderPending, ReminderDelivered}: false,
		{ReminderDelivered, ReminderFailed}:  false,
		{ReminderBounced, ReminderSent}:      false,
	}
	for pair, want := range allowed {
		if got := pair[0].CanTransition(pair[1]); got != want {
			t.Fatalf("%s -> %s: expected %v, got %v", pair[0], pair[1], want, got)
		}
	}
}
