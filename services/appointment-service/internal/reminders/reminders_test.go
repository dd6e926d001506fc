package reminders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
)

func TestOffsetsFromMinutes(t *testing.T) {
	got := OffsetsFromMinutes([]int{1440, 60, 0, -5, 60})
	if len(got) != 2 || got[0] != 24*time.Hour || got[1] != time.Hour {
		t.Fatalf("unexpected offsets %v", got)
	}
}

func TestPlanner_Plan(t *testing.T) {
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)
	appt := model.Appointment{ID: "a-1", DoctorID: "doc-1", Start: now.Add(3 * time.Hour)}
	p := NewPlanner(OffsetsFromMinutes([]int{1440, 60}), nil)

	cases := []struct {
		name     string
		patient  model.Party
		channels []string
	}{
		{"sms and email", model.Party{Phone: "+63917", Email: "a@example.com"}, []string{model.ChannelSMS, model.ChannelEmail}},
		{"email only", model.Party{Email: "a@example.com"}, []string{model.ChannelEmail}},
		{"no contact defaults to sms", model.Party{}, []string{model.ChannelSMS}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := p.Plan(context.Background(), appt, tc.patient, now)
			// The 24h reminder is already in the past; only the 1h one remains.
			if len(got) != len(tc.channels) {
				t.Fatalf("expected %d reminders, got %+v", len(tc.channels), got)
			}
			for i, r := range got {
				if r.Channel != tc.channels[i] {
					t.Fatalf("reminder %d: expected channel %s, got %s", i, tc.channels[i], r.Channel)
				}
				if !r.RemindAt.Equal(appt.Start.Add(-time.Hour)) || r.Status != model.ReminderPending || r.AppointmentID != "a-1" {
					t.Fatalf("unexpected reminder %+v", r)
				}
			}
		})
	}
}

func TestPlanner_SkipsPastRemindTimes(t *testing.T) {
	now := time.Date(2026, 1, 27, 12, 0, 0, 0, time.UTC)
	appt := model.Appointment{ID: "a-1", Start: now.Add(time.Hour)}
	got := NewPlanner(OffsetsFromMinutes([]int{60, 90}), nil).Plan(context.Background(), appt, model.Party{Phone: "1"}, now)
	if len(got) != 0 {
		t.Fatalf("remind time equal to now must be skipped, got %+v", got)
	}
}

type failingOffsets struct{}

func (failingOffsets) Offsets(context.Context, string) ([]time.Duration, error) {
	return nil, errors.New("policy unavailable")
}

func TestPlanner_OffsetFailurePlansNothing(t *testing.T) {
	now := time.Now()
	got := NewPlanner(failingOffsets{}, nil).Plan(context.Background(), model.Appointment{Start: now.Add(48 * time.Hour)}, model.Party{}, now)
	if got != nil {
		t.Fatalf("expected no reminders, got %+v", got)
	}
}

func TestParseDeliveryReport(t *testing.T) {
	report, status, err := ParseDeliveryReport(TopicBounced, []byte(`{"reminder_id":" r-1 ","error":"mailbox full"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if report.ReminderID != "r-1" || report.Error != "mailbox full" || status != model.ReminderBounced {
		t.Fatalf("unexpected report %+v %s", report, status)
	}

	bad := []struct {
		name      string
		eventType string
		body      string
	}{
		{"unknown type", "notification.opened.v1", `{"reminder_id":"r-1"}`},
		{"not json", TopicDelivered, `nope`},
		{"missing id", TopicFailed, `{"error":"x"}`},
	}
	for _, tc := range bad {
		if _, _, err := ParseDeliveryReport(tc.eventType, []byte(tc.body)); !errors.Is(err, ErrMalformedReport) {
			t.Fatalf("%s: expected malformed report, got %v", tc.name, err)
		}
	}
}

func TestDuePayload(t *testing.T) {
	start := time.Date(2026, 1, 28, 9, 0, 0, 0, time.FixedZone("PHT", 8*3600))
	d := Due{
		Reminder:  model.Reminder{ID: "r-1", AppointmentID: "a-1", Channel: model.ChannelSMS, Recipient: "+63917", RemindAt: start.Add(-time.Hour)},
		DoctorID:  "doc-1",
		PatientID: "pat-1",
		Start:     start,
		Duration:  30,
	}
	p := DuePayload(d)
	if p["start"] != "2026-01-28T01:00:00Z" || p["remind_at"] != "2026-01-28T00:00:00Z" {
		t.Fatalf("expected UTC timestamps, got %v %v", p["start"], p["remind_at"])
	}
	if p["reminder_id"] != "r-1" || p["channel"] != model.ChannelSMS {
		t.Fatalf("unexpected payload %v", p)
	}
}
