// Package reminders owns appointment reminder records: which ones a booking
// gets, when they are handed to the notification pipeline, and how delivery
// reports move them through their own small state machine.
package reminders

import (
	"context"
	"sort"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OffsetProvider says how long before an appointment reminders go out.
type OffsetProvider interface {
	Offsets(ctx context.Context, doctorID string) ([]time.Duration, error)
}

// StaticOffsets applies the same offsets to every doctor.
type StaticOffsets []time.Duration

func (s StaticOffsets) Offsets(context.Context, string) ([]time.Duration, error) {
	return s, nil
}

// OffsetsFromMinutes drops non-positive and duplicate entries.
func OffsetsFromMinutes(minutes []int) StaticOffsets {
	seen := make(map[int]bool, len(minutes))
	var out StaticOffsets
	for _, m := range minutes {
		if m <= 0 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, time.Duration(m)*time.Minute)
	}
	return out
}

type Planner struct {
	offsets OffsetProvider
	logger  *zap.Logger
}

func NewPlanner(offsets OffsetProvider, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{offsets: offsets, logger: logger}
}

// Plan returns one pending reminder per offset and contact channel whose
// remind time is still ahead of now. A patient with no contact details gets
// an sms reminder with an empty recipient for the notifier to resolve.
func (p *Planner) Plan(ctx context.Context, appt model.Appointment, patient model.Party, now time.Time) []model.Reminder {
	offsets, err := p.offsets.Offsets(ctx, appt.DoctorID)
	if err != nil {
		p.logger.Warn("reminder offsets unavailable", zap.String("doctor_id", appt.DoctorID), zap.Error(err))
		return nil
	}

	type target struct{ channel, recipient string }
	var targets []target
	if patient.Phone != "" {
		targets = append(targets, target{model.ChannelSMS, patient.Phone})
	}
	if patient.Email != "" {
		targets = append(targets, target{model.ChannelEmail, patient.Email})
	}
	if len(targets) == 0 {
		targets = append(targets, target{model.ChannelSMS, ""})
	}

	var out []model.Reminder
	for _, off := range offsets {
		at := appt.Start.Add(-off)
		if !at.After(now) {
			continue
		}
		for _, tg := range targets {
			out = append(out, model.Reminder{
				ID:            uuid.NewString(),
				AppointmentID: appt.ID,
				Channel:       tg.channel,
				Recipient:     tg.recipient,
				RemindAt:      at,
				Status:        model.ReminderPending,
				UpdatedAt:     now,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out
}
