package scheduling

import (
	"context"
	"sort"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"go.uber.org/zap"
)

// Rank returns appts ordered by (queue_order, urgency rank, start,
// checked_in_at with nulls last). The id breaks remaining ties so the order
// is total.
func Rank(appts []model.Appointment) []model.Appointment {
	out := make([]model.Appointment, len(appts))
	copy(out, appts)
	sort.SliceStable(out, func(i, j int) bool { return queueLess(out[i], out[j]) })
	return out
}

func queueLess(a, b model.Appointment) bool {
	if a.QueueOrder != b.QueueOrder {
		return a.QueueOrder < b.QueueOrder
	}
	if ra, rb := a.Urgency.Rank(), b.Urgency.Rank(); ra != rb {
		return ra < rb
	}
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	switch {
	case a.CheckedInAt != nil && b.CheckedInAt == nil:
		return true
	case a.CheckedInAt == nil && b.CheckedInAt != nil:
		return false
	case a.CheckedInAt != nil && !a.CheckedInAt.Equal(*b.CheckedInAt):
		return a.CheckedInAt.Before(*b.CheckedInAt)
	}
	return a.ID < b.ID
}

// Queue ranks the active set for the clinic-local calendar day containing
// day. It is recomputed on every call.
func (s *Service) Queue(ctx context.Context, day time.Time) ([]model.Appointment, error) {
	start := s.DayStart(day)
	rows, err := s.store.ActiveOnDay(ctx, start, start.AddDate(0, 0, 1), false)
	if err != nil {
		return nil, err
	}
	return Rank(rows), nil
}

type ReorderResult struct {
	Applied []string
	Skipped []string
}

// Reorder applies manual queue_order overrides one by one. Unknown ids are
// skipped; a storage error stops the batch and keeps what was applied.
func (s *Service) Reorder(ctx context.Context, orders map[string]int, actorID string) (ReorderResult, error) {
	ids := make([]string, 0, len(orders))
	for id := range orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var res ReorderResult
	for _, id := range ids {
		ok, err := s.store.SetQueueOrder(ctx, id, orders[id])
		if err != nil {
			s.logger.Warn("queue reorder interrupted",
				zap.String("actor_id", actorID),
				zap.Int("applied", len(res.Applied)),
				zap.Error(err),
			)
			return res, err
		}
		if ok {
			res.Applied = append(res.Applied, id)
		} else {
			res.Skipped = append(res.Skipped, id)
		}
	}
	s.logger.Info("queue reordered",
		zap.String("actor_id", actorID),
		zap.Int("applied", len(res.Applied)),
		zap.Int("skipped", len(res.Skipped)),
	)
	return res, nil
}
