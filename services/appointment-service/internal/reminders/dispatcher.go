package reminders

import (
	"context"
	"time"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// Dispatcher hands due reminders to the notification pipeline by writing
// appointment.reminder.due.v1 events to the outbox.
type Dispatcher struct {
	pool      *db.Pool
	repo      *Repository
	outbox    eventWriter
	logger    *zap.Logger
	now       func() time.Time
	interval  time.Duration
	batchSize int
}

type eventWriter interface {
	Insert(ctx context.Context, tx pgx.Tx, evt outbox.Event) error
}

type DispatcherConfig struct {
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

func NewDispatcher(pool *db.Pool, repo *Repository, outboxRepo *outbox.Repository, logger *zap.Logger, cfg DispatcherConfig) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Dispatcher{
		pool:      pool,
		repo:      repo,
		outbox:    outboxRepo,
		logger:    logger,
		now:       cfg.Now,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := d.dispatchBatch(ctx)
			if err != nil {
				d.logger.Error("reminder dispatch failed", zap.Error(err))
				continue
			}
			if n > 0 {
				d.logger.Info("reminders dispatched", zap.Int("count", n))
			}
		}
	}
}

func (d *Dispatcher) dispatchBatch(ctx context.Context) (int, error) {
	now := d.now().UTC()
	var sent int
	err := d.pool.InTx(ctx, func(tx pgx.Tx) error {
		due, err := d.repo.FetchDue(ctx, tx, now, d.batchSize)
		if err != nil || len(due) == 0 {
			return err
		}
		ids, appts, err := d.enqueue(ctx, tx, due, now)
		if err != nil {
			return err
		}
		if err := d.repo.MarkSent(ctx, tx, ids, now); err != nil {
			return err
		}
		if err := d.repo.MarkAppointmentsReminded(ctx, tx, appts, now); err != nil {
			return err
		}
		sent = len(ids)
		return nil
	})
	return sent, err
}

// enqueue writes one outbox event per due reminder and marks the ones that
// could not be written as failed. It returns the enqueued reminder ids and
// the distinct appointments they belong to.
func (d *Dispatcher) enqueue(ctx context.Context, tx pgx.Tx, due []Due, now time.Time) (ids, appts []string, err error) {
	seen := make(map[string]bool)
	for _, item := range due {
		if err := d.enqueueOne(ctx, tx, item); err != nil {
			d.logger.Warn("reminder enqueue failed",
				zap.String("reminder_id", item.Reminder.ID),
				zap.Error(err),
			)
			if markErr := d.repo.MarkFailed(ctx, tx, item.Reminder.ID, err.Error(), now); markErr != nil {
				return nil, nil, markErr
			}
			continue
		}
		ids = append(ids, item.Reminder.ID)
		if !seen[item.Reminder.AppointmentID] {
			seen[item.Reminder.AppointmentID] = true
			appts = append(appts, item.Reminder.AppointmentID)
		}
	}
	return ids, appts, nil
}

// enqueueOne inserts inside a savepoint so a database error rolls back only
// this reminder's write and leaves the batch transaction usable.
func (d *Dispatcher) enqueueOne(ctx context.Context, tx pgx.Tx, item Due) error {
	evt, err := outbox.NewEvent(item.Reminder.AppointmentID, outbox.TypeReminderDue, DuePayload(item))
	if err != nil {
		return err
	}
	sp, err := tx.Begin(ctx)
	if err != nil {
		return err
	}
	if err := d.outbox.Insert(ctx, sp, evt); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	return sp.Commit(ctx)
}

// DuePayload is the body of appointment.reminder.due.v1.
func DuePayload(d Due) map[string]any {
	return map[string]any{
		"reminder_id":      d.Reminder.ID,
		"appointment_id":   d.Reminder.AppointmentID,
		"doctor_id":        d.DoctorID,
		"patient_id":       d.PatientID,
		"patient_label":    d.PatientLabel,
		"channel":          d.Reminder.Channel,
		"recipient":        d.Reminder.Recipient,
		"remind_at":        d.Reminder.RemindAt.UTC().Format(time.RFC3339),
		"start":            d.Start.UTC().Format(time.RFC3339),
		"duration_minutes": d.Duration,
	}
}
