package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/libs/kafkax"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/inbox"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	TopicDelivered = "notification.delivered.v1"
	TopicFailed    = "notification.failed.v1"
	TopicBounced   = "notification.bounced.v1"
)

var DeliveryTopics = []string{TopicDelivered, TopicFailed, TopicBounced}

var ErrMalformedReport = errors.New("malformed delivery report")

type DeliveryReport struct {
	ReminderID    string `json:"reminder_id"`
	AppointmentID string `json:"appointment_id,omitempty"`
	Error         string `json:"error,omitempty"`
}

func statusFor(eventType string) (model.ReminderStatus, bool) {
	switch eventType {
	case TopicDelivered:
		return model.ReminderDelivered, true
	case TopicFailed:
		return model.ReminderFailed, true
	case TopicBounced:
		return model.ReminderBounced, true
	}
	return "", false
}

// ParseDeliveryReport decodes a notification event into the reminder it
// reports on and the status it moves that reminder to.
func ParseDeliveryReport(eventType string, body []byte) (DeliveryReport, model.ReminderStatus, error) {
	status, ok := statusFor(eventType)
	if !ok {
		return DeliveryReport{}, "", fmt.Errorf("%w: unexpected event type %q", ErrMalformedReport, eventType)
	}
	var report DeliveryReport
	if err := json.Unmarshal(body, &report); err != nil {
		return DeliveryReport{}, "", fmt.Errorf("%w: %v", ErrMalformedReport, err)
	}
	report.ReminderID = strings.TrimSpace(report.ReminderID)
	if report.ReminderID == "" {
		return DeliveryReport{}, "", fmt.Errorf("%w: reminder_id is required", ErrMalformedReport)
	}
	return report, status, nil
}

// DeliveryHandler applies notification delivery reports to reminders,
// exactly once per event id.
type DeliveryHandler struct {
	pool   *db.Pool
	repo   *Repository
	inbox  *inbox.Repository
	logger *zap.Logger
	now    func() time.Time
}

func NewDeliveryHandler(pool *db.Pool, repo *Repository, inboxRepo *inbox.Repository, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{pool: pool, repo: repo, inbox: inboxRepo, logger: logger, now: time.Now}
}

func (h *DeliveryHandler) Handle(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)
	report, status, err := ParseDeliveryReport(meta.EventType, msg.Value)
	if err != nil {
		return err
	}

	return h.pool.InTx(ctx, func(tx pgx.Tx) error {
		fresh, err := h.inbox.Record(ctx, tx, meta.EventID, meta.EventType)
		if err != nil {
			return err
		}
		if !fresh {
			h.logger.Info("duplicate delivery report ignored",
				zap.String("event_id", meta.EventID),
				zap.String("reminder_id", report.ReminderID),
			)
			return nil
		}
		if err := h.repo.ApplyDeliveryStatus(ctx, tx, report.ReminderID, status, report.Error, h.now().UTC()); err != nil {
			return err
		}
		h.logger.Info("reminder delivery status applied",
			zap.String("reminder_id", report.ReminderID),
			zap.String("status", string(status)),
		)
		return nil
	})
}
