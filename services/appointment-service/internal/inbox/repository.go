// Package inbox deduplicates consumed events by event id.
package inbox

import (
	"context"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/jackc/pgx/v5"
)

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Record stores the event id inside tx and reports false when the event was
// already processed. The insert shares the handler's transaction, so a
// failed handler leaves the event unrecorded.
func (r *Repository) Record(ctx context.Context, tx pgx.Tx, eventID, eventType string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
