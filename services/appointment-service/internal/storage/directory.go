package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/slots"
	"github.com/jackc/pgx/v5"
)

// Directory reads doctors and patients. Both tables are owned by the CRUD
// side; the scheduler only reads them.
type Directory struct {
	pool *db.Pool
}

func NewDirectory(pool *db.Pool) *Directory {
	return &Directory{pool: pool}
}

func (d *Directory) Doctor(ctx context.Context, id string) (model.Party, error) {
	return d.party(ctx, "doctor", `
		SELECT id::text, display_name, COALESCE(email, ''), COALESCE(phone, ''), is_active
		FROM doctors
		WHERE id = $1
	`, id)
}

func (d *Directory) Patient(ctx context.Context, id string) (model.Party, error) {
	return d.party(ctx, "patient", `
		SELECT id::text, display_name, COALESCE(email, ''), COALESCE(phone, ''), is_active
		FROM patients
		WHERE id = $1
	`, id)
}

func (d *Directory) party(ctx context.Context, entity, query, id string) (model.Party, error) {
	var p model.Party
	err := d.pool.QueryRow(ctx, query, id).Scan(&p.ID, &p.DisplayName, &p.Email, &p.Phone, &p.Active)
	if db.IsInvalidText(err) {
		return model.Party{}, &scheduling.ValidationError{Field: entity + "_id", Reason: "malformed id"}
	}
	if err != nil {
		return model.Party{}, notFound(entity, id, err)
	}
	return p, nil
}

// SlotFunction evaluates availability inside Postgres with the
// available_slots function from the second migration.
type SlotFunction struct {
	pool *db.Pool
}

func NewSlotFunction(pool *db.Pool) SlotFunction {
	return SlotFunction{pool: pool}
}

func (f SlotFunction) Slots(ctx context.Context, doctorID string, q slots.Query) ([]time.Time, error) {
	loc := q.Location
	if loc == nil {
		loc = time.UTC
	}
	rows, err := f.pool.Query(ctx, `
		SELECT slot_start
		FROM available_slots($1, $2::date, $3, $4, $5, $6, $7, $8)
	`, doctorID, q.Day.Format(time.DateOnly), loc.String(), q.DurationMinutes,
		q.WorkStartHour, q.WorkEndHour, q.StepMinutes, q.Now)
	if err != nil {
		return nil, slotError(err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[time.Time])
	if err != nil {
		return nil, slotError(err)
	}
	for i := range out {
		out[i] = out[i].In(loc)
	}
	return out, nil
}

func slotError(err error) error {
	if db.IsUndefinedObject(err) {
		return fmt.Errorf("available_slots: %w: %w", scheduling.ErrSourceUnavailable, err)
	}
	return classify("available slots", err)
}
