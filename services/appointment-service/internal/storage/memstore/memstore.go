// Package memstore is an in-process scheduling.Store. It keeps the same
// locking contract as the Postgres store: a per-doctor booking lock with a
// bounded wait, row locks for single-appointment updates, and writes that
// become visible only when the transaction commits.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/clinicbook/clinicbook/services/appointment-service/internal/interval"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/outbox"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/google/uuid"
)

const DefaultLockTimeout = 5 * time.Second

type Store struct {
	lockTimeout time.Duration

	mu        sync.Mutex
	appts     map[string]model.Appointment
	reminders map[string][]model.Reminder
	idem      map[string]string
	events    []outbox.Event
	doctors   map[string]model.Party
	patients  map[string]model.Party
	locks     map[string]chan struct{}
}

func New(lockTimeout time.Duration) *Store {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	return &Store{
		lockTimeout: lockTimeout,
		appts:       make(map[string]model.Appointment),
		reminders:   make(map[string][]model.Reminder),
		idem:        make(map[string]string),
		doctors:     make(map[string]model.Party),
		patients:    make(map[string]model.Party),
		locks:       make(map[string]chan struct{}),
	}
}

func (s *Store) AddDoctor(p model.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[p.ID] = p
}

func (s *Store) AddPatient(p model.Party) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = p
}

// Seed writes rows directly, bypassing every check. Tests use it for legacy
// data such as durations outside the bookable range.
func (s *Store) Seed(appts ...model.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range appts {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		s.appts[a.ID] = a
	}
}

// Events returns a copy of every committed outbox event in commit order.
func (s *Store) Events() []outbox.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *Store) Doctor(_ context.Context, id string) (model.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.doctors[id]
	if !ok {
		return model.Party{}, &scheduling.NotFoundError{Entity: "doctor", ID: id}
	}
	return p, nil
}

func (s *Store) Patient(_ context.Context, id string) (model.Party, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return model.Party{}, &scheduling.NotFoundError{Entity: "patient", ID: id}
	}
	return p, nil
}

func (s *Store) Appointment(_ context.Context, id string, includeDeleted bool) (model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || (a.DeletedAt != nil && !includeDeleted) {
		return model.Appointment{}, &scheduling.NotFoundError{Entity: "appointment", ID: id}
	}
	return a, nil
}

func (s *Store) ActiveInWindow(_ context.Context, doctorID string, start, end time.Time, includeDeleted bool) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	win := interval.Interval{Start: start, End: end}
	var out []model.Appointment
	for _, a := range s.appts {
		if a.DoctorID == doctorID && a.Interval().Overlaps(win) {
			out = append(out, a)
		}
	}
	return sorted(scheduling.ActiveOnly(out, includeDeleted)), nil
}

func (s *Store) ActiveOnDay(_ context.Context, start, end time.Time, includeDeleted bool) ([]model.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Appointment
	for _, a := range s.appts {
		if !a.Start.Before(start) && a.Start.Before(end) {
			out = append(out, a)
		}
	}
	return sorted(scheduling.ActiveOnly(out, includeDeleted)), nil
}

// SetQueueOrder waits for the row lock, like the single-statement UPDATE in
// Postgres, so it never interleaves with an open transition on the same row.
func (s *Store) SetQueueOrder(ctx context.Context, id string, order int) (bool, error) {
	tx := &memTx{store: s, held: make(map[string]bool)}
	defer tx.release()
	if err := tx.acquire(ctx, "appointment:"+id); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok || a.DeletedAt != nil {
		return false, nil
	}
	a.QueueOrder = order
	s.appts[id] = a
	return true, nil
}

func (s *Store) Reminders(_ context.Context, appointmentID string) ([]model.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Reminder, len(s.reminders[appointmentID]))
	copy(out, s.reminders[appointmentID])
	sort.Slice(out, func(i, j int) bool { return out[i].RemindAt.Before(out[j].RemindAt) })
	return out, nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx scheduling.Tx) error) error {
	tx := &memTx{
		store:  s,
		held:   make(map[string]bool),
		staged: make(map[string]model.Appointment),
		idem:   make(map[string]string),
	}
	defer tx.release()
	if err := fn(ctx, tx); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Mirror the database exclusion constraint on active rows.
	for _, a := range tx.staged {
		if !a.InActiveSet() {
			continue
		}
		var hits []model.Appointment
		for id, other := range s.appts {
			if id == a.ID || other.DoctorID != a.DoctorID || !other.InActiveSet() {
				continue
			}
			if staged, ok := tx.staged[id]; ok && !staged.InActiveSet() {
				continue
			}
			if other.Interval().Overlaps(a.Interval()) {
				hits = append(hits, other)
			}
		}
		if len(hits) > 0 {
			cerr := &scheduling.ConflictError{DoctorID: a.DoctorID}
			for _, h := range sorted(hits) {
				cerr.Conflicts = append(cerr.Conflicts, scheduling.ConflictOf(h))
			}
			return cerr
		}
	}

	for id, a := range tx.staged {
		s.appts[id] = a
	}
	for _, r := range tx.reminders {
		s.reminders[r.AppointmentID] = append(s.reminders[r.AppointmentID], r)
	}
	for k, v := range tx.idem {
		s.idem[k] = v
	}
	s.events = append(s.events, tx.events...)
	return nil
}

func (s *Store) lockFor(key string) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[key] = ch
	}
	return ch
}

type memTx struct {
	store     *Store
	held      map[string]bool
	order     []string
	staged    map[string]model.Appointment
	reminders []model.Reminder
	idem      map[string]string
	events    []outbox.Event
}

var _ scheduling.Tx = (*memTx)(nil)

// acquire takes a named lock for the rest of the transaction. Locks are
// reentrant within one transaction.
func (t *memTx) acquire(ctx context.Context, key string) error {
	if t.held[key] {
		return nil
	}
	ch := t.store.lockFor(key)
	timer := time.NewTimer(t.store.lockTimeout)
	defer timer.Stop()
	select {
	case ch <- struct{}{}:
		t.held[key] = true
		t.order = append(t.order, key)
		return nil
	case <-timer.C:
		return &scheduling.TransientError{Op: "acquire " + key, Err: scheduling.ErrLockTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *memTx) release() {
	for i := len(t.order) - 1; i >= 0; i-- {
		<-t.store.lockFor(t.order[i])
	}
	t.order = nil
	t.held = nil
}

func (t *memTx) LockDoctor(ctx context.Context, doctorID string) error {
	return t.acquire(ctx, "doctor:"+doctorID)
}

func (t *memTx) ActiveForDoctor(_ context.Context, doctorID string, start, end time.Time) ([]model.Appointment, error) {
	win := interval.Interval{Start: start, End: end}
	t.store.mu.Lock()
	rows := make(map[string]model.Appointment)
	for id, a := range t.store.appts {
		if a.DoctorID == doctorID {
			rows[id] = a
		}
	}
	t.store.mu.Unlock()
	for id, a := range t.staged {
		if a.DoctorID == doctorID {
			rows[id] = a
		}
	}

	var out []model.Appointment
	for _, a := range rows {
		if a.Interval().Overlaps(win) {
			out = append(out, a)
		}
	}
	return sorted(scheduling.ActiveOnly(out, false)), nil
}

func (t *memTx) AppointmentForUpdate(ctx context.Context, id string, includeDeleted bool) (model.Appointment, error) {
	if err := t.acquire(ctx, "appointment:"+id); err != nil {
		return model.Appointment{}, err
	}
	if a, ok := t.staged[id]; ok {
		if a.DeletedAt != nil && !includeDeleted {
			return model.Appointment{}, &scheduling.NotFoundError{Entity: "appointment", ID: id}
		}
		return a, nil
	}
	return t.store.Appointment(ctx, id, includeDeleted)
}

func (t *memTx) Insert(_ context.Context, a *model.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	t.store.mu.Lock()
	_, exists := t.store.appts[a.ID]
	t.store.mu.Unlock()
	if _, staged := t.staged[a.ID]; exists || staged {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	t.staged[a.ID] = *a
	return nil
}

func (t *memTx) Update(ctx context.Context, a model.Appointment) error {
	if _, ok := t.staged[a.ID]; !ok {
		if _, err := t.store.Appointment(ctx, a.ID, true); err != nil {
			return err
		}
	}
	t.staged[a.ID] = a
	return nil
}

func (t *memTx) InsertReminders(_ context.Context, reminders []model.Reminder) error {
	for _, r := range reminders {
		if r.ID == "" {
			r.ID = uuid.NewString()
		}
		t.reminders = append(t.reminders, r)
	}
	return nil
}

func (t *memTx) ClaimIdempotencyKey(ctx context.Context, key string) (string, error) {
	if err := t.acquire(ctx, "idempotency:"+key); err != nil {
		return "", err
	}
	if id, ok := t.idem[key]; ok {
		return id, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	return t.store.idem[key], nil
}

func (t *memTx) FinalizeIdempotencyKey(_ context.Context, key, appointmentID string) error {
	t.idem[key] = appointmentID
	return nil
}

func (t *memTx) Emit(_ context.Context, evt outbox.Event) error {
	t.events = append(t.events, evt)
	return nil
}

func sorted(rows []model.Appointment) []model.Appointment {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Start.Equal(rows[j].Start) {
			return rows[i].Start.Before(rows[j].Start)
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}
