package storage

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/clinicbook/clinicbook/libs/db"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/model"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/scheduling"
	"github.com/clinicbook/clinicbook/services/appointment-service/internal/slots"
	"github.com/clinicbook/clinicbook/services/appointment-service/migrations"
	"github.com/google/uuid"
)

type pgFixture struct {
	pool    *db.Pool
	store   *Store
	dir     *Directory
	svc     *scheduling.Service
	doctor  string
	patient string
	day     time.Time
}

func openTestDB(t *testing.T, lockTimeout time.Duration) *pgFixture {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url, db.Options{MaxConns: 20})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)

	m, err := db.NewMigrator(pool, migrations.FS, ".")
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if err := m.Up(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	doctor, patient := uuid.NewString(), uuid.NewString()
	if _, err := pool.Exec(ctx, `INSERT INTO doctors (id, display_name) VALUES ($1, 'Dr. Test')`, doctor); err != nil {
		t.Fatalf("seed doctor: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO patients (id, display_name, phone) VALUES ($1, 'Pat Test', '+639170000000')`, patient); err != nil {
		t.Fatalf("seed patient: %v", err)
	}

	now := time.Now().UTC()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 7)
	store := NewStore(pool, nil, lockTimeout)
	dir := NewDirectory(pool)
	svc := scheduling.NewService(scheduling.Options{
		Store:     store,
		Directory: dir,
		Slots:     &scheduling.FallbackSource{Primary: NewSlotFunction(pool), Fallback: scheduling.RowScanSource{Store: store}},
		Location:  time.UTC,
	})
	return &pgFixture{pool: pool, store: store, dir: dir, svc: svc, doctor: doctor, patient: patient, day: day}
}

func (f *pgFixture) request(start time.Time, minutes int) scheduling.BookRequest {
	return scheduling.BookRequest{
		PatientID: f.patient, DoctorID: f.doctor, Start: start, DurationMinutes: minutes,
		Type: model.TypeConsultation, Urgency: model.UrgencyRoutine,
	}
}

func TestStore_NoDoubleBooking(t *testing.T) {
	f := openTestDB(t, 0)
	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		booked  int
		unknown []error
	)
	gate := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			_, err := f.svc.Book(context.Background(), f.request(f.day.Add(9*time.Hour+time.Duration(i%5)*time.Minute), 30))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, scheduling.ErrConflict):
			default:
				unknown = append(unknown, err)
			}
		}(i)
	}
	close(gate)
	wg.Wait()
	if len(unknown) > 0 {
		t.Fatalf("unexpected errors: %v", unknown)
	}
	if booked != 1 {
		t.Fatalf("expected exactly one booking, got %d", booked)
	}
}

func TestStore_LockTimeoutIsTransient(t *testing.T) {
	f := openTestDB(t, 100*time.Millisecond)
	ctx := context.Background()
	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
			if err := tx.LockDoctor(ctx, f.doctor); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked
	_, err := f.svc.Book(ctx, f.request(f.day.Add(10*time.Hour), 30))
	close(release)
	if holdErr := <-done; holdErr != nil {
		t.Fatalf("holder: %v", holdErr)
	}
	if !errors.Is(err, scheduling.ErrTransient) || !errors.Is(err, scheduling.ErrLockTimeout) {
		t.Fatalf("expected transient lock timeout, got %v", err)
	}
}

func TestStore_RescheduleOntoOwnSlot(t *testing.T) {
	f := openTestDB(t, 0)
	ctx := context.Background()
	a, err := f.svc.Book(ctx, f.request(f.day.Add(9*time.Hour), 30))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	src, next, err := f.svc.Reschedule(ctx, a.ID, f.day.Add(9*time.Hour+15*time.Minute), "staff")
	if err != nil {
		t.Fatalf("reschedule onto own slot: %v", err)
	}
	if src.Status != model.StatusRescheduled || next.RescheduledFrom != a.ID {
		t.Fatalf("unexpected chain %+v -> %+v", src, next)
	}
	if _, err := f.svc.Appointment(ctx, "not-a-uuid", false); !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("expected not found for malformed id, got %v", err)
	}
}

func TestSlotFunction_Parity(t *testing.T) {
	f := openTestDB(t, 0)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(11))
	for i := 0; i < 12; i++ {
		start := f.day.Add(time.Duration(rng.Intn(20*4)) * 15 * time.Minute)
		_, err := f.svc.Book(ctx, f.request(start, 15+rng.Intn(90)))
		if err != nil && !errors.Is(err, scheduling.ErrConflict) {
			t.Fatalf("seed booking: %v", err)
		}
	}

	set := NewSlotFunction(f.pool)
	row := scheduling.RowScanSource{Store: f.store}
	for i := 0; i < 50; i++ {
		ws := rng.Intn(20)
		q := slots.Query{
			Day:             f.day,
			Location:        time.UTC,
			DurationMinutes: 15 + rng.Intn(120),
			WorkStartHour:   ws,
			WorkEndHour:     ws + 1 + rng.Intn(24-ws),
			StepMinutes:     []int{5, 15, 30}[rng.Intn(3)],
			Now:             f.day.Add(time.Duration(rng.Intn(24*60)) * time.Minute),
		}
		a, err := set.Slots(ctx, f.doctor, q)
		if err != nil {
			t.Fatalf("set-oriented: %v", err)
		}
		b, err := row.Slots(ctx, f.doctor, q)
		if err != nil {
			t.Fatalf("row scan: %v", err)
		}
		if len(a) != len(b) {
			t.Fatalf("query %d: %d vs %d slots", i, len(a), len(b))
		}
		for k := range a {
			if !a[k].Equal(b[k]) {
				t.Fatalf("query %d slot %d: %s vs %s", i, k, a[k], b[k])
			}
		}
	}
}

func TestClassify(t *testing.T) {
	conflict := &scheduling.ConflictError{DoctorID: "d"}
	if got := classify("op", conflict); got != conflict {
		t.Fatalf("expected kinds to pass through, got %v", got)
	}
	if got := classify("op", context.DeadlineExceeded); !errors.Is(got, scheduling.ErrTransient) {
		t.Fatalf("expected deadline to be transient, got %v", got)
	}
	if got := classify("op", errors.New("syntax")); errors.Is(got, scheduling.ErrTransient) {
		t.Fatalf("plain errors must not be transient")
	}
	if classify("op", nil) != nil {
		t.Fatalf("nil must stay nil")
	}
}

func TestDirectory_MalformedDoctorID(t *testing.T) {
	f := openTestDB(t, 0)
	ctx := context.Background()

	_, err := f.svc.Availability(ctx, scheduling.AvailabilityRequest{
		DoctorID: "not-a-uuid", Day: f.day, DurationMinutes: 30, WorkStartHour: 9, WorkEndHour: 17,
	})
	var verr *scheduling.ValidationError
	if !errors.As(err, &verr) || verr.Field != "doctor_id" {
		t.Fatalf("availability: expected doctor_id validation error, got %v", err)
	}
	if _, err := f.svc.Conflicting(ctx, "not-a-uuid", f.day.Add(9*time.Hour), 30); !errors.Is(err, scheduling.ErrValidation) {
		t.Fatalf("check conflict: expected validation error, got %v", err)
	}
	if _, err := f.svc.Conflicting(ctx, uuid.NewString(), f.day.Add(9*time.Hour), 30); !errors.Is(err, scheduling.ErrNotFound) {
		t.Fatalf("unknown doctor: expected not found, got %v", err)
	}
}

func TestStore_ExclusionConstraintNamesConflicts(t *testing.T) {
	f := openTestDB(t, 0)
	ctx := context.Background()
	first, err := f.svc.Book(ctx, f.request(f.day.Add(11*time.Hour), 30))
	if err != nil {
		t.Fatalf("book: %v", err)
	}

	now := time.Now().UTC()
	err = f.store.InTx(ctx, func(ctx context.Context, tx scheduling.Tx) error {
		// No doctor lock: the constraint is the only guard left.
		return tx.Insert(ctx, &model.Appointment{
			DoctorID: f.doctor, PatientID: f.patient, PatientLabel: "Pat Test",
			Start: first.Start.Add(10 * time.Minute), DurationMinutes: 30,
			Type: model.TypeConsultation, Urgency: model.UrgencyRoutine, Status: model.StatusScheduled,
			CreatedAt: now, UpdatedAt: now,
		})
	})
	var cerr *scheduling.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if cerr.DoctorID != f.doctor || len(cerr.Conflicts) != 1 || cerr.Conflicts[0].ID != first.ID {
		t.Fatalf("expected conflict naming %s, got %+v", first.ID, cerr)
	}
}
