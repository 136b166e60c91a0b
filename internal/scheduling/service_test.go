package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/config"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc      *Service
	repo     *MemoryRepository
	dir      *MemoryDirectory
	clock    *testClock
	doctorID uuid.UUID
}

func newFixture(t *testing.T, mutate ...func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Config{
		Location:     time.UTC,
		MaxRangeDays: 92,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	f := &fixture{
		repo:     NewMemoryRepository(),
		dir:      NewMemoryDirectory(),
		clock:    &testClock{now: time.Date(2030, 1, 6, 12, 0, 0, 0, time.UTC)},
		doctorID: uuid.New(),
	}
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{TTL: 5 * time.Second, Wait: 5 * time.Second})
	f.svc = NewService(f.repo, f.dir, locker, cfg, WithClock(f.clock.Now))

	f.dir.PutDoctor(f.doctorID, true)
	_, err := f.svc.SetTemplate(context.Background(), staff, mondayTemplate(f.doctorID))
	require.NoError(t, err)
	return f
}

func (f *fixture) patient() uuid.UUID {
	id := uuid.New()
	f.dir.PutPatient(id)
	return id
}

func (f *fixture) mondaySlots(t *testing.T) []SlotInstance {
	t.Helper()
	slots, err := f.svc.GetSlots(context.Background(), f.doctorID, NewDateRange(monday, monday))
	require.NoError(t, err)
	require.Len(t, slots, 2)
	return slots
}

func (f *fixture) book(patientID, slotID uuid.UUID) (*Appointment, error) {
	return f.svc.CreateAppointment(context.Background(), staff, CreateAppointmentRequest{
		DoctorID:  f.doctorID,
		SlotID:    slotID,
		PatientID: patientID,
		Reason:    "checkup",
	})
}

func (f *fixture) slot(t *testing.T, id uuid.UUID) *SlotInstance {
	t.Helper()
	s, err := f.repo.GetSlot(context.Background(), id)
	require.NoError(t, err)
	return s
}

func requireConflict(t *testing.T, err error, want ConflictReason) {
	t.Helper()
	require.ErrorIs(t, err, ErrConflict)
	reason, _ := ConflictReasonOf(err)
	assert.Equal(t, want, reason)
}

func TestBookingLifecycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slots := f.mondaySlots(t)
	first := slots[0]
	p1, p2 := f.patient(), f.patient()

	appt, err := f.book(p1, first.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, appt.Status)
	assert.Equal(t, 1, f.slot(t, first.ID).BookedCount)

	_, err = f.book(p2, first.ID)
	requireConflict(t, err, ConflictSlotFull)
	assert.Equal(t, 1, f.slot(t, first.ID).BookedCount)

	cancelled, err := f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCancelled, "patient request")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelReason)
	assert.Equal(t, "patient request", *cancelled.CancelReason)
	assert.Equal(t, 0, f.slot(t, first.ID).BookedCount)

	second, err := f.book(p2, first.ID)
	require.NoError(t, err)
	assert.Equal(t, p2, second.PatientID)
	assert.Equal(t, 1, f.slot(t, first.ID).BookedCount)

	var types []string
	for _, ev := range f.repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Equal(t, []string{EventAppointmentCreated, EventAppointmentCancelled, EventAppointmentCreated}, types)
}

func TestGetAvailableSlotsHidesFullAndPastSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slots := f.mondaySlots(t)
	day := NewDateRange(monday, monday)

	_, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)

	available, err := f.svc.GetAvailableSlots(ctx, f.doctorID, day)
	require.NoError(t, err)
	require.Len(t, available, 1)
	assert.Equal(t, slots[1].ID, available[0].ID)

	f.clock.Advance(21*time.Hour + 45*time.Minute) // Monday 09:45
	available, err = f.svc.GetAvailableSlots(ctx, f.doctorID, day)
	require.NoError(t, err)
	assert.Empty(t, available)

	_, err = f.book(f.patient(), slots[1].ID)
	requireConflict(t, err, ConflictSlotInPast)
}

func TestGetAvailableSlotsForInactiveDoctorIsEmpty(t *testing.T) {
	f := newFixture(t)
	f.dir.PutDoctor(f.doctorID, false)

	available, err := f.svc.GetAvailableSlots(context.Background(), f.doctorID, NewDateRange(monday, monday))
	require.NoError(t, err)
	assert.Empty(t, available)

	_, err = f.svc.GetAvailableSlots(context.Background(), uuid.New(), NewDateRange(monday, monday))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConcurrentBookingsNeverOverbook(t *testing.T) {
	f := newFixture(t)
	slotID := f.mondaySlots(t)[0].ID

	const bookers = 20
	patients := make([]uuid.UUID, bookers)
	for i := range patients {
		patients[i] = f.patient()
	}

	var wg sync.WaitGroup
	errs := make([]error, bookers)
	for i := 0; i < bookers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.book(patients[i], slotID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		requireConflict(t, err, ConflictSlotFull)
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, f.slot(t, slotID).BookedCount)
}

func TestConcurrentBookingsFillCapacity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	tmpl := mondayTemplate(f.doctorID)
	tmpl.CapacityPerSlot = 3
	_, err := f.svc.SetTemplate(ctx, staff, tmpl)
	require.NoError(t, err)
	slotID := f.mondaySlots(t)[0].ID
	require.Equal(t, 3, f.slot(t, slotID).Capacity)

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 10; i++ {
		patientID := f.patient()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.book(patientID, slotID); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Equal(t, 3, f.slot(t, slotID).BookedCount)
}

func TestCreateAppointmentValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slotID := f.mondaySlots(t)[0].ID
	p := f.patient()

	_, err := f.svc.CreateAppointment(ctx, Caller{}, CreateAppointmentRequest{DoctorID: f.doctorID, SlotID: slotID, PatientID: p})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.CreateAppointment(ctx, staff, CreateAppointmentRequest{DoctorID: f.doctorID, PatientID: p})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.book(uuid.New(), slotID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.book(p, uuid.New())
	requireConflict(t, err, ConflictSlotNotFound)

	other := uuid.New()
	f.dir.PutDoctor(other, true)
	_, err = f.svc.CreateAppointment(ctx, staff, CreateAppointmentRequest{DoctorID: other, SlotID: slotID, PatientID: p})
	assert.ErrorIs(t, err, ErrValidation)

	f.dir.PutDoctor(f.doctorID, false)
	_, err = f.book(p, slotID)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.slot(t, slotID).BookedCount)
}

func TestCreateAppointmentOnExceptionDate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slotID := f.mondaySlots(t)[0].ID

	_, err := f.svc.AddException(ctx, staff, AvailabilityException{Date: monday, Reason: "clinic closed"})
	require.NoError(t, err)

	_, err = f.book(f.patient(), slotID)
	requireConflict(t, err, ConflictDoctorUnavailable)
}

func TestCancelIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slotID := f.mondaySlots(t)[0].ID

	appt, err := f.book(f.patient(), slotID)
	require.NoError(t, err)

	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCancelled, "first")
	require.NoError(t, err)
	again, err := f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCancelled, "second")
	require.NoError(t, err)

	assert.Equal(t, StatusCancelled, again.Status)
	assert.Equal(t, "first", *again.CancelReason)
	assert.Equal(t, 0, f.slot(t, slotID).BookedCount)
}

func TestConcurrentCancelsReleaseOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	// a second appointment in the same slot shows a release is never doubled
	other := uuid.New()
	f.dir.PutDoctor(other, true)
	tmpl := mondayTemplate(other)
	tmpl.CapacityPerSlot = 2
	_, err := f.svc.SetTemplate(ctx, staff, tmpl)
	require.NoError(t, err)
	slots, err := f.svc.GetSlots(ctx, other, NewDateRange(monday, monday))
	require.NoError(t, err)
	slotID := slots[0].ID

	book := func() *Appointment {
		appt, err := f.svc.CreateAppointment(ctx, staff, CreateAppointmentRequest{
			DoctorID:  other,
			SlotID:    slotID,
			PatientID: f.patient(),
			Reason:    "follow-up",
		})
		require.NoError(t, err)
		return appt
	}
	target := book()
	book()
	require.Equal(t, 2, f.slot(t, slotID).BookedCount)

	const callers = 20
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.UpdateAppointmentStatus(ctx, staff, target.ID, StatusCancelled, "patient called")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 1, f.slot(t, slotID).BookedCount)

	got, err := f.svc.GetAppointment(ctx, target.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slotID := f.mondaySlots(t)[0].ID

	appt, err := f.book(f.patient(), slotID)
	require.NoError(t, err)

	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusConfirmed, "")
	require.NoError(t, err)
	done, err := f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.Equal(t, 1, f.slot(t, slotID).BookedCount, "completion keeps the capacity consumed")

	for _, to := range []AppointmentStatus{StatusPending, StatusConfirmed, StatusCancelled} {
		_, err := f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, to, "late change")
		var ite *InvalidTransitionError
		require.ErrorAs(t, err, &ite)
		assert.Equal(t, StatusCompleted, ite.Current)
	}
}

func TestPendingCompletionPolicy(t *testing.T) {
	ctx := context.Background()

	strict := newFixture(t)
	appt, err := strict.book(strict.patient(), strict.mondaySlots(t)[0].ID)
	require.NoError(t, err)
	_, err = strict.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCompleted, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	lenient := newFixture(t, func(c *config.Config) { c.AllowPendingCompletion = true })
	appt, err = lenient.book(lenient.patient(), lenient.mondaySlots(t)[0].ID)
	require.NoError(t, err)
	done, err := lenient.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCompleted, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
}

func TestPatientCannotCancelConfirmed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	appt, err := f.book(f.patient(), f.mondaySlots(t)[0].ID)
	require.NoError(t, err)

	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusConfirmed, "")
	require.NoError(t, err)

	_, err = f.svc.UpdateAppointmentStatus(ctx, patient, appt.ID, StatusCancelled, "changed my mind")
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, StatusCancelled, "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, appt.ID, "no_show", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, uuid.New(), StatusConfirmed, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSinglePatientPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) { c.SingleAppointmentPerPatient = true })

	second := uuid.New()
	f.dir.PutDoctor(second, true)
	_, err := f.svc.SetTemplate(ctx, staff, mondayTemplate(second))
	require.NoError(t, err)
	theirSlots, err := f.svc.GetSlots(ctx, second, NewDateRange(monday, monday))
	require.NoError(t, err)

	p := f.patient()
	_, err = f.book(p, f.mondaySlots(t)[0].ID)
	require.NoError(t, err)

	_, err = f.svc.CreateAppointment(ctx, staff, CreateAppointmentRequest{DoctorID: second, SlotID: theirSlots[0].ID, PatientID: p})
	requireConflict(t, err, ConflictPatientOverlap)

	_, err = f.svc.CreateAppointment(ctx, staff, CreateAppointmentRequest{DoctorID: second, SlotID: theirSlots[1].ID, PatientID: p})
	assert.NoError(t, err, "back-to-back slots do not overlap")
}

func TestRescheduleMovesBooking(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) { c.SingleAppointmentPerPatient = true })
	slots := f.mondaySlots(t)

	old, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)

	moved, err := f.svc.RescheduleAppointment(ctx, staff, old.ID, slots[1].ID, "running late")
	require.NoError(t, err)
	assert.Equal(t, slots[1].ID, moved.SlotID)
	assert.Equal(t, StatusPending, moved.Status)
	assert.Equal(t, old.PatientID, moved.PatientID)

	prev, err := f.svc.GetAppointment(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, prev.Status)
	assert.Equal(t, "rescheduled: running late", *prev.CancelReason)
	require.NotNil(t, prev.Slot)
	assert.Equal(t, 0, prev.Slot.BookedCount)
	assert.Equal(t, 1, f.slot(t, slots[1].ID).BookedCount)
}

func TestRescheduleIntoFullSlotKeepsOriginal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slots := f.mondaySlots(t)

	old, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)
	_, err = f.book(f.patient(), slots[1].ID)
	require.NoError(t, err)

	_, err = f.svc.RescheduleAppointment(ctx, staff, old.ID, slots[1].ID, "")
	requireConflict(t, err, ConflictSlotFull)

	kept, err := f.svc.GetAppointment(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, kept.Status)
	assert.Equal(t, 1, f.slot(t, slots[0].ID).BookedCount)
	assert.Equal(t, 1, f.slot(t, slots[1].ID).BookedCount)
}

func TestRescheduleRejectsTerminalAppointment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slots := f.mondaySlots(t)

	old, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, old.ID, StatusCancelled, "gone")
	require.NoError(t, err)

	_, err = f.svc.RescheduleAppointment(ctx, staff, old.ID, slots[1].ID, "")
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 0, f.slot(t, slots[1].ID).BookedCount)
}

func TestTemplateChangeRegeneratesUntouchedDates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	nextMonday := monday.AddDate(0, 0, 7)

	slots := f.mondaySlots(t)
	_, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)
	_, err = f.svc.GetSlots(ctx, f.doctorID, NewDateRange(nextMonday, nextMonday))
	require.NoError(t, err)

	longer := mondayTemplate(f.doctorID)
	longer.EndTime = NewClockTime(11, 0)
	_, err = f.svc.SetTemplate(ctx, staff, longer)
	require.NoError(t, err)

	booked, err := f.svc.GetSlots(ctx, f.doctorID, NewDateRange(monday, monday))
	require.NoError(t, err)
	assert.Len(t, booked, 2, "a date with bookings keeps its slots")

	fresh, err := f.svc.GetSlots(ctx, f.doctorID, NewDateRange(nextMonday, nextMonday))
	require.NoError(t, err)
	assert.Len(t, fresh, 4)
}

func TestDeleteTemplateStopsGeneration(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.NoError(t, f.svc.DeleteTemplate(ctx, staff, f.doctorID, time.Monday))

	slots, err := f.svc.GetSlots(ctx, f.doctorID, NewDateRange(monday, monday))
	require.NoError(t, err)
	assert.Empty(t, slots)

	err = f.svc.DeleteTemplate(ctx, staff, f.doctorID, time.Monday)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListingAppointments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slots := f.mondaySlots(t)
	p := f.patient()

	a1, err := f.book(p, slots[1].ID)
	require.NoError(t, err)
	a2, err := f.book(p, slots[0].ID)
	require.NoError(t, err)

	mine, err := f.svc.GetAppointmentsForPatient(ctx, p)
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, a2.ID, mine[0].ID, "ordered by slot start")
	assert.Equal(t, a1.ID, mine[1].ID)

	forDoctor, err := f.svc.GetAppointmentsForDoctor(ctx, f.doctorID, NewDateRange(monday, monday))
	require.NoError(t, err)
	assert.Len(t, forDoctor, 2)

	forSlot, err := f.svc.GetAppointmentsForSlot(ctx, slots[0].ID)
	require.NoError(t, err)
	require.Len(t, forSlot, 1)
	assert.Equal(t, a2.ID, forSlot[0].ID)

	_, err = f.svc.GetAppointmentsForPatient(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.svc.GetAppointmentsForSlot(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExceptionsRoundTrip(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	e, err := f.svc.AddException(ctx, staff, AvailabilityException{DoctorID: &f.doctorID, Date: monday, Reason: " training "})
	require.NoError(t, err)
	assert.Equal(t, "training", e.Reason)

	list, err := f.svc.ListExceptions(ctx, f.doctorID, NewDateRange(monday, monday.AddDate(0, 0, 6)))
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, f.svc.RemoveException(ctx, staff, e.ID))
	assert.ErrorIs(t, f.svc.RemoveException(ctx, staff, e.ID), ErrNotFound)

	_, err = f.svc.AddException(ctx, staff, AvailabilityException{Reason: "no date"})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMaterializeHorizon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	idle := uuid.New()
	f.dir.PutDoctor(idle, false)
	_, err := f.svc.SetTemplate(ctx, staff, mondayTemplate(idle))
	require.NoError(t, err)

	processed, err := f.svc.MaterializeHorizon(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)

	// clock is Sunday 2030-01-06, so 14 days cover two Mondays
	stored, err := f.repo.ListSlots(ctx, f.doctorID, NewDateRange(monday, monday.AddDate(0, 0, 13)))
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	idleSlots, err := f.repo.ListSlots(ctx, idle, NewDateRange(monday, monday.AddDate(0, 0, 13)))
	require.NoError(t, err)
	assert.Empty(t, idleSlots)
}

func TestExpireStalePending(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) { c.PendingHoldTTL = 15 * time.Minute })
	slots := f.mondaySlots(t)

	stale, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)
	confirmed, err := f.book(f.patient(), slots[1].ID)
	require.NoError(t, err)
	_, err = f.svc.UpdateAppointmentStatus(ctx, staff, confirmed.ID, StatusConfirmed, "")
	require.NoError(t, err)

	n, err := f.svc.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.clock.Advance(20 * time.Minute)
	n, err = f.svc.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.svc.GetAppointment(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, 0, f.slot(t, slots[0].ID).BookedCount)

	kept, err := f.svc.GetAppointment(ctx, confirmed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, kept.Status)

	var cancelled []EventLog
	for _, ev := range f.repo.Events() {
		if ev.EventType == EventAppointmentCancelled {
			cancelled = append(cancelled, ev)
		}
	}
	require.Len(t, cancelled, 1)
	assert.Equal(t, SystemCaller.ActorID, cancelled[0].ActorID)
	assert.Equal(t, stale.ID, *cancelled[0].AppointmentID)
	assert.Contains(t, string(cancelled[0].Payload), pendingExpiredReason)
}

// confirmingRepo confirms every stale candidate right after it has been read,
// as a staff member racing the worker would.
type confirmingRepo struct {
	*MemoryRepository
	now func() time.Time
}

func (r confirmingRepo) FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]Appointment, error) {
	found, err := r.MemoryRepository.FindPendingCreatedBefore(ctx, before)
	if err != nil {
		return nil, err
	}
	for _, a := range found {
		_, err := r.Transition(ctx, StatusChange{AppointmentID: a.ID, From: StatusPending, To: StatusConfirmed, Now: r.now()})
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}

func TestExpireStalePendingLosesToConcurrentConfirm(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *config.Config) { c.PendingHoldTTL = 15 * time.Minute })
	slots := f.mondaySlots(t)

	appt, err := f.book(f.patient(), slots[0].ID)
	require.NoError(t, err)

	locker := redisclient.NewLocalLocker(redisclient.LockOptions{})
	svc := NewService(confirmingRepo{MemoryRepository: f.repo, now: f.clock.Now}, f.dir, locker,
		config.Config{Location: time.UTC, MaxRangeDays: 92, PendingHoldTTL: 15 * time.Minute},
		WithClock(f.clock.Now),
	)

	f.clock.Advance(20 * time.Minute)
	n, err := svc.ExpireStalePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := svc.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, got.Status)
	assert.Equal(t, 1, f.slot(t, slots[0].ID).BookedCount)
}

type busyLocker struct{}

func (busyLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	return redisclient.ErrLockNotAcquired
}

func TestResolverMapsLockTimeoutToSlotBusy(t *testing.T) {
	repo := NewMemoryRepository()
	slot := &SlotInstance{ID: uuid.New()}
	r := NewResolver(busyLocker{}, repo, repo, false, nil)

	_, err := r.Book(context.Background(), Appointment{ID: uuid.New(), SlotID: slot.ID}, slot, uuid.Nil)

	requireConflict(t, err, ConflictSlotBusy)
	assert.False(t, errors.Is(err, redisclient.ErrLockNotAcquired))
}
