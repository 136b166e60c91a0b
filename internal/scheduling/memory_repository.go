package scheduling

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type templateKey struct {
	doctorID uuid.UUID
	day      time.Weekday
}

// MemoryRepository keeps everything in process. All writes go through one
// mutex, which is the transaction boundary for Reserve and Transition.
type MemoryRepository struct {
	mu           sync.RWMutex
	templates    map[templateKey]AvailabilityTemplate
	exceptions   map[uuid.UUID]AvailabilityException
	slots        map[uuid.UUID]*SlotInstance
	appointments map[uuid.UUID]*Appointment
	events       []EventLog
	nextEventID  int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		templates:    make(map[templateKey]AvailabilityTemplate),
		exceptions:   make(map[uuid.UUID]AvailabilityException),
		slots:        make(map[uuid.UUID]*SlotInstance),
		appointments: make(map[uuid.UUID]*Appointment),
	}
}

var _ Repository = (*MemoryRepository)(nil)

// Templates and exceptions

func (r *MemoryRepository) UpsertTemplate(ctx context.Context, t AvailabilityTemplate) (*AvailabilityTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := templateKey{t.DoctorID, t.DayOfWeek}
	now := time.Now().UTC()
	if prev, ok := r.templates[key]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.templates[key] = t
	return &t, nil
}

func (r *MemoryRepository) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AvailabilityTemplate
	for k, t := range r.templates {
		if k.doctorID == doctorID {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b AvailabilityTemplate) int { return int(a.DayOfWeek) - int(b.DayOfWeek) })
	return out, nil
}

func (r *MemoryRepository) DeleteTemplate(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := templateKey{doctorID, day}
	if _, ok := r.templates[key]; !ok {
		return &NotFoundError{Kind: "template", ID: doctorID.String() + "/" + day.String()}
	}
	delete(r.templates, key)
	return nil
}

func (r *MemoryRepository) ListScheduledDoctors(ctx context.Context) ([]uuid.UUID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	for k := range r.templates {
		if !seen[k.doctorID] {
			seen[k.doctorID] = true
			out = append(out, k.doctorID)
		}
	}
	return out, nil
}

func (r *MemoryRepository) AddException(ctx context.Context, e AvailabilityException) (*AvailabilityException, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.Date = DateOf(e.Date)
	e.CreatedAt = time.Now().UTC()
	r.exceptions[e.ID] = e
	return &e, nil
}

func (r *MemoryRepository) RemoveException(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.exceptions[id]; !ok {
		return notFound("exception", id)
	}
	delete(r.exceptions, id)
	return nil
}

func (r *MemoryRepository) ListExceptions(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]AvailabilityException, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AvailabilityException
	for _, e := range r.exceptions {
		if e.AppliesTo(doctorID) && dr.Contains(e.Date) {
			out = append(out, e)
		}
	}
	slices.SortFunc(out, func(a, b AvailabilityException) int { return a.Date.Compare(b.Date) })
	return out, nil
}

// Slots

func (r *MemoryRepository) InsertSlots(ctx context.Context, slots []SlotInstance) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	n := 0
	for _, s := range slots {
		if _, ok := r.slots[s.ID]; ok {
			continue
		}
		s.BookedCount = 0
		s.CreatedAt = now
		s.UpdatedAt = now
		r.slots[s.ID] = &s
		n++
	}
	return n, nil
}

func (r *MemoryRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]SlotInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []SlotInstance
	for _, s := range r.slots {
		if s.DoctorID == doctorID && dr.Contains(s.Date) {
			out = append(out, *s)
		}
	}
	slices.SortFunc(out, func(a, b SlotInstance) int { return a.StartsAt.Compare(b.StartsAt) })
	return out, nil
}

func (r *MemoryRepository) GetSlot(ctx context.Context, id uuid.UUID) (*SlotInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.slots[id]
	if !ok {
		return nil, notFound("slot", id)
	}
	cp := *s
	return &cp, nil
}

func (r *MemoryRepository) PurgeUnreferencedSlots(ctx context.Context, doctorID uuid.UUID, day time.Weekday, from time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	referenced := make(map[string]bool)
	for _, a := range r.appointments {
		if s, ok := r.slots[a.SlotID]; ok && s.DoctorID == doctorID {
			referenced[FormatDate(s.Date)] = true
		}
	}

	from = DateOf(from)
	n := 0
	for id, s := range r.slots {
		if s.DoctorID != doctorID || s.Date.Weekday() != day || s.Date.Before(from) {
			continue
		}
		if referenced[FormatDate(s.Date)] {
			continue
		}
		delete(r.slots, id)
		n++
	}
	return n, nil
}

// Ledger

func (r *MemoryRepository) Reserve(ctx context.Context, res Reservation) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	appt := res.Appointment
	s, ok := r.slots[appt.SlotID]
	switch {
	case !ok:
		return nil, &ConflictError{SlotID: appt.SlotID, Reason: ConflictSlotNotFound}
	case !s.StartsAt.After(res.Now):
		return nil, &ConflictError{SlotID: appt.SlotID, Reason: ConflictSlotInPast}
	case s.BookedCount >= s.Capacity:
		return nil, &ConflictError{SlotID: appt.SlotID, Reason: ConflictSlotFull}
	}

	s.BookedCount++
	s.UpdatedAt = res.Now

	appt.Status = StatusPending
	appt.CancelReason = nil
	appt.CreatedAt = res.Now
	appt.UpdatedAt = res.Now
	r.appointments[appt.ID] = &appt

	cp := appt
	return &cp, nil
}

func (r *MemoryRepository) Transition(ctx context.Context, c StatusChange) (*Appointment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.appointments[c.AppointmentID]
	if !ok {
		return nil, notFound("appointment", c.AppointmentID)
	}
	if a.Status != c.From {
		cp := *a
		return &cp, ErrStaleStatus
	}

	a.Status = c.To
	a.UpdatedAt = c.Now
	if c.To == StatusCancelled {
		a.CancelReason = c.CancelReason
	}

	if c.Release {
		if s, ok := r.slots[a.SlotID]; ok && s.BookedCount > 0 {
			s.BookedCount--
			s.UpdatedAt = c.Now
		}
	}

	cp := *a
	return &cp, nil
}

// Appointments

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.appointments[id]
	if !ok {
		return nil, notFound("appointment", id)
	}
	cp := *a
	return &cp, nil
}

func (r *MemoryRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]AppointmentDetail, error) {
	return r.details(func(a *Appointment, s *SlotInstance) bool {
		return a.DoctorID == doctorID && s != nil && dr.Contains(s.Date)
	}), nil
}

func (r *MemoryRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	return r.details(func(a *Appointment, s *SlotInstance) bool {
		return a.PatientID == patientID
	}), nil
}

func (r *MemoryRepository) ListActiveByPatientBetween(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]AppointmentDetail, error) {
	return r.details(func(a *Appointment, s *SlotInstance) bool {
		return a.PatientID == patientID && a.Status.Active() && s != nil &&
			s.StartsAt.Before(end) && start.Before(s.EndsAt)
	}), nil
}

func (r *MemoryRepository) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.SlotID == slotID {
			out = append(out, *a)
		}
	}
	slices.SortFunc(out, func(x, y Appointment) int { return x.CreatedAt.Compare(y.CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]Appointment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Appointment
	for _, a := range r.appointments {
		if a.Status == StatusPending && a.CreatedAt.Before(before) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextEventID++
	ev.ID = r.nextEventID
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	r.events = append(r.events, ev)
	return nil
}

// Events returns a copy of the event log.
func (r *MemoryRepository) Events() []EventLog {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

func (r *MemoryRepository) details(match func(*Appointment, *SlotInstance) bool) []AppointmentDetail {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []AppointmentDetail
	for _, a := range r.appointments {
		s := r.slots[a.SlotID]
		if !match(a, s) {
			continue
		}
		d := AppointmentDetail{Appointment: *a}
		if s != nil {
			cp := *s
			d.Slot = &cp
		}
		out = append(out, d)
	}
	slices.SortFunc(out, func(x, y AppointmentDetail) int {
		if x.Slot != nil && y.Slot != nil {
			if c := x.Slot.StartsAt.Compare(y.Slot.StartsAt); c != 0 {
				return c
			}
		}
		return x.CreatedAt.Compare(y.CreatedAt)
	})
	return out
}
