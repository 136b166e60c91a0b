package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentCreated     = "APPOINTMENT_CREATED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled   = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted   = "APPOINTMENT_COMPLETED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"

	maxReasonLength = 1000

	// a lost compare-and-set is re-evaluated against the fresh row this many times
	maxTransitionAttempts = 3

	pendingExpiredReason = "confirmation window elapsed"
)

var tracer = otel.Tracer("clinic.internal.scheduling")

type CreateAppointmentRequest struct {
	DoctorID  uuid.UUID
	SlotID    uuid.UUID
	PatientID uuid.UUID
	Reason    string
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func WithMetrics(m *metrics.SchedulingMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

type Service struct {
	repo      Repository
	directory Directory
	locker    redisclient.Locker
	cfg       config.Config
	machine   StateMachine
	generator *Generator
	resolver  *Resolver
	log       zerolog.Logger
	metrics   *metrics.SchedulingMetrics
	now       func() time.Time
}

func NewService(repo Repository, directory Directory, locker redisclient.Locker, cfg config.Config, opts ...Option) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	s := &Service{
		repo:      repo,
		directory: directory,
		locker:    locker,
		cfg:       cfg,
		machine:   NewStateMachine(cfg.AllowPendingCompletion),
		log:       zerolog.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.generator = NewGenerator(repo, repo, GeneratorConfig{
		Location:     cfg.Location,
		MaxRangeDays: cfg.MaxRangeDays,
		Metrics:      s.metrics,
	})
	s.resolver = NewResolver(locker, repo, repo, cfg.SingleAppointmentPerPatient, s.now)
	return s
}

func (s *Service) today() time.Time {
	return DateOf(s.now().In(s.cfg.Location))
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "scheduling."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Slots

// GetAvailableSlots returns the doctor's bookable slots in r: free capacity
// and not yet started. Dates are materialised on first read, which never
// changes occupancy.
func (s *Service) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, r DateRange) (out []SlotInstance, err error) {
	ctx, span := startSpan(ctx, "GetAvailableSlots", attribute.String("doctor_id", doctorID.String()))
	defer func() { endSpan(span, err) }()

	slots, err := s.calendar(ctx, doctorID, r, true)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out = make([]SlotInstance, 0, len(slots))
	for _, slot := range slots {
		if slot.Available(now) {
			out = append(out, slot)
		}
	}
	return out, nil
}

// GetSlots returns every slot in r, including full and past ones.
func (s *Service) GetSlots(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]SlotInstance, error) {
	return s.calendar(ctx, doctorID, r, false)
}

func (s *Service) calendar(ctx context.Context, doctorID uuid.UUID, r DateRange, activeOnly bool) ([]SlotInstance, error) {
	if err := r.Validate(s.cfg.MaxRangeDays); err != nil {
		return nil, err
	}

	doctor, err := s.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Exists {
		return nil, notFound("doctor", doctorID)
	}
	if activeOnly && !doctor.Active {
		return []SlotInstance{}, nil
	}

	return s.generator.Generate(ctx, doctorID, r)
}

// Appointments

// CreateAppointment books patient into slot. The capacity check and the
// reservation happen atomically inside the resolver; nothing is retried.
func (s *Service) CreateAppointment(ctx context.Context, caller Caller, req CreateAppointmentRequest) (appt *Appointment, err error) {
	ctx, span := startSpan(ctx, "CreateAppointment",
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.String("slot_id", req.SlotID.String()),
	)
	defer func() { endSpan(span, err) }()

	appt, err = s.book(ctx, caller, req, uuid.Nil)
	s.observeBooking(err)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", appt.ID.String()).
		Str("slot_id", appt.SlotID.String()).
		Str("patient_id", appt.PatientID.String()).
		Str("actor_id", caller.ActorID).
		Msg("appointment created")

	s.logEvent(ctx, caller, appt.ID, EventAppointmentCreated, map[string]any{
		"slot_id":    appt.SlotID.String(),
		"doctor_id":  appt.DoctorID.String(),
		"patient_id": appt.PatientID.String(),
	})
	return appt, nil
}

func (s *Service) book(ctx context.Context, caller Caller, req CreateAppointmentRequest, exclude uuid.UUID) (*Appointment, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	reason, err := validateCreate(req)
	if err != nil {
		return nil, err
	}

	doctor, err := s.directory.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Exists {
		return nil, notFound("doctor", req.DoctorID)
	}
	if !doctor.Active {
		return nil, &ValidationError{Field: "doctor_id", Message: "doctor is not accepting appointments"}
	}

	patient, err := s.directory.GetPatient(ctx, req.PatientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if !patient.Exists {
		return nil, notFound("patient", req.PatientID)
	}

	slot, err := s.repo.GetSlot(ctx, req.SlotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, &ConflictError{SlotID: req.SlotID, Reason: ConflictSlotNotFound}
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}
	if slot.DoctorID != req.DoctorID {
		return nil, &ValidationError{Field: "slot_id", Message: "slot does not belong to this doctor"}
	}

	exceptions, err := s.repo.ListExceptions(ctx, req.DoctorID, NewDateRange(slot.Date, slot.Date))
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	if len(exceptions) > 0 {
		return nil, &ConflictError{SlotID: slot.ID, Reason: ConflictDoctorUnavailable}
	}

	appt := Appointment{
		ID:        uuid.New(),
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		SlotID:    req.SlotID,
		Status:    StatusPending,
		Reason:    reason,
	}
	return s.resolver.Book(ctx, appt, slot, exclude)
}

func validateCreate(req CreateAppointmentRequest) (string, error) {
	if req.DoctorID == uuid.Nil {
		return "", &ValidationError{Field: "doctor_id", Message: "doctor id is required"}
	}
	if req.SlotID == uuid.Nil {
		return "", &ValidationError{Field: "slot_id", Message: "slot id is required"}
	}
	if req.PatientID == uuid.Nil {
		return "", &ValidationError{Field: "patient_id", Message: "patient id is required"}
	}
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > maxReasonLength {
		return "", &ValidationError{Field: "reason", Message: fmt.Sprintf("longer than %d characters", maxReasonLength)}
	}
	return reason, nil
}

// UpdateAppointmentStatus applies one state machine transition. Cancelling
// an already cancelled appointment returns it unchanged and releases nothing.
func (s *Service) UpdateAppointmentStatus(ctx context.Context, caller Caller, id uuid.UUID, to AppointmentStatus, cancelReason string) (appt *Appointment, err error) {
	ctx, span := startSpan(ctx, "UpdateAppointmentStatus",
		attribute.String("appointment_id", id.String()),
		attribute.String("status", string(to)),
	)
	defer func() { endSpan(span, err) }()

	if err := caller.Validate(); err != nil {
		return nil, err
	}
	to, err = ParseStatus(string(to))
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(cancelReason)
	if len(reason) > maxReasonLength {
		return nil, &ValidationError{Field: "cancel_reason", Message: fmt.Sprintf("longer than %d characters", maxReasonLength)}
	}

	current, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxTransitionAttempts; attempt++ {
		if to == StatusCancelled && current.Status == StatusCancelled {
			return current, nil
		}

		releases, err := s.machine.Plan(current, to, caller, reason)
		if err != nil {
			return nil, err
		}

		change := StatusChange{
			AppointmentID: id,
			From:          current.Status,
			To:            to,
			Release:       releases,
			Now:           s.now().UTC(),
		}
		if to == StatusCancelled {
			change.CancelReason = &reason
		}

		updated, err := s.repo.Transition(ctx, change)
		if errors.Is(err, ErrStaleStatus) {
			current = updated
			continue
		}
		if err != nil {
			return nil, err
		}

		s.recordTransition(ctx, caller, change)
		return updated, nil
	}

	return nil, &InvalidTransitionError{
		AppointmentID: id,
		Current:       current.Status,
		Requested:     to,
		Detail:        "status kept changing concurrently",
	}
}

func (s *Service) recordTransition(ctx context.Context, caller Caller, change StatusChange) {
	s.metrics.ObserveTransition(string(change.From), string(change.To))
	s.log.Info().
		Str("appointment_id", change.AppointmentID.String()).
		Str("from", string(change.From)).
		Str("to", string(change.To)).
		Bool("released", change.Release).
		Str("actor_id", caller.ActorID).
		Msg("appointment status changed")

	payload := map[string]any{"from": string(change.From), "released": change.Release}
	if change.CancelReason != nil {
		payload["cancel_reason"] = *change.CancelReason
	}
	s.logEvent(ctx, caller, change.AppointmentID, transitionEvent(change.To), payload)
}

func transitionEvent(to AppointmentStatus) string {
	switch to {
	case StatusConfirmed:
		return EventAppointmentConfirmed
	case StatusCancelled:
		return EventAppointmentCancelled
	case StatusCompleted:
		return EventAppointmentCompleted
	}
	return "APPOINTMENT_" + strings.ToUpper(string(to))
}

// RescheduleAppointment books the patient into newSlotID and cancels the
// old appointment. The new booking goes through the same resolver as
// CreateAppointment. If the old appointment cannot be cancelled afterwards
// the new one is cancelled again so the patient never holds both.
func (s *Service) RescheduleAppointment(ctx context.Context, caller Caller, id, newSlotID uuid.UUID, reason string) (appt *Appointment, err error) {
	ctx, span := startSpan(ctx, "RescheduleAppointment",
		attribute.String("appointment_id", id.String()),
		attribute.String("slot_id", newSlotID.String()),
	)
	defer func() { endSpan(span, err) }()

	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if newSlotID == uuid.Nil {
		return nil, &ValidationError{Field: "slot_id", Message: "slot id is required"}
	}

	old, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if old.SlotID == newSlotID {
		return nil, &ValidationError{Field: "slot_id", Message: "appointment already occupies this slot"}
	}

	cancelReason := "rescheduled"
	if r := strings.TrimSpace(reason); r != "" {
		cancelReason += ": " + r
	}
	if _, err := s.machine.Plan(old, StatusCancelled, caller, cancelReason); err != nil {
		return nil, err
	}

	newSlot, err := s.repo.GetSlot(ctx, newSlotID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = &ConflictError{SlotID: newSlotID, Reason: ConflictSlotNotFound}
			s.observeBooking(err)
			return nil, err
		}
		return nil, fmt.Errorf("load slot: %w", err)
	}

	created, err := s.book(ctx, caller, CreateAppointmentRequest{
		DoctorID:  newSlot.DoctorID,
		SlotID:    newSlotID,
		PatientID: old.PatientID,
		Reason:    old.Reason,
	}, old.ID)
	s.observeBooking(err)
	if err != nil {
		return nil, err
	}

	if _, err := s.UpdateAppointmentStatus(ctx, caller, old.ID, StatusCancelled, cancelReason); err != nil {
		if _, undoErr := s.UpdateAppointmentStatus(ctx, SystemCaller, created.ID, StatusCancelled, "reschedule aborted"); undoErr != nil {
			s.log.Error().Err(undoErr).
				Str("appointment_id", created.ID.String()).
				Msg("failed to roll back rescheduled booking")
		}
		return nil, err
	}

	s.log.Info().
		Str("appointment_id", created.ID.String()).
		Str("previous_appointment_id", old.ID.String()).
		Str("actor_id", caller.ActorID).
		Msg("appointment rescheduled")

	s.logEvent(ctx, caller, created.ID, EventAppointmentRescheduled, map[string]any{
		"previous_appointment_id": old.ID.String(),
		"previous_slot_id":        old.SlotID.String(),
		"slot_id":                 created.SlotID.String(),
	})
	return created, nil
}

func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *appt}
	slot, err := s.repo.GetSlot(ctx, appt.SlotID)
	switch {
	case err == nil:
		detail.Slot = slot
	case !errors.Is(err, ErrNotFound):
		return nil, fmt.Errorf("load slot: %w", err)
	}
	return detail, nil
}

func (s *Service) GetAppointmentsForDoctor(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]AppointmentDetail, error) {
	if err := r.Validate(s.cfg.MaxRangeDays); err != nil {
		return nil, err
	}
	doctor, err := s.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Exists {
		return nil, notFound("doctor", doctorID)
	}

	out, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, r)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return out, nil
}

func (s *Service) GetAppointmentsForPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load patient: %w", err)
	}
	if !patient.Exists {
		return nil, notFound("patient", patientID)
	}

	out, err := s.repo.ListAppointmentsByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return out, nil
}

func (s *Service) GetAppointmentsForSlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	if _, err := s.repo.GetSlot(ctx, slotID); err != nil {
		return nil, err
	}
	out, err := s.repo.ListAppointmentsBySlot(ctx, slotID)
	if err != nil {
		return nil, fmt.Errorf("list appointments by slot: %w", err)
	}
	return out, nil
}

// Templates and exceptions

// SetTemplate creates or replaces the doctor's template for one weekday.
// Future dates of that weekday that no appointment ever touched are dropped
// so they regenerate from the new template; all other dates keep their slots.
func (s *Service) SetTemplate(ctx context.Context, caller Caller, t AvailabilityTemplate) (*AvailabilityTemplate, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if err := s.requireDoctor(ctx, t.DoctorID); err != nil {
		return nil, err
	}

	saved, err := s.repo.UpsertTemplate(ctx, t)
	if err != nil {
		return nil, err
	}
	s.purgeFutureSlots(ctx, t.DoctorID, t.DayOfWeek)

	s.log.Info().
		Str("doctor_id", t.DoctorID.String()).
		Str("day", t.DayOfWeek.String()).
		Str("window", t.StartTime.String()+"-"+t.EndTime.String()).
		Str("actor_id", caller.ActorID).
		Msg("availability template saved")
	return saved, nil
}

func (s *Service) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error) {
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListTemplates(ctx, doctorID)
}

func (s *Service) DeleteTemplate(ctx context.Context, caller Caller, doctorID uuid.UUID, day time.Weekday) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	if err := s.repo.DeleteTemplate(ctx, doctorID, day); err != nil {
		return err
	}
	s.purgeFutureSlots(ctx, doctorID, day)

	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Str("day", day.String()).
		Str("actor_id", caller.ActorID).
		Msg("availability template deleted")
	return nil
}

func (s *Service) purgeFutureSlots(ctx context.Context, doctorID uuid.UUID, day time.Weekday) {
	n, err := s.repo.PurgeUnreferencedSlots(ctx, doctorID, day, s.today())
	if err != nil {
		// stale slots stay bookable until the next template change; not fatal
		s.log.Warn().Err(err).Str("doctor_id", doctorID.String()).Msg("purge unreferenced slots failed")
		return
	}
	if n > 0 {
		s.log.Debug().Int("slots", n).Str("doctor_id", doctorID.String()).Msg("purged unreferenced slots")
	}
}

// AddException blocks a date for one doctor, or for the whole clinic when
// e.DoctorID is nil.
func (s *Service) AddException(ctx context.Context, caller Caller, e AvailabilityException) (*AvailabilityException, error) {
	if err := caller.Validate(); err != nil {
		return nil, err
	}
	if e.Date.IsZero() {
		return nil, &ValidationError{Field: "date", Message: "date is required"}
	}
	e.Reason = strings.TrimSpace(e.Reason)
	if len(e.Reason) > maxReasonLength {
		return nil, &ValidationError{Field: "reason", Message: fmt.Sprintf("longer than %d characters", maxReasonLength)}
	}
	if e.DoctorID != nil {
		if err := s.requireDoctor(ctx, *e.DoctorID); err != nil {
			return nil, err
		}
	}

	saved, err := s.repo.AddException(ctx, e)
	if err != nil {
		return nil, err
	}

	evt := s.log.Info().Str("date", FormatDate(saved.Date)).Str("actor_id", caller.ActorID)
	if saved.DoctorID != nil {
		evt = evt.Str("doctor_id", saved.DoctorID.String())
	}
	evt.Msg("availability exception added")
	return saved, nil
}

func (s *Service) RemoveException(ctx context.Context, caller Caller, id uuid.UUID) error {
	if err := caller.Validate(); err != nil {
		return err
	}
	return s.repo.RemoveException(ctx, id)
}

func (s *Service) ListExceptions(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]AvailabilityException, error) {
	if err := r.Validate(s.cfg.MaxRangeDays); err != nil {
		return nil, err
	}
	if err := s.requireDoctor(ctx, doctorID); err != nil {
		return nil, err
	}
	return s.repo.ListExceptions(ctx, doctorID, r)
}

func (s *Service) requireDoctor(ctx context.Context, doctorID uuid.UUID) error {
	doctor, err := s.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return fmt.Errorf("load doctor: %w", err)
	}
	if !doctor.Exists {
		return notFound("doctor", doctorID)
	}
	return nil
}

// Worker operations

// MaterializeHorizon generates slots for the next `days` days for every
// active doctor that has a template. It returns how many doctors were processed.
func (s *Service) MaterializeHorizon(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}

	doctors, err := s.repo.ListScheduledDoctors(ctx)
	if err != nil {
		return 0, fmt.Errorf("list scheduled doctors: %w", err)
	}

	chunk := s.cfg.MaxRangeDays
	if chunk <= 0 {
		chunk = days
	}

	from := s.today()
	processed := 0
	var errs []error
	for _, doctorID := range doctors {
		doctor, err := s.directory.GetDoctor(ctx, doctorID)
		if err != nil {
			errs = append(errs, fmt.Errorf("doctor %s: %w", doctorID, err))
			continue
		}
		if !doctor.Exists || !doctor.Active {
			continue
		}

		for offset := 0; offset < days; offset += chunk {
			end := min(offset+chunk, days) - 1
			r := NewDateRange(from.AddDate(0, 0, offset), from.AddDate(0, 0, end))
			if _, err := s.generator.Generate(ctx, doctorID, r); err != nil {
				errs = append(errs, fmt.Errorf("doctor %s: %w", doctorID, err))
				break
			}
		}
		processed++
	}

	return processed, errors.Join(errs...)
}

// ExpireStalePending cancels pending appointments older than the configured
// hold TTL, releasing their capacity. Disabled when the TTL is zero.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	if s.cfg.PendingHoldTTL <= 0 {
		return 0, nil
	}

	candidates, err := s.repo.FindPendingCreatedBefore(ctx, s.now().Add(-s.cfg.PendingHoldTTL))
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	expired := 0
	for _, appt := range candidates {
		if appt.Status != StatusPending {
			continue
		}
		reason := pendingExpiredReason
		releases, err := s.machine.Plan(&appt, StatusCancelled, SystemCaller, reason)
		if err != nil {
			s.log.Warn().Err(err).Str("appointment_id", appt.ID.String()).Msg("skipping stale appointment")
			continue
		}
		// the CAS is pinned to the status that was read; a concurrent confirm wins
		change := StatusChange{
			AppointmentID: appt.ID,
			From:          appt.Status,
			To:            StatusCancelled,
			CancelReason:  &reason,
			Release:       releases,
			Now:           s.now().UTC(),
		}
		if _, err := s.repo.Transition(ctx, change); err != nil {
			if !errors.Is(err, ErrStaleStatus) {
				s.log.Error().Err(err).Str("appointment_id", appt.ID.String()).Msg("failed to expire appointment")
			}
			continue
		}
		s.recordTransition(ctx, SystemCaller, change)
		expired++
	}
	return expired, nil
}

func (s *Service) observeBooking(err error) {
	switch reason, ok := ConflictReasonOf(err); {
	case err == nil:
		s.metrics.ObserveBooking("success")
	case ok:
		s.metrics.ObserveBooking(string(reason))
	case errors.Is(err, ErrValidation):
		s.metrics.ObserveBooking("invalid")
	case errors.Is(err, ErrNotFound):
		s.metrics.ObserveBooking("not_found")
	default:
		s.metrics.ObserveBooking("error")
	}
}

func (s *Service) logEvent(ctx context.Context, caller Caller, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("failed to marshal event payload")
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &appointmentID,
		ActorID:       caller.ActorID,
		Payload:       data,
		CreatedAt:     s.now().UTC(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).
			Str("event_type", eventType).
			Str("appointment_id", appointmentID.String()).
			Msg("failed to insert event log")
	}
}
