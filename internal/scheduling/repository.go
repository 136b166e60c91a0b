package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TemplateStore interface {
	UpsertTemplate(ctx context.Context, t AvailabilityTemplate) (*AvailabilityTemplate, error)
	ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error)
	DeleteTemplate(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error
	// ListScheduledDoctors returns every doctor that has at least one template.
	ListScheduledDoctors(ctx context.Context) ([]uuid.UUID, error)

	AddException(ctx context.Context, e AvailabilityException) (*AvailabilityException, error)
	RemoveException(ctx context.Context, id uuid.UUID) error
	// ListExceptions returns the doctor's exceptions and clinic-wide ones in r.
	ListExceptions(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]AvailabilityException, error)
}

type SlotStore interface {
	// InsertSlots stores slots whose (doctor, date, start) key is not taken
	// yet and returns how many were new. Existing rows are never modified.
	InsertSlots(ctx context.Context, slots []SlotInstance) (int, error)
	ListSlots(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]SlotInstance, error)
	GetSlot(ctx context.Context, id uuid.UUID) (*SlotInstance, error)
	// PurgeUnreferencedSlots deletes the doctor's slots on the given weekday
	// from `from` onwards, for dates where no slot was ever referenced by an
	// appointment. Returns the number of deleted slots.
	PurgeUnreferencedSlots(ctx context.Context, doctorID uuid.UUID, day time.Weekday, from time.Time) (int, error)
}

// Reservation asks the ledger for one unit of capacity on Appointment.SlotID.
type Reservation struct {
	Appointment Appointment
	Now         time.Time
}

type StatusChange struct {
	AppointmentID uuid.UUID
	From          AppointmentStatus
	To            AppointmentStatus
	CancelReason  *string
	Release       bool
	Now           time.Time
}

// Ledger owns the per-slot occupancy counters.
//
// Reserve increments bookedCount only while bookedCount < capacity and the
// slot starts after Now, then inserts the pending appointment. Both happen
// or neither does; failures are *ConflictError.
//
// Transition moves an appointment From -> To only if it is still in From
// and, when Release is set, decrements its slot's bookedCount (never below
// zero) in the same unit. A lost race returns the current row and
// ErrStaleStatus.
type Ledger interface {
	Reserve(ctx context.Context, r Reservation) (*Appointment, error)
	Transition(ctx context.Context, c StatusChange) (*Appointment, error)
}

type AppointmentStore interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, r DateRange) ([]AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error)
	ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error)
	// ListActiveByPatientBetween returns the patient's pending/confirmed
	// appointments whose slot overlaps [start, end).
	ListActiveByPatientBetween(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]AppointmentDetail, error)
	FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]Appointment, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}

// Repository contains all storage interactions needed by the service.
type Repository interface {
	TemplateStore
	SlotStore
	Ledger
	AppointmentStore
}
