package scheduling

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error classes. Every typed error below unwraps to one of these.
var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("booking conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("not found")

	// ErrStaleStatus is returned by Ledger.Transition when the appointment
	// left the expected status before the update landed.
	ErrStaleStatus = errors.New("appointment status changed concurrently")
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type ConflictReason string

const (
	ConflictSlotFull          ConflictReason = "slot_full"
	ConflictSlotInPast        ConflictReason = "slot_in_past"
	ConflictSlotNotFound      ConflictReason = "slot_not_found"
	ConflictSlotBusy          ConflictReason = "slot_busy"
	ConflictDoctorUnavailable ConflictReason = "doctor_unavailable"
	ConflictPatientOverlap    ConflictReason = "patient_overlap"
)

type ConflictError struct {
	SlotID uuid.UUID
	Reason ConflictReason
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("slot %s: %s", e.SlotID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type InvalidTransitionError struct {
	AppointmentID uuid.UUID
	Current       AppointmentStatus
	Requested     AppointmentStatus
	Detail        string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("appointment %s: cannot move from %s to %s", e.AppointmentID, e.Current, e.Requested)
	if e.Detail != "" {
		msg += " (" + e.Detail + ")"
	}
	return msg
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind string, id uuid.UUID) error {
	return &NotFoundError{Kind: kind, ID: id.String()}
}

// ConflictReasonOf returns the reason of a ConflictError anywhere in err's chain.
func ConflictReasonOf(err error) (ConflictReason, bool) {
	var ce *ConflictError
	if errors.As(err, &ce) {
		return ce.Reason, true
	}
	return "", false
}
