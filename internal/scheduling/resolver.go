package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// Resolver arbitrates concurrent bookings. Every reservation, whether from a
// new booking or a reschedule, goes through Book so both paths get the same
// locking and the same ledger guarantees.
type Resolver struct {
	locker           redisclient.Locker
	ledger           Ledger
	appointments     AppointmentStore
	singlePerPatient bool
	now              func() time.Time
}

func NewResolver(locker redisclient.Locker, ledger Ledger, appointments AppointmentStore, singlePerPatient bool, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		locker:           locker,
		ledger:           ledger,
		appointments:     appointments,
		singlePerPatient: singlePerPatient,
		now:              now,
	}
}

// Book reserves one unit of slot for appt. exclude names an appointment of
// the same patient to ignore in the overlap policy (the one being rescheduled).
func (r *Resolver) Book(ctx context.Context, appt Appointment, slot *SlotInstance, exclude uuid.UUID) (*Appointment, error) {
	var created *Appointment

	reserve := func(ctx context.Context) error {
		return r.withLock(ctx, redisclient.SlotLockKey(slot.ID), slot.ID, func(lockCtx context.Context) error {
			if r.singlePerPatient {
				if err := r.checkPatientOverlap(lockCtx, appt.PatientID, slot, exclude); err != nil {
					return err
				}
			}

			out, err := r.ledger.Reserve(lockCtx, Reservation{Appointment: appt, Now: r.now().UTC()})
			if err != nil {
				return err
			}
			created = out
			return nil
		})
	}

	var err error
	if r.singlePerPatient {
		// patient before slot, always, so two bookers never hold them in opposite order
		err = r.withLock(ctx, redisclient.PatientLockKey(appt.PatientID), slot.ID, reserve)
	} else {
		err = reserve(ctx)
	}
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (r *Resolver) withLock(ctx context.Context, key string, slotID uuid.UUID, fn func(context.Context) error) error {
	err := r.locker.WithLock(ctx, key, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return &ConflictError{SlotID: slotID, Reason: ConflictSlotBusy}
	}
	return err
}

func (r *Resolver) checkPatientOverlap(ctx context.Context, patientID uuid.UUID, slot *SlotInstance, exclude uuid.UUID) error {
	overlapping, err := r.appointments.ListActiveByPatientBetween(ctx, patientID, slot.StartsAt, slot.EndsAt)
	if err != nil {
		return fmt.Errorf("check patient overlap: %w", err)
	}
	for _, a := range overlapping {
		if a.ID != exclude {
			return &ConflictError{SlotID: slot.ID, Reason: ConflictPatientOverlap}
		}
	}
	return nil
}
