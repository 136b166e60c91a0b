package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the repository uses.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool PgxPool
}

func NewPgRepository(pool PgxPool) *PgRepository {
	return &PgRepository{pool: pool}
}

var _ Repository = (*PgRepository)(nil)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const (
	templateColumns    = `doctor_id, day_of_week, start_minute, end_minute, slot_duration_minutes, capacity_per_slot, created_at, updated_at`
	exceptionColumns   = `id, doctor_id, exception_date, reason, created_at`
	slotColumns        = `id, doctor_id, slot_date, start_minute, end_minute, starts_at, ends_at, capacity, booked_count, created_at, updated_at`
	appointmentColumns = `id, patient_id, doctor_id, slot_id, status, reason, cancel_reason, created_at, updated_at`

	uniqueViolation = "23505"

	// keeps multi-row inserts below the 65535 bind parameter limit
	slotInsertChunk = 500
)

func prefixed(alias, columns string) []string {
	parts := strings.Split(columns, ", ")
	for i, p := range parts {
		parts[i] = alias + "." + p
	}
	return parts
}

// Helpers

func scanTemplate(row pgx.Row) (*AvailabilityTemplate, error) {
	var t AvailabilityTemplate
	var day, start, end int

	err := row.Scan(
		&t.DoctorID,
		&day,
		&start,
		&end,
		&t.SlotDurationMinutes,
		&t.CapacityPerSlot,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.DayOfWeek = time.Weekday(day)
	t.StartTime = ClockTime(start)
	t.EndTime = ClockTime(end)
	return &t, nil
}

func scanException(row pgx.Row) (*AvailabilityException, error) {
	var e AvailabilityException
	var doctorID *uuid.UUID

	err := row.Scan(
		&e.ID,
		&doctorID,
		&e.Date,
		&e.Reason,
		&e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	e.DoctorID = doctorID
	e.Date = DateOf(e.Date)
	return &e, nil
}

func slotScanTargets(s *SlotInstance, start, end *int) []any {
	return []any{
		&s.ID,
		&s.DoctorID,
		&s.Date,
		start,
		end,
		&s.StartsAt,
		&s.EndsAt,
		&s.Capacity,
		&s.BookedCount,
		&s.CreatedAt,
		&s.UpdatedAt,
	}
}

func scanSlot(row pgx.Row) (*SlotInstance, error) {
	var s SlotInstance
	var start, end int

	if err := row.Scan(slotScanTargets(&s, &start, &end)...); err != nil {
		return nil, err
	}

	s.StartTime = ClockTime(start)
	s.EndTime = ClockTime(end)
	s.Date = DateOf(s.Date)
	return &s, nil
}

func appointmentScanTargets(a *Appointment, status *string, cancelReason **string) []any {
	return []any{
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.SlotID,
		status,
		&a.Reason,
		cancelReason,
		&a.CreatedAt,
		&a.UpdatedAt,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status string
	var cancelReason *string

	if err := row.Scan(appointmentScanTargets(&a, &status, &cancelReason)...); err != nil {
		return nil, err
	}

	a.Status = AppointmentStatus(status)
	a.CancelReason = cancelReason
	return &a, nil
}

func scanAppointmentDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	var s SlotInstance
	var status string
	var cancelReason *string
	var start, end int

	targets := appointmentScanTargets(&d.Appointment, &status, &cancelReason)
	targets = append(targets, slotScanTargets(&s, &start, &end)...)
	if err := row.Scan(targets...); err != nil {
		return nil, err
	}

	d.Status = AppointmentStatus(status)
	d.CancelReason = cancelReason
	s.StartTime = ClockTime(start)
	s.EndTime = ClockTime(end)
	s.Date = DateOf(s.Date)
	d.Slot = &s
	return &d, nil
}

func collectDetails(rows pgx.Rows) ([]AppointmentDetail, error) {
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		d, err := scanAppointmentDetail(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) queryDetails(ctx context.Context, q sq.SelectBuilder) ([]AppointmentDetail, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectDetails(rows)
}

func detailSelect() sq.SelectBuilder {
	cols := append(prefixed("a", appointmentColumns), prefixed("s", slotColumns)...)
	return psql.Select(cols...).
		From("appointments a").
		Join("slot_instances s ON s.id = a.slot_id")
}

// Templates and exceptions

func (r *PgRepository) UpsertTemplate(ctx context.Context, t AvailabilityTemplate) (*AvailabilityTemplate, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_templates (`+templateColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, day_of_week) DO UPDATE
		SET start_minute = EXCLUDED.start_minute,
		    end_minute = EXCLUDED.end_minute,
		    slot_duration_minutes = EXCLUDED.slot_duration_minutes,
		    capacity_per_slot = EXCLUDED.capacity_per_slot,
		    updated_at = now()
		RETURNING `+templateColumns,
		t.DoctorID, int(t.DayOfWeek), int(t.StartTime), int(t.EndTime), t.SlotDurationMinutes, t.CapacityPerSlot)

	out, err := scanTemplate(row)
	if err != nil {
		return nil, fmt.Errorf("upsert template: %w", err)
	}
	return out, nil
}

func (r *PgRepository) ListTemplates(ctx context.Context, doctorID uuid.UUID) ([]AvailabilityTemplate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+templateColumns+`
		FROM availability_templates
		WHERE doctor_id = $1
		ORDER BY day_of_week
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityTemplate
	for rows.Next() {
		t, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *t)
	}
	return result, rows.Err()
}

func (r *PgRepository) DeleteTemplate(ctx context.Context, doctorID uuid.UUID, day time.Weekday) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM availability_templates
		WHERE doctor_id = $1 AND day_of_week = $2
	`, doctorID, int(day))
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Kind: "template", ID: doctorID.String() + "/" + day.String()}
	}
	return nil
}

func (r *PgRepository) ListScheduledDoctors(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT doctor_id FROM availability_templates`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, rows.Err()
}

func (r *PgRepository) AddException(ctx context.Context, e AvailabilityException) (*AvailabilityException, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO availability_exceptions (id, doctor_id, exception_date, reason, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING `+exceptionColumns,
		e.ID, e.DoctorID, DateOf(e.Date), e.Reason)

	out, err := scanException(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, &ValidationError{Field: "date", Message: "an exception already exists for this date"}
		}
		return nil, fmt.Errorf("insert exception: %w", err)
	}
	return out, nil
}

func (r *PgRepository) RemoveException(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM availability_exceptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete exception: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return notFound("exception", id)
	}
	return nil
}

func (r *PgRepository) ListExceptions(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]AvailabilityException, error) {
	query, args, err := psql.Select(exceptionColumns).
		From("availability_exceptions").
		Where(sq.Or{sq.Eq{"doctor_id": doctorID}, sq.Eq{"doctor_id": nil}}).
		Where(sq.GtOrEq{"exception_date": DateOf(dr.From)}).
		Where(sq.LtOrEq{"exception_date": DateOf(dr.To)}).
		OrderBy("exception_date").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AvailabilityException
	for rows.Next() {
		e, err := scanException(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

// Slots

func (r *PgRepository) InsertSlots(ctx context.Context, slots []SlotInstance) (int, error) {
	inserted := 0
	for startIdx := 0; startIdx < len(slots); startIdx += slotInsertChunk {
		end := min(startIdx+slotInsertChunk, len(slots))

		q := psql.Insert("slot_instances").
			Columns("id", "doctor_id", "slot_date", "start_minute", "end_minute", "starts_at", "ends_at", "capacity", "booked_count", "created_at", "updated_at").
			Suffix("ON CONFLICT (doctor_id, slot_date, start_minute) DO NOTHING")
		for _, s := range slots[startIdx:end] {
			q = q.Values(s.ID, s.DoctorID, DateOf(s.Date), int(s.StartTime), int(s.EndTime), s.StartsAt, s.EndsAt, s.Capacity, 0, sq.Expr("now()"), sq.Expr("now()"))
		}

		query, args, err := q.ToSql()
		if err != nil {
			return inserted, fmt.Errorf("build insert: %w", err)
		}
		tag, err := r.pool.Exec(ctx, query, args...)
		if err != nil {
			return inserted, fmt.Errorf("insert slots: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (r *PgRepository) ListSlots(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]SlotInstance, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+slotColumns+`
		FROM slot_instances
		WHERE doctor_id = $1
		  AND slot_date BETWEEN $2 AND $3
		ORDER BY starts_at
	`, doctorID, DateOf(dr.From), DateOf(dr.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []SlotInstance
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *s)
	}
	return result, rows.Err()
}

func (r *PgRepository) GetSlot(ctx context.Context, id uuid.UUID) (*SlotInstance, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+slotColumns+`
		FROM slot_instances
		WHERE id = $1
	`, id)

	s, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("slot", id)
		}
		return nil, err
	}
	return s, nil
}

func (r *PgRepository) PurgeUnreferencedSlots(ctx context.Context, doctorID uuid.UUID, day time.Weekday, from time.Time) (int, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM slot_instances s
		WHERE s.doctor_id = $1
		  AND s.slot_date >= $2
		  AND EXTRACT(DOW FROM s.slot_date) = $3
		  AND NOT EXISTS (
		      SELECT 1
		      FROM appointments a
		      JOIN slot_instances s2 ON s2.id = a.slot_id
		      WHERE s2.doctor_id = s.doctor_id
		        AND s2.slot_date = s.slot_date
		  )
	`, doctorID, DateOf(from), int(day))
	if err != nil {
		return 0, fmt.Errorf("purge slots: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Ledger

func (r *PgRepository) Reserve(ctx context.Context, res Reservation) (*Appointment, error) {
	appt := res.Appointment

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin reserve: %w", err)
	}
	defer tx.Rollback(ctx)

	// the conditional update is the capacity check and the reservation in one step
	row := tx.QueryRow(ctx, `
		UPDATE slot_instances
		SET booked_count = booked_count + 1,
		    updated_at = $2
		WHERE id = $1
		  AND booked_count < capacity
		  AND starts_at > $2
		RETURNING `+slotColumns,
		appt.SlotID, res.Now)

	if _, err := scanSlot(row); err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("reserve slot: %w", err)
		}
		return nil, r.classifyReserveFailure(ctx, tx, appt.SlotID, res.Now)
	}

	row = tx.QueryRow(ctx, `
		INSERT INTO appointments (`+appointmentColumns+`)
		VALUES ($1, $2, $3, $4, 'pending', $5, NULL, $6, $6)
		RETURNING `+appointmentColumns,
		appt.ID, appt.PatientID, appt.DoctorID, appt.SlotID, appt.Reason, res.Now)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, fmt.Errorf("insert appointment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit reserve: %w", err)
	}
	return created, nil
}

func (r *PgRepository) classifyReserveFailure(ctx context.Context, tx pgx.Tx, slotID uuid.UUID, now time.Time) error {
	var startsAt time.Time
	var booked, capacity int

	err := tx.QueryRow(ctx, `
		SELECT starts_at, booked_count, capacity
		FROM slot_instances
		WHERE id = $1
	`, slotID).Scan(&startsAt, &booked, &capacity)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return &ConflictError{SlotID: slotID, Reason: ConflictSlotNotFound}
	case err != nil:
		return fmt.Errorf("inspect slot: %w", err)
	case !startsAt.After(now):
		return &ConflictError{SlotID: slotID, Reason: ConflictSlotInPast}
	default:
		return &ConflictError{SlotID: slotID, Reason: ConflictSlotFull}
	}
}

func (r *PgRepository) Transition(ctx context.Context, c StatusChange) (*Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	var cancelReason *string
	if c.To == StatusCancelled {
		cancelReason = c.CancelReason
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancel_reason = $4,
		    updated_at = $5
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns,
		c.AppointmentID, string(c.To), string(c.From), cancelReason, c.Now)

	updated, err := scanAppointment(row)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("update appointment status: %w", err)
		}
		current, getErr := scanAppointment(tx.QueryRow(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE id = $1
		`, c.AppointmentID))
		if getErr != nil {
			if errors.Is(getErr, pgx.ErrNoRows) {
				return nil, notFound("appointment", c.AppointmentID)
			}
			return nil, fmt.Errorf("load appointment: %w", getErr)
		}
		return current, ErrStaleStatus
	}

	if c.Release {
		_, err := tx.Exec(ctx, `
			UPDATE slot_instances
			SET booked_count = booked_count - 1,
			    updated_at = $2
			WHERE id = $1
			  AND booked_count > 0
		`, updated.SlotID, c.Now)
		if err != nil {
			return nil, fmt.Errorf("release slot: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transition: %w", err)
	}
	return updated, nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notFound("appointment", id)
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, dr DateRange) ([]AppointmentDetail, error) {
	return r.queryDetails(ctx, detailSelect().
		Where(sq.Eq{"a.doctor_id": doctorID}).
		Where(sq.GtOrEq{"s.slot_date": DateOf(dr.From)}).
		Where(sq.LtOrEq{"s.slot_date": DateOf(dr.To)}).
		OrderBy("s.starts_at", "a.created_at"))
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]AppointmentDetail, error) {
	return r.queryDetails(ctx, detailSelect().
		Where(sq.Eq{"a.patient_id": patientID}).
		OrderBy("s.starts_at", "a.created_at"))
}

func (r *PgRepository) ListActiveByPatientBetween(ctx context.Context, patientID uuid.UUID, start, end time.Time) ([]AppointmentDetail, error) {
	return r.queryDetails(ctx, detailSelect().
		Where(sq.Eq{"a.patient_id": patientID}).
		Where(sq.Eq{"a.status": []string{string(StatusPending), string(StatusConfirmed)}}).
		Where(sq.Lt{"s.starts_at": end}).
		Where(sq.Gt{"s.ends_at": start}).
		OrderBy("s.starts_at"))
}

func (r *PgRepository) ListAppointmentsBySlot(ctx context.Context, slotID uuid.UUID) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE slot_id = $1
		ORDER BY created_at
	`, slotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) FindPendingCreatedBefore(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'pending'
		  AND created_at < $1
	`, before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	return result, rows.Err()
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, actor_id, payload, created_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, now()))
	`, ev.EventType, ev.AppointmentID, ev.ActorID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
