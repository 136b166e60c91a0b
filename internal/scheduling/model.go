package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const dateLayout = "2006-01-02"

// ClockTime is a wall-clock time of day in minutes after midnight.
type ClockTime int

const (
	minutesPerDay          = 24 * 60
	minSlotDurationMinutes = 5

	EndOfDay ClockTime = minutesPerDay
)

func NewClockTime(hour, minute int) ClockTime {
	return ClockTime(hour*60 + minute)
}

// ParseClockTime accepts "HH:MM" (24h). "24:00" is allowed as an end of day marker.
func ParseClockTime(s string) (ClockTime, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 {
		return 0, fmt.Errorf("clock time %q: want HH:MM", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	m, err := strconv.Atoi(mm)
	if err != nil {
		return 0, fmt.Errorf("clock time %q: %w", s, err)
	}
	if h < 0 || h > 24 || m < 0 || m > 59 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("clock time %q: out of range", s)
	}
	return NewClockTime(h, m), nil
}

func (c ClockTime) Hour() int   { return int(c) / 60 }
func (c ClockTime) Minute() int { return int(c) % 60 }

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c ClockTime) Valid() bool {
	return c >= 0 && c <= EndOfDay
}

// On places the clock time on a calendar date in loc.
func (c ClockTime) On(date time.Time, loc *time.Location) time.Time {
	y, m, d := date.Date()
	return time.Date(y, m, d, c.Hour(), c.Minute(), 0, 0, loc)
}

// DateOf drops the time of day, keeping the calendar date t has in its own location.
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ParseDate(s string) (time.Time, error) {
	return time.Parse(dateLayout, strings.TrimSpace(s))
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

// DateRange is an inclusive range of calendar dates.
type DateRange struct {
	From time.Time
	To   time.Time
}

func NewDateRange(from, to time.Time) DateRange {
	return DateRange{From: DateOf(from), To: DateOf(to)}
}

func (r DateRange) Days() int {
	return int(DateOf(r.To).Sub(DateOf(r.From)).Hours()/24) + 1
}

func (r DateRange) Contains(date time.Time) bool {
	d := DateOf(date)
	return !d.Before(DateOf(r.From)) && !d.After(DateOf(r.To))
}

// Dates lists every calendar date in the range.
func (r DateRange) Dates() []time.Time {
	var out []time.Time
	for d := DateOf(r.From); !d.After(DateOf(r.To)); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

func (r DateRange) Validate(maxDays int) error {
	if r.From.IsZero() {
		return &ValidationError{Field: "from", Message: "start date is required"}
	}
	if r.To.IsZero() {
		return &ValidationError{Field: "to", Message: "end date is required"}
	}
	if DateOf(r.To).Before(DateOf(r.From)) {
		return &ValidationError{Field: "to", Message: "end date is before start date"}
	}
	if maxDays > 0 && r.Days() > maxDays {
		return &ValidationError{Field: "to", Message: fmt.Sprintf("range spans %d days, limit is %d", r.Days(), maxDays)}
	}
	return nil
}

// AvailabilityTemplate is a doctor's recurring availability for one weekday.
type AvailabilityTemplate struct {
	DoctorID            uuid.UUID
	DayOfWeek           time.Weekday
	StartTime           ClockTime
	EndTime             ClockTime
	SlotDurationMinutes int
	CapacityPerSlot     int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

func (t AvailabilityTemplate) Validate() error {
	if t.DoctorID == uuid.Nil {
		return &ValidationError{Field: "doctor_id", Message: "doctor id is required"}
	}
	if t.DayOfWeek < time.Sunday || t.DayOfWeek > time.Saturday {
		return &ValidationError{Field: "day_of_week", Message: "must be between 0 (Sunday) and 6 (Saturday)"}
	}
	if !t.StartTime.Valid() || !t.EndTime.Valid() {
		return &ValidationError{Field: "start_time", Message: "clock times must be within the day"}
	}
	if t.StartTime >= t.EndTime {
		return &ValidationError{Field: "end_time", Message: "end time must be after start time"}
	}
	if t.SlotDurationMinutes < minSlotDurationMinutes {
		return &ValidationError{Field: "slot_duration_minutes", Message: fmt.Sprintf("must be at least %d", minSlotDurationMinutes)}
	}
	if t.SlotDurationMinutes > int(t.EndTime-t.StartTime) {
		return &ValidationError{Field: "slot_duration_minutes", Message: "longer than the availability window"}
	}
	if t.CapacityPerSlot < 1 {
		return &ValidationError{Field: "capacity_per_slot", Message: "must be at least 1"}
	}
	return nil
}

// AvailabilityException blocks a date. A nil DoctorID makes it a clinic-wide holiday.
type AvailabilityException struct {
	ID        uuid.UUID
	DoctorID  *uuid.UUID
	Date      time.Time
	Reason    string
	CreatedAt time.Time
}

func (e AvailabilityException) AppliesTo(doctorID uuid.UUID) bool {
	return e.DoctorID == nil || *e.DoctorID == doctorID
}

// SlotInstance is a concrete bookable interval on a date.
type SlotInstance struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time
	StartTime   ClockTime
	EndTime     ClockTime
	StartsAt    time.Time
	EndsAt      time.Time
	Capacity    int
	BookedCount int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (s SlotInstance) Remaining() int {
	return s.Capacity - s.BookedCount
}

// Available reports whether the slot can still take a booking at now.
func (s SlotInstance) Available(now time.Time) bool {
	return s.BookedCount < s.Capacity && s.StartsAt.After(now)
}

func (s SlotInstance) Overlaps(other SlotInstance) bool {
	return s.StartsAt.Before(other.EndsAt) && other.StartsAt.Before(s.EndsAt)
}

var slotNamespace = uuid.MustParse("6f1c2b8e-93d4-5c1a-9e57-0c3f7a2d41b6")

// SlotID derives the stable identity of the slot starting at start on date.
func SlotID(doctorID uuid.UUID, date time.Time, start ClockTime) uuid.UUID {
	name := fmt.Sprintf("%s/%s/%s", doctorID, FormatDate(date), start)
	return uuid.NewSHA1(slotNamespace, []byte(name))
}

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// ParseStatus rejects anything outside the known status set.
func ParseStatus(s string) (AppointmentStatus, error) {
	switch st := AppointmentStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return st, nil
	}
	return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
}

func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusCompleted
}

// Active statuses hold slot capacity.
func (s AppointmentStatus) Active() bool {
	return s == StatusPending || s == StatusConfirmed
}

type Appointment struct {
	ID           uuid.UUID
	PatientID    uuid.UUID
	DoctorID     uuid.UUID
	SlotID       uuid.UUID
	Status       AppointmentStatus
	Reason       string
	CancelReason *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppointmentDetail joins an appointment with the slot it occupies.
type AppointmentDetail struct {
	Appointment
	Slot *SlotInstance
}

type Role string

const (
	RoleStaff   Role = "staff"
	RolePatient Role = "patient"
	RoleSystem  Role = "system"
)

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleStaff, RolePatient, RoleSystem:
		return r, nil
	}
	return "", &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", s)}
}

// Caller identifies who is acting on a request. The core keeps no ambient
// identity; every mutating operation receives one explicitly.
type Caller struct {
	ActorID string
	Role    Role
}

var SystemCaller = Caller{ActorID: "system", Role: RoleSystem}

func (c Caller) Validate() error {
	if strings.TrimSpace(c.ActorID) == "" {
		return &ValidationError{Field: "actor_id", Message: "caller identity is required"}
	}
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	return nil
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	ActorID       string
	Payload       []byte
	CreatedAt     time.Time
}
