package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id"`
	SlotID    string `json:"slot_id"`
	PatientID string `json:"patient_id"`
	Reason    string `json:"reason"`
}

type UpdateStatusRequest struct {
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason"`
}

type RescheduleRequest struct {
	SlotID string `json:"slot_id"`
	Reason string `json:"reason"`
}

type TemplateRequest struct {
	StartTime           string `json:"start_time"`
	EndTime             string `json:"end_time"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	CapacityPerSlot     int    `json:"capacity_per_slot"`
}

type ExceptionRequest struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type SlotResponse struct {
	ID          uuid.UUID `json:"id"`
	DoctorID    uuid.UUID `json:"doctor_id"`
	Date        string    `json:"date"`
	StartTime   string    `json:"start_time"`
	EndTime     string    `json:"end_time"`
	StartsAt    time.Time `json:"starts_at"`
	EndsAt      time.Time `json:"ends_at"`
	Capacity    int       `json:"capacity"`
	BookedCount int       `json:"booked_count"`
	Remaining   int       `json:"remaining"`
}

type AppointmentResponse struct {
	ID           uuid.UUID     `json:"id"`
	PatientID    uuid.UUID     `json:"patient_id"`
	DoctorID     uuid.UUID     `json:"doctor_id"`
	SlotID       uuid.UUID     `json:"slot_id"`
	Status       string        `json:"status"`
	Reason       string        `json:"reason,omitempty"`
	CancelReason *string       `json:"cancel_reason,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Slot         *SlotResponse `json:"slot,omitempty"`
}

type TemplateResponse struct {
	DoctorID            uuid.UUID `json:"doctor_id"`
	DayOfWeek           int       `json:"day_of_week"`
	Day                 string    `json:"day"`
	StartTime           string    `json:"start_time"`
	EndTime             string    `json:"end_time"`
	SlotDurationMinutes int       `json:"slot_duration_minutes"`
	CapacityPerSlot     int       `json:"capacity_per_slot"`
	UpdatedAt           time.Time `json:"updated_at"`
}

type ExceptionResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  *uuid.UUID `json:"doctor_id,omitempty"`
	Date      string     `json:"date"`
	Reason    string     `json:"reason,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

type ErrorResponse struct {
	Error         string `json:"error"`
	Details       string `json:"details,omitempty"`
	Field         string `json:"field,omitempty"`
	Reason        string `json:"reason,omitempty"`
	CurrentStatus string `json:"current_status,omitempty"`
}

func toSlotResponse(s scheduling.SlotInstance) SlotResponse {
	return SlotResponse{
		ID:          s.ID,
		DoctorID:    s.DoctorID,
		Date:        scheduling.FormatDate(s.Date),
		StartTime:   s.StartTime.String(),
		EndTime:     s.EndTime.String(),
		StartsAt:    s.StartsAt,
		EndsAt:      s.EndsAt,
		Capacity:    s.Capacity,
		BookedCount: s.BookedCount,
		Remaining:   s.Remaining(),
	}
}

func toSlotResponses(slots []scheduling.SlotInstance) []SlotResponse {
	out := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		out = append(out, toSlotResponse(s))
	}
	return out
}

func toAppointmentResponse(a scheduling.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		PatientID:    a.PatientID,
		DoctorID:     a.DoctorID,
		SlotID:       a.SlotID,
		Status:       string(a.Status),
		Reason:       a.Reason,
		CancelReason: a.CancelReason,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func toDetailResponse(d scheduling.AppointmentDetail) AppointmentResponse {
	resp := toAppointmentResponse(d.Appointment)
	if d.Slot != nil {
		slot := toSlotResponse(*d.Slot)
		resp.Slot = &slot
	}
	return resp
}

func toDetailResponses(details []scheduling.AppointmentDetail) []AppointmentResponse {
	out := make([]AppointmentResponse, 0, len(details))
	for _, d := range details {
		out = append(out, toDetailResponse(d))
	}
	return out
}

func toTemplateResponse(t scheduling.AvailabilityTemplate) TemplateResponse {
	return TemplateResponse{
		DoctorID:            t.DoctorID,
		DayOfWeek:           int(t.DayOfWeek),
		Day:                 t.DayOfWeek.String(),
		StartTime:           t.StartTime.String(),
		EndTime:             t.EndTime.String(),
		SlotDurationMinutes: t.SlotDurationMinutes,
		CapacityPerSlot:     t.CapacityPerSlot,
		UpdatedAt:           t.UpdatedAt,
	}
}

func toExceptionResponse(e scheduling.AvailabilityException) ExceptionResponse {
	return ExceptionResponse{
		ID:        e.ID,
		DoctorID:  e.DoctorID,
		Date:      scheduling.FormatDate(e.Date),
		Reason:    e.Reason,
		CreatedAt: e.CreatedAt,
	}
}
