package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// default span of ?from= without ?to=
const defaultRangeDays = 7

// Slots

func listSlotsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}
		dr, ok := dateRangeQuery(w, r)
		if !ok {
			return
		}

		var slots []scheduling.SlotInstance
		var err error
		if all, _ := strconv.ParseBool(r.URL.Query().Get("all")); all {
			slots, err = svc.GetSlots(r.Context(), doctorID, dr)
		} else {
			slots, err = svc.GetAvailableSlots(r.Context(), doctorID, dr)
		}
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toSlotResponses(slots))
	}
}

// Appointments

func createAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if !decodeBody(w, r, &req) {
			return
		}

		doctorID, err := uuid.Parse(req.DoctorID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "doctor_id must be a valid UUID")
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}
		patientID, err := uuid.Parse(req.PatientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
			return
		}

		appt, err := svc.CreateAppointment(r.Context(), GetCaller(r.Context()), scheduling.CreateAppointmentRequest{
			DoctorID:  doctorID,
			SlotID:    slotID,
			PatientID: patientID,
			Reason:    req.Reason,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponse(*detail))
	}
}

func updateStatusHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}
		var req UpdateStatusRequest
		if !decodeBody(w, r, &req) {
			return
		}

		appt, err := svc.UpdateAppointmentStatus(r.Context(), GetCaller(r.Context()), id,
			scheduling.AppointmentStatus(req.Status), req.CancelReason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func confirmAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}

		appt, err := svc.UpdateAppointmentStatus(r.Context(), GetCaller(r.Context()), id, scheduling.StatusConfirmed, "")
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func rescheduleAppointmentHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_appointment_id")
		if !ok {
			return
		}
		var req RescheduleRequest
		if !decodeBody(w, r, &req) {
			return
		}
		slotID, err := uuid.Parse(req.SlotID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_slot_id", "slot_id must be a valid UUID")
			return
		}

		appt, err := svc.RescheduleAppointment(r.Context(), GetCaller(r.Context()), id, slotID, req.Reason)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func listDoctorAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}
		dr, ok := dateRangeQuery(w, r)
		if !ok {
			return
		}

		details, err := svc.GetAppointmentsForDoctor(r.Context(), doctorID, dr)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func listPatientAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		patientID, ok := uuidParam(w, r, "patientID", "invalid_patient_id")
		if !ok {
			return
		}

		details, err := svc.GetAppointmentsForPatient(r.Context(), patientID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toDetailResponses(details))
	}
}

func listSlotAppointmentsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		slotID, ok := uuidParam(w, r, "slotID", "invalid_slot_id")
		if !ok {
			return
		}

		appts, err := svc.GetAppointmentsForSlot(r.Context(), slotID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]AppointmentResponse, 0, len(appts))
		for _, a := range appts {
			out = append(out, toAppointmentResponse(a))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// Templates

func listTemplatesHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}

		templates, err := svc.ListTemplates(r.Context(), doctorID)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]TemplateResponse, 0, len(templates))
		for _, t := range templates {
			out = append(out, toTemplateResponse(t))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func putTemplateHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}
		day, ok := weekdayParam(w, r)
		if !ok {
			return
		}
		var req TemplateRequest
		if !decodeBody(w, r, &req) {
			return
		}

		start, err := scheduling.ParseClockTime(req.StartTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_start_time", err.Error())
			return
		}
		end, err := scheduling.ParseClockTime(req.EndTime)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_end_time", err.Error())
			return
		}

		saved, err := svc.SetTemplate(r.Context(), GetCaller(r.Context()), scheduling.AvailabilityTemplate{
			DoctorID:            doctorID,
			DayOfWeek:           day,
			StartTime:           start,
			EndTime:             end,
			SlotDurationMinutes: req.SlotDurationMinutes,
			CapacityPerSlot:     req.CapacityPerSlot,
		})
		if err != nil {
			handleServiceError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toTemplateResponse(*saved))
	}
}

func deleteTemplateHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}
		day, ok := weekdayParam(w, r)
		if !ok {
			return
		}

		if err := svc.DeleteTemplate(r.Context(), GetCaller(r.Context()), doctorID, day); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// Exceptions

func listExceptionsHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}
		dr, ok := dateRangeQuery(w, r)
		if !ok {
			return
		}

		exceptions, err := svc.ListExceptions(r.Context(), doctorID, dr)
		if err != nil {
			handleServiceError(w, err)
			return
		}

		out := make([]ExceptionResponse, 0, len(exceptions))
		for _, e := range exceptions {
			out = append(out, toExceptionResponse(e))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func addDoctorExceptionHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := uuidParam(w, r, "doctorID", "invalid_doctor_id")
		if !ok {
			return
		}
		addException(w, r, svc, &doctorID)
	}
}

func addHolidayHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addException(w, r, svc, nil)
	}
}

func addException(w http.ResponseWriter, r *http.Request, svc *scheduling.Service, doctorID *uuid.UUID) {
	var req ExceptionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	date, err := scheduling.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	saved, err := svc.AddException(r.Context(), GetCaller(r.Context()), scheduling.AvailabilityException{
		DoctorID: doctorID,
		Date:     date,
		Reason:   req.Reason,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toExceptionResponse(*saved))
}

func removeExceptionHandler(svc *scheduling.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "id", "invalid_exception_id")
		if !ok {
			return
		}

		if err := svc.RemoveException(r.Context(), GetCaller(r.Context()), id); err != nil {
			handleServiceError(w, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// Helpers

func handleServiceError(w http.ResponseWriter, err error) {
	var validation *scheduling.ValidationError
	var conflict *scheduling.ConflictError
	var transition *scheduling.InvalidTransitionError
	var missing *scheduling.NotFoundError

	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   "validation_failed",
			Details: validation.Message,
			Field:   validation.Field,
		})
	case errors.As(err, &missing):
		writeError(w, http.StatusNotFound, missing.Kind+"_not_found", err.Error())
	case errors.As(err, &conflict):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:   "booking_conflict",
			Details: err.Error(),
			Reason:  string(conflict.Reason),
		})
	case errors.As(err, &transition):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:         "invalid_status_transition",
			Details:       err.Error(),
			CurrentStatus: string(transition.Current),
		})
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name, code string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeError(w, http.StatusBadRequest, code, name+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// dateRangeQuery reads ?from=YYYY-MM-DD&to=YYYY-MM-DD. to defaults to a week after from.
func dateRangeQuery(w http.ResponseWriter, r *http.Request) (scheduling.DateRange, bool) {
	q := r.URL.Query()

	from, err := scheduling.ParseDate(q.Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be YYYY-MM-DD")
		return scheduling.DateRange{}, false
	}

	to := from.AddDate(0, 0, defaultRangeDays-1)
	if raw := q.Get("to"); raw != "" {
		to, err = scheduling.ParseDate(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_to", "to must be YYYY-MM-DD")
			return scheduling.DateRange{}, false
		}
	}

	return scheduling.NewDateRange(from, to), true
}

// weekdayParam accepts 0-6 (Sunday first) or an English day name.
func weekdayParam(w http.ResponseWriter, r *http.Request) (time.Weekday, bool) {
	raw := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "day")))

	if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), true
	}
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if raw == name || raw == name[:3] {
			return d, true
		}
	}

	writeError(w, http.StatusBadRequest, "invalid_day", "day must be 0-6 or a weekday name")
	return 0, false
}
