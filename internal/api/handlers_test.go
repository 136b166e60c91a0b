package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type testServer struct {
	handler  http.Handler
	dir      *scheduling.MemoryDirectory
	doctorID uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	repo := scheduling.NewMemoryRepository()
	dir := scheduling.NewMemoryDirectory()
	locker := redisclient.NewLocalLocker(redisclient.LockOptions{TTL: time.Second, Wait: time.Second})
	now := time.Date(2030, 1, 6, 12, 0, 0, 0, time.UTC)

	svc := scheduling.NewService(repo, dir, locker,
		config.Config{Location: time.UTC, MaxRangeDays: 31},
		scheduling.WithClock(func() time.Time { return now }),
	)

	doctorID := uuid.New()
	dir.PutDoctor(doctorID, true)

	handler := NewRouter(RouterConfig{
		Service: svc,
		Logger:  zerolog.Nop(),
		Metrics: metrics.NewHTTPMetrics(prometheus.NewRegistry()),
		Env:     "test",
		Version: "test",
	})
	return &testServer{handler: handler, dir: dir, doctorID: doctorID}
}

func (s *testServer) do(t *testing.T, method, path string, body any, role string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set(headerActorID, role+"-1")
		req.Header.Set(headerActorRole, role)
	}

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (s *testServer) setupMonday(t *testing.T) []SlotResponse {
	t.Helper()

	rec := s.do(t, http.MethodPut, "/doctors/"+s.doctorID.String()+"/templates/monday", TemplateRequest{
		StartTime:           "09:00",
		EndTime:             "10:00",
		SlotDurationMinutes: 30,
		CapacityPerSlot:     1,
	}, "staff")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/doctors/"+s.doctorID.String()+"/slots?from=2030-01-07&to=2030-01-07", nil, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	slots := decode[[]SlotResponse](t, rec)
	require.Len(t, slots, 2)
	return slots
}

func (s *testServer) newPatient() uuid.UUID {
	id := uuid.New()
	s.dir.PutPatient(id)
	return id
}

func TestHealthLive(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil, "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))
	assert.Equal(t, "ok", decode[LivenessResponse](t, rec).Status)
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestHealthReady(t *testing.T) {
	up := pingerFunc(func(context.Context) error { return nil })
	down := pingerFunc(func(context.Context) error { return errors.New("down") })

	cases := []struct {
		name       string
		postgres   Pinger
		redis      Pinger
		wantCode   int
		wantStatus string
	}{
		{name: "no dependencies", wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "all up", postgres: up, redis: up, wantCode: http.StatusOK, wantStatus: "ok"},
		{name: "redis down", postgres: up, redis: down, wantCode: http.StatusOK, wantStatus: "degraded"},
		{name: "postgres down", postgres: down, redis: up, wantCode: http.StatusServiceUnavailable, wantStatus: "error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHealthHandler(tc.postgres, tc.redis, "test", "v0")
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			assert.Equal(t, tc.wantCode, rec.Code)
			assert.Equal(t, tc.wantStatus, decode[ReadinessResponse](t, rec).Status)
		})
	}
}

func TestBookingFlowOverHTTP(t *testing.T) {
	s := newTestServer(t)
	slots := s.setupMonday(t)
	p1, p2 := s.newPatient(), s.newPatient()

	book := func(patientID uuid.UUID) *httptest.ResponseRecorder {
		return s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
			DoctorID:  s.doctorID.String(),
			SlotID:    slots[0].ID.String(),
			PatientID: patientID.String(),
			Reason:    "checkup",
		}, "staff")
	}

	rec := book(p1)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", appt.Status)

	rec = book(p2)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_full", decode[ErrorResponse](t, rec).Reason)

	rec = s.do(t, http.MethodPatch, "/appointments/"+appt.ID.String()+"/status", UpdateStatusRequest{
		Status:       "cancelled",
		CancelReason: "patient request",
	}, "staff")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	rec = book(p2)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodGet, "/appointments/"+appt.ID.String(), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[AppointmentResponse](t, rec)
	require.NotNil(t, got.Slot)
	assert.Equal(t, 1, got.Slot.BookedCount)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "patient request", *got.CancelReason)

	rec = s.do(t, http.MethodGet, "/patients/"+p2.String()+"/appointments", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/doctors/"+s.doctorID.String()+"/appointments?from=2030-01-07", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 2)

	rec = s.do(t, http.MethodGet, "/doctors/"+s.doctorID.String()+"/slots?from=2030-01-07&to=2030-01-07", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 1, "the booked slot is no longer available")

	rec = s.do(t, http.MethodGet, "/doctors/"+s.doctorID.String()+"/slots?from=2030-01-07&to=2030-01-07&all=true", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]SlotResponse](t, rec), 2)
}

func TestTransitionErrorsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	slots := s.setupMonday(t)

	rec := s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		DoctorID:  s.doctorID.String(),
		SlotID:    slots[1].ID.String(),
		PatientID: s.newPatient().String(),
	}, "patient")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentResponse](t, rec)
	path := "/appointments/" + appt.ID.String()

	rec = s.do(t, http.MethodPost, path+"/confirm", nil, "patient")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "pending", decode[ErrorResponse](t, rec).CurrentStatus)

	rec = s.do(t, http.MethodPost, path+"/confirm", nil, "staff")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", UpdateStatusRequest{Status: "completed"}, "staff")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPatch, path+"/status", UpdateStatusRequest{Status: "cancelled", CancelReason: "late"}, "staff")
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "completed", decode[ErrorResponse](t, rec).CurrentStatus)

	rec = s.do(t, http.MethodPatch, path+"/status", UpdateStatusRequest{Status: "archived"}, "staff")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRescheduleOverHTTP(t *testing.T) {
	s := newTestServer(t)
	slots := s.setupMonday(t)

	rec := s.do(t, http.MethodPost, "/appointments", CreateAppointmentRequest{
		DoctorID:  s.doctorID.String(),
		SlotID:    slots[0].ID.String(),
		PatientID: s.newPatient().String(),
	}, "staff")
	require.Equal(t, http.StatusCreated, rec.Code)
	old := decode[AppointmentResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/appointments/"+old.ID.String()+"/reschedule", RescheduleRequest{
		SlotID: slots[1].ID.String(),
		Reason: "clash",
	}, "staff")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, slots[1].ID, moved.SlotID)

	rec = s.do(t, http.MethodGet, "/appointments/"+old.ID.String(), nil, "")
	assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/slots/"+slots[0].ID.String()+"/appointments", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]AppointmentResponse](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, old.ID, history[0].ID)

	rec = s.do(t, http.MethodGet, "/slots/"+uuid.NewString()+"/appointments", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	s := newTestServer(t)
	doctor := "/doctors/" + s.doctorID.String()

	cases := []struct {
		name   string
		method string
		path   string
		body   any
		role   string
		want   int
		code   string
	}{
		{name: "bad doctor id", method: http.MethodGet, path: "/doctors/nope/slots?from=2030-01-07", want: http.StatusBadRequest, code: "invalid_doctor_id"},
		{name: "missing from", method: http.MethodGet, path: doctor + "/slots", want: http.StatusBadRequest, code: "invalid_from"},
		{name: "range too long", method: http.MethodGet, path: doctor + "/slots?from=2030-01-01&to=2030-06-01", want: http.StatusBadRequest, code: "validation_failed"},
		{name: "unknown doctor", method: http.MethodGet, path: "/doctors/" + uuid.NewString() + "/slots?from=2030-01-07", want: http.StatusNotFound, code: "doctor_not_found"},
		{name: "bad weekday", method: http.MethodPut, path: doctor + "/templates/someday", body: TemplateRequest{}, role: "staff", want: http.StatusBadRequest, code: "invalid_day"},
		{name: "bad clock", method: http.MethodPut, path: doctor + "/templates/1", body: TemplateRequest{StartTime: "9am", EndTime: "10:00"}, role: "staff", want: http.StatusBadRequest, code: "invalid_start_time"},
		{name: "bad template", method: http.MethodPut, path: doctor + "/templates/1", body: TemplateRequest{StartTime: "10:00", EndTime: "09:00", SlotDurationMinutes: 30, CapacityPerSlot: 1}, role: "staff", want: http.StatusBadRequest, code: "validation_failed"},
		{name: "missing caller", method: http.MethodPut, path: doctor + "/templates/1", body: TemplateRequest{StartTime: "09:00", EndTime: "10:00", SlotDurationMinutes: 30, CapacityPerSlot: 1}, want: http.StatusBadRequest, code: "validation_failed"},
		{name: "bad body", method: http.MethodPost, path: "/appointments", body: "not an object", role: "staff", want: http.StatusBadRequest, code: "invalid_request_body"},
		{name: "bad slot id", method: http.MethodPost, path: "/appointments", body: CreateAppointmentRequest{DoctorID: uuid.NewString(), SlotID: "x"}, role: "staff", want: http.StatusBadRequest, code: "invalid_slot_id"},
		{name: "unknown appointment", method: http.MethodGet, path: "/appointments/" + uuid.NewString(), want: http.StatusNotFound, code: "appointment_not_found"},
		{name: "bad holiday date", method: http.MethodPost, path: "/holidays", body: ExceptionRequest{Date: "07/01/2030"}, role: "staff", want: http.StatusBadRequest, code: "invalid_date"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := s.do(t, tc.method, tc.path, tc.body, tc.role)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
			assert.Equal(t, tc.code, decode[ErrorResponse](t, rec).Error)
		})
	}
}

func TestTemplatesAndExceptionsOverHTTP(t *testing.T) {
	s := newTestServer(t)
	doctor := "/doctors/" + s.doctorID.String()
	s.setupMonday(t)

	rec := s.do(t, http.MethodGet, doctor+"/templates", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	templates := decode[[]TemplateResponse](t, rec)
	require.Len(t, templates, 1)
	assert.Equal(t, "Monday", templates[0].Day)

	rec = s.do(t, http.MethodPost, doctor+"/exceptions", ExceptionRequest{Date: "2030-01-14", Reason: "conference"}, "staff")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	exc := decode[ExceptionResponse](t, rec)

	rec = s.do(t, http.MethodPost, "/holidays", ExceptionRequest{Date: "2030-01-21", Reason: "holiday"}, "staff")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Nil(t, decode[ExceptionResponse](t, rec).DoctorID)

	rec = s.do(t, http.MethodGet, doctor+"/exceptions?from=2030-01-07&to=2030-01-31", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ExceptionResponse](t, rec), 2)

	rec = s.do(t, http.MethodGet, doctor+"/slots?from=2030-01-14&to=2030-01-21", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]SlotResponse](t, rec))

	rec = s.do(t, http.MethodDelete, "/exceptions/"+exc.ID.String(), nil, "staff")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodDelete, doctor+"/templates/monday", nil, "staff")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, doctor+"/templates/monday", nil, "staff")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestLogCarriesActor(t *testing.T) {
	var logs bytes.Buffer
	handler := NewRouter(RouterConfig{
		Service: scheduling.NewService(scheduling.NewMemoryRepository(), scheduling.NewMemoryDirectory(),
			redisclient.NewLocalLocker(redisclient.LockOptions{}), config.Config{Location: time.UTC, MaxRangeDays: 31}),
		Logger:  zerolog.New(&logs),
		Env:     "test",
		Version: "test",
	})

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set(headerActorID, "alice")
	req.Header.Set(headerActorRole, "staff")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(logs.Bytes(), &line), logs.String())
	assert.Equal(t, "request", line["message"])
	assert.Equal(t, "alice", line["actor_id"])
	assert.Equal(t, "/health/live", line["path"])
}
