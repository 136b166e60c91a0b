package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

type RouterConfig struct {
	Service *scheduling.Service
	// Postgres and Redis are pinged by /health/ready when set.
	Postgres Pinger
	Redis    Pinger
	Logger   zerolog.Logger
	Metrics  *metrics.HTTPMetrics
	// MetricsHandler serves /metrics when set.
	MetricsHandler http.Handler
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(CallerMiddleware)
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	if cfg.Metrics != nil {
		r.Use(MetricsMiddleware(cfg.Metrics))
	}

	health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	if cfg.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.MetricsHandler)
	}

	svc := cfg.Service

	r.Route("/doctors/{doctorID}", func(r chi.Router) {
		r.Get("/slots", listSlotsHandler(svc))
		r.Get("/appointments", listDoctorAppointmentsHandler(svc))

		r.Get("/templates", listTemplatesHandler(svc))
		r.Put("/templates/{day}", putTemplateHandler(svc))
		r.Delete("/templates/{day}", deleteTemplateHandler(svc))

		r.Get("/exceptions", listExceptionsHandler(svc))
		r.Post("/exceptions", addDoctorExceptionHandler(svc))
	})
	r.Delete("/exceptions/{id}", removeExceptionHandler(svc))
	r.Post("/holidays", addHolidayHandler(svc))

	r.Get("/patients/{patientID}/appointments", listPatientAppointmentsHandler(svc))
	r.Get("/slots/{slotID}/appointments", listSlotAppointmentsHandler(svc))

	r.Post("/appointments", createAppointmentHandler(svc))
	r.Get("/appointments/{id}", getAppointmentHandler(svc))
	r.Patch("/appointments/{id}/status", updateStatusHandler(svc))
	r.Post("/appointments/{id}/confirm", confirmAppointmentHandler(svc))
	r.Post("/appointments/{id}/reschedule", rescheduleAppointmentHandler(svc))

	return r
}
