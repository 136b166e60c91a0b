package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSchedulingMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewSchedulingMetrics(reg)

	m.ObserveBooking("success")
	m.ObserveBooking("success")
	m.ObserveBooking("slot_full")
	m.ObserveTransition("pending", "cancelled")
	m.AddGeneratedSlots(4)
	m.AddGeneratedSlots(0)
	m.ObserveLockWait("slot", true, 0.002)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bookingsTotal.WithLabelValues("slot_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("pending", "cancelled")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.slotsGenerated))
	assert.Equal(t, 1, testutil.CollectAndCount(m.lockWait))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var s *SchedulingMetrics
	var h *HTTPMetrics

	assert.NotPanics(t, func() {
		s.ObserveBooking("success")
		s.ObserveTransition("pending", "confirmed")
		s.ObserveLockWait("slot", false, 1)
		s.AddGeneratedSlots(3)
		h.ObserveRequest("GET", "/health/live", 200, 0.01)
	})
}

func TestHTTPMetricsStatusClass(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("POST", "/appointments", 409, 0.02)
	m.ObserveRequest("POST", "/appointments", 201, 0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/appointments", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues("POST", "/appointments", "2xx")))
}
