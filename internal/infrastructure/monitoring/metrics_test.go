package monitoring

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordAllocDecision("t", "allocated")
		m.RecordAllocBytes("t", 408)
		m.RecordAcquisition("OK")
		m.RecordNegotiate(time.Millisecond, "Unavailable")
		m.IncConnections()
		m.SetConnectionValid(true)
		m.SetBreakerState("negotiate", 2)
	})
}

func TestRecordAllocDecision(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordAllocDecision("getCaps", "clamp_min")
	m.RecordAllocDecision("getCaps", "clamp_min")
	m.RecordAllocDecision("getCaps", "allocated")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.AllocDecisions.WithLabelValues("getCaps", "clamp_min")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AllocDecisions.WithLabelValues("getCaps", "allocated")))
}

func TestRecordNegotiateCountsErrorsOnly(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordNegotiate(2*time.Millisecond, "")
	m.RecordNegotiate(3*time.Millisecond, "Unavailable")

	assert.Equal(t, 1, testutil.CollectAndCount(m.NegotiateErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NegotiateErrors.WithLabelValues("Unavailable")))
}

func TestConnectionGauges(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.IncConnections()
	m.SetConnectionValid(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionValid))

	m.SetConnectionValid(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ConnectionValid))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectionsTotal))
}
