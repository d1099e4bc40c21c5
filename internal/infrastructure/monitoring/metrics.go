package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Allocator metrics
	AllocDecisions *prometheus.CounterVec
	AllocBytes     *prometheus.HistogramVec

	// Acquisition metrics
	Acquisitions *prometheus.CounterVec

	// Negotiate (gRPC) metrics
	NegotiateDuration prometheus.Histogram
	NegotiateErrors   *prometheus.CounterVec

	// Connection metrics
	ConnectionsTotal prometheus.Counter
	ConnectionValid  prometheus.Gauge

	// Breaker metrics
	BreakerState *prometheus.GaugeVec
}

// NewMetrics registers all collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		AllocDecisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capshim_alloc_decisions_total",
				Help: "Sanitizing allocator decisions by caller tag and branch",
			},
			[]string{"tag", "branch"},
		),
		AllocBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capshim_alloc_bytes",
				Help:    "Size of successfully allocated shared memory regions",
				Buckets: prometheus.ExponentialBuckets(256, 4, 10),
			},
			[]string{"tag"},
		),
		Acquisitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capshim_acquisitions_total",
				Help: "Capability acquisitions by resulting status",
			},
			[]string{"status"},
		),
		NegotiateDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "capshim_negotiate_duration_seconds",
				Help:    "Remote negotiate call duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
		),
		NegotiateErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capshim_negotiate_errors_total",
				Help: "Remote negotiate failures by gRPC code",
			},
			[]string{"code"},
		),
		ConnectionsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "capshim_connections_total",
				Help: "Connections established to the capability service",
			},
		),
		ConnectionValid: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "capshim_connection_valid",
				Help: "1 while the service connection is owned by this process",
			},
		),
		BreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "capshim_breaker_state",
				Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
			},
			[]string{"name"},
		),
	}
}

// RecordAllocDecision counts one allocator branch for tag
func (m *Metrics) RecordAllocDecision(tag, branch string) {
	if m == nil {
		return
	}
	m.AllocDecisions.WithLabelValues(tag, branch).Inc()
}

// RecordAllocBytes observes the size of a successful allocation
func (m *Metrics) RecordAllocBytes(tag string, size uint64) {
	if m == nil {
		return
	}
	m.AllocBytes.WithLabelValues(tag).Observe(float64(size))
}

// RecordAcquisition counts one acquisition result
func (m *Metrics) RecordAcquisition(status string) {
	if m == nil {
		return
	}
	m.Acquisitions.WithLabelValues(status).Inc()
}

// RecordNegotiate observes a negotiate call; code is empty on success
func (m *Metrics) RecordNegotiate(duration time.Duration, code string) {
	if m == nil {
		return
	}
	m.NegotiateDuration.Observe(duration.Seconds())
	if code != "" {
		m.NegotiateErrors.WithLabelValues(code).Inc()
	}
}

// IncConnections counts an established connection
func (m *Metrics) IncConnections() {
	if m == nil {
		return
	}
	m.ConnectionsTotal.Inc()
}

// SetConnectionValid publishes connection validity
func (m *Metrics) SetConnectionValid(valid bool) {
	if m == nil {
		return
	}
	if valid {
		m.ConnectionValid.Set(1)
	} else {
		m.ConnectionValid.Set(0)
	}
}

// SetBreakerState publishes a breaker state
func (m *Metrics) SetBreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(name).Set(float64(state))
}
