package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/avgate/avgate/breaker"
)

// Metrics are the process-wide counters/histograms the orchestrator
// updates on every request. Grounded on cklxx-elephant.ai and
// vango-go-vango's prometheus/client_golang usage (a small fixed set
// of vectors registered once at startup, labeled by outcome/phase).
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	breakerRejected *prometheus.CounterVec
	breakerState    *prometheus.GaugeVec
	bufferHybrid    prometheus.Counter
}

// NewMetrics builds and registers the orchestrator's metrics against
// reg. cmd/avgate-server passes the registry httpserver serves on
// /metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avgate",
			Name:      "requests_total",
			Help:      "Total upload requests processed, labeled by terminal outcome.",
		}, []string{"outcome"}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "avgate",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each orchestrator phase.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		}, []string{"phase"}),
		breakerRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "avgate",
			Name:      "breaker_rejected_total",
			Help:      "Requests fast-failed because a circuit breaker was open.",
		}, []string{"service"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "avgate",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open), updated on every transition.",
		}, []string{"service"}),
		bufferHybrid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "avgate",
			Name:      "buffer_hybrid_transitions_total",
			Help:      "Times an upload buffer spilled from memory to disk.",
		}),
	}
	reg.MustRegister(m.requestsTotal, m.phaseDuration, m.breakerRejected, m.breakerState, m.bufferHybrid)
	return m
}

// WatchBreaker subscribes to b's state transitions and keeps the
// breaker_state gauge current the instant a transition happens, rather
// than polling State() on a timer — the same change-notification shape
// gobeaver-filekit's changetoken.go gives callers watching for cache
// invalidation, applied here to breaker state instead.
func (m *Metrics) WatchBreaker(service string, b *breaker.Breaker) {
	if m == nil || b == nil {
		return
	}
	m.breakerState.WithLabelValues(service).Set(float64(b.State()))
	b.Subscribe(func(_, to breaker.State) {
		m.breakerState.WithLabelValues(service).Set(float64(to))
	})
}

func (m *Metrics) observeOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) observePhase(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(seconds)
}

func (m *Metrics) observeBreakerRejected(service string) {
	if m == nil {
		return
	}
	m.breakerRejected.WithLabelValues(service).Inc()
}

func (m *Metrics) observeBufferHybridTransition() {
	if m == nil {
		return
	}
	m.bufferHybrid.Inc()
}
