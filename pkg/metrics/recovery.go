package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RecoveryMetrics tracks the off-session recovery engine.
type RecoveryMetrics struct {
	attempts       *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	escalations    *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	leaseContended prometheus.Counter
	gatewayLatency *prometheus.HistogramVec
}

// NewRecoveryMetrics registers recovery metrics on reg. A nil registerer
// yields a no-op recorder.
func NewRecoveryMetrics(reg prometheus.Registerer) *RecoveryMetrics {
	if reg == nil {
		return &RecoveryMetrics{}
	}
	m := &RecoveryMetrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenshare_recovery_charge_attempts_total",
			Help: "Off-session charge attempts by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenshare_recovery_transitions_total",
			Help: "Obligation status transitions.",
		}, []string{"from", "to"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenshare_recovery_escalations_total",
			Help: "Escalation tickets opened by reason.",
		}, []string{"reason"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kitchenshare_recovery_sessions_issued_total",
			Help: "Recovery sessions issued by mode.",
		}, []string{"mode"}),
		leaseContended: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kitchenshare_recovery_lease_contended_total",
			Help: "Recovery triggers skipped because another worker held the lease.",
		}),
		gatewayLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kitchenshare_recovery_gateway_seconds",
			Help:    "Latency of payment gateway charge calls.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.attempts, m.transitions, m.escalations, m.sessions, m.leaseContended, m.gatewayLatency)
	return m
}

// ObserveAttempt records one charge attempt and its gateway latency.
func (m *RecoveryMetrics) ObserveAttempt(outcome string, latency time.Duration) {
	if m == nil || m.attempts == nil {
		return
	}
	label := normalizeLabel(outcome)
	m.attempts.WithLabelValues(label).Inc()
	m.gatewayLatency.WithLabelValues(label).Observe(latency.Seconds())
}

func (m *RecoveryMetrics) IncTransition(from, to string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(from), normalizeLabel(to)).Inc()
}

func (m *RecoveryMetrics) IncEscalation(reason string) {
	if m == nil || m.escalations == nil {
		return
	}
	m.escalations.WithLabelValues(normalizeLabel(reason)).Inc()
}

func (m *RecoveryMetrics) IncSessionIssued(mode string) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.WithLabelValues(normalizeLabel(mode)).Inc()
}

func (m *RecoveryMetrics) IncLeaseContended() {
	if m == nil || m.leaseContended == nil {
		return
	}
	m.leaseContended.Inc()
}
