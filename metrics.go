package trust

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the counters the trust core reports. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	SessionsCreated   prometheus.Counter
	SessionsDeleted   prometheus.Counter
	GateDecisions     *prometheus.CounterVec
	LoginAttempts     *prometheus.CounterVec
	InvitationEvents  *prometheus.CounterVec
	OwnershipDecision *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
}

// NewMetrics creates the trust metrics and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "sessions_created_total",
			Help:      "Sessions issued after a successful sign in.",
		}),
		SessionsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "sessions_deleted_total",
			Help:      "Sessions terminated by sign out.",
		}),
		GateDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "gate_decisions_total",
			Help:      "Session gate outcomes by result.",
		}, []string{"result"}),
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "login_attempts_total",
			Help:      "Sign in attempts by result.",
		}, []string{"result"}),
		InvitationEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "invitation_events_total",
			Help:      "Invitation lifecycle events by kind.",
		}, []string{"event"}),
		OwnershipDecision: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "ownership_decisions_total",
			Help:      "Ownership guard decisions by result.",
		}, []string{"result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "trust",
			Name:      "store_errors_total",
			Help:      "Session store failures by operation.",
		}, []string{"component"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.SessionsCreated,
			m.SessionsDeleted,
			m.GateDecisions,
			m.LoginAttempts,
			m.InvitationEvents,
			m.OwnershipDecision,
			m.StoreErrors,
		)
	}

	return m
}

func (m *Metrics) sessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

func (m *Metrics) sessionDeleted() {
	if m == nil {
		return
	}
	m.SessionsDeleted.Inc()
}

func (m *Metrics) gate(result string) {
	if m == nil {
		return
	}
	m.GateDecisions.WithLabelValues(result).Inc()
}

func (m *Metrics) login(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) invitation(event string) {
	if m == nil {
		return
	}
	m.InvitationEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) ownership(result string) {
	if m == nil {
		return
	}
	m.OwnershipDecision.WithLabelValues(result).Inc()
}

func (m *Metrics) storeError(component string) {
	if m == nil {
		return
	}
	m.StoreErrors.WithLabelValues(component).Inc()
}
