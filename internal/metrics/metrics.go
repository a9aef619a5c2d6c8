// Package metrics holds the Prometheus collectors for the session service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Login outcomes.
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeInactive           = "inactive"
	OutcomeLockedOut          = "locked_out"
	OutcomeError              = "error"
)

// Refresh rejection reasons.
const (
	ReasonNotFound = "not_found"
	ReasonRevoked  = "revoked"
	ReasonExpired  = "expired"
	ReasonToken    = "invalid_access_token"
	ReasonUser     = "user_unavailable"
)

// Metrics are the counters recorded by the session service.
type Metrics struct {
	LoginsTotal      *prometheus.CounterVec
	LockoutsTotal    prometheus.Counter
	RotationsTotal   prometheus.Counter
	RefreshRejected  *prometheus.CounterVec
	ReuseDetected    prometheus.Counter
	RevocationsTotal *prometheus.CounterVec
}

// New creates the counters and registers them with reg. A nil reg leaves
// them unregistered, which is what tests usually want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_auth_logins_total",
				Help: "Total number of login attempts by outcome",
			},
			[]string{"outcome"},
		),
		LockoutsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_auth_lockouts_total",
				Help: "Total number of accounts moved into lockout",
			},
		),
		RotationsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_auth_refresh_rotations_total",
				Help: "Total number of successful refresh token rotations",
			},
		),
		RefreshRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_auth_refresh_rejected_total",
				Help: "Total number of rejected refresh attempts by reason",
			},
			[]string{"reason"},
		),
		ReuseDetected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "session_auth_refresh_reuse_detected_total",
				Help: "Total number of already rotated refresh tokens presented again",
			},
		),
		RevocationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "session_auth_refresh_revocations_total",
				Help: "Total number of refresh tokens revoked by actor",
			},
			[]string{"actor"},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.LoginsTotal,
			m.LockoutsTotal,
			m.RotationsTotal,
			m.RefreshRejected,
			m.ReuseDetected,
			m.RevocationsTotal,
		)
	}
	return m
}

// Login records one login attempt.
func (m *Metrics) Login(outcome string) {
	if m == nil {
		return
	}
	m.LoginsTotal.WithLabelValues(outcome).Inc()
}

// Lockout records an account crossing the failure threshold.
func (m *Metrics) Lockout() {
	if m == nil {
		return
	}
	m.LockoutsTotal.Inc()
}

// Rotated records one successful rotation.
func (m *Metrics) Rotated() {
	if m == nil {
		return
	}
	m.RotationsTotal.Inc()
}

// RefreshRejectedFor records a rejected refresh.
func (m *Metrics) RefreshRejectedFor(reason string) {
	if m == nil {
		return
	}
	m.RefreshRejected.WithLabelValues(reason).Inc()
	if reason == ReasonRevoked {
		m.ReuseDetected.Inc()
	}
}

// Revoked records n revocations performed by actor.
func (m *Metrics) Revoked(actor string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RevocationsTotal.WithLabelValues(actor).Add(float64(n))
}
