package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the sign-in counters. A nil *Metrics records nothing.
type Metrics struct {
	registry       *prometheus.Registry
	loginAttempts  *prometheus.CounterVec
	replays        prometheus.Counter
	otpDispatch    *prometheus.CounterVec
	sessionsIssued *prometheus.CounterVec
}

// New registers the counters on a private registry alongside Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_login_attempts_total",
			Help: "Credential verification attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		replays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "signin_replay_detected_total",
			Help: "WebAuthn assertions rejected for a non-increasing signature counter.",
		}),
		otpDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_otp_dispatch_total",
			Help: "OTP deliveries by outcome.",
		}, []string{"outcome"}),
		sessionsIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "signin_sessions_issued_total",
			Help: "Sessions issued by role.",
		}, []string{"role"}),
	}
	m.registry.MustRegister(
		m.loginAttempts,
		m.replays,
		m.otpDispatch,
		m.sessionsIssued,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) LoginAttempt(method, outcome string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(method, outcome).Inc()
}

func (m *Metrics) ReplayDetected() {
	if m == nil {
		return
	}
	m.replays.Inc()
}

func (m *Metrics) OTPDispatch(outcome string) {
	if m == nil {
		return
	}
	m.otpDispatch.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionIssued(role string) {
	if m == nil {
		return
	}
	m.sessionsIssued.WithLabelValues(role).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
