package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestHandlerExposesCounters(t *testing.T) {
	m := New()
	m.LoginAttempt("password", "failure")
	m.LoginAttempt("password", "failure")
	m.ReplayDetected()
	m.OTPDispatch("sent")
	m.SessionIssued("agent")

	app := fiber.New()
	app.Get("/metrics", m.Handler())
	resp, err := app.Test(httptest.NewRequest("GET", "/metrics", nil))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	out := string(body)
	for _, want := range []string{
		`signin_login_attempts_total{method="password",outcome="failure"} 2`,
		`signin_replay_detected_total 1`,
		`signin_otp_dispatch_total{outcome="sent"} 1`,
		`signin_sessions_issued_total{role="agent"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q", want)
		}
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.LoginAttempt("mpin", "success")
	m.ReplayDetected()
	m.OTPDispatch("failed")
	m.SessionIssued("customer")
}
