package autherr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestReasonRoundTrip(t *testing.T) {
	reasons := []Reason{
		ReasonInvalidCredential,
		ReasonChallengeExpiredOrMismatched,
		ReasonReplayDetected,
		ReasonProviderUnavailable,
		ReasonUnauthorized,
		ReasonValidation,
	}
	for _, r := range reasons {
		if got := ReasonOf(ReasonError(r)); got != r {
			t.Fatalf("ReasonOf(ReasonError(%q)) = %q", r, got)
		}
	}
}

func TestVerdictErr(t *testing.T) {
	if err := Pass().Err(); err != nil {
		t.Fatalf("pass verdict err = %v", err)
	}
	if err := Fail(ReasonReplayDetected).Err(); !errors.Is(err, ErrReplayDetected) {
		t.Fatalf("expected replay error, got %v", err)
	}
}

func TestHTTPMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("verify: %w", ErrInvalidCredential), http.StatusUnauthorized},
		{ErrReplayDetected, http.StatusUnauthorized},
		{ErrProviderUnavailable, http.StatusServiceUnavailable},
		{Invalid("pin", "PIN must be 4 to 6 digits"), http.StatusBadRequest},
		{errors.New("connection refused"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		var fe *fiber.Error
		if !errors.As(HTTP(tc.err), &fe) {
			t.Fatalf("expected fiber error for %v", tc.err)
		}
		if fe.Code != tc.status {
			t.Fatalf("status for %v = %d, want %d", tc.err, fe.Code, tc.status)
		}
	}
}

func TestHTTPHidesFaultDetail(t *testing.T) {
	var fe *fiber.Error
	errors.As(HTTP(errors.New("pq: relation agents does not exist")), &fe)
	if fe.Message != genericFailure {
		t.Fatalf("fault message leaked: %q", fe.Message)
	}
}
