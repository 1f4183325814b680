package autherr

import (
	"errors"
	"fmt"
)

// Reason classifies the outcome of a verification step.
type Reason string

const (
	ReasonNone                         Reason = ""
	ReasonInvalidCredential            Reason = "invalid_credential"
	ReasonChallengeExpiredOrMismatched Reason = "challenge_expired_or_mismatched"
	ReasonReplayDetected               Reason = "replay_detected"
	ReasonProviderUnavailable          Reason = "provider_unavailable"
	ReasonValidation                   Reason = "validation"
	ReasonUnauthorized                 Reason = "unauthorized"
)

var (
	// ErrInvalidCredential covers every password, MPIN, OTP or assertion mismatch.
	// It never says which field was wrong.
	ErrInvalidCredential = errors.New("incorrect password or code")

	// ErrChallengeExpiredOrMismatched is returned when a ceremony response does not
	// match a live challenge issued to the same subject for the same purpose.
	ErrChallengeExpiredOrMismatched = errors.New("verification expired, please try again")

	// ErrReplayDetected indicates an authenticator reported a signature counter that
	// did not advance. The attempt must not be retried automatically.
	ErrReplayDetected = errors.New("this authenticator could not be verified")

	// ErrProviderUnavailable indicates the OTP gateway or another external
	// provider failed or timed out. Retryable.
	ErrProviderUnavailable = errors.New("verification service unavailable, try again shortly")

	// ErrUnauthorized is returned for protected actions without a live session.
	ErrUnauthorized = errors.New("sign in required")
)

// ValidationError carries a user-facing message about malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Verdict is the structured result of a verifier. Expected failures are
// reported here; faults travel as errors next to it.
type Verdict struct {
	OK     bool
	Reason Reason
}

// Pass is the successful verdict.
func Pass() Verdict { return Verdict{OK: true} }

// Fail builds a failed verdict with reason.
func Fail(reason Reason) Verdict { return Verdict{Reason: reason} }

// Err maps a failed verdict to its sentinel error. A passing verdict yields nil.
func (v Verdict) Err() error {
	if v.OK {
		return nil
	}
	return ReasonError(v.Reason)
}

// ReasonError returns the sentinel for reason.
func ReasonError(reason Reason) error {
	switch reason {
	case ReasonNone:
		return nil
	case ReasonChallengeExpiredOrMismatched:
		return ErrChallengeExpiredOrMismatched
	case ReasonReplayDetected:
		return ErrReplayDetected
	case ReasonProviderUnavailable:
		return ErrProviderUnavailable
	case ReasonUnauthorized:
		return ErrUnauthorized
	case ReasonValidation:
		return &ValidationError{Message: "invalid input"}
	default:
		return ErrInvalidCredential
	}
}

// ReasonOf classifies err. Unknown errors yield ReasonNone.
func ReasonOf(err error) Reason {
	switch {
	case err == nil:
		return ReasonNone
	case errors.Is(err, ErrInvalidCredential):
		return ReasonInvalidCredential
	case errors.Is(err, ErrChallengeExpiredOrMismatched):
		return ReasonChallengeExpiredOrMismatched
	case errors.Is(err, ErrReplayDetected):
		return ReasonReplayDetected
	case errors.Is(err, ErrProviderUnavailable):
		return ReasonProviderUnavailable
	case errors.Is(err, ErrUnauthorized):
		return ReasonUnauthorized
	case IsValidation(err):
		return ReasonValidation
	default:
		return ReasonNone
	}
}
