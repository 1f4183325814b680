package autherr

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const genericFailure = "something went wrong, please try again"

// HTTP maps err to a fiber error with a non-enumerating message. Faults are
// collapsed into a generic retry message.
func HTTP(err error) error {
	if err == nil {
		return nil
	}
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe
	}
	var v *ValidationError
	if errors.As(err, &v) {
		return fiber.NewError(http.StatusBadRequest, v.Error())
	}
	switch ReasonOf(err) {
	case ReasonInvalidCredential:
		return fiber.NewError(http.StatusUnauthorized, ErrInvalidCredential.Error())
	case ReasonChallengeExpiredOrMismatched:
		return fiber.NewError(http.StatusUnauthorized, ErrChallengeExpiredOrMismatched.Error())
	case ReasonReplayDetected:
		return fiber.NewError(http.StatusUnauthorized, ErrReplayDetected.Error())
	case ReasonProviderUnavailable:
		return fiber.NewError(http.StatusServiceUnavailable, ErrProviderUnavailable.Error())
	case ReasonUnauthorized:
		return fiber.NewError(http.StatusUnauthorized, ErrUnauthorized.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, genericFailure)
	}
}
