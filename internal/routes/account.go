package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/posture"
)

// RegisterAccountRoutes exposes the signed-in account and its security
// setup. r must already require a session. Writes honour Idempotency-Key.
func RegisterAccountRoutes(r fiber.Router, ids *identity.Handler, enroll *posture.Handler, idem fiber.Handler) {
	r.Get("/me", ids.Me)

	me := r.Group("/me")
	me.Get("/security", enroll.Security)
	me.Put("/password", idem, enroll.SetPassword)
	me.Put("/mpin", idem, enroll.SetMpin)
	me.Put("/recovery-email", idem, enroll.SetRecoveryEmail)
	me.Post("/recovery-email/confirm", idem, enroll.ConfirmRecoveryEmail)
	me.Post("/passkeys/begin", enroll.BeginPasskey)
	me.Post("/passkeys/finish", idem, enroll.FinishPasskey)
	me.Patch("/preferences", idem, enroll.SetPreferences)
}
