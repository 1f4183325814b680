package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/login"
)

// RegisterLoginRoutes wires the login flow. Every step that takes a secret
// goes through rateLimiter.
func RegisterLoginRoutes(r fiber.Router, h *login.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/login")
	group.Post("/start", rateLimiter, h.Start)
	group.Post("/:flowId/password", rateLimiter, h.Password)
	group.Post("/:flowId/mpin", rateLimiter, h.Mpin)
	group.Post("/:flowId/otp", rateLimiter, h.Otp)
	group.Post("/:flowId/otp/fallback", rateLimiter, h.OtpFallback)
	group.Post("/:flowId/otp/resend", rateLimiter, h.OtpResend)
	group.Post("/:flowId/biometric/begin", h.BiometricBegin)
	group.Post("/:flowId/biometric/finish", rateLimiter, h.BiometricFinish)
	group.Post("/:flowId/federated/phone", rateLimiter, h.FederatedPhone)

	federated := r.Group("/auth/federated")
	federated.Get("/start", h.FederatedStart)
	federated.Get("/callback", h.FederatedCallback)
}
