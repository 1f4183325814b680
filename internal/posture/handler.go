package posture

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/identity"
)

// Handler exposes enrollment endpoints for the signed-in account.
type Handler struct {
	enrollment *Enrollment
	subject    func(*fiber.Ctx) string
}

func NewHandler(enrollment *Enrollment, subject func(*fiber.Ctx) string) *Handler {
	return &Handler{enrollment: enrollment, subject: subject}
}

type reportResponse struct {
	Report
	Steps []Step `json:"steps"`
}

func newReportResponse(r Report) reportResponse {
	steps := r.Steps()
	if steps == nil {
		steps = []Step{}
	}
	return reportResponse{Report: r, Steps: steps}
}

type passwordRequest struct {
	Password string `json:"password"`
}

type mpinRequest struct {
	Mpin string `json:"mpin"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type codeRequest struct {
	Code string `json:"code"`
}

// Security reports which enrollment steps the account is missing.
func (h *Handler) Security(c *fiber.Ctx) error {
	report, err := h.enrollment.Posture(c.UserContext(), h.subject(c))
	if err != nil {
		return autherr.HTTP(err)
	}
	return c.Status(http.StatusOK).JSON(newReportResponse(report))
}

func (h *Handler) SetPassword(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.enrollment.SetPassword(c.UserContext(), h.subject(c), req.Password); err != nil {
		return autherr.HTTP(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

func (h *Handler) SetMpin(c *fiber.Ctx) error {
	var req mpinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.enrollment.SetMpin(c.UserContext(), h.subject(c), req.Mpin); err != nil {
		return autherr.HTTP(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// SetRecoveryEmail stores the address and emails a verification code.
func (h *Handler) SetRecoveryEmail(c *fiber.Ctx) error {
	var req emailRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.enrollment.SetRecoveryEmail(c.UserContext(), h.subject(c), req.Email); err != nil {
		return autherr.HTTP(err)
	}
	return c.Status(http.StatusAccepted).JSON(fiber.Map{"status": "verification_sent"})
}

func (h *Handler) ConfirmRecoveryEmail(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.enrollment.ConfirmRecoveryEmail(c.UserContext(), h.subject(c), req.Code); err != nil {
		return autherr.HTTP(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// BeginPasskey returns WebAuthn creation options.
func (h *Handler) BeginPasskey(c *fiber.Ctx) error {
	creation, err := h.enrollment.BeginWebAuthnRegistration(c.UserContext(), h.subject(c))
	if err != nil {
		return autherr.HTTP(err)
	}
	return c.Status(http.StatusOK).JSON(creation)
}

// FinishPasskey takes the raw attestation response as the request body.
func (h *Handler) FinishPasskey(c *fiber.Ctx) error {
	cred, err := h.enrollment.FinishWebAuthnRegistration(c.UserContext(), h.subject(c), c.Body())
	if err != nil {
		return autherr.HTTP(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"credential_id": cred.ID,
		"created_at":    cred.CreatedAt,
	})
}

func (h *Handler) SetPreferences(c *fiber.Ctx) error {
	var req identity.AuthPreferences
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.enrollment.SetPreferences(c.UserContext(), h.subject(c), req); err != nil {
		return autherr.HTTP(err)
	}
	return c.SendStatus(http.StatusNoContent)
}
