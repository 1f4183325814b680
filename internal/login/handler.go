package login

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/federated"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/posture"
	"github.com/lumen-trade/signin/internal/session"
)

// Handler exposes the login flow over HTTP.
type Handler struct {
	service *Service
	secure  bool
}

// NewHandler builds a login handler. secure marks the session cookies Secure.
func NewHandler(service *Service, secure bool) *Handler {
	return &Handler{service: service, secure: secure}
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type mpinRequest struct {
	Mpin string `json:"mpin"`
}

type codeRequest struct {
	Code string `json:"code"`
}

type postureResponse struct {
	Steps    []posture.Step `json:"steps"`
	Required bool           `json:"required"`
}

type authenticatedResponse struct {
	State     State           `json:"state"`
	SubjectID string          `json:"subject_id"`
	Role      identity.Role   `json:"role"`
	ExpiresAt time.Time       `json:"expires_at"`
	Posture   postureResponse `json:"posture"`
}

type failureResponse struct {
	FlowID string `json:"flow_id,omitempty"`
	State  State  `json:"state,omitempty"`
	Error  string `json:"error"`
}

func (h *Handler) respond(c *fiber.Ctx, out Outcome, err error) error {
	if err != nil {
		return h.fail(c, out, err)
	}
	if out.State != StateAuthenticated || out.Issued == nil {
		return c.Status(http.StatusOK).JSON(out)
	}
	session.SetCookies(c, *out.Issued, h.secure)
	resp := authenticatedResponse{
		State:     out.State,
		SubjectID: out.Issued.Session.SubjectID,
		Role:      out.Issued.Session.Role,
		ExpiresAt: out.Issued.Session.ExpiresAt,
		Posture:   postureResponse{Steps: []posture.Step{}},
	}
	if out.Report != nil {
		if steps := out.Report.Steps(); steps != nil {
			resp.Posture.Steps = steps
		}
		resp.Posture.Required = out.Report.Required
	}
	return c.Status(http.StatusOK).JSON(resp)
}

// fail keeps the flow id in the body so the client can retry the same step.
func (h *Handler) fail(c *fiber.Ctx, out Outcome, err error) error {
	var fe *fiber.Error
	var invalid ErrInvalidTransition
	switch {
	case errors.As(err, &invalid):
		fe = fiber.NewError(http.StatusConflict, "this step is not available right now")
	case errors.Is(err, ErrFederatedDisabled):
		fe = fiber.NewError(http.StatusNotFound, "federated sign-in is not available")
	default:
		errors.As(autherr.HTTP(err), &fe)
	}
	if out.FlowID == "" {
		return fe
	}
	return c.Status(fe.Code).JSON(failureResponse{FlowID: out.FlowID, State: out.State, Error: fe.Message})
}

// Start takes the phone number and picks the first step.
func (h *Handler) Start(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.service.Start(c.UserContext(), req.Phone)
	return h.respond(c, out, err)
}

func (h *Handler) Password(c *fiber.Ctx) error {
	var req passwordRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.service.SubmitPassword(c.UserContext(), c.Params("flowId"), req.Password)
	return h.respond(c, out, err)
}

func (h *Handler) Mpin(c *fiber.Ctx) error {
	var req mpinRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.service.SubmitMpin(c.UserContext(), c.Params("flowId"), req.Mpin)
	return h.respond(c, out, err)
}

func (h *Handler) Otp(c *fiber.Ctx) error {
	var req codeRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.service.SubmitOtp(c.UserContext(), c.Params("flowId"), req.Code)
	return h.respond(c, out, err)
}

func (h *Handler) OtpFallback(c *fiber.Ctx) error {
	out, err := h.service.FallbackToOtp(c.UserContext(), c.Params("flowId"))
	return h.respond(c, out, err)
}

func (h *Handler) OtpResend(c *fiber.Ctx) error {
	out, err := h.service.ResendOtp(c.UserContext(), c.Params("flowId"))
	return h.respond(c, out, err)
}

// BiometricBegin returns WebAuthn assertion options.
func (h *Handler) BiometricBegin(c *fiber.Ctx) error {
	out, err := h.service.SwitchToBiometric(c.UserContext(), c.Params("flowId"))
	return h.respond(c, out, err)
}

// BiometricFinish takes the raw assertion response as the request body.
func (h *Handler) BiometricFinish(c *fiber.Ctx) error {
	out, err := h.service.FinishBiometric(c.UserContext(), c.Params("flowId"), c.Body())
	return h.respond(c, out, err)
}

func (h *Handler) FederatedPhone(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.service.SubmitFederatedPhone(c.UserContext(), c.Params("flowId"), req.Phone)
	return h.respond(c, out, err)
}

// federatedStateCookie binds a provider round trip to the browser that
// started it.
const federatedStateCookie = "federated_state"

// FederatedStart redirects to the identity provider and pins the state to
// this browser.
func (h *Handler) FederatedStart(c *fiber.Ctx) error {
	target, err := h.service.StartFederated(c.UserContext())
	if err != nil {
		return h.fail(c, Outcome{}, err)
	}
	u, err := url.Parse(target)
	if err != nil || u.Query().Get("state") == "" {
		return fiber.NewError(http.StatusInternalServerError, "internal server error")
	}
	c.Cookie(h.stateCookie(u.Query().Get("state"), time.Now().Add(federated.StateTTL)))
	return c.Redirect(target, http.StatusFound)
}

// FederatedCallback finishes the provider round trip. The state must match
// the cookie set by FederatedStart.
func (h *Handler) FederatedCallback(c *fiber.Ctx) error {
	pinned := c.Cookies(federatedStateCookie)
	c.Cookie(h.stateCookie("", time.Unix(0, 0)))
	if reason := c.Query("error"); reason != "" {
		return fiber.NewError(http.StatusUnauthorized, "sign in was cancelled")
	}
	state := c.Query("state")
	if pinned == "" || subtle.ConstantTimeCompare([]byte(pinned), []byte(state)) != 1 {
		return autherr.HTTP(autherr.ErrChallengeExpiredOrMismatched)
	}
	out, err := h.service.CompleteFederated(c.UserContext(), state, c.Query("code"))
	return h.respond(c, out, err)
}

func (h *Handler) stateCookie(value string, expires time.Time) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     federatedStateCookie,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   h.secure,
	}
}
