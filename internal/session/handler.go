package session

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/autherr"
)

// Handler exposes session endpoints.
type Handler struct {
	svc    *Service
	secure bool
}

func NewHandler(svc *Service, secure bool) *Handler {
	return &Handler{svc: svc, secure: secure}
}

// Current describes the signed-in session.
func (h *Handler) Current(c *fiber.Ctx) error {
	sess, ok := Current(c)
	if !ok {
		return autherr.HTTP(autherr.ErrUnauthorized)
	}
	return c.Status(http.StatusOK).JSON(sess)
}

// Logout revokes the session if one is presented and clears both cookies.
// Calling it without a live session is not an error. When the registry
// cannot be reached the cookies are kept and the call fails, so the client
// never believes a still-live session is gone.
func (h *Handler) Logout(c *fiber.Ctx) error {
	sess, err := h.svc.Read(c.UserContext(), c.Cookies(CookieSession), c.Cookies(CookieRole))
	switch {
	case err == nil:
		if err := h.svc.Revoke(c.UserContext(), sess); err != nil {
			return autherr.HTTP(err)
		}
	case !errors.Is(err, autherr.ErrUnauthorized):
		return autherr.HTTP(err)
	}
	ClearCookies(c, h.secure)
	return c.Status(http.StatusOK).JSON(fiber.Map{"status": "logged_out"})
}
