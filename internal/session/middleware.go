package session

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/identity"
)

const (
	CookieSession = "session"
	CookieRole    = "role"

	localSubject   = "subject_id"
	localRole      = "role"
	localSession   = "session"
	localSessionID = "session_id"
)

// SetCookies writes the cookie pair for issued.
func SetCookies(c *fiber.Ctx, issued Issued, secure bool) {
	expires := issued.Session.ExpiresAt
	c.Cookie(cookie(CookieSession, issued.SessionToken, expires, secure))
	c.Cookie(cookie(CookieRole, issued.RoleToken, expires, secure))
}

// ClearCookies expires both halves on the client.
func ClearCookies(c *fiber.Ctx, secure bool) {
	past := time.Unix(0, 0)
	c.Cookie(cookie(CookieSession, "", past, secure))
	c.Cookie(cookie(CookieRole, "", past, secure))
}

func cookie(name, value string, expires time.Time, secure bool) *fiber.Cookie {
	return &fiber.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
		Secure:   secure,
	}
}

// RequireSession rejects requests without a live session and exposes the
// subject and role to later handlers.
func RequireSession(svc *Service) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, err := svc.Read(c.UserContext(), c.Cookies(CookieSession), c.Cookies(CookieRole))
		if err != nil {
			return autherr.HTTP(err)
		}
		c.Locals(localSubject, sess.SubjectID)
		c.Locals(localRole, string(sess.Role))
		c.Locals(localSession, sess)
		c.Locals(localSessionID, sess.ID)
		return c.Next()
	}
}

// RequireRole must run after RequireSession.
func RequireRole(roles ...identity.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		role, _ := c.Locals(localRole).(string)
		for _, r := range roles {
			if string(r) == role {
				return c.Next()
			}
		}
		return fiber.NewError(http.StatusForbidden, "not allowed")
	}
}

// SubjectID returns the authenticated account id, or "".
func SubjectID(c *fiber.Ctx) string {
	id, _ := c.Locals(localSubject).(string)
	return id
}

// Current returns the session attached by RequireSession.
func Current(c *fiber.Ctx) (Session, bool) {
	sess, ok := c.Locals(localSession).(Session)
	return sess, ok
}
