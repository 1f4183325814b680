package identity

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
	subject func(*fiber.Ctx) string
}

// NewHandler constructs an identity HTTP handler. subject extracts the
// authenticated account id placed on the request by the session middleware.
func NewHandler(service *Service, subject func(*fiber.Ctx) string) *Handler {
	return &Handler{service: service, subject: subject}
}

type profileResponse struct {
	ID                  string          `json:"id"`
	Kind                Kind            `json:"kind"`
	Role                Role            `json:"role"`
	Phone               string          `json:"phone"`
	DisplayName         string          `json:"display_name,omitempty"`
	Status              Status          `json:"status"`
	Methods             []Method        `json:"methods"`
	Preferences         AuthPreferences `json:"preferences"`
	RecoveryEmail       string          `json:"recovery_email,omitempty"`
	RecoveryVerified    bool            `json:"recovery_email_verified"`
	Email               string          `json:"email,omitempty"`
	PhotoURL            string          `json:"photo_url,omitempty"`
	PriceAccessApproved *bool           `json:"price_access_approved,omitempty"`
	Region              string          `json:"region,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// Me returns the signed-in account's profile and enrolled methods.
func (h *Handler) Me(c *fiber.Ctx) error {
	id := h.subject(c)
	if id == "" {
		return fiber.NewError(http.StatusUnauthorized, "sign in required")
	}
	acct, err := h.service.Get(c.UserContext(), id)
	if errors.Is(err, ErrNotFound) {
		return fiber.NewError(http.StatusUnauthorized, "sign in required")
	}
	if err != nil {
		return fiber.NewError(http.StatusInternalServerError, "something went wrong, please try again")
	}
	resp := profileResponse{
		ID:          acct.ID,
		Kind:        acct.Kind,
		Role:        acct.Role(),
		Phone:       acct.Phone,
		DisplayName: acct.DisplayName,
		Status:      acct.Status,
		Methods:     acct.Credentials.Methods(),
		Preferences: acct.Credentials.Preferences,
		CreatedAt:   acct.CreatedAt,
	}
	if resp.Methods == nil {
		resp.Methods = []Method{}
	}
	if email := acct.Credentials.RecoveryEmail; email != nil {
		resp.RecoveryEmail = email.Address
		resp.RecoveryVerified = email.Verified
	}
	if acct.Customer != nil {
		approved := acct.Customer.PriceAccessApproved
		resp.Email = acct.Customer.Email
		resp.PhotoURL = acct.Customer.PhotoURL
		resp.PriceAccessApproved = &approved
	}
	if acct.Agent != nil {
		resp.Region = acct.Agent.Region
	}
	return c.Status(http.StatusOK).JSON(resp)
}
