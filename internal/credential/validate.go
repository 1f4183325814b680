package credential

import (
	"regexp"
	"strings"

	"github.com/lumen-trade/signin/internal/autherr"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72 // bcrypt input limit
)

var (
	mpinPattern  = regexp.MustCompile(`^\d{4,6}$`)
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// ValidatePassword checks length bounds.
func ValidatePassword(password string) error {
	if len(password) < minPasswordLength {
		return autherr.Invalid("password", "password must be at least 8 characters")
	}
	if len(password) > maxPasswordLength {
		return autherr.Invalid("password", "password must be at most 72 characters")
	}
	return nil
}

// ValidateMpin requires 4 to 6 digits.
func ValidateMpin(pin string) error {
	if !mpinPattern.MatchString(pin) {
		return autherr.Invalid("mpin", "MPIN must be 4 to 6 digits")
	}
	return nil
}

// ValidateEmail performs a shape check and returns the normalized address.
func ValidateEmail(email string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(email))
	if !emailPattern.MatchString(normalized) {
		return "", autherr.Invalid("email", "enter a valid email address")
	}
	return normalized, nil
}
