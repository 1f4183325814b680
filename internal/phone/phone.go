package phone

import (
	"strings"

	"github.com/lumen-trade/signin/internal/autherr"
)

// Policy describes the single-country numbering plan the service accepts.
type Policy struct {
	CountryCode    string
	NationalLength int
}

// DefaultPolicy is the Indian numbering plan.
var DefaultPolicy = Policy{CountryCode: "91", NationalLength: 10}

// Canonicalize reduces raw input to the national significant number.
// Non-digits are stripped and a leading country code is dropped when the
// remainder would otherwise be too long. Applying it to its own output is a no-op.
func (p Policy) Canonicalize(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) > p.NationalLength && strings.HasPrefix(digits, p.CountryCode) {
		digits = strings.TrimPrefix(digits, p.CountryCode)
	}
	// trunk prefix, e.g. 0XXXXXXXXXX
	if len(digits) == p.NationalLength+1 && digits[0] == '0' {
		digits = digits[1:]
	}
	if len(digits) != p.NationalLength {
		return "", autherr.Invalid("phone", "enter a valid phone number")
	}
	return digits, nil
}

// Representations lists the stored forms a canonical number may appear in.
func (p Policy) Representations(canonical string) []string {
	return []string{canonical, p.CountryCode + canonical, "+" + p.CountryCode + canonical}
}

// E164 renders canonical for SMS delivery.
func (p Policy) E164(canonical string) string {
	return "+" + p.CountryCode + canonical
}

// Mask hides all but the last four digits.
func Mask(number string) string {
	if len(number) <= 4 {
		return strings.Repeat("*", len(number))
	}
	return strings.Repeat("*", len(number)-4) + number[len(number)-4:]
}
