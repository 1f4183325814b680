package credential

import (
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/lumen-trade/signin/internal/autherr"
)

func TestHashVerifyRoundTrip(t *testing.T) {
	h := NewHasher(bcrypt.MinCost)
	for _, secret := range []string{"correct horse", "1234", "905612"} {
		hash, err := h.Hash(secret)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		if !Verify(hash, secret) {
			t.Fatalf("expected %q to verify", secret)
		}
		if Verify(hash, secret+"x") {
			t.Fatalf("expected mismatch for altered %q", secret)
		}
	}
}

func TestVerifyWithoutStoredSecret(t *testing.T) {
	if Verify(nil, "anything") {
		t.Fatalf("empty store must never verify")
	}
	if Verify([]byte{}, "") {
		t.Fatalf("empty store must never verify empty input")
	}
}

func TestNewHasherClampsCost(t *testing.T) {
	if NewHasher(99).cost != bcrypt.DefaultCost {
		t.Fatalf("expected default cost for out-of-range input")
	}
}

func TestValidation(t *testing.T) {
	if err := ValidatePassword("short"); !autherr.IsValidation(err) {
		t.Fatalf("expected short password rejected")
	}
	if err := ValidatePassword("long enough"); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
	for _, pin := range []string{"123", "1234567", "12a4", ""} {
		if err := ValidateMpin(pin); !autherr.IsValidation(err) {
			t.Fatalf("expected %q rejected", pin)
		}
	}
	for _, pin := range []string{"1234", "123456"} {
		if err := ValidateMpin(pin); err != nil {
			t.Fatalf("expected %q accepted: %v", pin, err)
		}
	}
	email, err := ValidateEmail("  Ops@Example.COM ")
	if err != nil || email != "ops@example.com" {
		t.Fatalf("email = %q, err = %v", email, err)
	}
	if _, err := ValidateEmail("not-an-email"); !autherr.IsValidation(err) {
		t.Fatalf("expected invalid email rejected")
	}
}
