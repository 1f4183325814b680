package credential

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Hasher produces salted slow hashes for passwords and MPINs.
type Hasher struct {
	cost int
}

// NewHasher returns a bcrypt hasher. A cost outside bcrypt's range falls back to the default.
func NewHasher(cost int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Hasher{cost: cost}
}

// Hash derives a storable hash of secret.
func (h *Hasher) Hash(secret string) ([]byte, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost)
	if err != nil {
		return nil, fmt.Errorf("hash secret: %w", err)
	}
	return hash, nil
}

// Verify reports whether presented matches stored. Nothing is hashed when no
// secret was ever stored.
func Verify(stored []byte, presented string) bool {
	if len(stored) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(stored, []byte(presented)) == nil
}
