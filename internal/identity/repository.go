package identity

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by lookups that match nothing.
	ErrNotFound = errors.New("account not found")
	// ErrPhoneTaken is returned when a create collides with an existing phone.
	ErrPhoneTaken = errors.New("phone number already registered")
	// ErrCounterNotAdvanced is returned when a signature counter update loses
	// the compare-and-set.
	ErrCounterNotAdvanced = errors.New("signature counter did not advance")
)

// Repository persists accounts across the agent and customer partitions.
type Repository interface {
	// FindByPhone matches any of reps exactly within one partition.
	FindByPhone(ctx context.Context, kind Kind, reps []string) (Account, error)
	FindCustomerByEmail(ctx context.Context, email string) (Account, error)
	Get(ctx context.Context, id string) (Account, error)
	Create(ctx context.Context, account Account) error
	Update(ctx context.Context, id string, patch Patch) error
	AddWebAuthnCredential(ctx context.Context, accountID string, cred WebAuthnCredential) error
	// AdvanceSignCount stores next only if it is strictly greater than the stored
	// counter, or both are zero. The comparison and the write are one operation.
	AdvanceSignCount(ctx context.Context, accountID string, credentialID []byte, next uint32, usedAt time.Time) error
}

// CounterAdvances is the monotonicity rule applied by AdvanceSignCount.
// 0/0 is accepted on every use, not just the first: many platform
// authenticators never increment, so their counter stays 0 for life. Once a
// credential has reported a non-zero counter it can never fall back to 0,
// which keeps a cloned counter-bearing authenticator detectable.
func CounterAdvances(stored, next uint32) bool {
	return next > stored || (stored == 0 && next == 0)
}
