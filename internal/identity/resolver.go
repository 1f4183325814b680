package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumen-trade/signin/internal/phone"
)

// Resolver maps a phone number to at most one account.
type Resolver struct {
	repo   Repository
	policy phone.Policy
}

// NewResolver constructs a resolver over repo.
func NewResolver(repo Repository, policy phone.Policy) *Resolver {
	return &Resolver{repo: repo, policy: policy}
}

// Resolve canonicalizes raw and looks it up. Malformed input is a validation
// error; an unknown number is Exists=false.
func (r *Resolver) Resolve(ctx context.Context, raw string) (Resolution, error) {
	canonical, err := r.policy.Canonicalize(raw)
	if err != nil {
		return Resolution{}, err
	}
	return r.ResolveCanonical(ctx, canonical)
}

// ResolveCanonical searches each partition in PartitionPrecedence order.
func (r *Resolver) ResolveCanonical(ctx context.Context, canonical string) (Resolution, error) {
	reps := r.policy.Representations(canonical)
	for _, kind := range PartitionPrecedence {
		acct, err := r.repo.FindByPhone(ctx, kind, reps)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return Resolution{}, fmt.Errorf("lookup %s partition: %w", kind, err)
		}
		return Resolution{
			Exists:      true,
			Account:     acct,
			Canonical:   canonical,
			Methods:     acct.Credentials.Methods(),
			Preferences: acct.Credentials.Preferences,
		}, nil
	}
	return Resolution{Canonical: canonical}, nil
}

// Policy exposes the numbering plan in use.
func (r *Resolver) Policy() phone.Policy { return r.policy }
