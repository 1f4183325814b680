package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Profile is the identity a federated provider vouches for.
type Profile struct {
	Email       string
	DisplayName string
	PhotoURL    string
}

// Service manages account lifecycle.
type Service struct {
	repo     Repository
	resolver *Resolver
	now      func() time.Time
}

// NewService creates a new identity service.
func NewService(repo Repository, resolver *Resolver) *Service {
	return &Service{repo: repo, resolver: resolver, now: func() time.Time { return time.Now().UTC() }}
}

// Resolver returns the phone resolver backing the service.
func (s *Service) Resolver() *Resolver { return s.resolver }

// Get fetches an account by id.
func (s *Service) Get(ctx context.Context, id string) (Account, error) {
	return s.repo.Get(ctx, id)
}

// FindCustomerByEmail looks up a customer by their profile email.
func (s *Service) FindCustomerByEmail(ctx context.Context, email string) (Account, bool, error) {
	acct, err := s.repo.FindCustomerByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return Account{}, false, nil
	}
	if err != nil {
		return Account{}, false, err
	}
	return acct, true, nil
}

// EnsureFromOTP returns the account owning a phone number that was just
// proven by OTP, creating a pending customer when none exists.
func (s *Service) EnsureFromOTP(ctx context.Context, canonical string) (Account, bool, error) {
	res, err := s.resolver.ResolveCanonical(ctx, canonical)
	if err != nil {
		return Account{}, false, err
	}
	if res.Exists {
		return res.Account, false, nil
	}
	acct := s.newCustomer(canonical, Profile{})
	if err := s.repo.Create(ctx, acct); err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			// lost a concurrent signup for the same number
			res, err := s.resolver.ResolveCanonical(ctx, canonical)
			if err != nil {
				return Account{}, false, err
			}
			if res.Exists {
				return res.Account, false, nil
			}
		}
		return Account{}, false, fmt.Errorf("create customer: %w", err)
	}
	return acct, true, nil
}

// CreateFromFederated creates a pending customer for a federated sign-up. The
// phone number must not already belong to an account.
func (s *Service) CreateFromFederated(ctx context.Context, canonical string, profile Profile) (Account, error) {
	res, err := s.resolver.ResolveCanonical(ctx, canonical)
	if err != nil {
		return Account{}, err
	}
	if res.Exists {
		return Account{}, ErrPhoneTaken
	}
	acct := s.newCustomer(canonical, profile)
	if err := s.repo.Create(ctx, acct); err != nil {
		return Account{}, err
	}
	return acct, nil
}

func (s *Service) newCustomer(canonical string, profile Profile) Account {
	now := s.now()
	return Account{
		ID:          uuid.New().String(),
		Kind:        KindCustomer,
		Phone:       canonical,
		DisplayName: profile.DisplayName,
		Status:      StatusPending,
		Customer: &CustomerFields{
			Email:               profile.Email,
			PhotoURL:            profile.PhotoURL,
			PriceAccessApproved: false,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}
