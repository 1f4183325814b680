package identity

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryRepository struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

// NewMemoryRepository builds an in-memory account store for tests and
// database-less development.
func NewMemoryRepository() Repository {
	return &memoryRepository{accounts: make(map[string]Account)}
}

// clone detaches slices so callers cannot mutate stored state.
func clone(a Account) Account {
	out := a
	out.Credentials.WebAuthn = append([]WebAuthnCredential(nil), a.Credentials.WebAuthn...)
	if a.Credentials.RecoveryEmail != nil {
		email := *a.Credentials.RecoveryEmail
		out.Credentials.RecoveryEmail = &email
	}
	if a.Agent != nil {
		fields := *a.Agent
		out.Agent = &fields
	}
	if a.Customer != nil {
		fields := *a.Customer
		out.Customer = &fields
	}
	return out
}

func (r *memoryRepository) FindByPhone(_ context.Context, kind Kind, reps []string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		found Account
		ok    bool
	)
	for _, acct := range r.accounts {
		if acct.Kind != kind {
			continue
		}
		for _, rep := range reps {
			if acct.Phone == rep && (!ok || acct.CreatedAt.Before(found.CreatedAt)) {
				found, ok = acct, true
			}
		}
	}
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(found), nil
}

func (r *memoryRepository) FindCustomerByEmail(_ context.Context, email string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, acct := range r.accounts {
		if acct.Customer != nil && acct.Customer.Email != "" && strings.EqualFold(acct.Customer.Email, email) {
			return clone(acct), nil
		}
	}
	return Account{}, ErrNotFound
}

func (r *memoryRepository) Get(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.accounts[id]
	if !ok {
		return Account{}, ErrNotFound
	}
	return clone(acct), nil
}

func (r *memoryRepository) Create(_ context.Context, account Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.accounts {
		if existing.Kind == account.Kind && existing.Phone == account.Phone {
			return ErrPhoneTaken
		}
	}
	if account.UpdatedAt.IsZero() {
		account.UpdatedAt = account.CreatedAt
	}
	r.accounts[account.ID] = clone(account)
	return nil
}

func (r *memoryRepository) Update(_ context.Context, id string, patch Patch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[id]
	if !ok {
		return ErrNotFound
	}
	patch.apply(&acct.Credentials)
	acct.UpdatedAt = patch.At
	r.accounts[id] = acct
	return nil
}

func (r *memoryRepository) AddWebAuthnCredential(_ context.Context, accountID string, cred WebAuthnCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	acct.Credentials.WebAuthn = append(append([]WebAuthnCredential(nil), acct.Credentials.WebAuthn...), cred)
	r.accounts[accountID] = acct
	return nil
}

func (r *memoryRepository) AdvanceSignCount(_ context.Context, accountID string, credentialID []byte, next uint32, usedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	idx := acct.Credentials.FindWebAuthn(credentialID)
	if idx < 0 || !CounterAdvances(acct.Credentials.WebAuthn[idx].SignCount, next) {
		return ErrCounterNotAdvanced
	}
	creds := append([]WebAuthnCredential(nil), acct.Credentials.WebAuthn...)
	creds[idx].SignCount = next
	used := usedAt
	creds[idx].LastUsedAt = &used
	acct.Credentials.WebAuthn = creds
	r.accounts[accountID] = acct
	return nil
}
