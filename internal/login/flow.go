package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/otp"
)

// Flow is the server-side record of one login attempt. It is created when the
// attempt starts and removed when the attempt ends or expires.
type Flow struct {
	ID         string            `json:"id"`
	State      State             `json:"state"`
	Canonical  string            `json:"canonical,omitempty"`
	AccountID  string            `json:"account_id,omitempty"`
	Methods    []identity.Method `json:"methods,omitempty"`
	NewAccount bool              `json:"new_account,omitempty"`
	OtpHandle  otp.Handle        `json:"otp_handle,omitempty"`
	Federated  *identity.Profile `json:"federated,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (f *Flow) apply(e Event) error {
	next, err := Transition(f.State, e)
	if err != nil {
		return err
	}
	f.State = next
	return nil
}

func (f Flow) has(m identity.Method) bool {
	for _, x := range f.Methods {
		if x == m {
			return true
		}
	}
	return false
}

// FlowStore keeps flows in Redis under login:flow:<id>.
type FlowStore struct {
	cache *redis.Client
	ttl   time.Duration
}

func NewFlowStore(cache *redis.Client, ttl time.Duration) *FlowStore {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &FlowStore{cache: cache, ttl: ttl}
}

func flowKey(id string) string { return "login:flow:" + id }

func (s *FlowStore) create(ctx context.Context, f *Flow) error {
	f.ID = ulid.Make().String()
	return s.write(ctx, f, s.ttl)
}

// save keeps the expiry set at creation so a flow cannot be extended by
// stepping through it.
func (s *FlowStore) save(ctx context.Context, f *Flow) error {
	return s.write(ctx, f, redis.KeepTTL)
}

func (s *FlowStore) write(ctx context.Context, f *Flow, ttl time.Duration) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if err := s.cache.Set(ctx, flowKey(f.ID), raw, ttl).Err(); err != nil {
		return fmt.Errorf("store login flow: %w", err)
	}
	return nil
}

// load returns autherr.ErrChallengeExpiredOrMismatched for unknown or expired flows.
func (s *FlowStore) load(ctx context.Context, id string) (Flow, error) {
	if id == "" {
		return Flow{}, autherr.ErrChallengeExpiredOrMismatched
	}
	raw, err := s.cache.Get(ctx, flowKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Flow{}, autherr.ErrChallengeExpiredOrMismatched
	}
	if err != nil {
		return Flow{}, fmt.Errorf("load login flow: %w", err)
	}
	var f Flow
	if err := json.Unmarshal(raw, &f); err != nil {
		return Flow{}, fmt.Errorf("decode login flow: %w", err)
	}
	return f, nil
}

func (s *FlowStore) delete(ctx context.Context, id string) error {
	return s.cache.Del(ctx, flowKey(id)).Err()
}
