package federated

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/lumen-trade/signin/internal/autherr"
)

// StateTTL bounds how long a consent redirect may take.
const StateTTL = 10 * time.Minute

// StateStore keeps the PKCE verifier for each outstanding state value.
type StateStore struct {
	cache *redis.Client
	ttl   time.Duration
}

func NewStateStore(cache *redis.Client) *StateStore {
	return &StateStore{cache: cache, ttl: StateTTL}
}

func stateKey(state string) string { return "federated:state:" + state }

// Begin mints a state value and verifier pair and remembers the verifier.
func (s *StateStore) Begin(ctx context.Context) (state, verifier string, err error) {
	state = oauth2.GenerateVerifier()
	verifier = oauth2.GenerateVerifier()
	if err := s.cache.Set(ctx, stateKey(state), verifier, s.ttl).Err(); err != nil {
		return "", "", fmt.Errorf("store federated state: %w", err)
	}
	return state, verifier, nil
}

// Consume returns the verifier for state exactly once.
func (s *StateStore) Consume(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", autherr.ErrChallengeExpiredOrMismatched
	}
	verifier, err := s.cache.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return "", autherr.ErrChallengeExpiredOrMismatched
	}
	if err != nil {
		return "", fmt.Errorf("load federated state: %w", err)
	}
	return verifier, nil
}
