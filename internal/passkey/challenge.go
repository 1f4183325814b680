package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/redis/go-redis/v9"
)

// Purpose says which ceremony a challenge belongs to.
type Purpose string

const (
	PurposeRegistration   Purpose = "registration"
	PurposeAuthentication Purpose = "authentication"
)

// ErrNoChallenge is returned when no live challenge exists for a subject and purpose.
var ErrNoChallenge = errors.New("passkey: no live challenge")

// Challenge is the server-held half of a ceremony.
type Challenge struct {
	SubjectID string               `json:"subject_id"`
	Purpose   Purpose              `json:"purpose"`
	Session   webauthn.SessionData `json:"session"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// ChallengeStore keeps at most one live challenge per subject and purpose.
// Starting a new ceremony replaces the previous challenge.
type ChallengeStore struct {
	cache *redis.Client
	ttl   time.Duration
	now   func() time.Time
}

// NewChallengeStore returns a Redis-backed store.
func NewChallengeStore(cache *redis.Client, ttl time.Duration) *ChallengeStore {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &ChallengeStore{cache: cache, ttl: ttl, now: func() time.Time { return time.Now().UTC() }}
}

func challengeKey(purpose Purpose, subjectID string) string {
	return fmt.Sprintf("webauthn:challenge:%s:%s", purpose, subjectID)
}

// Put stores session for subject and purpose.
func (s *ChallengeStore) Put(ctx context.Context, subjectID string, purpose Purpose, session webauthn.SessionData) error {
	ch := Challenge{SubjectID: subjectID, Purpose: purpose, Session: session, ExpiresAt: s.now().Add(s.ttl)}
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	return s.cache.Set(ctx, challengeKey(purpose, subjectID), payload, s.ttl).Err()
}

// Consume removes and returns the challenge. Expired or foreign challenges
// yield ErrNoChallenge.
func (s *ChallengeStore) Consume(ctx context.Context, subjectID string, purpose Purpose) (Challenge, error) {
	raw, err := s.cache.GetDel(ctx, challengeKey(purpose, subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Challenge{}, ErrNoChallenge
	}
	if err != nil {
		return Challenge{}, fmt.Errorf("load challenge: %w", err)
	}
	var ch Challenge
	if err := json.Unmarshal(raw, &ch); err != nil {
		return Challenge{}, fmt.Errorf("decode challenge: %w", err)
	}
	if ch.SubjectID != subjectID || ch.Purpose != purpose || !s.now().Before(ch.ExpiresAt) {
		return Challenge{}, ErrNoChallenge
	}
	return ch, nil
}
