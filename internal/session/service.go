package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/audit"
	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/metrics"
)

// Lifetime is fixed: every session expires seven days after issuance.
const Lifetime = 7 * 24 * time.Hour

const (
	audienceSession = "session"
	audienceRole    = "role"
)

// Session binds a subject to a role for Lifetime. The role never changes
// while the session lives.
type Session struct {
	ID        string        `json:"id"`
	SubjectID string        `json:"subject_id"`
	Role      identity.Role `json:"role"`
	IssuedAt  time.Time     `json:"issued_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Issued is a session plus the two signed cookie values that carry it.
type Issued struct {
	Session      Session
	SessionToken string
	RoleToken    string
}

type subjectClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

type roleClaims struct {
	Role      string `json:"role"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Service issues, reads and revokes sessions. Redis is the registry of live
// sessions; the cookies only reference it.
type Service struct {
	cache   *redis.Client
	secret  []byte
	sink    audit.Sink
	metrics *metrics.Metrics
	clock   func() time.Time
}

// NewService builds a session issuer signing cookies with secret.
func NewService(cache *redis.Client, secret string, sink audit.Sink, m *metrics.Metrics) *Service {
	return &Service{
		cache:   cache,
		secret:  []byte(secret),
		sink:    sink,
		metrics: m,
		clock:   func() time.Time { return time.Now().UTC() },
	}
}

func registryKey(id string) string { return "session:" + id }

// Issue creates a session for subjectID with role.
func (s *Service) Issue(ctx context.Context, subjectID string, role identity.Role) (Issued, error) {
	if subjectID == "" {
		return Issued{}, errors.New("session: subject is required")
	}
	if _, ok := identity.ParseRole(string(role)); !ok {
		return Issued{}, fmt.Errorf("session: unknown role %q", role)
	}
	now := s.clock().Truncate(time.Second)
	sess := Session{
		ID:        ulid.Make().String(),
		SubjectID: subjectID,
		Role:      role,
		IssuedAt:  now,
		ExpiresAt: now.Add(Lifetime),
	}
	sessionToken, err := s.sign(subjectClaims{
		SessionID:        sess.ID,
		RegisteredClaims: s.registered(sess, subjectID, audienceSession),
	})
	if err != nil {
		return Issued{}, err
	}
	roleToken, err := s.sign(roleClaims{
		Role:             string(role),
		SessionID:        sess.ID,
		RegisteredClaims: s.registered(sess, "", audienceRole),
	})
	if err != nil {
		return Issued{}, err
	}
	record, err := json.Marshal(sess)
	if err != nil {
		return Issued{}, err
	}
	if err := s.cache.Set(ctx, registryKey(sess.ID), record, Lifetime).Err(); err != nil {
		return Issued{}, fmt.Errorf("store session: %w", err)
	}
	s.metrics.SessionIssued(string(role))
	return Issued{Session: sess, SessionToken: sessionToken, RoleToken: roleToken}, nil
}

func (s *Service) registered(sess Session, subject, audience string) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		ID:        sess.ID,
		Subject:   subject,
		Audience:  jwt.ClaimStrings{audience},
		IssuedAt:  jwt.NewNumericDate(sess.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
	}
}

func (s *Service) sign(claims jwt.Claims) (string, error) {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

func (s *Service) parse(token string, claims jwt.Claims, audience string) error {
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock),
	)
	return err
}

// Read validates both cookie halves and returns the live session. Anything
// missing, mismatched, revoked or past ExpiresAt is autherr.ErrUnauthorized.
func (s *Service) Read(ctx context.Context, sessionToken, roleToken string) (Session, error) {
	if sessionToken == "" || roleToken == "" {
		return Session{}, autherr.ErrUnauthorized
	}
	var sc subjectClaims
	if err := s.parse(sessionToken, &sc, audienceSession); err != nil {
		return Session{}, autherr.ErrUnauthorized
	}
	var rc roleClaims
	if err := s.parse(roleToken, &rc, audienceRole); err != nil {
		return Session{}, autherr.ErrUnauthorized
	}
	if sc.SessionID == "" || sc.SessionID != rc.SessionID {
		return Session{}, autherr.ErrUnauthorized
	}
	raw, err := s.cache.Get(ctx, registryKey(sc.SessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, autherr.ErrUnauthorized
	}
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if sess.SubjectID != sc.Subject || string(sess.Role) != rc.Role {
		return Session{}, autherr.ErrUnauthorized
	}
	if !s.clock().Before(sess.ExpiresAt) {
		return Session{}, autherr.ErrUnauthorized
	}
	return sess, nil
}

// Revoke removes the registry record in a single command, which invalidates
// both cookie halves at once.
func (s *Service) Revoke(ctx context.Context, sess Session) error {
	if err := s.cache.Del(ctx, registryKey(sess.ID)).Err(); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	audit.Emit(ctx, s.sink, audit.TypeSessionRevoked, sess.SubjectID, map[string]string{"session_id": sess.ID})
	return nil
}
