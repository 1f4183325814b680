package posture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/redis/go-redis/v9"

	"github.com/lumen-trade/signin/internal/audit"
	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/credential"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/otp"
)

// CodeGateway sends and confirms one-time codes.
type CodeGateway interface {
	Send(ctx context.Context, destination string) (otp.Handle, error)
	Confirm(ctx context.Context, handle otp.Handle, code string) (bool, error)
}

// PasskeyRegistrar runs WebAuthn registration ceremonies.
type PasskeyRegistrar interface {
	BeginRegistration(ctx context.Context, subjectID string) (*protocol.CredentialCreation, error)
	FinishRegistration(ctx context.Context, subjectID string, body []byte) (identity.WebAuthnCredential, error)
}

// Enrollment writes credentials for a signed-in account. Every operation
// validates its input before touching storage and overwrites the field it
// owns along with that field's timestamp.
type Enrollment struct {
	repo     identity.Repository
	hasher   *credential.Hasher
	email    CodeGateway
	passkeys PasskeyRegistrar
	cache    *redis.Client
	pendingT time.Duration
	sink     audit.Sink
	logger   *slog.Logger
	clock    func() time.Time
}

// EnrollmentDeps groups Enrollment collaborators.
type EnrollmentDeps struct {
	Repo       identity.Repository
	Hasher     *credential.Hasher
	EmailCodes CodeGateway
	Passkeys   PasskeyRegistrar
	Cache      *redis.Client
	PendingTTL time.Duration
	Sink       audit.Sink
	Logger     *slog.Logger
}

func NewEnrollment(deps EnrollmentDeps) *Enrollment {
	ttl := deps.PendingTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Enrollment{
		repo:     deps.Repo,
		hasher:   deps.Hasher,
		email:    deps.EmailCodes,
		passkeys: deps.Passkeys,
		cache:    deps.Cache,
		pendingT: ttl,
		sink:     deps.Sink,
		logger:   deps.Logger,
		clock:    func() time.Time { return time.Now().UTC() },
	}
}

// Posture audits the stored credentials of an existing account.
func (e *Enrollment) Posture(ctx context.Context, subjectID string) (Report, error) {
	acct, err := e.repo.Get(ctx, subjectID)
	if err != nil {
		return Report{}, fmt.Errorf("load account: %w", err)
	}
	return Audit(acct, false), nil
}

// SetPassword replaces the password hash.
func (e *Enrollment) SetPassword(ctx context.Context, subjectID, password string) error {
	if err := credential.ValidatePassword(password); err != nil {
		return err
	}
	hash, err := e.hasher.Hash(password)
	if err != nil {
		return err
	}
	if err := e.repo.Update(ctx, subjectID, identity.Patch{PasswordHash: hash, At: e.clock()}); err != nil {
		return fmt.Errorf("store password: %w", err)
	}
	e.enrolled(ctx, subjectID, identity.MethodPassword)
	return nil
}

// SetMpin replaces the MPIN hash.
func (e *Enrollment) SetMpin(ctx context.Context, subjectID, pin string) error {
	if err := credential.ValidateMpin(pin); err != nil {
		return err
	}
	hash, err := e.hasher.Hash(pin)
	if err != nil {
		return err
	}
	if err := e.repo.Update(ctx, subjectID, identity.Patch{MpinHash: hash, At: e.clock()}); err != nil {
		return fmt.Errorf("store mpin: %w", err)
	}
	e.enrolled(ctx, subjectID, identity.MethodMpin)
	return nil
}

func pendingKey(subjectID string) string { return "recovery:pending:" + subjectID }

// pendingVerification binds an outstanding code to the address it was sent to.
type pendingVerification struct {
	Handle  otp.Handle `json:"handle"`
	Address string     `json:"address"`
}

// SetRecoveryEmail stores address unverified and sends it a verification code.
// Any code outstanding for a previous address is discarded first.
func (e *Enrollment) SetRecoveryEmail(ctx context.Context, subjectID, address string) error {
	normalized, err := credential.ValidateEmail(address)
	if err != nil {
		return err
	}
	if err := e.cache.Del(ctx, pendingKey(subjectID)).Err(); err != nil {
		return fmt.Errorf("discard verification handle: %w", err)
	}
	if err := e.repo.Update(ctx, subjectID, identity.Patch{
		RecoveryEmail: &identity.RecoveryEmail{Address: normalized},
		At:            e.clock(),
	}); err != nil {
		return fmt.Errorf("store recovery email: %w", err)
	}
	handle, err := e.email.Send(ctx, normalized)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(pendingVerification{Handle: handle, Address: normalized})
	if err != nil {
		return err
	}
	if err := e.cache.Set(ctx, pendingKey(subjectID), raw, e.pendingT).Err(); err != nil {
		return fmt.Errorf("store verification handle: %w", err)
	}
	return nil
}

// ConfirmRecoveryEmail marks the stored recovery address verified when code
// matches the one most recently sent to that same address.
func (e *Enrollment) ConfirmRecoveryEmail(ctx context.Context, subjectID, code string) error {
	if code == "" {
		return autherr.Invalid("code", "enter the code we emailed you")
	}
	raw, err := e.cache.Get(ctx, pendingKey(subjectID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return autherr.ErrChallengeExpiredOrMismatched
	}
	if err != nil {
		return fmt.Errorf("load verification handle: %w", err)
	}
	var pending pendingVerification
	if err := json.Unmarshal(raw, &pending); err != nil || pending.Handle == "" {
		return autherr.ErrChallengeExpiredOrMismatched
	}
	ok, err := e.email.Confirm(ctx, pending.Handle, code)
	if err != nil {
		return err
	}
	if !ok {
		return autherr.ErrInvalidCredential
	}
	acct, err := e.repo.Get(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("load account: %w", err)
	}
	stored := acct.Credentials.RecoveryEmail
	if stored == nil || stored.Address != pending.Address {
		return autherr.ErrChallengeExpiredOrMismatched
	}
	now := e.clock()
	if err := e.repo.Update(ctx, subjectID, identity.Patch{
		RecoveryEmail: &identity.RecoveryEmail{Address: pending.Address, Verified: true, VerifiedAt: &now},
		At:            now,
	}); err != nil {
		return fmt.Errorf("verify recovery email: %w", err)
	}
	if err := e.cache.Del(ctx, pendingKey(subjectID)).Err(); err != nil && e.logger != nil {
		e.logger.Warn("discard verification handle", slog.String("subject_id", subjectID), slog.Any("error", err))
	}
	e.enrolled(ctx, subjectID, identity.Method("recovery_email"))
	return nil
}

// BeginWebAuthnRegistration starts a passkey registration ceremony.
func (e *Enrollment) BeginWebAuthnRegistration(ctx context.Context, subjectID string) (*protocol.CredentialCreation, error) {
	return e.passkeys.BeginRegistration(ctx, subjectID)
}

// FinishWebAuthnRegistration stores the attested credential.
func (e *Enrollment) FinishWebAuthnRegistration(ctx context.Context, subjectID string, body []byte) (identity.WebAuthnCredential, error) {
	if len(body) == 0 {
		return identity.WebAuthnCredential{}, autherr.Invalid("credential", "authenticator response is required")
	}
	return e.passkeys.FinishRegistration(ctx, subjectID, body)
}

// SetPreferences overlays the given opt-out flags.
func (e *Enrollment) SetPreferences(ctx context.Context, subjectID string, prefs identity.AuthPreferences) error {
	if prefs.PasswordLoginEnabled == nil && prefs.BiometricLoginEnabled == nil && prefs.MpinLoginEnabled == nil {
		return autherr.Invalid("preferences", "nothing to update")
	}
	if err := e.repo.Update(ctx, subjectID, identity.Patch{Preferences: &prefs, At: e.clock()}); err != nil {
		return fmt.Errorf("store preferences: %w", err)
	}
	return nil
}

func (e *Enrollment) enrolled(ctx context.Context, subjectID string, m identity.Method) {
	audit.Emit(ctx, e.sink, audit.TypeCredentialEnrolled, subjectID, map[string]string{"method": string(m)})
	if e.logger != nil {
		e.logger.Info("credential enrolled", slog.String("subject_id", subjectID), slog.String("method", string(m)))
	}
}
