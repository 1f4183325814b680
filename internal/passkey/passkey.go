package passkey

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/lumen-trade/signin/internal/audit"
	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/metrics"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPID          string
	RPDisplayName string
	RPOrigins     []string
}

type provider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

type parser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultParser struct{}

func (defaultParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

// Service runs registration and authentication ceremonies against the
// account store. Challenges are always read from server state.
type Service struct {
	webauthn   provider
	parser     parser
	challenges *ChallengeStore
	repo       identity.Repository
	sink       audit.Sink
	metrics    *metrics.Metrics
	logger     *slog.Logger
	clock      func() time.Time
}

// NewService configures the relying party.
func NewService(cfg Config, repo identity.Repository, challenges *ChallengeStore, sink audit.Sink, m *metrics.Metrics, logger *slog.Logger) (*Service, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPID:          cfg.RPID,
		RPDisplayName: cfg.RPDisplayName,
		RPOrigins:     cfg.RPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("configure webauthn: %w", err)
	}
	return &Service{
		webauthn:   wa,
		parser:     defaultParser{},
		challenges: challenges,
		repo:       repo,
		sink:       sink,
		metrics:    m,
		logger:     logger,
		clock:      func() time.Time { return time.Now().UTC() },
	}, nil
}

type user struct {
	account     identity.Account
	credentials []webauthn.Credential
}

func newUser(acct identity.Account) *user {
	creds := make([]webauthn.Credential, 0, len(acct.Credentials.WebAuthn))
	for _, c := range acct.Credentials.WebAuthn {
		creds = append(creds, toLibrary(c))
	}
	return &user{account: acct, credentials: creds}
}

func (u *user) WebAuthnID() []byte   { return []byte(u.account.ID) }
func (u *user) WebAuthnName() string { return u.account.Phone }

func (u *user) WebAuthnDisplayName() string {
	if u.account.DisplayName != "" {
		return u.account.DisplayName
	}
	return u.account.Phone
}

func (u *user) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func toLibrary(c identity.WebAuthnCredential) webauthn.Credential {
	transports := make([]protocol.AuthenticatorTransport, 0, len(c.Transports))
	for _, t := range c.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}
	return webauthn.Credential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AttestationType: c.AttestationType,
		Transport:       transports,
		Flags: webauthn.CredentialFlags{
			UserPresent:    true,
			BackupEligible: c.BackupEligible,
			BackupState:    c.BackupState,
		},
		Authenticator: webauthn.Authenticator{AAGUID: c.AAGUID, SignCount: c.SignCount},
	}
}

func fromLibrary(c *webauthn.Credential, at time.Time) identity.WebAuthnCredential {
	transports := make([]string, 0, len(c.Transport))
	for _, t := range c.Transport {
		transports = append(transports, string(t))
	}
	return identity.WebAuthnCredential{
		ID:              c.ID,
		PublicKey:       c.PublicKey,
		AAGUID:          c.Authenticator.AAGUID,
		AttestationType: c.AttestationType,
		SignCount:       c.Authenticator.SignCount,
		Transports:      transports,
		BackupEligible:  c.Flags.BackupEligible,
		BackupState:     c.Flags.BackupState,
		CreatedAt:       at,
	}
}

// BeginRegistration issues creation options for a new authenticator.
func (s *Service) BeginRegistration(ctx context.Context, subjectID string) (*protocol.CredentialCreation, error) {
	acct, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	u := newUser(acct)
	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.CrossPlatform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationPreferred,
		}),
	}
	if len(u.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(u.credentials).CredentialDescriptors()))
	}
	creation, session, err := s.webauthn.BeginRegistration(u, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}
	if err := s.challenges.Put(ctx, acct.ID, PurposeRegistration, *session); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return creation, nil
}

// FinishRegistration verifies an attestation against the subject's live
// registration challenge and stores the new credential. Biometric login is
// switched on as part of enrollment.
func (s *Service) FinishRegistration(ctx context.Context, subjectID string, body []byte) (identity.WebAuthnCredential, error) {
	ch, err := s.challenges.Consume(ctx, subjectID, PurposeRegistration)
	if errors.Is(err, ErrNoChallenge) {
		return identity.WebAuthnCredential{}, autherr.ErrChallengeExpiredOrMismatched
	}
	if err != nil {
		return identity.WebAuthnCredential{}, err
	}
	acct, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		return identity.WebAuthnCredential{}, fmt.Errorf("load account: %w", err)
	}
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return identity.WebAuthnCredential{}, autherr.Invalid("credential", "malformed authenticator response")
	}
	created, err := s.webauthn.CreateCredential(newUser(acct), ch.Session, parsed)
	if err != nil {
		if s.logger != nil {
			s.logger.Info("passkey registration rejected", slog.String("subject_id", subjectID), slog.Any("error", err))
		}
		return identity.WebAuthnCredential{}, autherr.ErrInvalidCredential
	}
	now := s.clock()
	cred := fromLibrary(created, now)
	if err := s.repo.AddWebAuthnCredential(ctx, acct.ID, cred); err != nil {
		return identity.WebAuthnCredential{}, fmt.Errorf("store credential: %w", err)
	}
	on := true
	if err := s.repo.Update(ctx, acct.ID, identity.Patch{Preferences: &identity.AuthPreferences{BiometricLoginEnabled: &on}, At: now}); err != nil {
		return identity.WebAuthnCredential{}, fmt.Errorf("enable biometric login: %w", err)
	}
	audit.Emit(ctx, s.sink, audit.TypeCredentialEnrolled, acct.ID, map[string]string{"method": string(identity.MethodBiometric)})
	return cred, nil
}

// BeginLogin issues assertion options restricted to the subject's credentials.
func (s *Service) BeginLogin(ctx context.Context, subjectID string) (*protocol.CredentialAssertion, error) {
	acct, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	u := newUser(acct)
	if len(u.credentials) == 0 {
		return nil, autherr.ErrInvalidCredential
	}
	assertion, session, err := s.webauthn.BeginLogin(u,
		webauthn.WithAllowedCredentials(webauthn.Credentials(u.credentials).CredentialDescriptors()),
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		return nil, fmt.Errorf("begin login: %w", err)
	}
	if err := s.challenges.Put(ctx, acct.ID, PurposeAuthentication, *session); err != nil {
		return nil, fmt.Errorf("store challenge: %w", err)
	}
	return assertion, nil
}

// FinishLogin verifies an assertion. Expected failures come back as a
// verdict; only storage faults are errors. A signature counter that does not
// advance is reported as a replay and never retried.
func (s *Service) FinishLogin(ctx context.Context, subjectID string, body []byte) (autherr.Verdict, error) {
	ch, err := s.challenges.Consume(ctx, subjectID, PurposeAuthentication)
	if errors.Is(err, ErrNoChallenge) {
		return autherr.Fail(autherr.ReasonChallengeExpiredOrMismatched), nil
	}
	if err != nil {
		return autherr.Verdict{}, err
	}
	// read the credential set as it is now, not as it was at BeginLogin
	acct, err := s.repo.Get(ctx, subjectID)
	if err != nil {
		return autherr.Verdict{}, fmt.Errorf("load account: %w", err)
	}
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return autherr.Fail(autherr.ReasonInvalidCredential), nil
	}
	idx := acct.Credentials.FindWebAuthn(parsed.RawID)
	if idx < 0 {
		return autherr.Fail(autherr.ReasonInvalidCredential), nil
	}
	stored := acct.Credentials.WebAuthn[idx]

	if _, err := s.webauthn.ValidateLogin(newUser(acct), ch.Session, parsed); err != nil {
		if s.logger != nil {
			s.logger.Info("passkey assertion rejected", slog.String("subject_id", subjectID), slog.Any("error", err))
		}
		return autherr.Fail(autherr.ReasonInvalidCredential), nil
	}

	next := parsed.Response.AuthenticatorData.Counter
	if !identity.CounterAdvances(stored.SignCount, next) {
		s.replay(ctx, acct.ID, stored.SignCount, next)
		return autherr.Fail(autherr.ReasonReplayDetected), nil
	}
	err = s.repo.AdvanceSignCount(ctx, acct.ID, stored.ID, next, s.clock())
	if errors.Is(err, identity.ErrCounterNotAdvanced) {
		// another assertion advanced the counter first
		s.replay(ctx, acct.ID, stored.SignCount, next)
		return autherr.Fail(autherr.ReasonReplayDetected), nil
	}
	if err != nil {
		return autherr.Verdict{}, fmt.Errorf("advance counter: %w", err)
	}
	return autherr.Pass(), nil
}

func (s *Service) replay(ctx context.Context, subjectID string, stored, presented uint32) {
	s.metrics.ReplayDetected()
	audit.Emit(ctx, s.sink, audit.TypeReplayDetected, subjectID, map[string]string{
		"stored_counter":    strconv.FormatUint(uint64(stored), 10),
		"presented_counter": strconv.FormatUint(uint64(presented), 10),
	})
}
