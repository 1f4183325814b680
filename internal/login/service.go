package login

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"

	"github.com/lumen-trade/signin/internal/audit"
	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/credential"
	"github.com/lumen-trade/signin/internal/federated"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/logging"
	"github.com/lumen-trade/signin/internal/metrics"
	"github.com/lumen-trade/signin/internal/otp"
	"github.com/lumen-trade/signin/internal/posture"
	"github.com/lumen-trade/signin/internal/session"
)

// ErrFederatedDisabled is returned when no identity provider is configured.
var ErrFederatedDisabled = errors.New("login: federated sign-in is not configured")

// OtpGateway sends and confirms login codes.
type OtpGateway interface {
	Send(ctx context.Context, destination string) (otp.Handle, error)
	Confirm(ctx context.Context, handle otp.Handle, code string) (bool, error)
}

// Biometric runs WebAuthn authentication ceremonies.
type Biometric interface {
	BeginLogin(ctx context.Context, subjectID string) (*protocol.CredentialAssertion, error)
	FinishLogin(ctx context.Context, subjectID string, body []byte) (autherr.Verdict, error)
}

// FederatedProvider is the external identity provider.
type FederatedProvider interface {
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (identity.Profile, error)
}

// Outcome is what the caller sees after each step. Issued and Report are set
// only once the flow is authenticated.
type Outcome struct {
	FlowID    string                        `json:"flow_id,omitempty"`
	State     State                         `json:"state"`
	Methods   []identity.Method             `json:"methods,omitempty"`
	Assertion *protocol.CredentialAssertion `json:"assertion,omitempty"`
	Issued    *session.Issued               `json:"-"`
	Report    *posture.Report               `json:"-"`
}

func outcomeOf(f Flow) Outcome {
	return Outcome{FlowID: f.ID, State: f.State, Methods: f.Methods}
}

// Deps groups the collaborators of Service.
type Deps struct {
	Identity        *identity.Service
	Flows           *FlowStore
	Otp             OtpGateway
	Passkeys        Biometric
	Sessions        *session.Service
	Federated       FederatedProvider
	FederatedStates *federated.StateStore
	Sink            audit.Sink
	Metrics         *metrics.Metrics
	Logger          *slog.Logger
}

// Service drives login attempts through the state machine. Every step loads
// the flow, applies one event and persists the result.
type Service struct {
	identity  *identity.Service
	flows     *FlowStore
	otp       OtpGateway
	passkeys  Biometric
	sessions  *session.Service
	federated FederatedProvider
	states    *federated.StateStore
	sink      audit.Sink
	metrics   *metrics.Metrics
	logger    *slog.Logger
	clock     func() time.Time
}

func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		identity:  d.Identity,
		flows:     d.Flows,
		otp:       d.Otp,
		passkeys:  d.Passkeys,
		sessions:  d.Sessions,
		federated: d.Federated,
		states:    d.FederatedStates,
		sink:      d.Sink,
		metrics:   d.Metrics,
		logger:    logger,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

// Start resolves the phone number. Accounts with a usable password or MPIN
// are asked for it; everyone else is sent a code.
func (s *Service) Start(ctx context.Context, rawPhone string) (Outcome, error) {
	res, err := s.identity.Resolver().Resolve(ctx, rawPhone)
	if err != nil {
		return Outcome{}, err
	}
	f := Flow{State: StateAwaitingPhone, Canonical: res.Canonical, CreatedAt: s.clock()}
	if res.Exists {
		f.AccountID = res.Account.ID
		f.Methods = res.Methods
	}
	if res.Exists && (res.Has(identity.MethodPassword) || res.Has(identity.MethodMpin)) {
		if err := f.apply(EventSecretAvailable); err != nil {
			return Outcome{}, err
		}
		if err := s.flows.create(ctx, &f); err != nil {
			return Outcome{}, err
		}
		return outcomeOf(f), nil
	}
	return s.dispatch(ctx, &f)
}

// SubmitPassword verifies a password against the flow's account.
func (s *Service) SubmitPassword(ctx context.Context, flowID, password string) (Outcome, error) {
	return s.submitSecret(ctx, flowID, identity.MethodPassword, password)
}

// SubmitMpin verifies an MPIN against the flow's account.
func (s *Service) SubmitMpin(ctx context.Context, flowID, pin string) (Outcome, error) {
	return s.submitSecret(ctx, flowID, identity.MethodMpin, pin)
}

func (s *Service) submitSecret(ctx context.Context, flowID string, method identity.Method, secret string) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := Transition(f.State, EventSecretAccepted); err != nil {
		return outcomeOf(f), err
	}
	acct, err := s.identity.Get(ctx, f.AccountID)
	if err != nil {
		return outcomeOf(f), fmt.Errorf("load account: %w", err)
	}
	var stored []byte
	switch method {
	case identity.MethodPassword:
		stored = acct.Credentials.PasswordHash
	case identity.MethodMpin:
		stored = acct.Credentials.MpinHash
	}
	// the credential is read now, not at Start, so a rotation in between wins
	if !acct.Credentials.Usable(method) || !credential.Verify(stored, secret) {
		s.metrics.LoginAttempt(string(method), "rejected")
		audit.Emit(ctx, s.sink, audit.TypeLoginFailed, acct.ID, map[string]string{"method": string(method)})
		if err := f.apply(EventSecretRejected); err != nil {
			return outcomeOf(f), err
		}
		if err := s.flows.save(ctx, &f); err != nil {
			return outcomeOf(f), err
		}
		return outcomeOf(f), autherr.ErrInvalidCredential
	}
	s.metrics.LoginAttempt(string(method), "accepted")
	if err := f.apply(EventSecretAccepted); err != nil {
		return outcomeOf(f), err
	}
	return s.complete(ctx, f, acct, string(method))
}

// SwitchToBiometric starts a WebAuthn assertion for the flow's account.
func (s *Service) SwitchToBiometric(ctx context.Context, flowID string) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := Transition(f.State, EventBiometricRequested); err != nil {
		return outcomeOf(f), err
	}
	if !f.has(identity.MethodBiometric) {
		return outcomeOf(f), autherr.Invalid("method", "biometric sign-in is not set up")
	}
	assertion, err := s.passkeys.BeginLogin(ctx, f.AccountID)
	if err != nil {
		return outcomeOf(f), err
	}
	if err := f.apply(EventBiometricRequested); err != nil {
		return outcomeOf(f), err
	}
	if err := s.flows.save(ctx, &f); err != nil {
		return outcomeOf(f), err
	}
	out := outcomeOf(f)
	out.Assertion = assertion
	return out, nil
}

// FinishBiometric verifies the assertion. A failed ceremony returns the flow
// to the password step; a replayed counter ends the attempt.
func (s *Service) FinishBiometric(ctx context.Context, flowID string, body []byte) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := Transition(f.State, EventBiometricAccepted); err != nil {
		return outcomeOf(f), err
	}
	verdict, err := s.passkeys.FinishLogin(ctx, f.AccountID, body)
	if err != nil {
		return outcomeOf(f), err
	}
	method := string(identity.MethodBiometric)
	if verdict.OK {
		s.metrics.LoginAttempt(method, "accepted")
		acct, err := s.identity.Get(ctx, f.AccountID)
		if err != nil {
			return outcomeOf(f), fmt.Errorf("load account: %w", err)
		}
		if err := f.apply(EventBiometricAccepted); err != nil {
			return outcomeOf(f), err
		}
		return s.complete(ctx, f, acct, method)
	}
	if verdict.Reason == autherr.ReasonReplayDetected {
		s.metrics.LoginAttempt(method, "replay")
		s.drop(ctx, f)
		return Outcome{State: f.State}, autherr.ErrReplayDetected
	}
	s.metrics.LoginAttempt(method, "rejected")
	audit.Emit(ctx, s.sink, audit.TypeLoginFailed, f.AccountID, map[string]string{"method": method, "reason": string(verdict.Reason)})
	if err := f.apply(EventBiometricFailed); err != nil {
		return outcomeOf(f), err
	}
	if err := s.flows.save(ctx, &f); err != nil {
		return outcomeOf(f), err
	}
	return outcomeOf(f), verdict.Err()
}

// FallbackToOtp abandons the password or biometric step and sends a code to
// the same phone number.
func (s *Service) FallbackToOtp(ctx context.Context, flowID string) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if f.State != StateAwaitingPassword && f.State != StateAwaitingBiometric {
		return outcomeOf(f), ErrInvalidTransition{From: f.State, Event: EventOtpSent}
	}
	return s.dispatch(ctx, &f)
}

// ResendOtp sends a fresh code, replacing the previous one.
func (s *Service) ResendOtp(ctx context.Context, flowID string) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if f.State != StateAwaitingOtp && f.State != StateAwaitingOtpVerification {
		return outcomeOf(f), ErrInvalidTransition{From: f.State, Event: EventOtpSent}
	}
	return s.dispatch(ctx, &f)
}

// dispatch sends a code for the flow's phone number and persists the flow
// in either AwaitingOtpVerification or, when the gateway failed, AwaitingOtp.
func (s *Service) dispatch(ctx context.Context, f *Flow) (Outcome, error) {
	destination := s.identity.Resolver().Policy().E164(f.Canonical)
	handle, sendErr := s.otp.Send(ctx, destination)
	if sendErr != nil && !errors.Is(sendErr, autherr.ErrProviderUnavailable) {
		return outcomeOf(*f), sendErr
	}
	event := EventOtpSent
	f.OtpHandle = handle
	if sendErr != nil {
		event = EventOtpSendFailed
		f.OtpHandle = ""
	}
	if err := f.apply(event); err != nil {
		return outcomeOf(*f), err
	}
	var err error
	if f.ID == "" {
		err = s.flows.create(ctx, f)
	} else {
		err = s.flows.save(ctx, f)
	}
	if err != nil {
		return outcomeOf(*f), err
	}
	if sendErr != nil {
		s.logger.Warn("login code not delivered", logging.Phone(destination), slog.String("flow_id", f.ID))
	}
	return outcomeOf(*f), sendErr
}

// SubmitOtp confirms the code. The phone is then resolved again, with agent
// precedence, and a pending customer is created when nothing matches.
func (s *Service) SubmitOtp(ctx context.Context, flowID, code string) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := Transition(f.State, EventOtpAccepted); err != nil {
		return outcomeOf(f), err
	}
	if code == "" {
		return outcomeOf(f), autherr.Invalid("code", "enter the code we sent you")
	}
	ok, err := s.otp.Confirm(ctx, f.OtpHandle, code)
	if err != nil {
		return outcomeOf(f), err
	}
	if !ok {
		s.metrics.LoginAttempt("otp", "rejected")
		audit.Emit(ctx, s.sink, audit.TypeLoginFailed, f.AccountID, map[string]string{"method": "otp"})
		if err := f.apply(EventOtpRejected); err != nil {
			return outcomeOf(f), err
		}
		if err := s.flows.save(ctx, &f); err != nil {
			return outcomeOf(f), err
		}
		return outcomeOf(f), autherr.ErrInvalidCredential
	}
	s.metrics.LoginAttempt("otp", "accepted")
	acct, created, err := s.identity.EnsureFromOTP(ctx, f.Canonical)
	if err != nil {
		return outcomeOf(f), err
	}
	if created {
		f.NewAccount = true
		audit.Emit(ctx, s.sink, audit.TypeAccountCreated, acct.ID, map[string]string{"via": "otp"})
	}
	if err := f.apply(EventOtpAccepted); err != nil {
		return outcomeOf(f), err
	}
	return s.complete(ctx, f, acct, "otp")
}

// StartFederated returns the provider consent URL.
func (s *Service) StartFederated(ctx context.Context) (string, error) {
	if s.federated == nil || s.states == nil {
		return "", ErrFederatedDisabled
	}
	state, verifier, err := s.states.Begin(ctx)
	if err != nil {
		return "", err
	}
	return s.federated.AuthCodeURL(state, verifier), nil
}

// CompleteFederated handles the provider callback. A customer already bound
// to the profile email signs in directly; anyone else must supply a phone
// number before an account is created.
func (s *Service) CompleteFederated(ctx context.Context, state, code string) (Outcome, error) {
	if s.federated == nil || s.states == nil {
		return Outcome{}, ErrFederatedDisabled
	}
	verifier, err := s.states.Consume(ctx, state)
	if err != nil {
		return Outcome{}, err
	}
	profile, err := s.federated.Exchange(ctx, code, verifier)
	if err != nil {
		return Outcome{}, err
	}
	f := Flow{State: StateAwaitingPhone, CreatedAt: s.clock()}
	acct, found, err := s.identity.FindCustomerByEmail(ctx, profile.Email)
	if err != nil {
		return Outcome{}, err
	}
	if found {
		f.AccountID = acct.ID
		f.Canonical = acct.Phone
		if err := f.apply(EventFederatedMatched); err != nil {
			return Outcome{}, err
		}
		return s.complete(ctx, f, acct, "federated")
	}
	f.Federated = &profile
	if err := f.apply(EventFederatedUnknown); err != nil {
		return Outcome{}, err
	}
	if err := s.flows.create(ctx, &f); err != nil {
		return Outcome{}, err
	}
	return outcomeOf(f), nil
}

// SubmitFederatedPhone creates the pending customer for a federated sign-up.
func (s *Service) SubmitFederatedPhone(ctx context.Context, flowID, rawPhone string) (Outcome, error) {
	f, err := s.flows.load(ctx, flowID)
	if err != nil {
		return Outcome{}, err
	}
	if _, err := Transition(f.State, EventFederatedPhoneSet); err != nil {
		return outcomeOf(f), err
	}
	if f.Federated == nil {
		return outcomeOf(f), autherr.ErrChallengeExpiredOrMismatched
	}
	canonical, err := s.identity.Resolver().Policy().Canonicalize(rawPhone)
	if err != nil {
		return outcomeOf(f), err
	}
	acct, err := s.identity.CreateFromFederated(ctx, canonical, *f.Federated)
	if errors.Is(err, identity.ErrPhoneTaken) {
		if err := f.apply(EventFederatedPhoneTaken); err != nil {
			return outcomeOf(f), err
		}
		return outcomeOf(f), autherr.Invalid("phone", "this number is already registered, sign in with it instead")
	}
	if err != nil {
		return outcomeOf(f), err
	}
	audit.Emit(ctx, s.sink, audit.TypeAccountCreated, acct.ID, map[string]string{"via": "federated"})
	f.Canonical = canonical
	f.AccountID = acct.ID
	f.NewAccount = true
	if err := f.apply(EventFederatedPhoneSet); err != nil {
		return outcomeOf(f), err
	}
	return s.complete(ctx, f, acct, "federated")
}

// complete issues the session, then runs the posture audit once, then drops
// the flow.
func (s *Service) complete(ctx context.Context, f Flow, acct identity.Account, method string) (Outcome, error) {
	if acct.Status == identity.StatusSuspended {
		s.drop(ctx, f)
		audit.Emit(ctx, s.sink, audit.TypeLoginFailed, acct.ID, map[string]string{"method": method, "reason": "suspended"})
		return Outcome{}, autherr.ErrUnauthorized
	}
	issued, err := s.sessions.Issue(ctx, acct.ID, acct.Role())
	if err != nil {
		return outcomeOf(f), err
	}
	report := posture.Audit(acct, f.NewAccount)
	s.drop(ctx, f)
	audit.Emit(ctx, s.sink, audit.TypeLoginSucceeded, acct.ID, map[string]string{
		"method":      method,
		"role":        string(acct.Role()),
		"session_id":  issued.Session.ID,
		"new_account": fmt.Sprint(f.NewAccount),
	})
	s.logger.Info("login succeeded",
		slog.String("subject_id", acct.ID),
		slog.String("role", string(acct.Role())),
		slog.String("method", method),
		logging.Phone(acct.Phone),
	)
	out := outcomeOf(f)
	out.Methods = nil
	out.Issued = &issued
	out.Report = &report
	return out, nil
}

func (s *Service) drop(ctx context.Context, f Flow) {
	if f.ID == "" {
		return
	}
	if err := s.flows.delete(ctx, f.ID); err != nil {
		s.logger.Error("drop login flow", slog.String("flow_id", f.ID), slog.Any("error", err))
	}
}
