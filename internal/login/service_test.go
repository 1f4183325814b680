package login

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/lumen-trade/signin/internal/audit"
	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/credential"
	"github.com/lumen-trade/signin/internal/federated"
	"github.com/lumen-trade/signin/internal/identity"
	"github.com/lumen-trade/signin/internal/otp"
	"github.com/lumen-trade/signin/internal/phone"
	"github.com/lumen-trade/signin/internal/posture"
	"github.com/lumen-trade/signin/internal/session"
)

const goodCode = "123456"

type fakeOtp struct {
	sentTo []string
	err    error
}

func (f *fakeOtp) Send(_ context.Context, destination string) (otp.Handle, error) {
	if f.err != nil {
		return "", f.err
	}
	f.sentTo = append(f.sentTo, destination)
	return otp.Handle(fmt.Sprintf("handle-%d", len(f.sentTo))), nil
}

func (f *fakeOtp) Confirm(_ context.Context, handle otp.Handle, code string) (bool, error) {
	return handle != "" && code == goodCode, nil
}

// fakeBiometric checks and advances the stored counter the way the WebAuthn
// verifier does, without signature checks.
type fakeBiometric struct {
	repo      identity.Repository
	presented uint32
	reject    bool
}

func (f *fakeBiometric) BeginLogin(context.Context, string) (*protocol.CredentialAssertion, error) {
	return &protocol.CredentialAssertion{}, nil
}

func (f *fakeBiometric) FinishLogin(ctx context.Context, subjectID string, _ []byte) (autherr.Verdict, error) {
	if f.reject {
		return autherr.Fail(autherr.ReasonInvalidCredential), nil
	}
	acct, err := f.repo.Get(ctx, subjectID)
	if err != nil {
		return autherr.Verdict{}, err
	}
	stored := acct.Credentials.WebAuthn[0]
	if !identity.CounterAdvances(stored.SignCount, f.presented) {
		return autherr.Fail(autherr.ReasonReplayDetected), nil
	}
	err = f.repo.AdvanceSignCount(ctx, subjectID, stored.ID, f.presented, time.Now().UTC())
	if errors.Is(err, identity.ErrCounterNotAdvanced) {
		return autherr.Fail(autherr.ReasonReplayDetected), nil
	}
	if err != nil {
		return autherr.Verdict{}, err
	}
	return autherr.Pass(), nil
}

type fakeIdP struct {
	profile identity.Profile
	err     error
}

func (f *fakeIdP) AuthCodeURL(state, verifier string) string {
	return "https://idp.example.com/authorize?state=" + url.QueryEscape(state)
}

func (f *fakeIdP) Exchange(context.Context, string, string) (identity.Profile, error) {
	return f.profile, f.err
}

type harness struct {
	svc       *Service
	repo      identity.Repository
	otp       *fakeOtp
	biometric *fakeBiometric
	idp       *fakeIdP
	sessions  *session.Service
	sink      *audit.Recorder
	hasher    *credential.Hasher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := identity.NewMemoryRepository()
	ids := identity.NewService(repo, identity.NewResolver(repo, phone.DefaultPolicy))
	h := &harness{
		repo:      repo,
		otp:       &fakeOtp{},
		biometric: &fakeBiometric{repo: repo},
		idp:       &fakeIdP{profile: identity.Profile{Email: "new@example.com", DisplayName: "New Person"}},
		sink:      &audit.Recorder{},
		hasher:    credential.NewHasher(bcrypt.MinCost),
	}
	h.sessions = session.NewService(client, "0123456789abcdef0123456789abcdef", h.sink, nil)
	h.svc = NewService(Deps{
		Identity:        ids,
		Flows:           NewFlowStore(client, 15*time.Minute),
		Otp:             h.otp,
		Passkeys:        h.biometric,
		Sessions:        h.sessions,
		Federated:       h.idp,
		FederatedStates: federated.NewStateStore(client),
		Sink:            h.sink,
	})
	return h
}

type seedOpts struct {
	kind      identity.Kind
	phone     string
	password  string
	mpin      string
	counter   *uint32
	recovery  bool
	email     string
	admin     bool
	suspended bool
}

func (h *harness) seed(t *testing.T, o seedOpts) identity.Account {
	t.Helper()
	acct := identity.Account{
		ID:        uuid.NewString(),
		Kind:      o.kind,
		Phone:     o.phone,
		Status:    identity.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if o.suspended {
		acct.Status = identity.StatusSuspended
	}
	if o.kind == identity.KindAgent {
		acct.Agent = &identity.AgentFields{Admin: o.admin}
	} else {
		acct.Customer = &identity.CustomerFields{Email: o.email}
	}
	if o.password != "" {
		hash, err := h.hasher.Hash(o.password)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		acct.Credentials.PasswordHash = hash
	}
	if o.mpin != "" {
		hash, err := h.hasher.Hash(o.mpin)
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		acct.Credentials.MpinHash = hash
	}
	if o.counter != nil {
		acct.Credentials.WebAuthn = []identity.WebAuthnCredential{{ID: []byte("cred-1"), PublicKey: []byte("pk"), SignCount: *o.counter}}
	}
	if o.recovery {
		acct.Credentials.RecoveryEmail = &identity.RecoveryEmail{Address: "r@example.com", Verified: true}
	}
	if err := h.repo.Create(context.Background(), acct); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return acct
}

func counter(n uint32) *uint32 { return &n }

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(v)
}

func expectFlowGone(t *testing.T, h *harness, flowID string) {
	t.Helper()
	_, err := h.svc.SubmitPassword(context.Background(), flowID, "anything")
	if !errors.Is(err, autherr.ErrChallengeExpiredOrMismatched) {
		t.Fatalf("expected flow %s to be gone, got %v", flowID, err)
	}
}

// New phone: code sent, account created on confirmation, MPIN prompt, customer session.
func TestNewPhoneSignsUpThroughOtp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out.State != StateAwaitingOtpVerification || out.FlowID == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if len(h.otp.sentTo) != 1 || h.otp.sentTo[0] != "+919876543210" {
		t.Fatalf("code sent to %v", h.otp.sentTo)
	}

	done, err := h.svc.SubmitOtp(ctx, out.FlowID, goodCode)
	if err != nil {
		t.Fatalf("submit otp: %v", err)
	}
	if done.State != StateAuthenticated || done.Issued == nil || done.Report == nil {
		t.Fatalf("expected authenticated outcome, got %+v", done)
	}
	if done.Issued.Session.Role != identity.RoleCustomer {
		t.Fatalf("expected customer role, got %s", done.Issued.Session.Role)
	}
	steps := done.Report.Steps()
	if len(steps) != 1 || steps[0] != posture.StepSetMpin || !done.Report.Required {
		t.Fatalf("expected mandatory mpin setup only, got %+v", done.Report)
	}
	acct, err := h.repo.Get(ctx, done.Issued.Session.SubjectID)
	if err != nil {
		t.Fatalf("load created account: %v", err)
	}
	if acct.Status != identity.StatusPending || acct.Phone != "9876543210" || acct.Kind != identity.KindCustomer {
		t.Fatalf("unexpected created account %+v", acct)
	}
	if h.sink.Count(audit.TypeAccountCreated) != 1 || h.sink.Count(audit.TypeLoginSucceeded) != 1 {
		t.Fatalf("missing audit events: %+v", h.sink.Events())
	}
	expectFlowGone(t, h, out.FlowID)
}

// Existing agent with every credential: password login, agent session, no prompt.
func TestAgentPasswordLoginWithFullPosture(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.seed(t, seedOpts{kind: identity.KindAgent, phone: "9876543210", password: "agent-secret-1", mpin: "4321", counter: counter(3), recovery: true})

	out, err := h.svc.Start(ctx, "+91 98765-43210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out.State != StateAwaitingPassword {
		t.Fatalf("expected password step, got %s", out.State)
	}
	if len(h.otp.sentTo) != 0 {
		t.Fatalf("no code should be sent to a password account")
	}

	done, err := h.svc.SubmitPassword(ctx, out.FlowID, "agent-secret-1")
	if err != nil {
		t.Fatalf("password: %v", err)
	}
	if done.Issued.Session.Role != identity.RoleAgent || done.Issued.Session.SubjectID != agent.ID {
		t.Fatalf("unexpected session %+v", done.Issued.Session)
	}
	if !done.Report.Clean() {
		t.Fatalf("expected no enrollment prompt, got %+v", done.Report)
	}
	if got := done.Issued.Session.ExpiresAt.Sub(done.Issued.Session.IssuedAt); got != session.Lifetime {
		t.Fatalf("expected 7 day session, got %s", got)
	}
}

func TestAdminAgentGetsAdminRole(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindAgent, phone: "9000000001", mpin: "2468", admin: true})

	out, err := h.svc.Start(ctx, "9000000001")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := h.svc.SubmitMpin(ctx, out.FlowID, "2468")
	if err != nil {
		t.Fatalf("mpin: %v", err)
	}
	if done.Issued.Session.Role != identity.RoleAdmin {
		t.Fatalf("expected admin role, got %s", done.Issued.Session.Role)
	}
}

// Every wrong password is rejected on its own and the right one still works.
func TestWrongPasswordsAreEachRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9123456789", password: "customer-pass"})

	out, err := h.svc.Start(ctx, "9123456789")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	for i := 0; i < 3; i++ {
		res, err := h.svc.SubmitPassword(ctx, out.FlowID, fmt.Sprintf("wrong-%d", i))
		if !errors.Is(err, autherr.ErrInvalidCredential) {
			t.Fatalf("attempt %d: expected invalid credential, got %v", i, err)
		}
		if res.State != StateAwaitingPassword || res.FlowID != out.FlowID {
			t.Fatalf("attempt %d: expected to stay on password step, got %+v", i, res)
		}
	}
	if h.sink.Count(audit.TypeLoginFailed) != 3 {
		t.Fatalf("expected three failure events, got %d", h.sink.Count(audit.TypeLoginFailed))
	}
	done, err := h.svc.SubmitPassword(ctx, out.FlowID, "customer-pass")
	if err != nil || done.State != StateAuthenticated {
		t.Fatalf("expected login after failures, got %+v %v", done, err)
	}
}

func TestMpinIsNotAcceptedAsPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9123456789", mpin: "1357"})

	out, err := h.svc.Start(ctx, "9123456789")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.SubmitPassword(ctx, out.FlowID, "1357"); !errors.Is(err, autherr.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
}

// A cloned authenticator replaying counter 5 against stored 7 ends the attempt.
func TestReplayedCounterEndsAttempt(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.seed(t, seedOpts{kind: identity.KindAgent, phone: "9876543210", password: "agent-secret-1", counter: counter(7)})

	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err = h.svc.SwitchToBiometric(ctx, out.FlowID)
	if err != nil {
		t.Fatalf("switch: %v", err)
	}
	if out.State != StateAwaitingBiometric || out.Assertion == nil {
		t.Fatalf("expected biometric step with options, got %+v", out)
	}

	h.biometric.presented = 5
	if _, err := h.svc.FinishBiometric(ctx, out.FlowID, []byte(`{}`)); !errors.Is(err, autherr.ErrReplayDetected) {
		t.Fatalf("expected replay detected, got %v", err)
	}
	stored, err := h.repo.Get(ctx, acct.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.Credentials.WebAuthn[0].SignCount != 7 {
		t.Fatalf("counter must remain 7, got %d", stored.Credentials.WebAuthn[0].SignCount)
	}
	expectFlowGone(t, h, out.FlowID)
}

func TestBiometricSuccessAdvancesCounter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9876543210", mpin: "8642", counter: counter(7)})

	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out, err = h.svc.SwitchToBiometric(ctx, out.FlowID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	h.biometric.presented = 8
	done, err := h.svc.FinishBiometric(ctx, out.FlowID, []byte(`{}`))
	if err != nil || done.State != StateAuthenticated {
		t.Fatalf("expected biometric login, got %+v %v", done, err)
	}
	stored, _ := h.repo.Get(ctx, acct.ID)
	if stored.Credentials.WebAuthn[0].SignCount != 8 {
		t.Fatalf("counter should advance to 8, got %d", stored.Credentials.WebAuthn[0].SignCount)
	}
}

func TestBiometricFailureReturnsToPassword(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9876543210", password: "customer-pass", counter: counter(1)})

	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if out, err = h.svc.SwitchToBiometric(ctx, out.FlowID); err != nil {
		t.Fatalf("switch: %v", err)
	}
	h.biometric.reject = true
	res, err := h.svc.FinishBiometric(ctx, out.FlowID, []byte(`{}`))
	if !errors.Is(err, autherr.ErrInvalidCredential) {
		t.Fatalf("expected invalid credential, got %v", err)
	}
	if res.State != StateAwaitingPassword {
		t.Fatalf("expected password step after biometric failure, got %s", res.State)
	}
	if done, err := h.svc.SubmitPassword(ctx, out.FlowID, "customer-pass"); err != nil || done.State != StateAuthenticated {
		t.Fatalf("expected password login after biometric failure, got %v", err)
	}
}

func TestSwitchToBiometricWithoutPasskey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9876543210", password: "customer-pass"})
	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.SwitchToBiometric(ctx, out.FlowID); !autherr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

// Federated sign-up with an unknown email asks for a phone, then creates a
// pending customer without price access.
func TestFederatedSignUpAsksForPhone(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	target, err := h.svc.StartFederated(ctx)
	if err != nil {
		t.Fatalf("start federated: %v", err)
	}
	u, err := url.Parse(target)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, err := h.svc.CompleteFederated(ctx, u.Query().Get("state"), "auth-code")
	if err != nil {
		t.Fatalf("complete federated: %v", err)
	}
	if out.State != StateAwaitingFederatedPhone || out.FlowID == "" {
		t.Fatalf("expected phone prompt, got %+v", out)
	}

	if _, err := h.svc.SubmitFederatedPhone(ctx, out.FlowID, "12"); !autherr.IsValidation(err) {
		t.Fatalf("expected validation error for bad phone, got %v", err)
	}
	done, err := h.svc.SubmitFederatedPhone(ctx, out.FlowID, "98765 43210")
	if err != nil {
		t.Fatalf("submit phone: %v", err)
	}
	if done.State != StateAuthenticated || done.Issued.Session.Role != identity.RoleCustomer {
		t.Fatalf("unexpected outcome %+v", done)
	}
	acct, err := h.repo.Get(ctx, done.Issued.Session.SubjectID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if acct.Status != identity.StatusPending || acct.Customer == nil || acct.Customer.PriceAccessApproved {
		t.Fatalf("expected pending customer without price access, got %+v", acct)
	}
	if acct.Customer.Email != "new@example.com" || acct.DisplayName != "New Person" {
		t.Fatalf("profile not copied: %+v", acct)
	}
	if !done.Report.Required || done.Report.Steps()[0] != posture.StepSetMpin {
		t.Fatalf("expected mpin setup for new account, got %+v", done.Report)
	}
}

func TestFederatedStateIsSingleUse(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	target, err := h.svc.StartFederated(ctx)
	if err != nil {
		t.Fatalf("start federated: %v", err)
	}
	u, _ := url.Parse(target)
	state := u.Query().Get("state")
	if _, err := h.svc.CompleteFederated(ctx, state, "code"); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if _, err := h.svc.CompleteFederated(ctx, state, "code"); !errors.Is(err, autherr.ErrChallengeExpiredOrMismatched) {
		t.Fatalf("expected replayed state to fail, got %v", err)
	}
}

func TestFederatedKnownEmailSignsInDirectly(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	existing := h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9123456789", email: "new@example.com", password: "customer-pass"})

	target, _ := h.svc.StartFederated(ctx)
	u, _ := url.Parse(target)
	done, err := h.svc.CompleteFederated(ctx, u.Query().Get("state"), "code")
	if err != nil {
		t.Fatalf("complete federated: %v", err)
	}
	if done.State != StateAuthenticated || done.Issued.Session.SubjectID != existing.ID {
		t.Fatalf("expected direct login for known email, got %+v", done)
	}
	if done.Report.NewAccount {
		t.Fatalf("existing account must get the full audit")
	}
}

func TestFederatedPhoneAlreadyRegistered(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindAgent, phone: "9876543210", password: "agent-secret-1"})

	target, _ := h.svc.StartFederated(ctx)
	u, _ := url.Parse(target)
	out, err := h.svc.CompleteFederated(ctx, u.Query().Get("state"), "code")
	if err != nil {
		t.Fatalf("complete federated: %v", err)
	}
	res, err := h.svc.SubmitFederatedPhone(ctx, out.FlowID, "9876543210")
	if !autherr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if res.State != StateAwaitingFederatedPhone {
		t.Fatalf("expected to stay on phone step, got %s", res.State)
	}
}

func TestFederatedDisabled(t *testing.T) {
	h := newHarness(t)
	h.svc.federated = nil
	if _, err := h.svc.StartFederated(context.Background()); !errors.Is(err, ErrFederatedDisabled) {
		t.Fatalf("expected disabled, got %v", err)
	}
}

func TestOtpSendFailureIsRetryable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.otp.err = fmt.Errorf("%w: gateway timeout", autherr.ErrProviderUnavailable)

	out, err := h.svc.Start(ctx, "9876543210")
	if !errors.Is(err, autherr.ErrProviderUnavailable) {
		t.Fatalf("expected provider unavailable, got %v", err)
	}
	if out.State != StateAwaitingOtp || out.FlowID == "" {
		t.Fatalf("expected retryable flow, got %+v", out)
	}
	if _, err := h.svc.SubmitOtp(ctx, out.FlowID, goodCode); err == nil {
		t.Fatalf("no code was sent, confirmation must fail")
	}

	h.otp.err = nil
	out, err = h.svc.ResendOtp(ctx, out.FlowID)
	if err != nil {
		t.Fatalf("resend: %v", err)
	}
	if out.State != StateAwaitingOtpVerification {
		t.Fatalf("expected verification step, got %s", out.State)
	}
	if done, err := h.svc.SubmitOtp(ctx, out.FlowID, goodCode); err != nil || done.State != StateAuthenticated {
		t.Fatalf("expected login after resend, got %v", err)
	}
}

func TestWrongOtpStaysOnVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := h.svc.SubmitOtp(ctx, out.FlowID, "000000")
	if !errors.Is(err, autherr.ErrInvalidCredential) || res.State != StateAwaitingOtpVerification {
		t.Fatalf("expected rejection on same step, got %+v %v", res, err)
	}
	if _, err := h.svc.SubmitOtp(ctx, out.FlowID, ""); !autherr.IsValidation(err) {
		t.Fatalf("expected validation error for empty code, got %v", err)
	}
}

func TestFallbackToOtpKeepsExistingAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	acct := h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9123456789", password: "customer-pass"})

	out, err := h.svc.Start(ctx, "9123456789")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	out, err = h.svc.FallbackToOtp(ctx, out.FlowID)
	if err != nil {
		t.Fatalf("fallback: %v", err)
	}
	if out.State != StateAwaitingOtpVerification || h.otp.sentTo[0] != "+919123456789" {
		t.Fatalf("expected code for same phone, got %+v %v", out, h.otp.sentTo)
	}
	done, err := h.svc.SubmitOtp(ctx, out.FlowID, goodCode)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	if done.Issued.Session.SubjectID != acct.ID || done.Report.NewAccount {
		t.Fatalf("expected existing account login, got %+v", done)
	}
	if !done.Report.MissingBiometric || !done.Report.MissingRecovery || done.Report.MissingPassword {
		t.Fatalf("unexpected report %+v", done.Report)
	}
}

func TestOtpConfirmationPrefersAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	agent := h.seed(t, seedOpts{kind: identity.KindAgent, phone: "9876543210"})
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "919876543210"})

	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := h.svc.SubmitOtp(ctx, out.FlowID, goodCode)
	if err != nil {
		t.Fatalf("otp: %v", err)
	}
	if done.Issued.Session.SubjectID != agent.ID || done.Issued.Session.Role != identity.RoleAgent {
		t.Fatalf("agent should take precedence, got %+v", done.Issued.Session)
	}
}

func TestOutOfOrderStepIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	out, err := h.svc.Start(ctx, "9876543210")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	var invalid ErrInvalidTransition
	if _, err := h.svc.SubmitPassword(ctx, out.FlowID, "whatever1"); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if _, err := h.svc.FallbackToOtp(ctx, out.FlowID); !errors.As(err, &invalid) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestSuspendedAccountCannotSignIn(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9123456789", password: "customer-pass", suspended: true})
	out, err := h.svc.Start(ctx, "9123456789")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := h.svc.SubmitPassword(ctx, out.FlowID, "customer-pass"); !errors.Is(err, autherr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestHandlerSetsCookiePairOnLogin(t *testing.T) {
	h := newHarness(t)
	h.seed(t, seedOpts{kind: identity.KindCustomer, phone: "9123456789", password: "customer-pass"})
	handler := NewHandler(h.svc, false)

	app := fiber.New()
	app.Post("/login/start", handler.Start)
	app.Post("/login/:flowId/password", handler.Password)

	post := func(path, body string) *http.Response {
		t.Helper()
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		return resp
	}

	resp := post("/login/start", `{"phone":"9123456789"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", resp.StatusCode)
	}
	var started Outcome
	if err := decodeJSON(resp, &started); err != nil {
		t.Fatalf("decode: %v", err)
	}

	resp = post("/login/"+started.FlowID+"/password", `{"password":"nope-nope"}`)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for wrong password, got %d", resp.StatusCode)
	}
	var failed failureResponse
	if err := decodeJSON(resp, &failed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if failed.FlowID != started.FlowID || failed.Error != autherr.ErrInvalidCredential.Error() {
		t.Fatalf("unexpected failure body %+v", failed)
	}

	resp = post("/login/"+started.FlowID+"/password", `{"password":"customer-pass"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	names := map[string]bool{}
	for _, c := range resp.Cookies() {
		names[c.Name] = true
		if !c.HttpOnly {
			t.Fatalf("cookie %s must be http-only", c.Name)
		}
	}
	if !names[session.CookieSession] || !names[session.CookieRole] {
		t.Fatalf("expected session and role cookies, got %v", names)
	}
}

// A provider callback only completes in the browser that started it.
func TestFederatedCallbackRequiresStateCookie(t *testing.T) {
	h := newHarness(t)
	handler := NewHandler(h.svc, false)

	app := fiber.New()
	app.Get("/auth/federated/start", handler.FederatedStart)
	app.Get("/auth/federated/callback", handler.FederatedCallback)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/auth/federated/start", nil))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected redirect, got %d", resp.StatusCode)
	}
	target, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		t.Fatalf("parse location: %v", err)
	}
	state := target.Query().Get("state")
	var pinned *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == federatedStateCookie {
			pinned = c
		}
	}
	if pinned == nil || pinned.Value != state || !pinned.HttpOnly {
		t.Fatalf("expected http-only state cookie for %q, got %+v", state, pinned)
	}

	callback := "/auth/federated/callback?code=auth-code&state=" + url.QueryEscape(state)

	// Another browser replaying the callback URL has no cookie.
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, callback, nil))
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without state cookie, got %d", resp.StatusCode)
	}

	req := httptest.NewRequest(http.MethodGet, callback, nil)
	req.AddCookie(&http.Cookie{Name: federatedStateCookie, Value: "someone-elses-state"})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for mismatched cookie, got %d", resp.StatusCode)
	}

	req = httptest.NewRequest(http.MethodGet, callback, nil)
	req.AddCookie(&http.Cookie{Name: federatedStateCookie, Value: state})
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var out Outcome
	if err := decodeJSON(resp, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.State != StateAwaitingFederatedPhone {
		t.Fatalf("expected phone prompt, got %+v", out)
	}
}
