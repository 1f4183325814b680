package login

import "fmt"

// State is where a login attempt currently stands.
type State string

const (
	StateAwaitingPhone    State = "awaiting_phone"
	StateAwaitingPassword State = "awaiting_password"
	// StateAwaitingOtp means a code still has to be delivered, usually after
	// the gateway failed. Resending is the only way forward.
	StateAwaitingOtp             State = "awaiting_otp"
	StateAwaitingOtpVerification State = "awaiting_otp_verification"
	StateAwaitingBiometric       State = "awaiting_biometric"
	StateAwaitingFederatedPhone  State = "awaiting_federated_phone"
	StateAuthenticated           State = "authenticated"
)

// Event is an input to the state machine.
type Event string

const (
	EventSecretAvailable     Event = "secret_available"
	EventOtpSent             Event = "otp_sent"
	EventOtpSendFailed       Event = "otp_send_failed"
	EventSecretAccepted      Event = "secret_accepted"
	EventSecretRejected      Event = "secret_rejected"
	EventBiometricRequested  Event = "biometric_requested"
	EventBiometricAccepted   Event = "biometric_accepted"
	EventBiometricFailed     Event = "biometric_failed"
	EventOtpAccepted         Event = "otp_accepted"
	EventOtpRejected         Event = "otp_rejected"
	EventFederatedMatched    Event = "federated_matched"
	EventFederatedUnknown    Event = "federated_unknown"
	EventFederatedPhoneTaken Event = "federated_phone_taken"
	EventFederatedPhoneSet   Event = "federated_phone_set"
)

// ErrInvalidTransition is returned for an event the current state does not accept.
type ErrInvalidTransition struct {
	From  State
	Event Event
}

func (e ErrInvalidTransition) Error() string {
	return fmt.Sprintf("login: %s not allowed in %s", e.Event, e.From)
}

type edge struct {
	from  State
	event Event
}

var transitions = map[edge]State{
	{StateAwaitingPhone, EventSecretAvailable}:  StateAwaitingPassword,
	{StateAwaitingPhone, EventOtpSent}:          StateAwaitingOtpVerification,
	{StateAwaitingPhone, EventOtpSendFailed}:    StateAwaitingOtp,
	{StateAwaitingPhone, EventFederatedMatched}: StateAuthenticated,
	{StateAwaitingPhone, EventFederatedUnknown}: StateAwaitingFederatedPhone,

	{StateAwaitingPassword, EventSecretAccepted}:     StateAuthenticated,
	{StateAwaitingPassword, EventSecretRejected}:     StateAwaitingPassword,
	{StateAwaitingPassword, EventBiometricRequested}: StateAwaitingBiometric,
	{StateAwaitingPassword, EventOtpSent}:            StateAwaitingOtpVerification,
	{StateAwaitingPassword, EventOtpSendFailed}:      StateAwaitingOtp,

	{StateAwaitingBiometric, EventBiometricAccepted}: StateAuthenticated,
	{StateAwaitingBiometric, EventBiometricFailed}:   StateAwaitingPassword,
	{StateAwaitingBiometric, EventOtpSent}:           StateAwaitingOtpVerification,
	{StateAwaitingBiometric, EventOtpSendFailed}:     StateAwaitingOtp,

	{StateAwaitingOtp, EventOtpSent}:       StateAwaitingOtpVerification,
	{StateAwaitingOtp, EventOtpSendFailed}: StateAwaitingOtp,

	{StateAwaitingOtpVerification, EventOtpAccepted}:   StateAuthenticated,
	{StateAwaitingOtpVerification, EventOtpRejected}:   StateAwaitingOtpVerification,
	{StateAwaitingOtpVerification, EventOtpSent}:       StateAwaitingOtpVerification,
	{StateAwaitingOtpVerification, EventOtpSendFailed}: StateAwaitingOtp,

	{StateAwaitingFederatedPhone, EventFederatedPhoneSet}:   StateAuthenticated,
	{StateAwaitingFederatedPhone, EventFederatedPhoneTaken}: StateAwaitingFederatedPhone,
}

// Transition returns the state that follows from applying event in state.
// It has no side effects. Authenticated accepts nothing.
func Transition(state State, event Event) (State, error) {
	next, ok := transitions[edge{state, event}]
	if !ok {
		return state, ErrInvalidTransition{From: state, Event: event}
	}
	return next, nil
}

// Terminal reports whether state ends the flow.
func (s State) Terminal() bool { return s == StateAuthenticated }
