package posture

import "github.com/lumen-trade/signin/internal/identity"

// Step is an enrollment step offered after login.
type Step string

const (
	StepSetPassword       Step = "set_password"
	StepRegisterBiometric Step = "register_biometric"
	StepSetRecoveryEmail  Step = "set_recovery_email"
	StepSetMpin           Step = "set_mpin"
)

// Report is the result of a posture audit.
type Report struct {
	NewAccount       bool `json:"new_account"`
	MissingPassword  bool `json:"missing_password"`
	MissingBiometric bool `json:"missing_biometric"`
	MissingRecovery  bool `json:"missing_recovery"`
	MissingMpin      bool `json:"missing_mpin"`
	// Required means the caller may not decline the offered step.
	Required bool `json:"required"`
}

// Steps lists the offered steps in prompt order.
func (r Report) Steps() []Step {
	var steps []Step
	if r.MissingMpin {
		steps = append(steps, StepSetMpin)
	}
	if r.MissingPassword {
		steps = append(steps, StepSetPassword)
	}
	if r.MissingBiometric {
		steps = append(steps, StepRegisterBiometric)
	}
	if r.MissingRecovery {
		steps = append(steps, StepSetRecoveryEmail)
	}
	return steps
}

// Clean reports whether nothing needs to be offered.
func (r Report) Clean() bool { return len(r.Steps()) == 0 }

// Audit inspects the credential set once per login. An account created during
// this login is only checked for an MPIN.
func Audit(acct identity.Account, newAccount bool) Report {
	creds := acct.Credentials
	if newAccount {
		missing := !creds.HasMpin()
		return Report{NewAccount: true, MissingMpin: missing, Required: missing}
	}
	return Report{
		MissingPassword:  !creds.HasPassword(),
		MissingBiometric: !creds.HasBiometric(),
		MissingRecovery:  !creds.HasVerifiedRecoveryEmail(),
	}
}
