package identity

import "time"

// Kind names the partition an account lives in.
type Kind string

const (
	KindAgent    Kind = "agent"
	KindCustomer Kind = "customer"
)

// PartitionPrecedence is the order partitions are searched when resolving a
// phone number. The first match wins, so an agent record shadows a customer
// record carrying the same number.
var PartitionPrecedence = []Kind{KindAgent, KindCustomer}

// Role is the authorization role bound to a session.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleAgent    Role = "agent"
	RoleCustomer Role = "customer"
)

// ParseRole validates a role string.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleAgent, RoleCustomer:
		return Role(s), true
	}
	return "", false
}

// Status tracks account approval.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Method is a login method an account may offer.
type Method string

const (
	MethodPassword  Method = "password"
	MethodMpin      Method = "mpin"
	MethodBiometric Method = "biometric"
)

// AgentFields holds data only agents carry.
type AgentFields struct {
	Admin  bool
	Region string
}

// CustomerFields holds data only customers carry.
type CustomerFields struct {
	Email               string
	PhotoURL            string
	PriceAccessApproved bool
}

// WebAuthnCredential is one enrolled authenticator.
type WebAuthnCredential struct {
	ID              []byte
	PublicKey       []byte
	AAGUID          []byte
	AttestationType string
	SignCount       uint32
	Transports      []string
	BackupEligible  bool
	BackupState     bool
	CreatedAt       time.Time
	LastUsedAt      *time.Time
}

// RecoveryEmail is the fallback contact address.
type RecoveryEmail struct {
	Address    string
	Verified   bool
	VerifiedAt *time.Time
}

// AuthPreferences are per-method opt-outs. A nil flag means the user never
// disabled the method.
type AuthPreferences struct {
	PasswordLoginEnabled  *bool `json:"password_login_enabled,omitempty"`
	BiometricLoginEnabled *bool `json:"biometric_login_enabled,omitempty"`
	MpinLoginEnabled      *bool `json:"mpin_login_enabled,omitempty"`
}

func enabled(flag *bool) bool { return flag == nil || *flag }

// Merge overlays the non-nil flags of other.
func (p AuthPreferences) Merge(other AuthPreferences) AuthPreferences {
	if other.PasswordLoginEnabled != nil {
		p.PasswordLoginEnabled = other.PasswordLoginEnabled
	}
	if other.BiometricLoginEnabled != nil {
		p.BiometricLoginEnabled = other.BiometricLoginEnabled
	}
	if other.MpinLoginEnabled != nil {
		p.MpinLoginEnabled = other.MpinLoginEnabled
	}
	return p
}

// CredentialSet is everything an account can authenticate with.
type CredentialSet struct {
	PasswordHash       []byte
	MpinHash           []byte
	WebAuthn           []WebAuthnCredential
	RecoveryEmail      *RecoveryEmail
	Preferences        AuthPreferences
	PasswordSetAt      *time.Time
	MpinSetAt          *time.Time
	RecoveryEmailSetAt *time.Time
}

func (c CredentialSet) HasPassword() bool  { return len(c.PasswordHash) > 0 }
func (c CredentialSet) HasMpin() bool      { return len(c.MpinHash) > 0 }
func (c CredentialSet) HasBiometric() bool { return len(c.WebAuthn) > 0 }

func (c CredentialSet) HasVerifiedRecoveryEmail() bool {
	return c.RecoveryEmail != nil && c.RecoveryEmail.Verified
}

// Usable reports whether m is both present and not disabled.
func (c CredentialSet) Usable(m Method) bool {
	switch m {
	case MethodPassword:
		return c.HasPassword() && enabled(c.Preferences.PasswordLoginEnabled)
	case MethodMpin:
		return c.HasMpin() && enabled(c.Preferences.MpinLoginEnabled)
	case MethodBiometric:
		return c.HasBiometric() && enabled(c.Preferences.BiometricLoginEnabled)
	}
	return false
}

// Methods lists usable methods in display order.
func (c CredentialSet) Methods() []Method {
	var out []Method
	for _, m := range []Method{MethodPassword, MethodMpin, MethodBiometric} {
		if c.Usable(m) {
			out = append(out, m)
		}
	}
	return out
}

// FindWebAuthn returns the index of the credential with id, or -1.
func (c CredentialSet) FindWebAuthn(id []byte) int {
	for i, cred := range c.WebAuthn {
		if string(cred.ID) == string(id) {
			return i
		}
	}
	return -1
}

// Account is an agent or a customer. Exactly one of Agent and Customer is set,
// matching Kind.
type Account struct {
	ID          string
	Kind        Kind
	Phone       string
	DisplayName string
	Status      Status
	Credentials CredentialSet
	Agent       *AgentFields
	Customer    *CustomerFields
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Role derives the session role for the account.
func (a Account) Role() Role {
	if a.Kind == KindAgent {
		if a.Agent != nil && a.Agent.Admin {
			return RoleAdmin
		}
		return RoleAgent
	}
	return RoleCustomer
}

// Patch is a partial credential update. Nil fields are left untouched.
type Patch struct {
	PasswordHash  []byte
	MpinHash      []byte
	RecoveryEmail *RecoveryEmail
	Preferences   *AuthPreferences
	At            time.Time
}

func (p Patch) apply(set *CredentialSet) {
	at := p.At
	if p.PasswordHash != nil {
		set.PasswordHash = p.PasswordHash
		set.PasswordSetAt = &at
	}
	if p.MpinHash != nil {
		set.MpinHash = p.MpinHash
		set.MpinSetAt = &at
	}
	if p.RecoveryEmail != nil {
		email := *p.RecoveryEmail
		set.RecoveryEmail = &email
		set.RecoveryEmailSetAt = &at
	}
	if p.Preferences != nil {
		set.Preferences = set.Preferences.Merge(*p.Preferences)
	}
}

// Resolution is the outcome of a phone lookup. Exists=false is a valid result.
type Resolution struct {
	Exists      bool
	Account     Account
	Canonical   string
	Methods     []Method
	Preferences AuthPreferences
}

// Has reports whether m is among the resolved methods.
func (r Resolution) Has(m Method) bool {
	for _, x := range r.Methods {
		if x == m {
			return true
		}
	}
	return false
}
