package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const minSessionSecretLength = 32

// WebAuthn holds relying-party settings.
type WebAuthn struct {
	RPID         string        `env:"WEBAUTHN_RP_ID"         envDefault:"localhost"`
	RPName       string        `env:"WEBAUTHN_RP_NAME"`
	RPOrigins    []string      `env:"WEBAUTHN_RP_ORIGINS"    envSeparator:"," envDefault:"http://localhost:8080"`
	ChallengeTTL time.Duration `env:"WEBAUTHN_CHALLENGE_TTL" envDefault:"5m"`
}

// OTP controls passcode issuance and delivery.
type OTP struct {
	TTL         time.Duration `env:"OTP_TTL"          envDefault:"5m"`
	MaxAttempts int           `env:"OTP_MAX_ATTEMPTS" envDefault:"5"`
	SendTimeout time.Duration `env:"OTP_SEND_TIMEOUT" envDefault:"15s"`
}

// SMS configures the outbound SMS gateway. An empty API key routes messages to the log.
type SMS struct {
	APIKey  string `env:"SMS_API_KEY"`
	BaseURL string `env:"SMS_BASE_URL" envDefault:"https://www.fast2sms.com/dev/bulkV2"`
	Sender  string `env:"SMS_SENDER"`
}

// OAuth configures federated sign-in. Disabled when ClientID is empty.
type OAuth struct {
	ClientID     string   `env:"OAUTH_CLIENT_ID"`
	ClientSecret string   `env:"OAUTH_CLIENT_SECRET"`
	AuthURL      string   `env:"OAUTH_AUTH_URL"     envDefault:"https://accounts.google.com/o/oauth2/auth"`
	TokenURL     string   `env:"OAUTH_TOKEN_URL"    envDefault:"https://oauth2.googleapis.com/token"`
	UserInfoURL  string   `env:"OAUTH_USERINFO_URL" envDefault:"https://openidconnect.googleapis.com/v1/userinfo"`
	RedirectURL  string   `env:"OAUTH_REDIRECT_URL" envDefault:"http://localhost:8080/api/v1/auth/federated/callback"`
	Scopes       []string `env:"OAUTH_SCOPES"       envSeparator:"," envDefault:"openid,email,profile"`
}

// Enabled reports whether federated sign-in is configured.
func (o OAuth) Enabled() bool { return o.ClientID != "" }

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME"         envDefault:"Lumen Trade"`
	AppEnv         string        `env:"APP_ENV"          envDefault:"development"`
	Port           string        `env:"PORT"             envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL"        envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL"  envDefault:"24h"`

	SessionSecret string `env:"SESSION_SECRET"`
	BcryptCost    int    `env:"BCRYPT_COST" envDefault:"12"`

	PhoneCountryCode    string `env:"PHONE_COUNTRY_CODE"    envDefault:"91"`
	PhoneNationalLength int    `env:"PHONE_NATIONAL_LENGTH" envDefault:"10"`

	LoginFlowTTL      time.Duration `env:"LOGIN_FLOW_TTL"       envDefault:"15m"`
	LoginMaxPerMinute int           `env:"LOGIN_MAX_PER_MINUTE" envDefault:"5"`

	WebAuthn WebAuthn
	OTP      OTP
	SMS      SMS
	OAuth    OAuth
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	if cfg.WebAuthn.RPName == "" {
		cfg.WebAuthn.RPName = cfg.AppName
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants env tags cannot express.
func (c Config) Validate() error {
	if !c.IsDev() {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL must be set")
		}
	}
	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if c.PhoneNationalLength <= 0 || c.PhoneCountryCode == "" {
		return fmt.Errorf("phone numbering plan is incomplete")
	}
	if c.OTP.SendTimeout <= 0 || c.OTP.SendTimeout > 15*time.Second {
		return fmt.Errorf("OTP_SEND_TIMEOUT must be within (0, 15s]")
	}
	return nil
}

// IsDev reports whether the process runs in a local development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

// Secure reports whether cookies must carry the Secure attribute.
func (c Config) Secure() bool { return !c.IsDev() }

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
