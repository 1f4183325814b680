package federated

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/lumen-trade/signin/internal/autherr"
	"github.com/lumen-trade/signin/internal/identity"
)

// Config describes the external identity provider.
type Config struct {
	ClientID     string
	ClientSecret string
	AuthURL      string
	TokenURL     string
	UserInfoURL  string
	RedirectURL  string
	Scopes       []string
}

// Provider runs the authorization code flow with PKCE and fetches the
// signed-in user's profile.
type Provider struct {
	oauth       *oauth2.Config
	userInfoURL string
	httpClient  *http.Client
}

func NewProvider(cfg Config) *Provider {
	scopes := cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userInfoURL: cfg.UserInfoURL,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

// AuthCodeURL builds the consent redirect carrying state and the S256
// challenge for verifier.
func (p *Provider) AuthCodeURL(state, verifier string) string {
	return p.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline, oauth2.S256ChallengeOption(verifier))
}

type userInfo struct {
	Email         string `json:"email"`
	EmailVerified *bool  `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// Exchange redeems code and returns the provider profile. A code the provider
// refuses is an invalid credential; transport faults mean the provider is
// unavailable.
func (p *Provider) Exchange(ctx context.Context, code, verifier string) (identity.Profile, error) {
	if strings.TrimSpace(code) == "" {
		return identity.Profile{}, autherr.Invalid("code", "authorization code is required")
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	token, err := p.oauth.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		var retrieve *oauth2.RetrieveError
		if errors.As(err, &retrieve) && retrieve.Response != nil && retrieve.Response.StatusCode < 500 {
			return identity.Profile{}, autherr.ErrInvalidCredential
		}
		return identity.Profile{}, fmt.Errorf("%w: token exchange: %v", autherr.ErrProviderUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return identity.Profile{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := p.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return identity.Profile{}, fmt.Errorf("%w: userinfo: %v", autherr.ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return identity.Profile{}, fmt.Errorf("%w: userinfo status %d", autherr.ErrProviderUnavailable, resp.StatusCode)
	}

	var info userInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return identity.Profile{}, fmt.Errorf("%w: decode userinfo: %v", autherr.ErrProviderUnavailable, err)
	}
	email := strings.ToLower(strings.TrimSpace(info.Email))
	if email == "" || (info.EmailVerified != nil && !*info.EmailVerified) {
		return identity.Profile{}, autherr.ErrInvalidCredential
	}
	return identity.Profile{Email: email, DisplayName: strings.TrimSpace(info.Name), PhotoURL: info.Picture}, nil
}
