// Package auth supplies authenticated HTTP clients for the Exact Online API.
//
// Two modes exist: a static access token, and OAuth2 with refresh tokens
// persisted to a TokenStore. Both hand out an *http.Client that attaches the
// bearer token itself, so the rest of the connector never sees raw tokens.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// Mode selects how requests are authenticated.
type Mode string

const (
	ModeAccessToken Mode = "accessToken"
	ModeOAuth2      Mode = "oAuth2"
)

// Credential type identifiers, one per mode.
const (
	CredentialAccessToken = "exactOnlineApi"
	CredentialOAuth2      = "exactOnlineApiOAuth2Api"
)

// ParseMode validates a mode name. Empty means OAuth2.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "oauth2":
		return ModeOAuth2, nil
	case "accesstoken":
		return ModeAccessToken, nil
	}
	return "", fmt.Errorf("unknown authentication mode: %s", s)
}

// Provider resolves the base URL and an authenticated client for a mode.
type Provider interface {
	Mode() Mode
	CredentialType() string
	BaseURL() string
	Client(ctx context.Context) (*http.Client, error)
}

// AccessTokenProvider authenticates with a fixed bearer token.
type AccessTokenProvider struct {
	baseURL string
	token   string
	timeout time.Duration
}

// NewAccessToken creates a provider for a static access token.
func NewAccessToken(baseURL, token string, timeout time.Duration) *AccessTokenProvider {
	return &AccessTokenProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		timeout: timeout,
	}
}

func (p *AccessTokenProvider) Mode() Mode             { return ModeAccessToken }
func (p *AccessTokenProvider) CredentialType() string { return CredentialAccessToken }
func (p *AccessTokenProvider) BaseURL() string        { return p.baseURL }

// Client returns a client that sends the static token.
func (p *AccessTokenProvider) Client(ctx context.Context) (*http.Client, error) {
	if p.token == "" {
		return nil, fmt.Errorf("access token is empty")
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: p.token, TokenType: "Bearer"})
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = p.timeout
	return client, nil
}

// OAuth2Config configures the OAuth2 provider.
type OAuth2Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// RefreshToken bootstraps the flow when the store holds no token yet.
	RefreshToken string
	Store        *TokenStore
	Timeout      time.Duration
	Logger       *slog.Logger
}

// OAuth2Provider authenticates with refreshable OAuth2 tokens.
type OAuth2Provider struct {
	cfg    OAuth2Config
	conf   *oauth2.Config
	logger *slog.Logger

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewOAuth2 creates an OAuth2 provider against the Exact Online token
// endpoint of cfg.BaseURL.
func NewOAuth2(cfg OAuth2Config) *OAuth2Provider {
	base := strings.TrimSuffix(cfg.BaseURL, "/")
	cfg.BaseURL = base
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OAuth2Provider{
		cfg:    cfg,
		logger: logger,
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint: oauth2.Endpoint{
				AuthURL:  base + "/api/oauth2/auth",
				TokenURL: base + "/api/oauth2/token",
				// Exact expects client credentials in the refresh request body.
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
	}
}

func (p *OAuth2Provider) Mode() Mode             { return ModeOAuth2 }
func (p *OAuth2Provider) CredentialType() string { return CredentialOAuth2 }
func (p *OAuth2Provider) BaseURL() string        { return p.cfg.BaseURL }

// AuthCodeURL returns the consent URL for the first authorization.
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.conf.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange trades an authorization code for a token and saves it.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	token, err := p.conf.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}
	if p.cfg.Store != nil {
		if err := p.cfg.Store.Save(token); err != nil {
			return nil, err
		}
	}
	return token, nil
}

// Client returns a client that refreshes and persists tokens as needed.
func (p *OAuth2Provider) Client(ctx context.Context) (*http.Client, error) {
	ts, err := p.tokenSource(ctx)
	if err != nil {
		return nil, err
	}
	client := oauth2.NewClient(ctx, ts)
	client.Timeout = p.cfg.Timeout
	return client, nil
}

func (p *OAuth2Provider) tokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.source != nil {
		return p.source, nil
	}

	var token *oauth2.Token
	if p.cfg.Store != nil {
		saved, err := p.cfg.Store.Load()
		if err != nil {
			return nil, err
		}
		token = saved
	}
	if token == nil {
		if p.cfg.RefreshToken == "" {
			return nil, fmt.Errorf("no saved token found and no refresh token configured")
		}
		// A zero expiry with an empty access token forces a refresh on first use.
		token = &oauth2.Token{RefreshToken: p.cfg.RefreshToken}
	}

	p.logger.Debug("loaded OAuth2 token", "expires_at", token.Expiry, "has_refresh_token", token.RefreshToken != "")

	p.source = &persistingSource{
		base:   p.conf.TokenSource(ctx, token),
		store:  p.cfg.Store,
		last:   token.AccessToken,
		logger: p.logger,
	}
	return p.source, nil
}

// persistingSource saves every refreshed token back to the store.
type persistingSource struct {
	base   oauth2.TokenSource
	store  *TokenStore
	logger *slog.Logger

	mu   sync.Mutex
	last string
}

func (s *persistingSource) Token() (*oauth2.Token, error) {
	token, err := s.base.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if token.AccessToken != s.last {
		s.last = token.AccessToken
		s.logger.Info("token refreshed", "new_expiry", token.Expiry)
		if s.store != nil {
			if err := s.store.Save(token); err != nil {
				s.logger.Warn("failed to save refreshed token", "error", err)
			}
		}
	}
	return token, nil
}
