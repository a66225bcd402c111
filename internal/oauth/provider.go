package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	googleIssuer  = "https://accounts.google.com"
	googleCertURL = "https://www.googleapis.com/oauth2/v3/certs"

	placeholderClientID     = "your_google_client_id_here"
	placeholderClientSecret = "your_google_client_secret_here"
)

var (
	ErrTokenExchange = errors.New("token exchange failed")
	ErrTokenVerify   = errors.New("token verification failed")
	ErrMissingEmail  = errors.New("email claim is required")
)

// Scopes requested from Google. Calendar access plus the account email.
var Scopes = []string{
	oidc.ScopeOpenID,
	"https://www.googleapis.com/auth/userinfo.email",
	"https://www.googleapis.com/auth/calendar.readonly",
	"https://www.googleapis.com/auth/calendar.events",
}

// Grant is the result of a code exchange or refresh.
type Grant struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Email        string
}

// Provider is the OAuth2 authorization server the manager talks to.
type Provider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*Grant, error)
}

// EmailVerifier extracts the verified account email from a raw ID token.
type EmailVerifier interface {
	VerifyEmail(ctx context.Context, rawIDToken string) (string, error)
}

// Configured reports whether real Google client credentials are present.
func Configured(clientID, clientSecret string) bool {
	clientID = strings.TrimSpace(clientID)
	clientSecret = strings.TrimSpace(clientSecret)
	if clientID == "" || clientSecret == "" {
		return false
	}
	return clientID != placeholderClientID && clientSecret != placeholderClientSecret
}

// GoogleConfig holds the settings for a GoogleProvider.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// Endpoint overrides google.Endpoint. Used by tests.
	Endpoint oauth2.Endpoint
	// HTTPClient is used for token requests when set.
	HTTPClient *http.Client
	// Verifier overrides the go-oidc verifier against Google's JWKS.
	Verifier EmailVerifier
}

// GoogleProvider implements Provider against Google's OAuth2 endpoints.
type GoogleProvider struct {
	config     oauth2.Config
	verifier   EmailVerifier
	httpClient *http.Client
}

// NewGoogleProvider creates a provider. It returns ErrNotConfigured when the
// client credentials are missing or still placeholders.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if !Configured(cfg.ClientID, cfg.ClientSecret) {
		return nil, ErrNotConfigured
	}

	endpoint := cfg.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = google.Endpoint
	}

	verifier := cfg.Verifier
	if verifier == nil {
		verifier = newOIDCVerifier(cfg.ClientID, cfg.HTTPClient)
	}

	return &GoogleProvider{
		config: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       Scopes,
		},
		verifier:   verifier,
		httpClient: cfg.HTTPClient,
	}, nil
}

// AuthCodeURL returns the consent URL. Offline access and a forced consent
// prompt make Google issue a refresh token on every authorization.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for tokens and the verified account email.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (*Grant, error) {
	token, err := p.config.Exchange(p.clientContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenExchange, classifyTokenError(err))
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: missing id_token", ErrTokenVerify)
	}

	email, err := p.verifier.VerifyEmail(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	return &Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
		Email:        email,
	}, nil
}

// Refresh obtains a new access token from a refresh token.
// Errors are classified as ErrReauthRequired or ErrTransient where possible.
func (p *GoogleProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	src := p.config.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken})

	token, err := src.Token()
	if err != nil {
		return nil, classifyTokenError(err)
	}

	return &Grant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}, nil
}

func (p *GoogleProvider) clientContext(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// classifyTokenError maps token endpoint failures onto the manager's error
// taxonomy. A response the server rejected for any reason other than a dead
// grant, a rate limit, or a 5xx is returned unclassified.
func classifyTokenError(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	if re.ErrorCode == "invalid_grant" {
		return fmt.Errorf("%w: %w", ErrReauthRequired, err)
	}

	if re.Response != nil {
		status := re.Response.StatusCode
		if status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
			return fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}

	return err
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// newOIDCVerifier verifies Google ID tokens against Google's published JWKS
// without a discovery round trip at startup.
func newOIDCVerifier(clientID string, client *http.Client) *oidcVerifier {
	ctx := context.Background()
	if client != nil {
		ctx = oidc.ClientContext(ctx, client)
	}
	keySet := oidc.NewRemoteKeySet(ctx, googleCertURL)
	return &oidcVerifier{
		verifier: oidc.NewVerifier(googleIssuer, keySet, &oidc.Config{ClientID: clientID}),
	}
}

type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
}

func (v *oidcVerifier) VerifyEmail(ctx context.Context, rawIDToken string) (string, error) {
	idToken, err := v.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenVerify, err)
	}

	var claims idTokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return "", fmt.Errorf("%w: failed to parse claims: %w", ErrTokenVerify, err)
	}

	return claims.verifiedEmail()
}

func (c idTokenClaims) verifiedEmail() (string, error) {
	if c.Email == "" {
		return "", ErrMissingEmail
	}
	if !c.EmailVerified {
		return "", fmt.Errorf("%w: email is not verified", ErrTokenVerify)
	}
	return c.Email, nil
}
