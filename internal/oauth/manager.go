// Package oauth owns the Google Calendar credential of each user: the
// authorization-code flow, encrypted storage, and access token refresh.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/aanjaneya24/smartsched/internal/crypto"
	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/metrics"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// expiryBuffer is how long before expiry an access token is treated as stale.
const expiryBuffer = 5 * time.Minute

// defaultTokenLifetime applies when the provider omits expires_in.
const defaultTokenLifetime = time.Hour

var (
	ErrNotConfigured  = errors.New("google calendar is not configured")
	ErrNotConnected   = errors.New("google calendar not connected")
	ErrReauthRequired = errors.New("google calendar reauthorization required")
	ErrTransient      = errors.New("temporary google calendar failure")
	ErrMissingCode    = errors.New("authorization code is required")
)

// CredentialStore persists the per-user credential. Implemented by *db.DB.
type CredentialStore interface {
	GetCredential(ctx context.Context, userID string) (*db.StoredCredential, error)
	SaveCredential(ctx context.Context, userID string, cred *db.StoredCredential) error
	UpdateAccessToken(ctx context.Context, userID, accessTokenCipher string, expiry time.Time) error
	MarkDisconnected(ctx context.Context, userID string) error
	ClearCredential(ctx context.Context, userID string) error
}

// ReauthHook is called after a credential becomes unusable.
type ReauthHook func(ctx context.Context, userID string, cause error)

// Status is the connection state reported to the user.
type Status struct {
	Connected          bool    `json:"connected"`
	RemoteAccountEmail *string `json:"remoteAccountEmail"`
}

// Manager runs the token lifecycle for all users.
type Manager struct {
	store    CredentialStore
	vault    *crypto.Vault
	provider Provider
	state    *StateCodec
	onReauth ReauthHook
	now      func() time.Time

	refreshes singleflight.Group
}

// NewManager creates a manager. provider may be nil when Google client
// credentials are not configured; operations that need it then return
// ErrNotConfigured.
func NewManager(store CredentialStore, vault *crypto.Vault, provider Provider, state *StateCodec) *Manager {
	return &Manager{
		store:    store,
		vault:    vault,
		provider: provider,
		state:    state,
		now:      time.Now,
	}
}

// OnReauthRequired registers a hook fired when a credential is revoked or unusable.
func (m *Manager) OnReauthRequired(hook ReauthHook) {
	m.onReauth = hook
}

// Configured reports whether a provider is available.
func (m *Manager) Configured() bool {
	return m.provider != nil
}

// BeginAuthorization returns the Google consent URL for the user.
func (m *Manager) BeginAuthorization(ctx context.Context, userID string) (string, error) {
	if m.provider == nil {
		return "", ErrNotConfigured
	}

	state, err := m.state.Encode(userID)
	if err != nil {
		return "", err
	}

	return m.provider.AuthCodeURL(state), nil
}

// CompleteAuthorization handles the OAuth callback. It verifies the state,
// exchanges the code, and stores the encrypted tokens. It returns the id of
// the user the state was issued to and the connected account email.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, state string) (string, string, error) {
	if m.provider == nil {
		return "", "", ErrNotConfigured
	}

	userID, err := m.state.Decode(state)
	if err != nil {
		return "", "", err
	}
	if code == "" {
		return "", "", ErrMissingCode
	}

	grant, err := m.provider.Exchange(ctx, code)
	if err != nil {
		return "", "", err
	}

	accessCipher, err := m.vault.Encrypt(grant.AccessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}

	cred := &db.StoredCredential{
		Connected:          true,
		AccessTokenCipher:  accessCipher,
		Expiry:             m.expiryOrDefault(grant.Expiry),
		RemoteAccountEmail: &grant.Email,
	}

	if grant.RefreshToken != "" {
		refreshCipher, err := m.vault.Encrypt(grant.RefreshToken)
		if err != nil {
			return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
		}
		cred.RefreshTokenCipher = &refreshCipher
	} else {
		log.Printf("[OAuth] No refresh token received for user %s, calendar access will end when the access token expires", userID)
	}

	if err := m.store.SaveCredential(ctx, userID, cred); err != nil {
		return "", "", fmt.Errorf("failed to save credential: %w", err)
	}

	log.Printf("[OAuth] Google Calendar connected for user %s (%s)", userID, grant.Email)
	return userID, grant.Email, nil
}

// ValidAccessToken returns a usable access token, refreshing it first when
// it expires within the buffer.
func (m *Manager) ValidAccessToken(ctx context.Context, userID string) (string, error) {
	token, err := m.Credentials(ctx, userID)
	if err != nil {
		return "", err
	}
	return token.AccessToken, nil
}

// Credentials returns a valid oauth2 token for the user. The refresh token is
// never handed out, so every refresh goes through the manager.
func (m *Manager) Credentials(ctx context.Context, userID string) (*oauth2.Token, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if !cred.Connected {
		return nil, ErrNotConnected
	}

	if !m.now().Before(cred.Expiry.Add(-expiryBuffer)) {
		return m.Refresh(ctx, userID)
	}

	access, err := m.vault.Decrypt(cred.AccessTokenCipher)
	if err != nil {
		return nil, m.revoke(ctx, userID, fmt.Errorf("%w: %w", ErrReauthRequired, err))
	}

	return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: cred.Expiry}, nil
}

// TokenSource returns an oauth2.TokenSource bound to the user. Each call to
// Token goes through Credentials, so long-running batches refresh in place.
func (m *Manager) TokenSource(ctx context.Context, userID string) oauth2.TokenSource {
	return &userTokenSource{ctx: ctx, manager: m, userID: userID}
}

type userTokenSource struct {
	ctx     context.Context
	manager *Manager
	userID  string
}

func (s *userTokenSource) Token() (*oauth2.Token, error) {
	return s.manager.Credentials(s.ctx, s.userID)
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent calls for the same user share a single provider round trip,
// and a caller that arrives after another refresh landed reuses its result.
// The shared round trip outlives any one caller; a cancelled caller returns
// its own context error while the others keep waiting.
func (m *Manager) Refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	flightCtx := context.WithoutCancel(ctx)
	ch := m.refreshes.DoChan(userID, func() (any, error) {
		return m.refresh(flightCtx, userID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*oauth2.Token), nil
	}
}

func (m *Manager) refresh(ctx context.Context, userID string) (*oauth2.Token, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if !cred.Connected {
		return nil, ErrNotConnected
	}

	if m.now().Before(cred.Expiry.Add(-expiryBuffer)) {
		if access, err := m.vault.Decrypt(cred.AccessTokenCipher); err == nil {
			return &oauth2.Token{AccessToken: access, TokenType: "Bearer", Expiry: cred.Expiry}, nil
		}
	}

	if cred.RefreshTokenCipher == nil {
		metrics.ObserveTokenRefresh("no_refresh_token")
		return nil, m.revoke(ctx, userID, fmt.Errorf("%w: no refresh token stored", ErrReauthRequired))
	}

	refreshToken, err := m.vault.Decrypt(*cred.RefreshTokenCipher)
	if err != nil {
		metrics.ObserveTokenRefresh("undecryptable")
		return nil, m.revoke(ctx, userID, fmt.Errorf("%w: %w", ErrReauthRequired, err))
	}

	if m.provider == nil {
		return nil, ErrNotConfigured
	}

	log.Printf("[OAuth] Refreshing access token for user %s", userID)
	grant, err := m.provider.Refresh(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, ErrReauthRequired) {
			metrics.ObserveTokenRefresh("revoked")
			return nil, m.revoke(ctx, userID, err)
		}
		metrics.ObserveTokenRefresh("failed")
		log.Printf("[OAuth] Token refresh failed for user %s: %v", userID, err)
		return nil, err
	}

	accessCipher, err := m.vault.Encrypt(grant.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt access token: %w", err)
	}

	expiry := m.expiryOrDefault(grant.Expiry)
	if err := m.store.UpdateAccessToken(ctx, userID, accessCipher, expiry); err != nil {
		return nil, fmt.Errorf("failed to store refreshed token: %w", err)
	}

	metrics.ObserveTokenRefresh("ok")
	log.Printf("[OAuth] Access token refreshed for user %s", userID)
	return &oauth2.Token{AccessToken: grant.AccessToken, TokenType: "Bearer", Expiry: expiry}, nil
}

// revoke marks the credential disconnected, fires the hook, and returns cause.
func (m *Manager) revoke(ctx context.Context, userID string, cause error) error {
	log.Printf("[OAuth] Credential for user %s is unusable, marking disconnected: %v", userID, cause)

	if err := m.store.MarkDisconnected(ctx, userID); err != nil {
		log.Printf("[OAuth] Failed to mark user %s disconnected: %v", userID, err)
	}

	if m.onReauth != nil {
		m.onReauth(ctx, userID, cause)
	}

	return cause
}

// Disconnect clears the user's credential. Calling it again is a no-op.
func (m *Manager) Disconnect(ctx context.Context, userID string) error {
	if err := m.store.ClearCredential(ctx, userID); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	log.Printf("[OAuth] Google Calendar disconnected for user %s", userID)
	return nil
}

// Status reports whether the user is connected and to which account.
func (m *Manager) Status(ctx context.Context, userID string) (*Status, error) {
	cred, err := m.store.GetCredential(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}

	status := &Status{Connected: cred.Connected}
	if cred.Connected {
		status.RemoteAccountEmail = cred.RemoteAccountEmail
	}
	return status, nil
}

func (m *Manager) expiryOrDefault(expiry time.Time) time.Time {
	if expiry.IsZero() {
		return m.now().Add(defaultTokenLifetime).UTC()
	}
	return expiry.UTC()
}
