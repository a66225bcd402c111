package oauth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aanjaneya24/smartsched/internal/crypto"
	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	exchange    *Grant
	exchangeErr error

	refresh     func(ctx context.Context, refreshToken string) (*Grant, error)
	refreshCall atomic.Int32
}

func (p *fakeProvider) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (p *fakeProvider) Exchange(context.Context, string) (*Grant, error) {
	return p.exchange, p.exchangeErr
}

func (p *fakeProvider) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	p.refreshCall.Add(1)
	return p.refresh(ctx, refreshToken)
}

type fixture struct {
	db       *db.DB
	vault    *crypto.Vault
	provider *fakeProvider
	manager  *Manager
	userID   string
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	vault, err := crypto.NewVault([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	user, err := database.GetOrCreateUser(context.Background(), "ada@example.com", "Ada")
	require.NoError(t, err)

	provider := &fakeProvider{}
	f := &fixture{
		db:       database,
		vault:    vault,
		provider: provider,
		userID:   user.ID,
		now:      time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC),
	}
	f.manager = NewManager(database, vault, provider, NewStateCodec([]byte("a-session-secret-that-is-long-enough")))
	f.manager.now = func() time.Time { return f.now }
	return f
}

// connect stores a credential that expires at the given time.
func (f *fixture) connect(t *testing.T, access string, refresh *string, expiry time.Time) {
	t.Helper()

	accessCipher, err := f.vault.Encrypt(access)
	require.NoError(t, err)

	cred := &db.StoredCredential{Connected: true, AccessTokenCipher: accessCipher, Expiry: expiry}
	if refresh != nil {
		c, err := f.vault.Encrypt(*refresh)
		require.NoError(t, err)
		cred.RefreshTokenCipher = &c
	}
	require.NoError(t, f.db.SaveCredential(context.Background(), f.userID, cred))
}

func strPtr(s string) *string { return &s }

func TestBeginAuthorization(t *testing.T) {
	f := newFixture(t)

	url, err := f.manager.BeginAuthorization(context.Background(), f.userID)
	require.NoError(t, err)
	assert.Contains(t, url, "state=")

	t.Run("not configured", func(t *testing.T) {
		m := NewManager(f.db, f.vault, nil, NewStateCodec([]byte("secret")))
		_, err := m.BeginAuthorization(context.Background(), f.userID)
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.False(t, m.Configured())
	})
}

func TestCompleteAuthorization(t *testing.T) {
	ctx := context.Background()

	t.Run("stores encrypted tokens", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchange = &Grant{AccessToken: "at", RefreshToken: "rt", Expiry: f.now.Add(time.Hour), Email: "ada@gmail.com"}

		state, err := f.manager.state.Encode(f.userID)
		require.NoError(t, err)

		userID, email, err := f.manager.CompleteAuthorization(ctx, "code", state)
		require.NoError(t, err)
		assert.Equal(t, f.userID, userID)
		assert.Equal(t, "ada@gmail.com", email)

		cred, err := f.db.GetCredential(ctx, f.userID)
		require.NoError(t, err)
		assert.True(t, cred.Connected)
		assert.NotEqual(t, "at", cred.AccessTokenCipher)
		require.NotNil(t, cred.RefreshTokenCipher)

		plain, err := f.vault.Decrypt(*cred.RefreshTokenCipher)
		require.NoError(t, err)
		assert.Equal(t, "rt", plain)

		status, err := f.manager.Status(ctx, f.userID)
		require.NoError(t, err)
		assert.True(t, status.Connected)
		require.NotNil(t, status.RemoteAccountEmail)
		assert.Equal(t, "ada@gmail.com", *status.RemoteAccountEmail)
	})

	t.Run("missing refresh token still connects", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchange = &Grant{AccessToken: "at", Expiry: f.now.Add(time.Hour), Email: "ada@gmail.com"}
		state, _ := f.manager.state.Encode(f.userID)

		_, _, err := f.manager.CompleteAuthorization(ctx, "code", state)
		require.NoError(t, err)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		assert.True(t, cred.Connected)
		assert.Nil(t, cred.RefreshTokenCipher)
	})

	t.Run("tampered state is rejected", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchange = &Grant{AccessToken: "at"}
		state, _ := f.manager.state.Encode(f.userID)

		_, _, err := f.manager.CompleteAuthorization(ctx, "code", state+"x")
		assert.ErrorIs(t, err, ErrInvalidState)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		assert.False(t, cred.Connected)
	})

	t.Run("missing code", func(t *testing.T) {
		f := newFixture(t)
		state, _ := f.manager.state.Encode(f.userID)

		_, _, err := f.manager.CompleteAuthorization(ctx, "", state)
		assert.ErrorIs(t, err, ErrMissingCode)
	})

	t.Run("exchange failure leaves user disconnected", func(t *testing.T) {
		f := newFixture(t)
		f.provider.exchangeErr = ErrTokenExchange
		state, _ := f.manager.state.Encode(f.userID)

		_, _, err := f.manager.CompleteAuthorization(ctx, "code", state)
		assert.ErrorIs(t, err, ErrTokenExchange)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		assert.False(t, cred.Connected)
	})
}

func TestValidAccessToken(t *testing.T) {
	ctx := context.Background()

	t.Run("not connected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, ErrNotConnected)
	})

	t.Run("fresh token is returned without refresh", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "at", strPtr("rt"), f.now.Add(time.Hour))

		token, err := f.manager.ValidAccessToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, "at", token)
		assert.Equal(t, int32(0), f.provider.refreshCall.Load())
	})

	t.Run("token inside the buffer is refreshed", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "old", strPtr("rt"), f.now.Add(4*time.Minute))
		f.provider.refresh = func(_ context.Context, rt string) (*Grant, error) {
			assert.Equal(t, "rt", rt)
			return &Grant{AccessToken: "new", Expiry: f.now.Add(time.Hour)}, nil
		}

		token, err := f.manager.ValidAccessToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, "new", token)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		plain, err := f.vault.Decrypt(cred.AccessTokenCipher)
		require.NoError(t, err)
		assert.Equal(t, "new", plain)
		assert.True(t, cred.Expiry.Equal(f.now.Add(time.Hour)))
	})

	t.Run("exactly at the buffer boundary refreshes", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "old", strPtr("rt"), f.now.Add(expiryBuffer))
		f.provider.refresh = func(context.Context, string) (*Grant, error) {
			return &Grant{AccessToken: "new", Expiry: f.now.Add(time.Hour)}, nil
		}

		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		require.NoError(t, err)
		assert.Equal(t, int32(1), f.provider.refreshCall.Load())
	})

	t.Run("undecryptable access token forces reauth", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.db.SaveCredential(ctx, f.userID, &db.StoredCredential{
			Connected: true, AccessTokenCipher: "garbage", Expiry: f.now.Add(time.Hour),
		}))

		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, ErrReauthRequired)
		assert.ErrorIs(t, err, crypto.ErrDecryption)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		assert.False(t, cred.Connected)
	})
}

func TestRefreshFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("revoked grant disconnects and fires hook", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "old", strPtr("rt"), f.now.Add(-time.Minute))
		f.provider.refresh = func(context.Context, string) (*Grant, error) {
			return nil, errors.Join(ErrReauthRequired, errors.New("invalid_grant"))
		}

		var hooked string
		f.manager.OnReauthRequired(func(_ context.Context, userID string, _ error) { hooked = userID })

		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, ErrReauthRequired)
		assert.Equal(t, f.userID, hooked)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		assert.False(t, cred.Connected)
	})

	t.Run("transient failure changes nothing", func(t *testing.T) {
		f := newFixture(t)
		expiry := f.now.Add(-time.Minute)
		f.connect(t, "old", strPtr("rt"), expiry)
		before, _ := f.db.GetCredential(ctx, f.userID)
		f.provider.refresh = func(context.Context, string) (*Grant, error) {
			return nil, ErrTransient
		}

		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, ErrTransient)

		after, _ := f.db.GetCredential(ctx, f.userID)
		assert.True(t, after.Connected)
		assert.Equal(t, before.AccessTokenCipher, after.AccessTokenCipher)
	})

	t.Run("missing refresh token forces reauth", func(t *testing.T) {
		f := newFixture(t)
		f.connect(t, "old", nil, f.now.Add(-time.Minute))

		var hooked string
		var cause error
		f.manager.OnReauthRequired(func(_ context.Context, userID string, err error) { hooked, cause = userID, err })

		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, ErrReauthRequired)
		assert.Equal(t, int32(0), f.provider.refreshCall.Load())
		assert.Equal(t, f.userID, hooked)
		assert.ErrorIs(t, cause, ErrReauthRequired)

		cred, _ := f.db.GetCredential(ctx, f.userID)
		assert.False(t, cred.Connected)
	})

	t.Run("undecryptable refresh token forces reauth", func(t *testing.T) {
		f := newFixture(t)
		accessCipher, _ := f.vault.Encrypt("old")
		bad := "not-a-cipher"
		require.NoError(t, f.db.SaveCredential(ctx, f.userID, &db.StoredCredential{
			Connected: true, AccessTokenCipher: accessCipher, RefreshTokenCipher: &bad, Expiry: f.now.Add(-time.Minute),
		}))

		_, err := f.manager.ValidAccessToken(ctx, f.userID)
		assert.ErrorIs(t, err, ErrReauthRequired)
		assert.ErrorIs(t, err, crypto.ErrDecryption)
	})
}

func TestConcurrentRefreshIsSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "old", strPtr("rt"), f.now.Add(-time.Minute))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.provider.refresh = func(context.Context, string) (*Grant, error) {
		once.Do(func() { close(started) })
		<-release
		return &Grant{AccessToken: "new", Expiry: f.now.Add(time.Hour)}, nil
	}

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = f.manager.ValidAccessToken(context.Background(), f.userID)
		}(i)
	}

	<-started
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "new", tokens[i])
	}
	assert.Equal(t, int32(1), f.provider.refreshCall.Load())
}

func TestSharedRefreshSurvivesCancelledCaller(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "old", strPtr("rt"), f.now.Add(-time.Minute))

	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	f.provider.refresh = func(ctx context.Context, _ string) (*Grant, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return &Grant{AccessToken: "new", Expiry: f.now.Add(time.Hour)}, nil
	}

	type result struct {
		token string
		err   error
	}

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	resA := make(chan result, 1)
	go func() {
		token, err := f.manager.ValidAccessToken(ctxA, f.userID)
		resA <- result{token, err}
	}()
	<-started

	resB := make(chan result, 1)
	go func() {
		token, err := f.manager.ValidAccessToken(context.Background(), f.userID)
		resB <- result{token, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancelA()
	a := <-resA
	assert.ErrorIs(t, a.err, context.Canceled)

	close(release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, "new", b.token)
	assert.Equal(t, int32(1), f.provider.refreshCall.Load())

	cred, err := f.db.GetCredential(context.Background(), f.userID)
	require.NoError(t, err)
	assert.True(t, cred.Connected)
	assert.True(t, cred.Expiry.After(f.now))
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.connect(t, "at", strPtr("rt"), f.now.Add(time.Hour))

	require.NoError(t, f.manager.Disconnect(ctx, f.userID))
	require.NoError(t, f.manager.Disconnect(ctx, f.userID))

	status, err := f.manager.Status(ctx, f.userID)
	require.NoError(t, err)
	assert.False(t, status.Connected)
	assert.Nil(t, status.RemoteAccountEmail)

	_, err = f.manager.ValidAccessToken(ctx, f.userID)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestTokenSource(t *testing.T) {
	f := newFixture(t)
	f.connect(t, "at", strPtr("rt"), f.now.Add(time.Hour))

	token, err := f.manager.TokenSource(context.Background(), f.userID).Token()
	require.NoError(t, err)
	assert.Equal(t, "at", token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)
}
