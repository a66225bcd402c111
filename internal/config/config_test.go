package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("BASE_URL", "https://sched.example.com/")
	t.Setenv("ENCRYPTION_KEY", testKey)
	t.Setenv("SESSION_SECRET", "0123456789abcdef0123456789abcdef")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "https://sched.example.com", cfg.Server.BaseURL)
	assert.True(t, cfg.IsProduction())
	assert.Equal(t, "https://sched.example.com/api/google-calendar/callback", cfg.Google.RedirectURL)
	assert.Len(t, cfg.Security.EncryptionKey, 32)
	assert.Equal(t, time.UTC, cfg.Sync.Location)
	assert.Equal(t, 10, cfg.Sync.OccurrenceLimit)
	assert.Equal(t, 200*time.Millisecond, cfg.Sync.RequestDelay)
	assert.Equal(t, 6, cfg.Sync.CleanupWindowMonths)
	assert.Equal(t, 60, cfg.Alerts.CooldownMinutes)
	assert.False(t, cfg.GoogleConfigured())
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("ENVIRONMENT", "Development")
	t.Setenv("GOOGLE_CLIENT_ID", "client.apps.googleusercontent.com")
	t.Setenv("GOOGLE_CLIENT_SECRET", "secret")
	t.Setenv("TIMEZONE", "Asia/Kolkata")
	t.Setenv("SYNC_REQUEST_DELAY_MS", "0")
	t.Setenv("SMTP_TO", "ops@example.com, , admin@example.com")
	t.Setenv("ALERT_EMAIL_ENABLED", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsDevelopment())
	assert.True(t, cfg.GoogleConfigured())
	assert.Equal(t, "Asia/Kolkata", cfg.Sync.Location.String())
	assert.Negative(t, cfg.Sync.RequestDelay, "zero delay disables pacing")
	assert.Equal(t, []string{"ops@example.com", "admin@example.com"}, cfg.Alerts.SMTPTo)
	assert.True(t, cfg.Alerts.EmailEnabled)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr error
	}{
		{"short key", map[string]string{"ENCRYPTION_KEY": "abcd"}, ErrEncryptionKeySize},
		{"bad hex", map[string]string{"ENCRYPTION_KEY": "zz"}, ErrInvalidConfig},
		{"short secret", map[string]string{"SESSION_SECRET": "short"}, ErrSessionSecretSize},
		{"bad port", map[string]string{"PORT": "eighty"}, ErrInvalidConfig},
		{"bad zone", map[string]string{"TIMEZONE": "Mars/Olympus"}, ErrInvalidConfig},
		{"zero limit", map[string]string{"SYNC_OCCURRENCE_LIMIT": "0"}, ErrInvalidConfig},
		{"missing base", map[string]string{"BASE_URL": ""}, ErrMissingConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{BaseURL: "https://sched.example.com", Environment: EnvProduction},
		Google: GoogleConfig{ClientID: "id", ClientSecret: "secret", RedirectURL: "https://sched.example.com/api/google-calendar/callback"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Google.RedirectURL = "https://elsewhere.example.net/callback"
	assert.ErrorIs(t, cfg.Validate(), ErrValidationFailed)

	cfg.Google.ClientID = ""
	assert.NoError(t, cfg.Validate(), "redirect is ignored when Google is not configured")

	cfg.Server.BaseURL = "http://sched.example.com"
	assert.ErrorIs(t, cfg.Validate(), ErrValidationFailed)
}
