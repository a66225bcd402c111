package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aanjaneya24/smartsched/internal/oauth"
	"github.com/aanjaneya24/smartsched/internal/validator"
	"github.com/joho/godotenv"
)

var (
	ErrMissingConfig     = errors.New("missing required configuration")
	ErrInvalidConfig     = errors.New("invalid configuration value")
	ErrEncryptionKeySize = errors.New("encryption key must be exactly 32 bytes (64 hex characters)")
	ErrSessionSecretSize = errors.New("session secret must be at least 32 characters")
	ErrValidationFailed  = errors.New("configuration validation failed")
)

// Environment represents the deployment environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig
	Google       GoogleConfig
	Security     SecurityConfig
	Database     DatabaseConfig
	RateLimiting RateLimitConfig
	Sync         SyncConfig
	Alerts       AlertConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port        int
	BaseURL     string
	Environment Environment
}

// GoogleConfig holds the Google OAuth client. The calendar integration is
// disabled when the client id or secret is absent.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	EncryptionKey     []byte
	SessionSecret     string
	SessionMaxAgeSecs int
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RPS   float64
	Burst int
}

// SyncConfig holds calendar sync tuning.
type SyncConfig struct {
	Location            *time.Location
	OccurrenceLimit     int
	RequestDelay        time.Duration
	CleanupWindowMonths int
}

// AlertConfig holds credential revocation alert settings.
type AlertConfig struct {
	WebhookEnabled  bool
	WebhookURL      string
	EmailEnabled    bool
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	SMTPTo          []string
	SMTPTLS         bool
	CooldownMinutes int
}

// Load loads configuration from environment variables.
// It attempts to load from .env file first, but continues if not found.
func Load() (*Config, error) {
	_ = godotenv.Load() //nolint:errcheck // .env file is optional

	cfg := &Config{}

	port, err := getEnvInt("PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("%w: PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Server.Port = port
	cfg.Server.BaseURL = strings.TrimSuffix(getEnvRequired("BASE_URL"), "/")
	cfg.Server.Environment = Environment(strings.ToLower(getEnv("ENVIRONMENT", "production")))

	cfg.Google.ClientID = getEnvRequired("GOOGLE_CLIENT_ID")
	cfg.Google.ClientSecret = getEnvRequired("GOOGLE_CLIENT_SECRET")
	cfg.Google.RedirectURL = getEnv("GOOGLE_REDIRECT_URI", cfg.Server.BaseURL+"/api/google-calendar/callback")

	encKeyHex := getEnvRequired("ENCRYPTION_KEY")
	if encKeyHex != "" {
		encKey, err := hex.DecodeString(encKeyHex)
		if err != nil {
			return nil, fmt.Errorf("%w: ENCRYPTION_KEY: invalid hex: %w", ErrInvalidConfig, err)
		}
		if len(encKey) != 32 {
			return nil, ErrEncryptionKeySize
		}
		cfg.Security.EncryptionKey = encKey
	}

	cfg.Security.SessionSecret = getEnvRequired("SESSION_SECRET")
	if cfg.Security.SessionSecret != "" && len(cfg.Security.SessionSecret) < 32 {
		return nil, ErrSessionSecretSize
	}

	sessionMaxAge, err := getEnvInt("SESSION_MAX_AGE_SECS", 7*24*60*60)
	if err != nil {
		return nil, fmt.Errorf("%w: SESSION_MAX_AGE_SECS: %w", ErrInvalidConfig, err)
	}
	cfg.Security.SessionMaxAgeSecs = sessionMaxAge

	cfg.Database.Path = getEnv("DATABASE_PATH", "./data/smartsched.db")

	rps, err := getEnvFloat("RATE_LIMIT_RPS", 10.0)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_RPS: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.RPS = rps

	burst, err := getEnvInt("RATE_LIMIT_BURST", 20)
	if err != nil {
		return nil, fmt.Errorf("%w: RATE_LIMIT_BURST: %w", ErrInvalidConfig, err)
	}
	cfg.RateLimiting.Burst = burst

	if err := loadSync(cfg); err != nil {
		return nil, err
	}
	if err := loadAlerts(cfg); err != nil {
		return nil, err
	}

	missing := cfg.getMissingRequired()
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingConfig, strings.Join(missing, ", "))
	}

	return cfg, nil
}

func loadSync(cfg *Config) error {
	loc, err := time.LoadLocation(getEnv("TIMEZONE", "UTC"))
	if err != nil {
		return fmt.Errorf("%w: TIMEZONE: %w", ErrInvalidConfig, err)
	}
	cfg.Sync.Location = loc

	limit, err := getEnvInt("SYNC_OCCURRENCE_LIMIT", 10)
	if err != nil || limit < 1 {
		return fmt.Errorf("%w: SYNC_OCCURRENCE_LIMIT must be a positive integer", ErrInvalidConfig)
	}
	cfg.Sync.OccurrenceLimit = limit

	delayMS, err := getEnvInt("SYNC_REQUEST_DELAY_MS", 200)
	if err != nil || delayMS < 0 {
		return fmt.Errorf("%w: SYNC_REQUEST_DELAY_MS must be zero or more", ErrInvalidConfig)
	}
	cfg.Sync.RequestDelay = time.Duration(delayMS) * time.Millisecond
	if delayMS == 0 {
		cfg.Sync.RequestDelay = -1
	}

	months, err := getEnvInt("CLEANUP_WINDOW_MONTHS", 6)
	if err != nil || months < 1 {
		return fmt.Errorf("%w: CLEANUP_WINDOW_MONTHS must be a positive integer", ErrInvalidConfig)
	}
	cfg.Sync.CleanupWindowMonths = months

	return nil
}

func loadAlerts(cfg *Config) error {
	cfg.Alerts.WebhookEnabled = getEnvBool("ALERT_WEBHOOK_ENABLED", false)
	cfg.Alerts.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")
	cfg.Alerts.EmailEnabled = getEnvBool("ALERT_EMAIL_ENABLED", false)
	cfg.Alerts.SMTPHost = getEnv("SMTP_HOST", "")
	cfg.Alerts.SMTPUsername = getEnv("SMTP_USERNAME", "")
	cfg.Alerts.SMTPPassword = getEnv("SMTP_PASSWORD", "")
	cfg.Alerts.SMTPFrom = getEnv("SMTP_FROM", "")
	cfg.Alerts.SMTPTLS = getEnvBool("SMTP_TLS", false)

	for _, to := range strings.Split(getEnv("SMTP_TO", ""), ",") {
		if to = strings.TrimSpace(to); to != "" {
			cfg.Alerts.SMTPTo = append(cfg.Alerts.SMTPTo, to)
		}
	}

	smtpPort, err := getEnvInt("SMTP_PORT", 587)
	if err != nil {
		return fmt.Errorf("%w: SMTP_PORT: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.SMTPPort = smtpPort

	cooldown, err := getEnvInt("ALERT_COOLDOWN_MINUTES", 60)
	if err != nil {
		return fmt.Errorf("%w: ALERT_COOLDOWN_MINUTES: %w", ErrInvalidConfig, err)
	}
	cfg.Alerts.CooldownMinutes = cooldown

	return nil
}

// getMissingRequired returns a list of missing required configuration values.
func (c *Config) getMissingRequired() []string {
	var missing []string

	if c.Server.BaseURL == "" {
		missing = append(missing, "BASE_URL")
	}
	if len(c.Security.EncryptionKey) == 0 {
		missing = append(missing, "ENCRYPTION_KEY")
	}
	if c.Security.SessionSecret == "" {
		missing = append(missing, "SESSION_SECRET")
	}

	return missing
}

// Validate checks URL formats. The Google redirect URL is only checked when
// the calendar integration is configured.
func (c *Config) Validate() error {
	v := validator.New()

	if err := v.ValidateURL(c.Server.BaseURL, c.IsProduction()); err != nil {
		return fmt.Errorf("%w: BASE_URL: %w", ErrValidationFailed, err)
	}

	if c.GoogleConfigured() {
		if err := v.ValidateRedirectURL(c.Google.RedirectURL, c.Server.BaseURL, c.IsProduction()); err != nil {
			return fmt.Errorf("%w: GOOGLE_REDIRECT_URI: %w", ErrValidationFailed, err)
		}
	}

	return nil
}

// GoogleConfigured reports whether real Google client credentials are set.
func (c *Config) GoogleConfigured() bool {
	return oauth.Configured(c.Google.ClientID, c.Google.ClientSecret)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Server.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == EnvProduction
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvRequired returns the value of an environment variable.
// Returns empty string if not set (caller should check for required values).
func getEnvRequired(key string) string {
	return os.Getenv(key)
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	return parsed, nil
}

// getEnvFloat returns the float value of an environment variable or a default.
func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float: %w", err)
	}
	return parsed, nil
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
