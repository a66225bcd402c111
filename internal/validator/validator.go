package validator

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"
)

var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrHTTPSRequired    = errors.New("HTTPS is required")
	ErrPrivateIP        = errors.New("private IP addresses are not allowed")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrRedirectMismatch = errors.New("redirect URL must be served by the base URL host")
	ErrInvalidField     = errors.New("invalid field")
)

const (
	maxRedirects   = 3
	defaultTimeout = 10 * time.Second
	minTLSVersion  = tls.VersionTLS12

	MaxTitleLength    = 200
	MaxCategoryLength = 50
	MaxTextLength     = 2000
	clockLayout       = "15:04"
)

// Validator provides URL validation and an outbound HTTP client that refuses
// to dial private addresses.
type Validator struct {
	client          *http.Client
	allowPrivateIPs bool
}

// Option configures a Validator.
type Option func(*Validator)

// WithAllowPrivateIPs allows connections to private IP addresses.
func WithAllowPrivateIPs() Option {
	return func(v *Validator) {
		v.allowPrivateIPs = true
	}
}

// New creates a new Validator with the given options.
func New(opts ...Option) *Validator {
	v := &Validator{}
	for _, opt := range opts {
		opt(v)
	}

	v.client = v.createHTTPClient()
	return v
}

// Client returns the guarded HTTP client. Alert webhooks are delivered
// through it.
func (v *Validator) Client() *http.Client {
	return v.client
}

func (v *Validator) createHTTPClient() *http.Client {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: minTLSVersion,
		},
		DialContext:           v.dialWithIPCheck,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   defaultTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return ErrTooManyRedirects
			}
			return nil
		},
	}
}

func (v *Validator) dialWithIPCheck(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address: %w", err)
	}

	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("DNS resolution failed: %w", err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("DNS resolution failed: no addresses for %s", host)
	}

	for _, ip := range ips {
		if !v.allowPrivateIPs && isPrivateIP(ip.IP) {
			return nil, ErrPrivateIP
		}
	}

	dialer := &net.Dialer{
		Timeout:   defaultTimeout,
		KeepAlive: 30 * time.Second,
	}
	// Dial the checked address so a second lookup cannot swap it.
	return dialer.DialContext(ctx, network, net.JoinHostPort(ips[0].IP.String(), port))
}

// isPrivateIP checks if an IP address is private or reserved.
func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	return ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsUnspecified()
}

// ValidateURL validates a URL string.
// If requireHTTPS is true, only HTTPS URLs are accepted.
func (v *Validator) ValidateURL(rawURL string, requireHTTPS bool) error {
	if rawURL == "" {
		return ErrInvalidURL
	}

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: parse error: %w", ErrInvalidURL, err)
	}

	if parsed.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	if requireHTTPS && parsed.Scheme != "https" {
		return ErrHTTPSRequired
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}

	return nil
}

// ValidateRedirectURL checks that the OAuth redirect URL is well formed and
// points back at this service.
func (v *Validator) ValidateRedirectURL(redirectURL, baseURL string, requireHTTPS bool) error {
	if err := v.ValidateURL(redirectURL, requireHTTPS); err != nil {
		return err
	}

	redirect, _ := url.Parse(redirectURL)
	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return fmt.Errorf("%w: base URL", ErrInvalidURL)
	}

	if !strings.EqualFold(redirect.Host, base.Host) {
		return fmt.Errorf("%w: %s", ErrRedirectMismatch, redirect.Host)
	}
	return nil
}

// Title checks a required, bounded title.
func Title(field, value string) error {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidField, field)
	}
	if utf8.RuneCountInString(trimmed) > MaxTitleLength {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidField, field, MaxTitleLength)
	}
	return nil
}

// MaxLength checks an optional string against a rune limit.
func MaxLength(field, value string, limit int) error {
	if utf8.RuneCountInString(value) > limit {
		return fmt.Errorf("%w: %s must be at most %d characters", ErrInvalidField, field, limit)
	}
	return nil
}

// DayOfWeek checks a 0 (Sunday) to 6 (Saturday) weekday.
func DayOfWeek(day int) error {
	if day < 0 || day > 6 {
		return fmt.Errorf("%w: day_of_week must be between 0 and 6", ErrInvalidField)
	}
	return nil
}

// ClockRange checks "HH:MM" start and end times with end after start.
func ClockRange(start, end string) error {
	s, err := time.Parse(clockLayout, start)
	if err != nil {
		return fmt.Errorf("%w: start_time must be HH:MM", ErrInvalidField)
	}
	e, err := time.Parse(clockLayout, end)
	if err != nil {
		return fmt.Errorf("%w: end_time must be HH:MM", ErrInvalidField)
	}
	if !e.After(s) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidField)
	}
	return nil
}

// DateRange checks that end is not before start.
func DateRange(start, end time.Time) error {
	if end.Before(start) {
		return fmt.Errorf("%w: end_date must not be before start_date", ErrInvalidField)
	}
	return nil
}

// TimeRange checks an optional start and end pair. An end alone is allowed.
func TimeRange(start, end *time.Time) error {
	if start != nil && end != nil && !end.After(*start) {
		return fmt.Errorf("%w: end_time must be after start_time", ErrInvalidField)
	}
	return nil
}
