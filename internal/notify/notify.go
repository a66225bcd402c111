package notify

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/smtp"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/aanjaneya24/smartsched/internal/validator"
)

var (
	// emailRegex is a simple email validation regex
	emailRegex = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

	ErrInvalidAlertConfig = errors.New("invalid alert configuration")
)

// AlertType represents the type of alert.
type AlertType string

const (
	AlertTypeRevoked     AlertType = "calendar_revoked"
	AlertTypeReconnected AlertType = "calendar_reconnected"
)

// Alert represents a notification alert.
type Alert struct {
	Type      AlertType
	UserID    string
	UserEmail string
	Message   string
	Details   string
	Timestamp time.Time
}

// Config holds notification configuration.
type Config struct {
	WebhookEnabled bool
	WebhookURL     string

	EmailEnabled bool
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string
	SMTPTo       []string // admin recipients, the affected user is always added
	SMTPTLS      bool

	// CooldownPeriod is the minimum gap between revocation alerts for one user.
	CooldownPeriod time.Duration
}

// Notifier sends credential alerts.
type Notifier struct {
	cfg        *Config
	httpClient *http.Client
	now        func() time.Time

	mu        sync.Mutex
	lastAlert map[string]time.Time // userID -> last revocation alert
	revoked   map[string]bool
}

// New creates a new Notifier. A nil client selects an HTTP client that
// refuses private addresses.
func New(cfg *Config, client *http.Client) *Notifier {
	if client == nil {
		client = validator.New().Client()
	}
	return &Notifier{
		cfg:        cfg,
		httpClient: client,
		now:        time.Now,
		lastAlert:  make(map[string]time.Time),
		revoked:    make(map[string]bool),
	}
}

// ValidateConfig validates the notification configuration.
func ValidateConfig(cfg *Config) error {
	if cfg.WebhookEnabled {
		if err := validator.New().ValidateURL(cfg.WebhookURL, true); err != nil {
			return fmt.Errorf("%w: webhook URL: %w", ErrInvalidAlertConfig, err)
		}
	}

	if cfg.EmailEnabled {
		if cfg.SMTPHost == "" {
			return fmt.Errorf("%w: SMTP host is required when email is enabled", ErrInvalidAlertConfig)
		}
		if cfg.SMTPPort < 1 || cfg.SMTPPort > 65535 {
			return fmt.Errorf("%w: SMTP port must be between 1 and 65535", ErrInvalidAlertConfig)
		}
		if !isValidEmail(cfg.SMTPFrom) {
			return fmt.Errorf("%w: invalid SMTP from address", ErrInvalidAlertConfig)
		}
		for _, to := range cfg.SMTPTo {
			if !isValidEmail(to) {
				return fmt.Errorf("%w: invalid SMTP recipient address: %s", ErrInvalidAlertConfig, to)
			}
		}
	}

	if cfg.CooldownPeriod < time.Minute {
		return fmt.Errorf("%w: cooldown period must be at least 1 minute", ErrInvalidAlertConfig)
	}

	return nil
}

// isValidEmail validates an email address format.
func isValidEmail(email string) bool {
	return emailRegex.MatchString(email)
}

// sanitizeForEmail removes characters that could be used for email header injection.
func sanitizeForEmail(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

// IsEnabled returns true if any notification method is enabled.
func (n *Notifier) IsEnabled() bool {
	return n.cfg.WebhookEnabled || n.cfg.EmailEnabled
}

// SendRevokedAlert reports that a user's calendar connection was dropped
// and needs a reconnect. Returns false while the user is in cooldown.
func (n *Notifier) SendRevokedAlert(ctx context.Context, userID, userEmail string, cause error) bool {
	if !n.IsEnabled() {
		return false
	}

	n.mu.Lock()
	if last, ok := n.lastAlert[userID]; ok && n.now().Sub(last) < n.cfg.CooldownPeriod {
		n.mu.Unlock()
		return false
	}
	n.lastAlert[userID] = n.now()
	n.revoked[userID] = true
	n.mu.Unlock()

	details := "Reconnect Google Calendar from SmartSched to resume syncing."
	if cause != nil {
		details = fmt.Sprintf("%s Reason: %v", details, cause)
	}

	go n.send(context.WithoutCancel(ctx), Alert{
		Type:      AlertTypeRevoked,
		UserID:    userID,
		UserEmail: userEmail,
		Message:   "Google Calendar access was revoked",
		Details:   details,
		Timestamp: n.now(),
	})
	return true
}

// SendReconnectedAlert reports a reconnect after a revocation alert.
// Nothing is sent when the user was never alerted.
func (n *Notifier) SendReconnectedAlert(ctx context.Context, userID, userEmail string) bool {
	n.mu.Lock()
	wasRevoked := n.revoked[userID]
	delete(n.revoked, userID)
	delete(n.lastAlert, userID)
	n.mu.Unlock()

	if !wasRevoked || !n.IsEnabled() {
		return false
	}

	go n.send(context.WithoutCancel(ctx), Alert{
		Type:      AlertTypeReconnected,
		UserID:    userID,
		UserEmail: userEmail,
		Message:   "Google Calendar reconnected",
		Details:   "Calendar sync has resumed.",
		Timestamp: n.now(),
	})
	return true
}

// send sends the alert via all configured channels.
func (n *Notifier) send(ctx context.Context, alert Alert) {
	if n.cfg.WebhookEnabled && n.cfg.WebhookURL != "" {
		if err := n.sendWebhook(ctx, alert); err != nil {
			log.Printf("[Notify] Webhook error: %v", err)
		}
	}

	if n.cfg.EmailEnabled {
		recipients := n.recipients(alert.UserEmail)
		if len(recipients) > 0 {
			if err := n.sendEmail(alert, recipients); err != nil {
				log.Printf("[Notify] Email error: %v", err)
			}
		}
	}
}

// recipients returns the user plus the admin list, deduplicated.
func (n *Notifier) recipients(userEmail string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(email string) {
		email = strings.ToLower(email)
		if _, ok := seen[email]; ok {
			return
		}
		seen[email] = struct{}{}
		out = append(out, email)
	}

	if userEmail != "" && isValidEmail(userEmail) {
		add(userEmail)
	}
	for _, email := range n.cfg.SMTPTo {
		add(email)
	}
	return out
}

// WebhookPayload is the JSON payload sent to webhooks.
type WebhookPayload struct {
	AlertType string `json:"alert_type"`
	UserID    string `json:"user_id"`
	Message   string `json:"message"`
	Details   string `json:"details"`
	Timestamp string `json:"timestamp"`
	// Slack-compatible fields
	Text string `json:"text,omitempty"`
}

func (n *Notifier) sendWebhook(ctx context.Context, alert Alert) error {
	emoji := ":warning:"
	if alert.Type == AlertTypeReconnected {
		emoji = ":white_check_mark:"
	}

	payload := WebhookPayload{
		AlertType: string(alert.Type),
		UserID:    alert.UserID,
		Message:   alert.Message,
		Details:   alert.Details,
		Timestamp: alert.Timestamp.Format(time.RFC3339),
		Text:      fmt.Sprintf("%s *%s*\n%s", emoji, alert.Message, alert.Details),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	log.Printf("[Notify] Webhook sent: %s", alert.Message)
	return nil
}

func (n *Notifier) sendEmail(alert Alert, recipients []string) error {
	message := sanitizeForEmail(alert.Message)
	details := sanitizeForEmail(alert.Details)

	subject := fmt.Sprintf("[SmartSched] %s", message)

	var body strings.Builder
	body.WriteString(fmt.Sprintf("Alert Type: %s\n", alert.Type))
	body.WriteString(fmt.Sprintf("Time: %s\n\n", alert.Timestamp.Format(time.RFC1123)))
	body.WriteString(fmt.Sprintf("%s\n", message))
	body.WriteString(fmt.Sprintf("%s\n", details))

	to := strings.Join(recipients, ", ")
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		n.cfg.SMTPFrom, to, subject, body.String())

	addr := fmt.Sprintf("%s:%d", n.cfg.SMTPHost, n.cfg.SMTPPort)

	var auth smtp.Auth
	if n.cfg.SMTPUsername != "" {
		auth = smtp.PlainAuth("", n.cfg.SMTPUsername, n.cfg.SMTPPassword, n.cfg.SMTPHost)
	}

	var err error
	if n.cfg.SMTPTLS {
		err = n.sendEmailTLS(addr, auth, n.cfg.SMTPFrom, recipients, []byte(msg))
	} else {
		err = smtp.SendMail(addr, auth, n.cfg.SMTPFrom, recipients, []byte(msg))
	}
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}

	log.Printf("[Notify] Email sent to %d recipients: %s", len(recipients), message)
	return nil
}

// sendEmailTLS sends email over implicit TLS (port 465).
func (n *Notifier) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	conn, err := tls.Dial("tcp", addr, &tls.Config{
		ServerName: n.cfg.SMTPHost,
		MinVersion: tls.VersionTLS12,
	})
	if err != nil {
		return fmt.Errorf("dial TLS: %w", err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("create SMTP client: %w", err)
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("rcpt to %s: %w", recipient, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close: %w", err)
	}

	return client.Quit()
}
