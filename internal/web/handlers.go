package web

import (
	"context"
	"errors"
	"html/template"
	"log"
	"net/http"

	"github.com/aanjaneya24/smartsched/internal/auth"
	"github.com/aanjaneya24/smartsched/internal/config"
	"github.com/aanjaneya24/smartsched/internal/db"
	"github.com/aanjaneya24/smartsched/internal/gcal"
	"github.com/aanjaneya24/smartsched/internal/health"
	"github.com/aanjaneya24/smartsched/internal/notify"
	"github.com/aanjaneya24/smartsched/internal/oauth"
	"github.com/aanjaneya24/smartsched/internal/orchestrator"
	"github.com/aanjaneya24/smartsched/internal/validator"
	"github.com/gin-gonic/gin"
)

// Connector drives the per-user Google Calendar connection.
// Implemented by *oauth.Manager.
type Connector interface {
	Configured() bool
	BeginAuthorization(ctx context.Context, userID string) (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (string, string, error)
	Disconnect(ctx context.Context, userID string) error
	Status(ctx context.Context, userID string) (*oauth.Status, error)
}

// Handlers contains all HTTP handlers and their dependencies.
type Handlers struct {
	cfg       *config.Config
	db        *db.DB
	session   *auth.SessionManager
	connector Connector
	calendars gcal.ClientSource
	engine    *gcal.Engine
	orch      *orchestrator.Orchestrator
	health    *health.Checker
	notifier  *notify.Notifier
	templates *template.Template
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	cfg *config.Config,
	database *db.DB,
	session *auth.SessionManager,
	connector Connector,
	calendars gcal.ClientSource,
	engine *gcal.Engine,
	orch *orchestrator.Orchestrator,
	healthChecker *health.Checker,
	notifier *notify.Notifier,
) (*Handlers, error) {
	tmpl, err := LoadTemplates()
	if err != nil {
		return nil, err
	}

	return &Handlers{
		cfg:       cfg,
		db:        database,
		session:   session,
		connector: connector,
		calendars: calendars,
		engine:    engine,
		orch:      orch,
		health:    healthChecker,
		notifier:  notifier,
		templates: tmpl,
	}, nil
}

// HealthCheck returns a full health report.
func (h *Handlers) HealthCheck(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

// Liveness returns a simple liveness check.
func (h *Handlers) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, h.health.Liveness())
}

// Readiness checks all dependencies. A degraded service is still ready.
func (h *Handlers) Readiness(c *gin.Context) {
	report := h.health.Check(c.Request.Context())
	if report.Status == health.StatusUnhealthy {
		c.JSON(http.StatusServiceUnavailable, report)
		return
	}
	c.JSON(http.StatusOK, report)
}

// APIAuthStatus reports whether the request carries a session.
func (h *Handlers) APIAuthStatus(c *gin.Context) {
	session := auth.GetCurrentUser(c)
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"authenticated": false})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"user": gin.H{
			"id":    session.UserID,
			"email": session.Email,
			"name":  session.Name,
		},
	})
}

// APILogout clears the session.
func (h *Handlers) APILogout(c *gin.Context) {
	if err := h.session.Clear(c.Writer, c.Request); err != nil {
		log.Printf("Failed to clear session: %v", err)
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

type devLoginRequest struct {
	Email string `json:"email" binding:"required,email"`
	Name  string `json:"name"`
}

// DevLogin starts a session for any email. Only routed in development, where
// the external login service is usually absent.
func (h *Handlers) DevLogin(c *gin.Context) {
	var req devLoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a valid email is required"})
		return
	}

	user, err := h.db.GetOrCreateUser(c.Request.Context(), req.Email, req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create user")})
		return
	}

	if err := h.session.Set(c.Writer, c.Request, &auth.SessionData{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create session")})
		return
	}

	c.JSON(http.StatusOK, gin.H{"user": user})
}

// sanitizeError returns a user-safe error message without exposing internal details.
// Internal error details are logged but not returned to the client.
func sanitizeError(err error, userMessage string) string {
	if err != nil {
		log.Printf("Error: %s - Details: %v", userMessage, err)
	}
	return userMessage
}

// respondError maps an error to the API error envelope. Calendar failures
// carry a flag that tells the client what to do next. Anything else is
// logged and answered with fallback.
func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, oauth.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":      "Google Calendar integration is not configured",
			"configured": false,
		})
	case errors.Is(err, oauth.ErrReauthRequired):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "Google Calendar access has expired. Please reconnect.",
			"reconnectRequired": true,
		})
	case errors.Is(err, oauth.ErrNotConnected):
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":             "Google Calendar is not connected",
			"reconnectRequired": true,
		})
	case errors.Is(err, oauth.ErrTransient):
		log.Printf("Calendar temporarily unavailable: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{
			"error":     "Google Calendar is temporarily unavailable. Please try again.",
			"retryable": true,
		})
	case errors.Is(err, validator.ErrInvalidField):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, db.ErrNotFound), errors.Is(err, gcal.ErrEventNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	case errors.Is(err, orchestrator.ErrNoActiveSemester):
		c.JSON(http.StatusConflict, gin.H{"error": "The slot does not belong to the active semester"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, fallback)})
	}
}

// currentUserID returns the session user. Routes using it sit behind RequireAuth.
func currentUserID(c *gin.Context) string {
	if session := auth.GetCurrentUser(c); session != nil {
		return session.UserID
	}
	return ""
}
