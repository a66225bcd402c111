package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	sessionName          = "smartsched_session"
	defaultSessionMaxAge = 7 * 24 * 60 * 60 // 7 days in seconds
	csrfTokenLength      = 32
)

var (
	ErrSessionNotFound = errors.New("session not found")
)

// SessionData represents the data stored in a user session.
type SessionData struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	CSRFToken string `json:"csrf_token"`
}

// SessionManager manages user sessions. The login flow that establishes a
// session lives outside this service and shares the cookie secret.
type SessionManager struct {
	store  *sessions.CookieStore
	secure bool
}

// NewSessionManager creates a new session manager. A maxAge of zero or less
// selects the default of seven days.
func NewSessionManager(secret string, secure bool, maxAge int) *SessionManager {
	if maxAge <= 0 {
		maxAge = defaultSessionMaxAge
	}

	store := sessions.NewCookieStore([]byte(secret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}

	return &SessionManager{
		store:  store,
		secure: secure,
	}
}

// Get retrieves the session data from the request.
func (sm *SessionManager) Get(r *http.Request) (*SessionData, error) {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		return nil, ErrSessionNotFound
	}

	userID, ok := session.Values["user_id"].(string)
	if !ok || userID == "" {
		return nil, ErrSessionNotFound
	}

	// Missing values default to empty strings.
	var email, name, csrfToken string
	if v, ok := session.Values["email"].(string); ok {
		email = v
	}
	if v, ok := session.Values["name"].(string); ok {
		name = v
	}
	if v, ok := session.Values["csrf_token"].(string); ok {
		csrfToken = v
	}

	return &SessionData{
		UserID:    userID,
		Email:     email,
		Name:      name,
		CSRFToken: csrfToken,
	}, nil
}

// Set stores the session data.
func (sm *SessionManager) Set(w http.ResponseWriter, r *http.Request, data *SessionData) error {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		session, err = sm.store.New(r, sessionName)
		if err != nil {
			return err
		}
	}

	if data.CSRFToken == "" {
		csrfToken, err := generateCSRFToken()
		if err != nil {
			return err
		}
		data.CSRFToken = csrfToken
	}

	session.Values["user_id"] = data.UserID
	session.Values["email"] = data.Email
	session.Values["name"] = data.Name
	session.Values["csrf_token"] = data.CSRFToken

	return session.Save(r, w)
}

// Clear removes the session.
func (sm *SessionManager) Clear(w http.ResponseWriter, r *http.Request) error {
	session, err := sm.store.Get(r, sessionName)
	if err != nil {
		return nil
	}

	session.Options.MaxAge = -1
	return session.Save(r, w)
}

// generateCSRFToken generates a random CSRF token.
func generateCSRFToken() (string, error) {
	b := make([]byte, csrfTokenLength)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
