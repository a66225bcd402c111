package oauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/securecookie"
)

const (
	stateName   = "gcal_oauth_state"
	stateMaxAge = 10 * time.Minute
)

// ErrInvalidState is returned when the OAuth state parameter is missing,
// tampered with, or expired.
var ErrInvalidState = errors.New("invalid oauth state")

// StateCodec signs and verifies the OAuth state parameter. The callback
// request carries no session, so the state itself identifies the user.
type StateCodec struct {
	sc *securecookie.SecureCookie
}

type statePayload struct {
	UserID string
	Nonce  []byte
}

// NewStateCodec creates a codec keyed by the session secret.
func NewStateCodec(secret []byte) *StateCodec {
	sc := securecookie.New(secret, nil)
	sc.MaxAge(int(stateMaxAge.Seconds()))
	return &StateCodec{sc: sc}
}

// Encode returns a signed, time-limited state value for the user.
func (s *StateCodec) Encode(userID string) (string, error) {
	payload := statePayload{UserID: userID, Nonce: securecookie.GenerateRandomKey(16)}
	value, err := s.sc.Encode(stateName, payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}
	return value, nil
}

// Decode verifies a state value and returns the user id it carries.
func (s *StateCodec) Decode(value string) (string, error) {
	if value == "" {
		return "", ErrInvalidState
	}

	var payload statePayload
	if err := s.sc.Decode(stateName, value, &payload); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidState, err)
	}
	if payload.UserID == "" {
		return "", ErrInvalidState
	}

	return payload.UserID, nil
}
