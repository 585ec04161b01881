package identity

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("identity: invalid credentials")
	// ErrNotFound indicates the user or session does not exist.
	ErrNotFound = errors.New("identity: not found")
	// ErrUnavailable indicates a backing store could not be reached.
	ErrUnavailable = errors.New("identity: provider unavailable")
	// ErrInvalidToken indicates a bearer token failed validation.
	ErrInvalidToken = errors.New("identity: invalid token")
)

// User represents an account able to sign in.
type User struct {
	ID           int64
	Email        string
	PasswordHash string
	Role         string
	Permissions  json.RawMessage
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Credentials carries a sign-in attempt.
type Credentials struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// Session is an authenticated identity session and its claims.
type Session struct {
	ID        string          `json:"id"`
	UserID    int64           `json:"user_id"`
	Email     string          `json:"email"`
	RoleClaim string          `json:"role"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	IssuedAt  time.Time       `json:"issued_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// EventKind classifies a session change.
type EventKind string

// Session change kinds.
const (
	EventUpdated EventKind = "updated"
	EventRevoked EventKind = "revoked"
	EventExpired EventKind = "expired"
)

// Event notifies observers about a session change. Session is set for EventUpdated.
type Event struct {
	Kind      EventKind `json:"kind"`
	SessionID string    `json:"session_id"`
	Session   *Session  `json:"session,omitempty"`
}
