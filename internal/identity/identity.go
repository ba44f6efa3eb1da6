// Package identity defines the contract between the application and a hosted
// identity provider.
//
// The provider owns credential verification, session issuance and token
// refresh. Application code only sees the operations below and the session
// shape they return. Adapters for concrete providers live in subpackages
// (see gotrue).
package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNoSession          = errors.New("no active session")
	ErrMissingCredentials = errors.New("email and password are required")
)

// AuthEvent names a change in authentication state pushed to listeners.
type AuthEvent string

const (
	EventInitialSession AuthEvent = "INITIAL_SESSION"
	EventSignedIn       AuthEvent = "SIGNED_IN"
	EventSignedOut      AuthEvent = "SIGNED_OUT"
	EventTokenRefreshed AuthEvent = "TOKEN_REFRESHED"
	EventUserUpdated    AuthEvent = "USER_UPDATED"
)

// User is the authenticated principal as reported by the provider.
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	Aud          string         `json:"aud,omitempty"`
	ConfirmedAt  *time.Time     `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
}

// Session is a provider-issued authenticated context.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"` // unix seconds
	User         *User  `json:"user"`
}

// Expiry returns the absolute expiry time, or the zero time when unknown.
func (s *Session) Expiry() time.Time {
	if s == nil || s.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(s.ExpiresAt, 0)
}

// ExpiresWithin reports whether the session expires before now+margin.
// Sessions without a known expiry never report as expiring.
func (s *Session) ExpiresWithin(now time.Time, margin time.Duration) bool {
	exp := s.Expiry()
	if exp.IsZero() {
		return false
	}
	return now.Add(margin).After(exp)
}

// UserOf returns the session's user, tolerating a nil session.
func UserOf(s *Session) *User {
	if s == nil {
		return nil
	}
	return s.User
}

// Credentials are the email/password pair sent to the provider.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Validate checks that both fields are present.
func (c Credentials) Validate() error {
	if c.Email == "" || c.Password == "" {
		return ErrMissingCredentials
	}
	return nil
}

// AuthResult is returned by sign-up and sign-in. Session is nil when the
// provider requires an out-of-band step (e.g. email confirmation).
type AuthResult struct {
	User    *User
	Session *Session
}

// Subscription is the handle returned by OnAuthStateChange.
type Subscription interface {
	Unsubscribe()
}

// Listener receives auth state changes. session is nil after sign-out.
type Listener func(event AuthEvent, session *Session)

// Provider is the capability set the application needs from an identity provider.
type Provider interface {
	GetSession(ctx context.Context) (*Session, error)
	OnAuthStateChange(listener Listener) Subscription
	SignUp(ctx context.Context, creds Credentials) (*AuthResult, error)
	SignInWithPassword(ctx context.Context, creds Credentials) (*AuthResult, error)
	SignOut(ctx context.Context) error
	// DiscardSession forgets the locally stored session without revoking it
	// at the provider.
	DiscardSession(ctx context.Context) error
}

// UserRecord is the application-side profile row written after sign-up.
type UserRecord struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// UsersTable persists application-side user records.
type UsersTable interface {
	Insert(ctx context.Context, records []UserRecord) error
}
