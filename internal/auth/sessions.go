package auth

import (
	"context"
	"database/sql"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/authview"
	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/identity"
)

// Session data keys
const (
	SessionKeyProviderSession = "provider_session"
	SessionKeyShowPassword    = "ui_show_password"
	SessionKeyIsLogin         = "ui_is_login"
	SessionKeyPKCEVerifier    = "pkce_verifier"
	SessionKeyLoginAt         = "login_at"
)

func init() {
	gob.Register(time.Time{})
}

// SessionManager wraps scs.SessionManager with application-specific methods.
type SessionManager struct {
	*scs.SessionManager
	logger *zap.Logger
}

// NewSQLiteStore creates the sessions table if needed and returns an scs
// store backed by it. The sqlDB parameter should be the underlying *sql.DB
// from GORM.
func NewSQLiteStore(sqlDB *sql.DB) (*sqlite3store.SQLite3Store, error) {
	_, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS sessions (
		token TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		expiry REAL NOT NULL
	);
	CREATE INDEX IF NOT EXISTS sessions_expiry_idx ON sessions(expiry);`)
	if err != nil {
		return nil, fmt.Errorf("create sessions table: %w", err)
	}
	return sqlite3store.New(sqlDB), nil
}

// NewSessionManager creates a configured session manager on top of store.
func NewSessionManager(store scs.Store, cfg config.Auth, logger *zap.Logger) *SessionManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("sessions")

	sm := scs.New()
	sm.Store = store

	sm.Lifetime = cfg.SessionLifetime
	sm.IdleTimeout = cfg.SessionLifetime / 2

	sm.Cookie.Name = "session"
	sm.Cookie.HttpOnly = true
	sm.Cookie.Secure = cfg.SecureCookies
	// Lax so the cookie survives the top-level redirect back from the OAuth
	// provider to /auth/callback.
	sm.Cookie.SameSite = http.SameSiteLaxMode
	sm.Cookie.Path = "/"
	sm.ErrorFunc = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("session store error", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}

	return &SessionManager{SessionManager: sm, logger: logger}
}

// UIState reads the view's presentational state. A new session yields the
// defaults: signup mode, password hidden.
func (sm *SessionManager) UIState(ctx context.Context) authview.UIState {
	return authview.UIState{
		ShowPassword: sm.GetBool(ctx, SessionKeyShowPassword),
		IsLogin:      sm.GetBool(ctx, SessionKeyIsLogin),
	}
}

// PutUIState stores the view's presentational state.
func (sm *SessionManager) PutUIState(ctx context.Context, ui authview.UIState) {
	sm.Put(ctx, SessionKeyShowPassword, ui.ShowPassword)
	sm.Put(ctx, SessionKeyIsLogin, ui.IsLogin)
}

// PutPKCEVerifier keeps the verifier of a federated login until the callback.
func (sm *SessionManager) PutPKCEVerifier(ctx context.Context, verifier string) {
	sm.Put(ctx, SessionKeyPKCEVerifier, verifier)
}

// PopPKCEVerifier returns the stored verifier and removes it, so a callback
// can only be completed once.
func (sm *SessionManager) PopPKCEVerifier(ctx context.Context) string {
	return sm.PopString(ctx, SessionKeyPKCEVerifier)
}

// ProviderStorage returns the provider session storage for the session
// loaded into a request context.
func (sm *SessionManager) ProviderStorage() *ProviderStorage {
	return &ProviderStorage{sm: sm}
}

// ProviderStorage keeps the identity provider's session inside the visitor's
// web session. Every call must receive a context that went through
// SessionLoadSave.
type ProviderStorage struct {
	sm *SessionManager
}

// LoadSession returns the stored provider session or nil.
func (s *ProviderStorage) LoadSession(ctx context.Context) (*identity.Session, error) {
	raw := s.sm.GetBytes(ctx, SessionKeyProviderSession)
	if len(raw) == 0 {
		return nil, nil
	}
	var session identity.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode provider session: %w", err)
	}
	return &session, nil
}

// SaveSession stores a provider session. The web session token is renewed
// whenever a different user signs in, to prevent session fixation.
func (s *ProviderStorage) SaveSession(ctx context.Context, session *identity.Session) error {
	if session == nil {
		return s.RemoveSession(ctx)
	}

	previous, _ := s.LoadSession(ctx)
	if userID(previous) != userID(session) {
		if err := s.sm.RenewToken(ctx); err != nil {
			return fmt.Errorf("renew session token: %w", err)
		}
		s.sm.Put(ctx, SessionKeyLoginAt, time.Now())
	}

	raw, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode provider session: %w", err)
	}
	s.sm.Put(ctx, SessionKeyProviderSession, raw)
	return nil
}

// RemoveSession drops the provider session and renews the web session token.
// UI state is kept.
func (s *ProviderStorage) RemoveSession(ctx context.Context) error {
	if !s.sm.Exists(ctx, SessionKeyProviderSession) {
		return nil
	}
	s.sm.Remove(ctx, SessionKeyProviderSession)
	s.sm.Remove(ctx, SessionKeyLoginAt)
	if err := s.sm.RenewToken(ctx); err != nil {
		return fmt.Errorf("renew session token: %w", err)
	}
	return nil
}

func userID(session *identity.Session) string {
	if u := identity.UserOf(session); u != nil {
		return u.ID
	}
	return ""
}

// LoginAt returns when the current provider session was first stored.
func (sm *SessionManager) LoginAt(ctx context.Context) time.Time {
	loginAt, _ := sm.Get(ctx, SessionKeyLoginAt).(time.Time)
	return loginAt
}
