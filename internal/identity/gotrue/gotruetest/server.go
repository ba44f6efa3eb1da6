// Package gotruetest runs an in-process stand-in for the GoTrue auth API and
// the PostgREST users table, for tests.
package gotruetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mrlokans/authview/internal/identity"
)

const (
	// AnonKey is the only apikey the server accepts.
	AnonKey = "anon-key"
	// Password is the only password the password grant accepts.
	Password = "secret123"
	// UserID is the ID of every user the server issues sessions for.
	UserID = "user-1"
)

// Server is a fake auth API. Its zero behavior auto-confirms sign-ups and
// accepts Password for any email.
type Server struct {
	*httptest.Server
	t testing.TB

	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	userCalls    atomic.Int32

	mu             sync.Mutex
	failRefresh    int
	failPassword   bool
	failInsert     bool
	confirmSignup  bool
	refreshDelay   time.Duration
	revoked        bool
	lifetime       int
	inserted       []identity.UserRecord
	lastInsertAuth string
	lastPKCE       map[string]string
}

// New starts a Server that is closed when the test ends.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{t: t}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// RejectPasswords makes every password grant fail with invalid_grant.
func (s *Server) RejectPasswords() {
	s.mu.Lock()
	s.failPassword = true
	s.mu.Unlock()
}

// RequireConfirmation makes sign-up return a bare user without a session.
func (s *Server) RequireConfirmation() {
	s.mu.Lock()
	s.confirmSignup = true
	s.mu.Unlock()
}

// FailRefresh makes refresh grants answer with status.
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	s.failRefresh = status
	s.mu.Unlock()
}

// SlowRefresh delays refresh grants, to make concurrent callers overlap.
func (s *Server) SlowRefresh(d time.Duration) {
	s.mu.Lock()
	s.refreshDelay = d
	s.mu.Unlock()
}

// RevokeTokens makes the user endpoint reject every access token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	s.revoked = true
	s.mu.Unlock()
}

// SessionLifetime sets expires_in of sessions issued by sign-up and the
// password grant. Refreshed sessions always last an hour.
func (s *Server) SessionLifetime(d time.Duration) {
	s.mu.Lock()
	s.lifetime = int(d.Seconds())
	s.mu.Unlock()
}

// FailInserts makes users table inserts fail with a conflict.
func (s *Server) FailInserts() {
	s.mu.Lock()
	s.failInsert = true
	s.mu.Unlock()
}

func (s *Server) RefreshCalls() int32 { return s.refreshCalls.Load() }
func (s *Server) LogoutCalls() int32  { return s.logoutCalls.Load() }
func (s *Server) UserCalls() int32    { return s.userCalls.Load() }

// Inserted returns the rows written to the users table.
func (s *Server) Inserted() []identity.UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]identity.UserRecord(nil), s.inserted...)
}

// LastInsertAuth returns the Authorization header of the last insert.
func (s *Server) LastInsertAuth() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastInsertAuth
}

// LastPKCE returns the body of the last pkce grant.
func (s *Server) LastPKCE() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPKCE
}

// Session returns the session payload issued for email.
func Session(email string, expiresIn int) map[string]any {
	return map[string]any{
		"access_token":  "access-" + email,
		"refresh_token": "refresh-" + email,
		"token_type":    "bearer",
		"expires_in":    expiresIn,
		"user":          map[string]any{"id": UserID, "email": email},
	}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("apikey") != AnonKey {
		WriteJSON(w, http.StatusUnauthorized, map[string]any{"message": "no api key"})
		return
	}

	s.mu.Lock()
	failRefresh, failPassword, failInsert := s.failRefresh, s.failPassword, s.failInsert
	confirmSignup, refreshDelay := s.confirmSignup, s.refreshDelay
	revoked, lifetime := s.revoked, s.lifetime
	s.mu.Unlock()
	if lifetime == 0 {
		lifetime = 3600
	}

	var body map[string]string
	if r.Method == http.MethodPost && r.URL.Path != "/rest/v1/users" {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	switch r.URL.Path {
	case "/auth/v1/signup":
		if confirmSignup {
			WriteJSON(w, http.StatusOK, map[string]any{"id": UserID, "email": body["email"]})
			return
		}
		WriteJSON(w, http.StatusOK, Session(body["email"], lifetime))

	case "/auth/v1/token":
		switch r.URL.Query().Get("grant_type") {
		case "password":
			if failPassword || body["password"] != Password {
				WriteJSON(w, http.StatusBadRequest, map[string]any{
					"error":             "invalid_grant",
					"error_description": "Invalid login credentials",
				})
				return
			}
			WriteJSON(w, http.StatusOK, Session(body["email"], lifetime))
		case "refresh_token":
			s.refreshCalls.Add(1)
			time.Sleep(refreshDelay)
			if failRefresh != 0 {
				WriteJSON(w, failRefresh, map[string]any{
					"code":       failRefresh,
					"error_code": "refresh_token_not_found",
					"msg":        "Invalid Refresh Token",
				})
				return
			}
			session := Session("a@b.com", 3600)
			session["access_token"] = "access-refreshed"
			WriteJSON(w, http.StatusOK, session)
		case "pkce":
			s.mu.Lock()
			s.lastPKCE = body
			s.mu.Unlock()
			if body["auth_code"] == "" || body["code_verifier"] == "" {
				WriteJSON(w, http.StatusBadRequest, map[string]any{"msg": "invalid flow state"})
				return
			}
			WriteJSON(w, http.StatusOK, Session("gh@b.com", 3600))
		default:
			WriteJSON(w, http.StatusBadRequest, map[string]any{"msg": "unsupported grant"})
		}

	case "/auth/v1/logout":
		s.logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)

	case "/auth/v1/user":
		s.userCalls.Add(1)
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		email, ok := strings.CutPrefix(token, "access-")
		if revoked || !ok {
			WriteJSON(w, http.StatusUnauthorized, map[string]any{
				"code":       http.StatusUnauthorized,
				"error_code": "bad_jwt",
				"msg":        "invalid JWT",
			})
			return
		}
		if email == "refreshed" {
			email = "a@b.com"
		}
		WriteJSON(w, http.StatusOK, map[string]any{"id": UserID, "email": email, "role": "authenticated"})

	case "/auth/v1/health":
		WriteJSON(w, http.StatusOK, map[string]any{"name": "GoTrue"})

	case "/rest/v1/users":
		if failInsert {
			WriteJSON(w, http.StatusConflict, map[string]any{"code": "23505", "message": "duplicate key value"})
			return
		}
		if r.Header.Get("Prefer") != "return=minimal" {
			s.t.Errorf("users insert without Prefer: return=minimal")
		}
		var rows []identity.UserRecord
		if err := json.NewDecoder(r.Body).Decode(&rows); err != nil {
			s.t.Errorf("decode users insert: %v", err)
		}
		s.mu.Lock()
		s.inserted = append(s.inserted, rows...)
		s.lastInsertAuth = r.Header.Get("Authorization")
		s.mu.Unlock()
		w.WriteHeader(http.StatusCreated)

	default:
		http.NotFound(w, r)
	}
}

// WriteJSON writes v with status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
