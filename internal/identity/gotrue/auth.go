package gotrue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/mrlokans/authview/internal/identity"
)

// RefreshMargin is how long before expiry a stored session is refreshed.
const RefreshMargin = 10 * time.Second

var _ identity.Provider = (*Auth)(nil)

// Auth implements identity.Provider on top of a Client and a SessionStorage.
type Auth struct {
	client   *Client
	storage  SessionStorage
	claims   *ClaimsParser
	logger   *zap.Logger
	now      func() time.Time
	notifier identity.Notifier
	loaded   atomic.Bool
}

// Option configures an Auth.
type Option func(*Auth)

// WithClaimsParser sets the access token parser (e.g. with a JWT secret).
func WithClaimsParser(p *ClaimsParser) Option {
	return func(a *Auth) { a.claims = p }
}

func WithLogger(logger *zap.Logger) Option {
	return func(a *Auth) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Auth) { a.now = now }
}

// NewAuth binds a client to a session storage.
func NewAuth(client *Client, storage SessionStorage, opts ...Option) *Auth {
	a := &Auth{
		client:  client,
		storage: storage,
		claims:  NewClaimsParser(""),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Client returns the underlying REST client.
func (a *Auth) Client() *Client {
	return a.client
}

// OnAuthStateChange registers a listener for auth state changes.
func (a *Auth) OnAuthStateChange(listener identity.Listener) identity.Subscription {
	return a.notifier.Subscribe(listener)
}

// GetSession returns the stored session, refreshing it first when it is
// about to expire. A rejected refresh clears the stored session. The first
// successful call emits INITIAL_SESSION.
func (a *Auth) GetSession(ctx context.Context) (*identity.Session, error) {
	session, err := a.loadSession(ctx)
	if err != nil {
		return nil, err
	}
	if a.loaded.CompareAndSwap(false, true) {
		a.notifier.Emit(identity.EventInitialSession, session)
	}
	return session, nil
}

func (a *Auth) loadSession(ctx context.Context) (*identity.Session, error) {
	session, err := a.storage.LoadSession(ctx)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, nil
	}
	if !session.ExpiresWithin(a.now(), RefreshMargin) {
		return session, nil
	}
	if session.RefreshToken == "" {
		a.clear(ctx)
		return nil, nil
	}
	return a.refreshSession(ctx, session.RefreshToken)
}

func (a *Auth) refreshSession(ctx context.Context, refreshToken string) (*identity.Session, error) {
	fresh, err := a.client.RefreshGrant(ctx, refreshToken)
	if err != nil {
		if rejected(err) {
			a.logger.Info("refresh token rejected, clearing session", zap.Error(err))
			a.clear(ctx)
		}
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := a.complete(fresh); err != nil {
		return nil, fmt.Errorf("refresh session: %w", err)
	}
	if err := a.storage.SaveSession(ctx, fresh); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	a.logger.Debug("session refreshed")
	a.notifier.Emit(identity.EventTokenRefreshed, fresh)
	return fresh, nil
}

// GetUser asks the provider who owns the stored access token. The stored
// session takes the returned user and USER_UPDATED is emitted. A token the
// provider no longer accepts clears the session and yields ErrNoSession.
func (a *Auth) GetUser(ctx context.Context) (*identity.User, error) {
	session, err := a.GetSession(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, identity.ErrNoSession
	}

	user, err := a.client.User(ctx, session.AccessToken)
	if err != nil {
		if rejected(err) {
			a.logger.Info("access token rejected, clearing session", zap.Error(err))
			a.clear(ctx)
			return nil, identity.ErrNoSession
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	session.User = user
	if err := a.storage.SaveSession(ctx, session); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}
	a.notifier.Emit(identity.EventUserUpdated, session)
	return user, nil
}

// DiscardSession forgets the stored session without revoking it at the
// provider, and emits SIGNED_OUT.
func (a *Auth) DiscardSession(ctx context.Context) error {
	if err := a.storage.RemoveSession(ctx); err != nil {
		return fmt.Errorf("remove session: %w", err)
	}
	a.notifier.Emit(identity.EventSignedOut, nil)
	return nil
}

// SignUp registers a user. When the provider returns a session it is stored
// and SIGNED_IN is emitted.
func (a *Auth) SignUp(ctx context.Context, creds identity.Credentials) (*identity.AuthResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	result, err := a.client.Signup(ctx, creds)
	if err != nil {
		return nil, err
	}
	if result.Session == nil {
		return result, nil
	}
	if err := a.signIn(ctx, result.Session); err != nil {
		return nil, err
	}
	if result.User == nil {
		result.User = result.Session.User
	}
	return result, nil
}

// SignInWithPassword authenticates with email and password.
func (a *Auth) SignInWithPassword(ctx context.Context, creds identity.Credentials) (*identity.AuthResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	session, err := a.client.PasswordGrant(ctx, creds)
	if err != nil {
		return nil, err
	}
	if err := a.signIn(ctx, session); err != nil {
		return nil, err
	}
	return &identity.AuthResult{User: session.User, Session: session}, nil
}

// SignOut revokes the session at the provider and always clears local state.
// The provider error, if any, is returned after local cleanup.
func (a *Auth) SignOut(ctx context.Context) error {
	session, err := a.storage.LoadSession(ctx)
	var logoutErr error
	if err != nil {
		logoutErr = fmt.Errorf("load session: %w", err)
	} else if session != nil && session.AccessToken != "" {
		logoutErr = a.client.Logout(ctx, session.AccessToken)
	}
	a.clear(ctx)
	return logoutErr
}

// AuthorizeURL starts a federated login with an external provider using
// PKCE. The returned verifier must be kept by the caller until the callback.
func (a *Auth) AuthorizeURL(provider, redirectTo string) (authURL, verifier string) {
	verifier = oauth2.GenerateVerifier()
	challenge := oauth2.S256ChallengeFromVerifier(verifier)
	return a.client.AuthorizeURL(provider, redirectTo, challenge), verifier
}

// ExchangeCode completes a federated login started with AuthorizeURL.
func (a *Auth) ExchangeCode(ctx context.Context, authCode, verifier string) (*identity.AuthResult, error) {
	if authCode == "" || verifier == "" {
		return nil, errors.New("authorization code and verifier are required")
	}
	session, err := a.client.PKCEGrant(ctx, authCode, verifier)
	if err != nil {
		return nil, err
	}
	if err := a.signIn(ctx, session); err != nil {
		return nil, err
	}
	return &identity.AuthResult{User: session.User, Session: session}, nil
}

// UsersTable returns a PostgREST table writer that authenticates with this
// Auth's current session when there is one.
func (a *Auth) UsersTable(table string) *PostgRESTTable {
	return &PostgRESTTable{
		client: a.client,
		table:  table,
		token: func(ctx context.Context) string {
			s, err := a.storage.LoadSession(ctx)
			if err != nil || s == nil {
				return ""
			}
			return s.AccessToken
		},
	}
}

func (a *Auth) signIn(ctx context.Context, session *identity.Session) error {
	if err := a.complete(session); err != nil {
		return err
	}
	if err := a.storage.SaveSession(ctx, session); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	a.notifier.Emit(identity.EventSignedIn, session)
	return nil
}

func (a *Auth) clear(ctx context.Context) {
	if err := a.storage.RemoveSession(ctx); err != nil {
		a.logger.Warn("failed to remove stored session", zap.Error(err))
	}
	a.notifier.Emit(identity.EventSignedOut, nil)
}

// complete fills expiry and user from the access token when the provider
// response left them out, and verifies the token when a secret is set.
func (a *Auth) complete(session *identity.Session) error {
	needClaims := a.claims.Verifying() || session.User == nil || (session.ExpiresAt == 0 && session.ExpiresIn == 0)
	if session.ExpiresAt == 0 && session.ExpiresIn > 0 {
		session.ExpiresAt = a.now().Add(time.Duration(session.ExpiresIn) * time.Second).Unix()
	}
	if !needClaims {
		return nil
	}

	claims, err := a.claims.Parse(session.AccessToken)
	if err != nil {
		if a.claims.Verifying() {
			return err
		}
		a.logger.Debug("access token claims unavailable", zap.Error(err))
		return nil
	}
	if session.ExpiresAt == 0 && claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Unix()
	}
	if session.User == nil && claims.Subject != "" {
		session.User = &identity.User{
			ID:    claims.Subject,
			Email: claims.Email,
			Role:  claims.Role,
		}
	}
	return nil
}

// rejected reports whether the provider refused the token itself rather than
// failing to serve the request.
func rejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsClientError()
}
