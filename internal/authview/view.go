package authview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/identity"
)

// FederatedLoginFunc starts an external login flow and returns the URL the
// user agent must be sent to.
type FederatedLoginFunc func(ctx context.Context) (string, error)

// View is one instance of the login/signup view. It is safe for concurrent
// use. Call Mount before driving it and Unmount when done.
type View struct {
	provider       identity.Provider
	users          identity.UsersTable
	logger         *zap.Logger
	now            func() time.Time
	federatedLogin FederatedLoginFunc

	mu        sync.Mutex
	phase     Phase
	epoch     uint64
	user      *identity.User
	form      FormState
	ui        UIState
	sub       identity.Subscription
	mounted   bool
	unmounted bool
}

type Option func(*View)

// WithUsersTable sets where a user record is written after sign-up. Without
// one the insert step is skipped.
func WithUsersTable(table identity.UsersTable) Option {
	return func(v *View) { v.users = table }
}

func WithLogger(logger *zap.Logger) Option {
	return func(v *View) {
		if logger != nil {
			v.logger = logger
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(v *View) { v.now = now }
}

// WithUIState restores presentational state, e.g. from a web session.
func WithUIState(ui UIState) Option {
	return func(v *View) { v.ui = ui }
}

// WithFederatedLogin makes the GitHub control start fn instead of the
// password login.
func WithFederatedLogin(fn FederatedLoginFunc) Option {
	return func(v *View) { v.federatedLogin = fn }
}

// New creates an unmounted, anonymous view.
func New(provider identity.Provider, opts ...Option) *View {
	v := &View{
		provider: provider,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Mount subscribes to auth state changes and loads the current session.
// A failed session fetch is logged and leaves the view anonymous.
func (v *View) Mount(ctx context.Context) error {
	v.mu.Lock()
	if v.mounted || v.unmounted {
		v.mu.Unlock()
		return nil
	}
	v.mounted = true
	v.mu.Unlock()

	sub := v.provider.OnAuthStateChange(v.onAuthStateChange)

	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		sub.Unsubscribe()
		return nil
	}
	v.sub = sub
	v.mu.Unlock()

	session, err := v.provider.GetSession(ctx)
	if err != nil {
		v.logger.Error("error fetching session", zap.Error(err))
		return fmt.Errorf("get session: %w", err)
	}
	v.logger.Debug("session loaded", zap.Bool("authenticated", identity.UserOf(session) != nil))

	v.mu.Lock()
	if v.phase != PhasePending {
		v.setUserLocked(identity.UserOf(session))
	}
	v.mu.Unlock()
	return nil
}

// Unmount releases the subscription. Only the first call has an effect.
func (v *View) Unmount() {
	v.mu.Lock()
	if v.unmounted {
		v.mu.Unlock()
		return
	}
	v.unmounted = true
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (v *View) onAuthStateChange(event identity.AuthEvent, session *identity.Session) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.phase == PhasePending {
		v.logger.Debug("auth state change ignored while action pending", zap.String("event", string(event)))
		return
	}
	v.setUserLocked(identity.UserOf(session))
}

func (v *View) setUserLocked(user *identity.User) {
	v.user = user
	if user == nil {
		v.phase = PhaseAnonymous
	} else {
		v.phase = PhaseAuthenticated
	}
}

// SetEmail replaces the email field.
func (v *View) SetEmail(email string) {
	v.mu.Lock()
	v.form.Email = email
	v.mu.Unlock()
}

// SetPassword replaces the password field.
func (v *View) SetPassword(password string) {
	v.mu.Lock()
	v.form.Password = password
	v.mu.Unlock()
}

func (v *View) TogglePasswordVisibility() {
	v.mu.Lock()
	v.ui.ShowPassword = !v.ui.ShowPassword
	v.mu.Unlock()
}

// ToggleMode switches between signup and login. Typed fields are kept.
func (v *View) ToggleMode() {
	v.mu.Lock()
	v.ui.IsLogin = !v.ui.IsLogin
	v.mu.Unlock()
}

func (v *View) Form() FormState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.form
}

func (v *View) UI() UIState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ui
}

func (v *View) User() *identity.User {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.user
}

func (v *View) Phase() Phase {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.phase
}

// begin moves the view to Pending, rejecting overlapping actions. The
// returned epoch is handed back to finish.
func (v *View) begin() (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.phase == PhasePending {
		return 0, ErrActionPending
	}
	v.phase = PhasePending
	return v.epoch, nil
}

// finish leaves Pending. When set is false the user held before the action
// is kept. An action overtaken by a sign-out changes nothing.
func (v *View) finish(epoch uint64, user *identity.User, set bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if epoch != v.epoch {
		return
	}
	if set {
		v.user = user
	}
	v.setUserLocked(v.user)
}

// Submit registers in signup mode and authenticates in login mode, using
// the current form fields.
func (v *View) Submit(ctx context.Context) error {
	v.mu.Lock()
	isLogin := v.ui.IsLogin
	form := v.form
	v.mu.Unlock()

	if isLogin {
		return v.Authenticate(ctx)
	}
	return v.Register(ctx, form.Email, form.Password)
}

// Register signs the user up and records them in the users table. The user
// is set only when both steps succeed. A failed insert does not undo the
// sign-up, but the session it issued is discarded locally so the
// registration stays incomplete on the next load too.
func (v *View) Register(ctx context.Context, email, password string) error {
	epoch, err := v.begin()
	if err != nil {
		return err
	}
	var user *identity.User
	set := false
	defer func() { v.finish(epoch, user, set) }()

	result, err := v.provider.SignUp(ctx, identity.Credentials{Email: email, Password: password})
	if err != nil {
		v.logger.Error("signup error", zap.Error(err))
		return fmt.Errorf("sign up: %w", err)
	}
	signedUp := resultUser(result)

	if v.users != nil {
		record := identity.UserRecord{Email: email, CreatedAt: v.now().UTC()}
		if signedUp != nil {
			record.UserID = signedUp.ID
		}
		if err := v.users.Insert(ctx, []identity.UserRecord{record}); err != nil {
			v.logger.Error("database insert error", zap.Error(err))
			if result != nil && result.Session != nil {
				if derr := v.provider.DiscardSession(ctx); derr != nil {
					v.logger.Warn("failed to discard session", zap.Error(derr))
				}
			}
			return fmt.Errorf("insert user record: %w", err)
		}
	}

	user, set = signedUp, true
	v.logger.Info("signup success", zap.String("email", email))
	return nil
}

// Authenticate signs in with the current form fields.
func (v *View) Authenticate(ctx context.Context) error {
	epoch, err := v.begin()
	if err != nil {
		return err
	}
	var user *identity.User
	set := false
	defer func() { v.finish(epoch, user, set) }()

	form := v.Form()
	result, err := v.provider.SignInWithPassword(ctx, identity.Credentials{Email: form.Email, Password: form.Password})
	if err != nil {
		v.logger.Error("login error", zap.Error(err))
		return fmt.Errorf("sign in: %w", err)
	}

	user, set = resultUser(result), true
	v.logger.Info("login success", zap.String("email", form.Email))
	return nil
}

// LoginWithGitHub handles the GitHub control. With a federated login
// configured it returns the URL to redirect to; otherwise it performs the
// password login with the current form fields and returns "".
func (v *View) LoginWithGitHub(ctx context.Context) (string, error) {
	if v.federatedLogin == nil {
		return "", v.Authenticate(ctx)
	}
	redirect, err := v.federatedLogin(ctx)
	if err != nil {
		v.logger.Error("github login error", zap.Error(err))
		return "", fmt.Errorf("start github login: %w", err)
	}
	return redirect, nil
}

// Deauthenticate signs out, even while another action is pending. The user
// is cleared whatever the provider answers; its error is still returned.
func (v *View) Deauthenticate(ctx context.Context) error {
	v.mu.Lock()
	v.epoch++
	epoch := v.epoch
	v.phase = PhasePending
	v.mu.Unlock()
	defer v.finish(epoch, nil, true)

	if err := v.provider.SignOut(ctx); err != nil {
		v.logger.Warn("sign out error", zap.Error(err))
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

func resultUser(result *identity.AuthResult) *identity.User {
	if result == nil {
		return nil
	}
	if result.User != nil {
		return result.User
	}
	return identity.UserOf(result.Session)
}
