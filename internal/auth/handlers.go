package auth

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/audit"
	"github.com/mrlokans/authview/internal/authview"
	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/entities"
	"github.com/mrlokans/authview/internal/identity"
	"github.com/mrlokans/authview/internal/identity/gotrue"
	"github.com/mrlokans/authview/internal/logging"
)

// Notices shown above the form. Provider messages are never echoed.
const (
	noticeGeneric      = "Something went wrong. Please try again."
	noticeMissing      = "Email and password are required."
	noticeRateLimited  = "Too many attempts. Please try again later."
	noticeExpired      = "Session expired. Please try again."
	noticeLoginFailed  = "Could not sign in with GitHub."
	githubProviderName = "github"
	callbackPath       = "/auth/callback"
)

// isLocalPath validates that a redirect path is local to prevent open redirect attacks.
func isLocalPath(path string) bool {
	if path == "" || !strings.HasPrefix(path, "/") {
		return false
	}
	// Protocol-relative (//evil.com), embedded schemes and backslash tricks.
	if strings.HasPrefix(path, "//") || strings.Contains(path, "://") || strings.Contains(path, "\\") {
		return false
	}
	return true
}

// sanitizeRedirectPath returns a safe redirect path, defaulting to "/" if invalid.
func sanitizeRedirectPath(path string) string {
	if isLocalPath(path) {
		return path
	}
	return "/"
}

// UsersTableFunc picks the users table for a request. It receives the
// request's provider client so a PostgREST table can act as the new user.
type UsersTableFunc func(provider *gotrue.Auth) identity.UsersTable

// AuthController serves the auth view. Every request gets its own View,
// bound to a provider client whose session lives in the visitor's web
// session.
type AuthController struct {
	client     *gotrue.Client
	claims     *gotrue.ClaimsParser
	sessions   *SessionManager
	renderer   *authview.Renderer
	usersTable UsersTableFunc
	audit      *audit.Service
	limiter    AttemptLimiter
	config     config.Auth
	logger     *zap.Logger
}

// ControllerOption configures an AuthController.
type ControllerOption func(*AuthController)

func WithClaimsParser(p *gotrue.ClaimsParser) ControllerOption {
	return func(ac *AuthController) { ac.claims = p }
}

func WithUsersTable(fn UsersTableFunc) ControllerOption {
	return func(ac *AuthController) { ac.usersTable = fn }
}

func WithAudit(svc *audit.Service) ControllerOption {
	return func(ac *AuthController) { ac.audit = svc }
}

// WithAttemptLimiter replaces the in-memory limiter, e.g. with a RedisLimiter
// shared by several instances.
func WithAttemptLimiter(l AttemptLimiter) ControllerOption {
	return func(ac *AuthController) { ac.limiter = l }
}

func WithLogger(logger *zap.Logger) ControllerOption {
	return func(ac *AuthController) {
		if logger != nil {
			ac.logger = logger
		}
	}
}

// NewAuthController creates a new authentication controller.
func NewAuthController(client *gotrue.Client, sessions *SessionManager, cfg config.Auth, opts ...ControllerOption) (*AuthController, error) {
	renderer, err := authview.NewRenderer()
	if err != nil {
		return nil, err
	}

	ac := &AuthController{
		client:   client,
		sessions: sessions,
		renderer: renderer,
		config:   cfg,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(ac)
	}
	if ac.limiter == nil {
		ac.limiter = NewMemoryLimiter(NewLimitPolicy(cfg))
	}
	return ac, nil
}

// RegisterRoutes registers authentication routes on the router.
func (ac *AuthController) RegisterRoutes(router gin.IRouter) {
	router.GET("/", ac.Page)
	router.GET(LoginPath, ac.Page)
	router.POST(authview.DefaultRoutes.Submit, ac.Submit)
	router.POST(authview.DefaultRoutes.Mode, ac.ToggleMode)
	router.POST(authview.DefaultRoutes.PasswordVisibility, ac.TogglePasswordVisibility)
	router.POST(authview.DefaultRoutes.GitHub, ac.GitHub)
	router.GET(callbackPath, ac.Callback)
	router.POST(authview.DefaultRoutes.Logout, ac.Logout)
}

// Stop releases the attempt limiter.
func (ac *AuthController) Stop() {
	ac.limiter.Stop()
}

// mountView builds and mounts the view for one request. The caller must
// Unmount it. A failed session fetch leaves the view anonymous.
func (ac *AuthController) mountView(c *gin.Context, opts ...authview.Option) (*authview.View, *gotrue.Auth) {
	logger := logging.FromGin(c, ac.logger)
	ctx := c.Request.Context()

	provider := gotrue.NewAuth(ac.client, ac.sessions.ProviderStorage(),
		gotrue.WithClaimsParser(ac.claims),
		gotrue.WithLogger(logger),
	)

	base := []authview.Option{
		authview.WithLogger(logger.Named("authview")),
		authview.WithUIState(ac.sessions.UIState(ctx)),
	}
	if ac.usersTable != nil {
		if table := ac.usersTable(provider); table != nil {
			if ac.audit != nil {
				table = auditedTable{UsersTable: table, audit: ac.audit, correlationID: logging.RequestID(c)}
			}
			base = append(base, authview.WithUsersTable(table))
		}
	}
	view := authview.New(provider, append(base, opts...)...)
	_ = view.Mount(ctx)

	// Typed fields travel with every form post and are rendered back.
	if c.Request.Method == http.MethodPost {
		view.SetEmail(strings.TrimSpace(c.PostForm("email")))
		view.SetPassword(c.PostForm("password"))
	}
	return view, provider
}

// Page renders the view for the current session.
func (ac *AuthController) Page(c *gin.Context) {
	view, _ := ac.mountView(c)
	defer view.Unmount()

	notice := ""
	if c.Query("notice") == NoticeSessionExpired {
		notice = noticeExpired
	}
	ac.render(c, http.StatusOK, view, notice)
}

// Submit registers in signup mode and signs in in login mode.
func (ac *AuthController) Submit(c *gin.Context) {
	view, _ := ac.mountView(c)
	defer view.Unmount()

	action := entities.AuditActionSignup
	if view.UI().IsLogin {
		action = entities.AuditActionLogin
	}
	ac.runCredentialAction(c, view, action, view.Submit)
}

// ToggleMode switches between signup and login, keeping typed fields.
func (ac *AuthController) ToggleMode(c *gin.Context) {
	view, _ := ac.mountView(c)
	defer view.Unmount()

	view.ToggleMode()
	ac.sessions.PutUIState(c.Request.Context(), view.UI())
	ac.render(c, http.StatusOK, view, "")
}

// TogglePasswordVisibility shows or hides the password field.
func (ac *AuthController) TogglePasswordVisibility(c *gin.Context) {
	view, _ := ac.mountView(c)
	defer view.Unmount()

	view.TogglePasswordVisibility()
	ac.sessions.PutUIState(c.Request.Context(), view.UI())
	ac.render(c, http.StatusOK, view, "")
}

// GitHub handles the "Login With GitHub" control. Unless the federated flow
// is enabled it signs in with the typed email and password.
func (ac *AuthController) GitHub(c *gin.Context) {
	var opts []authview.Option
	var provider *gotrue.Auth
	if ac.config.GitHubOAuth {
		opts = append(opts, authview.WithFederatedLogin(func(ctx context.Context) (string, error) {
			authURL, verifier := provider.AuthorizeURL(githubProviderName, ac.callbackURL())
			ac.sessions.PutPKCEVerifier(ctx, verifier)
			return authURL, nil
		}))
	}

	view, p := ac.mountView(c, opts...)
	provider = p
	defer view.Unmount()

	if !ac.config.GitHubOAuth {
		ac.runCredentialAction(c, view, entities.AuditActionLogin, func(ctx context.Context) error {
			_, err := view.LoginWithGitHub(ctx)
			return err
		})
		return
	}

	redirect, err := view.LoginWithGitHub(c.Request.Context())
	ac.logAudit(c, "", entities.AuditActionGitHubLogin, err)
	if err != nil {
		ac.render(c, http.StatusOK, view, noticeLoginFailed)
		return
	}
	c.Redirect(http.StatusSeeOther, redirect)
}

// Callback completes the federated login started by GitHub.
func (ac *AuthController) Callback(c *gin.Context) {
	view, provider := ac.mountView(c)
	defer view.Unmount()

	ctx := c.Request.Context()
	logger := logging.FromGin(c, ac.logger)
	verifier := ac.sessions.PopPKCEVerifier(ctx)

	if providerErr := c.Query("error"); providerErr != "" {
		logger.Warn("federated login rejected",
			zap.String("error", providerErr),
			zap.String("description", c.Query("error_description")))
		ac.logAudit(c, "", entities.AuditActionOAuthReturn, errors.New(providerErr))
		ac.render(c, http.StatusOK, view, noticeLoginFailed)
		return
	}

	result, err := provider.ExchangeCode(ctx, c.Query("code"), verifier)
	if err != nil {
		logger.Error("code exchange error", zap.Error(err))
		ac.logAudit(c, "", entities.AuditActionOAuthReturn, err)
		ac.render(c, http.StatusOK, view, noticeLoginFailed)
		return
	}

	ac.logAudit(c, userRef(result.User, ""), entities.AuditActionOAuthReturn, nil)
	c.Redirect(http.StatusSeeOther, LoginPath)
}

// Logout signs out. The local session is cleared even if the provider call
// fails.
func (ac *AuthController) Logout(c *gin.Context) {
	view, _ := ac.mountView(c)
	defer view.Unmount()

	ref := userRef(view.User(), "")
	err := view.Deauthenticate(c.Request.Context())
	ac.logAudit(c, ref, entities.AuditActionLogout, err)

	c.Redirect(http.StatusSeeOther, sanitizeRedirectPath(c.PostForm("next")))
}

// runCredentialAction runs a password action under the attempt limiter and
// renders the outcome. On success with a stored provider session the browser
// is redirected to the view; otherwise the same view is rendered back.
func (ac *AuthController) runCredentialAction(c *gin.Context, view *authview.View, action string, run func(ctx context.Context) error) {
	ctx := c.Request.Context()
	clientIP := c.ClientIP()
	email := view.Form().Email

	lockout, err := ac.limiter.Check(ctx, clientIP, email)
	if err != nil {
		ac.logger.Warn("attempt limiter unavailable", zap.Error(err))
	}
	if lockout > 0 {
		c.Header("Retry-After", strconv.Itoa(int(lockout.Seconds())))
		ac.render(c, http.StatusTooManyRequests, view, noticeRateLimited)
		return
	}

	err = run(ctx)
	ac.logAudit(c, userRef(view.User(), email), action, err)

	if err != nil {
		notice := noticeGeneric
		if errors.Is(err, identity.ErrMissingCredentials) {
			notice = noticeMissing
		} else if _, ferr := ac.limiter.Fail(ctx, clientIP, email); ferr != nil {
			ac.logger.Warn("failed to record attempt", zap.Error(ferr))
		}
		ac.render(c, http.StatusOK, view, notice)
		return
	}

	if err := ac.limiter.Reset(ctx, clientIP, email); err != nil {
		ac.logger.Warn("failed to reset attempts", zap.Error(err))
	}
	if ac.sessions.Exists(ctx, SessionKeyProviderSession) {
		c.Redirect(http.StatusSeeOther, LoginPath)
		return
	}
	// Sign-up without a session (email confirmation pending).
	ac.render(c, http.StatusOK, view, "")
}

func (ac *AuthController) callbackURL() string {
	return strings.TrimRight(ac.config.PublicURL, "/") + callbackPath
}

func (ac *AuthController) logAudit(c *gin.Context, ref, action string, err error) {
	if ac.audit == nil {
		return
	}
	ac.audit.LogAuth(audit.AuthRecord{
		UserRef:       ref,
		Action:        action,
		IPAddress:     c.ClientIP(),
		UserAgent:     c.Request.UserAgent(),
		CorrelationID: logging.RequestID(c),
		Err:           err,
	})
}

// userRef identifies a user in the audit trail: provider ID when known,
// otherwise the typed email.
func userRef(user *identity.User, email string) string {
	if user != nil && user.ID != "" {
		return user.ID
	}
	return email
}

// auditedTable records every users table insert in the audit trail.
type auditedTable struct {
	identity.UsersTable
	audit         *audit.Service
	correlationID string
}

func (t auditedTable) Insert(ctx context.Context, records []identity.UserRecord) error {
	err := t.UsersTable.Insert(ctx, records)
	for _, rec := range records {
		t.audit.LogProfileInsert(userRef(&identity.User{ID: rec.UserID}, rec.Email), t.correlationID, err)
	}
	return err
}

// render writes the auth view as HTML, or as JSON for API clients.
func (ac *AuthController) render(c *gin.Context, status int, view *authview.View, notice string) {
	page := authview.Page{
		ViewModel: view.ViewModel(),
		CSRFField: CSRFTokenField(c),
		Notice:    notice,
	}

	if isAPIRequest(c) {
		c.JSON(status, gin.H{
			"authenticated": page.Authenticated,
			"email":         page.UserEmail,
			"is_login":      page.IsLogin,
			"notice":        notice,
		})
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if err := ac.renderer.Render(c.Writer, page); err != nil {
		logging.FromGin(c, ac.logger).Error("failed to render auth view", zap.Error(err))
	}
}
