package auth

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/authview/internal/audit"
	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/database"
	auditrepo "github.com/mrlokans/authview/internal/database/audit"
	"github.com/mrlokans/authview/internal/entities"
	"github.com/mrlokans/authview/internal/identity"
	"github.com/mrlokans/authview/internal/identity/gotrue"
	"github.com/mrlokans/authview/internal/identity/gotrue/gotruetest"
)

// testApp is the auth controller behind the real session middleware, talking
// to a fake identity provider. It keeps cookies like a browser would.
type testApp struct {
	router   *gin.Engine
	idp      *gotruetest.Server
	sessions *SessionManager
	cookies  map[string]*http.Cookie
}

func testAuthConfig() config.Auth {
	return config.Auth{
		SessionLifetime:  time.Hour,
		MaxLoginAttempts: 5,
		RateLimitWindow:  time.Minute,
		LockoutDuration:  time.Minute,
		PublicURL:        "http://localhost:8188/",
	}
}

// postgrestUsers writes user records through the provider's PostgREST API.
func postgrestUsers(p *gotrue.Auth) identity.UsersTable {
	return p.UsersTable("users")
}

func newTestApp(t *testing.T, cfg config.Auth, opts ...ControllerOption) *testApp {
	t.Helper()

	idp := gotruetest.New(t)
	client, err := gotrue.NewClient(gotrue.Config{URL: idp.URL, AnonKey: gotruetest.AnonKey})
	require.NoError(t, err)

	sessions := setupSessionManager(t)
	controller, err := NewAuthController(client, sessions, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(controller.Stop)

	router := gin.New()
	router.Use(sessions.SessionLoadSave())
	controller.RegisterRoutes(router)

	return &testApp{
		router:   router,
		idp:      idp,
		sessions: sessions,
		cookies:  map[string]*http.Cookie{},
	}
}

// request builds a request carrying the app's cookies.
func (a *testApp) request(method, target string, form url.Values, headers ...string) *http.Request {
	var req *http.Request
	if form != nil {
		req = httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	for _, c := range a.cookies {
		req.AddCookie(c)
	}
	return req
}

func (a *testApp) do(t *testing.T, method, target string, form url.Values, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	rr := httptest.NewRecorder()
	a.router.ServeHTTP(rr, a.request(method, target, form, headers...))

	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 || c.Value == "" {
			delete(a.cookies, c.Name)
			continue
		}
		a.cookies[c.Name] = c
	}
	return rr
}

func parseDoc(t *testing.T, rr *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rr.Body)
	require.NoError(t, err)
	return doc
}

func credentials(email, password string) url.Values {
	return url.Values{"email": {email}, "password": {password}}
}

func TestAuthController_PageAnonymous(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	rr := app.do(t, http.MethodGet, "/auth", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	doc := parseDoc(t, rr)
	assert.Equal(t, "SignUp", doc.Find("#auth-heading").Text())
	assert.Equal(t, 0, doc.Find("#authenticated").Length())
}

func TestAuthController_SignupScenario(t *testing.T) {
	app := newTestApp(t, testAuthConfig(), WithUsersTable(postgrestUsers))

	rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/auth", rr.Header().Get("Location"))

	inserted := app.idp.Inserted()
	require.Len(t, inserted, 1)
	assert.Equal(t, gotruetest.UserID, inserted[0].UserID)
	assert.Equal(t, "a@b.com", inserted[0].Email)
	assert.Equal(t, "Bearer access-a@b.com", app.idp.LastInsertAuth())

	doc := parseDoc(t, app.do(t, http.MethodGet, "/auth", nil))
	require.Equal(t, 1, doc.Find("#authenticated").Length())
	assert.Equal(t, "a@b.com", doc.Find("#user-email").Text())
	assert.Equal(t, "Logout", doc.Find("#logout").Text())
}

func TestAuthController_SignupInsertFailure(t *testing.T) {
	app := newTestApp(t, testAuthConfig(), WithUsersTable(postgrestUsers))
	app.idp.FailInserts()

	rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))
	require.Equal(t, http.StatusOK, rr.Code)

	doc := parseDoc(t, rr)
	assert.Equal(t, 1, doc.Find("#auth-form").Length())
	assert.Equal(t, noticeGeneric, doc.Find("#notice").Text())
	assert.Equal(t, "a@b.com", doc.Find("#email").AttrOr("value", ""))

	// The issued session was dropped locally, not revoked, so the next load
	// is still anonymous.
	doc = parseDoc(t, app.do(t, http.MethodGet, "/auth", nil))
	assert.Equal(t, 0, doc.Find("#authenticated").Length())
	assert.Equal(t, 1, doc.Find("#auth-form").Length())
	assert.Equal(t, int32(0), app.idp.LogoutCalls())
}

func TestAuthController_SignupAwaitingConfirmation(t *testing.T) {
	app := newTestApp(t, testAuthConfig())
	app.idp.RequireConfirmation()

	rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))
	require.Equal(t, http.StatusOK, rr.Code)

	// The view shows the signed-up user; no provider session was issued.
	doc := parseDoc(t, rr)
	assert.Equal(t, 1, doc.Find("#authenticated").Length())

	doc = parseDoc(t, app.do(t, http.MethodGet, "/auth", nil))
	assert.Equal(t, 1, doc.Find("#auth-form").Length())
}

func TestAuthController_ConcurrentRequestsShareRefresh(t *testing.T) {
	app := newTestApp(t, testAuthConfig())
	// Shorter than gotrue.RefreshMargin, so every load refreshes.
	app.idp.SessionLifetime(5 * time.Second)
	app.idp.SlowRefresh(200 * time.Millisecond)

	app.do(t, http.MethodPost, "/auth/mode", nil)
	rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	responses := make([]*httptest.ResponseRecorder, 2)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range responses {
		req := app.request(http.MethodGet, "/auth", nil)
		wg.Add(1)
		go func(i int, req *http.Request) {
			defer wg.Done()
			<-start
			rec := httptest.NewRecorder()
			app.router.ServeHTTP(rec, req)
			responses[i] = rec
		}(i, req)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), app.idp.RefreshCalls())
	for _, rec := range responses {
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "a@b.com", parseDoc(t, rec).Find("#user-email").Text())
	}
}

func TestAuthController_ToggleModeKeepsFields(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	rr := app.do(t, http.MethodPost, "/auth/mode", credentials("x@y.com", "typed"))
	require.Equal(t, http.StatusOK, rr.Code)

	doc := parseDoc(t, rr)
	assert.Equal(t, "Login", doc.Find("#auth-heading").Text())
	assert.Equal(t, "x@y.com", doc.Find("#email").AttrOr("value", ""))
	assert.Equal(t, "typed", doc.Find("#password").AttrOr("value", ""))

	// Mode lives in the web session; typed fields do not.
	doc = parseDoc(t, app.do(t, http.MethodGet, "/auth", nil))
	assert.Equal(t, "Login", doc.Find("#auth-heading").Text())
	assert.Equal(t, "", doc.Find("#email").AttrOr("value", ""))
}

func TestAuthController_TogglePasswordVisibility(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	doc := parseDoc(t, app.do(t, http.MethodPost, "/auth/password-visibility", credentials("x@y.com", "typed")))
	assert.Equal(t, "text", doc.Find("#password").AttrOr("type", ""))
	assert.Equal(t, "typed", doc.Find("#password").AttrOr("value", ""))

	doc = parseDoc(t, app.do(t, http.MethodPost, "/auth/password-visibility", credentials("x@y.com", "typed")))
	assert.Equal(t, "password", doc.Find("#password").AttrOr("type", ""))
}

func TestAuthController_LoginFailure(t *testing.T) {
	app := newTestApp(t, testAuthConfig())
	app.do(t, http.MethodPost, "/auth/mode", nil)

	rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "wrong"))
	require.Equal(t, http.StatusOK, rr.Code)

	doc := parseDoc(t, rr)
	assert.Equal(t, 1, doc.Find("#auth-form").Length())
	assert.Equal(t, noticeGeneric, doc.Find("#notice").Text())
	assert.NotContains(t, rr.Body.String(), "Invalid login credentials")
}

func TestAuthController_MissingCredentials(t *testing.T) {
	cfg := testAuthConfig()
	cfg.MaxLoginAttempts = 1
	app := newTestApp(t, cfg)

	for i := 0; i < 2; i++ {
		rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", ""))
		require.Equal(t, http.StatusOK, rr.Code, "missing fields must not count as failures")
		assert.Equal(t, noticeMissing, parseDoc(t, rr).Find("#notice").Text())
	}
}

func TestAuthController_RateLimited(t *testing.T) {
	cfg := testAuthConfig()
	cfg.MaxLoginAttempts = 2
	app := newTestApp(t, cfg)
	app.do(t, http.MethodPost, "/auth/mode", nil)

	for i := 0; i < 2; i++ {
		rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "wrong"))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
	assert.Equal(t, noticeRateLimited, parseDoc(t, rr).Find("#notice").Text())
}

func TestAuthController_Logout(t *testing.T) {
	app := newTestApp(t, testAuthConfig())
	app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))

	rr := app.do(t, http.MethodPost, "/auth/logout", url.Values{"next": {"//evil.com"}})
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
	assert.Equal(t, int32(1), app.idp.LogoutCalls())

	doc := parseDoc(t, app.do(t, http.MethodGet, "/", nil))
	assert.Equal(t, 1, doc.Find("#auth-form").Length())
}

func TestAuthController_GitHubFallsBackToPasswordLogin(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	rr := app.do(t, http.MethodPost, "/auth/github", credentials("a@b.com", "secret123"))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	doc := parseDoc(t, app.do(t, http.MethodGet, "/auth", nil))
	assert.Equal(t, "a@b.com", doc.Find("#user-email").Text())
}

func TestAuthController_GitHubFederatedLogin(t *testing.T) {
	cfg := testAuthConfig()
	cfg.GitHubOAuth = true
	app := newTestApp(t, cfg)

	rr := app.do(t, http.MethodPost, "/auth/github", credentials("", ""))
	require.Equal(t, http.StatusSeeOther, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/auth/v1/authorize", loc.Path)
	assert.Equal(t, "github", loc.Query().Get("provider"))
	assert.Equal(t, "http://localhost:8188/auth/callback", loc.Query().Get("redirect_to"))

	rr = app.do(t, http.MethodGet, "/auth/callback?code=the-code", nil)
	require.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "the-code", app.idp.LastPKCE()["auth_code"])
	assert.NotEmpty(t, app.idp.LastPKCE()["code_verifier"])

	doc := parseDoc(t, app.do(t, http.MethodGet, "/auth", nil))
	assert.Equal(t, "gh@b.com", doc.Find("#user-email").Text())

	// The verifier is single use.
	rr = app.do(t, http.MethodGet, "/auth/callback?code=the-code", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestAuthController_CallbackFailures(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	for _, target := range []string{
		"/auth/callback?code=the-code",
		"/auth/callback?error=access_denied&error_description=denied",
	} {
		rr := app.do(t, http.MethodGet, target, nil)
		require.Equal(t, http.StatusOK, rr.Code, target)
		assert.Equal(t, noticeLoginFailed, parseDoc(t, rr).Find("#notice").Text(), target)
	}
}

func TestAuthController_ExpiredNotice(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	doc := parseDoc(t, app.do(t, http.MethodGet, "/auth?notice=expired", nil))
	assert.Equal(t, noticeExpired, doc.Find("#notice").Text())

	doc = parseDoc(t, app.do(t, http.MethodGet, "/auth?notice=other", nil))
	assert.Equal(t, 0, doc.Find("#notice").Length())
}

func TestAuthController_JSON(t *testing.T) {
	app := newTestApp(t, testAuthConfig())

	rr := app.do(t, http.MethodGet, "/auth", nil, "Accept", "application/json")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"authenticated":false,"email":"","is_login":false,"notice":""}`, rr.Body.String())
}

func TestAuthController_AuditTrail(t *testing.T) {
	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "audit.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	svc := audit.NewService(auditrepo.NewRepository(db.DB), nil)

	app := newTestApp(t, testAuthConfig(), WithAudit(svc))
	app.do(t, http.MethodPost, "/auth/submit", credentials("a@b.com", "secret123"))
	app.do(t, http.MethodPost, "/auth/logout", nil)
	svc.Wait()

	events, total, err := svc.GetEvents(gotruetest.UserID, 10, 0)
	require.NoError(t, err)
	require.Equal(t, int64(2), total)

	actions := []string{events[0].Action, events[1].Action}
	assert.ElementsMatch(t, []string{entities.AuditActionSignup, entities.AuditActionLogout}, actions)
	for _, e := range events {
		assert.Equal(t, entities.AuditStatusSuccess, e.Status)
	}
}
