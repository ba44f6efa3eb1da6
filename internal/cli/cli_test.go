package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/database"
	"github.com/mrlokans/authview/internal/database/users"
	"github.com/mrlokans/authview/internal/identity/gotrue/gotruetest"
)

func testConfig(t *testing.T, idpURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		Database: config.Database{Path: filepath.Join(dir, "app.db")},
		Identity: config.Identity{
			URL:     idpURL,
			AnonKey: gotruetest.AnonKey,
			Timeout: 5 * time.Second,
		},
		UsersTable: config.UsersTable{Backend: config.UsersTableNone, Name: "users"},
		TokenStore: config.TokenStore{
			Path:          filepath.Join(dir, "cli.db"),
			EncryptionKey: "a passphrase for the test store",
		},
	}
}

type command interface {
	ParseFlags(args []string) error
	Run(ctx context.Context) error
}

// run parses args into cmd, feeds stdin and returns what it printed.
func run(t *testing.T, cmd command, base *baseCommand, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	base.Out = &out
	base.In = strings.NewReader(stdin)

	if err := cmd.ParseFlags(args); err != nil {
		return out.String(), err
	}
	err := cmd.Run(context.Background())
	return out.String(), err
}

func TestLoginStatusLogout(t *testing.T) {
	idp := gotruetest.New(t)
	cfg := testConfig(t, idp.URL)

	status := NewStatusCommand(cfg)
	out, err := run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)

	login := NewLoginCommand(cfg)
	out, err = run(t, login, &login.baseCommand, "", "-email", "a@b.com", "-password", gotruetest.Password)
	require.NoError(t, err)
	assert.Equal(t, "Logged in as a@b.com\n", out)

	status = NewStatusCommand(cfg)
	out, err = run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as a@b.com ("+gotruetest.UserID+")")
	assert.Contains(t, out, "Session expires at")
	assert.Equal(t, int32(1), idp.UserCalls())

	logout := NewLogoutCommand(cfg)
	out, err = run(t, logout, &logout.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Logged out\n", out)
	assert.Equal(t, int32(1), idp.LogoutCalls())

	status = NewStatusCommand(cfg)
	out, err = run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)
}

func TestLogin_PromptsForPassword(t *testing.T) {
	idp := gotruetest.New(t)
	cfg := testConfig(t, idp.URL)

	login := NewLoginCommand(cfg)
	out, err := run(t, login, &login.baseCommand, gotruetest.Password+"\n", "-email", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "Password: Logged in as a@b.com\n", out)
}

func TestLogin_Rejected(t *testing.T) {
	idp := gotruetest.New(t)
	cfg := testConfig(t, idp.URL)

	login := NewLoginCommand(cfg)
	_, err := run(t, login, &login.baseCommand, "", "-email", "a@b.com", "-password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login failed")

	status := NewStatusCommand(cfg)
	out, err := run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)
}

func TestLogin_EmailRequired(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")

	login := NewLoginCommand(cfg)
	_, err := run(t, login, &login.baseCommand, "", "-password", "x")
	assert.EqualError(t, err, "email is required")
}

func TestSignup_RecordsUser(t *testing.T) {
	idp := gotruetest.New(t)
	cfg := testConfig(t, idp.URL)
	cfg.UsersTable.Backend = config.UsersTableSQLite

	signup := NewSignupCommand(cfg)
	out, err := run(t, signup, &signup.baseCommand, "", "-email", "a@b.com", "-password", gotruetest.Password)
	require.NoError(t, err)
	assert.Equal(t, "Signed up as a@b.com\n", out)

	db, err := database.NewDatabase(cfg.Database.Path, nil)
	require.NoError(t, err)
	defer db.Close()
	repo, err := users.NewRepository(db.DB, "users")
	require.NoError(t, err)

	profile, err := repo.GetByUserID(context.Background(), gotruetest.UserID)
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, "a@b.com", profile.Email)
}

func TestSignup_PostgRESTTable(t *testing.T) {
	idp := gotruetest.New(t)
	cfg := testConfig(t, idp.URL)
	cfg.UsersTable.Backend = config.UsersTablePostgREST

	signup := NewSignupCommand(cfg)
	_, err := run(t, signup, &signup.baseCommand, "", "-email", "a@b.com", "-password", gotruetest.Password)
	require.NoError(t, err)

	require.Len(t, idp.Inserted(), 1)
	assert.Equal(t, "Bearer access-a@b.com", idp.LastInsertAuth())
}

func TestSignup_AwaitingConfirmation(t *testing.T) {
	idp := gotruetest.New(t)
	idp.RequireConfirmation()
	cfg := testConfig(t, idp.URL)

	signup := NewSignupCommand(cfg)
	out, err := run(t, signup, &signup.baseCommand, "", "-email", "a@b.com", "-password", gotruetest.Password)
	require.NoError(t, err)
	assert.Contains(t, out, "Confirm your email address")
}

func TestSignup_InsertFailure(t *testing.T) {
	idp := gotruetest.New(t)
	idp.FailInserts()
	cfg := testConfig(t, idp.URL)
	cfg.UsersTable.Backend = config.UsersTablePostgREST

	signup := NewSignupCommand(cfg)
	_, err := run(t, signup, &signup.baseCommand, "", "-email", "a@b.com", "-password", gotruetest.Password)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sign up failed")

	status := NewStatusCommand(cfg)
	out, err := run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)
	assert.Equal(t, int32(0), idp.LogoutCalls())
}

func TestStatus_RevokedSession(t *testing.T) {
	idp := gotruetest.New(t)
	cfg := testConfig(t, idp.URL)

	login := NewLoginCommand(cfg)
	_, err := run(t, login, &login.baseCommand, "", "-email", "a@b.com", "-password", gotruetest.Password)
	require.NoError(t, err)

	idp.RevokeTokens()

	status := NewStatusCommand(cfg)
	out, err := run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)
	assert.Equal(t, int32(1), idp.UserCalls())

	// The revoked session was dropped from the store.
	status = NewStatusCommand(cfg)
	out, err = run(t, status, &status.baseCommand, "")
	require.NoError(t, err)
	assert.Equal(t, "Not signed in\n", out)
	assert.Equal(t, int32(1), idp.UserCalls())
}

func TestOpen_RequiresIdentityConfig(t *testing.T) {
	cfg := testConfig(t, "")

	status := NewStatusCommand(cfg)
	_, err := run(t, status, &status.baseCommand, "")
	assert.Error(t, err)
}
