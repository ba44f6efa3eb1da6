package http

import (
	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/audit"
	"github.com/mrlokans/authview/internal/auth"
	"github.com/mrlokans/authview/internal/database"
)

// RouterConfig contains all dependencies and configuration needed
// to create the HTTP router.
type RouterConfig struct {
	// Auth view
	AuthController *auth.AuthController
	SessionManager *auth.SessionManager
	AuthMiddleware *auth.Middleware

	// CSRF protection is enabled when the secret is set
	CSRFSecret    []byte
	SecureCookies bool

	// Extra origins the auth forms may post to or redirect through
	// (identity provider, GitHub)
	FormTargets []string

	// Core dependencies
	Database *database.Database
	Provider ProviderChecker
	Profiles ProfileLookup
	Audit    *audit.Service
	Logger   *zap.Logger

	// Application info
	Version string
}
