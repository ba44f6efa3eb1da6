// Package auth serves the auth view over HTTP and keeps its web session.
//
// The identity provider owns credentials and tokens. This package only
// stores the provider session inside an scs web session (SQLite or Redis
// backed), protects the forms with CSRF tokens, rate limits password
// attempts and renders the view for each request.
//
// # Configuration
//
//	AUTH_SESSION_SECRET=<hex-32-bytes>  # CSRF key or passphrase, auto-generated if empty
//	AUTH_SESSION_LIFETIME=24h           # Web session duration
//	AUTH_SECURE_COOKIES=true            # HTTPS-only cookies
//	AUTH_MAX_LOGIN_ATTEMPTS=5           # Failures per window before a lockout
//	AUTH_LOCKOUT_DURATION=30m
//	AUTH_GITHUB_OAUTH=false             # Federated GitHub login
//	SESSION_STORE=sqlite                # or redis (REDIS_URL), which also holds lockouts
//
// # Usage
//
//	sessions := auth.NewSessionManager(store, cfg.Auth, logger)
//	router.Use(sessions.SessionLoadSave())
//	router.Use(auth.CSRFMiddleware(secret, cfg.Auth.SecureCookies))
//	controller, err := auth.NewAuthController(client, sessions, cfg.Auth)
//	controller.RegisterRoutes(router)
package auth

import "errors"

var ErrInvalidSessionSecret = errors.New("session secret must be 32 hex-encoded bytes or at least 16 characters")
