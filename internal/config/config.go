package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	Config struct {
		HTTP
		Global
		Database
		Logging
		Identity
		UsersTable
		Auth
		Sessions
		Audit
		Tasks
		TokenStore
	}

	HTTP struct {
		Port int32
		Host string
	}
	Global struct {
		ShutdownTimeoutInSeconds int
	}
	Database struct {
		Path string
	}
	Logging struct {
		Level  string
		Format string // json or console
	}
	Identity struct {
		URL       string // project URL of the GoTrue-compatible provider
		AnonKey   string
		JWTSecret string // verifies access tokens when set
		Timeout   time.Duration
	}
	UsersTable struct {
		Backend string // sqlite, postgrest or none
		Name    string
	}
	Auth struct {
		SessionSecret   string
		SessionLifetime time.Duration
		SecureCookies   bool // Set to false for local dev without HTTPS

		// Rate limiting configuration
		MaxLoginAttempts int           // Max failed attempts before lockout (default: 5)
		RateLimitWindow  time.Duration // Time window for counting attempts (default: 15m)
		LockoutDuration  time.Duration // How long to lock out (default: 30m)

		GitHubOAuth bool   // Use the federated GitHub flow for the GitHub control
		PublicURL   string // External base URL, used for OAuth redirects
	}
	Sessions struct {
		Store    string // sqlite or redis
		RedisURL string
	}
	Audit struct {
		RetentionDays   int    // Days to keep audit events (default: 30)
		CleanupSchedule string // Cron format
	}
	Tasks struct {
		Enabled         bool
		Workers         int
		ReleaseAfter    time.Duration
		CleanupInterval time.Duration
	}
	TokenStore struct {
		Path          string
		EncryptionKey string
		KeyFilePath   string
	}
)

// LoadDotEnv loads a .env file from the working directory if there is one.
func LoadDotEnv() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return fmt.Errorf("load .env file: %w", err)
		}
	}
	return nil
}

func NewConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("port", 8188)
	v.SetDefault("host", "0.0.0.0")
	v.SetDefault("shutdown_timeout_in_seconds", 2)
	v.SetDefault("database_path", DefaultDatabasePath)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")

	// Identity provider defaults
	v.SetDefault("identity_url", "")
	v.SetDefault("identity_anon_key", "")
	v.SetDefault("identity_jwt_secret", "")
	v.SetDefault("identity_timeout", "15s")
	v.SetDefault("users_table_backend", UsersTableSQLite)
	v.SetDefault("users_table_name", "users")

	// Auth defaults
	v.SetDefault("auth_session_secret", "")       // Auto-generated if empty
	v.SetDefault("auth_session_lifetime", "24h")  // 24 hours
	v.SetDefault("auth_secure_cookies", true)     // HTTPS-only cookies
	v.SetDefault("auth_max_login_attempts", 5)    // Max failed attempts
	v.SetDefault("auth_rate_limit_window", "15m") // Window for counting attempts
	v.SetDefault("auth_lockout_duration", "30m")  // Lockout duration
	v.SetDefault("auth_github_oauth", false)
	v.SetDefault("auth_public_url", "http://localhost:8188")
	v.SetDefault("session_store", SessionStoreSQLite)
	v.SetDefault("redis_url", "redis://localhost:6379/0")

	v.SetDefault("audit_retention_days", 30)
	v.SetDefault("audit_cleanup_schedule", "0 3 * * *") // Daily at 03:00

	// Task queue defaults
	v.SetDefault("tasks_enabled", true)
	v.SetDefault("task_workers", 2)
	v.SetDefault("task_release_after", "15m")
	v.SetDefault("task_cleanup_interval", "1h")

	v.SetDefault("token_store_path", DefaultTokenStorePath)
	v.SetDefault("token_encryption_key", "")
	v.SetDefault("token_key_file", "./.authview-key")

	return &Config{
		HTTP: HTTP{
			Port: v.GetInt32("PORT"),
			Host: v.GetString("HOST"),
		},
		Global: Global{
			ShutdownTimeoutInSeconds: v.GetInt("SHUTDOWN_TIMEOUT_IN_SECONDS"),
		},
		Database: Database{
			Path: v.GetString("DATABASE_PATH"),
		},
		Logging: Logging{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		Identity: Identity{
			URL:       v.GetString("IDENTITY_URL"),
			AnonKey:   v.GetString("IDENTITY_ANON_KEY"),
			JWTSecret: v.GetString("IDENTITY_JWT_SECRET"),
			Timeout:   v.GetDuration("IDENTITY_TIMEOUT"),
		},
		UsersTable: UsersTable{
			Backend: v.GetString("USERS_TABLE_BACKEND"),
			Name:    v.GetString("USERS_TABLE_NAME"),
		},
		Auth: Auth{
			SessionSecret:    v.GetString("AUTH_SESSION_SECRET"),
			SessionLifetime:  v.GetDuration("AUTH_SESSION_LIFETIME"),
			SecureCookies:    v.GetBool("AUTH_SECURE_COOKIES"),
			MaxLoginAttempts: v.GetInt("AUTH_MAX_LOGIN_ATTEMPTS"),
			RateLimitWindow:  v.GetDuration("AUTH_RATE_LIMIT_WINDOW"),
			LockoutDuration:  v.GetDuration("AUTH_LOCKOUT_DURATION"),
			GitHubOAuth:      v.GetBool("AUTH_GITHUB_OAUTH"),
			PublicURL:        v.GetString("AUTH_PUBLIC_URL"),
		},
		Sessions: Sessions{
			Store:    v.GetString("SESSION_STORE"),
			RedisURL: v.GetString("REDIS_URL"),
		},
		Audit: Audit{
			RetentionDays:   v.GetInt("AUDIT_RETENTION_DAYS"),
			CleanupSchedule: v.GetString("AUDIT_CLEANUP_SCHEDULE"),
		},
		Tasks: Tasks{
			Enabled:         v.GetBool("TASKS_ENABLED"),
			Workers:         v.GetInt("TASK_WORKERS"),
			ReleaseAfter:    v.GetDuration("TASK_RELEASE_AFTER"),
			CleanupInterval: v.GetDuration("TASK_CLEANUP_INTERVAL"),
		},
		TokenStore: TokenStore{
			Path:          v.GetString("TOKEN_STORE_PATH"),
			EncryptionKey: v.GetString("TOKEN_ENCRYPTION_KEY"),
			KeyFilePath:   v.GetString("TOKEN_KEY_FILE"),
		},
	}
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	if c.Identity.URL == "" || c.Identity.AnonKey == "" {
		return errors.New("IDENTITY_URL and IDENTITY_ANON_KEY are required")
	}
	switch c.UsersTable.Backend {
	case UsersTableSQLite, UsersTablePostgREST, UsersTableNone:
	default:
		return fmt.Errorf("unknown USERS_TABLE_BACKEND %q", c.UsersTable.Backend)
	}
	switch c.Sessions.Store {
	case SessionStoreSQLite, SessionStoreRedis:
	default:
		return fmt.Errorf("unknown SESSION_STORE %q", c.Sessions.Store)
	}
	return nil
}
