// Package entrypoint wires the HTTP server from configuration.
package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mrlokans/authview/internal/audit"
	"github.com/mrlokans/authview/internal/auth"
	"github.com/mrlokans/authview/internal/config"
	"github.com/mrlokans/authview/internal/database"
	auditrepo "github.com/mrlokans/authview/internal/database/audit"
	"github.com/mrlokans/authview/internal/database/users"
	http_controllers "github.com/mrlokans/authview/internal/http"
	"github.com/mrlokans/authview/internal/identity"
	"github.com/mrlokans/authview/internal/identity/gotrue"
	"github.com/mrlokans/authview/internal/logging"
	"github.com/mrlokans/authview/internal/scheduler"
	"github.com/mrlokans/authview/internal/tasks"
)

const githubOrigin = "https://github.com"

// ShutdownFunc is called during graceful shutdown to clean up resources.
type ShutdownFunc func(ctx context.Context)

// Serve runs the server until SIGINT or SIGTERM, then shuts it down.
func Serve(router *gin.Engine, cfg *config.Config, logger *zap.Logger, onShutdown ShutdownFunc) error {
	timeout := time.Duration(cfg.Global.ShutdownTimeoutInSeconds) * time.Second
	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
	case sig := <-quit:
		logger.Info("shutting down server", zap.String("signal", sig.String()), zap.Duration("timeout", timeout))
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}

	// Background work goes after the listener so in-flight requests can
	// still write audit events.
	if onShutdown != nil {
		onShutdown(ctx)
	}

	logger.Info("server exited")
	return nil
}

// Run builds every dependency from cfg and serves until interrupted.
func Run(cfg *config.Config, version string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting authview", zap.String("version", version))

	db, err := database.NewDatabase(cfg.Database.Path, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database", zap.Error(err))
		}
	}()

	client, err := gotrue.NewClient(gotrue.Config{
		URL:     cfg.Identity.URL,
		AnonKey: cfg.Identity.AnonKey,
		Timeout: cfg.Identity.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create identity client: %w", err)
	}
	claims := gotrue.NewClaimsParser(cfg.Identity.JWTSecret)
	if !claims.Verifying() {
		logger.Warn("IDENTITY_JWT_SECRET is not set, access token signatures are not verified")
	}

	var profiles http_controllers.ProfileLookup
	var usersTable auth.UsersTableFunc
	switch cfg.UsersTable.Backend {
	case config.UsersTableSQLite:
		repo, err := users.NewRepository(db.DB, cfg.UsersTable.Name)
		if err != nil {
			return fmt.Errorf("failed to initialize users table: %w", err)
		}
		profiles = repo
		usersTable = func(*gotrue.Auth) identity.UsersTable { return repo }
	case config.UsersTablePostgREST:
		name := cfg.UsersTable.Name
		usersTable = func(provider *gotrue.Auth) identity.UsersTable { return provider.UsersTable(name) }
	}
	logger.Info("users table configured",
		zap.String("backend", cfg.UsersTable.Backend),
		zap.String("table", cfg.UsersTable.Name))

	store, redisClient, err := newSessionStore(cfg, db)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Error("error closing redis client", zap.Error(err))
			}
		}()
	}
	if stopper, ok := store.(interface{ StopCleanup() }); ok {
		defer stopper.StopCleanup()
	}
	logger.Info("session store configured", zap.String("store", cfg.Sessions.Store))

	sessionManager := auth.NewSessionManager(store, cfg.Auth, logger)
	authMiddleware := auth.NewMiddleware(sessionManager)

	csrfSecret, err := csrfKey(cfg.Auth.SessionSecret, logger)
	if err != nil {
		return err
	}

	auditService := audit.NewService(auditrepo.NewRepository(db.DB), logger)

	controllerOpts := []auth.ControllerOption{
		auth.WithClaimsParser(claims),
		auth.WithAudit(auditService),
		auth.WithLogger(logger),
	}
	if usersTable != nil {
		controllerOpts = append(controllerOpts, auth.WithUsersTable(usersTable))
	}
	if redisClient != nil {
		// Lockouts must hold across every instance sharing the sessions.
		controllerOpts = append(controllerOpts,
			auth.WithAttemptLimiter(auth.NewRedisLimiter(redisClient, auth.NewLimitPolicy(cfg.Auth))))
	}
	controller, err := auth.NewAuthController(client, sessionManager, cfg.Auth, controllerOpts...)
	if err != nil {
		return fmt.Errorf("failed to create auth controller: %w", err)
	}

	var taskClient *tasks.Client
	var taskCtxCancel context.CancelFunc
	var cleanupQueue scheduler.PurgeEnqueuer
	if cfg.Tasks.Enabled {
		taskClient, err = tasks.NewClient(cfg.Database.Path, tasks.Config{
			Workers:         cfg.Tasks.Workers,
			ReleaseAfter:    cfg.Tasks.ReleaseAfter,
			CleanupInterval: cfg.Tasks.CleanupInterval,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize task queue: %w", err)
		}
		defer func() {
			if err := taskClient.Close(); err != nil {
				logger.Error("error closing task client", zap.Error(err))
			}
		}()

		taskClient.Register(tasks.NewPurgeAuditTrailQueue(auditService, logger))

		var taskCtx context.Context
		taskCtx, taskCtxCancel = context.WithCancel(context.Background())
		go taskClient.Start(taskCtx)
		cleanupQueue = taskClient
	}

	cleanup := scheduler.NewAuditCleanupScheduler(
		cfg.Audit.CleanupSchedule,
		cfg.Audit.RetentionDays,
		cleanupQueue,
		auditService,
		logger,
	)
	if err := cleanup.Start(context.Background()); err != nil {
		logger.Warn("audit cleanup disabled", zap.Error(err))
	}

	router := http_controllers.NewRouter(http_controllers.RouterConfig{
		AuthController: controller,
		SessionManager: sessionManager,
		AuthMiddleware: authMiddleware,
		CSRFSecret:     csrfSecret,
		SecureCookies:  cfg.Auth.SecureCookies,
		FormTargets:    []string{client.BaseURL(), githubOrigin},
		Database:       db,
		Provider:       client,
		Profiles:       profiles,
		Audit:          auditService,
		Logger:         logger,
		Version:        version,
	})

	onShutdown := func(ctx context.Context) {
		controller.Stop()
		cleanup.Stop()
		if taskClient != nil {
			taskClient.Stop(ctx)
			taskCtxCancel()
		}
		auditService.Wait()
	}

	return Serve(router, cfg, logger, onShutdown)
}

// newSessionStore returns the configured scs store. The redis client is
// returned so the caller can close it.
func newSessionStore(cfg *config.Config, db *database.Database) (scs.Store, *redis.Client, error) {
	if cfg.Sessions.Store == config.SessionStoreRedis {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := auth.ConnectRedis(ctx, cfg.Sessions.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect session store: %w", err)
		}
		return auth.NewRedisStore(client), client, nil
	}

	sqlDB, err := db.SQLDB()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get SQL DB for sessions: %w", err)
	}
	store, err := auth.NewSQLiteStore(sqlDB)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	return store, nil, nil
}

func csrfKey(secret string, logger *zap.Logger) ([]byte, error) {
	if secret == "" {
		generated, err := auth.GenerateSessionSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate CSRF secret: %w", err)
		}
		logger.Warn("generated session secret, set AUTH_SESSION_SECRET to keep forms valid across restarts")
		secret = generated
	}
	key, err := auth.SessionSecretBytes(secret)
	if err != nil {
		return nil, fmt.Errorf("AUTH_SESSION_SECRET: %w", err)
	}
	return key, nil
}
