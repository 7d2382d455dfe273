package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/aussiebroadwan/securevault/internal/vault/http"
	"github.com/aussiebroadwan/securevault/internal/vault/service"
	"github.com/aussiebroadwan/securevault/internal/vault/store"
	vaultredis "github.com/aussiebroadwan/securevault/internal/vault/store/drivers/redis"
	"github.com/aussiebroadwan/securevault/internal/vault/store/drivers/sqlite"
	"github.com/aussiebroadwan/securevault/pkg/cryptox"
	"github.com/aussiebroadwan/securevault/pkg/otelx"
	"github.com/aussiebroadwan/securevault/pkg/slogx"
	goredis "github.com/redis/go-redis/v9"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"

	serviceName = "securevault"
)

// Application owns the vault service and everything it depends on.
type Application struct {
	cfg    Config
	logger *slog.Logger

	db            store.Store
	redis         *goredis.Client
	challenges    store.Challenges
	keys          SessionKeys
	shutdownTrace otelx.ShutdownFunc

	userService  *service.UserService
	totpEngine   *service.TOTPEngine
	passkeys     *service.PasskeyEngine
	login        *service.LoginOrchestrator
	housekeeping *service.HousekeepingService

	server *http.Server
	router *httpapi.Router
}

// New builds an Application from cfg. Nothing is listening until Run.
func New(cfg Config) (*Application, error) {
	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: serviceName,
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	cryptox.SetPepperPath(app.cfg.PepperFile)

	ctx := context.Background()
	shutdownTrace, err := otelx.Setup(ctx, serviceName, BuildVersion, cfg.OTELEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	app.shutdownTrace = shutdownTrace

	if err := app.initDatabase(); err != nil {
		return nil, err
	}
	if err := app.initChallengeStore(ctx); err != nil {
		_ = app.db.Close()
		return nil, err
	}

	app.keys, err = InitSessionKeys(app.cfg, app.logger)
	if err != nil {
		app.closeStores()
		return nil, err
	}

	if err := app.initServices(); err != nil {
		app.closeStores()
		return nil, err
	}
	app.initHTTP()

	return app, nil
}

// Run starts the application and blocks until shutdown is requested.
func (app *Application) Run() error {
	app.housekeeping.Start()

	app.logger.Info("vault service starting", "port", app.cfg.Port, "version", BuildVersion)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- app.server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.housekeeping.Stop()
			app.closeStores()
			return fmt.Errorf("server failed: %w", err)
		}
	case sig := <-shutdown:
		app.logger.Info("shutdown signal received", "signal", sig)
		if err := app.Shutdown(); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	return nil
}

// Shutdown drains in-flight requests, then stops background work and closes
// the stores.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down vault service...")

	ctx, cancel := context.WithTimeout(context.Background(), app.cfg.ShutdownGracePeriod)
	defer cancel()

	if err := app.server.Shutdown(ctx); err != nil {
		app.logger.Error("graceful server shutdown failed", "error", err)
		if err := app.server.Close(); err != nil {
			app.logger.Error("error closing server", "error", err)
		}
	}

	app.housekeeping.Stop()

	if err := app.shutdownTrace(ctx); err != nil {
		app.logger.Error("error flushing traces", "error", err)
	}

	if err := app.closeStores(); err != nil {
		return err
	}

	app.logger.Info("vault service stopped")
	return nil
}

func (app *Application) closeStores() error {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Error("error closing redis", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

func (app *Application) initDatabase() error {
	db, err := sqlite.NewStore(sqlite.DSN(app.cfg.DatabaseFile))
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	if err := db.ApplyMigrations(); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}

	app.logger.Info("database migrations applied successfully")
	return nil
}

// initChallengeStore picks where ceremony challenges live. Redis lets
// several replicas share in-flight ceremonies.
func (app *Application) initChallengeStore(ctx context.Context) error {
	if app.cfg.ChallengeStore != "redis" {
		app.challenges = app.db.Challenges()
		return nil
	}

	app.redis = goredis.NewClient(&goredis.Options{Addr: app.cfg.RedisAddr})
	rs := vaultredis.NewChallengeStore(app.redis)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rs.Ping(pingCtx); err != nil {
		_ = app.redis.Close()
		app.redis = nil
		return fmt.Errorf("failed to reach redis at %s: %w", app.cfg.RedisAddr, err)
	}

	app.challenges = rs
	app.logger.Info("challenge store: redis", "addr", app.cfg.RedisAddr)
	return nil
}

func (app *Application) initServices() error {
	audit := service.SlogAuditSink{Logger: app.logger.With("component", "audit")}
	credentials := &service.UserCredentials{Store: app.db}
	challenges := &service.ChallengeManager{
		Store: app.challenges,
		TTL:   app.cfg.ChallengeTTL,
	}

	app.userService = &service.UserService{Store: app.db}
	app.totpEngine = &service.TOTPEngine{
		Store:         app.db,
		Challenges:    challenges,
		Credentials:   credentials,
		Issuer:        app.cfg.Issuer,
		EnrollmentTTL: app.cfg.EnrollmentTTL,
		Audit:         audit,
	}

	passkeys, err := service.NewPasskeyEngine(service.PasskeyConfig{
		RPID:          app.cfg.RPID,
		RPDisplayName: app.cfg.RPDisplayName,
		RPOrigins:     app.cfg.RPOrigins,
		Timeout:       app.cfg.ChallengeTTL,
	}, app.db, challenges, audit)
	if err != nil {
		return fmt.Errorf("failed to initialize passkeys: %w", err)
	}
	app.passkeys = passkeys

	app.login = &service.LoginOrchestrator{
		Store:       app.db,
		Credentials: credentials,
		Users:       app.userService,
		TOTP:        app.totpEngine,
		Passkeys:    app.passkeys,
		Sessions: &service.SessionIssuer{
			Signer:   app.keys.Signer,
			Verifier: app.keys.Verifier,
			Issuer:   app.cfg.Issuer,
			TTL:      app.cfg.SessionTTL,
		},
		PendingTTL: app.cfg.PendingLoginTTL,
	}

	app.housekeeping = service.NewHousekeepingService(
		app.db,
		app.challenges,
		app.logger,
		app.cfg.HousekeepingInterval,
	)
	return nil
}

func (app *Application) initHTTP() {
	router := httpapi.NewRouter(
		app.keys.KeySet,
		app.keys.Verifier,
		BuildVersion,
		app.db,
		app.logger,
		app.cfg.SecureCookies,
	)

	router.UserService = app.userService
	router.Login = app.login
	router.TOTP = app.totpEngine
	router.Passkeys = app.passkeys
	if pinger, ok := app.challenges.(httpapi.Pinger); ok && app.redis != nil {
		router.ChallengePinger = pinger
	}
	router.ApplyRoutes()

	app.router = router

	app.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", app.cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 3 * time.Second,
	}
}
