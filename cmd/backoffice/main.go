package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/app"
	"github.com/agencyhub/backoffice/internal/audit"
	audithttp "github.com/agencyhub/backoffice/internal/audit/http"
	"github.com/agencyhub/backoffice/internal/auth"
	"github.com/agencyhub/backoffice/internal/identity"
	"github.com/agencyhub/backoffice/internal/navigation"
	"github.com/agencyhub/backoffice/internal/observability"
	"github.com/agencyhub/backoffice/internal/platform/cache"
	"github.com/agencyhub/backoffice/internal/platform/db"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
	"github.com/agencyhub/backoffice/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("backoffice", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	catalog := access.DefaultCatalog()
	policy, err := navigation.LoadPolicy(cfg.PolicyFile, catalog)
	if err != nil {
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)

	broadcaster := identity.NewBroadcaster(redisClient, logger)
	identityService := identity.NewService(identity.NewRepository(pool), identity.NewRedisStore(redisClient), broadcaster, cfg.SessionTTL)
	var tokens *identity.TokenIssuer
	if cfg.TokensEnabled() {
		tokens, err = identity.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
		if err != nil {
			return err
		}
	}

	provider := session.NewProvider(identityService, catalog, logger, metrics)
	provider.Start(ctx)
	defer provider.Close()

	authorizer := navigation.NewAuthorizer(policy.Table, catalog)
	resolver := navigation.NewResolver(authorizer)
	guard := navigation.NewGuard(resolver, logger, navigation.AuditDenials{Recorder: auditLogger, Logger: logger}, metrics)
	updates, unsubscribe := provider.Subscribe(64)
	defer unsubscribe()

	queueOpts, err := cfg.QueueRedis()
	if err != nil {
		return err
	}
	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "backoffice_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	accessGuard := access.Middleware{Catalog: catalog, Logger: logger}
	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		SessionManager:    sessionManager,
		CSRFManager:       csrfManager,
		AuthHandler:       auth.NewHandler(logger, provider, tokens, sessionManager, csrfManager, auditLogger),
		AuthMiddleware:    auth.Middleware{Provider: provider, Tokens: tokens, Logger: logger},
		AccessHandler:     access.NewHandler(catalog, accessGuard),
		AccessMiddleware:  accessGuard,
		AuditHandler:      audithttp.NewHandler(logger, audit.NewService(audit.NewRepository(pool)), accessGuard.RequireAny(access.LevelAdmin, access.PermUsersManage)),
		NavigationHandler: navigation.NewHandler(resolver, navigation.NewComposer(policy.Menu), guard),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(broadcaster.Run(ctx))
	})
	g.Go(func() error {
		return ignoreCanceled(resolver.Run(ctx, updates))
	})
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.Int("rules", len(policy.Table.Rules())))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
