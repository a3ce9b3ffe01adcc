package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/wangwalk/tanstack-start-dev/internal/access"
	"github.com/wangwalk/tanstack-start-dev/internal/billing"
	"github.com/wangwalk/tanstack-start-dev/internal/config"
	"github.com/wangwalk/tanstack-start-dev/internal/database"
	"github.com/wangwalk/tanstack-start-dev/internal/email"
	"github.com/wangwalk/tanstack-start-dev/internal/handler"
	"github.com/wangwalk/tanstack-start-dev/internal/middleware"
	"github.com/wangwalk/tanstack-start-dev/internal/payments"
	"github.com/wangwalk/tanstack-start-dev/internal/repository"
	"github.com/wangwalk/tanstack-start-dev/internal/service"
	"github.com/wangwalk/tanstack-start-dev/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Bool("migrate", true, "apply pending migrations before serving")
	serveCmd.Flags().Duration("sweep-interval", time.Hour, "how often expired sessions are deleted")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting API server",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
	)

	if migrate, _ := cmd.Flags().GetBool("migrate"); migrate {
		if err := database.MigrateUp(cfg.Database); err != nil {
			return err
		}
		logger.Info("Database migrations completed")
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	redis, err := database.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redis.Close()
	logger.Info("Connected to Redis")

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	if cfg.Storage.Bucket == "" {
		logger.Warn("No storage bucket configured; avatars are kept in memory")
	}

	app := newApp(cfg, db, redis, store, logger)

	sweepInterval, _ := cmd.Flags().GetDuration("sweep-interval")
	go service.NewSessionSweeper(app.sessions, sweepInterval, logger).Run(ctx)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      app.router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info("Server stopped gracefully")
	return nil
}

// app holds the wired components of one server process.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	db    *database.Postgres
	redis *database.Redis

	sessions repository.SessionRepository
	cookies  *middleware.SessionCookies
	gate     *access.Gate

	auth    service.AuthService
	oauth   service.OAuthService
	account service.AccountService
	apiKeys service.APIKeyService
	billing service.BillingService
	admin   service.AdminService
}

func newApp(cfg *config.Config, db *database.Postgres, redis *database.Redis, store storage.ObjectStore, logger *slog.Logger) *app {
	pool := db.Pool()
	users := repository.NewUserRepository(pool)
	sessions := repository.NewSessionRepository(pool)
	keys := repository.NewAPIKeyRepository(pool)
	audit := repository.NewAuditRepository(pool)

	sender := email.NewSender(cfg.Email, email.NewTransport(cfg.Email, logger), logger)
	notifier := service.NewNotificationService(sender, cfg.Server.SiteURL, logger)

	issuer := service.NewSessionIssuer(sessions, cfg.Auth.SessionExpiry)
	tokens := service.NewTokenIssuer(cfg.Auth.TokenSecret, cfg.Auth.VerifyTokenExpiry, cfg.Auth.ResetTokenExpiry)

	apiKeys := service.NewAPIKeyService(keys, logger)
	resolver := service.NewCredentialResolver(users, sessions, apiKeys)

	billingSvc := service.NewBillingService(
		users,
		payments.NewStripeGateway(cfg.Stripe),
		billing.NewCatalog(cfg.Stripe),
		service.NewRedisEventLedger(redis, cfg.Stripe.EventLedgerTTL),
		notifier,
		cfg.Server.SiteURL,
		logger,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		redis:    redis,
		sessions: sessions,
		cookies:  middleware.NewSessionCookies(cfg.Auth.SessionSecret, cfg.Auth.SessionExpiry, cfg.Server.IsDev()),
		gate:     access.NewGate(resolver, time.Now),
		auth:     service.NewAuthService(users, sessions, issuer, tokens, notifier, logger),
		oauth:    service.NewOAuthService(&cfg.Auth, users, issuer, logger),
		account:  service.NewAccountService(users, sessions, store, cfg.Storage.MaxAvatarBytes, logger),
		apiKeys:  apiKeys,
		billing:  billingSvc,
		admin:    service.NewAdminService(users, sessions, audit, logger),
	}
}

func (a *app) router() http.Handler {
	cfg := a.cfg
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(a.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	r.Use(chimiddleware.Timeout(30 * time.Second))

	health := handler.NewHealthHandler(
		handler.HealthCheck{Name: "database", Pinger: a.db},
		handler.HealthCheck{Name: "redis", Pinger: a.redis},
	)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	guards := handler.Guards{
		Identify:    middleware.Identify(a.gate, a.cookies),
		SelfService: middleware.Authorize(a.gate, a.cookies, a.gate.SelfService()),
		Admin:       middleware.Authorize(a.gate, a.cookies, a.gate.Admin()),
		AuthLimit: middleware.RateLimit(a.redis, middleware.RateLimitConfig{
			Scope:             "auth",
			RequestsPerMinute: cfg.RateLimit.AuthPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		}, middleware.IPKey, a.logger),
	}

	authHandler := handler.NewAuthHandler(a.auth, a.oauth, a.cookies, cfg.Server.SiteURL, a.logger)
	accountHandler := handler.NewAccountHandler(a.account, a.auth, cfg.Storage.MaxAvatarBytes, a.logger)
	apiKeyHandler := handler.NewAPIKeyHandler(a.apiKeys)
	billingHandler := handler.NewBillingHandler(a.billing, a.logger)
	adminHandler := handler.NewAdminHandler(a.admin)

	r.Route("/api", func(r chi.Router) {
		// Provider deliveries carry their own signature and are not rate limited.
		r.Post("/webhooks/stripe", billingHandler.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(a.redis, middleware.RateLimitConfig{
				Scope:             "api",
				RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
				BurstSize:         cfg.RateLimit.BurstSize,
			}, middleware.ClientKey, a.logger))

			r.Mount("/auth", authHandler.Routes(guards))
			r.Mount("/account/api-keys", apiKeyHandler.Routes(guards))
			r.Mount("/account", accountHandler.Routes(guards))
			r.Mount("/billing", billingHandler.Routes(guards))
			r.Mount("/admin", adminHandler.Routes(guards))
			r.Get("/avatar/{id}", accountHandler.ServeAvatar)
		})
	})

	return gzhttp.GzipHandler(r)
}
