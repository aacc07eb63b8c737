package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/meter-service/internal/api/http"
	"github.com/spec-kit/meter-service/internal/api/http/handlers"
	"github.com/spec-kit/meter-service/internal/auth"
	"github.com/spec-kit/meter-service/internal/config"
	"github.com/spec-kit/meter-service/internal/events"
	"github.com/spec-kit/meter-service/internal/observability"
	"github.com/spec-kit/meter-service/internal/persistence"
	"github.com/spec-kit/meter-service/internal/repository"
	"github.com/spec-kit/meter-service/internal/service"
	"github.com/spec-kit/meter-service/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The pool is opened in full before the server accepts traffic; a
	// database that cannot supply every connection aborts startup.
	pg, err := persistence.OpenPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to initialize postgres pool", zap.Error(err))
	}
	defer pg.Close()

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics, err := observability.NewMetrics(registry)
	if err != nil {
		logger.Fatal("failed to register metrics", zap.Error(err))
	}
	pool := pg.PoolHandle()
	if err := metrics.RegisterPoolStats(pool.Stats); err != nil {
		logger.Fatal("failed to register pool metrics", zap.Error(err))
	}

	userRepo := repository.NewUserRepository(pool)
	attemptRepo := repository.NewLoginAttemptRepository(redis.Client, cfg.Auth.LockoutWindow())

	dispatcher := events.NewInMemoryDispatcher()
	worker.StartAuditWorker(service.NewAuditService(dispatcher, logger))

	tokens, err := auth.NewTokenManager(auth.TokenConfig{
		Secret:     cfg.Auth.JWTSecret,
		Issuer:     cfg.Auth.Issuer,
		AccessTTL:  cfg.Auth.AccessTTL(),
		RefreshTTL: cfg.Auth.RefreshTTL(),
	})
	if err != nil {
		logger.Fatal("failed to init token manager", zap.Error(err))
	}

	authService, err := service.NewAuthService(cfg.Auth, service.AuthDependencies{
		UserRepo:      userRepo,
		LoginAttempts: attemptRepo,
		Tokens:        tokens,
		Dispatcher:    dispatcher,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to init auth service", zap.Error(err))
	}
	authMiddleware := auth.NewAuthMiddleware(tokens, userRepo, logger, metrics)

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis, pool.Stats),
		Users:          handlers.NewUsersHandler(authService),
		AuthMiddleware: authMiddleware,
		RateLimit:      cfg.RateLimit,
		Gatherer:       registry,
	})

	go func() {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Warn("shutdown", zap.Error(err))
	}
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
