package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sgal-dev/sgal/internal/app"
	"github.com/sgal-dev/sgal/internal/authorization"
	"github.com/sgal-dev/sgal/internal/currency"
	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/monitoring"
	"github.com/sgal-dev/sgal/internal/observability"
	"github.com/sgal-dev/sgal/internal/periods"
	"github.com/sgal-dev/sgal/internal/platform/cache"
	"github.com/sgal-dev/sgal/internal/platform/db"
	"github.com/sgal-dev/sgal/internal/shared"
	"github.com/sgal-dev/sgal/internal/tariffs"
	"github.com/sgal-dev/sgal/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	identityRepo := identity.NewRepository(pool)
	identityService := identity.NewService(identityRepo)
	guard := identity.Middleware{Service: identityService, Logger: logger}

	auditLogger := shared.NewAuditLogger(pool)
	decisions := shared.NewDecisionRecorder(pool, logger)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	gate := documents.NewGate()
	metrics := observability.NewMetrics()

	currencyRepo := currency.NewRepository(pool)
	converter := currency.NewConverter(currencyRepo, redisClient, cfg.CurrencyCacheTTL)

	tariffRepo := tariffs.NewRepository(pool)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	authRepo := authorization.NewRepository(pool)
	authService := authorization.NewService(
		authRepo,
		converter,
		tariffRepo,
		gate,
		decisions,
		auditLogger,
		jobs.RequestEffects{Client: jobsClient},
		logger,
	)
	authHandler := authorization.NewHandler(logger, authService, guard, idempotencyStore, metrics)

	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, gate, decisions, auditLogger, logger, cfg.ReopeningWindow)
	periodsHandler := periods.NewHandler(logger, periodsService, guard, metrics)

	monitoringRepo := monitoring.NewRepository(pool)
	monitoringService := monitoring.NewService(
		monitoringRepo,
		identityService,
		periodsService,
		gate,
		decisions,
		auditLogger,
		jobs.ProcessEffects{Client: jobsClient},
		logger,
		cfg.MonitoringRejectShortCircuit,
	)
	monitoringHandler := monitoring.NewHandler(logger, monitoringService, guard, idempotencyStore, metrics)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:               logger,
		Config:               cfg,
		Guard:                guard,
		AuthorizationHandler: authHandler,
		MonitoringHandler:    monitoringHandler,
		PeriodsHandler:       periodsHandler,
		JobHandler:           jobHandler,
		Metrics:              metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
