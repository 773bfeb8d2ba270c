package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sgal-dev/sgal/internal/app"
	"github.com/sgal-dev/sgal/internal/authorization"
	"github.com/sgal-dev/sgal/internal/certificates"
	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/monitoring"
	"github.com/sgal-dev/sgal/internal/periods"
	"github.com/sgal-dev/sgal/internal/platform/db"
	"github.com/sgal-dev/sgal/internal/shared"
	"github.com/sgal-dev/sgal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	identityRepo := identity.NewRepository(pool)
	authRepo := authorization.NewRepository(pool)
	monitoringRepo := monitoring.NewRepository(pool)

	auditLogger := shared.NewAuditLogger(pool)
	decisions := shared.NewDecisionRecorder(pool, logger)
	gate := documents.NewGate()
	periodsRepo := periods.NewRepository(pool)
	periodsService := periods.NewService(periodsRepo, gate, decisions, auditLogger, logger, cfg.ReopeningWindow)

	renderer := certificates.NewClient(cfg.GotenbergURL)
	if err := renderer.Ping(ctx); err != nil {
		logger.Warn("gotenberg ping", slog.Any("error", err))
	}
	builder := certificates.NewBuilder(renderer, cfg.CertificateDir)

	mailer := jobs.NewMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom, logger)
	certificateJob := jobs.NewCertificateJob(authRepo, identityRepo, builder, logger)
	notifyJob := jobs.NewNotifyJob(authRepo, monitoringRepo, identityRepo, mailer, logger)
	expiryJob := jobs.NewReopeningExpiryJob(periodsService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: mailer.HandleSendEmail},
			{Type: jobs.TaskTypeCertificate, Handler: certificateJob.Handle},
			{Type: jobs.TaskTypeNotifyStatus, Handler: notifyJob.Handle},
			{Type: jobs.TaskTypeReopeningExpiry, Handler: expiryJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: jobs.NewReopeningExpiryTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
