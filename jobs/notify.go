package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sgal-dev/sgal/internal/authorization"
	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/monitoring"
)

// Entity names used in status-notification payloads.
const (
	EntityAuthorizationRequest = "authorization_request"
	EntityMonitoringProcess    = "monitoring_process"
)

// NotifyJob resolves the affected subject and mails them a status update.
type NotifyJob struct {
	requests  authorization.RepositoryPort
	processes monitoring.RepositoryPort
	accounts  identity.Repository
	mailer    *Mailer
	logger    *slog.Logger
}

// NewNotifyJob constructs the job handler.
func NewNotifyJob(requests authorization.RepositoryPort, processes monitoring.RepositoryPort, accounts identity.Repository, mailer *Mailer, logger *slog.Logger) *NotifyJob {
	return &NotifyJob{requests: requests, processes: processes, accounts: accounts, mailer: mailer, logger: logger}
}

// Handle processes TaskTypeNotifyStatus tasks.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload NotifyStatusPayload
	if err := unmarshalPayload(t, &payload); err != nil {
		return asynq.SkipRetry
	}

	var subjectID int64
	var reference string
	switch payload.Entity {
	case EntityAuthorizationRequest:
		req, err := j.requests.Get(ctx, payload.ID)
		if err != nil {
			return fmt.Errorf("load request %s: %w", payload.ID, err)
		}
		subjectID = req.RequesterID
		reference = req.CaseNumber
	case EntityMonitoringProcess:
		p, err := j.processes.Get(ctx, payload.ID)
		if err != nil {
			return fmt.Errorf("load process %s: %w", payload.ID, err)
		}
		subjectID = p.SubjectID
		reference = p.ID.String()
	default:
		j.logger.Warn("notify task with unknown entity", slog.String("entity", payload.Entity))
		return asynq.SkipRetry
	}

	account, err := j.accounts.Get(ctx, subjectID)
	if err != nil {
		return fmt.Errorf("load subject %d: %w", subjectID, err)
	}
	subject := fmt.Sprintf("Actualização do processo %s", reference)
	body := fmt.Sprintf("O seu processo %s passou ao estado %s.", reference, payload.Status)
	if err := j.mailer.Send(account.Email, subject, body); err != nil {
		j.logger.Error("notify subject", slog.String("to", account.Email), slog.Any("error", err))
		return err
	}
	return nil
}
