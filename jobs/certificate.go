package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/sgal-dev/sgal/internal/authorization"
	"github.com/sgal-dev/sgal/internal/certificates"
	"github.com/sgal-dev/sgal/internal/identity"
)

func unmarshalPayload(t *asynq.Task, target any) error {
	return json.Unmarshal(t.Payload(), target)
}

// CertificateJob renders the approval certificate for an approved request.
// Rendering is retried by the queue; a request that left APPROVED in the
// meantime is skipped.
type CertificateJob struct {
	requests authorization.RepositoryPort
	accounts identity.Repository
	builder  *certificates.Builder
	logger   *slog.Logger
}

// NewCertificateJob constructs the job handler.
func NewCertificateJob(requests authorization.RepositoryPort, accounts identity.Repository, builder *certificates.Builder, logger *slog.Logger) *CertificateJob {
	return &CertificateJob{requests: requests, accounts: accounts, builder: builder, logger: logger}
}

// Handle processes TaskTypeCertificate tasks.
func (j *CertificateJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload CertificatePayload
	if err := unmarshalPayload(t, &payload); err != nil {
		return asynq.SkipRetry
	}
	req, err := j.requests.Get(ctx, payload.RequestID)
	if err != nil {
		return fmt.Errorf("load request %s: %w", payload.RequestID, err)
	}
	if req.Status != authorization.StatusApproved {
		j.logger.Warn("certificate requested for non-approved request",
			slog.String("request_id", req.ID.String()), slog.String("status", string(req.Status)))
		return asynq.SkipRetry
	}
	account, err := j.accounts.Get(ctx, req.RequesterID)
	if err != nil {
		return fmt.Errorf("load requester %d: %w", req.RequesterID, err)
	}
	path, err := j.builder.Generate(ctx, certificates.CertificateData{
		CaseNumber:    req.CaseNumber,
		RequestType:   string(req.Type),
		RequesterName: account.Name,
		RequesterNIF:  account.NIF,
		TotalValue:    req.TotalValueLocal,
		FeePaid:       req.FeeOwed,
		ApprovedAt:    req.UpdatedAt,
	})
	if err != nil {
		return err
	}
	j.logger.Info("certificate rendered",
		slog.String("request_id", req.ID.String()), slog.String("path", path))
	return nil
}
