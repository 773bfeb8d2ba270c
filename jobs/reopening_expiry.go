package jobs

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"
)

// PeriodCloser sweeps reopened periods whose window has passed.
type PeriodCloser interface {
	CloseExpiredReopenings(ctx context.Context) (int64, error)
}

// ReopeningExpiryJob runs the periodic expiry sweep.
type ReopeningExpiryJob struct {
	periods PeriodCloser
	logger  *slog.Logger
}

// NewReopeningExpiryJob constructs the job handler.
func NewReopeningExpiryJob(periods PeriodCloser, logger *slog.Logger) *ReopeningExpiryJob {
	return &ReopeningExpiryJob{periods: periods, logger: logger}
}

// Handle processes TaskTypeReopeningExpiry tasks.
func (j *ReopeningExpiryJob) Handle(ctx context.Context, t *asynq.Task) error {
	closed, err := j.periods.CloseExpiredReopenings(ctx)
	if err != nil {
		j.logger.Error("close expired reopenings", slog.Any("error", err))
		return err
	}
	if closed > 0 {
		j.logger.Info("expiry sweep closed periods", slog.Int64("count", closed))
	}
	return nil
}
