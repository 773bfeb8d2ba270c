package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DecisionAction enumerates the actions recorded in a case's decision history.
type DecisionAction string

const (
	// DecisionSubmit marks the initial submission.
	DecisionSubmit DecisionAction = "SUBMETER"
	// DecisionValidate marks a technician or chief validation.
	DecisionValidate DecisionAction = "VALIDAR"
	// DecisionIssueRUPE marks issuance of a payment reference.
	DecisionIssueRUPE DecisionAction = "EMITIR_RUPE"
	// DecisionConfirmPayment marks a payment confirmation.
	DecisionConfirmPayment DecisionAction = "CONFIRMAR_PAGAMENTO"
	// DecisionApprove marks a terminal approval.
	DecisionApprove DecisionAction = "APROVAR"
	// DecisionReject marks a terminal rejection.
	DecisionReject DecisionAction = "REJEITAR"
)

// Decision is a single entry in a case's decision history.
type Decision struct {
	ID        int64
	Workflow  string
	CaseID    uuid.UUID
	ActorID   int64
	ActorRole Role
	Action    DecisionAction
	Note      string
	At        time.Time
}

// DecisionRecorder persists decision history for all three workflows.
type DecisionRecorder struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewDecisionRecorder constructs a DecisionRecorder.
func NewDecisionRecorder(pool *pgxpool.Pool, logger *slog.Logger) *DecisionRecorder {
	return &DecisionRecorder{pool: pool, logger: logger}
}

// Record writes a decision entry.
func (r *DecisionRecorder) Record(ctx context.Context, d Decision) error {
	if r == nil {
		return errors.New("decision recorder not initialised")
	}
	if d.Workflow == "" {
		return errors.New("decision workflow required")
	}
	if d.CaseID == uuid.Nil {
		return errors.New("decision case id required")
	}
	if d.Action == "" {
		return errors.New("decision action required")
	}
	_, err := r.pool.Exec(ctx, `INSERT INTO decisions (workflow, case_id, actor_id, actor_role, action, note, at)
VALUES ($1, $2, $3, $4, $5, $6, COALESCE(NULLIF($7, '0001-01-01T00:00:00Z'::timestamptz), NOW()))`,
		d.Workflow, d.CaseID, d.ActorID, string(d.ActorRole), string(d.Action), d.Note, d.At)
	if err != nil {
		r.logger.Error("record decision", slog.Any("error", err))
		return err
	}
	return nil
}

// List returns the decision history for a case in chronological order.
func (r *DecisionRecorder) List(ctx context.Context, workflow string, caseID uuid.UUID) ([]Decision, error) {
	if r == nil {
		return nil, errors.New("decision recorder not initialised")
	}
	rows, err := r.pool.Query(ctx, `SELECT id, workflow, case_id, actor_id, actor_role, action, note, at
FROM decisions WHERE workflow=$1 AND case_id=$2 ORDER BY at ASC, id ASC`, workflow, caseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var decisions []Decision
	for rows.Next() {
		var d Decision
		var role, action string
		if err := rows.Scan(&d.ID, &d.Workflow, &d.CaseID, &d.ActorID, &role, &action, &d.Note, &d.At); err != nil {
			return nil, err
		}
		d.ActorRole = Role(role)
		d.Action = DecisionAction(action)
		decisions = append(decisions, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return decisions, nil
}
