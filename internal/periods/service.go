// Package periods manages monitoring periods and the payment-gated
// reopening exception flow. Reopening a closed period grants a fixed window
// counted from payment confirmation.
package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/shared"
)

const workflowName = "reopening"

// DefaultReopeningWindow is how long a reopened period stays open.
const DefaultReopeningWindow = 7 * 24 * time.Hour

// Recorder persists decision history.
type Recorder interface {
	Record(ctx context.Context, d shared.Decision) error
}

// Auditor persists audit-trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates period state and the reopening workflow.
type Service struct {
	repo      RepositoryPort
	gate      *documents.Gate
	decisions Recorder
	audit     Auditor
	logger    *slog.Logger
	window    time.Duration
	now       func() time.Time
}

// NewService wires the periods service.
func NewService(repo RepositoryPort, gate *documents.Gate, decisions Recorder, audit Auditor, logger *slog.Logger, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultReopeningWindow
	}
	return &Service{
		repo:      repo,
		gate:      gate,
		decisions: decisions,
		audit:     audit,
		logger:    logger,
		window:    window,
		now:       time.Now,
	}
}

// CreatePeriodInput defines a new monitoring window for a subject.
type CreatePeriodInput struct {
	SubjectID      int64     `json:"subject_id" validate:"required,gt=0"`
	SequenceNumber int       `json:"sequence_number" validate:"required,gt=0"`
	StartDate      time.Time `json:"start_date" validate:"required"`
	EndDate        time.Time `json:"end_date" validate:"required"`
}

// CreatePeriod registers a monitoring window. Staff only.
func (s *Service) CreatePeriod(ctx context.Context, actor shared.Actor, in CreatePeriodInput) (Period, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Period{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	if !in.EndDate.After(in.StartDate) {
		return Period{}, fmt.Errorf("%w: end date must follow start date", shared.ErrValidation)
	}
	state := StateOpen
	if in.EndDate.Before(s.now()) {
		state = StateClosed
	}
	p := Period{
		ID:             uuid.New(),
		SubjectID:      in.SubjectID,
		SequenceNumber: in.SequenceNumber,
		StartDate:      in.StartDate,
		EndDate:        in.EndDate,
		State:          state,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.CreatePeriod(ctx, p)
	})
	if err != nil {
		return Period{}, err
	}
	s.auditLog(ctx, actor, "create_period", p.ID, map[string]any{"subject_id": in.SubjectID})
	return s.repo.GetPeriod(ctx, p.ID)
}

// GetPeriod returns a period. Subjects only see their own.
func (s *Service) GetPeriod(ctx context.Context, actor shared.Actor, id uuid.UUID) (Period, error) {
	p, err := s.repo.GetPeriod(ctx, id)
	if err != nil {
		return Period{}, err
	}
	if !actor.IsStaff() && p.SubjectID != actor.ID {
		return Period{}, shared.ErrNotFound
	}
	return p, nil
}

// ListPeriods returns periods visible to the actor.
func (s *Service) ListPeriods(ctx context.Context, actor shared.Actor) ([]Period, error) {
	if actor.IsStaff() {
		return s.repo.ListPeriods(ctx, nil)
	}
	return s.repo.ListPeriods(ctx, &actor.ID)
}

// EnsureOpen reports whether the period can receive a monitoring process for
// the given subject. Used by the monitoring workflow.
func (s *Service) EnsureOpen(ctx context.Context, periodID uuid.UUID, subjectID int64) error {
	p, err := s.repo.GetPeriod(ctx, periodID)
	if err != nil {
		return err
	}
	if p.SubjectID != subjectID {
		return fmt.Errorf("%w: period belongs to another subject", shared.ErrForbidden)
	}
	if p.State != StateOpen {
		return fmt.Errorf("%w: period is %s", shared.ErrInvalidState, p.State)
	}
	return nil
}

// RequestReopening opens a reopening petition for a closed period. At most
// one unresolved petition may exist per period.
func (s *Service) RequestReopening(ctx context.Context, actor shared.Actor, periodID uuid.UUID, reason string) (Reopening, error) {
	if !actor.Is(shared.RoleUtente) {
		return Reopening{}, fmt.Errorf("%w: only subjects request reopening", shared.ErrForbidden)
	}
	if reason == "" {
		return Reopening{}, fmt.Errorf("%w: reopening reason required", shared.ErrValidation)
	}
	req := Reopening{
		ID:          uuid.New(),
		PeriodID:    periodID,
		RequestedBy: actor.ID,
		ReasonText:  reason,
		Status:      ReopeningPending,
		RequestedAt: s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetPeriod(ctx, periodID)
		if err != nil {
			return err
		}
		if p.SubjectID != actor.ID {
			return fmt.Errorf("%w: period belongs to another subject", shared.ErrForbidden)
		}
		if p.State != StateClosed {
			return fmt.Errorf("%w: period is %s, only closed periods reopen", shared.ErrInvalidState, p.State)
		}
		if _, err := tx.OpenReopeningForPeriod(ctx, periodID); err == nil {
			return fmt.Errorf("%w: period already has an open reopening request", shared.ErrInvalidState)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}
		if err := tx.CreateReopening(ctx, req); err != nil {
			return err
		}
		n, err := tx.SetPeriodState(ctx, periodID, StateClosed, StateReopenRequested)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Reopening{}, err
	}
	s.record(ctx, actor, req.ID, shared.DecisionSubmit, reason)
	s.auditLog(ctx, actor, "request_reopening", periodID, map[string]any{"reopening_id": req.ID.String()})
	return s.repo.GetReopening(ctx, req.ID)
}

// ChiefIssueRUPE resolves a pending petition on the chief path: the RUPE is
// attached and the petition waits for payment confirmation.
func (s *Service) ChiefIssueRUPE(ctx context.Context, actor shared.Actor, reqID uuid.UUID, paymentRef, docRef string) (Reopening, error) {
	if !actor.Is(shared.RoleChefe) {
		return Reopening{}, fmt.Errorf("%w: chief role required", shared.ErrForbidden)
	}
	return s.issueRUPE(ctx, actor, reqID, paymentRef, docRef, ReopeningAwaitingPayment)
}

// BoardIssueRUPE resolves a pending petition on the board path. The petition
// carries the chief-approved annotation while payment is pending.
func (s *Service) BoardIssueRUPE(ctx context.Context, actor shared.Actor, reqID uuid.UUID, paymentRef, docRef string) (Reopening, error) {
	if !actor.Is(shared.RoleDireccao) {
		return Reopening{}, fmt.Errorf("%w: board role required", shared.ErrForbidden)
	}
	return s.issueRUPE(ctx, actor, reqID, paymentRef, docRef, ReopeningChiefApproved)
}

func (s *Service) issueRUPE(ctx context.Context, actor shared.Actor, reqID uuid.UUID, paymentRef, docRef string, next ReopeningStatus) (Reopening, error) {
	if paymentRef == "" {
		return Reopening{}, fmt.Errorf("%w: payment reference required", shared.ErrValidation)
	}
	doc, err := s.gate.Require(documents.KindRUPEProof, docRef)
	if err != nil {
		return Reopening{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetReopening(ctx, reqID)
		if err != nil {
			return err
		}
		if req.Status != ReopeningPending {
			return fmt.Errorf("%w: reopening request is %s", shared.ErrInvalidState, req.Status)
		}
		n, err := tx.SetReopeningRUPE(ctx, reqID, next, paymentRef, doc)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		if _, err := tx.SetPeriodState(ctx, req.PeriodID, StateReopenRequested, StateAwaitingApproval); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Reopening{}, err
	}
	s.record(ctx, actor, reqID, shared.DecisionIssueRUPE, paymentRef)
	s.auditLog(ctx, actor, "reopening_issue_rupe", reqID, map[string]any{"payment_ref": paymentRef})
	return s.repo.GetReopening(ctx, reqID)
}

// ConfirmPayment validates the reopening payment and reopens the period for
// the configured window, counted from the confirmation instant.
func (s *Service) ConfirmPayment(ctx context.Context, actor shared.Actor, reqID uuid.UUID) (Reopening, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Reopening{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	confirmedAt := s.now()
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetReopening(ctx, reqID)
		if err != nil {
			return err
		}
		if req.Status != ReopeningAwaitingPayment && req.Status != ReopeningChiefApproved {
			return fmt.Errorf("%w: reopening request is %s", shared.ErrInvalidState, req.Status)
		}
		n, err := tx.ResolveReopening(ctx, reqID,
			[]ReopeningStatus{ReopeningAwaitingPayment, ReopeningChiefApproved},
			ReopeningApproved, confirmedAt)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		n, err = tx.ReopenPeriod(ctx, req.PeriodID, confirmedAt, confirmedAt.Add(s.window))
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Reopening{}, err
	}
	s.record(ctx, actor, reqID, shared.DecisionConfirmPayment, "")
	s.auditLog(ctx, actor, "reopening_confirm_payment", reqID, map[string]any{
		"reopened_until": confirmedAt.Add(s.window).Format(time.RFC3339),
	})
	return s.repo.GetReopening(ctx, reqID)
}

// Reject resolves the petition negatively with a role-qualified status and
// returns the period to FECHADO.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, reqID uuid.UUID, reason string) (Reopening, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Reopening{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	if reason == "" {
		return Reopening{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	next := ReopeningChiefRejected
	if actor.Is(shared.RoleDireccao) {
		next = ReopeningRejected
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.GetReopening(ctx, reqID)
		if err != nil {
			return err
		}
		switch req.Status {
		case ReopeningPending, ReopeningAwaitingPayment, ReopeningChiefApproved:
		default:
			return fmt.Errorf("%w: reopening request is %s", shared.ErrInvalidState, req.Status)
		}
		n, err := tx.ResolveReopening(ctx, reqID,
			[]ReopeningStatus{ReopeningPending, ReopeningAwaitingPayment, ReopeningChiefApproved},
			next, s.now())
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		if _, err := tx.SetPeriodState(ctx, req.PeriodID, StateReopenRequested, StateClosed); err != nil {
			return err
		}
		if _, err := tx.SetPeriodState(ctx, req.PeriodID, StateAwaitingApproval, StateClosed); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return Reopening{}, err
	}
	s.record(ctx, actor, reqID, shared.DecisionReject, reason)
	s.auditLog(ctx, actor, "reopening_reject", reqID, map[string]any{"reason": reason})
	return s.repo.GetReopening(ctx, reqID)
}

// GetReopening returns the current petition for a period.
func (s *Service) GetReopening(ctx context.Context, actor shared.Actor, periodID uuid.UUID) (Reopening, error) {
	if _, err := s.GetPeriod(ctx, actor, periodID); err != nil {
		return Reopening{}, err
	}
	return s.repo.OpenReopeningForPeriod(ctx, periodID)
}

// CloseExpiredReopenings shuts reopened periods whose window has passed.
// Invoked by the scheduler.
func (s *Service) CloseExpiredReopenings(ctx context.Context) (int64, error) {
	var closed int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.CloseExpired(ctx, s.now())
		closed = n
		return err
	})
	if err != nil {
		return 0, err
	}
	if closed > 0 {
		s.logger.Info("closed expired reopened periods", slog.Int64("count", closed))
	}
	return closed, nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, id uuid.UUID, action shared.DecisionAction, note string) {
	if s.decisions == nil {
		return
	}
	err := s.decisions.Record(ctx, shared.Decision{
		Workflow:  workflowName,
		CaseID:    id,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Note:      note,
		At:        s.now(),
	})
	if err != nil {
		s.logger.Warn("record decision", slog.String("reopening_id", id.String()), slog.Any("error", err))
	}
}

func (s *Service) auditLog(ctx context.Context, actor shared.Actor, action string, id uuid.UUID, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Action:    action,
		Entity:    "monitoring_period",
		EntityID:  id.String(),
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("entity_id", id.String()), slog.Any("error", err))
	}
}
