// Package monitoring implements the periodic monitoring obligation workflow:
// technical opinion, RUPE payment, visit-team assignment, the site visit and
// the final document.
package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/shared"
)

const workflowName = "monitoring"

// TechnicianVerifier resolves and validates visit-team member ids.
type TechnicianVerifier interface {
	VerifyMonitoringTechnicians(ctx context.Context, ids []int64) ([]identity.TechnicianRef, error)
}

// PeriodPort answers whether a period can receive a new process.
type PeriodPort interface {
	EnsureOpen(ctx context.Context, periodID uuid.UUID, subjectID int64) error
}

// Recorder persists decision history.
type Recorder interface {
	Record(ctx context.Context, d shared.Decision) error
}

// Auditor persists audit-trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Effects enqueues post-commit notifications. Failures are warnings.
type Effects interface {
	NotifyStatusChange(ctx context.Context, processID uuid.UUID, status string) error
}

// Service orchestrates the monitoring workflow.
type Service struct {
	repo        RepositoryPort
	technicians TechnicianVerifier
	periods     PeriodPort
	gate        *documents.Gate
	decisions   Recorder
	audit       Auditor
	effects     Effects
	logger      *slog.Logger
	now         func() time.Time

	// rejectShortCircuit terminates the process when the opinion verdict is
	// REJEITADO instead of letting it proceed to payment.
	rejectShortCircuit bool
}

// NewService wires the monitoring workflow service.
func NewService(
	repo RepositoryPort,
	technicians TechnicianVerifier,
	periods PeriodPort,
	gate *documents.Gate,
	decisions Recorder,
	audit Auditor,
	effects Effects,
	logger *slog.Logger,
	rejectShortCircuit bool,
) *Service {
	return &Service{
		repo:               repo,
		technicians:        technicians,
		periods:            periods,
		gate:               gate,
		decisions:          decisions,
		audit:              audit,
		effects:            effects,
		logger:             logger,
		now:                time.Now,
		rejectShortCircuit: rejectShortCircuit,
	}
}

// CreateInput opens a monitoring process for one of the subject's periods.
type CreateInput struct {
	PeriodID           uuid.UUID  `json:"period_id" validate:"required"`
	ScheduledVisitDate *time.Time `json:"scheduled_visit_date,omitempty"`
}

// Create opens the obligation process for an open period.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (Process, error) {
	if !actor.Is(shared.RoleUtente) {
		return Process{}, fmt.Errorf("%w: only subjects open monitoring processes", shared.ErrForbidden)
	}
	if s.periods != nil {
		if err := s.periods.EnsureOpen(ctx, in.PeriodID, actor.ID); err != nil {
			return Process{}, err
		}
	}
	if _, err := s.repo.GetByPeriod(ctx, in.PeriodID); err == nil {
		return Process{}, fmt.Errorf("%w: period already has a process", shared.ErrInvalidState)
	}

	p := Process{
		ID:                 uuid.New(),
		PeriodID:           in.PeriodID,
		SubjectID:          actor.ID,
		Status:             StatusAwaitingOpinion,
		ScheduledVisitDate: in.ScheduledVisitDate,
		CreatedAt:          s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Create(ctx, p)
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, p.ID, shared.DecisionSubmit, "")
	s.auditLog(ctx, actor, "create", p.ID, map[string]any{"period_id": in.PeriodID.String()})
	return s.repo.Get(ctx, p.ID)
}

// SubmitOpinion records the technical opinion. A REJEITADO verdict ends the
// process when the short-circuit policy is on; otherwise the process carries
// on to payment regardless of the verdict.
func (s *Service) SubmitOpinion(ctx context.Context, actor shared.Actor, id uuid.UUID, outcome Outcome, notes, docRef string) (Process, error) {
	if !actor.Is(shared.RoleTecnico) || actor.Department != shared.DepartmentMonitorizacao {
		return Process{}, fmt.Errorf("%w: monitoring technician required", shared.ErrForbidden)
	}
	if !ValidOutcome(outcome) {
		return Process{}, fmt.Errorf("%w: unknown opinion outcome %q", shared.ErrValidation, outcome)
	}
	doc, err := s.gate.Require(documents.KindOpinion, docRef)
	if err != nil {
		return Process{}, err
	}

	next := StatusAwaitingRUPE
	var reason *string
	if outcome == OutcomeRejected && s.rejectShortCircuit {
		next = StatusRejected
		r := "parecer técnico desfavorável"
		if notes != "" {
			r = notes
		}
		reason = &r
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusAwaitingOpinion {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.SetOpinion(ctx, id, outcome, notes, doc, next, reason)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionValidate, string(outcome))
	s.auditLog(ctx, actor, "submit_opinion", id, map[string]any{"outcome": string(outcome)})
	return s.finish(ctx, id, next)
}

// IssueRUPE attaches the payment reference and moves to AWAITING_PAYMENT.
func (s *Service) IssueRUPE(ctx context.Context, actor shared.Actor, id uuid.UUID, paymentRef, docRef string) (Process, error) {
	if !actor.Is(shared.RoleChefe) || actor.Department != shared.DepartmentMonitorizacao {
		return Process{}, fmt.Errorf("%w: monitoring chief required", shared.ErrForbidden)
	}
	if paymentRef == "" {
		return Process{}, fmt.Errorf("%w: payment reference required", shared.ErrValidation)
	}
	doc, err := s.gate.Require(documents.KindRUPEProof, docRef)
	if err != nil {
		return Process{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusAwaitingRUPE {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.SetRUPE(ctx, id, paymentRef, doc)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionIssueRUPE, paymentRef)
	s.auditLog(ctx, actor, "issue_rupe", id, map[string]any{"payment_ref": paymentRef})
	return s.finish(ctx, id, StatusAwaitingPayment)
}

// ConfirmPayment lets the subject attach the payment receipt and moves to
// AWAITING_PAYMENT_CONFIRMATION.
func (s *Service) ConfirmPayment(ctx context.Context, actor shared.Actor, id uuid.UUID, receiptRef string) (Process, error) {
	if !actor.Is(shared.RoleUtente) {
		return Process{}, fmt.Errorf("%w: only the subject confirms payment", shared.ErrForbidden)
	}
	receipt, err := s.gate.Require(documents.KindPaymentReceipt, receiptRef)
	if err != nil {
		return Process{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.SubjectID != actor.ID {
			return fmt.Errorf("%w: not the process subject", shared.ErrForbidden)
		}
		if p.Status != StatusAwaitingPayment {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.MarkPaymentConfirmed(ctx, id, receipt)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionConfirmPayment, "subject")
	s.auditLog(ctx, actor, "confirm_payment", id, nil)
	return s.finish(ctx, id, StatusAwaitingConfirmation)
}

// ValidatePayment accepts the subject's confirmation and opens technician
// selection.
func (s *Service) ValidatePayment(ctx context.Context, actor shared.Actor, id uuid.UUID) (Process, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Process{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusAwaitingConfirmation {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.MarkPaymentValidated(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionConfirmPayment, "staff")
	s.auditLog(ctx, actor, "validate_payment", id, nil)
	return s.finish(ctx, id, StatusAwaitingTechnicians)
}

// AssignTechnicians sets the visit team: exactly three distinct active
// monitoring technicians. The set may be replaced until the visit is
// recorded; afterwards it is frozen.
func (s *Service) AssignTechnicians(ctx context.Context, actor shared.Actor, id uuid.UUID, technicianIDs []int64, visitDate *time.Time) (Process, error) {
	if !actor.Is(shared.RoleDireccao) {
		return Process{}, fmt.Errorf("%w: board role required", shared.ErrForbidden)
	}
	if len(technicianIDs) != RequiredTechnicians {
		return Process{}, fmt.Errorf("%w: exactly %d technicians required, got %d",
			shared.ErrValidation, RequiredTechnicians, len(technicianIDs))
	}
	seen := make(map[int64]bool, len(technicianIDs))
	for _, tid := range technicianIDs {
		if seen[tid] {
			return Process{}, fmt.Errorf("%w: duplicate technician %d", shared.ErrValidation, tid)
		}
		seen[tid] = true
	}
	team, err := s.technicians.VerifyMonitoringTechnicians(ctx, technicianIDs)
	if err != nil {
		return Process{}, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.ActualVisitDate != nil {
			return fmt.Errorf("%w: visit already recorded, assignment frozen", shared.ErrInvalidState)
		}
		switch p.Status {
		case StatusAwaitingTechnicians:
			n, err := tx.SetTechnicians(ctx, id, team, visitDate, true)
			if err != nil {
				return err
			}
			if n == 0 {
				return shared.ErrConcurrentModification
			}
		case StatusAwaitingVisit:
			n, err := tx.SetTechnicians(ctx, id, team, visitDate, false)
			if err != nil {
				return err
			}
			if n == 0 {
				return shared.ErrConcurrentModification
			}
		default:
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionValidate, "assign technicians")
	s.auditLog(ctx, actor, "assign_technicians", id, map[string]any{"technicians": technicianIDs})
	return s.repo.Get(ctx, id)
}

// RecordVisit logs the site visit. Only an assigned technician may record it.
func (s *Service) RecordVisit(ctx context.Context, actor shared.Actor, id uuid.UUID, date time.Time, notes, reportRef string) (Process, error) {
	if !actor.Is(shared.RoleTecnico) {
		return Process{}, fmt.Errorf("%w: technician role required", shared.ErrForbidden)
	}
	report, err := s.gate.Require(documents.KindVisitReport, reportRef)
	if err != nil {
		return Process{}, err
	}
	if date.IsZero() {
		return Process{}, fmt.Errorf("%w: visit date required", shared.ErrValidation)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusAwaitingVisit {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		if !p.AssignedTo(actor.ID) {
			return fmt.Errorf("%w: not on the visit team", shared.ErrForbidden)
		}
		n, err := tx.RecordVisit(ctx, id, date, notes, report)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionValidate, "visit recorded")
	s.auditLog(ctx, actor, "record_visit", id, map[string]any{"visit_date": date.Format(time.RFC3339)})
	return s.finish(ctx, id, StatusVisitRecorded)
}

// ReviewVisit accepts the visit report and opens the final-document step.
func (s *Service) ReviewVisit(ctx context.Context, actor shared.Actor, id uuid.UUID) (Process, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Process{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status != StatusVisitRecorded {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.MarkVisitReviewed(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionValidate, "visit reviewed")
	s.auditLog(ctx, actor, "review_visit", id, nil)
	return s.finish(ctx, id, StatusAwaitingFinalDoc)
}

// SubmitFinalDocument completes the process. Re-submission after completion
// is a no-op returning the stored document.
func (s *Service) SubmitFinalDocument(ctx context.Context, actor shared.Actor, id uuid.UUID, docRef string) (Process, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Process{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	doc, err := s.gate.Require(documents.KindFinalDocument, docRef)
	if err != nil {
		return Process{}, err
	}
	var alreadyDone bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status == StatusCompleted {
			alreadyDone = true
			return nil
		}
		if p.Status != StatusAwaitingFinalDoc {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.SetFinalDocument(ctx, id, doc)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	if alreadyDone {
		return s.repo.Get(ctx, id)
	}
	s.record(ctx, actor, id, shared.DecisionApprove, "final document")
	s.auditLog(ctx, actor, "submit_final_document", id, nil)
	return s.finish(ctx, id, StatusCompleted)
}

// Reject terminates a non-terminal process with a reason.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id uuid.UUID, reason string) (Process, error) {
	if !actor.IsStaff() {
		return Process{}, fmt.Errorf("%w: staff role required", shared.ErrForbidden)
	}
	if reason == "" {
		return Process{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			return fmt.Errorf("%w: process is %s", shared.ErrInvalidState, p.Status)
		}
		n, err := tx.MarkRejected(ctx, id, reason)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Process{}, err
	}
	s.record(ctx, actor, id, shared.DecisionReject, reason)
	s.auditLog(ctx, actor, "reject", id, map[string]any{"reason": reason})
	return s.finish(ctx, id, StatusRejected)
}

// Get returns a process. Subjects only see their own.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Process, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Process{}, err
	}
	if !actor.IsStaff() && p.SubjectID != actor.ID {
		return Process{}, shared.ErrNotFound
	}
	return p, nil
}

// List returns processes for the actor. Subjects are scoped to their own.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Process, int, error) {
	if !actor.IsStaff() {
		filter.SubjectID = &actor.ID
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) finish(ctx context.Context, id uuid.UUID, status Status) (Process, error) {
	if s.effects != nil {
		if err := s.effects.NotifyStatusChange(ctx, id, string(status)); err != nil {
			s.logger.Warn("enqueue notification", slog.String("process_id", id.String()), slog.Any("error", err))
		}
	}
	return s.repo.Get(ctx, id)
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
		s.logger.Warn("record decision", slog.String("process_id", id.String()), slog.Any("error", err))
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
		Entity:    "monitoring_process",
		EntityID:  id.String(),
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("process_id", id.String()), slog.Any("error", err))
	}
}
