// Package authorization implements the environmental authorization workflow:
// submission, dual validation, RUPE issuance, payment confirmation and the
// board decision. Transitions are conditional database writes so concurrent
// staff actions resolve to exactly one winner.
package authorization

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/fees"
	"github.com/sgal-dev/sgal/internal/shared"
	"github.com/sgal-dev/sgal/internal/tariffs"
)

// workflowName keys decision-history and audit rows for this workflow.
const workflowName = "authorization"

// ConverterPort converts a foreign amount into local currency, returning the
// applied rate so the service can snapshot it on the request.
type ConverterPort interface {
	ToLocal(ctx context.Context, currencyID int64, amount float64) (float64, float64, error)
}

// TariffPort resolves tariff codes for fee computation.
type TariffPort interface {
	GetByIDs(ctx context.Context, ids []int64) (map[int64]tariffs.TariffCode, error)
}

// Recorder persists decision history.
type Recorder interface {
	Record(ctx context.Context, d shared.Decision) error
}

// Auditor persists audit-trail entries.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Effects enqueues post-commit side effects. Failures surface as warnings,
// never as rolled-back transitions.
type Effects interface {
	EnqueueCertificate(ctx context.Context, requestID uuid.UUID) error
	NotifyStatusChange(ctx context.Context, requestID uuid.UUID, status string) error
}

// Service orchestrates the authorization workflow.
type Service struct {
	repo      RepositoryPort
	converter ConverterPort
	tariffs   TariffPort
	gate      *documents.Gate
	decisions Recorder
	audit     Auditor
	effects   Effects
	logger    *slog.Logger
	now       func() time.Time
}

// NewService wires the workflow service.
func NewService(
	repo RepositoryPort,
	converter ConverterPort,
	tariffRepo TariffPort,
	gate *documents.Gate,
	decisions Recorder,
	audit Auditor,
	effects Effects,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		converter: converter,
		tariffs:   tariffRepo,
		gate:      gate,
		decisions: decisions,
		audit:     audit,
		effects:   effects,
		logger:    logger,
		now:       time.Now,
	}
}

// CreateItemInput is one line of a submission.
type CreateItemInput struct {
	Quantity     float64 `json:"quantity" validate:"required,gt=0"`
	UnitPrice    float64 `json:"unit_price" validate:"required,gt=0"`
	TariffCodeID int64   `json:"tariff_code_id" validate:"required,gt=0"`
}

// CreateInput is the submission payload.
type CreateInput struct {
	Type       RequestType       `json:"type" validate:"required"`
	CurrencyID int64             `json:"currency_id" validate:"required,gt=0"`
	Items      []CreateItemInput `json:"items" validate:"required,min=1,dive"`
}

// Create submits a new authorization request. The exchange rate and the fee
// are computed and frozen at submission time.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (Request, error) {
	if !actor.Is(shared.RoleUtente) {
		return Request{}, fmt.Errorf("%w: only subjects submit requests", shared.ErrForbidden)
	}
	if !ValidType(in.Type) {
		return Request{}, fmt.Errorf("%w: unknown request type %q", shared.ErrValidation, in.Type)
	}
	if len(in.Items) == 0 {
		return Request{}, fmt.Errorf("%w: at least one item required", shared.ErrValidation)
	}

	tariffIDs := make([]int64, 0, len(in.Items))
	for _, it := range in.Items {
		if it.Quantity <= 0 || it.UnitPrice <= 0 {
			return Request{}, fmt.Errorf("%w: quantity and unit price must be positive", shared.ErrValidation)
		}
		tariffIDs = append(tariffIDs, it.TariffCodeID)
	}
	codes, err := s.tariffs.GetByIDs(ctx, tariffIDs)
	if err != nil {
		return Request{}, fmt.Errorf("resolve tariff codes: %w", err)
	}

	req := Request{
		ID:          uuid.New(),
		Type:        in.Type,
		Status:      StatusPending,
		RequesterID: actor.ID,
		CurrencyID:  in.CurrencyID,
		CreatedAt:   s.now(),
	}

	feeItems := make([]fees.Item, 0, len(in.Items))
	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		code, ok := codes[it.TariffCodeID]
		if !ok {
			return Request{}, fmt.Errorf("%w: tariff code %d", shared.ErrNotFound, it.TariffCodeID)
		}
		local, rate, err := s.converter.ToLocal(ctx, in.CurrencyID, it.Quantity*it.UnitPrice)
		if err != nil {
			return Request{}, err
		}
		req.ExchangeRate = rate
		req.TotalValueLocal += local
		feeItems = append(feeItems, fees.Item{BaseValue: local, CustomRate: code.CustomRate})
		items = append(items, Item{
			RequestID:      req.ID,
			Quantity:       it.Quantity,
			UnitPrice:      it.UnitPrice,
			TariffCodeID:   it.TariffCodeID,
			BaseValueLocal: local,
		})
	}

	quote, err := fees.Compute(feeItems)
	if err != nil {
		return Request{}, err
	}
	req.FeeOwed = quote.Total
	for i := range items {
		items[i].Fee = quote.Lines[i].Fee
	}

	caseNo, err := s.nextCaseNumber(ctx, req.CreatedAt)
	if err != nil {
		return Request{}, err
	}
	req.CaseNumber = caseNo

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Create(ctx, req); err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		for _, item := range items {
			if err := tx.InsertItem(ctx, item); err != nil {
				return fmt.Errorf("insert item: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	req.Items = items

	s.record(ctx, actor, req.ID, shared.DecisionSubmit, "")
	s.auditLog(ctx, actor, "create", req.ID, map[string]any{
		"case_number": req.CaseNumber,
		"fee_owed":    req.FeeOwed,
	})
	return s.repo.Get(ctx, req.ID)
}

// nextCaseNumber issues PA-YYMM-NNNN sequenced within the month.
func (s *Service) nextCaseNumber(ctx context.Context, at time.Time) (string, error) {
	count, err := s.repo.CountForYearMonth(ctx, at.Year(), at.Month())
	if err != nil {
		return "", fmt.Errorf("case number: %w", err)
	}
	return fmt.Sprintf("PA-%02d%02d-%04d", at.Year()%100, int(at.Month()), count+1), nil
}

// ValidateByTechnician applies the first validation. Requests are served in
// submission order: an older still-unvalidated request blocks this one.
func (s *Service) ValidateByTechnician(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	if !actor.Is(shared.RoleTecnico) || actor.Department != shared.DepartmentLicenciamento {
		return Request{}, fmt.Errorf("%w: licensing technician required", shared.ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
		}
		if req.TechnicianValidated {
			return fmt.Errorf("%w: already validated by a technician", shared.ErrInvalidState)
		}
		blocking, found, err := tx.OldestUnvalidatedBefore(ctx, req.CreatedAt, req.ID)
		if err != nil {
			return err
		}
		if found {
			return &shared.OutOfOrderError{BlockingID: blocking}
		}
		n, err := tx.MarkTechnicianValidated(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.record(ctx, actor, id, shared.DecisionValidate, "technician")
	s.auditLog(ctx, actor, "validate_technician", id, nil)
	return s.repo.Get(ctx, id)
}

// ValidateByChief applies the second validation and moves the request to
// VALID_RUPE. Requires the technician validation first.
func (s *Service) ValidateByChief(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	if !actor.Is(shared.RoleChefe) || actor.Department != shared.DepartmentLicenciamento {
		return Request{}, fmt.Errorf("%w: licensing chief required", shared.ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPending {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
		}
		if !req.TechnicianValidated {
			return fmt.Errorf("%w: technician validation pending", shared.ErrInvalidState)
		}
		n, err := tx.MarkChiefValidated(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.record(ctx, actor, id, shared.DecisionValidate, "chief")
	s.auditLog(ctx, actor, "validate_chief", id, nil)
	return s.repo.Get(ctx, id)
}

// IssueRUPE attaches the government payment reference and its PDF and moves
// the request to AWAITING_PAYMENT.
func (s *Service) IssueRUPE(ctx context.Context, actor shared.Actor, id uuid.UUID, paymentRef, docRef string) (Request, error) {
	if !actor.Is(shared.RoleChefe) || actor.Department != shared.DepartmentLicenciamento {
		return Request{}, fmt.Errorf("%w: licensing chief required", shared.ErrForbidden)
	}
	if paymentRef == "" {
		return Request{}, fmt.Errorf("%w: payment reference required", shared.ErrValidation)
	}
	doc, err := s.gate.Require(documents.KindRUPEProof, docRef)
	if err != nil {
		return Request{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusValidRUPE {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
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
		return Request{}, err
	}
	s.record(ctx, actor, id, shared.DecisionIssueRUPE, paymentRef)
	s.auditLog(ctx, actor, "issue_rupe", id, map[string]any{"payment_ref": paymentRef})
	return s.finish(ctx, id, StatusAwaitingPayment)
}

// ConfirmPaymentBySubject lets the requester attach their payment receipt.
// The status stays AWAITING_PAYMENT until staff validates.
func (s *Service) ConfirmPaymentBySubject(ctx context.Context, actor shared.Actor, id uuid.UUID, receiptRef string) (Request, error) {
	if !actor.Is(shared.RoleUtente) {
		return Request{}, fmt.Errorf("%w: only the requester confirms payment", shared.ErrForbidden)
	}
	receipt, err := s.gate.Require(documents.KindPaymentReceipt, receiptRef)
	if err != nil {
		return Request{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.RequesterID != actor.ID {
			return fmt.Errorf("%w: not the requester", shared.ErrForbidden)
		}
		if req.Status != StatusAwaitingPayment {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
		}
		if req.PaymentConfirmedByUser {
			return fmt.Errorf("%w: payment already confirmed", shared.ErrInvalidState)
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
		return Request{}, err
	}
	s.record(ctx, actor, id, shared.DecisionConfirmPayment, "subject")
	s.auditLog(ctx, actor, "confirm_payment", id, nil)
	return s.repo.Get(ctx, id)
}

// ValidatePaymentByStaff accepts the subject's confirmation and moves the
// request to PAYMENT_CONFIRMED.
func (s *Service) ValidatePaymentByStaff(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return Request{}, fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusAwaitingPayment {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
		}
		if !req.PaymentConfirmedByUser {
			return fmt.Errorf("%w: subject has not confirmed payment", shared.ErrInvalidState)
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
		return Request{}, err
	}
	s.record(ctx, actor, id, shared.DecisionConfirmPayment, "staff")
	s.auditLog(ctx, actor, "validate_payment", id, nil)
	return s.finish(ctx, id, StatusPaymentConfirmed)
}

// ApproveByBoard is the terminal approval. Certificate rendering and the
// notification run after commit; their failures come back as warnings.
func (s *Service) ApproveByBoard(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, []string, error) {
	if !actor.Is(shared.RoleDireccao) {
		return Request{}, nil, fmt.Errorf("%w: board role required", shared.ErrForbidden)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status != StatusPaymentConfirmed {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
		}
		n, err := tx.MarkApproved(ctx, id)
		if err != nil {
			return err
		}
		if n == 0 {
			return shared.ErrConcurrentModification
		}
		return nil
	})
	if err != nil {
		return Request{}, nil, err
	}
	s.record(ctx, actor, id, shared.DecisionApprove, "")
	s.auditLog(ctx, actor, "approve", id, nil)

	var warnings []string
	if s.effects != nil {
		if err := s.effects.EnqueueCertificate(ctx, id); err != nil {
			s.logger.Warn("enqueue certificate", slog.String("request_id", id.String()), slog.Any("error", err))
			warnings = append(warnings, "certificate generation could not be scheduled")
		}
		if err := s.effects.NotifyStatusChange(ctx, id, string(StatusApproved)); err != nil {
			s.logger.Warn("enqueue notification", slog.String("request_id", id.String()), slog.Any("error", err))
			warnings = append(warnings, "notification could not be scheduled")
		}
	}
	req, err := s.repo.Get(ctx, id)
	return req, warnings, err
}

// RegenerateCertificate re-enqueues certificate rendering for an approved
// request, typically after a failed render or a template change.
func (s *Service) RegenerateCertificate(ctx context.Context, actor shared.Actor, id uuid.UUID) error {
	if !actor.Is(shared.RoleChefe, shared.RoleDireccao) {
		return fmt.Errorf("%w: chief or board role required", shared.ErrForbidden)
	}
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if req.Status != StatusApproved {
		return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
	}
	if s.effects == nil {
		return errors.New("authorization: no effects configured")
	}
	if err := s.effects.EnqueueCertificate(ctx, id); err != nil {
		return err
	}
	s.auditLog(ctx, actor, "regenerate_certificate", id, nil)
	return nil
}

// Reject moves any non-terminal request to REJECTED with a mandatory reason.
func (s *Service) Reject(ctx context.Context, actor shared.Actor, id uuid.UUID, reason string) (Request, error) {
	if !actor.IsStaff() {
		return Request{}, fmt.Errorf("%w: staff role required", shared.ErrForbidden)
	}
	if reason == "" {
		return Request{}, fmt.Errorf("%w: rejection reason required", shared.ErrValidation)
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if req.Status.Terminal() {
			return fmt.Errorf("%w: request is %s", shared.ErrInvalidState, req.Status)
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
		return Request{}, err
	}
	s.record(ctx, actor, id, shared.DecisionReject, reason)
	s.auditLog(ctx, actor, "reject", id, map[string]any{"reason": reason})
	return s.finish(ctx, id, StatusRejected)
}

// Get returns a request. Subjects only see their own.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id uuid.UUID) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !actor.IsStaff() && req.RequesterID != actor.ID {
		return Request{}, shared.ErrNotFound
	}
	return req, nil
}

// AnnotatedRequest is a listing row carrying the queue position hint for
// technicians.
type AnnotatedRequest struct {
	Request
	CanValidate     bool       `json:"can_validate"`
	BlockingOlderID *uuid.UUID `json:"blocking_older_id,omitempty"`
}

// List returns requests for the actor with FIFO annotations. Subjects are
// scoped to their own submissions.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]AnnotatedRequest, int, error) {
	if !actor.IsStaff() {
		filter.RequesterID = &actor.ID
	}
	reqs, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	out := make([]AnnotatedRequest, 0, len(reqs))
	var oldestUnvalidated *uuid.UUID
	for _, req := range reqs {
		annotated := AnnotatedRequest{Request: req}
		if req.Status == StatusPending && !req.TechnicianValidated {
			if oldestUnvalidated == nil {
				annotated.CanValidate = true
				id := req.ID
				oldestUnvalidated = &id
			} else {
				annotated.BlockingOlderID = oldestUnvalidated
			}
		}
		out = append(out, annotated)
	}
	return out, total, nil
}

// Decisions returns the decision history for a request.
func (s *Service) Decisions(ctx context.Context, actor shared.Actor, id uuid.UUID) ([]shared.Decision, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	lister, ok := s.decisions.(interface {
		List(context.Context, string, uuid.UUID) ([]shared.Decision, error)
	})
	if !ok {
		return nil, nil
	}
	return lister.List(ctx, workflowName, id)
}

// finish reloads the request and fires the status-change notification.
func (s *Service) finish(ctx context.Context, id uuid.UUID, status Status) (Request, error) {
	if s.effects != nil {
		if err := s.effects.NotifyStatusChange(ctx, id, string(status)); err != nil {
			s.logger.Warn("enqueue notification", slog.String("request_id", id.String()), slog.Any("error", err))
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
		s.logger.Warn("record decision", slog.String("request_id", id.String()), slog.Any("error", err))
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
		Entity:    "authorization_request",
		EntityID:  id.String(),
		Meta:      meta,
		At:        s.now(),
	})
	if err != nil {
		s.logger.Warn("record audit", slog.String("request_id", id.String()), slog.Any("error", err))
	}
}
