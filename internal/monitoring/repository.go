package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/platform/db"
	"github.com/sgal-dev/sgal/internal/shared"
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Process, error)
	GetByPeriod(ctx context.Context, periodID uuid.UUID) (Process, error)
	List(ctx context.Context, filter ListFilter) ([]Process, int, error)
}

// TxRepository exposes transactional operations. Mutations are conditional
// writes keyed on the expected status.
type TxRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Process, error)
	Create(ctx context.Context, p Process) error
	SetOpinion(ctx context.Context, id uuid.UUID, outcome Outcome, notes, docRef string, next Status, reason *string) (int64, error)
	SetRUPE(ctx context.Context, id uuid.UUID, paymentRef, docRef string) (int64, error)
	MarkPaymentConfirmed(ctx context.Context, id uuid.UUID, receiptRef string) (int64, error)
	MarkPaymentValidated(ctx context.Context, id uuid.UUID) (int64, error)
	SetTechnicians(ctx context.Context, id uuid.UUID, team []identity.TechnicianRef, visitDate *time.Time, advance bool) (int64, error)
	RecordVisit(ctx context.Context, id uuid.UUID, date time.Time, notes, reportRef string) (int64, error)
	MarkVisitReviewed(ctx context.Context, id uuid.UUID) (int64, error)
	SetFinalDocument(ctx context.Context, id uuid.UUID, docRef string) (int64, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) (int64, error)
}

// ListFilter narrows process listings.
type ListFilter struct {
	SubjectID *int64
	Status    *Status
	Limit     int
	Offset    int
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) RepositoryPort {
	return &repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const processColumns = `id, period_id, subject_id, status, opinion, opinion_notes, opinion_doc_ref,
payment_ref, payment_doc_ref, payment_receipt_ref, payment_confirmed_by_user, payment_validated_by_staff,
technicians, scheduled_visit_date, actual_visit_date, visit_notes, visit_report_ref,
final_document_ref, rejection_reason, created_at, updated_at`

func scanProcess(row pgx.Row) (Process, error) {
	var p Process
	var status string
	var opinion *string
	var technicians []byte
	err := row.Scan(
		&p.ID, &p.PeriodID, &p.SubjectID, &status, &opinion, &p.OpinionNotes, &p.OpinionDocRef,
		&p.PaymentRef, &p.PaymentDocRef, &p.ReceiptRef, &p.PaymentConfirmedByUser, &p.PaymentValidatedByStaff,
		&technicians, &p.ScheduledVisitDate, &p.ActualVisitDate, &p.VisitNotes, &p.VisitReportRef,
		&p.FinalDocumentRef, &p.RejectionReason, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Process{}, shared.ErrNotFound
		}
		return Process{}, err
	}
	p.Status = Status(status)
	if opinion != nil {
		o := Outcome(*opinion)
		p.Opinion = &o
	}
	if len(technicians) > 0 {
		if err := json.Unmarshal(technicians, &p.Technicians); err != nil {
			return Process{}, fmt.Errorf("monitoring: decode technicians: %w", err)
		}
	}
	return p, nil
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Process, error) {
	return scanProcess(r.pool.QueryRow(ctx, `SELECT `+processColumns+` FROM monitoring_processes WHERE id=$1`, id))
}

func (r *repository) GetByPeriod(ctx context.Context, periodID uuid.UUID) (Process, error) {
	return scanProcess(r.pool.QueryRow(ctx, `SELECT `+processColumns+` FROM monitoring_processes WHERE period_id=$1`, periodID))
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Process, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1
	if filter.SubjectID != nil {
		where += fmt.Sprintf(" AND subject_id = $%d", argPos)
		args = append(args, *filter.SubjectID)
		argPos++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*filter.Status))
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM monitoring_processes "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM monitoring_processes %s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d",
		processColumns, where, argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var processes []Process
	for rows.Next() {
		p, err := scanProcess(rows)
		if err != nil {
			return nil, 0, err
		}
		processes = append(processes, p)
	}
	return processes, total, rows.Err()
}

func (t *txRepo) Get(ctx context.Context, id uuid.UUID) (Process, error) {
	return scanProcess(t.tx.QueryRow(ctx, `SELECT `+processColumns+` FROM monitoring_processes WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) Create(ctx context.Context, p Process) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO monitoring_processes
(id, period_id, subject_id, status, scheduled_visit_date, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		p.ID, p.PeriodID, p.SubjectID, string(p.Status), p.ScheduledVisitDate)
	return err
}

func (t *txRepo) conditional(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) SetOpinion(ctx context.Context, id uuid.UUID, outcome Outcome, notes, docRef string, next Status, reason *string) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET opinion=$3, opinion_notes=$4, opinion_doc_ref=$5, status=$6, rejection_reason=$7, updated_at=NOW()
WHERE id=$1 AND status=$2`,
		id, string(StatusAwaitingOpinion), string(outcome), notes, docRef, string(next), reason)
}

func (t *txRepo) SetRUPE(ctx context.Context, id uuid.UUID, paymentRef, docRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET payment_ref=$3, payment_doc_ref=$4, status=$5, updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(StatusAwaitingRUPE), paymentRef, docRef, string(StatusAwaitingPayment))
}

func (t *txRepo) MarkPaymentConfirmed(ctx context.Context, id uuid.UUID, receiptRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET payment_confirmed_by_user=true, payment_receipt_ref=$3, status=$4, updated_at=NOW()
WHERE id=$1 AND status=$2 AND payment_confirmed_by_user=false`,
		id, string(StatusAwaitingPayment), receiptRef, string(StatusAwaitingConfirmation))
}

func (t *txRepo) MarkPaymentValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET payment_validated_by_staff=true, status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2 AND payment_confirmed_by_user=true AND payment_validated_by_staff=false`,
		id, string(StatusAwaitingConfirmation), string(StatusAwaitingTechnicians))
}

// SetTechnicians replaces the visit team. The guard on actual_visit_date
// keeps the assignment frozen after the visit is recorded.
func (t *txRepo) SetTechnicians(ctx context.Context, id uuid.UUID, team []identity.TechnicianRef, visitDate *time.Time, advance bool) (int64, error) {
	raw, err := json.Marshal(team)
	if err != nil {
		return 0, err
	}
	if advance {
		return t.conditional(ctx, `UPDATE monitoring_processes
SET technicians=$2, scheduled_visit_date=$3, status=$4, updated_at=NOW()
WHERE id=$1 AND status=$5 AND actual_visit_date IS NULL`,
			id, raw, visitDate, string(StatusAwaitingVisit), string(StatusAwaitingTechnicians))
	}
	return t.conditional(ctx, `UPDATE monitoring_processes
SET technicians=$2, scheduled_visit_date=COALESCE($3, scheduled_visit_date), updated_at=NOW()
WHERE id=$1 AND status=$4 AND actual_visit_date IS NULL`,
		id, raw, visitDate, string(StatusAwaitingVisit))
}

func (t *txRepo) RecordVisit(ctx context.Context, id uuid.UUID, date time.Time, notes, reportRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET actual_visit_date=$3, visit_notes=$4, visit_report_ref=$5, status=$6, updated_at=NOW()
WHERE id=$1 AND status=$2 AND actual_visit_date IS NULL`,
		id, string(StatusAwaitingVisit), date, notes, reportRef, string(StatusVisitRecorded))
}

func (t *txRepo) MarkVisitReviewed(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(StatusVisitRecorded), string(StatusAwaitingFinalDoc))
}

func (t *txRepo) SetFinalDocument(ctx context.Context, id uuid.UUID, docRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET final_document_ref=$3, status=$4, updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(StatusAwaitingFinalDoc), docRef, string(StatusCompleted))
}

func (t *txRepo) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_processes
SET status=$2, rejection_reason=$3, updated_at=NOW()
WHERE id=$1 AND status NOT IN ($4, $5)`,
		id, string(StatusRejected), reason, string(StatusCompleted), string(StatusRejected))
}
