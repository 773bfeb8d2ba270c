package authorization

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgal-dev/sgal/internal/platform/db"
	"github.com/sgal-dev/sgal/internal/shared"
)

// RepositoryPort describes persistence used by Service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	List(ctx context.Context, filter ListFilter) ([]Request, int, error)
	CountForYearMonth(ctx context.Context, year int, month time.Month) (int64, error)
}

// TxRepository exposes transactional operations. Every status mutation is a
// conditional write: zero rows affected means another actor got there first.
type TxRepository interface {
	Get(ctx context.Context, id uuid.UUID) (Request, error)
	Create(ctx context.Context, req Request) error
	InsertItem(ctx context.Context, item Item) error
	OldestUnvalidatedBefore(ctx context.Context, createdAt time.Time, id uuid.UUID) (uuid.UUID, bool, error)
	MarkTechnicianValidated(ctx context.Context, id uuid.UUID) (int64, error)
	MarkChiefValidated(ctx context.Context, id uuid.UUID) (int64, error)
	SetRUPE(ctx context.Context, id uuid.UUID, paymentRef, docRef string) (int64, error)
	MarkPaymentConfirmed(ctx context.Context, id uuid.UUID, receiptRef string) (int64, error)
	MarkPaymentValidated(ctx context.Context, id uuid.UUID) (int64, error)
	MarkApproved(ctx context.Context, id uuid.UUID) (int64, error)
	MarkRejected(ctx context.Context, id uuid.UUID, reason string) (int64, error)
}

// ListFilter narrows request listings.
type ListFilter struct {
	RequesterID *int64
	Status      *Status
	Limit       int
	Offset      int
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

// WithTx wraps fn in a repeatable-read transaction so ordering reads and the
// conditional write share one snapshot.
func (r *repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const requestColumns = `id, case_number, type, status, requester_id, currency_id, exchange_rate,
total_value_local, fee_owed, technician_validated, chief_validated, board_approved,
payment_ref, payment_doc_ref, payment_receipt_ref, payment_confirmed_by_user, payment_validated_by_staff,
rejection_reason, created_at, updated_at`

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	var status, reqType string
	err := row.Scan(
		&req.ID, &req.CaseNumber, &reqType, &status, &req.RequesterID, &req.CurrencyID, &req.ExchangeRate,
		&req.TotalValueLocal, &req.FeeOwed, &req.TechnicianValidated, &req.ChiefValidated, &req.BoardApproved,
		&req.PaymentRef, &req.PaymentDocRef, &req.ReceiptRef, &req.PaymentConfirmedByUser, &req.PaymentValidatedByStaff,
		&req.RejectionReason, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, shared.ErrNotFound
		}
		return Request{}, err
	}
	req.Type = RequestType(reqType)
	req.Status = Status(status)
	return req, nil
}

func loadItems(ctx context.Context, q interface {
	Query(context.Context, string, ...any) (pgx.Rows, error)
}, id uuid.UUID) ([]Item, error) {
	rows, err := q.Query(ctx, `SELECT id, request_id, quantity, unit_price, tariff_code_id, base_value_local, fee
FROM authorization_items WHERE request_id=$1 ORDER BY id`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ID, &it.RequestID, &it.Quantity, &it.UnitPrice, &it.TariffCodeID, &it.BaseValueLocal, &it.Fee); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM authorization_requests WHERE id=$1`, id))
	if err != nil {
		return Request{}, err
	}
	req.Items, err = loadItems(ctx, r.pool, id)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Request, int, error) {
	where := "WHERE 1=1"
	args := []any{}
	argPos := 1
	if filter.RequesterID != nil {
		where += fmt.Sprintf(" AND requester_id = $%d", argPos)
		args = append(args, *filter.RequesterID)
		argPos++
	}
	if filter.Status != nil {
		where += fmt.Sprintf(" AND status = $%d", argPos)
		args = append(args, string(*filter.Status))
		argPos++
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM authorization_requests "+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM authorization_requests %s ORDER BY created_at ASC, id ASC LIMIT $%d OFFSET $%d",
		requestColumns, where, argPos, argPos+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var requests []Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, err
		}
		requests = append(requests, req)
	}
	return requests, total, rows.Err()
}

func (r *repository) CountForYearMonth(ctx context.Context, year int, month time.Month) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM authorization_requests WHERE date_trunc('month', created_at) = make_date($1, $2, 1)`,
		year, int(month)).Scan(&count)
	return count, err
}

func (t *txRepo) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	req, err := scanRequest(t.tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM authorization_requests WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return Request{}, err
	}
	req.Items, err = loadItems(ctx, t.tx, id)
	if err != nil {
		return Request{}, err
	}
	return req, nil
}

func (t *txRepo) Create(ctx context.Context, req Request) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO authorization_requests
(id, case_number, type, status, requester_id, currency_id, exchange_rate, total_value_local, fee_owed, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())`,
		req.ID, req.CaseNumber, string(req.Type), string(req.Status), req.RequesterID, req.CurrencyID,
		req.ExchangeRate, req.TotalValueLocal, req.FeeOwed)
	return err
}

func (t *txRepo) InsertItem(ctx context.Context, item Item) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO authorization_items
(request_id, quantity, unit_price, tariff_code_id, base_value_local, fee)
VALUES ($1, $2, $3, $4, $5, $6)`,
		item.RequestID, item.Quantity, item.UnitPrice, item.TariffCodeID, item.BaseValueLocal, item.Fee)
	return err
}

// OldestUnvalidatedBefore implements the FIFO gate as an index query: the
// oldest still-unvalidated pending request created before the given one.
func (t *txRepo) OldestUnvalidatedBefore(ctx context.Context, createdAt time.Time, id uuid.UUID) (uuid.UUID, bool, error) {
	var blocking uuid.UUID
	err := t.tx.QueryRow(ctx, `SELECT id FROM authorization_requests
WHERE status=$1 AND technician_validated=false AND (created_at, id) < ($2, $3)
ORDER BY created_at ASC, id ASC LIMIT 1`, string(StatusPending), createdAt, id).Scan(&blocking)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return blocking, true, nil
}

func (t *txRepo) conditional(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) MarkTechnicianValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET technician_validated=true, updated_at=NOW()
WHERE id=$1 AND status=$2 AND technician_validated=false`, id, string(StatusPending))
}

func (t *txRepo) MarkChiefValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET chief_validated=true, status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2 AND technician_validated=true AND chief_validated=false`,
		id, string(StatusPending), string(StatusValidRUPE))
}

func (t *txRepo) SetRUPE(ctx context.Context, id uuid.UUID, paymentRef, docRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET payment_ref=$3, payment_doc_ref=$4, status=$5, updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(StatusValidRUPE), paymentRef, docRef, string(StatusAwaitingPayment))
}

func (t *txRepo) MarkPaymentConfirmed(ctx context.Context, id uuid.UUID, receiptRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET payment_confirmed_by_user=true, payment_receipt_ref=$3, updated_at=NOW()
WHERE id=$1 AND status=$2 AND payment_confirmed_by_user=false`, id, string(StatusAwaitingPayment), receiptRef)
}

func (t *txRepo) MarkPaymentValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET payment_validated_by_staff=true, status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2 AND payment_confirmed_by_user=true AND payment_validated_by_staff=false`,
		id, string(StatusAwaitingPayment), string(StatusPaymentConfirmed))
}

func (t *txRepo) MarkApproved(ctx context.Context, id uuid.UUID) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET board_approved=true, status=$3, updated_at=NOW()
WHERE id=$1 AND status=$2`, id, string(StatusPaymentConfirmed), string(StatusApproved))
}

func (t *txRepo) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	return t.conditional(ctx, `UPDATE authorization_requests
SET status=$2, rejection_reason=$3, updated_at=NOW()
WHERE id=$1 AND status NOT IN ($4, $5)`,
		id, string(StatusRejected), reason, string(StatusApproved), string(StatusRejected))
}
