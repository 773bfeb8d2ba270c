package periods

import (
	"context"
	"errors"
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
	GetPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	ListPeriods(ctx context.Context, subjectID *int64) ([]Period, error)
	GetReopening(ctx context.Context, id uuid.UUID) (Reopening, error)
	OpenReopeningForPeriod(ctx context.Context, periodID uuid.UUID) (Reopening, error)
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	GetPeriod(ctx context.Context, id uuid.UUID) (Period, error)
	CreatePeriod(ctx context.Context, p Period) error
	SetPeriodState(ctx context.Context, id uuid.UUID, expected, next State) (int64, error)
	ReopenPeriod(ctx context.Context, id uuid.UUID, from, until time.Time) (int64, error)
	CloseExpired(ctx context.Context, now time.Time) (int64, error)

	GetReopening(ctx context.Context, id uuid.UUID) (Reopening, error)
	OpenReopeningForPeriod(ctx context.Context, periodID uuid.UUID) (Reopening, error)
	CreateReopening(ctx context.Context, r Reopening) error
	SetReopeningRUPE(ctx context.Context, id uuid.UUID, next ReopeningStatus, paymentRef, docRef string) (int64, error)
	ResolveReopening(ctx context.Context, id uuid.UUID, expected []ReopeningStatus, next ReopeningStatus, at time.Time) (int64, error)
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

const periodColumns = `id, subject_id, sequence_number, start_date, end_date, state, reopened_until, created_at, updated_at`

func scanPeriod(row pgx.Row) (Period, error) {
	var p Period
	var state string
	err := row.Scan(&p.ID, &p.SubjectID, &p.SequenceNumber, &p.StartDate, &p.EndDate, &state, &p.ReopenedUntil, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Period{}, shared.ErrNotFound
		}
		return Period{}, err
	}
	p.State = State(state)
	return p, nil
}

const reopeningColumns = `id, period_id, requested_by, reason_text, status, payment_ref, payment_doc_ref, requested_at, resolved_at`

func scanReopening(row pgx.Row) (Reopening, error) {
	var r Reopening
	var status string
	err := row.Scan(&r.ID, &r.PeriodID, &r.RequestedBy, &r.ReasonText, &status, &r.PaymentRef, &r.PaymentDocRef, &r.RequestedAt, &r.ResolvedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reopening{}, shared.ErrNotFound
		}
		return Reopening{}, err
	}
	r.Status = ReopeningStatus(status)
	return r, nil
}

func (r *repository) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	return scanPeriod(r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM monitoring_periods WHERE id=$1`, id))
}

func (r *repository) ListPeriods(ctx context.Context, subjectID *int64) ([]Period, error) {
	query := `SELECT ` + periodColumns + ` FROM monitoring_periods`
	args := []any{}
	if subjectID != nil {
		query += ` WHERE subject_id=$1`
		args = append(args, *subjectID)
	}
	query += ` ORDER BY subject_id, sequence_number`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *repository) GetReopening(ctx context.Context, id uuid.UUID) (Reopening, error) {
	return scanReopening(r.pool.QueryRow(ctx, `SELECT `+reopeningColumns+` FROM reopening_requests WHERE id=$1`, id))
}

func (r *repository) OpenReopeningForPeriod(ctx context.Context, periodID uuid.UUID) (Reopening, error) {
	return scanReopening(r.pool.QueryRow(ctx, `SELECT `+reopeningColumns+` FROM reopening_requests
WHERE period_id=$1 AND status NOT IN ($2, $3, $4)
ORDER BY requested_at DESC LIMIT 1`,
		periodID, string(ReopeningApproved), string(ReopeningRejected), string(ReopeningChiefRejected)))
}

func (t *txRepo) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	return scanPeriod(t.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM monitoring_periods WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) CreatePeriod(ctx context.Context, p Period) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO monitoring_periods
(id, subject_id, sequence_number, start_date, end_date, state, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())`,
		p.ID, p.SubjectID, p.SequenceNumber, p.StartDate, p.EndDate, string(p.State))
	return err
}

func (t *txRepo) conditional(ctx context.Context, query string, args ...any) (int64, error) {
	tag, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (t *txRepo) SetPeriodState(ctx context.Context, id uuid.UUID, expected, next State) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_periods
SET state=$3, updated_at=NOW() WHERE id=$1 AND state=$2`, id, string(expected), string(next))
}

// ReopenPeriod opens the period for the fixed window starting at payment
// confirmation time.
func (t *txRepo) ReopenPeriod(ctx context.Context, id uuid.UUID, from, until time.Time) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_periods
SET state=$2, start_date=$3, end_date=$4, reopened_until=$4, updated_at=NOW()
WHERE id=$1 AND state IN ($5, $6)`,
		id, string(StateOpen), from, until, string(StateReopenRequested), string(StateAwaitingApproval))
}

// CloseExpired shuts every reopened period whose window has passed.
func (t *txRepo) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	return t.conditional(ctx, `UPDATE monitoring_periods
SET state=$1, reopened_until=NULL, updated_at=NOW()
WHERE state=$2 AND reopened_until IS NOT NULL AND reopened_until < $3`,
		string(StateClosed), string(StateOpen), now)
}

func (t *txRepo) GetReopening(ctx context.Context, id uuid.UUID) (Reopening, error) {
	return scanReopening(t.tx.QueryRow(ctx, `SELECT `+reopeningColumns+` FROM reopening_requests WHERE id=$1 FOR UPDATE`, id))
}

func (t *txRepo) OpenReopeningForPeriod(ctx context.Context, periodID uuid.UUID) (Reopening, error) {
	return scanReopening(t.tx.QueryRow(ctx, `SELECT `+reopeningColumns+` FROM reopening_requests
WHERE period_id=$1 AND status NOT IN ($2, $3, $4)
ORDER BY requested_at DESC LIMIT 1`,
		periodID, string(ReopeningApproved), string(ReopeningRejected), string(ReopeningChiefRejected)))
}

func (t *txRepo) CreateReopening(ctx context.Context, r Reopening) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO reopening_requests
(id, period_id, requested_by, reason_text, status, requested_at)
VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.PeriodID, r.RequestedBy, r.ReasonText, string(r.Status), r.RequestedAt)
	return err
}

func (t *txRepo) SetReopeningRUPE(ctx context.Context, id uuid.UUID, next ReopeningStatus, paymentRef, docRef string) (int64, error) {
	return t.conditional(ctx, `UPDATE reopening_requests
SET status=$2, payment_ref=$3, payment_doc_ref=$4
WHERE id=$1 AND status=$5`, id, string(next), paymentRef, docRef, string(ReopeningPending))
}

func (t *txRepo) ResolveReopening(ctx context.Context, id uuid.UUID, expected []ReopeningStatus, next ReopeningStatus, at time.Time) (int64, error) {
	states := make([]string, 0, len(expected))
	for _, s := range expected {
		states = append(states, string(s))
	}
	return t.conditional(ctx, `UPDATE reopening_requests
SET status=$2, resolved_at=$3
WHERE id=$1 AND status = ANY($4)`, id, string(next), at, states)
}
