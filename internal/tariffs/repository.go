package tariffs

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgal-dev/sgal/internal/shared"
)

// Repository provides access to tariff reference data.
type Repository interface {
	Get(ctx context.Context, id int64) (TariffCode, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]TariffCode, error)
	List(ctx context.Context) ([]TariffCode, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (TariffCode, error) {
	var t TariffCode
	err := r.pool.QueryRow(ctx, `SELECT id, code, description, custom_rate FROM tariff_codes WHERE id=$1`, id).
		Scan(&t.ID, &t.Code, &t.Description, &t.CustomRate)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TariffCode{}, shared.ErrNotFound
		}
		return TariffCode{}, err
	}
	return t, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) (map[int64]TariffCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, description, custom_rate FROM tariff_codes WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]TariffCode, len(ids))
	for rows.Next() {
		var t TariffCode
		if err := rows.Scan(&t.ID, &t.Code, &t.Description, &t.CustomRate); err != nil {
			return nil, err
		}
		out[t.ID] = t
	}
	return out, rows.Err()
}

func (r *repository) List(ctx context.Context) ([]TariffCode, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, description, custom_rate FROM tariff_codes ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []TariffCode
	for rows.Next() {
		var t TariffCode
		if err := rows.Scan(&t.ID, &t.Code, &t.Description, &t.CustomRate); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
