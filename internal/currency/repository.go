package currency

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgal-dev/sgal/internal/shared"
)

// Repository provides access to currency reference data.
type Repository interface {
	Get(ctx context.Context, id int64) (Currency, error)
	List(ctx context.Context) ([]Currency, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func (r *repository) Get(ctx context.Context, id int64) (Currency, error) {
	var c Currency
	err := r.pool.QueryRow(ctx, `SELECT id, code, name, symbol, rate_to_local, updated_at FROM currencies WHERE id=$1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.Symbol, &c.RateToLocal, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Currency{}, shared.ErrNotFound
		}
		return Currency{}, err
	}
	return c, nil
}

func (r *repository) List(ctx context.Context) ([]Currency, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, symbol, rate_to_local, updated_at FROM currencies ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Currency
	for rows.Next() {
		var c Currency
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.Symbol, &c.RateToLocal, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
