package identity

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sgal-dev/sgal/internal/shared"
)

// Repository provides read access to the account directory.
type Repository interface {
	Get(ctx context.Context, id int64) (Account, error)
	GetByIDs(ctx context.Context, ids []int64) ([]Account, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const accountColumns = `id, name, email, COALESCE(nif, ''), role, COALESCE(department, ''), api_key_hash, active, created_at`

func (r *repository) Get(ctx context.Context, id int64) (Account, error) {
	var a Account
	var role, department string
	err := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id).
		Scan(&a.ID, &a.Name, &a.Email, &a.NIF, &role, &department, &a.APIKeyHash, &a.Active, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, shared.ErrNotFound
		}
		return Account{}, err
	}
	a.Role = shared.Role(role)
	a.Department = shared.Department(department)
	return a, nil
}

func (r *repository) GetByIDs(ctx context.Context, ids []int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ANY($1) ORDER BY id`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		var a Account
		var role, department string
		if err := rows.Scan(&a.ID, &a.Name, &a.Email, &a.NIF, &role, &department, &a.APIKeyHash, &a.Active, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = shared.Role(role)
		a.Department = shared.Department(department)
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
