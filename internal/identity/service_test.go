package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/sgal-dev/sgal/internal/shared"
)

type memoryDirectory struct {
	accounts map[int64]Account
}

func (m *memoryDirectory) Get(_ context.Context, id int64) (Account, error) {
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, shared.ErrNotFound
	}
	return a, nil
}

func (m *memoryDirectory) GetByIDs(_ context.Context, ids []int64) ([]Account, error) {
	var out []Account
	for _, id := range ids {
		if a, ok := m.accounts[id]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

func hashKey(t *testing.T, secret string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func TestAuthenticate(t *testing.T) {
	dir := &memoryDirectory{accounts: map[int64]Account{
		7: {ID: 7, Name: "Empresa Horizonte", Role: shared.RoleUtente, Active: true, APIKeyHash: hashKey(t, "s3cret")},
		8: {ID: 8, Name: "Conta Revogada", Role: shared.RoleUtente, Active: false, APIKeyHash: hashKey(t, "s3cret")},
	}}
	svc := NewService(dir)
	ctx := context.Background()

	actor, err := svc.Authenticate(ctx, "7.s3cret")
	require.NoError(t, err)
	require.Equal(t, int64(7), actor.ID)
	require.Equal(t, shared.RoleUtente, actor.Role)

	_, err = svc.Authenticate(ctx, "7.wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "8.s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "no-separator")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Authenticate(ctx, "999.s3cret")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestVerifyMonitoringTechnicians(t *testing.T) {
	dir := &memoryDirectory{accounts: map[int64]Account{
		21: {ID: 21, Name: "Ana", Role: shared.RoleTecnico, Department: shared.DepartmentMonitorizacao, Active: true},
		22: {ID: 22, Name: "Bruno", Role: shared.RoleTecnico, Department: shared.DepartmentMonitorizacao, Active: true},
		30: {ID: 30, Name: "Chefe", Role: shared.RoleChefe, Department: shared.DepartmentMonitorizacao, Active: true},
		31: {ID: 31, Name: "Licenciamento", Role: shared.RoleTecnico, Department: shared.DepartmentLicenciamento, Active: true},
		32: {ID: 32, Name: "Inactivo", Role: shared.RoleTecnico, Department: shared.DepartmentMonitorizacao, Active: false},
	}}
	svc := NewService(dir)
	ctx := context.Background()

	refs, err := svc.VerifyMonitoringTechnicians(ctx, []int64{21, 22})
	require.NoError(t, err)
	require.Equal(t, []TechnicianRef{{ID: 21, Name: "Ana"}, {ID: 22, Name: "Bruno"}}, refs)

	for _, bad := range []int64{30, 31, 32, 99} {
		_, err := svc.VerifyMonitoringTechnicians(ctx, []int64{21, bad})
		require.ErrorIs(t, err, shared.ErrValidation, "id %d", bad)
	}

	refs, err = svc.VerifyMonitoringTechnicians(ctx, nil)
	require.NoError(t, err)
	require.Nil(t, refs)
}
