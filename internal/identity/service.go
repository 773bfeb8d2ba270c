package identity

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/sgal-dev/sgal/internal/shared"
)

// ErrInvalidCredentials indicates a bad or revoked API key.
var ErrInvalidCredentials = errors.New("identity: invalid credentials")

// Service resolves API keys to actors and answers staff-directory queries.
type Service struct {
	repo Repository
}

// NewService constructs the identity service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Authenticate resolves a bearer token of the form "<account-id>.<secret>"
// to an actor. The secret is compared against the stored bcrypt hash.
func (s *Service) Authenticate(ctx context.Context, token string) (shared.Actor, error) {
	idPart, secret, ok := strings.Cut(token, ".")
	if !ok || secret == "" {
		return shared.Actor{}, ErrInvalidCredentials
	}
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return shared.Actor{}, ErrInvalidCredentials
	}
	account, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Actor{}, ErrInvalidCredentials
		}
		return shared.Actor{}, err
	}
	if !account.Active {
		return shared.Actor{}, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(account.APIKeyHash), []byte(secret)) != nil {
		return shared.Actor{}, ErrInvalidCredentials
	}
	return account.Actor(), nil
}

// VerifyMonitoringTechnicians checks that every id names an active
// technician in the monitoring department and returns the typed refs. Used
// by the monitoring workflow's assignment rule.
func (s *Service) VerifyMonitoringTechnicians(ctx context.Context, ids []int64) ([]TechnicianRef, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	accounts, err := s.repo.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]Account, len(accounts))
	for _, a := range accounts {
		byID[a.ID] = a
	}
	refs := make([]TechnicianRef, 0, len(ids))
	for _, id := range ids {
		a, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: technician %d not found", shared.ErrValidation, id)
		}
		if !a.Active || a.Role != shared.RoleTecnico || a.Department != shared.DepartmentMonitorizacao {
			return nil, fmt.Errorf("%w: account %d is not a monitoring technician", shared.ErrValidation, id)
		}
		refs = append(refs, TechnicianRef{ID: a.ID, Name: a.Name})
	}
	return refs, nil
}
