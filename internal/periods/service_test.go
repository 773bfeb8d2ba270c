package periods

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/shared"
)

type memoryRepo struct {
	mu         sync.Mutex
	periods    map[uuid.UUID]*Period
	reopenings map[uuid.UUID]*Reopening
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{periods: map[uuid.UUID]*Period{}, reopenings: map[uuid.UUID]*Reopening{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{repo: m}).GetPeriod(ctx, id)
}

func (m *memoryRepo) ListPeriods(ctx context.Context, subjectID *int64) ([]Period, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Period
	for _, p := range m.periods {
		if subjectID != nil && p.SubjectID != *subjectID {
			continue
		}
		out = append(out, *p)
	}
	return out, nil
}

func (m *memoryRepo) GetReopening(ctx context.Context, id uuid.UUID) (Reopening, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{repo: m}).GetReopening(ctx, id)
}

func (m *memoryRepo) OpenReopeningForPeriod(ctx context.Context, periodID uuid.UUID) (Reopening, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return (&memoryTx{repo: m}).OpenReopeningForPeriod(ctx, periodID)
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) GetPeriod(ctx context.Context, id uuid.UUID) (Period, error) {
	p, ok := t.repo.periods[id]
	if !ok {
		return Period{}, shared.ErrNotFound
	}
	return *p, nil
}

func (t *memoryTx) CreatePeriod(ctx context.Context, p Period) error {
	cp := p
	t.repo.periods[p.ID] = &cp
	return nil
}

func (t *memoryTx) SetPeriodState(ctx context.Context, id uuid.UUID, expected, next State) (int64, error) {
	p, ok := t.repo.periods[id]
	if !ok || p.State != expected {
		return 0, nil
	}
	p.State = next
	return 1, nil
}

func (t *memoryTx) ReopenPeriod(ctx context.Context, id uuid.UUID, from, until time.Time) (int64, error) {
	p, ok := t.repo.periods[id]
	if !ok || (p.State != StateReopenRequested && p.State != StateAwaitingApproval) {
		return 0, nil
	}
	p.State = StateOpen
	p.StartDate = from
	p.EndDate = until
	u := until
	p.ReopenedUntil = &u
	return 1, nil
}

func (t *memoryTx) CloseExpired(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	for _, p := range t.repo.periods {
		if p.State == StateOpen && p.ReopenedUntil != nil && p.ReopenedUntil.Before(now) {
			p.State = StateClosed
			p.ReopenedUntil = nil
			n++
		}
	}
	return n, nil
}

func (t *memoryTx) GetReopening(ctx context.Context, id uuid.UUID) (Reopening, error) {
	r, ok := t.repo.reopenings[id]
	if !ok {
		return Reopening{}, shared.ErrNotFound
	}
	return *r, nil
}

func (t *memoryTx) OpenReopeningForPeriod(ctx context.Context, periodID uuid.UUID) (Reopening, error) {
	for _, r := range t.repo.reopenings {
		if r.PeriodID == periodID && !r.Status.Resolved() {
			return *r, nil
		}
	}
	return Reopening{}, shared.ErrNotFound
}

func (t *memoryTx) CreateReopening(ctx context.Context, r Reopening) error {
	cp := r
	t.repo.reopenings[r.ID] = &cp
	return nil
}

func (t *memoryTx) SetReopeningRUPE(ctx context.Context, id uuid.UUID, next ReopeningStatus, paymentRef, docRef string) (int64, error) {
	r, ok := t.repo.reopenings[id]
	if !ok || r.Status != ReopeningPending {
		return 0, nil
	}
	r.Status = next
	r.PaymentRef = &paymentRef
	r.PaymentDocRef = &docRef
	return 1, nil
}

func (t *memoryTx) ResolveReopening(ctx context.Context, id uuid.UUID, expected []ReopeningStatus, next ReopeningStatus, at time.Time) (int64, error) {
	r, ok := t.repo.reopenings[id]
	if !ok {
		return 0, nil
	}
	matched := false
	for _, s := range expected {
		if r.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return 0, nil
	}
	r.Status = next
	r.ResolvedAt = &at
	return 1, nil
}

var (
	subject = shared.Actor{ID: 10, Role: shared.RoleUtente}
	chief   = shared.Actor{ID: 30, Role: shared.RoleChefe, Department: shared.DepartmentMonitorizacao}
	board   = shared.Actor{ID: 40, Role: shared.RoleDireccao}
)

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func newTestService(t *testing.T, repo *memoryRepo) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewService(repo, documents.NewGate(), nil, nil, logger, DefaultReopeningWindow)
}

func closedPeriod(repo *memoryRepo, subjectID int64) Period {
	p := Period{
		ID:             uuid.New(),
		SubjectID:      subjectID,
		SequenceNumber: 1,
		StartDate:      time.Now().AddDate(0, -6, 0),
		EndDate:        time.Now().AddDate(0, -3, 0),
		State:          StateClosed,
	}
	cp := p
	repo.periods[p.ID] = &cp
	return p
}

func TestRequestReopeningRequiresClosedPeriod(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)
	repo.periods[p.ID].State = StateOpen

	_, err := svc.RequestReopening(context.Background(), subject, p.ID, "faltou submeter relatório")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRequestReopeningSingleOpenPetition(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)

	req, err := svc.RequestReopening(context.Background(), subject, p.ID, "faltou submeter relatório")
	require.NoError(t, err)
	require.Equal(t, ReopeningPending, req.Status)
	require.Equal(t, StateReopenRequested, repo.periods[p.ID].State)

	// A second petition while the first is unresolved is refused; the
	// period is no longer FECHADO anyway.
	_, err = svc.RequestReopening(context.Background(), subject, p.ID, "outra vez")
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRequestReopeningOwnershipAndReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)

	stranger := shared.Actor{ID: 99, Role: shared.RoleUtente}
	_, err := svc.RequestReopening(context.Background(), stranger, p.ID, "motivo")
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.RequestReopening(context.Background(), subject, p.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestChiefPathReopensForSevenDays(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)
	ctx := context.Background()

	req, err := svc.RequestReopening(ctx, subject, p.ID, "faltou submeter relatório")
	require.NoError(t, err)

	req, err = svc.ChiefIssueRUPE(ctx, chief, req.ID, "RUPE-R-01", "uploads/rupe/r1.pdf")
	require.NoError(t, err)
	require.Equal(t, ReopeningAwaitingPayment, req.Status)
	require.Equal(t, StateAwaitingApproval, repo.periods[p.ID].State)

	before := time.Now()
	req, err = svc.ConfirmPayment(ctx, chief, req.ID)
	require.NoError(t, err)
	require.Equal(t, ReopeningApproved, req.Status)

	period := repo.periods[p.ID]
	require.Equal(t, StateOpen, period.State)
	require.NotNil(t, period.ReopenedUntil)
	// Window is exactly start + 7 days from the confirmation instant.
	require.Equal(t, period.StartDate.Add(7*24*time.Hour), period.EndDate)
	require.WithinDuration(t, before.Add(7*24*time.Hour), *period.ReopenedUntil, 2*time.Second)
}

func TestBoardPathCarriesApprovedAnnotation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)
	ctx := context.Background()

	req, err := svc.RequestReopening(ctx, subject, p.ID, "motivo")
	require.NoError(t, err)

	// The chief endpoint refuses board actors and vice versa.
	_, err = svc.ChiefIssueRUPE(ctx, board, req.ID, "RUPE-R-01", "uploads/rupe/r1.pdf")
	require.ErrorIs(t, err, shared.ErrForbidden)

	req, err = svc.BoardIssueRUPE(ctx, board, req.ID, "RUPE-R-01", "uploads/rupe/r1.pdf")
	require.NoError(t, err)
	require.Equal(t, ReopeningChiefApproved, req.Status)

	req, err = svc.ConfirmPayment(ctx, board, req.ID)
	require.NoError(t, err)
	require.Equal(t, ReopeningApproved, req.Status)
	require.Equal(t, StateOpen, repo.periods[p.ID].State)
}

func TestRejectRevertsPeriodToClosed(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)
	ctx := context.Background()

	req, err := svc.RequestReopening(ctx, subject, p.ID, "motivo")
	require.NoError(t, err)

	got, err := svc.Reject(ctx, chief, req.ID, "fora de prazo")
	require.NoError(t, err)
	require.Equal(t, ReopeningChiefRejected, got.Status)
	require.Equal(t, StateClosed, repo.periods[p.ID].State)

	// A resolved petition cannot be resolved again.
	_, err = svc.ConfirmPayment(ctx, chief, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// The period can be petitioned again after a rejection.
	_, err = svc.RequestReopening(ctx, subject, p.ID, "novo motivo")
	require.NoError(t, err)
}

func TestBoardRejectUsesBoardStatus(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)
	ctx := context.Background()

	req, err := svc.RequestReopening(ctx, subject, p.ID, "motivo")
	require.NoError(t, err)

	got, err := svc.Reject(ctx, board, req.ID, "indeferido")
	require.NoError(t, err)
	require.Equal(t, ReopeningRejected, got.Status)
}

func TestCloseExpiredReopenings(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)

	past := time.Now().Add(-time.Hour)
	repo.periods[p.ID].State = StateOpen
	repo.periods[p.ID].ReopenedUntil = &past

	closed, err := svc.CloseExpiredReopenings(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), closed)
	require.Equal(t, StateClosed, repo.periods[p.ID].State)

	// Idempotent on a second run.
	closed, err = svc.CloseExpiredReopenings(context.Background())
	require.NoError(t, err)
	require.Zero(t, closed)
}

func TestEnsureOpen(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo)
	p := closedPeriod(repo, subject.ID)

	err := svc.EnsureOpen(context.Background(), p.ID, subject.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	repo.periods[p.ID].State = StateOpen
	require.NoError(t, svc.EnsureOpen(context.Background(), p.ID, subject.ID))

	err = svc.EnsureOpen(context.Background(), p.ID, 99)
	require.ErrorIs(t, err, shared.ErrForbidden)
}
