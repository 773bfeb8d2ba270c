package authorization

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/sgal-dev/sgal/internal/documents"
	"github.com/sgal-dev/sgal/internal/shared"
	"github.com/sgal-dev/sgal/internal/tariffs"
)

type memoryRepo struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*Request
	nextItem int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{requests: map[uuid.UUID]*Request{}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memoryTx{repo: m})
}

func (m *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	return *req, nil
}

func (m *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, req := range m.requests {
		if filter.RequesterID != nil && req.RequesterID != *filter.RequesterID {
			continue
		}
		if filter.Status != nil && req.Status != *filter.Status {
			continue
		}
		out = append(out, *req)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, len(out), nil
}

func (m *memoryRepo) CountForYearMonth(ctx context.Context, year int, month time.Month) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for _, req := range m.requests {
		if req.CreatedAt.Year() == year && req.CreatedAt.Month() == month {
			count++
		}
	}
	return count, nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (t *memoryTx) Get(ctx context.Context, id uuid.UUID) (Request, error) {
	req, ok := t.repo.requests[id]
	if !ok {
		return Request{}, shared.ErrNotFound
	}
	return *req, nil
}

func (t *memoryTx) Create(ctx context.Context, req Request) error {
	cp := req
	t.repo.requests[req.ID] = &cp
	return nil
}

func (t *memoryTx) InsertItem(ctx context.Context, item Item) error {
	req, ok := t.repo.requests[item.RequestID]
	if !ok {
		return shared.ErrNotFound
	}
	t.repo.nextItem++
	item.ID = t.repo.nextItem
	req.Items = append(req.Items, item)
	return nil
}

func (t *memoryTx) OldestUnvalidatedBefore(ctx context.Context, createdAt time.Time, id uuid.UUID) (uuid.UUID, bool, error) {
	var best *Request
	for _, req := range t.repo.requests {
		if req.ID == id || req.Status != StatusPending || req.TechnicianValidated {
			continue
		}
		if req.CreatedAt.After(createdAt) {
			continue
		}
		if req.CreatedAt.Equal(createdAt) && req.ID.String() >= id.String() {
			continue
		}
		if best == nil || req.CreatedAt.Before(best.CreatedAt) {
			best = req
		}
	}
	if best == nil {
		return uuid.Nil, false, nil
	}
	return best.ID, true, nil
}

func (t *memoryTx) MarkTechnicianValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status != StatusPending || req.TechnicianValidated {
		return 0, nil
	}
	req.TechnicianValidated = true
	return 1, nil
}

func (t *memoryTx) MarkChiefValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status != StatusPending || !req.TechnicianValidated || req.ChiefValidated {
		return 0, nil
	}
	req.ChiefValidated = true
	req.Status = StatusValidRUPE
	return 1, nil
}

func (t *memoryTx) SetRUPE(ctx context.Context, id uuid.UUID, paymentRef, docRef string) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status != StatusValidRUPE {
		return 0, nil
	}
	req.PaymentRef = &paymentRef
	req.PaymentDocRef = &docRef
	req.Status = StatusAwaitingPayment
	return 1, nil
}

func (t *memoryTx) MarkPaymentConfirmed(ctx context.Context, id uuid.UUID, receiptRef string) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status != StatusAwaitingPayment || req.PaymentConfirmedByUser {
		return 0, nil
	}
	req.PaymentConfirmedByUser = true
	req.ReceiptRef = &receiptRef
	return 1, nil
}

func (t *memoryTx) MarkPaymentValidated(ctx context.Context, id uuid.UUID) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status != StatusAwaitingPayment || !req.PaymentConfirmedByUser || req.PaymentValidatedByStaff {
		return 0, nil
	}
	req.PaymentValidatedByStaff = true
	req.Status = StatusPaymentConfirmed
	return 1, nil
}

func (t *memoryTx) MarkApproved(ctx context.Context, id uuid.UUID) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status != StatusPaymentConfirmed {
		return 0, nil
	}
	req.BoardApproved = true
	req.Status = StatusApproved
	return 1, nil
}

func (t *memoryTx) MarkRejected(ctx context.Context, id uuid.UUID, reason string) (int64, error) {
	req, ok := t.repo.requests[id]
	if !ok || req.Status.Terminal() {
		return 0, nil
	}
	req.Status = StatusRejected
	req.RejectionReason = &reason
	return 1, nil
}

type fixedConverter struct {
	rate float64
}

func (c fixedConverter) ToLocal(ctx context.Context, currencyID int64, amount float64) (float64, float64, error) {
	return amount * c.rate, c.rate, nil
}

type memoryTariffs struct {
	codes map[int64]tariffs.TariffCode
}

func (m memoryTariffs) GetByIDs(ctx context.Context, ids []int64) (map[int64]tariffs.TariffCode, error) {
	out := map[int64]tariffs.TariffCode{}
	for _, id := range ids {
		if code, ok := m.codes[id]; ok {
			out[id] = code
		}
	}
	return out, nil
}

type recordedEffects struct {
	certificates  []uuid.UUID
	notifications []string
	fail          bool
}

func (e *recordedEffects) EnqueueCertificate(ctx context.Context, requestID uuid.UUID) error {
	if e.fail {
		return errors.New("queue down")
	}
	e.certificates = append(e.certificates, requestID)
	return nil
}

func (e *recordedEffects) NotifyStatusChange(ctx context.Context, requestID uuid.UUID, status string) error {
	if e.fail {
		return errors.New("queue down")
	}
	e.notifications = append(e.notifications, status)
	return nil
}

var (
	subject    = shared.Actor{ID: 10, Role: shared.RoleUtente}
	technician = shared.Actor{ID: 20, Role: shared.RoleTecnico, Department: shared.DepartmentLicenciamento}
	chief      = shared.Actor{ID: 30, Role: shared.RoleChefe, Department: shared.DepartmentLicenciamento}
	board      = shared.Actor{ID: 40, Role: shared.RoleDireccao}
)

func newTestService(t *testing.T, repo *memoryRepo, effects Effects) *Service {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	return NewService(
		repo,
		fixedConverter{rate: 900},
		memoryTariffs{codes: map[int64]tariffs.TariffCode{1: {ID: 1, Code: "TC-01"}}},
		documents.NewGate(),
		nil, nil,
		effects,
		logger,
	)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func submit(t *testing.T, svc *Service) Request {
	t.Helper()
	req, err := svc.Create(context.Background(), subject, CreateInput{
		Type:       TypeImport,
		CurrencyID: 1,
		Items:      []CreateItemInput{{Quantity: 10, UnitPrice: 500, TariffCodeID: 1}},
	})
	require.NoError(t, err)
	return req
}

func TestCreateSnapshotsRateAndFee(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)

	req := submit(t, svc)
	require.Equal(t, StatusPending, req.Status)
	require.Equal(t, 900.0, req.ExchangeRate)
	// 10 * 500 * 900 = 4,500,000 AOA, first bracket 0.60% = 27,000.
	require.InDelta(t, 4_500_000, req.TotalValueLocal, 0.001)
	require.InDelta(t, 27_000, req.FeeOwed, 0.001)
	require.Regexp(t, `^PA-\d{4}-\d{4}$`, req.CaseNumber)
	require.Len(t, req.Items, 1)
}

func TestCreateRejectsNonSubject(t *testing.T) {
	svc := newTestService(t, newMemoryRepo(), nil)
	_, err := svc.Create(context.Background(), technician, CreateInput{Type: TypeImport, CurrencyID: 1,
		Items: []CreateItemInput{{Quantity: 1, UnitPrice: 1, TariffCodeID: 1}}})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestTechnicianValidationFollowsSubmissionOrder(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)

	first := submit(t, svc)
	time.Sleep(2 * time.Millisecond)
	second := submit(t, svc)

	// Newer request is blocked while the older one is unvalidated.
	_, err := svc.ValidateByTechnician(context.Background(), technician, second.ID)
	var outOfOrder *shared.OutOfOrderError
	require.ErrorAs(t, err, &outOfOrder)
	require.Equal(t, first.ID, outOfOrder.BlockingID)
	require.ErrorIs(t, err, shared.ErrOutOfOrder)

	_, err = svc.ValidateByTechnician(context.Background(), technician, first.ID)
	require.NoError(t, err)

	got, err := svc.ValidateByTechnician(context.Background(), technician, second.ID)
	require.NoError(t, err)
	require.True(t, got.TechnicianValidated)
}

func TestChiefRequiresTechnicianFirst(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)

	_, err := svc.ValidateByChief(context.Background(), chief, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = svc.ValidateByTechnician(context.Background(), technician, req.ID)
	require.NoError(t, err)

	got, err := svc.ValidateByChief(context.Background(), chief, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusValidRUPE, got.Status)
}

func advanceToAwaitingPayment(t *testing.T, svc *Service, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := svc.ValidateByTechnician(ctx, technician, id)
	require.NoError(t, err)
	_, err = svc.ValidateByChief(ctx, chief, id)
	require.NoError(t, err)
	_, err = svc.IssueRUPE(ctx, chief, id, "RUPE-001", "uploads/rupe/001.pdf")
	require.NoError(t, err)
}

func TestIssueRUPERequiresPDF(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)
	ctx := context.Background()
	_, err := svc.ValidateByTechnician(ctx, technician, req.ID)
	require.NoError(t, err)
	_, err = svc.ValidateByChief(ctx, chief, req.ID)
	require.NoError(t, err)

	_, err = svc.IssueRUPE(ctx, chief, req.ID, "RUPE-001", "uploads/rupe/001.docx")
	require.ErrorIs(t, err, shared.ErrMissingDocument)

	got, err := svc.IssueRUPE(ctx, chief, req.ID, "RUPE-001", "uploads/rupe/001.pdf")
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingPayment, got.Status)
	require.Equal(t, "RUPE-001", *got.PaymentRef)
}

func TestPaymentTwoStepConfirmation(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)
	advanceToAwaitingPayment(t, svc, req.ID)
	ctx := context.Background()

	// Technicians are not allowed to validate payments.
	_, err := svc.ValidatePaymentByStaff(ctx, technician, req.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	// Staff cannot validate before the subject confirms.
	_, err = svc.ValidatePaymentByStaff(ctx, chief, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// Another subject cannot confirm someone else's payment.
	stranger := shared.Actor{ID: 99, Role: shared.RoleUtente}
	_, err = svc.ConfirmPaymentBySubject(ctx, stranger, req.ID, "uploads/receipts/r1.pdf")
	require.ErrorIs(t, err, shared.ErrForbidden)

	got, err := svc.ConfirmPaymentBySubject(ctx, subject, req.ID, "uploads/receipts/r1.pdf")
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingPayment, got.Status)
	require.True(t, got.PaymentConfirmedByUser)

	got, err = svc.ValidatePaymentByStaff(ctx, chief, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPaymentConfirmed, got.Status)
}

func TestApproveEnqueuesCertificate(t *testing.T) {
	repo := newMemoryRepo()
	effects := &recordedEffects{}
	svc := newTestService(t, repo, effects)
	req := submit(t, svc)
	advanceToAwaitingPayment(t, svc, req.ID)
	ctx := context.Background()
	_, err := svc.ConfirmPaymentBySubject(ctx, subject, req.ID, "uploads/receipts/r1.pdf")
	require.NoError(t, err)
	_, err = svc.ValidatePaymentByStaff(ctx, chief, req.ID)
	require.NoError(t, err)

	got, warnings, err := svc.ApproveByBoard(ctx, board, req.ID)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, StatusApproved, got.Status)
	require.Equal(t, []uuid.UUID{req.ID}, effects.certificates)
}

func TestRegenerateCertificate(t *testing.T) {
	repo := newMemoryRepo()
	effects := &recordedEffects{}
	svc := newTestService(t, repo, effects)
	req := submit(t, svc)
	ctx := context.Background()

	// only approved requests can be re-rendered
	err := svc.RegenerateCertificate(ctx, chief, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	advanceToAwaitingPayment(t, svc, req.ID)
	_, err = svc.ConfirmPaymentBySubject(ctx, subject, req.ID, "uploads/receipts/r1.pdf")
	require.NoError(t, err)
	_, err = svc.ValidatePaymentByStaff(ctx, chief, req.ID)
	require.NoError(t, err)
	_, _, err = svc.ApproveByBoard(ctx, board, req.ID)
	require.NoError(t, err)

	err = svc.RegenerateCertificate(ctx, subject, req.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)

	require.NoError(t, svc.RegenerateCertificate(ctx, chief, req.ID))
	require.Equal(t, []uuid.UUID{req.ID, req.ID}, effects.certificates)
}

func TestApproveSurvivesEffectFailure(t *testing.T) {
	repo := newMemoryRepo()
	effects := &recordedEffects{fail: true}
	svc := newTestService(t, repo, effects)
	req := submit(t, svc)
	advanceToAwaitingPayment(t, svc, req.ID)
	ctx := context.Background()
	_, err := svc.ConfirmPaymentBySubject(ctx, subject, req.ID, "uploads/receipts/r1.pdf")
	require.NoError(t, err)
	_, err = svc.ValidatePaymentByStaff(ctx, chief, req.ID)
	require.NoError(t, err)

	got, warnings, err := svc.ApproveByBoard(ctx, board, req.ID)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Equal(t, StatusApproved, got.Status)
}

func TestApproveRequiresBoard(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)
	_, _, err := svc.ApproveByBoard(context.Background(), chief, req.ID)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestRejectFromAnyNonTerminalState(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)

	got, err := svc.Reject(context.Background(), chief, req.ID, "documentação incompleta")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, got.Status)
	require.Equal(t, "documentação incompleta", *got.RejectionReason)

	// Terminal states never transition again.
	_, err = svc.Reject(context.Background(), chief, req.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = svc.ValidateByTechnician(context.Background(), technician, req.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestRejectRequiresReason(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)
	_, err := svc.Reject(context.Background(), chief, req.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestConcurrentChiefValidationSingleWinner(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)
	_, err := svc.ValidateByTechnician(context.Background(), technician, req.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ValidateByChief(context.Background(), chief, req.ID)
		}(i)
	}
	wg.Wait()

	var okCount int
	for _, err := range errs {
		if err == nil {
			okCount++
		} else {
			require.Truef(t,
				errors.Is(err, shared.ErrConcurrentModification) || errors.Is(err, shared.ErrInvalidState),
				"unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, okCount)
}

func TestGetScopesSubjectsToOwnRequests(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	req := submit(t, svc)

	stranger := shared.Actor{ID: 77, Role: shared.RoleUtente}
	_, err := svc.Get(context.Background(), stranger, req.ID)
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = svc.Get(context.Background(), technician, req.ID)
	require.NoError(t, err)
}

func TestListAnnotatesQueueHead(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(t, repo, nil)
	first := submit(t, svc)
	time.Sleep(2 * time.Millisecond)
	second := submit(t, svc)

	items, total, err := svc.List(context.Background(), technician, ListFilter{})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	byID := map[uuid.UUID]AnnotatedRequest{}
	for _, item := range items {
		byID[item.ID] = item
	}
	require.True(t, byID[first.ID].CanValidate)
	require.False(t, byID[second.ID].CanValidate)
	require.Equal(t, first.ID, *byID[second.ID].BlockingOlderID)
}
