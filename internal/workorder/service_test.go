package workorder

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/jobs"
)

func newUUID() uuid.UUID {
	return uuid.New()
}

func ptr[T any](v T) *T {
	return &v
}

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	mu sync.Mutex

	orders         map[uuid.UUID]*WorkOrder
	openEntries    map[uuid.UUID]int
	openReceipts   map[uuid.UUID]int
	statusWrites   []Status
	lockedForWrite int
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		orders:       make(map[uuid.UUID]*WorkOrder),
		openEntries:  make(map[uuid.UUID]int),
		openReceipts: make(map[uuid.UUID]int),
	}
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wo, ok := m.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *wo
	return &copied, nil
}

func (m *mockRepository) List(ctx context.Context, req ListWorkOrdersRequest) ([]WorkOrder, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []WorkOrder
	for _, wo := range m.orders {
		if req.Status != nil && wo.Status != *req.Status {
			continue
		}
		result = append(result, *wo)
	}
	return result, len(result), nil
}

func (m *mockRepository) CountOpenTimeEntries(ctx context.Context, workOrderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openEntries[workOrderID], nil
}

func (m *mockRepository) CountUnallocatedReceipts(ctx context.Context, workOrderID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openReceipts[workOrderID], nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) Create(ctx context.Context, wo WorkOrder) error {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	copied := wo
	t.mock.orders[wo.ID] = &copied
	return nil
}

func (t *mockTxRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	t.mock.lockedForWrite++
	wo, ok := t.mock.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *wo
	return &copied, nil
}

func (t *mockTxRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	wo, ok := t.mock.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	wo.Status = status
	t.mock.statusWrites = append(t.mock.statusWrites, status)
	return nil
}

func (t *mockTxRepo) UpdateAssignee(ctx context.Context, id uuid.UUID, technicianID *uuid.UUID) error {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	wo, ok := t.mock.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	wo.AssignedTo = technicianID
	return nil
}

func (t *mockTxRepo) UpdateContractTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	t.mock.mu.Lock()
	defer t.mock.mu.Unlock()
	wo, ok := t.mock.orders[id]
	if !ok {
		return shared.ErrNotFound
	}
	wo.ContractTotal = &total
	return nil
}

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []string
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, taskType string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, taskType)
	return nil
}

func newTestService() (*Service, *mockRepository, *recordingDispatcher) {
	repo := newMockRepository()
	dispatcher := &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, shared.NewAuditLogger(nil), dispatcher, logger)
	svc.WithNow(func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) })
	return svc, repo, dispatcher
}

func seedWorkOrder(repo *mockRepository, status Status, mutate ...func(*WorkOrder)) *WorkOrder {
	wo := &WorkOrder{
		ID:         newUUID(),
		Number:     "WO-1001",
		Status:     status,
		CustomerID: newUUID(),
		LocationID: newUUID(),
		CreatedBy:  newUUID(),
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	for _, fn := range mutate {
		fn(wo)
	}
	repo.orders[wo.ID] = wo
	return wo
}

// ============================================================================
// TRANSITIONS
// ============================================================================

func TestTransitionHappyPath(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	tech := newUUID()
	wo := seedWorkOrder(repo, StatusUnscheduled, func(w *WorkOrder) { w.AssignedTo = &tech })

	record, err := svc.Transition(ctx, wo.ID, StatusScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusUnscheduled, record.From)
	assert.Equal(t, StatusScheduled, record.To)

	stored, err := svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, stored.Status)
}

func TestTransitionUndeclaredEdgeRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusUnscheduled)

	_, err := svc.Transition(ctx, wo.ID, StatusCompleted, nil)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Empty(t, repo.statusWrites, "failed transition must not write")
}

func TestTransitionSchedulingWithoutTechRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusUnscheduled)

	_, err := svc.Transition(ctx, wo.ID, StatusScheduled, nil)
	require.Error(t, err)
	require.True(t, shared.IsValidation(err))

	var verr *shared.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Issues, "Must assign tech before scheduling")
	assert.Empty(t, repo.statusWrites)
}

func TestTransitionCancelRequiresReason(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusScheduled)

	_, err := svc.Transition(ctx, wo.ID, StatusCanceled, nil)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	_, err = svc.Transition(ctx, wo.ID, StatusCanceled, ptr(""))
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))

	record, err := svc.Transition(ctx, wo.ID, StatusCanceled, ptr("customer no-show"))
	require.NoError(t, err)
	assert.Equal(t, StatusCanceled, record.To)
	require.NotNil(t, record.Reason)
	assert.Equal(t, "customer no-show", *record.Reason)
}

func TestTransitionFromTerminalStatusRejected(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	for _, status := range []Status{StatusClosed, StatusCanceled} {
		wo := seedWorkOrder(repo, status)
		for _, to := range allStatuses() {
			_, err := svc.Transition(ctx, wo.ID, to, ptr("reason"))
			assert.True(t, IsInvalidTransition(err), "%s -> %s must be rejected", status, to)
		}
	}
}

func TestTransitionToClosedDispatchesNotification(t *testing.T) {
	svc, repo, dispatcher := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusCompleted)

	_, err := svc.Transition(ctx, wo.ID, StatusClosed, ptr("job done, invoiced"))
	require.NoError(t, err)
	assert.Equal(t, []string{jobs.TaskWorkOrderClosed}, dispatcher.tasks)
}

func TestTransitionRunsUnderRowLock(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	tech := newUUID()
	wo := seedWorkOrder(repo, StatusUnscheduled, func(w *WorkOrder) { w.AssignedTo = &tech })

	_, err := svc.Transition(ctx, wo.ID, StatusScheduled, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, repo.lockedForWrite)
}

// ============================================================================
// CLOSE-OUT GATE
// ============================================================================

func TestValidateCloseReady(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusCompleted)

	check, err := svc.ValidateClose(ctx, wo.ID)
	require.NoError(t, err)
	assert.True(t, check.CanClose)
	assert.Empty(t, check.Issues)
}

func TestValidateCloseReportsAllIssuesAtOnce(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusInProgress)
	repo.openEntries[wo.ID] = 2
	repo.openReceipts[wo.ID] = 1

	check, err := svc.ValidateClose(ctx, wo.ID)
	require.NoError(t, err)
	assert.False(t, check.CanClose)
	assert.Equal(t, []string{
		"Work order must be COMPLETED before closing",
		"2 open time entries (missing clock out)",
		"1 unallocated receipts",
	}, check.Issues)
}

func TestValidateCloseIsIdempotent(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusInProgress)
	repo.openEntries[wo.ID] = 1

	first, err := svc.ValidateClose(ctx, wo.ID)
	require.NoError(t, err)
	second, err := svc.ValidateClose(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Issues, second.Issues)

	stored, err := svc.Get(ctx, wo.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, stored.Status, "the gate must not mutate state")
}

// ============================================================================
// MUTABILITY GUARD
// ============================================================================

func TestEnsureMutableOpenWorkOrder(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusInProgress)

	err := svc.EnsureMutable(ctx, wo, &shared.Actor{ID: newUUID(), Role: "TECH"}, nil)
	assert.NoError(t, err)
}

func TestEnsureMutableClosedBlocksNonAdmin(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusClosed)

	for _, role := range []string{"TECH", "OFFICE"} {
		err := svc.EnsureMutable(ctx, wo, &shared.Actor{ID: newUUID(), Role: role}, ptr("a reason"))
		assert.ErrorIs(t, err, shared.ErrConflict, "role %s", role)
	}

	err := svc.EnsureMutable(ctx, wo, nil, nil)
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestEnsureMutableClosedAdminNeedsReason(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusClosed)
	admin := &shared.Actor{ID: newUUID(), Role: "ADMIN"}

	err := svc.EnsureMutable(ctx, wo, admin, nil)
	assert.True(t, shared.IsValidation(err))

	err = svc.EnsureMutable(ctx, wo, admin, ptr(""))
	assert.True(t, shared.IsValidation(err))

	err = svc.EnsureMutable(ctx, wo, admin, ptr("late vendor invoice"))
	assert.NoError(t, err)
}

// ============================================================================
// CRUD SUPPLEMENTS
// ============================================================================

func TestCreateStartsUnscheduled(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	wo, err := svc.Create(ctx, CreateWorkOrderRequest{
		Number:     "WO-2001",
		CustomerID: newUUID(),
		LocationID: newUUID(),
	}, newUUID())
	require.NoError(t, err)
	assert.Equal(t, StatusUnscheduled, wo.Status)
	assert.Nil(t, wo.ContractTotal)
}

func TestSetContractTotalRejectsNegative(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusScheduled)

	_, err := svc.SetContractTotal(ctx, wo.ID, decimal.NewFromInt(-1))
	assert.True(t, shared.IsValidation(err))

	updated, err := svc.SetContractTotal(ctx, wo.ID, decimal.RequireFromString("1200.505"))
	require.NoError(t, err)
	require.NotNil(t, updated.ContractTotal)
	assert.Equal(t, "1200.51", updated.ContractTotal.StringFixed(2))
}

func TestSetContractTotalRejectedWhenClosed(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(repo, StatusClosed)

	_, err := svc.SetContractTotal(ctx, wo.ID, decimal.NewFromInt(500))
	assert.ErrorIs(t, err, shared.ErrConflict)
}
