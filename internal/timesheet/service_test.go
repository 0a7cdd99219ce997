package timesheet

import (
	"context"
	"errors"
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
	"github.com/fieldserv/fieldserv/internal/workorder"
	"github.com/fieldserv/fieldserv/jobs"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockRepository struct {
	entries    map[uuid.UUID]*TimeEntry
	workOrders *mockWorkOrders
	// onTxLock stands in for writes that commit while this request waits on
	// the work order row lock.
	onTxLock func()
}

func newMockRepository() *mockRepository {
	return &mockRepository{entries: make(map[uuid.UUID]*TimeEntry)}
}

func (m *mockRepository) Get(ctx context.Context, id uuid.UUID) (*TimeEntry, error) {
	e, ok := m.entries[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *e
	return &copied, nil
}

func (m *mockRepository) ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]TimeEntry, error) {
	var result []TimeEntry
	for _, e := range m.entries {
		if e.WorkOrderID == workOrderID {
			result = append(result, *e)
		}
	}
	return result, nil
}

func (m *mockRepository) OpenEntryForTechnician(ctx context.Context, technicianID uuid.UUID) (*TimeEntry, error) {
	for _, e := range m.entries {
		if e.TechnicianID == technicianID && e.Open() {
			copied := *e
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTxRepo{mock: m})
}

type mockTxRepo struct {
	mock *mockRepository
}

func (t *mockTxRepo) Insert(ctx context.Context, e TimeEntry) error {
	copied := e
	t.mock.entries[e.ID] = &copied
	return nil
}

func (t *mockTxRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*TimeEntry, error) {
	return t.mock.Get(ctx, id)
}

func (t *mockTxRepo) WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error) {
	if t.mock.onTxLock != nil {
		t.mock.onTxLock()
	}
	return t.mock.workOrders.Get(ctx, id)
}

func (t *mockTxRepo) Update(ctx context.Context, e TimeEntry) error {
	if _, ok := t.mock.entries[e.ID]; !ok {
		return shared.ErrNotFound
	}
	copied := e
	t.mock.entries[e.ID] = &copied
	return nil
}

func (t *mockTxRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.mock.entries[id]; !ok {
		return shared.ErrNotFound
	}
	delete(t.mock.entries, id)
	return nil
}

type mockWorkOrders struct {
	orders map[uuid.UUID]*workorder.WorkOrder
}

func (m *mockWorkOrders) Get(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error) {
	wo, ok := m.orders[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	copied := *wo
	return &copied, nil
}

type mockGuard struct {
	statuses []workorder.Status
	err      error
}

func (g *mockGuard) EnsureMutable(ctx context.Context, wo *workorder.WorkOrder, actor *shared.Actor, reason *string) error {
	g.statuses = append(g.statuses, wo.Status)
	return g.err
}

type laborPosting struct {
	workOrderID uuid.UUID
	hours       decimal.Decimal
	rate        decimal.Decimal
}

type mockLaborPoster struct {
	postings []laborPosting
	err      error
}

func (m *mockLaborPoster) PostLaborCost(ctx context.Context, workOrderID uuid.UUID, hours, rate decimal.Decimal, txnDate time.Time, createdBy uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	m.postings = append(m.postings, laborPosting{workOrderID: workOrderID, hours: hours, rate: rate})
	return nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	tasks    []string
	payloads []any
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, taskType string, payload any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, taskType)
	d.payloads = append(d.payloads, payload)
	return nil
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestService() (*Service, *mockRepository, *mockWorkOrders, *mockGuard, *mockLaborPoster, *recordingDispatcher) {
	repo := newMockRepository()
	workOrders := &mockWorkOrders{orders: make(map[uuid.UUID]*workorder.WorkOrder)}
	repo.workOrders = workOrders
	guard := &mockGuard{}
	labor := &mockLaborPoster{}
	dispatcher := &recordingDispatcher{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(repo, guard, labor, dispatcher, shared.NewAuditLogger(nil), logger)
	svc.WithNow(func() time.Time { return testNow })
	return svc, repo, workOrders, guard, labor, dispatcher
}

func seedWorkOrder(workOrders *mockWorkOrders, status workorder.Status) *workorder.WorkOrder {
	wo := &workorder.WorkOrder{
		ID:         uuid.New(),
		Number:     "WO-4001",
		Status:     status,
		CustomerID: uuid.New(),
		LocationID: uuid.New(),
	}
	workOrders.orders[wo.ID] = wo
	return wo
}

func ptr[T any](v T) *T { return &v }

// ============================================================================
// HOURS
// ============================================================================

func TestHoursComputation(t *testing.T) {
	in := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	entry := TimeEntry{ClockIn: in, ClockOut: ptr(in.Add(8*time.Hour + 30*time.Minute)), BreakMinutes: 30}
	assert.Equal(t, "8.00", entry.Hours().StringFixed(2))

	entry = TimeEntry{ClockIn: in, ClockOut: ptr(in.Add(15 * time.Minute)), BreakMinutes: 0}
	assert.Equal(t, "0.25", entry.Hours().StringFixed(2))

	// Break longer than the shift floors at zero.
	entry = TimeEntry{ClockIn: in, ClockOut: ptr(in.Add(30 * time.Minute)), BreakMinutes: 60}
	assert.True(t, entry.Hours().IsZero())

	// Open entries report zero hours.
	entry = TimeEntry{ClockIn: in}
	assert.True(t, entry.Hours().IsZero())
}

// ============================================================================
// CLOCK IN / CLOCK OUT
// ============================================================================

func TestClockInCreatesOpenEntry(t *testing.T) {
	svc, _, workOrders, _, _, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	entry, err := svc.ClockIn(ctx, ClockInRequest{
		WorkOrderID:  wo.ID,
		TechnicianID: uuid.New(),
		HourlyRate:   "45.00",
	}, &shared.Actor{ID: uuid.New(), Role: "TECH"})
	require.NoError(t, err)
	assert.True(t, entry.Open())
	assert.Equal(t, testNow, entry.ClockIn)
	assert.Equal(t, "45.00", entry.HourlyRate.StringFixed(2))
}

func TestClockInRejectsSecondOpenEntry(t *testing.T) {
	svc, _, workOrders, _, _, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)
	tech := uuid.New()

	_, err := svc.ClockIn(ctx, ClockInRequest{WorkOrderID: wo.ID, TechnicianID: tech, HourlyRate: "45.00"}, nil)
	require.NoError(t, err)

	_, err = svc.ClockIn(ctx, ClockInRequest{WorkOrderID: wo.ID, TechnicianID: tech, HourlyRate: "45.00"}, nil)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
}

func TestClockInRejectsTerminalWorkOrder(t *testing.T) {
	svc, _, workOrders, _, _, _ := newTestService()
	ctx := context.Background()

	for _, status := range []workorder.Status{workorder.StatusClosed, workorder.StatusCanceled} {
		wo := seedWorkOrder(workOrders, status)
		_, err := svc.ClockIn(ctx, ClockInRequest{WorkOrderID: wo.ID, TechnicianID: uuid.New(), HourlyRate: "45.00"}, nil)
		assert.ErrorIs(t, err, shared.ErrConflict, "status %s", status)
	}
}

func TestClockInRejectsWorkOrderClosedDuringWrite(t *testing.T) {
	svc, repo, workOrders, _, _, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	repo.onTxLock = func() { workOrders.orders[wo.ID].Status = workorder.StatusClosed }

	_, err := svc.ClockIn(ctx, ClockInRequest{WorkOrderID: wo.ID, TechnicianID: uuid.New(), HourlyRate: "45.00"}, nil)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Empty(t, repo.entries, "no entry may land in the closed work order")
}

func TestClockOutPostsLabor(t *testing.T) {
	svc, _, workOrders, _, labor, dispatcher := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	in := testNow.Add(-9 * time.Hour)
	entry, err := svc.ClockIn(ctx, ClockInRequest{
		WorkOrderID:  wo.ID,
		TechnicianID: uuid.New(),
		ClockIn:      &in,
		HourlyRate:   "40.00",
	}, nil)
	require.NoError(t, err)

	closed, err := svc.ClockOut(ctx, entry.ID, ClockOutRequest{BreakMinutes: 60}, nil)
	require.NoError(t, err)
	require.NotNil(t, closed.ClockOut)
	assert.Equal(t, "8.00", closed.Hours().StringFixed(2))

	require.Len(t, labor.postings, 1)
	assert.Equal(t, wo.ID, labor.postings[0].workOrderID)
	assert.Equal(t, "8.00", labor.postings[0].hours.StringFixed(2))
	assert.Equal(t, "40.00", labor.postings[0].rate.StringFixed(2))
	assert.Empty(t, dispatcher.tasks, "successful posting must not queue a retry")
}

func TestClockOutRequeuesFailedLaborPosting(t *testing.T) {
	svc, _, workOrders, _, labor, dispatcher := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	in := testNow.Add(-9 * time.Hour)
	entry, err := svc.ClockIn(ctx, ClockInRequest{
		WorkOrderID:  wo.ID,
		TechnicianID: uuid.New(),
		ClockIn:      &in,
		HourlyRate:   "40.00",
	}, nil)
	require.NoError(t, err)

	labor.err = errors.New("ledger unavailable")
	closed, err := svc.ClockOut(ctx, entry.ID, ClockOutRequest{BreakMinutes: 60}, nil)
	require.NoError(t, err, "the clock-out itself must still commit")
	require.NotNil(t, closed.ClockOut)

	require.Equal(t, []string{jobs.TaskLaborPosting}, dispatcher.tasks)
	payload, ok := dispatcher.payloads[0].(jobs.LaborPostingPayload)
	require.True(t, ok)
	assert.Equal(t, closed.ID.String(), payload.TimeEntryID)
	assert.Equal(t, wo.ID.String(), payload.WorkOrderID)
	assert.Equal(t, "8.00", decimal.RequireFromString(payload.Hours).StringFixed(2))
	assert.Equal(t, "40.00", decimal.RequireFromString(payload.HourlyRate).StringFixed(2))
}

func TestClockOutBeforeClockInRejected(t *testing.T) {
	svc, _, workOrders, _, labor, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	in := testNow.Add(time.Hour)
	entry, err := svc.ClockIn(ctx, ClockInRequest{
		WorkOrderID:  wo.ID,
		TechnicianID: uuid.New(),
		ClockIn:      &in,
		HourlyRate:   "40.00",
	}, nil)
	require.NoError(t, err)

	_, err = svc.ClockOut(ctx, entry.ID, ClockOutRequest{}, nil)
	require.Error(t, err)
	assert.True(t, shared.IsValidation(err))
	assert.Empty(t, labor.postings)
}

func TestDoubleClockOutRejected(t *testing.T) {
	svc, _, workOrders, _, labor, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	in := testNow.Add(-2 * time.Hour)
	entry, err := svc.ClockIn(ctx, ClockInRequest{
		WorkOrderID:  wo.ID,
		TechnicianID: uuid.New(),
		ClockIn:      &in,
		HourlyRate:   "40.00",
	}, nil)
	require.NoError(t, err)

	_, err = svc.ClockOut(ctx, entry.ID, ClockOutRequest{}, nil)
	require.NoError(t, err)

	_, err = svc.ClockOut(ctx, entry.ID, ClockOutRequest{}, nil)
	assert.ErrorIs(t, err, shared.ErrConflict)
	assert.Len(t, labor.postings, 1, "labor must post exactly once")
}

// ============================================================================
// GUARDED EDITS
// ============================================================================

func TestUpdateRunsMutabilityGuard(t *testing.T) {
	svc, repo, workOrders, guard, _, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusClosed)

	out := testNow.Add(-time.Hour)
	entry := &TimeEntry{
		ID:           uuid.New(),
		WorkOrderID:  wo.ID,
		TechnicianID: uuid.New(),
		ClockIn:      testNow.Add(-3 * time.Hour),
		ClockOut:     &out,
		HourlyRate:   decimal.RequireFromString("40.00"),
	}
	repo.entries[entry.ID] = entry

	guard.err = shared.ErrConflict
	_, err := svc.Update(ctx, entry.ID, UpdateTimeEntryRequest{BreakMinutes: ptr(15)}, nil)
	assert.ErrorIs(t, err, shared.ErrConflict)
	require.Equal(t, []workorder.Status{workorder.StatusClosed}, guard.statuses,
		"the guard must see the status read under the row lock")

	guard.err = nil
	updated, err := svc.Update(ctx, entry.ID, UpdateTimeEntryRequest{BreakMinutes: ptr(15)}, nil)
	require.NoError(t, err)
	assert.Equal(t, 15, updated.BreakMinutes)
}

func TestUpdateRejectsInvertedClockPair(t *testing.T) {
	svc, repo, workOrders, _, _, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusInProgress)

	out := testNow.Add(-time.Hour)
	entry := &TimeEntry{
		ID:          uuid.New(),
		WorkOrderID: wo.ID,
		ClockIn:     testNow.Add(-3 * time.Hour),
		ClockOut:    &out,
	}
	repo.entries[entry.ID] = entry

	_, err := svc.Update(ctx, entry.ID, UpdateTimeEntryRequest{ClockIn: ptr(testNow)}, nil)
	assert.True(t, shared.IsValidation(err))
}

func TestDeleteRunsMutabilityGuard(t *testing.T) {
	svc, repo, workOrders, guard, _, _ := newTestService()
	ctx := context.Background()
	wo := seedWorkOrder(workOrders, workorder.StatusClosed)

	entry := &TimeEntry{ID: uuid.New(), WorkOrderID: wo.ID, ClockIn: testNow}
	repo.entries[entry.ID] = entry

	guard.err = shared.ErrConflict
	err := svc.Delete(ctx, entry.ID, nil, nil)
	assert.ErrorIs(t, err, shared.ErrConflict)

	guard.err = nil
	require.NoError(t, svc.Delete(ctx, entry.ID, nil, ptr("admin correction")))
	_, err = svc.Get(ctx, entry.ID)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
