package costing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
)

// PostgresRepository provides pgx backed persistence for cost postings.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const costEntryColumns = `id, work_order_id, project_id, bucket, origin, quantity, unit_cost, amount, txn_date, receipt_id, receipt_line_item_id, memo, created_by, created_at, updated_at`

func scanCostEntry(row pgx.Row) (*CostEntry, error) {
	var (
		entry  CostEntry
		bucket string
		origin string
	)
	err := row.Scan(&entry.ID, &entry.WorkOrderID, &entry.ProjectID, &bucket, &origin, &entry.Quantity, &entry.UnitCost, &entry.Amount, &entry.TxnDate, &entry.ReceiptID, &entry.ReceiptLineItemID, &entry.Memo, &entry.CreatedBy, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	if entry.Bucket, err = ParseBucket(bucket); err != nil {
		return nil, err
	}
	if entry.Origin, err = ParseOrigin(origin); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Get loads a cost entry by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*CostEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+costEntryColumns+` FROM cost_entries WHERE id = $1`, id)
	return scanCostEntry(row)
}

// ListByWorkOrder returns every cost posting attributed to the work order.
func (r *PostgresRepository) ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]CostEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+costEntryColumns+` FROM cost_entries WHERE work_order_id = $1 ORDER BY txn_date, created_at`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []CostEntry
	for rows.Next() {
		entry, err := scanCostEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// LineItemAllocation reads a line item's total and the sum of cost entry
// amounts already allocated against it.
func (r *PostgresRepository) LineItemAllocation(ctx context.Context, lineItemID uuid.UUID) (lineTotal, allocated decimal.Decimal, err error) {
	return lineItemAllocation(ctx, r.pool, lineItemID, nil, false)
}

// ActiveWorkOrderIDs lists work orders in a non-terminal status, for the
// overnight profitability snapshot.
func (r *PostgresRepository) ActiveWorkOrderIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM work_orders WHERE status NOT IN ('CLOSED', 'CANCELED')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *PostgresRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) Insert(ctx context.Context, entry CostEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO cost_entries (`+costEntryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		entry.ID, entry.WorkOrderID, entry.ProjectID, string(entry.Bucket), string(entry.Origin), entry.Quantity, entry.UnitCost, entry.Amount, entry.TxnDate, entry.ReceiptID, entry.ReceiptLineItemID, entry.Memo, entry.CreatedBy, entry.CreatedAt, entry.UpdatedAt)
	return err
}

func (t *txRepo) Update(ctx context.Context, entry CostEntry) error {
	tag, err := t.tx.Exec(ctx, `UPDATE cost_entries SET bucket = $2, quantity = $3, unit_cost = $4, amount = $5, txn_date = $6, memo = $7, updated_at = NOW() WHERE id = $1`,
		entry.ID, string(entry.Bucket), entry.Quantity, entry.UnitCost, entry.Amount, entry.TxnDate, entry.Memo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM cost_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// WorkOrderForUpdate locks the owning work order row for the duration of
// the transaction, serialising postings against status transitions.
func (t *txRepo) WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error) {
	return workorder.LockForPosting(ctx, t.tx, id)
}

// LineItemAllocationForUpdate locks the line item row so the allocation
// check and the subsequent insert serialise per line item. excludeEntryID
// leaves an entry's own amount out of the allocated sum on updates.
func (t *txRepo) LineItemAllocationForUpdate(ctx context.Context, lineItemID uuid.UUID, excludeEntryID *uuid.UUID) (lineTotal, allocated decimal.Decimal, err error) {
	return lineItemAllocation(ctx, t.tx, lineItemID, excludeEntryID, true)
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func lineItemAllocation(ctx context.Context, q queryer, lineItemID uuid.UUID, excludeEntryID *uuid.UUID, forUpdate bool) (lineTotal, allocated decimal.Decimal, err error) {
	query := `SELECT amount FROM receipt_line_items WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	if err = q.QueryRow(ctx, query, lineItemID).Scan(&lineTotal); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = shared.ErrNotFound
		}
		return
	}

	sumQuery := `SELECT COALESCE(SUM(amount), 0) FROM cost_entries WHERE receipt_line_item_id = $1`
	args := []any{lineItemID}
	if excludeEntryID != nil {
		sumQuery += ` AND id <> $2`
		args = append(args, *excludeEntryID)
	}
	err = q.QueryRow(ctx, sumQuery, args...).Scan(&allocated)
	return
}
