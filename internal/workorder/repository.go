package workorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fieldserv/fieldserv/internal/shared"
)

// PostgresRepository provides pgx backed persistence for work orders.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const workOrderColumns = `id, number, status, customer_id, location_id, assigned_to, contract_total, description, created_by, created_at, updated_at`

func scanWorkOrder(row pgx.Row) (*WorkOrder, error) {
	var (
		wo     WorkOrder
		status string
		total  decimal.NullDecimal
	)
	err := row.Scan(&wo.ID, &wo.Number, &status, &wo.CustomerID, &wo.LocationID, &wo.AssignedTo, &total, &wo.Description, &wo.CreatedBy, &wo.CreatedAt, &wo.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	wo.Status, err = ParseStatus(status)
	if err != nil {
		return nil, err
	}
	if total.Valid {
		wo.ContractTotal = &total.Decimal
	}
	return &wo, nil
}

// Get loads a work order by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1`, id)
	return scanWorkOrder(row)
}

// List returns a filtered, paginated collection with the total match count.
func (r *PostgresRepository) List(ctx context.Context, req ListWorkOrdersRequest) ([]WorkOrder, int, error) {
	query := `SELECT ` + workOrderColumns + ` FROM work_orders WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM work_orders WHERE 1=1`
	var args []any
	if req.Status != nil {
		args = append(args, string(*req.Status))
		clause := fmt.Sprintf(" AND status = $%d", len(args))
		query += clause
		countQuery += clause
	}
	if req.CustomerID != nil {
		args = append(args, *req.CustomerID)
		clause := fmt.Sprintf(" AND customer_id = $%d", len(args))
		query += clause
		countQuery += clause
	}

	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))
	args = append(args, req.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	orders := make([]WorkOrder, 0, limit)
	for rows.Next() {
		wo, err := scanWorkOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, *wo)
	}
	return orders, total, rows.Err()
}

// CountOpenTimeEntries counts time entries missing a clock out.
func (r *PostgresRepository) CountOpenTimeEntries(ctx context.Context, workOrderID uuid.UUID) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM time_entries WHERE work_order_id = $1 AND clock_out IS NULL`, workOrderID).Scan(&count)
	return count, err
}

// CountUnallocatedReceipts counts receipts whose line items are not yet fully
// covered by cost entry allocations.
func (r *PostgresRepository) CountUnallocatedReceipts(ctx context.Context, workOrderID uuid.UUID) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM receipts r
		WHERE r.work_order_id = $1
		  AND (SELECT COALESCE(SUM(li.amount), 0) FROM receipt_line_items li WHERE li.receipt_id = r.id)
		    > (SELECT COALESCE(SUM(ce.amount), 0)
		       FROM cost_entries ce
		       JOIN receipt_line_items li ON ce.receipt_line_item_id = li.id
		       WHERE li.receipt_id = r.id)`
	var count int
	err := r.pool.QueryRow(ctx, query, workOrderID).Scan(&count)
	return count, err
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

func (t *txRepo) Create(ctx context.Context, wo WorkOrder) error {
	var total decimal.NullDecimal
	if wo.ContractTotal != nil {
		total = decimal.NullDecimal{Decimal: *wo.ContractTotal, Valid: true}
	}
	_, err := t.tx.Exec(ctx, `INSERT INTO work_orders (`+workOrderColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		wo.ID, wo.Number, string(wo.Status), wo.CustomerID, wo.LocationID, wo.AssignedTo, total, wo.Description, wo.CreatedBy, wo.CreatedAt, wo.UpdatedAt)
	return err
}

// GetForUpdate locks the work order row for the duration of the transaction.
func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+workOrderColumns+` FROM work_orders WHERE id = $1 FOR UPDATE`, id)
	return scanWorkOrder(row)
}

func (t *txRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_orders SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateAssignee(ctx context.Context, id uuid.UUID, technicianID *uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_orders SET assigned_to = $2, updated_at = NOW() WHERE id = $1`, id, technicianID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) UpdateContractTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE work_orders SET contract_total = $2, updated_at = NOW() WHERE id = $1`, id, total)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// RowQuerier is the subset of pgx.Tx that LockForPosting needs.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// LockForPosting locks a work order row inside the caller's transaction and
// returns the fields the mutability guard reads. Cost, time entry, and
// receipt writes lock the owning work order this way so a concurrent CLOSED
// transition cannot commit between the guard check and the write.
func LockForPosting(ctx context.Context, q RowQuerier, id uuid.UUID) (*WorkOrder, error) {
	var (
		wo     WorkOrder
		status string
	)
	err := q.QueryRow(ctx, `SELECT id, number, status FROM work_orders WHERE id = $1 FOR UPDATE`, id).Scan(&wo.ID, &wo.Number, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	wo.Status, err = ParseStatus(status)
	if err != nil {
		return nil, err
	}
	return &wo, nil
}
