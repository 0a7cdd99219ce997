package receipt

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
)

// PostgresRepository provides pgx backed persistence for receipts.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const receiptColumns = `id, work_order_id, vendor_name, receipt_date, total, memo, created_by, created_at, updated_at`

// lineItemQuery joins each line with the sum of cost entries allocated
// against it.
const lineItemQuery = `
	SELECT li.id, li.receipt_id, li.description, li.amount,
	       COALESCE((SELECT SUM(ce.amount) FROM cost_entries ce WHERE ce.receipt_line_item_id = li.id), 0),
	       li.created_at
	FROM receipt_line_items li
	WHERE li.receipt_id = $1
	ORDER BY li.created_at ASC`

func scanReceipt(row pgx.Row) (*Receipt, error) {
	var rec Receipt
	err := row.Scan(&rec.ID, &rec.WorkOrderID, &rec.VendorName, &rec.ReceiptDate, &rec.Total, &rec.Memo, &rec.CreatedBy, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (r *PostgresRepository) loadLineItems(ctx context.Context, receiptID uuid.UUID) ([]LineItem, error) {
	rows, err := r.pool.Query(ctx, lineItemQuery, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var li LineItem
		if err := rows.Scan(&li.ID, &li.ReceiptID, &li.Description, &li.Amount, &li.Allocated, &li.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, li)
	}
	return items, rows.Err()
}

// Get loads a receipt with line items and their allocated amounts.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	rec, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	rec.LineItems, err = r.loadLineItems(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByWorkOrder returns a work order's receipts, newest first, with line
// items attached.
func (r *PostgresRepository) ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]Receipt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE work_order_id = $1 ORDER BY receipt_date DESC, created_at DESC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receipts []Receipt
	for rows.Next() {
		rec, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range receipts {
		receipts[i].LineItems, err = r.loadLineItems(ctx, receipts[i].ID)
		if err != nil {
			return nil, err
		}
	}
	return receipts, nil
}

// AllocationStatus aggregates line totals against allocated cost entries.
func (r *PostgresRepository) AllocationStatus(ctx context.Context, receiptID uuid.UUID) (*AllocationStatus, error) {
	const query = `
		SELECT COALESCE(SUM(li.amount), 0),
		       COALESCE((SELECT SUM(ce.amount)
		                 FROM cost_entries ce
		                 JOIN receipt_line_items l ON ce.receipt_line_item_id = l.id
		                 WHERE l.receipt_id = $1), 0)
		FROM receipt_line_items li
		WHERE li.receipt_id = $1`
	status := AllocationStatus{ReceiptID: receiptID}
	if err := r.pool.QueryRow(ctx, query, receiptID).Scan(&status.Total, &status.AllocatedTotal); err != nil {
		return nil, err
	}
	status.PendingTotal = status.Total.Sub(status.AllocatedTotal)
	status.FullyAllocated = !status.PendingTotal.IsPositive()
	return &status, nil
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

func (t *txRepo) Insert(ctx context.Context, rec Receipt) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO receipts (`+receiptColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		rec.ID, rec.WorkOrderID, rec.VendorName, rec.ReceiptDate, rec.Total, rec.Memo, rec.CreatedBy, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return err
	}
	for _, li := range rec.LineItems {
		_, err := t.tx.Exec(ctx, `INSERT INTO receipt_line_items (id, receipt_id, description, amount, created_at) VALUES ($1, $2, $3, $4, $5)`,
			li.ID, li.ReceiptID, li.Description, li.Amount, li.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) UpdateHeader(ctx context.Context, rec Receipt) error {
	tag, err := t.tx.Exec(ctx, `UPDATE receipts SET vendor_name = $2, receipt_date = $3, memo = $4, updated_at = $5 WHERE id = $1`,
		rec.ID, rec.VendorName, rec.ReceiptDate, rec.Memo, rec.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM receipt_line_items WHERE receipt_id = $1`, id); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `DELETE FROM receipts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

// WorkOrderForUpdate locks the owning work order row so receipt writes
// serialise against status transitions.
func (t *txRepo) WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error) {
	return workorder.LockForPosting(ctx, t.tx, id)
}

// CountAllocations counts cost entries referencing the receipt's line items.
func (t *txRepo) CountAllocations(ctx context.Context, receiptID uuid.UUID) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM cost_entries ce
		JOIN receipt_line_items li ON ce.receipt_line_item_id = li.id
		WHERE li.receipt_id = $1`
	var count int
	err := t.tx.QueryRow(ctx, query, receiptID).Scan(&count)
	return count, err
}
