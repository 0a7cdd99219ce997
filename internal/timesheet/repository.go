package timesheet

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
)

// PostgresRepository provides pgx backed persistence for time entries.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const timeEntryColumns = `id, work_order_id, technician_id, clock_in, clock_out, break_minutes, hourly_rate, notes, created_at, updated_at`

func scanTimeEntry(row pgx.Row) (*TimeEntry, error) {
	var entry TimeEntry
	err := row.Scan(&entry.ID, &entry.WorkOrderID, &entry.TechnicianID, &entry.ClockIn, &entry.ClockOut, &entry.BreakMinutes, &entry.HourlyRate, &entry.Notes, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// Get loads a time entry by id.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*TimeEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = $1`, id)
	return scanTimeEntry(row)
}

// ListByWorkOrder returns all entries for a work order, oldest first.
func (r *PostgresRepository) ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]TimeEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE work_order_id = $1 ORDER BY clock_in ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []TimeEntry
	for rows.Next() {
		entry, err := scanTimeEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

// OpenEntryForTechnician returns the technician's open entry, or nil when
// none exists.
func (r *PostgresRepository) OpenEntryForTechnician(ctx context.Context, technicianID uuid.UUID) (*TimeEntry, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE technician_id = $1 AND clock_out IS NULL ORDER BY clock_in DESC LIMIT 1`, technicianID)
	entry, err := scanTimeEntry(row)
	if errors.Is(err, shared.ErrNotFound) {
		return nil, nil
	}
	return entry, err
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

func (t *txRepo) Insert(ctx context.Context, entry TimeEntry) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO time_entries (`+timeEntryColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		entry.ID, entry.WorkOrderID, entry.TechnicianID, entry.ClockIn, entry.ClockOut, entry.BreakMinutes, entry.HourlyRate, entry.Notes, entry.CreatedAt, entry.UpdatedAt)
	return err
}

// GetForUpdate locks the entry row for the duration of the transaction.
func (t *txRepo) GetForUpdate(ctx context.Context, id uuid.UUID) (*TimeEntry, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+timeEntryColumns+` FROM time_entries WHERE id = $1 FOR UPDATE`, id)
	return scanTimeEntry(row)
}

// WorkOrderForUpdate locks the owning work order row so entry writes
// serialise against status transitions.
func (t *txRepo) WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error) {
	return workorder.LockForPosting(ctx, t.tx, id)
}

func (t *txRepo) Update(ctx context.Context, entry TimeEntry) error {
	tag, err := t.tx.Exec(ctx, `UPDATE time_entries SET clock_in = $2, clock_out = $3, break_minutes = $4, notes = $5, updated_at = $6 WHERE id = $1`,
		entry.ID, entry.ClockIn, entry.ClockOut, entry.BreakMinutes, entry.Notes, entry.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (t *txRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM time_entries WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}
