package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskWorkOrderClosed notifies interested parties that a work order
	// reached CLOSED.
	TaskWorkOrderClosed = "workorder:closed"
	// TaskProfitSnapshot refreshes the overnight profitability snapshot.
	TaskProfitSnapshot = "costing:profit_snapshot"
	// TaskLaborPosting retries a labor cost posting that failed after a
	// clock-out committed.
	TaskLaborPosting = "timesheet:labor_posting"
)

// WorkOrderClosedPayload describes a completed close-out.
type WorkOrderClosedPayload struct {
	WorkOrderID string    `json:"work_order_id"`
	ClosedAt    time.Time `json:"closed_at"`
}

// NewWorkOrderClosedTask constructs an Asynq task for a close notification.
func NewWorkOrderClosedTask(payload WorkOrderClosedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskWorkOrderClosed, data), nil
}

// WorkOrderClosedJob handles close notifications.
type WorkOrderClosedJob struct {
	logger *slog.Logger
}

// NewWorkOrderClosedJob constructs the handler.
func NewWorkOrderClosedJob(logger *slog.Logger) *WorkOrderClosedJob {
	return &WorkOrderClosedJob{logger: logger}
}

// Handle processes TaskWorkOrderClosed tasks.
func (j *WorkOrderClosedJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload WorkOrderClosedPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder for the outbound notification integration; the accounting
	// sync adapter subscribes to the same event out of process.
	j.logger.Info("work order closed",
		slog.String("work_order_id", payload.WorkOrderID),
		slog.Time("closed_at", payload.ClosedAt))
	return nil
}

// LaborPostingPayload carries a labor posting that must reach the cost
// ledger. Decimal fields travel as strings so the queue never rounds them.
type LaborPostingPayload struct {
	TimeEntryID string    `json:"time_entry_id"`
	WorkOrderID string    `json:"work_order_id"`
	Hours       string    `json:"hours"`
	HourlyRate  string    `json:"hourly_rate"`
	TxnDate     time.Time `json:"txn_date"`
	CreatedBy   string    `json:"created_by"`
}

// LaborPoster is the slice of the costing service the posting retry needs.
type LaborPoster interface {
	PostLaborCost(ctx context.Context, workOrderID uuid.UUID, hours, rate decimal.Decimal, txnDate time.Time, createdBy uuid.UUID) error
}

// LaborPostingJob replays labor postings whose synchronous attempt failed
// after the clock-out had already committed.
type LaborPostingJob struct {
	poster LaborPoster
	logger *slog.Logger
}

// NewLaborPostingJob constructs the handler.
func NewLaborPostingJob(poster LaborPoster, logger *slog.Logger) *LaborPostingJob {
	return &LaborPostingJob{poster: poster, logger: logger}
}

// Handle processes TaskLaborPosting tasks. Malformed payloads are dropped;
// posting failures return the error so Asynq retries.
func (j *LaborPostingJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload LaborPostingPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	workOrderID, err := uuid.Parse(payload.WorkOrderID)
	if err != nil {
		return asynq.SkipRetry
	}
	createdBy, err := uuid.Parse(payload.CreatedBy)
	if err != nil {
		return asynq.SkipRetry
	}
	hours, err := decimal.NewFromString(payload.Hours)
	if err != nil {
		return asynq.SkipRetry
	}
	rate, err := decimal.NewFromString(payload.HourlyRate)
	if err != nil {
		return asynq.SkipRetry
	}
	if err := j.poster.PostLaborCost(ctx, workOrderID, hours, rate, payload.TxnDate, createdBy); err != nil {
		return err
	}
	j.logger.Info("labor posting replayed",
		slog.String("time_entry_id", payload.TimeEntryID),
		slog.String("work_order_id", payload.WorkOrderID))
	return nil
}

// ProfitSnapshotPayload selects which work orders to snapshot.
type ProfitSnapshotPayload struct {
	Scope string `json:"scope"`
}

// NewProfitSnapshotTask constructs the overnight snapshot task.
func NewProfitSnapshotTask(scope string) (*asynq.Task, error) {
	data, err := json.Marshal(ProfitSnapshotPayload{Scope: scope})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProfitSnapshot, data), nil
}

// ProfitSummarizer is the slice of the costing service the snapshot job
// needs. Declared here so jobs stays a leaf package.
type ProfitSummarizer interface {
	SnapshotActiveWorkOrders(ctx context.Context) (int, error)
}

// ProfitSnapshotJob refreshes cached profitability previews overnight.
type ProfitSnapshotJob struct {
	summarizer ProfitSummarizer
	logger     *slog.Logger
}

// NewProfitSnapshotJob constructs the handler.
func NewProfitSnapshotJob(summarizer ProfitSummarizer, logger *slog.Logger) *ProfitSnapshotJob {
	return &ProfitSnapshotJob{summarizer: summarizer, logger: logger}
}

// Handle processes TaskProfitSnapshot tasks.
func (j *ProfitSnapshotJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ProfitSnapshotPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	count, err := j.summarizer.SnapshotActiveWorkOrders(ctx)
	if err != nil {
		return err
	}
	j.logger.Info("profit snapshot refreshed", slog.Int("work_orders", count), slog.String("scope", payload.Scope))
	return nil
}
