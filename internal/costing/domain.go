package costing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bucket is a closed cost category. Every bucket entering the system passes
// through ParseBucket, so an unrecognised value fails at construction time
// instead of silently contributing to no total.
type Bucket string

const (
	BucketLabor     Bucket = "LABOR"
	BucketMaterial  Bucket = "MATERIAL"
	BucketEquipment Bucket = "EQUIPMENT"
	BucketSub       Bucket = "SUB"
	BucketOverhead  Bucket = "OVERHEAD"
	BucketOther     Bucket = "OTHER"
)

// Buckets lists every cost category in reporting order.
func Buckets() []Bucket {
	return []Bucket{BucketLabor, BucketMaterial, BucketEquipment, BucketSub, BucketOverhead, BucketOther}
}

// ParseBucket validates a bucket string against the closed bucket set.
func ParseBucket(s string) (Bucket, error) {
	switch Bucket(s) {
	case BucketLabor, BucketMaterial, BucketEquipment, BucketSub, BucketOverhead, BucketOther:
		return Bucket(s), nil
	default:
		return "", fmt.Errorf("costing: unknown bucket %q", s)
	}
}

// Origin describes where a cost posting came from.
type Origin string

const (
	OriginEstimate Origin = "ESTIMATE"
	OriginInternal Origin = "INTERNAL"
	OriginSynced   Origin = "SYNCED"
)

// ParseOrigin validates an origin string.
func ParseOrigin(s string) (Origin, error) {
	switch Origin(s) {
	case OriginEstimate, OriginInternal, OriginSynced:
		return Origin(s), nil
	default:
		return "", fmt.Errorf("costing: unknown origin %q", s)
	}
}

// CostEntry is one line of actual cost attributed to a work order or a
// project, never both. Amount is always recomputed from quantity and unit
// cost at write time, never trusted from caller input.
type CostEntry struct {
	ID                uuid.UUID       `json:"id"`
	WorkOrderID       *uuid.UUID      `json:"work_order_id,omitempty"`
	ProjectID         *uuid.UUID      `json:"project_id,omitempty"`
	Bucket            Bucket          `json:"bucket"`
	Origin            Origin          `json:"origin"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitCost          decimal.Decimal `json:"unit_cost"`
	Amount            decimal.Decimal `json:"amount"`
	TxnDate           time.Time       `json:"txn_date"`
	ReceiptID         *uuid.UUID      `json:"receipt_id,omitempty"`
	ReceiptLineItemID *uuid.UUID      `json:"receipt_line_item_id,omitempty"`
	Memo              *string         `json:"memo,omitempty"`
	CreatedBy         uuid.UUID       `json:"created_by"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// ComputeAmount applies the currency policy: round(qty * unit_cost, 2),
// half up to the cent.
func ComputeAmount(quantity, unitCost decimal.Decimal) decimal.Decimal {
	return quantity.Mul(unitCost).Round(2)
}

// LedgerTotals aggregates cost postings into the named buckets plus a grand
// total.
type LedgerTotals struct {
	Labor     decimal.Decimal `json:"LABOR"`
	Material  decimal.Decimal `json:"MATERIAL"`
	Equipment decimal.Decimal `json:"EQUIPMENT"`
	Sub       decimal.Decimal `json:"SUB"`
	Overhead  decimal.Decimal `json:"OVERHEAD"`
	Other     decimal.Decimal `json:"OTHER"`
	Total     decimal.Decimal `json:"total"`
}

// MarginStatus classifies profitability.
type MarginStatus string

const (
	MarginNegative MarginStatus = "negative"
	MarginLow      MarginStatus = "low"
	MarginPositive MarginStatus = "positive"
)

// Reconciliation is the authoritative post-close cost view of a work order.
type Reconciliation struct {
	WorkOrderID     uuid.UUID       `json:"work_order_id"`
	WorkOrderNumber string          `json:"work_order_number"`
	ContractTotal   decimal.Decimal `json:"contract_total"`
	ActualCosts     LedgerTotals    `json:"actual_costs"`
	EstimatedMargin decimal.Decimal `json:"estimated_margin"`
	MarginPct       float64         `json:"margin_pct"`
	MarginStatus    MarginStatus    `json:"margin_status"`
	Warnings        []string        `json:"warnings"`
}

// ProfitPreview is the advisory pre-close variant of the reconciliation.
// IsEstimate is true whenever the work order is not yet CLOSED.
type ProfitPreview struct {
	WorkOrderID  uuid.UUID       `json:"work_order_id"`
	Revenue      decimal.Decimal `json:"revenue"`
	Cost         decimal.Decimal `json:"cost"`
	Profit       decimal.Decimal `json:"profit"`
	MarginPct    float64         `json:"margin_pct"`
	MarginStatus MarginStatus    `json:"margin_status"`
	IsEstimate   bool            `json:"is_estimate"`
	Warnings     []string        `json:"warnings"`
}

// ProfitSummary folds previews across many work orders.
type ProfitSummary struct {
	TotalRevenue     decimal.Decimal `json:"total_revenue"`
	TotalCost        decimal.Decimal `json:"total_cost"`
	TotalProfit      decimal.Decimal `json:"total_profit"`
	AverageMarginPct float64         `json:"average_margin_pct"`
	ProfitableCount  int             `json:"profitable_count"`
	LossCount        int             `json:"loss_count"`
}

// AllocationCheck reports whether a proposed allocation fits in a receipt
// line item's remaining unallocated amount.
type AllocationCheck struct {
	Valid            bool            `json:"valid"`
	UnallocatedTotal decimal.Decimal `json:"unallocated_total"`
	Error            string          `json:"error,omitempty"`
}

// CreateCostEntryRequest captures validation rules for new cost postings.
// Exactly one of WorkOrderID and ProjectID must be set.
type CreateCostEntryRequest struct {
	WorkOrderID       *uuid.UUID `json:"work_order_id,omitempty"`
	ProjectID         *uuid.UUID `json:"project_id,omitempty"`
	Bucket            string     `json:"bucket" validate:"required"`
	Origin            string     `json:"origin" validate:"required"`
	Quantity          string     `json:"quantity" validate:"required"`
	UnitCost          string     `json:"unit_cost" validate:"required"`
	TxnDate           time.Time  `json:"txn_date" validate:"required"`
	ReceiptID         *uuid.UUID `json:"receipt_id,omitempty"`
	ReceiptLineItemID *uuid.UUID `json:"receipt_line_item_id,omitempty"`
	Memo              *string    `json:"memo,omitempty"`
	AdminReason       *string    `json:"admin_reason,omitempty"`
}

// UpdateCostEntryRequest carries partial updates to a cost posting.
type UpdateCostEntryRequest struct {
	Bucket      *string    `json:"bucket,omitempty"`
	Quantity    *string    `json:"quantity,omitempty"`
	UnitCost    *string    `json:"unit_cost,omitempty"`
	TxnDate     *time.Time `json:"txn_date,omitempty"`
	Memo        *string    `json:"memo,omitempty"`
	AdminReason *string    `json:"admin_reason,omitempty"`
}
