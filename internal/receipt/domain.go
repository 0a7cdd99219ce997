package receipt

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt is a vendor receipt attached to a work order. Its total is always
// the sum of its line items; costs reference the receipt through line item
// allocations in the cost ledger.
type Receipt struct {
	ID          uuid.UUID       `json:"id"`
	WorkOrderID uuid.UUID       `json:"work_order_id"`
	VendorName  string          `json:"vendor_name"`
	ReceiptDate time.Time       `json:"receipt_date"`
	Total       decimal.Decimal `json:"total"`
	Memo        *string         `json:"memo,omitempty"`
	LineItems   []LineItem      `json:"line_items"`
	CreatedBy   uuid.UUID       `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// LineItem is one line of a receipt. Allocated is derived from the cost
// ledger, never stored.
type LineItem struct {
	ID          uuid.UUID       `json:"id"`
	ReceiptID   uuid.UUID       `json:"receipt_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Allocated   decimal.Decimal `json:"allocated"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Unallocated returns the amount still open for allocation on the line.
func (li *LineItem) Unallocated() decimal.Decimal {
	return li.Amount.Sub(li.Allocated)
}

// AllocationStatus summarises how much of a receipt the cost ledger has
// absorbed. A receipt with PendingTotal > 0 blocks work order close-out.
type AllocationStatus struct {
	ReceiptID      uuid.UUID       `json:"receipt_id"`
	Total          decimal.Decimal `json:"total"`
	AllocatedTotal decimal.Decimal `json:"allocated_total"`
	PendingTotal   decimal.Decimal `json:"pending_total"`
	FullyAllocated bool            `json:"fully_allocated"`
}

// CreateLineItemRequest is one line of a new receipt.
type CreateLineItemRequest struct {
	Description string `json:"description" validate:"required"`
	Amount      string `json:"amount" validate:"required"`
}

// CreateReceiptRequest captures validation rules for new receipts.
type CreateReceiptRequest struct {
	WorkOrderID uuid.UUID               `json:"work_order_id" validate:"required"`
	VendorName  string                  `json:"vendor_name" validate:"required"`
	ReceiptDate time.Time               `json:"receipt_date" validate:"required"`
	Memo        *string                 `json:"memo,omitempty"`
	LineItems   []CreateLineItemRequest `json:"line_items" validate:"required,min=1,dive"`
	AdminReason *string                 `json:"admin_reason,omitempty"`
}

// UpdateReceiptRequest carries header-level edits. Line items are immutable
// once allocations reference them; corrections are new receipts.
type UpdateReceiptRequest struct {
	VendorName  *string    `json:"vendor_name,omitempty"`
	ReceiptDate *time.Time `json:"receipt_date,omitempty"`
	Memo        *string    `json:"memo,omitempty"`
	AdminReason *string    `json:"admin_reason,omitempty"`
}
