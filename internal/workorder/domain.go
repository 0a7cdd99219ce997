package workorder

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status enumerates the work order lifecycle stages. The set is closed:
// every status entering the system passes through ParseStatus, so an
// unrecognised value is a construction-time failure rather than a silently
// dead state.
type Status string

const (
	StatusUnscheduled Status = "UNSCHEDULED"
	StatusScheduled   Status = "SCHEDULED"
	StatusInProgress  Status = "IN_PROGRESS"
	StatusCompleted   Status = "COMPLETED"
	StatusClosed      Status = "CLOSED"
	StatusCanceled    Status = "CANCELED"
)

// ParseStatus validates a status string against the closed status set.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusUnscheduled, StatusScheduled, StatusInProgress, StatusCompleted, StatusClosed, StatusCanceled:
		return Status(s), nil
	default:
		return "", fmt.Errorf("workorder: unknown status %q", s)
	}
}

// Terminal reports whether the status has no outgoing edges.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCanceled
}

// WorkOrder represents one field-service job tracked from intake to closure.
// ContractTotal is nil until a quote is accepted.
type WorkOrder struct {
	ID            uuid.UUID        `json:"id"`
	Number        string           `json:"number"`
	Status        Status           `json:"status"`
	CustomerID    uuid.UUID        `json:"customer_id"`
	LocationID    uuid.UUID        `json:"location_id"`
	AssignedTo    *uuid.UUID       `json:"assigned_to,omitempty"`
	ContractTotal *decimal.Decimal `json:"contract_total,omitempty"`
	Description   *string          `json:"description,omitempty"`
	CreatedBy     uuid.UUID        `json:"created_by"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// TransitionRecord describes one successful status transition. Every record
// is written to the audit trail with enough detail to reconstruct history.
type TransitionRecord struct {
	WorkOrderID uuid.UUID `json:"work_order_id"`
	From        Status    `json:"from"`
	To          Status    `json:"to"`
	At          time.Time `json:"at"`
	Reason      *string   `json:"reason,omitempty"`
}

// InvalidTransitionError indicates the requested (from, to) pair is not a
// declared edge, including same-status requests.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("workorder: invalid transition from %s to %s", e.From, e.To)
}

// CloseCheck is the result of the close-out gate: every failing precondition
// is listed so the caller can present a complete checklist in one pass.
type CloseCheck struct {
	CanClose  bool       `json:"can_close"`
	Issues    []string   `json:"issues"`
	WorkOrder *WorkOrder `json:"work_order"`
}

// CreateWorkOrderRequest captures validation rules for new work orders.
type CreateWorkOrderRequest struct {
	Number      string     `json:"number" validate:"required,max=50"`
	CustomerID  uuid.UUID  `json:"customer_id" validate:"required"`
	LocationID  uuid.UUID  `json:"location_id" validate:"required"`
	AssignedTo  *uuid.UUID `json:"assigned_to,omitempty"`
	Description *string    `json:"description,omitempty"`
}

// TransitionRequest is the payload for a status transition.
type TransitionRequest struct {
	To     string  `json:"to" validate:"required"`
	Reason *string `json:"reason,omitempty"`
}

// ListWorkOrdersRequest filters and paginates the work order list.
type ListWorkOrdersRequest struct {
	Status     *Status
	CustomerID *uuid.UUID
	Limit      int
	Offset     int
}
