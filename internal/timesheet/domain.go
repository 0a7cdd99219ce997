package timesheet

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TimeEntry is a technician's clock-in/clock-out pair against a work order.
// An entry with a nil ClockOut is open; open entries block work order
// close-out.
type TimeEntry struct {
	ID           uuid.UUID       `json:"id"`
	WorkOrderID  uuid.UUID       `json:"work_order_id"`
	TechnicianID uuid.UUID       `json:"technician_id"`
	ClockIn      time.Time       `json:"clock_in"`
	ClockOut     *time.Time      `json:"clock_out,omitempty"`
	BreakMinutes int             `json:"break_minutes"`
	HourlyRate   decimal.Decimal `json:"hourly_rate"`
	Notes        *string         `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Open reports whether the entry is still missing a clock out.
func (e *TimeEntry) Open() bool {
	return e.ClockOut == nil
}

// Hours returns worked hours: clocked duration minus break, floored at
// zero, rounded to two decimals. Zero while the entry is open.
func (e *TimeEntry) Hours() decimal.Decimal {
	if e.ClockOut == nil {
		return decimal.Zero
	}
	worked := e.ClockOut.Sub(e.ClockIn) - time.Duration(e.BreakMinutes)*time.Minute
	if worked < 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(worked.Hours()).Round(2)
}

// ClockInRequest starts a time entry.
type ClockInRequest struct {
	WorkOrderID  uuid.UUID  `json:"work_order_id" validate:"required"`
	TechnicianID uuid.UUID  `json:"technician_id" validate:"required"`
	ClockIn      *time.Time `json:"clock_in,omitempty"`
	HourlyRate   string     `json:"hourly_rate" validate:"required"`
	Notes        *string    `json:"notes,omitempty"`
}

// ClockOutRequest completes an open time entry.
type ClockOutRequest struct {
	ClockOut     *time.Time `json:"clock_out,omitempty"`
	BreakMinutes int        `json:"break_minutes" validate:"gte=0"`
	Notes        *string    `json:"notes,omitempty"`
}

// UpdateTimeEntryRequest edits a completed entry. Passing through the
// mutability guard requires AdminReason once the work order is closed.
type UpdateTimeEntryRequest struct {
	ClockIn      *time.Time `json:"clock_in,omitempty"`
	ClockOut     *time.Time `json:"clock_out,omitempty"`
	BreakMinutes *int       `json:"break_minutes,omitempty"`
	Notes        *string    `json:"notes,omitempty"`
	AdminReason  *string    `json:"admin_reason,omitempty"`
}
