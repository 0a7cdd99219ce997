package timesheet

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
	"github.com/fieldserv/fieldserv/jobs"
)

// Repository abstracts time entry persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*TimeEntry, error)
	ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]TimeEntry, error)
	OpenEntryForTechnician(ctx context.Context, technicianID uuid.UUID) (*TimeEntry, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. GetForUpdate locks the
// entry row so a concurrent double clock-out cannot post labor twice;
// WorkOrderForUpdate locks the owning work order so edits cannot straddle a
// concurrent CLOSED transition.
type TxRepository interface {
	Insert(ctx context.Context, entry TimeEntry) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*TimeEntry, error)
	WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error)
	Update(ctx context.Context, entry TimeEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// MutabilityGuard blocks edits on a closed work order unless an
// administrator supplies a reason. The work order passed in must be locked
// by the caller's transaction.
type MutabilityGuard interface {
	EnsureMutable(ctx context.Context, wo *workorder.WorkOrder, actor *shared.Actor, reason *string) error
}

// LaborPoster records a labor cost posting when an entry completes.
// Implemented by the costing service.
type LaborPoster interface {
	PostLaborCost(ctx context.Context, workOrderID uuid.UUID, hours, rate decimal.Decimal, txnDate time.Time, createdBy uuid.UUID) error
}

// Service manages technician time entries and the labor posting that a
// clock-out produces.
type Service struct {
	repo       Repository
	guard      MutabilityGuard
	labor      LaborPoster
	dispatcher jobs.Dispatcher
	audit      *shared.AuditLogger
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a timesheet service.
func NewService(repo Repository, guard MutabilityGuard, labor LaborPoster, dispatcher jobs.Dispatcher, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		guard:      guard,
		labor:      labor,
		dispatcher: dispatcher,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ClockIn opens a time entry. A technician may hold at most one open entry
// at a time, and the work order must still be workable.
func (s *Service) ClockIn(ctx context.Context, req ClockInRequest, actor *shared.Actor) (*TimeEntry, error) {
	rate, err := decimal.NewFromString(req.HourlyRate)
	if err != nil {
		return nil, shared.NewValidationError("Invalid hourly rate")
	}
	if rate.IsNegative() {
		return nil, shared.NewValidationError("Hourly rate must not be negative")
	}

	if open, err := s.repo.OpenEntryForTechnician(ctx, req.TechnicianID); err != nil {
		return nil, err
	} else if open != nil {
		return nil, shared.NewValidationError("Technician already has an open time entry")
	}

	clockIn := s.now()
	if req.ClockIn != nil {
		clockIn = *req.ClockIn
	}
	entry := TimeEntry{
		ID:           uuid.New(),
		WorkOrderID:  req.WorkOrderID,
		TechnicianID: req.TechnicianID,
		ClockIn:      clockIn,
		HourlyRate:   rate,
		Notes:        req.Notes,
		CreatedAt:    s.now(),
		UpdatedAt:    s.now(),
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.WorkOrderForUpdate(ctx, req.WorkOrderID)
		if err != nil {
			return err
		}
		if wo.Status.Terminal() {
			return fmt.Errorf("%w: work order %s is %s", shared.ErrConflict, wo.Number, wo.Status)
		}
		return tx.Insert(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "timeentry.clock_in", &entry, actor, nil)
	return &entry, nil
}

// ClockOut completes an open entry and posts the resulting labor cost to
// the ledger. The entry row stays locked across the update so a concurrent
// clock-out cannot post twice.
func (s *Service) ClockOut(ctx context.Context, id uuid.UUID, req ClockOutRequest, actor *shared.Actor) (*TimeEntry, error) {
	clockOut := s.now()
	if req.ClockOut != nil {
		clockOut = *req.ClockOut
	}

	var entry *TimeEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !entry.Open() {
			return fmt.Errorf("%w: time entry %s is already clocked out", shared.ErrConflict, entry.ID)
		}
		if !clockOut.After(entry.ClockIn) {
			return shared.NewValidationError("Clock out must be after clock in")
		}
		entry.ClockOut = &clockOut
		entry.BreakMinutes = req.BreakMinutes
		if req.Notes != nil {
			entry.Notes = req.Notes
		}
		entry.UpdatedAt = s.now()
		return tx.Update(ctx, *entry)
	})
	if err != nil {
		return nil, err
	}

	var createdBy uuid.UUID
	if actor != nil {
		createdBy = actor.ID
	}
	if hours := entry.Hours(); hours.IsPositive() {
		if err := s.labor.PostLaborCost(ctx, entry.WorkOrderID, hours, entry.HourlyRate, clockOut, createdBy); err != nil {
			s.logger.Error("post labor cost, requeueing",
				slog.String("time_entry_id", entry.ID.String()),
				slog.Any("error", err))
			s.requeueLaborPosting(ctx, entry, hours, clockOut, createdBy)
		}
	}
	s.recordAudit(ctx, "timeentry.clock_out", entry, actor, map[string]any{
		"hours": entry.Hours().StringFixed(2),
	})
	return entry, nil
}

// Get loads one time entry.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*TimeEntry, error) {
	return s.repo.Get(ctx, id)
}

// ListByWorkOrder returns all entries against a work order.
func (s *Service) ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]TimeEntry, error) {
	return s.repo.ListByWorkOrder(ctx, workOrderID)
}

// Update edits a completed entry under the mutability guard. Labor already
// posted is not retroactively adjusted here; corrections go through the
// cost ledger.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateTimeEntryRequest, actor *shared.Actor) (*TimeEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.ClockIn != nil {
		entry.ClockIn = *req.ClockIn
	}
	if req.ClockOut != nil {
		entry.ClockOut = req.ClockOut
	}
	if req.BreakMinutes != nil {
		if *req.BreakMinutes < 0 {
			return nil, shared.NewValidationError("Break minutes must not be negative")
		}
		entry.BreakMinutes = *req.BreakMinutes
	}
	if req.Notes != nil {
		entry.Notes = req.Notes
	}
	if entry.ClockOut != nil && !entry.ClockOut.After(entry.ClockIn) {
		return nil, shared.NewValidationError("Clock out must be after clock in")
	}
	entry.UpdatedAt = s.now()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetForUpdate(ctx, id); err != nil {
			return err
		}
		wo, err := tx.WorkOrderForUpdate(ctx, entry.WorkOrderID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureMutable(ctx, wo, actor, req.AdminReason); err != nil {
			return err
		}
		return tx.Update(ctx, *entry)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "timeentry.update", entry, actor, nil)
	return entry, nil
}

// Delete removes a time entry under the mutability guard.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor *shared.Actor, adminReason *string) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.WorkOrderForUpdate(ctx, entry.WorkOrderID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureMutable(ctx, wo, actor, adminReason); err != nil {
			return err
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "timeentry.delete", entry, actor, nil)
	return nil
}

// requeueLaborPosting hands a failed labor posting to the background queue
// so the worker retries it instead of the hours silently never reaching the
// ledger.
func (s *Service) requeueLaborPosting(ctx context.Context, entry *TimeEntry, hours decimal.Decimal, txnDate time.Time, createdBy uuid.UUID) {
	if s.dispatcher == nil {
		return
	}
	payload := jobs.LaborPostingPayload{
		TimeEntryID: entry.ID.String(),
		WorkOrderID: entry.WorkOrderID.String(),
		Hours:       hours.String(),
		HourlyRate:  entry.HourlyRate.String(),
		TxnDate:     txnDate,
		CreatedBy:   createdBy.String(),
	}
	if err := s.dispatcher.Dispatch(ctx, jobs.TaskLaborPosting, payload); err != nil {
		s.logger.Error("dispatch labor posting",
			slog.String("time_entry_id", entry.ID.String()),
			slog.Any("error", err))
	}
}

func (s *Service) recordAudit(ctx context.Context, action string, entry *TimeEntry, actor *shared.Actor, meta map[string]any) {
	if meta == nil {
		meta = map[string]any{}
	}
	meta["work_order_id"] = entry.WorkOrderID.String()
	log := shared.AuditLog{
		Action:   action,
		Entity:   "time_entry",
		EntityID: entry.ID.String(),
		Meta:     meta,
		At:       s.now(),
	}
	if actor != nil {
		log.ActorID = actor.ID
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit time entry", slog.String("action", action), slog.Any("error", err))
	}
}
