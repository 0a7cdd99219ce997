package workorder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fieldserv/fieldserv/internal/rbac"
	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/jobs"
)

// Repository abstracts work order persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*WorkOrder, error)
	List(ctx context.Context, req ListWorkOrdersRequest) ([]WorkOrder, int, error)
	CountOpenTimeEntries(ctx context.Context, workOrderID uuid.UUID) (int, error)
	CountUnallocatedReceipts(ctx context.Context, workOrderID uuid.UUID) (int, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. GetForUpdate locks the work
// order row so validate-then-write sequences are serialised per work order.
type TxRepository interface {
	Create(ctx context.Context, wo WorkOrder) error
	GetForUpdate(ctx context.Context, id uuid.UUID) (*WorkOrder, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error
	UpdateAssignee(ctx context.Context, id uuid.UUID, technicianID *uuid.UUID) error
	UpdateContractTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) error
}

// Service orchestrates the work order lifecycle: status transitions, the
// close-out gate, and the mutability guard for financial records.
type Service struct {
	repo       Repository
	audit      *shared.AuditLogger
	dispatcher jobs.Dispatcher
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a Service instance.
func NewService(repo Repository, audit *shared.AuditLogger, dispatcher jobs.Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		audit:      audit,
		dispatcher: dispatcher,
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

// Create inserts a new work order in UNSCHEDULED.
func (s *Service) Create(ctx context.Context, req CreateWorkOrderRequest, createdBy uuid.UUID) (*WorkOrder, error) {
	wo := WorkOrder{
		ID:          uuid.New(),
		Number:      req.Number,
		Status:      StatusUnscheduled,
		CustomerID:  req.CustomerID,
		LocationID:  req.LocationID,
		AssignedTo:  req.AssignedTo,
		Description: req.Description,
		CreatedBy:   createdBy,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Create(ctx, wo)
	})
	if err != nil {
		return nil, fmt.Errorf("create work order: %w", err)
	}
	return &wo, nil
}

// Get loads a single work order.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*WorkOrder, error) {
	return s.repo.Get(ctx, id)
}

// List returns a filtered, paginated work order collection.
func (s *Service) List(ctx context.Context, req ListWorkOrdersRequest) ([]WorkOrder, int, error) {
	return s.repo.List(ctx, req)
}

// AssignTechnician sets or clears the assigned technician. Only meaningful
// before scheduling; later reassignments go through dispatch tooling outside
// this service.
func (s *Service) AssignTechnician(ctx context.Context, id uuid.UUID, technicianID *uuid.UUID) (*WorkOrder, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status.Terminal() {
			return fmt.Errorf("%w: work order %s is %s", shared.ErrConflict, wo.Number, wo.Status)
		}
		return tx.UpdateAssignee(ctx, id, technicianID)
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// SetContractTotal records the accepted-quote revenue figure.
func (s *Service) SetContractTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) (*WorkOrder, error) {
	if total.IsNegative() {
		return nil, shared.NewValidationError("Contract total cannot be negative")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if wo.Status == StatusClosed {
			return fmt.Errorf("%w: work order %s is closed", shared.ErrConflict, wo.Number)
		}
		return tx.UpdateContractTotal(ctx, id, total.Round(2))
	})
	if err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, id)
}

// Transition executes a single status transition. The edge lookup, reason
// requirement, edge validator, and status write all run inside one
// transaction holding the work order row lock, so either the full chain
// passes and the status is updated, or nothing is persisted.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, reason *string) (*TransitionRecord, error) {
	var record *TransitionRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		rule, ok := LookupRule(wo.Status, to)
		if !ok {
			return &InvalidTransitionError{From: wo.Status, To: to}
		}
		if rule.RequireReason && (reason == nil || *reason == "") {
			return shared.NewValidationError(fmt.Sprintf("A reason is required to move a work order to %s", to))
		}
		if rule.Validate != nil {
			if issues := rule.Validate(wo); len(issues) > 0 {
				return shared.NewValidationError(issues...)
			}
		}
		if err := tx.UpdateStatus(ctx, id, to); err != nil {
			return err
		}
		record = &TransitionRecord{
			WorkOrderID: id,
			From:        wo.Status,
			To:          to,
			At:          s.now(),
			Reason:      reason,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordTransition(ctx, record)
	if to == StatusClosed && s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, jobs.TaskWorkOrderClosed, jobs.WorkOrderClosedPayload{WorkOrderID: record.WorkOrderID.String(), ClosedAt: record.At}); err != nil {
			s.logger.Warn("dispatch close notification", slog.Any("error", err))
		}
	}
	return record, nil
}

// ValidateClose is the read-only close-out gate run before requesting the
// CLOSED transition. The three fetches are independent and issue
// concurrently; every failing precondition appears in Issues together.
func (s *Service) ValidateClose(ctx context.Context, id uuid.UUID) (*CloseCheck, error) {
	var (
		wo           *WorkOrder
		openEntries  int
		openReceipts int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wo, err = s.repo.Get(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		openEntries, err = s.repo.CountOpenTimeEntries(gctx, id)
		return err
	})
	g.Go(func() error {
		var err error
		openReceipts, err = s.repo.CountUnallocatedReceipts(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var issues []string
	if wo.Status != StatusCompleted {
		issues = append(issues, "Work order must be COMPLETED before closing")
	}
	if openEntries > 0 {
		issues = append(issues, fmt.Sprintf("%d open time entries (missing clock out)", openEntries))
	}
	if openReceipts > 0 {
		issues = append(issues, fmt.Sprintf("%d unallocated receipts", openReceipts))
	}
	return &CloseCheck{
		CanClose:  len(issues) == 0,
		Issues:    issues,
		WorkOrder: wo,
	}, nil
}

// EnsureMutable guards edits to cost and time records. The caller passes a
// work order row it holds locked in its own transaction, so the status read
// here cannot go stale against a concurrent CLOSED transition. Records on a
// closed work order are immutable unless the actor is an administrator
// supplying a reason, in which case the override is written to the audit
// trail.
func (s *Service) EnsureMutable(ctx context.Context, wo *WorkOrder, actor *shared.Actor, reason *string) error {
	if wo.Status != StatusClosed {
		return nil
	}
	if actor == nil || rbac.Role(actor.Role) != rbac.RoleAdmin {
		return fmt.Errorf("%w: work order %s is closed", shared.ErrConflict, wo.Number)
	}
	if reason == nil || *reason == "" {
		return shared.NewValidationError("Admin override reason is required to edit a closed work order")
	}
	s.recordOverride(ctx, wo, actor, *reason)
	return nil
}

// recordTransition audit-logs a successful transition, log-and-continue.
func (s *Service) recordTransition(ctx context.Context, record *TransitionRecord) {
	meta := map[string]any{
		"from": string(record.From),
		"to":   string(record.To),
	}
	if record.Reason != nil {
		meta["reason"] = *record.Reason
	}
	log := shared.AuditLog{
		Action:   "workorder.transition",
		Entity:   "work_order",
		EntityID: record.WorkOrderID.String(),
		Meta:     meta,
		At:       record.At,
	}
	if actor := shared.ActorFromContext(ctx); actor != nil {
		log.ActorID = actor.ID
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit transition", slog.Any("error", err))
	}
}

func (s *Service) recordOverride(ctx context.Context, wo *WorkOrder, actor *shared.Actor, reason string) {
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   "workorder.admin_override",
		Entity:   "work_order",
		EntityID: wo.ID.String(),
		Meta: map[string]any{
			"number": wo.Number,
			"reason": reason,
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.Warn("audit admin override", slog.Any("error", err))
	}
}

// IsInvalidTransition reports whether err is an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var ite *InvalidTransitionError
	return errors.As(err, &ite)
}
