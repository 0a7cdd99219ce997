package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
)

// Repository abstracts receipt persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*Receipt, error)
	ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]Receipt, error)
	AllocationStatus(ctx context.Context, receiptID uuid.UUID) (*AllocationStatus, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. WorkOrderForUpdate locks
// the owning work order row so receipt writes cannot straddle a concurrent
// CLOSED transition.
type TxRepository interface {
	Insert(ctx context.Context, rec Receipt) error
	UpdateHeader(ctx context.Context, rec Receipt) error
	Delete(ctx context.Context, id uuid.UUID) error
	WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error)
	CountAllocations(ctx context.Context, receiptID uuid.UUID) (int, error)
}

// MutabilityGuard blocks edits on a closed work order unless an
// administrator supplies a reason. The work order passed in must be locked
// by the caller's transaction.
type MutabilityGuard interface {
	EnsureMutable(ctx context.Context, wo *workorder.WorkOrder, actor *shared.Actor, reason *string) error
}

// Service manages vendor receipts and their derived allocation status.
type Service struct {
	repo   Repository
	guard  MutabilityGuard
	audit  *shared.AuditLogger
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs a receipt service.
func NewService(repo Repository, guard MutabilityGuard, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		guard:  guard,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Create inserts a receipt with its line items in one transaction. The
// receipt total is computed from the lines, never taken from the caller.
func (s *Service) Create(ctx context.Context, req CreateReceiptRequest, actor *shared.Actor) (*Receipt, error) {
	var createdBy uuid.UUID
	if actor != nil {
		createdBy = actor.ID
	}
	rec := Receipt{
		ID:          uuid.New(),
		WorkOrderID: req.WorkOrderID,
		VendorName:  req.VendorName,
		ReceiptDate: req.ReceiptDate,
		Memo:        req.Memo,
		CreatedBy:   createdBy,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}
	total := decimal.Zero
	for _, line := range req.LineItems {
		amount, err := decimal.NewFromString(line.Amount)
		if err != nil {
			return nil, shared.NewValidationError(fmt.Sprintf("Invalid amount for line %q", line.Description))
		}
		if !amount.IsPositive() {
			return nil, shared.NewValidationError(fmt.Sprintf("Amount for line %q must be positive", line.Description))
		}
		rec.LineItems = append(rec.LineItems, LineItem{
			ID:          uuid.New(),
			ReceiptID:   rec.ID,
			Description: line.Description,
			Amount:      amount,
			CreatedAt:   s.now(),
		})
		total = total.Add(amount)
	}
	rec.Total = total

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.WorkOrderForUpdate(ctx, req.WorkOrderID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureMutable(ctx, wo, actor, req.AdminReason); err != nil {
			return err
		}
		return tx.Insert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "receipt.create", &rec, actor)
	return &rec, nil
}

// Get loads a receipt with its line items and derived allocation amounts.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Receipt, error) {
	return s.repo.Get(ctx, id)
}

// ListByWorkOrder returns a work order's receipts, newest first.
func (s *Service) ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]Receipt, error) {
	return s.repo.ListByWorkOrder(ctx, workOrderID)
}

// GetAllocationStatus reports how much of the receipt the cost ledger has
// absorbed.
func (s *Service) GetAllocationStatus(ctx context.Context, id uuid.UUID) (*AllocationStatus, error) {
	return s.repo.AllocationStatus(ctx, id)
}

// Update applies header-level edits under the mutability guard.
func (s *Service) Update(ctx context.Context, id uuid.UUID, req UpdateReceiptRequest, actor *shared.Actor) (*Receipt, error) {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.VendorName != nil {
		if *req.VendorName == "" {
			return nil, shared.NewValidationError("Vendor name must not be empty")
		}
		rec.VendorName = *req.VendorName
	}
	if req.ReceiptDate != nil {
		rec.ReceiptDate = *req.ReceiptDate
	}
	if req.Memo != nil {
		rec.Memo = req.Memo
	}
	rec.UpdatedAt = s.now()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.WorkOrderForUpdate(ctx, rec.WorkOrderID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureMutable(ctx, wo, actor, req.AdminReason); err != nil {
			return err
		}
		return tx.UpdateHeader(ctx, *rec)
	})
	if err != nil {
		return nil, err
	}
	s.recordAudit(ctx, "receipt.update", rec, actor)
	return rec, nil
}

// Delete removes a receipt. Refused while any cost entry allocates against
// its line items.
func (s *Service) Delete(ctx context.Context, id uuid.UUID, actor *shared.Actor, adminReason *string) error {
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		wo, err := tx.WorkOrderForUpdate(ctx, rec.WorkOrderID)
		if err != nil {
			return err
		}
		if err := s.guard.EnsureMutable(ctx, wo, actor, adminReason); err != nil {
			return err
		}
		allocations, err := tx.CountAllocations(ctx, id)
		if err != nil {
			return err
		}
		if allocations > 0 {
			return fmt.Errorf("%w: receipt %s has %d cost allocations", shared.ErrConflict, id, allocations)
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, "receipt.delete", rec, actor)
	return nil
}

func (s *Service) recordAudit(ctx context.Context, action string, rec *Receipt, actor *shared.Actor) {
	log := shared.AuditLog{
		Action:   action,
		Entity:   "receipt",
		EntityID: rec.ID.String(),
		Meta: map[string]any{
			"work_order_id": rec.WorkOrderID.String(),
			"total":         rec.Total.StringFixed(2),
		},
		At: s.now(),
	}
	if actor != nil {
		log.ActorID = actor.ID
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit receipt", slog.String("action", action), slog.Any("error", err))
	}
}
