package costing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fieldserv/fieldserv/internal/shared"
	"github.com/fieldserv/fieldserv/internal/workorder"
)

// Repository abstracts cost posting persistence.
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*CostEntry, error)
	ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]CostEntry, error)
	LineItemAllocation(ctx context.Context, lineItemID uuid.UUID) (lineTotal, allocated decimal.Decimal, err error)
	ActiveWorkOrderIDs(ctx context.Context) ([]uuid.UUID, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// TxRepository exposes transactional operations. WorkOrderForUpdate locks
// the owning work order row so the mutability check and the write cannot
// straddle a concurrent CLOSED transition.
type TxRepository interface {
	Insert(ctx context.Context, entry CostEntry) error
	Update(ctx context.Context, entry CostEntry) error
	Delete(ctx context.Context, id uuid.UUID) error
	WorkOrderForUpdate(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error)
	LineItemAllocationForUpdate(ctx context.Context, lineItemID uuid.UUID, excludeEntryID *uuid.UUID) (lineTotal, allocated decimal.Decimal, err error)
}

// MutabilityGuard blocks edits to postings on a closed work order unless an
// administrator supplies a reason. The work order passed in must be locked
// by the caller's transaction. Implemented by the work order service.
type MutabilityGuard interface {
	EnsureMutable(ctx context.Context, wo *workorder.WorkOrder, actor *shared.Actor, reason *string) error
}

// WorkOrderReader loads work orders for reconciliation.
type WorkOrderReader interface {
	Get(ctx context.Context, id uuid.UUID) (*workorder.WorkOrder, error)
}

// Service provides the cost ledger, the allocation guard, and the
// reconciliation read paths.
type Service struct {
	repo       Repository
	workOrders WorkOrderReader
	guard      MutabilityGuard
	cache      *Cache
	audit      *shared.AuditLogger
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a costing service.
func NewService(repo Repository, workOrders WorkOrderReader, guard MutabilityGuard, cache *Cache, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		workOrders: workOrders,
		guard:      guard,
		cache:      cache,
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

// ValidateAllocationAmount checks a proposed allocation against the line
// item's remaining unallocated amount. Read-only; the create path re-runs
// the same check under a row lock before inserting.
func (s *Service) ValidateAllocationAmount(ctx context.Context, lineItemID uuid.UUID, amount decimal.Decimal) (*AllocationCheck, error) {
	lineTotal, allocated, err := s.repo.LineItemAllocation(ctx, lineItemID)
	if err != nil {
		return nil, err
	}
	check := buildAllocationCheck(lineTotal, allocated, amount)
	return &check, nil
}

func buildAllocationCheck(lineTotal, allocated, amount decimal.Decimal) AllocationCheck {
	unallocated := lineTotal.Sub(allocated)
	if amount.GreaterThan(unallocated) {
		return AllocationCheck{
			Valid:            false,
			UnallocatedTotal: unallocated,
			Error:            fmt.Sprintf("Cannot allocate $%s. Only $%s remaining.", amount.StringFixed(2), unallocated.StringFixed(2)),
		}
	}
	return AllocationCheck{Valid: true, UnallocatedTotal: unallocated}
}

// CreateCostEntry validates and inserts a cost posting. The mutability
// check, the allocation check, and the insert run in one transaction with
// the work order and line item rows locked, in that order.
func (s *Service) CreateCostEntry(ctx context.Context, req CreateCostEntryRequest, actor *shared.Actor) (*CostEntry, error) {
	entry, err := s.buildEntry(req, actor)
	if err != nil {
		return nil, err
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if entry.WorkOrderID != nil {
			wo, err := tx.WorkOrderForUpdate(ctx, *entry.WorkOrderID)
			if err != nil {
				return err
			}
			if err := s.guard.EnsureMutable(ctx, wo, actor, req.AdminReason); err != nil {
				return err
			}
		}
		if entry.ReceiptLineItemID != nil {
			lineTotal, allocated, err := tx.LineItemAllocationForUpdate(ctx, *entry.ReceiptLineItemID, nil)
			if err != nil {
				return err
			}
			if check := buildAllocationCheck(lineTotal, allocated, entry.Amount); !check.Valid {
				return shared.NewValidationError(check.Error)
			}
		}
		return tx.Insert(ctx, *entry)
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, "costentry.create", entry, actor)
	return entry, nil
}

func (s *Service) buildEntry(req CreateCostEntryRequest, actor *shared.Actor) (*CostEntry, error) {
	if (req.WorkOrderID == nil) == (req.ProjectID == nil) {
		return nil, shared.NewValidationError("Exactly one of work_order_id and project_id must be set")
	}
	bucket, err := ParseBucket(req.Bucket)
	if err != nil {
		return nil, shared.NewValidationError(err.Error())
	}
	origin, err := ParseOrigin(req.Origin)
	if err != nil {
		return nil, shared.NewValidationError(err.Error())
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return nil, shared.NewValidationError("Invalid quantity")
	}
	unitCost, err := decimal.NewFromString(req.UnitCost)
	if err != nil {
		return nil, shared.NewValidationError("Invalid unit cost")
	}
	if req.ReceiptLineItemID != nil && req.ReceiptID == nil {
		return nil, shared.NewValidationError("A line item allocation requires the owning receipt")
	}

	var createdBy uuid.UUID
	if actor != nil {
		createdBy = actor.ID
	}
	return &CostEntry{
		ID:                uuid.New(),
		WorkOrderID:       req.WorkOrderID,
		ProjectID:         req.ProjectID,
		Bucket:            bucket,
		Origin:            origin,
		Quantity:          quantity,
		UnitCost:          unitCost,
		Amount:            ComputeAmount(quantity, unitCost),
		TxnDate:           req.TxnDate,
		ReceiptID:         req.ReceiptID,
		ReceiptLineItemID: req.ReceiptLineItemID,
		Memo:              req.Memo,
		CreatedBy:         createdBy,
		CreatedAt:         s.now(),
		UpdatedAt:         s.now(),
	}, nil
}

// UpdateCostEntry applies a partial update, recomputing the amount and
// re-checking an existing allocation against the line item's remaining
// amount (its own previous amount excluded).
func (s *Service) UpdateCostEntry(ctx context.Context, id uuid.UUID, req UpdateCostEntryRequest, actor *shared.Actor) (*CostEntry, error) {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Bucket != nil {
		bucket, err := ParseBucket(*req.Bucket)
		if err != nil {
			return nil, shared.NewValidationError(err.Error())
		}
		entry.Bucket = bucket
	}
	if req.Quantity != nil {
		quantity, err := decimal.NewFromString(*req.Quantity)
		if err != nil {
			return nil, shared.NewValidationError("Invalid quantity")
		}
		entry.Quantity = quantity
	}
	if req.UnitCost != nil {
		unitCost, err := decimal.NewFromString(*req.UnitCost)
		if err != nil {
			return nil, shared.NewValidationError("Invalid unit cost")
		}
		entry.UnitCost = unitCost
	}
	if req.TxnDate != nil {
		entry.TxnDate = *req.TxnDate
	}
	if req.Memo != nil {
		entry.Memo = req.Memo
	}
	entry.Amount = ComputeAmount(entry.Quantity, entry.UnitCost)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if entry.WorkOrderID != nil {
			wo, err := tx.WorkOrderForUpdate(ctx, *entry.WorkOrderID)
			if err != nil {
				return err
			}
			if err := s.guard.EnsureMutable(ctx, wo, actor, req.AdminReason); err != nil {
				return err
			}
		}
		if entry.ReceiptLineItemID != nil {
			lineTotal, allocated, err := tx.LineItemAllocationForUpdate(ctx, *entry.ReceiptLineItemID, &entry.ID)
			if err != nil {
				return err
			}
			if check := buildAllocationCheck(lineTotal, allocated, entry.Amount); !check.Valid {
				return shared.NewValidationError(check.Error)
			}
		}
		return tx.Update(ctx, *entry)
	})
	if err != nil {
		return nil, err
	}

	s.afterWrite(ctx, "costentry.update", entry, actor)
	return entry, nil
}

// DeleteCostEntry removes a posting under the mutability guard.
func (s *Service) DeleteCostEntry(ctx context.Context, id uuid.UUID, actor *shared.Actor, adminReason *string) error {
	entry, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if entry.WorkOrderID != nil {
			wo, err := tx.WorkOrderForUpdate(ctx, *entry.WorkOrderID)
			if err != nil {
				return err
			}
			if err := s.guard.EnsureMutable(ctx, wo, actor, adminReason); err != nil {
				return err
			}
		}
		return tx.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, "costentry.delete", entry, actor)
	return nil
}

// PostLaborCost records a labor posting from a completed time entry.
func (s *Service) PostLaborCost(ctx context.Context, workOrderID uuid.UUID, hours, rate decimal.Decimal, txnDate time.Time, createdBy uuid.UUID) error {
	entry := CostEntry{
		ID:          uuid.New(),
		WorkOrderID: &workOrderID,
		Bucket:      BucketLabor,
		Origin:      OriginInternal,
		Quantity:    hours,
		UnitCost:    rate,
		Amount:      ComputeAmount(hours, rate),
		TxnDate:     txnDate,
		CreatedBy:   createdBy,
		CreatedAt:   s.now(),
		UpdatedAt:   s.now(),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, entry)
	})
	if err != nil {
		return err
	}
	s.afterWrite(ctx, "costentry.labor_posting", &entry, nil)
	return nil
}

// GetCostReconciliation returns the cached cost-versus-contract view for a
// work order. The work order and its cost entries fetch concurrently.
func (s *Service) GetCostReconciliation(ctx context.Context, workOrderID uuid.UUID) (*Reconciliation, error) {
	key, err := s.cache.BuildKey(ctx, "costing", "recon", workOrderID.String())
	if err != nil {
		return nil, err
	}
	var recon Reconciliation
	err = s.cache.FetchJSON(ctx, key, &recon, func(ctx context.Context) (any, error) {
		wo, totals, err := s.fetchOrderAndTotals(ctx, workOrderID)
		if err != nil {
			return nil, err
		}
		return BuildReconciliation(wo, totals), nil
	})
	if err != nil {
		return nil, err
	}
	return &recon, nil
}

// CalculateProfitPreview returns the advisory pre-close profitability view.
func (s *Service) CalculateProfitPreview(ctx context.Context, workOrderID uuid.UUID) (*ProfitPreview, error) {
	wo, totals, err := s.fetchOrderAndTotals(ctx, workOrderID)
	if err != nil {
		return nil, err
	}
	preview := BuildPreview(wo, totals)
	return &preview, nil
}

// CalculateProfitSummary folds previews across the given work orders.
func (s *Service) CalculateProfitSummary(ctx context.Context, workOrderIDs []uuid.UUID) (*ProfitSummary, error) {
	previews := make([]ProfitPreview, 0, len(workOrderIDs))
	for _, id := range workOrderIDs {
		preview, err := s.CalculateProfitPreview(ctx, id)
		if err != nil {
			return nil, err
		}
		previews = append(previews, *preview)
	}
	summary := SummarizeProfit(previews)
	return &summary, nil
}

// SnapshotActiveWorkOrders warms the reconciliation cache for every
// non-terminal work order. Run by the overnight worker.
func (s *Service) SnapshotActiveWorkOrders(ctx context.Context) (int, error) {
	ids, err := s.repo.ActiveWorkOrderIDs(ctx)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := s.GetCostReconciliation(ctx, id); err != nil {
			return 0, fmt.Errorf("snapshot work order %s: %w", id, err)
		}
	}
	return len(ids), nil
}

func (s *Service) fetchOrderAndTotals(ctx context.Context, workOrderID uuid.UUID) (*workorder.WorkOrder, LedgerTotals, error) {
	var (
		wo      *workorder.WorkOrder
		entries []CostEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		wo, err = s.workOrders.Get(gctx, workOrderID)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = s.repo.ListByWorkOrder(gctx, workOrderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, LedgerTotals{}, err
	}
	return wo, SumLedger(entries), nil
}

func (s *Service) afterWrite(ctx context.Context, action string, entry *CostEntry, actor *shared.Actor) {
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("bump costing cache", slog.Any("error", err))
	}
	log := shared.AuditLog{
		Action:   action,
		Entity:   "cost_entry",
		EntityID: entry.ID.String(),
		Meta: map[string]any{
			"bucket": string(entry.Bucket),
			"amount": entry.Amount.StringFixed(2),
		},
		At: s.now(),
	}
	if entry.WorkOrderID != nil {
		log.Meta["work_order_id"] = entry.WorkOrderID.String()
	}
	if actor != nil {
		log.ActorID = actor.ID
	}
	if err := s.audit.Record(ctx, log); err != nil {
		s.logger.Warn("audit cost entry", slog.String("action", action), slog.Any("error", err))
	}
}
