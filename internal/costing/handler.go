package costing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fieldserv/fieldserv/internal/platform/httpx"
	"github.com/fieldserv/fieldserv/internal/rbac"
	"github.com/fieldserv/fieldserv/internal/shared"
)

type costingService interface {
	CreateCostEntry(ctx context.Context, req CreateCostEntryRequest, actor *shared.Actor) (*CostEntry, error)
	UpdateCostEntry(ctx context.Context, id uuid.UUID, req UpdateCostEntryRequest, actor *shared.Actor) (*CostEntry, error)
	DeleteCostEntry(ctx context.Context, id uuid.UUID, actor *shared.Actor, adminReason *string) error
	ValidateAllocationAmount(ctx context.Context, lineItemID uuid.UUID, amount decimal.Decimal) (*AllocationCheck, error)
	GetCostReconciliation(ctx context.Context, workOrderID uuid.UUID) (*Reconciliation, error)
	CalculateProfitPreview(ctx context.Context, workOrderID uuid.UUID) (*ProfitPreview, error)
	CalculateProfitSummary(ctx context.Context, workOrderIDs []uuid.UUID) (*ProfitSummary, error)
}

// Handler wires HTTP endpoints for cost postings and profitability views.
type Handler struct {
	logger   *slog.Logger
	service  costingService
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service costingService, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches costing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/cost-entries", func(r chi.Router) {
		r.With(rbac.Require(rbac.PermCostsEdit)).Group(func(r chi.Router) {
			r.Post("/", h.create)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
		})
		r.With(rbac.Require(rbac.PermCostsView)).Post("/allocation-check", h.allocationCheck)
	})
	r.With(rbac.Require(rbac.PermCostsView)).Group(func(r chi.Router) {
		r.Get("/work-orders/{id}/cost-reconciliation", h.reconciliation)
		r.Get("/work-orders/{id}/profit-preview", h.profitPreview)
		r.Post("/reports/profit-summary", h.profitSummary)
	})
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateCostEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entry, err := h.service.CreateCostEntry(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create cost entry", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid cost entry id")
		return
	}
	var req UpdateCostEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	entry, err := h.service.UpdateCostEntry(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type deleteCostEntryRequest struct {
	AdminReason *string `json:"admin_reason,omitempty"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid cost entry id")
		return
	}
	var req deleteCostEntryRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if err := h.service.DeleteCostEntry(r.Context(), id, shared.ActorFromContext(r.Context()), req.AdminReason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type allocationCheckRequest struct {
	ReceiptLineItemID uuid.UUID `json:"receipt_line_item_id" validate:"required"`
	Amount            string    `json:"amount" validate:"required"`
}

func (h *Handler) allocationCheck(w http.ResponseWriter, r *http.Request) {
	var req allocationCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid amount")
		return
	}
	check, err := h.service.ValidateAllocationAmount(r.Context(), req.ReceiptLineItemID, amount)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}

func (h *Handler) reconciliation(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	recon, err := h.service.GetCostReconciliation(r.Context(), id)
	if err != nil {
		h.logger.Error("cost reconciliation", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, recon)
}

func (h *Handler) profitPreview(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	preview, err := h.service.CalculateProfitPreview(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, preview)
}

type profitSummaryRequest struct {
	WorkOrderIDs []uuid.UUID `json:"work_order_ids" validate:"required,min=1"`
}

func (h *Handler) profitSummary(w http.ResponseWriter, r *http.Request) {
	var req profitSummaryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	summary, err := h.service.CalculateProfitSummary(r.Context(), req.WorkOrderIDs)
	if err != nil {
		h.logger.Error("profit summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
