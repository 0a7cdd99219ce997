package receipt

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/fieldserv/fieldserv/internal/platform/httpx"
	"github.com/fieldserv/fieldserv/internal/rbac"
	"github.com/fieldserv/fieldserv/internal/shared"
)

type receiptService interface {
	Create(ctx context.Context, req CreateReceiptRequest, actor *shared.Actor) (*Receipt, error)
	Get(ctx context.Context, id uuid.UUID) (*Receipt, error)
	ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]Receipt, error)
	GetAllocationStatus(ctx context.Context, id uuid.UUID) (*AllocationStatus, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateReceiptRequest, actor *shared.Actor) (*Receipt, error)
	Delete(ctx context.Context, id uuid.UUID, actor *shared.Actor, adminReason *string) error
}

// Handler wires HTTP endpoints for vendor receipts.
type Handler struct {
	logger   *slog.Logger
	service  receiptService
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service receiptService, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/receipts", func(r chi.Router) {
		r.With(rbac.Require(rbac.PermWorkOrdersView)).Group(func(r chi.Router) {
			r.Get("/{id}", h.get)
			r.Get("/{id}/allocation-status", h.allocationStatus)
		})
		r.With(rbac.Require(rbac.PermReceiptsEdit)).Group(func(r chi.Router) {
			r.Post("/", h.create)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
		})
	})
	r.With(rbac.Require(rbac.PermWorkOrdersView)).Get("/work-orders/{id}/receipts", h.listByWorkOrder)
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	rec, err := h.service.Create(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("create receipt", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) allocationStatus(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	status, err := h.service.GetAllocationStatus(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, status)
}

func (h *Handler) listByWorkOrder(w http.ResponseWriter, r *http.Request) {
	workOrderID, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	receipts, err := h.service.ListByWorkOrder(r.Context(), workOrderID)
	if err != nil {
		h.logger.Error("list receipts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": receipts})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	var req UpdateReceiptRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	rec, err := h.service.Update(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

type deleteReceiptRequest struct {
	AdminReason *string `json:"admin_reason,omitempty"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid receipt id")
		return
	}
	var req deleteReceiptRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
	}
	if err := h.service.Delete(r.Context(), id, shared.ActorFromContext(r.Context()), req.AdminReason); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
