package workorder

import (
	"context"
	"errors"
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

type workOrderService interface {
	Create(ctx context.Context, req CreateWorkOrderRequest, createdBy uuid.UUID) (*WorkOrder, error)
	Get(ctx context.Context, id uuid.UUID) (*WorkOrder, error)
	List(ctx context.Context, req ListWorkOrdersRequest) ([]WorkOrder, int, error)
	AssignTechnician(ctx context.Context, id uuid.UUID, technicianID *uuid.UUID) (*WorkOrder, error)
	SetContractTotal(ctx context.Context, id uuid.UUID, total decimal.Decimal) (*WorkOrder, error)
	Transition(ctx context.Context, id uuid.UUID, to Status, reason *string) (*TransitionRecord, error)
	ValidateClose(ctx context.Context, id uuid.UUID) (*CloseCheck, error)
}

// Handler wires HTTP endpoints for the work order lifecycle.
type Handler struct {
	logger   *slog.Logger
	service  workOrderService
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service workOrderService, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches work order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/work-orders", func(r chi.Router) {
		r.With(rbac.Require(rbac.PermWorkOrdersView)).Group(func(r chi.Router) {
			r.Get("/", h.list)
			r.Get("/{id}", h.get)
			r.Get("/{id}/close-check", h.closeCheck)
		})
		r.With(rbac.Require(rbac.PermWorkOrdersEdit)).Group(func(r chi.Router) {
			r.Post("/", h.create)
			r.Put("/{id}/technician", h.assignTechnician)
			r.Put("/{id}/contract-total", h.setContractTotal)
		})
		r.With(rbac.Require(rbac.PermWorkOrdersTransition)).Post("/{id}/transition", h.transition)
	})
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req CreateWorkOrderRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	actor := shared.ActorFromContext(r.Context())
	wo, err := h.service.Create(r.Context(), req, actor.ID)
	if err != nil {
		h.logger.Error("create work order", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, wo)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	wo, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req := ListWorkOrdersRequest{Limit: 50}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := ParseStatus(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
		req.Status = &status
	}
	if raw := r.URL.Query().Get("customer_id"); raw != "" {
		customerID, err := uuid.Parse(raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer id")
			return
		}
		req.CustomerID = &customerID
	}
	orders, total, err := h.service.List(r.Context(), req)
	if err != nil {
		h.logger.Error("list work orders", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items": orders,
		"total": total,
	})
}

type assignTechnicianRequest struct {
	TechnicianID *uuid.UUID `json:"technician_id"`
}

func (h *Handler) assignTechnician(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	var req assignTechnicianRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	wo, err := h.service.AssignTechnician(r.Context(), id, req.TechnicianID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

type contractTotalRequest struct {
	ContractTotal decimal.Decimal `json:"contract_total"`
}

func (h *Handler) setContractTotal(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	var req contractTotalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	wo, err := h.service.SetContractTotal(r.Context(), id, req.ContractTotal)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wo)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	var req TransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	to, err := ParseStatus(req.To)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	if to == StatusClosed {
		actor := shared.ActorFromContext(r.Context())
		if actor == nil || !rbac.HasPermission(rbac.Role(actor.Role), rbac.PermWorkOrdersClose) {
			httpx.Problem(w, http.StatusForbidden, "Forbidden", "closing a work order requires the close permission")
			return
		}
	}
	record, err := h.service.Transition(r.Context(), id, to, req.Reason)
	if err != nil {
		var ite *InvalidTransitionError
		if errors.As(err, &ite) {
			httpx.Problem(w, http.StatusUnprocessableEntity, "Invalid Transition", ite.Error())
			return
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, record)
}

func (h *Handler) closeCheck(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	check, err := h.service.ValidateClose(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, check)
}
