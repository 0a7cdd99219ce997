package timesheet

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

type timesheetService interface {
	ClockIn(ctx context.Context, req ClockInRequest, actor *shared.Actor) (*TimeEntry, error)
	ClockOut(ctx context.Context, id uuid.UUID, req ClockOutRequest, actor *shared.Actor) (*TimeEntry, error)
	Get(ctx context.Context, id uuid.UUID) (*TimeEntry, error)
	ListByWorkOrder(ctx context.Context, workOrderID uuid.UUID) ([]TimeEntry, error)
	Update(ctx context.Context, id uuid.UUID, req UpdateTimeEntryRequest, actor *shared.Actor) (*TimeEntry, error)
	Delete(ctx context.Context, id uuid.UUID, actor *shared.Actor, adminReason *string) error
}

// Handler wires HTTP endpoints for technician time entries.
type Handler struct {
	logger   *slog.Logger
	service  timesheetService
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(service timesheetService, logger *slog.Logger) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(),
	}
}

// MountRoutes attaches time entry routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/time-entries", func(r chi.Router) {
		r.With(rbac.Require(rbac.PermWorkOrdersView)).Get("/{id}", h.get)
		r.With(rbac.Require(rbac.PermTimeEntriesEdit)).Group(func(r chi.Router) {
			r.Post("/clock-in", h.clockIn)
			r.Post("/{id}/clock-out", h.clockOut)
			r.Put("/{id}", h.update)
			r.Delete("/{id}", h.delete)
		})
	})
	r.With(rbac.Require(rbac.PermWorkOrdersView)).Get("/work-orders/{id}/time-entries", h.listByWorkOrder)
}

func (h *Handler) idParam(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func (h *Handler) clockIn(w http.ResponseWriter, r *http.Request) {
	var req ClockInRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	entry, err := h.service.ClockIn(r.Context(), req, shared.ActorFromContext(r.Context()))
	if err != nil {
		h.logger.Error("clock in", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) clockOut(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid time entry id")
		return
	}
	var req ClockOutRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
			return
		}
	}
	entry, err := h.service.ClockOut(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid time entry id")
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) listByWorkOrder(w http.ResponseWriter, r *http.Request) {
	workOrderID, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid work order id")
		return
	}
	entries, err := h.service.ListByWorkOrder(r.Context(), workOrderID)
	if err != nil {
		h.logger.Error("list time entries", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid time entry id")
		return
	}
	var req UpdateTimeEntryRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	entry, err := h.service.Update(r.Context(), id, req, shared.ActorFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type deleteTimeEntryRequest struct {
	AdminReason *string `json:"admin_reason,omitempty"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := h.idParam(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid time entry id")
		return
	}
	var req deleteTimeEntryRequest
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
