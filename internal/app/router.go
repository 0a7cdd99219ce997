package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fieldserv/fieldserv/internal/costing"
	"github.com/fieldserv/fieldserv/internal/platform/httpx"
	"github.com/fieldserv/fieldserv/internal/receipt"
	"github.com/fieldserv/fieldserv/internal/timesheet"
	"github.com/fieldserv/fieldserv/internal/workorder"
	"github.com/fieldserv/fieldserv/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	Pool             *pgxpool.Pool
	WorkOrderHandler *workorder.Handler
	TimesheetHandler *timesheet.Handler
	ReceiptHandler   *receipt.Handler
	CostingHandler   *costing.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with Fieldserv defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Pool != nil {
			if err := params.Pool.Ping(r.Context()); err != nil {
				params.Logger.Error("healthz db ping", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "database unreachable")
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	if params.WorkOrderHandler != nil {
		params.WorkOrderHandler.MountRoutes(r)
	}
	if params.TimesheetHandler != nil {
		params.TimesheetHandler.MountRoutes(r)
	}
	if params.ReceiptHandler != nil {
		params.ReceiptHandler.MountRoutes(r)
	}
	if params.CostingHandler != nil {
		params.CostingHandler.MountRoutes(r)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
