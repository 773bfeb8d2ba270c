package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sgal-dev/sgal/internal/authorization"
	"github.com/sgal-dev/sgal/internal/identity"
	"github.com/sgal-dev/sgal/internal/monitoring"
	"github.com/sgal-dev/sgal/internal/observability"
	"github.com/sgal-dev/sgal/internal/periods"
	"github.com/sgal-dev/sgal/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger               *slog.Logger
	Config               *Config
	Guard                identity.Middleware
	AuthorizationHandler *authorization.Handler
	MonitoringHandler    *monitoring.Handler
	PeriodsHandler       *periods.Handler
	JobHandler           *jobs.Handler
	Metrics              *observability.Metrics
}

// NewRouter constructs the chi.Router for the licensing engine API.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(params.Guard.Authenticate)

		r.Route("/requests", params.AuthorizationHandler.MountRoutes)
		r.Route("/monitoring", params.MonitoringHandler.MountRoutes)
		r.Route("/periods", params.PeriodsHandler.MountRoutes)
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
