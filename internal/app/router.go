package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/agencyhub/backoffice/internal/access"
	audithttp "github.com/agencyhub/backoffice/internal/audit/http"
	"github.com/agencyhub/backoffice/internal/auth"
	"github.com/agencyhub/backoffice/internal/navigation"
	"github.com/agencyhub/backoffice/internal/observability"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
	"github.com/agencyhub/backoffice/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	SessionManager    *shared.SessionManager
	CSRFManager       *shared.CSRFManager
	AuthHandler       *auth.Handler
	AuthMiddleware    auth.Middleware
	AccessHandler     *access.Handler
	AccessMiddleware  access.Middleware
	AuditHandler      *audithttp.Handler
	NavigationHandler *navigation.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with back-office defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
		Actors:         params.AuthMiddleware.Resolve,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		snap, ok := session.SnapshotFromContext(r.Context())
		if !ok || !snap.Authenticated() {
			http.Redirect(w, r, navigation.LoginPath, http.StatusSeeOther)
			return
		}
		http.Redirect(w, r, snap.Actor.Role.Landing(), http.StatusSeeOther)
	})

	r.Route("/auth", params.AuthHandler.MountRoutes)
	r.Get("/api/session", params.AuthHandler.CurrentSession)
	if params.NavigationHandler != nil {
		r.Route("/api/navigation", params.NavigationHandler.MountRoutes)
	}
	if params.AccessHandler != nil {
		r.Route("/api/catalog", params.AccessHandler.MountRoutes)
	}
	if params.AuditHandler != nil {
		r.Route("/api/audit", params.AuditHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", func(r chi.Router) {
			r.Use(params.AccessMiddleware.RequireAny(access.LevelAdmin, access.PermSettingsManage))
			params.JobHandler.MountRoutes(r)
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.NavigationHandler != nil {
		params.NavigationHandler.MountPages(r)
	}

	return r
}
