package access

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agencyhub/backoffice/internal/platform/httpx"
)

// Handler exposes the catalog for administration screens.
type Handler struct {
	catalog *Catalog
	guard   Middleware
}

// NewHandler builds Handler instance.
func NewHandler(catalog *Catalog, guard Middleware) *Handler {
	return &Handler{catalog: catalog, guard: guard}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(LevelAdmin, PermUsersManage))
		r.Get("/roles", h.listRoles)
		r.Get("/permissions", h.listPermissions)
	})
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": h.catalog.Roles()})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": h.catalog.Definitions()})
}
