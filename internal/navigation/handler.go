package navigation

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
)

// Handler exposes navigation endpoints and guarded pages.
type Handler struct {
	resolver *Resolver
	composer *Composer
	guard    *Guard
}

// NewHandler constructs a navigation handler.
func NewHandler(resolver *Resolver, composer *Composer, guard *Guard) *Handler {
	return &Handler{resolver: resolver, composer: composer, guard: guard}
}

// MountRoutes registers the navigation API.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/menu", h.menu)
	r.Get("/routes", h.routes)
	r.Get("/authorize", h.authorize)
}

// MountPages registers guarded page routes for every rule area.
func (h *Handler) MountPages(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.Middleware)
		r.Get("/{area}", h.page)
		r.Get("/{area}/*", h.page)
	})
}

type pageResponse struct {
	Path   string               `json:"path"`
	Title  string               `json:"title,omitempty"`
	Actor  access.Actor         `json:"actor"`
	Menu   []MenuNode           `json:"menu"`
	Notice *shared.FlashMessage `json:"notice,omitempty"`
}

func (h *Handler) page(w http.ResponseWriter, r *http.Request) {
	snap, _ := session.SnapshotFromContext(r.Context())
	menu := h.composer.Compose(h.resolver.Grants(snap))
	resp := pageResponse{
		Path:  r.URL.Path,
		Title: findLabel(menu, r.URL.Path),
		Actor: snap.Actor,
		Menu:  menu,
	}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		resp.Notice = sess.PopFlash()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) menu(w http.ResponseWriter, r *http.Request) {
	snap, ok := authenticated(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role": snap.Actor.Role,
		"menu": h.composer.Compose(h.resolver.Grants(snap)),
	})
}

func (h *Handler) routes(w http.ResponseWriter, r *http.Request) {
	snap, ok := authenticated(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"role":    snap.Actor.Role,
		"landing": snap.Actor.Role.Landing(),
		"paths":   h.resolver.Grants(snap).Paths(),
	})
}

func (h *Handler) authorize(w http.ResponseWriter, r *http.Request) {
	snap, ok := authenticated(w, r)
	if !ok {
		return
	}
	target := strings.TrimSpace(r.URL.Query().Get("path"))
	if target == "" || !strings.HasPrefix(target, "/") {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "path must be an absolute path")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"path":       target,
		"authorized": h.resolver.Grants(snap).Allows(target),
	})
}

func authenticated(w http.ResponseWriter, r *http.Request) (session.Snapshot, bool) {
	snap, ok := session.SnapshotFromContext(r.Context())
	if !ok || !snap.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return session.Snapshot{}, false
	}
	return snap, true
}

func findLabel(nodes []MenuNode, p string) string {
	for _, n := range nodes {
		if n.Path == p {
			return n.Label
		}
		if label := findLabel(n.Children, p); label != "" {
			return label
		}
	}
	return ""
}
