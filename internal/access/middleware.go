package access

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/agencyhub/backoffice/internal/platform/httpx"
)

// Middleware wires permission checks for HTTP handlers.
type Middleware struct {
	Catalog *Catalog
	Logger  *slog.Logger
}

// RequireAny ensures the current actor holds at least one of perms at level.
func (m Middleware) RequireAny(level Level, perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			if HasAnyPermission(EffectivePermissions(m.Catalog, actor), normalized, level) {
				next.ServeHTTP(w, r)
				return
			}
			if m.Logger != nil {
				m.Logger.Info("permission denied",
					slog.String("actor", actor.ID),
					slog.String("role", string(actor.Role)),
					slog.String("path", r.URL.Path))
			}
			httpx.RespondError(w, httpx.ErrForbidden)
		})
	}
}

// RequireAll ensures the current actor holds every one of perms at level.
func (m Middleware) RequireAll(level Level, perms ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(perms)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			effective := EffectivePermissions(m.Catalog, actor)
			for _, id := range normalized {
				if !HasPermission(effective, id, level) {
					httpx.RespondError(w, httpx.ErrForbidden)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	normalized := make([]string, 0, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		if _, dup := unique[p]; dup {
			continue
		}
		unique[p] = struct{}{}
		normalized = append(normalized, p)
	}
	return normalized
}
