package audithttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
)

const (
	queryRateLimit  = 30
	queryRateWindow = time.Minute
)

// MountRoutes registers the audit timeline.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(queryRateLimit, queryRateWindow,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "audit query limit reached")
		}),
	)
	r.Group(func(r chi.Router) {
		if h.guard != nil {
			r.Use(h.guard)
		}
		r.Use(limiter)
		r.Get("/", h.handleTimeline)
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if actor, ok := access.ActorFromContext(r.Context()); ok && actor.ID != "" {
		return "actor:" + actor.ID, nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
