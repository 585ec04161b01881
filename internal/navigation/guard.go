package navigation

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
)

// Decision outcomes reported to the DecisionRecorder.
const (
	OutcomeAllowed         = "allowed"
	OutcomeRedirected      = "redirected"
	OutcomeForbidden       = "forbidden"
	OutcomeUnauthenticated = "unauthenticated"
)

// LoginPath receives unauthenticated navigations.
const LoginPath = "/auth/login"

const deniedNotice = "No tienes acceso a esa sección."

// DenialAuditor records refused navigations.
type DenialAuditor interface {
	RecordDenial(ctx context.Context, actor access.Actor, path string)
}

// DecisionRecorder counts guard decisions.
type DecisionRecorder interface {
	RecordAuthzDecision(outcome string)
}

// Guard enforces route authorization on page navigations.
type Guard struct {
	resolver *Resolver
	logger   *slog.Logger
	audit    DenialAuditor
	metrics  DecisionRecorder
}

// NewGuard constructs a Guard. audit and metrics may be nil.
func NewGuard(resolver *Resolver, logger *slog.Logger, audit DenialAuditor, metrics DecisionRecorder) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{resolver: resolver, logger: logger, audit: audit, metrics: metrics}
}

// Middleware redirects refused navigations to the actor's landing page with a notice.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap, ok := session.SnapshotFromContext(r.Context())
		if !ok || !snap.Authenticated() {
			g.record(OutcomeUnauthenticated)
			http.Redirect(w, r, LoginPath, http.StatusSeeOther)
			return
		}

		grants := g.resolver.Grants(snap)
		if grants.Allows(r.URL.Path) {
			g.record(OutcomeAllowed)
			next.ServeHTTP(w, r)
			return
		}

		actor := snap.Actor
		g.logger.Info("navigation refused",
			slog.String("actor", actor.ID),
			slog.String("role", string(actor.Role)),
			slog.String("path", r.URL.Path))
		if g.audit != nil {
			g.audit.RecordDenial(r.Context(), actor, r.URL.Path)
		}

		landing := actor.Role.Landing()
		if landing == r.URL.Path || !grants.Allows(landing) {
			g.record(OutcomeForbidden)
			httpx.RespondError(w, httpx.ErrForbidden)
			return
		}
		if sess := shared.SessionFromContext(r.Context()); sess != nil {
			sess.AddFlash(shared.FlashMessage{Kind: "warning", Message: deniedNotice})
		}
		g.record(OutcomeRedirected)
		http.Redirect(w, r, landing, http.StatusSeeOther)
	})
}

func (g *Guard) record(outcome string) {
	if g.metrics != nil {
		g.metrics.RecordAuthzDecision(outcome)
	}
}
