package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/identity"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
)

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Middleware resolves the caller's session snapshot and actor.
type Middleware struct {
	Provider *session.Provider
	Tokens   *identity.TokenIssuer
	Logger   *slog.Logger
}

// Resolve stores the session snapshot, and the actor when authenticated, in the request context.
// An unreachable identity provider leaves the request unauthenticated.
func (m Middleware) Resolve(next http.Handler) http.Handler {
	logger := m.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		sess := shared.SessionFromContext(ctx)

		sessionID := ""
		fromCookie := false
		if raw, ok := BearerToken(r); ok {
			if m.Tokens == nil {
				httpx.RespondError(w, httpx.ErrUnauthorized)
				return
			}
			claims, err := m.Tokens.Parse(raw)
			if err != nil {
				httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", identity.ErrInvalidToken.Error())
				return
			}
			sessionID = claims.SessionID()
		} else if sess != nil {
			sessionID = sess.Get(shared.IdentitySessionKey)
			fromCookie = sessionID != ""
		}

		snap, err := m.Provider.Load(ctx, sessionID)
		if err != nil {
			logger.Warn("session treated as unauthenticated", slog.String("session", sessionID), slog.Any("error", err))
		}
		if !snap.Authenticated() && fromCookie && err == nil {
			sess.Delete(shared.IdentitySessionKey)
		}

		ctx = session.ContextWithSnapshot(ctx, snap)
		if snap.Authenticated() {
			ctx = access.ContextWithActor(ctx, snap.Actor)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
