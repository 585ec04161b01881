package auth

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/agencyhub/backoffice/internal/identity"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
)

// Auditor persists audit records.
type Auditor interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Handler wires HTTP endpoints for authentication flows.
type Handler struct {
	logger         *slog.Logger
	provider       *session.Provider
	tokens         *identity.TokenIssuer
	sessionManager *shared.SessionManager
	csrfManager    *shared.CSRFManager
	audit          Auditor
	validator      *validator.Validate
	loginLimit     int
}

// NewHandler constructs a Handler instance. tokens and audit may be nil.
func NewHandler(logger *slog.Logger, provider *session.Provider, tokens *identity.TokenIssuer, sessions *shared.SessionManager, csrf *shared.CSRFManager, audit Auditor) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:         logger,
		provider:       provider,
		tokens:         tokens,
		sessionManager: sessions,
		csrfManager:    csrf,
		audit:          audit,
		validator:      validator.New(),
		loginLimit:     10,
	}
}

// MountRoutes registers auth routes on provided router.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/csrf", h.csrf)
	r.Get("/login", h.showLogin)
	r.With(httprate.LimitByIP(h.loginLimit, time.Minute)).Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
	r.Post("/token", h.issueToken)
}

type loginForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type sessionResponse struct {
	State   session.State        `json:"state"`
	Actor   any                  `json:"actor,omitempty"`
	Landing string               `json:"landing,omitempty"`
	Notice  *shared.FlashMessage `json:"notice,omitempty"`
	// CSRFToken is set after login, when the session id and its token change.
	CSRFToken string `json:"csrf_token,omitempty"`
}

func (h *Handler) csrf(w http.ResponseWriter, r *http.Request) {
	token, err := h.csrfManager.EnsureToken(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"csrf_token": token})
}

func (h *Handler) showLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	token, err := h.csrfManager.EnsureToken(r.Context(), sess)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	resp := map[string]any{"csrf_token": token}
	if sess != nil {
		if flash := sess.PopFlash(); flash != nil {
			resp["notice"] = flash
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	form, err := decodeLogin(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "cuerpo de solicitud inválido")
		return
	}
	if err := h.validator.Struct(form); err != nil {
		fields := make(map[string]string)
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fieldErr := range verrs {
				fields[fieldErr.Field()] = fieldErr.Tag()
			}
		}
		httpx.ValidationProblem(w, fields)
		return
	}

	snap, err := h.provider.Login(r.Context(), identity.Credentials{
		Email:     form.Email,
		Password:  form.Password,
		IP:        r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	switch {
	case errors.Is(err, identity.ErrInvalidCredentials):
		h.logger.Info("login rejected", slog.String("email", form.Email))
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Correo o contraseña inválidos")
		return
	case errors.Is(err, session.ErrSessionUnavailable):
		h.logger.Warn("login unavailable", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "Intenta de nuevo más tarde")
		return
	case err != nil:
		h.logger.Error("login", slog.Any("error", err))
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "Correo o contraseña inválidos")
		return
	}

	var csrfToken string
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		h.sessionManager.Rotate(sess)
		sess.SetUser(snap.Actor.ID)
		sess.Set(shared.IdentitySessionKey, snap.SessionID)
		if csrfToken, err = h.csrfManager.EnsureToken(r.Context(), sess); err != nil {
			h.logger.Error("reissue csrf token", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
	} else {
		h.logger.Error("session missing during login")
	}
	h.record(r.Context(), snap.Actor.ID, "auth.login", snap.SessionID, map[string]any{"role": snap.Actor.Role})
	httpx.JSON(w, http.StatusOK, sessionResponse{
		State:     snap.State,
		Actor:     snap.Actor,
		Landing:   snap.Actor.Role.Landing(),
		Notice:    &shared.FlashMessage{Kind: "success", Message: "Bienvenido de nuevo"},
		CSRFToken: csrfToken,
	})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	snap, _ := session.SnapshotFromContext(r.Context())
	sessionID := snap.SessionID
	sess := shared.SessionFromContext(r.Context())
	if sessionID == "" && sess != nil {
		sessionID = sess.Get(shared.IdentitySessionKey)
	}
	if err := h.provider.Logout(r.Context(), sessionID); err != nil {
		h.logger.Warn("logout", slog.Any("error", err))
	}
	if sessionID != "" {
		h.record(r.Context(), snap.Actor.ID, "auth.logout", sessionID, nil)
	}
	if sess != nil {
		h.sessionManager.Destroy(sess)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) issueToken(w http.ResponseWriter, r *http.Request) {
	if h.tokens == nil {
		httpx.Problem(w, http.StatusNotFound, "Not Found", "bearer tokens are disabled")
		return
	}
	snap, ok := session.SnapshotFromContext(r.Context())
	if !ok || !snap.Authenticated() {
		httpx.RespondError(w, httpx.ErrUnauthorized)
		return
	}
	userID, _ := strconv.ParseInt(snap.Actor.ID, 10, 64)
	token, expires, err := h.tokens.Issue(identity.Session{
		ID:        snap.SessionID,
		UserID:    userID,
		Email:     snap.Actor.Email,
		RoleClaim: string(snap.Actor.Role),
		ExpiresAt: snap.ExpiresAt,
	})
	if err != nil {
		h.logger.Error("issue token", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_at":   expires,
	})
}

// CurrentSession reports the caller's session state.
func (h *Handler) CurrentSession(w http.ResponseWriter, r *http.Request) {
	snap, ok := session.SnapshotFromContext(r.Context())
	if !ok || !snap.Authenticated() {
		httpx.JSON(w, http.StatusOK, sessionResponse{State: session.StateUnauthenticated})
		return
	}
	resp := sessionResponse{State: snap.State, Actor: snap.Actor, Landing: snap.Actor.Role.Landing()}
	if sess := shared.SessionFromContext(r.Context()); sess != nil {
		resp.Notice = sess.PopFlash()
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) record(ctx context.Context, actorID, action, sessionID string, meta map[string]any) {
	if h.audit == nil {
		return
	}
	id, _ := strconv.ParseInt(actorID, 10, 64)
	if err := h.audit.Record(ctx, shared.AuditLog{
		ActorID:  id,
		Action:   action,
		Entity:   "session",
		EntityID: sessionID,
		Meta:     meta,
	}); err != nil {
		h.logger.Warn("audit", slog.String("action", action), slog.Any("error", err))
	}
}

func decodeLogin(r *http.Request) (loginForm, error) {
	var form loginForm
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := httpx.DecodeJSON(r, &form)
		return form, err
	}
	if err := r.ParseForm(); err != nil {
		return form, err
	}
	form.Email = r.PostFormValue("email")
	form.Password = r.PostFormValue("password")
	return form, nil
}
