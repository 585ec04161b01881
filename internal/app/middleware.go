package app

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"

	"github.com/agencyhub/backoffice/internal/auth"
	"github.com/agencyhub/backoffice/internal/observability"
	"github.com/agencyhub/backoffice/internal/platform/httpx"
	"github.com/agencyhub/backoffice/internal/shared"
)

const (
	defaultRequestTimeout = 30 * time.Second
	requestsPerMinute     = 60
)

// MiddlewareConfig aggregates dependencies shared by the middleware stack.
type MiddlewareConfig struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Metrics        *observability.Metrics
	// Actors resolves the session snapshot after the cookie session is loaded.
	Actors func(http.Handler) http.Handler
}

// MiddlewareStack returns the ordered middleware chain for the router.
func MiddlewareStack(cfg MiddlewareConfig) []func(http.Handler) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	stack := []func(http.Handler) http.Handler{
		middleware.RealIP,
		middleware.RequestID,
		cookieSessions(cfg.SessionManager, logger),
		middleware.Recoverer,
		middleware.Timeout(requestTimeout(cfg.Config)),
		securityHeaders(cfg.Config, logger),
		middleware.Compress(5),
		httprate.Limit(requestsPerMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "request limit reached")
			}),
		),
		csrfProtection(cfg.CSRFManager, logger),
	}
	if cfg.Actors != nil {
		stack = append(stack, cfg.Actors)
	}
	if cfg.Metrics != nil {
		stack = append(stack, cfg.Metrics.Middleware)
	}
	return stack
}

func requestTimeout(cfg *Config) time.Duration {
	if cfg != nil && cfg.AppRequestTimeout > 0 {
		return cfg.AppRequestTimeout
	}
	return defaultRequestTimeout
}

func securityHeaders(cfg *Config, logger *slog.Logger) func(http.Handler) http.Handler {
	sec := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		PermissionsPolicy:     "geolocation=(), camera=(), microphone=()",
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'",
		SSLRedirect:           cfg != nil && cfg.IsProduction(),
		SSLProxyHeaders:       map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:         cfg == nil || !cfg.IsProduction(),
	})
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := sec.Process(w, r); err != nil {
				logger.Warn("request blocked by security headers", slog.Any("error", err), slog.String("host", r.Host))
				httpx.Problem(w, http.StatusBadRequest, "Bad Request", "request rejected")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// sessionWriter persists the cookie session right before the first header write.
type sessionWriter struct {
	http.ResponseWriter
	req       *http.Request
	sess      *shared.Session
	manager   *shared.SessionManager
	logger    *slog.Logger
	committed bool
}

func (w *sessionWriter) WriteHeader(status int) {
	if !w.committed {
		w.committed = true
		if err := w.manager.Commit(w.req.Context(), w.ResponseWriter, w.req, w.sess); err != nil {
			w.logger.Error("commit session", slog.Any("error", err), slog.String("path", w.req.URL.Path))
		}
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *sessionWriter) Write(data []byte) (int, error) {
	if !w.committed {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(data)
}

func (w *sessionWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func cookieSessions(manager *shared.SessionManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := manager.Load(r.Context(), r)
			if err != nil {
				logger.Error("load session", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Service Unavailable", "session store unavailable")
				return
			}
			r = r.WithContext(shared.ContextWithSession(r.Context(), sess))
			next.ServeHTTP(&sessionWriter{
				ResponseWriter: w,
				req:            r,
				sess:           sess,
				manager:        manager,
				logger:         logger,
			}, r)
		})
	}
}

func csrfProtection(manager *shared.CSRFManager, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			// Bearer requests are not cookie-authenticated.
			if _, ok := auth.BearerToken(r); ok {
				next.ServeHTTP(w, r)
				return
			}
			token := r.Header.Get("X-CSRF-Token")
			if token == "" {
				token = r.PostFormValue(shared.CSRFFormField)
			}
			if err := manager.VerifyToken(r.Context(), shared.SessionFromContext(r.Context()), token); err != nil {
				logger.Warn("csrf check failed", slog.Any("error", err), slog.String("path", r.URL.Path))
				httpx.Problem(w, http.StatusForbidden, "Forbidden", "invalid csrf token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
