package app_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/app"
	"github.com/agencyhub/backoffice/internal/auth"
	"github.com/agencyhub/backoffice/internal/identity"
	"github.com/agencyhub/backoffice/internal/navigation"
	"github.com/agencyhub/backoffice/internal/observability"
	"github.com/agencyhub/backoffice/internal/session"
	"github.com/agencyhub/backoffice/internal/shared"
	"github.com/agencyhub/backoffice/jobs"
	_ "github.com/agencyhub/backoffice/testing"
)

type userRepo struct {
	users map[string]*identity.User
}

func (r *userRepo) FindByEmail(ctx context.Context, email string) (*identity.User, error) {
	if u, ok := r.users[email]; ok {
		return u, nil
	}
	return nil, identity.ErrNotFound
}

func (r *userRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return nil
}

func (r *userRepo) DeleteSession(ctx context.Context, id string) error { return nil }

func (r *userRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	return nil, nil
}

type browser struct {
	t       *testing.T
	handler http.Handler
	jar     map[string]*http.Cookie
	csrf    string
}

func newBrowser(t *testing.T) *browser {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &userRepo{users: map[string]*identity.User{
		"promotor@example.com": {ID: 11, Email: "promotor@example.com", PasswordHash: string(hash), Role: "PROMOTOR", IsActive: true},
		"admin@example.com":    {ID: 1, Email: "admin@example.com", PasswordHash: string(hash), Role: "ADMIN", IsActive: true},
	}}

	catalog := access.DefaultCatalog()
	metrics := observability.NewMetrics()
	svc := identity.NewService(repo, identity.NewRedisStore(client), identity.NewBroadcaster(client, nil), time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	provider := session.NewProvider(svc, catalog, nil, metrics)
	provider.Start(ctx)

	policy := navigation.DefaultPolicy(catalog)
	resolver := navigation.NewResolver(navigation.NewAuthorizer(policy.Table, catalog))
	sessions := shared.NewSessionManager(client, "bo_session", "session-secret", time.Hour, false)
	csrf := shared.NewCSRFManager("csrf-secret")
	guard := access.Middleware{Catalog: catalog}

	handler := app.NewRouter(app.RouterParams{
		Config:            &app.Config{AppEnv: "test"},
		SessionManager:    sessions,
		CSRFManager:       csrf,
		AuthHandler:       auth.NewHandler(nil, provider, nil, sessions, csrf, nil),
		AuthMiddleware:    auth.Middleware{Provider: provider},
		AccessHandler:     access.NewHandler(catalog, guard),
		AccessMiddleware:  guard,
		NavigationHandler: navigation.NewHandler(resolver, navigation.NewComposer(policy.Menu), navigation.NewGuard(resolver, nil, nil, metrics)),
		JobHandler:        jobs.NewHandler(nil, nil),
		Metrics:           metrics,
	})
	return &browser{t: t, handler: handler, jar: make(map[string]*http.Cookie)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	for _, c := range b.jar {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	b.handler.ServeHTTP(rr, req)
	for _, c := range rr.Result().Cookies() {
		b.jar[c.Name] = c
	}
	return rr
}

func (b *browser) get(path string) *httptest.ResponseRecorder {
	return b.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (b *browser) fetchCSRF() {
	rr := b.get("/auth/csrf")
	require.Equal(b.t, http.StatusOK, rr.Code)
	var body struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(b.t, json.Unmarshal(rr.Body.Bytes(), &body))
	b.csrf = body.Token
}

func (b *browser) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if b.csrf != "" {
		req.Header.Set("X-CSRF-Token", b.csrf)
	}
	return b.do(req)
}

func (b *browser) login(email string) {
	b.fetchCSRF()
	rr := b.post("/auth/login", url.Values{"email": {email}, "password": {"password123"}})
	require.Equal(b.t, http.StatusOK, rr.Code, rr.Body.String())
	var body struct {
		Token string `json:"csrf_token"`
	}
	require.NoError(b.t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotEmpty(b.t, body.Token)
	b.csrf = body.Token
}

func TestHealthz(t *testing.T) {
	b := newBrowser(t)
	rr := b.get("/healthz")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestRootRedirects(t *testing.T) {
	b := newBrowser(t)
	rr := b.get("/")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, navigation.LoginPath, rr.Header().Get("Location"))

	b.login("promotor@example.com")
	rr = b.get("/")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/promotor/dashboard", rr.Header().Get("Location"))
}

func TestLoginRequiresCSRFToken(t *testing.T) {
	b := newBrowser(t)
	rr := b.post("/auth/login", url.Values{"email": {"promotor@example.com"}, "password": {"password123"}})
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestGuardedPagesFollowRole(t *testing.T) {
	b := newBrowser(t)
	rr := b.get("/promotor/dashboard")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, navigation.LoginPath, rr.Header().Get("Location"))

	b.login("promotor@example.com")
	rr = b.get("/promotor/dashboard")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = b.get("/admin/usuarios")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/promotor/dashboard", rr.Header().Get("Location"))

	rr = b.get("/api/session")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "No tienes acceso a esa sección.")
}

func TestAdminSurfaces(t *testing.T) {
	b := newBrowser(t)
	b.login("promotor@example.com")
	assert.Equal(t, http.StatusForbidden, b.get("/jobs/health").Code)
	assert.Equal(t, http.StatusForbidden, b.get("/api/catalog/roles").Code)

	admin := newBrowser(t)
	admin.login("admin@example.com")
	assert.Equal(t, http.StatusOK, admin.get("/jobs/health").Code)
	rr := admin.get("/api/catalog/roles")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "PROMOTOR")
}

func TestLoginReissuesCSRFToken(t *testing.T) {
	b := newBrowser(t)
	b.fetchCSRF()
	anonymous := b.csrf
	b.login("promotor@example.com")
	require.NotEqual(t, anonymous, b.csrf)

	fresh := b.csrf
	b.csrf = anonymous
	assert.Equal(t, http.StatusForbidden, b.post("/auth/logout", nil).Code)

	b.csrf = fresh
	assert.Equal(t, http.StatusNoContent, b.post("/auth/logout", nil).Code)
}

func TestLogoutClearsSession(t *testing.T) {
	b := newBrowser(t)
	b.login("promotor@example.com")
	rr := b.post("/auth/logout", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = b.get("/promotor/dashboard")
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, navigation.LoginPath, rr.Header().Get("Location"))
}

func TestMetricsEndpoint(t *testing.T) {
	b := newBrowser(t)
	b.get("/healthz")
	rr := b.get("/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "backoffice_http_requests_total")
}
