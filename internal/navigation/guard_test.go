package navigation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/session"
)

type denialLog struct {
	mu    sync.Mutex
	paths []string
}

func (d *denialLog) RecordDenial(ctx context.Context, actor access.Actor, path string) {
	d.mu.Lock()
	d.paths = append(d.paths, path)
	d.mu.Unlock()
}

type outcomes struct {
	mu     sync.Mutex
	counts map[string]int
}

func (o *outcomes) RecordAuthzDecision(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[string]int)
	}
	o.counts[outcome]++
}

type fixture struct {
	router   chi.Router
	resolver *Resolver
	denials  *denialLog
	outcomes *outcomes
}

func newFixture(t *testing.T, policy *Policy) fixture {
	t.Helper()
	catalog := access.DefaultCatalog()
	if policy == nil {
		policy = DefaultPolicy(catalog)
	}
	resolver := NewResolver(NewAuthorizer(policy.Table, catalog))
	denials := &denialLog{}
	counts := &outcomes{}
	handler := NewHandler(resolver, NewComposer(policy.Menu), NewGuard(resolver, nil, denials, counts))
	r := chi.NewRouter()
	r.Route("/api/navigation", handler.MountRoutes)
	handler.MountPages(r)
	return fixture{router: r, resolver: resolver, denials: denials, outcomes: counts}
}

func snapshotFor(role access.Role) session.Snapshot {
	return session.Snapshot{
		SessionID: "s-" + string(role),
		State:     session.StateAuthenticated,
		Actor:     access.Actor{ID: "1", Email: "demo@example.com", Role: role},
		Version:   1,
	}
}

func (f fixture) get(path string, snap *session.Snapshot) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if snap != nil {
		req = req.WithContext(session.ContextWithSnapshot(req.Context(), *snap))
	}
	rr := httptest.NewRecorder()
	f.router.ServeHTTP(rr, req)
	return rr
}

func TestGuardAllowsAuthorizedPage(t *testing.T) {
	f := newFixture(t, nil)
	snap := snapshotFor(access.RolePromoter)

	rr := f.get("/promotor/clientes", &snap)
	require.Equal(t, http.StatusOK, rr.Code)

	var page pageResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &page))
	assert.Equal(t, "/promotor/clientes", page.Path)
	assert.Equal(t, "Mis clientes", page.Title)
	assert.Equal(t, access.RolePromoter, page.Actor.Role)
	assert.NotEmpty(t, page.Menu)
}

func TestGuardRedirectsRefusedPageToLanding(t *testing.T) {
	f := newFixture(t, nil)
	snap := snapshotFor(access.RolePromoter)

	rr := f.get("/admin/usuarios", &snap)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/promotor/dashboard", rr.Header().Get("Location"))
	assert.Equal(t, []string{"/admin/usuarios"}, f.denials.paths)
	assert.Equal(t, 1, f.outcomes.counts[OutcomeRedirected])
}

func TestGuardRedirectsAnonymousToLogin(t *testing.T) {
	f := newFixture(t, nil)

	rr := f.get("/cliente/dashboard", nil)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, LoginPath, rr.Header().Get("Location"))

	loading := session.Snapshot{SessionID: "s", State: session.StateLoading}
	rr = f.get("/cliente/dashboard", &loading)
	assert.Equal(t, LoginPath, rr.Header().Get("Location"))
}

func TestGuardForbidsWhenLandingIsRefused(t *testing.T) {
	policy, err := ParsePolicy([]byte("rules:\n  - path: /ayuda\n"), access.DefaultCatalog())
	require.NoError(t, err)
	f := newFixture(t, policy)
	snap := snapshotFor(access.RoleClient)

	rr := f.get("/cliente/polizas", &snap)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	rr = f.get("/cliente/dashboard", &snap)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, 2, f.outcomes.counts[OutcomeForbidden])
}

func TestNavigationAPI(t *testing.T) {
	f := newFixture(t, nil)
	snap := snapshotFor(access.RoleAssistant)

	rr := f.get("/api/navigation/routes", &snap)
	require.Equal(t, http.StatusOK, rr.Code)
	var routes struct {
		Landing string   `json:"landing"`
		Paths   []string `json:"paths"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &routes))
	assert.Equal(t, "/asistente/dashboard", routes.Landing)
	assert.Equal(t, []string{"/asistente", "/ayuda", "/perfil"}, routes.Paths)

	rr = f.get("/api/navigation/authorize?path=/asistente/pagos/123", &snap)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"path":"/asistente/pagos/123","authorized":true}`, rr.Body.String())

	rr = f.get("/api/navigation/authorize?path=/pipeline", &snap)
	assert.JSONEq(t, `{"path":"/pipeline","authorized":false}`, rr.Body.String())

	rr = f.get("/api/navigation/authorize", &snap)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.get("/api/navigation/menu", &snap)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "asistente-pagos")
	assert.NotContains(t, rr.Body.String(), "admin-usuarios")

	rr = f.get("/api/navigation/menu", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestResolverFollowsSnapshots(t *testing.T) {
	f := newFixture(t, nil)
	updates := make(chan session.Snapshot, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.resolver.Run(ctx, updates) }()

	promoter := snapshotFor(access.RolePromoter)
	promoter.SessionID = "s-1"
	assert.True(t, f.resolver.Grants(promoter).Allows("/promotor/polizas"))

	agency := promoter
	agency.Actor.Role = access.RoleAgency
	agency.Version = 2
	updates <- agency
	require.Eventually(t, func() bool {
		return f.resolver.Grants(promoter).Allows("/agencia/clientes")
	}, time.Second, 5*time.Millisecond)

	updates <- session.Snapshot{SessionID: "s-1", State: session.StateUnauthenticated, Version: 3}
	require.Eventually(t, func() bool { return f.resolver.Cached() == 0 }, time.Second, 5*time.Millisecond)

	close(updates)
	assert.NoError(t, <-done)
}
