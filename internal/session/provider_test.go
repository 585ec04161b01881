package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/identity"
)

type fakeIdentity struct {
	mu       sync.Mutex
	sessions map[string]identity.Session
	handlers map[int]func(identity.Event)
	next     int
	err      error
	gate     chan struct{}
	calls    atomic.Int32
}

func newFakeIdentity() *fakeIdentity {
	return &fakeIdentity{
		sessions: make(map[string]identity.Session),
		handlers: make(map[int]func(identity.Event)),
	}
}

func (f *fakeIdentity) put(sess identity.Session) {
	f.mu.Lock()
	f.sessions[sess.ID] = sess
	f.mu.Unlock()
}

func (f *fakeIdentity) SignIn(ctx context.Context, creds identity.Credentials) (identity.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return identity.Session{}, f.err
	}
	for _, sess := range f.sessions {
		if sess.Email == creds.Email {
			return sess, nil
		}
	}
	return identity.Session{}, identity.ErrInvalidCredentials
}

func (f *fakeIdentity) SignOut(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	delete(f.sessions, sessionID)
	err := f.err
	f.mu.Unlock()
	f.emit(identity.Event{Kind: identity.EventRevoked, SessionID: sessionID})
	return err
}

func (f *fakeIdentity) CurrentSession(ctx context.Context, sessionID string) (*identity.Session, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	sess, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	return &sess, nil
}

func (f *fakeIdentity) OnSessionChange(handler func(identity.Event)) func() {
	f.mu.Lock()
	id := f.next
	f.next++
	f.handlers[id] = handler
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.handlers, id)
		f.mu.Unlock()
	}
}

func (f *fakeIdentity) emit(ev identity.Event) {
	f.mu.Lock()
	handlers := make([]func(identity.Event), 0, len(f.handlers))
	for _, h := range f.handlers {
		handlers = append(handlers, h)
	}
	f.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

type countingRecorder struct {
	mu     sync.Mutex
	states []string
}

func (c *countingRecorder) RecordSessionTransition(state string) {
	c.mu.Lock()
	c.states = append(c.states, state)
	c.mu.Unlock()
}

func promoterSession(id string) identity.Session {
	return identity.Session{
		ID:        id,
		UserID:    42,
		Email:     "promotor@example.com",
		RoleClaim: "promotor",
		Metadata:  []byte(`{"permissions":[{"id":"reports.view","level":"view"},{"id":"bogus.perm","level":"view"}]}`),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestProvider(t *testing.T, idp *fakeIdentity) *Provider {
	t.Helper()
	p := NewProvider(idp, access.DefaultCatalog(), nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	p.Start(ctx)
	return p
}

func TestLoadAuthenticatesValidSession(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	recorder := &countingRecorder{}
	p := NewProvider(idp, access.DefaultCatalog(), nil, recorder)

	snap, err := p.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, snap.State)
	assert.Equal(t, access.RolePromoter, snap.Actor.Role)
	assert.Equal(t, "42", snap.Actor.ID)
	require.Len(t, snap.Actor.Permissions, 1)
	assert.Equal(t, access.PermReportsView, snap.Actor.Permissions[0].ID)
	assert.Equal(t, []string{"loading", "authenticated"}, recorder.states)

	cached, err := p.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, snap.Version, cached.Version)
	assert.Equal(t, int32(1), idp.calls.Load())
}

func TestLoadMissingSessionIsUnauthenticated(t *testing.T) {
	p := newTestProvider(t, newFakeIdentity())

	snap, err := p.Load(context.Background(), "missing")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snap.State)
	_, ok := p.Current("missing")
	assert.False(t, ok)

	snap, err = p.Load(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, snap.Authenticated())
}

func TestLoadFailsClosedWhenProviderUnavailable(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	idp.err = errors.New("dial tcp: connection refused")
	p := newTestProvider(t, idp)

	snap, err := p.Load(context.Background(), "s-1")
	assert.ErrorIs(t, err, ErrSessionUnavailable)
	assert.Equal(t, StateUnauthenticated, snap.State)
}

func TestLoadRejectsUnknownRoleClaim(t *testing.T) {
	idp := newFakeIdentity()
	sess := promoterSession("s-1")
	sess.RoleClaim = "SUPERVISOR"
	idp.put(sess)
	p := newTestProvider(t, idp)

	snap, err := p.Load(context.Background(), "s-1")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, snap.State)
}

func TestConcurrentLoadsShareOneCall(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	idp.gate = make(chan struct{})
	p := newTestProvider(t, idp)

	var wg sync.WaitGroup
	results := make([]Snapshot, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := p.Load(context.Background(), "s-1")
			assert.NoError(t, err)
			results[i] = snap
		}(i)
	}
	require.Eventually(t, func() bool { return idp.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(idp.gate)
	wg.Wait()

	assert.Equal(t, int32(1), idp.calls.Load())
	for _, snap := range results {
		assert.Equal(t, StateAuthenticated, snap.State)
		assert.Equal(t, results[0].Version, snap.Version)
	}
}

func TestRevocationDuringLoadWins(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	idp.gate = make(chan struct{})
	p := newTestProvider(t, idp)

	done := make(chan Snapshot, 1)
	go func() {
		snap, _ := p.Load(context.Background(), "s-1")
		done <- snap
	}()
	require.Eventually(t, func() bool {
		snap, ok := p.Current("s-1")
		return ok && snap.State == StateLoading
	}, time.Second, 5*time.Millisecond)

	idp.emit(identity.Event{Kind: identity.EventRevoked, SessionID: "s-1"})
	close(idp.gate)

	snap := <-done
	assert.Equal(t, StateUnauthenticated, snap.State)
	_, ok := p.Current("s-1")
	assert.False(t, ok)
}

func TestLoginLogoutPublishesSnapshots(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	p := newTestProvider(t, idp)
	updates, cancel := p.Subscribe(8)
	defer cancel()

	snap, err := p.Login(context.Background(), identity.Credentials{Email: "promotor@example.com"})
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, snap.State)

	require.NoError(t, p.Logout(context.Background(), "s-1"))
	_, ok := p.Current("s-1")
	assert.False(t, ok)

	first := <-updates
	second := <-updates
	assert.Equal(t, StateAuthenticated, first.State)
	assert.Equal(t, StateUnauthenticated, second.State)
	assert.Greater(t, second.Version, first.Version)
}

func TestLoginInvalidCredentials(t *testing.T) {
	p := newTestProvider(t, newFakeIdentity())

	snap, err := p.Login(context.Background(), identity.Credentials{Email: "nobody@example.com"})
	assert.ErrorIs(t, err, identity.ErrInvalidCredentials)
	assert.False(t, snap.Authenticated())
}

func TestExternalEventsConverge(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	p := newTestProvider(t, idp)
	_, err := p.Load(context.Background(), "s-1")
	require.NoError(t, err)

	upgraded := promoterSession("s-1")
	upgraded.RoleClaim = "AGENCIA"
	idp.emit(identity.Event{Kind: identity.EventUpdated, SessionID: "s-1", Session: &upgraded})

	snap, ok := p.Current("s-1")
	require.True(t, ok)
	assert.Equal(t, access.RoleAgency, snap.Actor.Role)

	// Events for sessions this instance never loaded are ignored.
	other := promoterSession("s-2")
	idp.emit(identity.Event{Kind: identity.EventUpdated, SessionID: "s-2", Session: &other})
	_, ok = p.Current("s-2")
	assert.False(t, ok)

	idp.emit(identity.Event{Kind: identity.EventExpired, SessionID: "s-1"})
	_, ok = p.Current("s-1")
	assert.False(t, ok)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	idp := newFakeIdentity()
	idp.put(promoterSession("s-1"))
	p := newTestProvider(t, idp)
	_, cancel := p.Subscribe(1)
	defer cancel()

	for i := 0; i < 5; i++ {
		_, err := p.Login(context.Background(), identity.Credentials{Email: "promotor@example.com"})
		require.NoError(t, err)
	}
	snap, ok := p.Current("s-1")
	require.True(t, ok)
	assert.True(t, snap.Authenticated())
}
