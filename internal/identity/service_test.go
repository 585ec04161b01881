package identity

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type stubRepo struct {
	mu       sync.Mutex
	user     *User
	sessions map[string]time.Time
}

func (s *stubRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	if s.user == nil || s.user.Email != email {
		return nil, ErrNotFound
	}
	return s.user, nil
}

func (s *stubRepo) CreateSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions == nil {
		s.sessions = make(map[string]time.Time)
	}
	s.sessions[id] = expiresAt
	return nil
}

func (s *stubRepo) DeleteSession(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *stubRepo) DeleteExpiredSessions(ctx context.Context, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, exp := range s.sessions {
		if !now.Before(exp) {
			ids = append(ids, id)
			delete(s.sessions, id)
		}
	}
	return ids, nil
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestService(t *testing.T) (*Service, *stubRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	hash, err := bcrypt.GenerateFromPassword([]byte("secret123"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &stubRepo{user: &User{
		ID:           7,
		Email:        "promotor@example.com",
		PasswordHash: string(hash),
		Role:         "PROMOTOR",
		Permissions:  json.RawMessage(`{"permissions":[{"id":"reports.view","level":"view"}]}`),
		IsActive:     true,
	}}
	svc := NewService(repo, NewRedisStore(client), NewBroadcaster(client, nil), time.Hour)
	return svc, repo, mr
}

func TestSignInRejectsBadCredentials(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignIn(ctx, Credentials{Email: "promotor@example.com", Password: "wrong-password"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.SignIn(ctx, Credentials{Email: "nobody@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	repo.user.IsActive = false
	_, err = svc.SignIn(ctx, Credentials{Email: "promotor@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestSignInSignOutLifecycle(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := &recorder{}
	cancel := svc.OnSessionChange(rec.handle)
	defer cancel()

	sess, err := svc.SignIn(ctx, Credentials{Email: "promotor@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, "PROMOTOR", sess.RoleClaim)
	assert.JSONEq(t, `{"permissions":[{"id":"reports.view","level":"view"}]}`, string(sess.Metadata))

	current, err := svc.CurrentSession(ctx, sess.ID)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, sess.ID, current.ID)
	assert.Equal(t, int64(7), current.UserID)

	require.NoError(t, svc.SignOut(ctx, sess.ID))
	current, err = svc.CurrentSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, current)

	assert.Equal(t, []EventKind{EventUpdated, EventRevoked}, rec.kinds())
}

func TestOnSessionChangeCancel(t *testing.T) {
	svc, _, _ := newTestService(t)
	rec := &recorder{}
	cancel := svc.OnSessionChange(rec.handle)
	cancel()

	_, err := svc.SignIn(context.Background(), Credentials{Email: "promotor@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.Empty(t, rec.kinds())
}

func TestCurrentSessionUnavailable(t *testing.T) {
	svc, _, mr := newTestService(t)
	mr.Close()

	_, err := svc.CurrentSession(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestExpireSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rec := &recorder{}
	defer svc.OnSessionChange(rec.handle)()

	sess, err := svc.SignIn(ctx, Credentials{Email: "promotor@example.com", Password: "secret123"})
	require.NoError(t, err)

	count, err := svc.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	count, err = svc.ExpireSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	current, err := svc.CurrentSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Nil(t, current)
	assert.Equal(t, []EventKind{EventUpdated, EventExpired}, rec.kinds())
}

func TestBroadcasterRelaysRemoteEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	local := NewBroadcaster(client, nil)
	remote := NewBroadcaster(client, nil)
	received := make(chan Event, 4)
	defer local.OnSessionChange(func(ev Event) { received <- ev })()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = local.Run(ctx) }()

	// Wait until the subscription is live before publishing.
	require.Eventually(t, func() bool {
		return len(mr.PubSubChannels("*")) > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, remote.Publish(ctx, Event{Kind: EventRevoked, SessionID: "s-1"}))

	select {
	case ev := <-received:
		assert.Equal(t, EventRevoked, ev.Kind)
		assert.Equal(t, "s-1", ev.SessionID)
	case <-time.After(2 * time.Second):
		t.Fatal("event not relayed")
	}
}
