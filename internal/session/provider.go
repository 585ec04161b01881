package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/identity"
)

// ErrSessionUnavailable indicates the identity provider could not be reached.
var ErrSessionUnavailable = errors.New("session: identity provider unavailable")

// State is the authentication state of one session.
type State string

// Session states.
const (
	StateUnauthenticated State = "unauthenticated"
	StateLoading         State = "loading"
	StateAuthenticated   State = "authenticated"
)

// Snapshot is an immutable view of a session at a given version.
type Snapshot struct {
	SessionID string       `json:"session_id,omitempty"`
	State     State        `json:"state"`
	Actor     access.Actor `json:"actor"`
	ExpiresAt time.Time    `json:"expires_at,omitempty"`
	Version   uint64       `json:"version"`
}

// Authenticated reports whether the snapshot carries an actor.
func (s Snapshot) Authenticated() bool {
	return s.State == StateAuthenticated
}

// IdentityProvider is the external identity collaborator.
type IdentityProvider interface {
	SignIn(ctx context.Context, creds identity.Credentials) (identity.Session, error)
	SignOut(ctx context.Context, sessionID string) error
	CurrentSession(ctx context.Context, sessionID string) (*identity.Session, error)
	OnSessionChange(handler func(identity.Event)) func()
}

// TransitionRecorder observes state transitions.
type TransitionRecorder interface {
	RecordSessionTransition(state string)
}

// Provider owns the actor of every session this instance has seen.
type Provider struct {
	idp      IdentityProvider
	catalog  *access.Catalog
	logger   *slog.Logger
	recorder TransitionRecorder
	loads    singleflight.Group
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]Snapshot
	version  uint64
	subs     map[int]chan Snapshot
	nextSub  int
	stop     func()
}

// NewProvider constructs a Provider. recorder may be nil.
func NewProvider(idp IdentityProvider, catalog *access.Catalog, logger *slog.Logger, recorder TransitionRecorder) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		idp:      idp,
		catalog:  catalog,
		logger:   logger,
		recorder: recorder,
		now:      time.Now,
		sessions: make(map[string]Snapshot),
		subs:     make(map[int]chan Snapshot),
	}
}

// Start registers for identity change events until ctx is done.
func (p *Provider) Start(ctx context.Context) {
	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return
	}
	p.stop = p.idp.OnSessionChange(p.handleEvent)
	p.mu.Unlock()
	context.AfterFunc(ctx, p.Close)
}

// Close stops listening for identity events and closes every subscription.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		p.stop()
		p.stop = nil
	}
	for id, ch := range p.subs {
		close(ch)
		delete(p.subs, id)
	}
}

// Subscribe returns a channel of snapshots. Slow subscribers miss snapshots instead of blocking writers.
func (p *Provider) Subscribe(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)
	p.mu.Lock()
	id := p.nextSub
	p.nextSub++
	p.subs[id] = ch
	p.mu.Unlock()
	return ch, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if sub, ok := p.subs[id]; ok {
			close(sub)
			delete(p.subs, id)
		}
	}
}

// Current returns the last known snapshot for sessionID.
func (p *Provider) Current(sessionID string) (Snapshot, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.sessions[sessionID]
	return snap, ok
}

// Login signs in through the identity provider and authenticates the new session.
func (p *Provider) Login(ctx context.Context, creds identity.Credentials) (Snapshot, error) {
	sess, err := p.idp.SignIn(ctx, creds)
	if err != nil {
		if errors.Is(err, identity.ErrUnavailable) {
			return unauthenticated(""), fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
		}
		return unauthenticated(""), err
	}
	actor, err := p.actorFromSession(sess)
	if err != nil {
		if signOutErr := p.idp.SignOut(ctx, sess.ID); signOutErr != nil {
			p.logger.Warn("revoke session with unknown role", slog.String("session", sess.ID), slog.Any("error", signOutErr))
		}
		return unauthenticated(sess.ID), err
	}
	return p.apply(sess.ID, authenticated(sess, actor)), nil
}

// Load resolves the session through the identity provider. Concurrent loads of one session share a call.
// Failures leave the session unauthenticated.
func (p *Provider) Load(ctx context.Context, sessionID string) (Snapshot, error) {
	if sessionID == "" {
		return unauthenticated(""), nil
	}
	if snap, ok := p.Current(sessionID); ok && snap.Authenticated() && !p.expired(snap) {
		return snap, nil
	}
	v, err, _ := p.loads.Do(sessionID, func() (any, error) {
		return p.load(ctx, sessionID)
	})
	snap, _ := v.(Snapshot)
	if snap.State == "" {
		snap = unauthenticated(sessionID)
	}
	return snap, err
}

// Logout signs the session out. The local state is cleared even when the identity provider fails.
func (p *Provider) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	err := p.idp.SignOut(ctx, sessionID)
	p.drop(sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	return nil
}

func (p *Provider) load(ctx context.Context, sessionID string) (Snapshot, error) {
	loading := p.apply(sessionID, Snapshot{SessionID: sessionID, State: StateLoading})

	sess, err := p.idp.CurrentSession(ctx, sessionID)
	if err != nil {
		p.logger.Warn("identity provider unavailable", slog.String("session", sessionID), slog.Any("error", err))
		p.settle(loading, nil)
		return unauthenticated(sessionID), fmt.Errorf("%w: %v", ErrSessionUnavailable, err)
	}
	if sess == nil {
		return p.settle(loading, nil), nil
	}
	actor, err := p.actorFromSession(*sess)
	if err != nil {
		return p.settle(loading, nil), nil
	}
	next := authenticated(*sess, actor)
	return p.settle(loading, &next), nil
}

// settle finishes a load started at loading. A change observed in between wins over the loaded result.
func (p *Provider) settle(loading Snapshot, next *Snapshot) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.sessions[loading.SessionID]
	if !ok || current.Version != loading.Version {
		if ok {
			return current
		}
		return unauthenticated(loading.SessionID)
	}
	if next == nil {
		return p.removeLocked(loading.SessionID)
	}
	return p.storeLocked(*next)
}

func (p *Provider) handleEvent(ev identity.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[ev.SessionID]; !ok {
		return
	}
	switch ev.Kind {
	case identity.EventUpdated:
		if ev.Session == nil {
			return
		}
		actor, err := p.actorFromSession(*ev.Session)
		if err != nil {
			p.removeLocked(ev.SessionID)
			return
		}
		p.storeLocked(authenticated(*ev.Session, actor))
	case identity.EventRevoked, identity.EventExpired:
		p.removeLocked(ev.SessionID)
	default:
		p.logger.Warn("unknown session event", slog.String("kind", string(ev.Kind)))
	}
}

func (p *Provider) apply(sessionID string, snap Snapshot) Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap.SessionID = sessionID
	return p.storeLocked(snap)
}

func (p *Provider) drop(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.sessions[sessionID]; ok {
		p.removeLocked(sessionID)
	}
}

func (p *Provider) storeLocked(snap Snapshot) Snapshot {
	p.version++
	snap.Version = p.version
	p.sessions[snap.SessionID] = snap
	p.publishLocked(snap)
	return snap
}

func (p *Provider) removeLocked(sessionID string) Snapshot {
	p.version++
	delete(p.sessions, sessionID)
	snap := unauthenticated(sessionID)
	snap.Version = p.version
	p.publishLocked(snap)
	return snap
}

func (p *Provider) publishLocked(snap Snapshot) {
	if p.recorder != nil {
		p.recorder.RecordSessionTransition(string(snap.State))
	}
	for _, ch := range p.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (p *Provider) expired(snap Snapshot) bool {
	return !snap.ExpiresAt.IsZero() && !p.now().Before(snap.ExpiresAt)
}

func (p *Provider) actorFromSession(sess identity.Session) (access.Actor, error) {
	role, err := access.ParseRole(sess.RoleClaim)
	if err != nil {
		p.logger.Warn("session role rejected", slog.String("session", sess.ID), slog.Any("error", err))
		return access.Actor{}, err
	}
	perms, skipped, err := access.ParseGrants(p.catalog, sess.Metadata)
	if err != nil {
		p.logger.Warn("session grants ignored", slog.String("session", sess.ID), slog.Any("error", err))
		perms = nil
	}
	if len(skipped) > 0 {
		p.logger.Warn("session grants dropped", slog.String("session", sess.ID), slog.Any("ids", skipped))
	}
	return access.Actor{
		ID:          strconv.FormatInt(sess.UserID, 10),
		Email:       sess.Email,
		Role:        role,
		Permissions: perms,
	}, nil
}

func authenticated(sess identity.Session, actor access.Actor) Snapshot {
	return Snapshot{SessionID: sess.ID, State: StateAuthenticated, Actor: actor, ExpiresAt: sess.ExpiresAt}
}

func unauthenticated(sessionID string) Snapshot {
	return Snapshot{SessionID: sessionID, State: StateUnauthenticated}
}
