package navigation

import (
	"context"
	"sync"

	"github.com/agencyhub/backoffice/internal/access"
	"github.com/agencyhub/backoffice/internal/session"
)

type resolved struct {
	version uint64
	role    access.Role
	grants  *Grants
}

// Resolver caches grants per session and recomputes them when the session changes.
type Resolver struct {
	authorizer *Authorizer

	mu    sync.RWMutex
	cache map[string]resolved
}

// NewResolver constructs a Resolver.
func NewResolver(authorizer *Authorizer) *Resolver {
	return &Resolver{authorizer: authorizer, cache: make(map[string]resolved)}
}

// Authorizer exposes the underlying authorizer.
func (r *Resolver) Authorizer() *Authorizer {
	return r.authorizer
}

// Grants returns the grants for snap. Unauthenticated snapshots get none.
func (r *Resolver) Grants(snap session.Snapshot) *Grants {
	if !snap.Authenticated() {
		return r.authorizer.Empty()
	}
	if snap.SessionID == "" {
		return r.authorizer.Authorize(snap.Actor)
	}
	r.mu.RLock()
	entry, ok := r.cache[snap.SessionID]
	r.mu.RUnlock()
	if ok && entry.version >= snap.Version {
		return entry.grants
	}
	return r.refresh(snap)
}

// Forget drops the cached grants of a session.
func (r *Resolver) Forget(sessionID string) {
	r.mu.Lock()
	delete(r.cache, sessionID)
	r.mu.Unlock()
}

// Cached reports how many sessions hold cached grants.
func (r *Resolver) Cached() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}

// Run applies snapshots from updates until ctx is done or updates is closed.
func (r *Resolver) Run(ctx context.Context, updates <-chan session.Snapshot) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case snap, ok := <-updates:
			if !ok {
				return nil
			}
			r.apply(snap)
		}
	}
}

func (r *Resolver) apply(snap session.Snapshot) {
	if !snap.Authenticated() {
		r.Forget(snap.SessionID)
		return
	}
	r.mu.RLock()
	entry, ok := r.cache[snap.SessionID]
	r.mu.RUnlock()
	if ok && entry.role == snap.Actor.Role && entry.version >= snap.Version {
		return
	}
	r.refresh(snap)
}

func (r *Resolver) refresh(snap session.Snapshot) *Grants {
	grants := r.authorizer.Authorize(snap.Actor)
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.cache[snap.SessionID]; ok && entry.version > snap.Version {
		return entry.grants
	}
	r.cache[snap.SessionID] = resolved{version: snap.Version, role: snap.Actor.Role, grants: grants}
	return grants
}
