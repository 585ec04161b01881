package access

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Actor is the authenticated subject. Values are immutable snapshots owned by the session provider.
type Actor struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions,omitempty"`
}

// WithPermissions returns a copy of the actor holding perms as direct grants.
func (a Actor) WithPermissions(perms []Permission) Actor {
	a.Permissions = append([]Permission(nil), perms...)
	return a
}

type grantPayload struct {
	Permissions []struct {
		ID    string `json:"id"`
		Level string `json:"level"`
	} `json:"permissions"`
}

// ParseGrants decodes a metadata blob of the form {"permissions":[{"id":..,"level":..}]}.
// Grants naming ids outside the catalog are skipped and reported in the second return value.
func ParseGrants(c *Catalog, raw []byte) ([]Permission, []string, error) {
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, nil, nil
	}
	var payload grantPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, nil, fmt.Errorf("access: decode grants: %w", err)
	}
	var (
		perms   []Permission
		skipped []string
	)
	for _, entry := range payload.Permissions {
		def, ok := c.Definition(strings.TrimSpace(entry.ID))
		if !ok {
			skipped = append(skipped, entry.ID)
			continue
		}
		level, err := ParseLevel(entry.Level)
		if err != nil {
			skipped = append(skipped, entry.ID)
			continue
		}
		perms = append(perms, Permission{ID: def.ID, Module: def.Module, Level: level})
	}
	return perms, skipped, nil
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok
}
