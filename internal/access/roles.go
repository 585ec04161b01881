package access

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
)

// ErrUnknownRole indicates a role outside the closed enumeration.
var ErrUnknownRole = errors.New("access: unknown role")

// ErrUnknownLevel indicates a level string that does not map to a known level.
var ErrUnknownLevel = errors.New("access: unknown level")

// Role identifies an actor role.
type Role string

// Supported roles.
const (
	RoleAdmin     Role = "ADMIN"
	RoleAgency    Role = "AGENCIA"
	RolePromoter  Role = "PROMOTOR"
	RoleAssistant Role = "ASISTENTE"
	RoleClient    Role = "CLIENTE"
)

// AllRoles lists every role in display order.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleAgency, RolePromoter, RoleAssistant, RoleClient}
}

// ParseRole resolves a role claim case-insensitively.
func ParseRole(raw string) (Role, error) {
	// Casers carry state; one per call.
	folder := cases.Fold()
	folded := folder.String(strings.TrimSpace(raw))
	for _, role := range AllRoles() {
		if folder.String(string(role)) == folded {
			return role, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownRole, raw)
}

// Valid reports whether r belongs to the enumeration.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleAgency, RolePromoter, RoleAssistant, RoleClient:
		return true
	}
	return false
}

// Slug returns the lowercase path segment owned by the role.
func (r Role) Slug() string {
	return strings.ToLower(string(r))
}

// Landing returns the default dashboard path for the role.
func (r Role) Landing() string {
	if !r.Valid() {
		return "/"
	}
	return "/" + r.Slug() + "/dashboard"
}

// Level is the granted or required level of a permission.
type Level string

// Permission levels. LevelAdmin satisfies every requirement.
const (
	LevelView  Level = "view"
	LevelEdit  Level = "edit"
	LevelAdmin Level = "admin"
)

// ParseLevel resolves a level string. Empty input defaults to LevelView.
func ParseLevel(raw string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(raw))) {
	case "", LevelView:
		return LevelView, nil
	case LevelEdit:
		return LevelEdit, nil
	case LevelAdmin:
		return LevelAdmin, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLevel, raw)
}

// Satisfies reports whether a grant at level l meets a requirement at required.
// Only an exact match or an admin grant qualifies.
func (l Level) Satisfies(required Level) bool {
	switch l {
	case LevelAdmin:
		return true
	case LevelView, LevelEdit:
		return l == required
	}
	return false
}

// AccessLevel is the coarse tier attached to a role.
type AccessLevel string

// Access tiers. AccessAdmin satisfies every requirement.
const (
	AccessBasic    AccessLevel = "basic"
	AccessAdvanced AccessLevel = "advanced"
	AccessAdmin    AccessLevel = "admin"
)

// Satisfies reports whether tier a meets required.
func (a AccessLevel) Satisfies(required AccessLevel) bool {
	switch a {
	case AccessAdmin:
		return true
	case AccessBasic, AccessAdvanced:
		return a == required
	}
	return false
}
