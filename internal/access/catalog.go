package access

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrInvalidCatalog wraps catalog construction failures.
var ErrInvalidCatalog = errors.New("access: invalid catalog")

// PermissionDef declares a permission id known to the catalog.
type PermissionDef struct {
	ID          string `json:"id"`
	Module      string `json:"module"`
	Description string `json:"description"`
}

// Permission is a capability granted at a level.
type Permission struct {
	ID     string `json:"id"`
	Module string `json:"module"`
	Level  Level  `json:"level"`
}

// RoleDef is a named bundle of permissions plus a coarse access tier.
type RoleDef struct {
	ID          Role         `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	AccessLevel AccessLevel  `json:"access_level"`
	Permissions []Permission `json:"permissions"`
}

// Catalog maps roles to their granted permissions. It is read-only after construction.
type Catalog struct {
	defs   []PermissionDef
	byID   map[string]PermissionDef
	roles  []RoleDef
	byRole map[Role]RoleDef
}

// NewCatalog validates definitions and role bundles and builds a Catalog.
func NewCatalog(defs []PermissionDef, roles []RoleDef) (*Catalog, error) {
	c := &Catalog{
		byID:   make(map[string]PermissionDef, len(defs)),
		byRole: make(map[Role]RoleDef, len(roles)),
	}
	for _, def := range defs {
		id := strings.TrimSpace(def.ID)
		if id == "" {
			return nil, fmt.Errorf("%w: permission id required", ErrInvalidCatalog)
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("%w: duplicate permission %q", ErrInvalidCatalog, id)
		}
		def.ID = id
		if def.Module == "" {
			def.Module = moduleOf(id)
		}
		c.byID[id] = def
		c.defs = append(c.defs, def)
	}
	for _, role := range roles {
		if !role.ID.Valid() {
			return nil, fmt.Errorf("%w: %w: %q", ErrInvalidCatalog, ErrUnknownRole, role.ID)
		}
		if _, dup := c.byRole[role.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate role %q", ErrInvalidCatalog, role.ID)
		}
		switch role.AccessLevel {
		case AccessBasic, AccessAdvanced, AccessAdmin:
		default:
			return nil, fmt.Errorf("%w: role %q has unknown access level %q", ErrInvalidCatalog, role.ID, role.AccessLevel)
		}
		perms := make([]Permission, 0, len(role.Permissions))
		for _, p := range role.Permissions {
			def, ok := c.byID[p.ID]
			if !ok {
				return nil, fmt.Errorf("%w: role %q grants unknown permission %q", ErrInvalidCatalog, role.ID, p.ID)
			}
			if _, err := ParseLevel(string(p.Level)); err != nil || p.Level == "" {
				return nil, fmt.Errorf("%w: role %q grants %q at level %q", ErrInvalidCatalog, role.ID, p.ID, p.Level)
			}
			p.Module = def.Module
			perms = append(perms, p)
		}
		role.Permissions = perms
		c.byRole[role.ID] = role
		c.roles = append(c.roles, role)
	}
	for _, role := range AllRoles() {
		if _, ok := c.byRole[role]; !ok {
			return nil, fmt.Errorf("%w: role %q not defined", ErrInvalidCatalog, role)
		}
	}
	return c, nil
}

// DefaultCatalog builds the agency catalog. It panics when the static tables are inconsistent.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(DefaultDefinitions(), DefaultRoles())
	if err != nil {
		panic(err)
	}
	return c
}

// PermissionsForRole returns a copy of the permissions granted to role.
func (c *Catalog) PermissionsForRole(role Role) ([]Permission, error) {
	def, ok := c.byRole[role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	perms := make([]Permission, len(def.Permissions))
	copy(perms, def.Permissions)
	return perms, nil
}

// Role returns the bundle registered for role.
func (c *Catalog) Role(role Role) (RoleDef, error) {
	def, ok := c.byRole[role]
	if !ok {
		return RoleDef{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}
	def.Permissions = append([]Permission(nil), def.Permissions...)
	return def, nil
}

// Roles lists role bundles in registration order.
func (c *Catalog) Roles() []RoleDef {
	roles := make([]RoleDef, 0, len(c.roles))
	for _, r := range c.roles {
		r.Permissions = append([]Permission(nil), r.Permissions...)
		roles = append(roles, r)
	}
	return roles
}

// Definitions lists permission definitions sorted by id.
func (c *Catalog) Definitions() []PermissionDef {
	defs := append([]PermissionDef(nil), c.defs...)
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs
}

// Definition looks up a permission definition.
func (c *Catalog) Definition(id string) (PermissionDef, bool) {
	def, ok := c.byID[id]
	return def, ok
}

func moduleOf(id string) string {
	if idx := strings.IndexByte(id, '.'); idx > 0 {
		return id[:idx]
	}
	return id
}
