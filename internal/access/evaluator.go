package access

// HasPermission reports whether perms grants id at the required level.
// A grant qualifies on an exact level match or when it is held at LevelAdmin.
func HasPermission(perms []Permission, id string, required Level) bool {
	if required == "" {
		required = LevelView
	}
	for _, p := range perms {
		if p.ID == id && p.Level.Satisfies(required) {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one id passes HasPermission.
func HasAnyPermission(perms []Permission, ids []string, required Level) bool {
	for _, id := range ids {
		if HasPermission(perms, id, required) {
			return true
		}
	}
	return false
}

// HasRoleAccess reports whether role sits on the required tier or holds AccessAdmin.
func HasRoleAccess(role RoleDef, required AccessLevel) bool {
	if required == "" {
		required = AccessBasic
	}
	return role.AccessLevel.Satisfies(required)
}

// EffectivePermissions returns the union of the role grants and the actor's direct grants.
// An unknown role contributes nothing.
func EffectivePermissions(c *Catalog, actor Actor) []Permission {
	var perms []Permission
	if c != nil {
		if fromRole, err := c.PermissionsForRole(actor.Role); err == nil {
			perms = fromRole
		}
	}
	type key struct {
		id    string
		level Level
	}
	seen := make(map[key]struct{}, len(perms)+len(actor.Permissions))
	out := make([]Permission, 0, len(perms)+len(actor.Permissions))
	for _, p := range append(perms, actor.Permissions...) {
		k := key{p.ID, p.Level}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}
