package navigation

import (
	"sort"

	"github.com/agencyhub/backoffice/internal/access"
)

// Grants is the set of rules accepted for one actor.
type Grants struct {
	table    *Table
	accepted []bool
	count    int
}

// Paths returns the accepted rule paths sorted.
func (g *Grants) Paths() []string {
	if g == nil {
		return []string{}
	}
	out := make([]string, 0, g.count)
	for i, ok := range g.accepted {
		if ok {
			out = append(out, g.table.rules[i].Path)
		}
	}
	sort.Strings(out)
	return out
}

// Empty reports whether no rule was accepted.
func (g *Grants) Empty() bool {
	return g == nil || g.count == 0
}

// Allows reports whether p equals an accepted rule path or lies below one.
func (g *Grants) Allows(p string) bool {
	if g.Empty() {
		return false
	}
	allowed := false
	g.table.walk(p, func(rule int) bool {
		allowed = g.accepted[rule]
		return allowed
	})
	return allowed
}

// Authorizer computes reachable paths from the route table and the permission catalog.
type Authorizer struct {
	table   *Table
	catalog *access.Catalog
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(table *Table, catalog *access.Catalog) *Authorizer {
	return &Authorizer{table: table, catalog: catalog}
}

// Table exposes the route table.
func (a *Authorizer) Table() *Table {
	return a.table
}

// Authorize evaluates every rule for actor. Role claims are matched
// case-insensitively; an actor outside the role enumeration reaches public
// rules only.
func (a *Authorizer) Authorize(actor access.Actor) *Grants {
	g := &Grants{table: a.table, accepted: make([]bool, len(a.table.rules))}
	var effective []access.Permission
	if role, err := access.ParseRole(string(actor.Role)); err == nil {
		actor.Role = role
		effective = access.EffectivePermissions(a.catalog, actor)
	} else {
		actor.Role = ""
	}
	for i, rule := range a.table.rules {
		if accepts(rule, actor.Role, effective) {
			g.accepted[i] = true
			g.count++
		}
	}
	return g
}

// IsAuthorized reports whether actor may reach p.
func (a *Authorizer) IsAuthorized(p string, actor access.Actor) bool {
	return a.Authorize(actor).Allows(p)
}

// Empty returns grants accepting nothing.
func (a *Authorizer) Empty() *Grants {
	return &Grants{table: a.table, accepted: make([]bool, len(a.table.rules))}
}

func accepts(rule RouteRule, role access.Role, effective []access.Permission) bool {
	if len(rule.AllowedRoles) > 0 {
		for _, allowed := range rule.AllowedRoles {
			if allowed == role {
				return true
			}
		}
		return false
	}
	if len(rule.RequiredPermissions) > 0 {
		return access.HasAnyPermission(effective, rule.RequiredPermissions, rule.Level)
	}
	return true
}
