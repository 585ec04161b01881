package navigation

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/agencyhub/backoffice/internal/access"
)

// ErrInvalidPolicy wraps every route or menu definition error.
var ErrInvalidPolicy = errors.New("navigation: invalid policy")

// RouteRule declares who may reach a path and everything below it.
type RouteRule struct {
	Path                string        `json:"path"`
	AllowedRoles        []access.Role `json:"allowed_roles,omitempty"`
	RequiredPermissions []string      `json:"required_permissions,omitempty"`
	Level               access.Level  `json:"level"`
}

// Table is the validated set of route rules indexed by path segment.
type Table struct {
	rules []RouteRule
	root  *node
}

type node struct {
	children map[string]*node
	rule     int
}

func newNode() *node {
	return &node{children: make(map[string]*node), rule: -1}
}

// NewTable validates rules against catalog and indexes them.
func NewTable(rules []RouteRule, catalog *access.Catalog) (*Table, error) {
	t := &Table{root: newNode()}
	for i, rule := range rules {
		if err := validatePath(rule.Path); err != nil {
			return nil, fmt.Errorf("%w: rule %d: %v", ErrInvalidPolicy, i, err)
		}
		if rule.Level == "" {
			rule.Level = access.LevelView
		}
		if _, err := access.ParseLevel(string(rule.Level)); err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidPolicy, rule.Path, err)
		}
		for _, role := range rule.AllowedRoles {
			if !role.Valid() {
				return nil, fmt.Errorf("%w: rule %s: %w %q", ErrInvalidPolicy, rule.Path, access.ErrUnknownRole, role)
			}
		}
		for _, perm := range rule.RequiredPermissions {
			if _, ok := catalog.Definition(perm); !ok {
				return nil, fmt.Errorf("%w: rule %s: unknown permission %q", ErrInvalidPolicy, rule.Path, perm)
			}
		}

		n := t.root
		for _, seg := range segments(rule.Path) {
			child, ok := n.children[seg]
			if !ok {
				child = newNode()
				n.children[seg] = child
			}
			n = child
		}
		if n.rule >= 0 {
			return nil, fmt.Errorf("%w: duplicate rule %s", ErrInvalidPolicy, rule.Path)
		}
		n.rule = len(t.rules)
		rule.AllowedRoles = append([]access.Role(nil), rule.AllowedRoles...)
		rule.RequiredPermissions = append([]string(nil), rule.RequiredPermissions...)
		t.rules = append(t.rules, rule)
	}
	return t, nil
}

// Rules returns the rules in declaration order.
func (t *Table) Rules() []RouteRule {
	out := make([]RouteRule, len(t.rules))
	copy(out, t.rules)
	return out
}

// Rule returns the rule declared for exactly p.
func (t *Table) Rule(p string) (RouteRule, bool) {
	n := t.root
	for _, seg := range segments(p) {
		child, ok := n.children[seg]
		if !ok {
			return RouteRule{}, false
		}
		n = child
	}
	if n.rule < 0 {
		return RouteRule{}, false
	}
	return t.rules[n.rule], true
}

// covers reports whether some rule governs p, directly or through an ancestor.
func (t *Table) covers(p string) bool {
	found := false
	t.walk(p, func(int) bool {
		found = true
		return true
	})
	return found
}

// walk visits the rules governing p from the shallowest to the deepest. visit returns true to stop.
func (t *Table) walk(p string, visit func(rule int) bool) {
	n := t.root
	for _, seg := range segments(p) {
		child, ok := n.children[seg]
		if !ok {
			return
		}
		n = child
		if n.rule >= 0 && visit(n.rule) {
			return
		}
	}
}

func validatePath(p string) error {
	switch {
	case p == "":
		return errors.New("empty path")
	case !strings.HasPrefix(p, "/"):
		return fmt.Errorf("path %q must start with /", p)
	case p == "/":
		return errors.New("root path cannot carry a rule")
	case strings.HasSuffix(p, "/"):
		return fmt.Errorf("path %q has a trailing /", p)
	case strings.Contains(p, "//"):
		return fmt.Errorf("path %q has an empty segment", p)
	case strings.ContainsAny(p, " \t\r\n?#"):
		return fmt.Errorf("path %q contains whitespace or query characters", p)
	}
	for _, seg := range strings.Split(p[1:], "/") {
		if seg == "." || seg == ".." {
			return fmt.Errorf("path %q contains a relative segment", p)
		}
	}
	return nil
}

// segments splits a request path into cleaned, non-empty segments.
func segments(p string) []string {
	if p == "" {
		return nil
	}
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return nil
	}
	return strings.Split(cleaned[1:], "/")
}
