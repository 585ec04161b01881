package navigation

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/agencyhub/backoffice/internal/access"
)

//go:embed policy.yaml
var defaultPolicy []byte

// Policy is the loaded route table and menu definition.
type Policy struct {
	Table *Table
	Menu  []MenuNode
}

type policyDocument struct {
	Rules []ruleSpec `koanf:"rules" validate:"required,min=1,dive"`
	Menu  []menuSpec `koanf:"menu" validate:"dive"`
}

type ruleSpec struct {
	Path        string   `koanf:"path" validate:"required,startswith=/"`
	Roles       []string `koanf:"roles" validate:"dive,required"`
	Permissions []string `koanf:"permissions" validate:"dive,required"`
	Level       string   `koanf:"level"`
}

type menuSpec struct {
	Key      string     `koanf:"key" validate:"required"`
	Label    string     `koanf:"label" validate:"required"`
	Path     string     `koanf:"path" validate:"omitempty,startswith=/"`
	Icon     string     `koanf:"icon"`
	Children []menuSpec `koanf:"children" validate:"dive"`
}

var policyKeys = map[string]struct{}{"rules": {}, "menu": {}}

// bytesProvider serves an in-memory document to koanf.
type bytesProvider []byte

func (b bytesProvider) ReadBytes() ([]byte, error) {
	return b, nil
}

func (b bytesProvider) Read() (map[string]any, error) {
	return nil, errors.New("navigation: bytes provider does not support Read")
}

// LoadPolicy reads the policy file at path, or the built-in policy when path is empty.
func LoadPolicy(path string, catalog *access.Catalog) (*Policy, error) {
	if strings.TrimSpace(path) == "" {
		return ParsePolicy(defaultPolicy, catalog)
	}
	return loadPolicy(file.Provider(path), catalog)
}

// ParsePolicy parses a YAML policy document.
func ParsePolicy(data []byte, catalog *access.Catalog) (*Policy, error) {
	return loadPolicy(bytesProvider(data), catalog)
}

// DefaultPolicy returns the built-in policy and panics when it is invalid.
func DefaultPolicy(catalog *access.Catalog) *Policy {
	p, err := ParsePolicy(defaultPolicy, catalog)
	if err != nil {
		panic(err)
	}
	return p
}

func loadPolicy(provider koanf.Provider, catalog *access.Catalog) (*Policy, error) {
	k := koanf.New(".")
	if err := k.Load(provider, yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	for _, key := range k.Keys() {
		top, _, _ := strings.Cut(key, ".")
		if _, ok := policyKeys[top]; !ok {
			return nil, fmt.Errorf("%w: unknown key %q", ErrInvalidPolicy, key)
		}
	}

	var doc policyDocument
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}
	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	rules := make([]RouteRule, 0, len(doc.Rules))
	for _, spec := range doc.Rules {
		rule, err := spec.rule()
		if err != nil {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidPolicy, spec.Path, err)
		}
		rules = append(rules, rule)
	}
	table, err := NewTable(rules, catalog)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	menu, err := buildMenu(doc.Menu, table, seen)
	if err != nil {
		return nil, err
	}
	return &Policy{Table: table, Menu: menu}, nil
}

func (s ruleSpec) rule() (RouteRule, error) {
	level, err := access.ParseLevel(s.Level)
	if err != nil {
		return RouteRule{}, err
	}
	rule := RouteRule{Path: strings.TrimSpace(s.Path), Level: level}
	for _, raw := range s.Roles {
		role, err := access.ParseRole(raw)
		if err != nil {
			return RouteRule{}, err
		}
		rule.AllowedRoles = append(rule.AllowedRoles, role)
	}
	for _, perm := range s.Permissions {
		rule.RequiredPermissions = append(rule.RequiredPermissions, strings.ToLower(strings.TrimSpace(perm)))
	}
	return rule, nil
}

func buildMenu(specs []menuSpec, table *Table, seen map[string]struct{}) ([]MenuNode, error) {
	nodes := make([]MenuNode, 0, len(specs))
	for _, spec := range specs {
		key := strings.TrimSpace(spec.Key)
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: duplicate menu key %q", ErrInvalidPolicy, key)
		}
		seen[key] = struct{}{}

		p := strings.TrimSpace(spec.Path)
		if p == "" && len(spec.Children) == 0 {
			return nil, fmt.Errorf("%w: menu section %q has no entries", ErrInvalidPolicy, key)
		}
		if p != "" {
			if err := validatePath(p); err != nil {
				return nil, fmt.Errorf("%w: menu %q: %v", ErrInvalidPolicy, key, err)
			}
			if !table.covers(p) {
				return nil, fmt.Errorf("%w: menu %q path %s is not covered by any rule", ErrInvalidPolicy, key, p)
			}
		}
		children, err := buildMenu(spec.Children, table, seen)
		if err != nil {
			return nil, err
		}
		node := MenuNode{Key: key, Label: spec.Label, Path: p, Icon: spec.Icon}
		if len(children) > 0 {
			node.Children = children
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}
