package navigation

// MenuNode is one entry of the navigation tree. Section headers have no path.
type MenuNode struct {
	Key      string     `json:"key"`
	Label    string     `json:"label"`
	Path     string     `json:"path,omitempty"`
	Icon     string     `json:"icon,omitempty"`
	Children []MenuNode `json:"children,omitempty"`
}

// Composer filters the static menu definition for an actor.
type Composer struct {
	menu []MenuNode
}

// NewComposer constructs a Composer over a private copy of menu.
func NewComposer(menu []MenuNode) *Composer {
	return &Composer{menu: cloneMenu(menu)}
}

// Definition returns a copy of the static menu.
func (c *Composer) Definition() []MenuNode {
	return cloneMenu(c.menu)
}

// Compose keeps the nodes whose path is granted and the sections that keep at least one child.
func (c *Composer) Compose(g *Grants) []MenuNode {
	if g.Empty() {
		return []MenuNode{}
	}
	return filterMenu(c.menu, g)
}

func filterMenu(nodes []MenuNode, g *Grants) []MenuNode {
	out := make([]MenuNode, 0, len(nodes))
	for _, n := range nodes {
		children := filterMenu(n.Children, g)
		own := n.Path != "" && g.Allows(n.Path)
		if !own && len(children) == 0 {
			continue
		}
		kept := MenuNode{Key: n.Key, Label: n.Label, Path: n.Path, Icon: n.Icon}
		if len(children) > 0 {
			kept.Children = children
		}
		out = append(out, kept)
	}
	return out
}

func cloneMenu(nodes []MenuNode) []MenuNode {
	if nodes == nil {
		return nil
	}
	out := make([]MenuNode, len(nodes))
	for i, n := range nodes {
		out[i] = n
		out[i].Children = cloneMenu(n.Children)
	}
	return out
}
