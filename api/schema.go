package api

import "github.com/agentic-research/bomstore/internal/graph"

// Listing is the full BOM report of one project.
type Listing struct {
	// Project is the component store path.
	Project string `json:"project"`
	// Components in activity order.
	Components []Component `json:"components"`
}

// Component is one live component and its direct children.
type Component struct {
	Name string `json:"name"`
	// Address is the byte offset of the record in the component store.
	Address  int32    `json:"address"`
	Type     string   `json:"type"` // assembly or leaf
	Children []string `json:"children,omitempty"`
}

// TreeNode is a specification tree rooted at one component.
type TreeNode struct {
	Name     string     `json:"name"`
	Type     string     `json:"type"`
	Repeated bool       `json:"repeated,omitempty"`
	Children []TreeNode `json:"children,omitempty"`
}

// NewComponent converts a materialized component.
func NewComponent(c *graph.Component) Component {
	out := Component{
		Name:    c.Name,
		Address: int32(c.Addr),
		Type:    c.Type().String(),
	}
	for _, ch := range c.Children {
		out.Children = append(out.Children, ch.Name)
	}
	return out
}

// NewListing converts a whole generation.
func NewListing(project string, g *graph.Graph) Listing {
	l := Listing{Project: project, Components: []Component{}}
	for _, c := range g.Components() {
		l.Components = append(l.Components, NewComponent(c))
	}
	return l
}

// NewTree nests the flattened lines produced by graph.Graph.Tree.
func NewTree(lines []graph.TreeLine) TreeNode {
	if len(lines) == 0 {
		return TreeNode{}
	}
	var build func(i int) (TreeNode, int)
	build = func(i int) (TreeNode, int) {
		l := lines[i]
		n := TreeNode{Name: l.Component.Name, Type: l.Component.Type().String(), Repeated: l.Repeated}
		j := i + 1
		for j < len(lines) && lines[j].Depth > l.Depth {
			var child TreeNode
			child, j = build(j)
			n.Children = append(n.Children, child)
		}
		return n, j
	}
	root, _ := build(0)
	return root
}
