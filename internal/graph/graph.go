package graph

import (
	"fmt"
	"strings"

	"github.com/agentic-research/bomstore/internal/store"
)

// Kind classifies a component by whether it has children.
type Kind int

const (
	Leaf Kind = iota
	Assembly
)

func (k Kind) String() string {
	if k == Assembly {
		return "assembly"
	}
	return "leaf"
}

// Component is one live component of a materialized generation.
// Children point into the same generation; they are never persisted.
type Component struct {
	Name         string
	Addr         store.ComponentAddr
	RelationHead store.RelationAddr
	Children     []*Component
}

// Type is Assembly iff the component has at least one child.
func (c *Component) Type() Kind {
	if len(c.Children) > 0 {
		return Assembly
	}
	return Leaf
}

// Graph is an immutable snapshot of the BOM, rebuilt wholesale from the
// store pair on every reload.
type Graph struct {
	components []*Component // activity-chain order
	byAddr     map[store.ComponentAddr]*Component
	byName     map[string]*Component // lower-cased name
}

// Empty returns a graph with no components.
func Empty() *Graph {
	return &Graph{
		byAddr: make(map[store.ComponentAddr]*Component),
		byName: make(map[string]*Component),
	}
}

// Len is the number of components.
func (g *Graph) Len() int { return len(g.components) }

// Components returns the components in activity-chain order.
func (g *Graph) Components() []*Component {
	out := make([]*Component, len(g.components))
	copy(out, g.components)
	return out
}

// ByAddr resolves a component store address.
func (g *Graph) ByAddr(addr store.ComponentAddr) (*Component, bool) {
	c, ok := g.byAddr[addr]
	return c, ok
}

// ByName resolves a component by case-insensitive name.
func (g *Graph) ByName(name string) (*Component, error) {
	c, ok := g.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("component %q: %w", name, store.ErrNotFound)
	}
	return c, nil
}

// Parents returns every component that lists name as a direct child
// (where-used), in activity-chain order.
func (g *Graph) Parents(name string) ([]*Component, error) {
	child, err := g.ByName(name)
	if err != nil {
		return nil, err
	}
	var out []*Component
	for _, c := range g.components {
		for _, ch := range c.Children {
			if ch == child {
				out = append(out, c)
				break
			}
		}
	}
	return out, nil
}

// TreeLine is one row of a specification tree.
type TreeLine struct {
	Depth     int
	Component *Component
	// Repeated marks a component that already appears among its own
	// ancestors; its children are not expanded again.
	Repeated bool
}

// Tree flattens the specification tree rooted at name in depth-first
// order. Shared subassemblies are expanded under every parent that uses
// them.
func (g *Graph) Tree(name string) ([]TreeLine, error) {
	root, err := g.ByName(name)
	if err != nil {
		return nil, err
	}

	var lines []TreeLine
	path := make(map[*Component]bool)
	var walk func(c *Component, depth int)
	walk = func(c *Component, depth int) {
		if path[c] {
			lines = append(lines, TreeLine{Depth: depth, Component: c, Repeated: true})
			return
		}
		lines = append(lines, TreeLine{Depth: depth, Component: c})
		path[c] = true
		for _, ch := range c.Children {
			walk(ch, depth+1)
		}
		delete(path, c)
	}
	walk(root, 0)
	return lines, nil
}
