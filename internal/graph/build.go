package graph

import (
	"iter"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/bomstore/internal/store"
)

// ComponentSource is the read side of a component store.
type ComponentSource interface {
	Active() iter.Seq2[store.ComponentRecord, error]
	Lookup(name string) (store.ComponentRecord, error)
	Record(addr store.ComponentAddr) (store.ComponentRecord, error)
}

// RelationSource is the read side of a relation store.
type RelationSource interface {
	Chain(head store.RelationAddr) iter.Seq2[store.RelationRecord, error]
}

// Build materializes a fresh generation from the store pair.
//
//  1. Every active component becomes a node, keyed by address.
//  2. Each relation chain is walked (bounded by the store) and every live
//     relation whose child resolves to a node is attached, once.
//
// Children keep chain order, so the most recently added child comes first.
func Build(cs ComponentSource, rs RelationSource) (*Graph, error) {
	g := Empty()
	for rec, err := range cs.Active() {
		if err != nil {
			return nil, err
		}
		c := &Component{
			Name:         rec.Name,
			Addr:         rec.Addr,
			RelationHead: rec.RelationHead,
		}
		g.components = append(g.components, c)
		g.byAddr[c.Addr] = c
		key := strings.ToLower(c.Name)
		if _, dup := g.byName[key]; !dup {
			g.byName[key] = c
		}
	}

	for _, parent := range g.components {
		if parent.RelationHead == store.NoRelation {
			continue
		}
		seen := roaring.New()
		for rel, err := range rs.Chain(parent.RelationHead) {
			if err != nil {
				return nil, err
			}
			if !rel.Live() {
				continue
			}
			child, ok := g.byAddr[rel.Child]
			if !ok || seen.Contains(uint32(rel.Child)) {
				continue
			}
			seen.Add(uint32(rel.Child))
			parent.Children = append(parent.Children, child)
		}
	}
	return g, nil
}
