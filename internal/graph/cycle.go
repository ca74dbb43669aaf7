package graph

import (
	"errors"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/bomstore/internal/store"
)

// WouldCreateCycle reports whether relating parent → child would close a
// cycle: the two are the same component, or parent is already reachable
// from child. An unknown name yields false. The search reads the on-disk
// chains directly and marks each component once, so it terminates on any
// file, corrupt or not.
func WouldCreateCycle(cs ComponentSource, rs RelationSource, parent, child string) (bool, error) {
	p, err := lookup(cs, parent)
	if err != nil || p == nil {
		return false, err
	}
	c, err := lookup(cs, child)
	if err != nil || c == nil {
		return false, err
	}
	if p.Addr == c.Addr {
		return true, nil
	}

	visited := roaring.New()
	stack := []store.ComponentAddr{c.Addr}
	for len(stack) > 0 {
		addr := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if addr == p.Addr {
			return true, nil
		}
		if addr < 0 || !visited.CheckedAdd(uint32(addr)) {
			continue
		}

		rec, err := cs.Record(addr)
		if errors.Is(err, store.ErrFormat) {
			continue
		}
		if err != nil {
			return false, err
		}
		if !rec.Live() {
			continue
		}
		for rel, err := range rs.Chain(rec.RelationHead) {
			if err != nil {
				return false, err
			}
			if rel.Live() {
				stack = append(stack, rel.Child)
			}
		}
	}
	return false, nil
}

func lookup(cs ComponentSource, name string) (*store.ComponentRecord, error) {
	rec, err := cs.Lookup(name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
