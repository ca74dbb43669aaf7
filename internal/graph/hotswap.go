package graph

import (
	"sync"
)

// HotSwapGraph is a thread-safe holder for the current generation. Readers
// keep whatever generation they loaded; a reload swaps in a new one.
type HotSwapGraph struct {
	mu      sync.RWMutex
	current *Graph
}

func NewHotSwapGraph(initial *Graph) *HotSwapGraph {
	if initial == nil {
		initial = Empty()
	}
	return &HotSwapGraph{current: initial}
}

// Swap atomically replaces the current generation.
func (h *HotSwapGraph) Swap(g *Graph) {
	if g == nil {
		g = Empty()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.current = g
}

// Load returns the current generation.
func (h *HotSwapGraph) Load() *Graph {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Components delegates to the current generation.
func (h *HotSwapGraph) Components() []*Component { return h.Load().Components() }

// ByName delegates to the current generation.
func (h *HotSwapGraph) ByName(name string) (*Component, error) { return h.Load().ByName(name) }

// Tree delegates to the current generation.
func (h *HotSwapGraph) Tree(name string) ([]TreeLine, error) { return h.Load().Tree(name) }
