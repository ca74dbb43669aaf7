// Package compact rewrites a component/relation store pair with every
// tombstoned record physically removed.
package compact

import (
	"fmt"
	"slices"
	"strings"

	"github.com/agentic-research/bomstore/internal/store"
	"go.uber.org/zap"
)

// Options tunes a compaction run.
type Options struct {
	// SortByName renumbers components in case-insensitive name order
	// instead of activity order.
	SortByName bool
	Logger     *zap.Logger
}

// Stats summarizes a finished run.
type Stats struct {
	Components              int
	Relations               int
	ReclaimedComponentBytes int64
	ReclaimedRelationBytes  int64
}

// Run compacts the pair in place.
//
// Every relation reachable from a live component is read and checked
// before the first write; a child that is not a live component fails the
// run with store.ErrFormat and leaves both files untouched. Relation
// records not reachable from any live component are dropped. Each
// parent's chain is laid out contiguously, in its original order.
func Run(cs *store.ComponentStore, rs *store.RelationStore, opts Options) (Stats, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	compBefore, err := cs.Size()
	if err != nil {
		return Stats{}, err
	}
	relBefore, err := rs.Size()
	if err != nil {
		return Stats{}, err
	}

	live, err := cs.Live()
	if err != nil {
		return Stats{}, err
	}
	if opts.SortByName {
		slices.SortStableFunc(live, func(a, b store.ComponentRecord) int {
			return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
		})
	}

	alive := make(map[store.ComponentAddr]bool, len(live))
	for _, rec := range live {
		alive[rec.Addr] = true
	}

	chains := make([][]store.RelationRecord, len(live))
	relations := 0
	for i, rec := range live {
		for rel, err := range rs.Chain(rec.RelationHead) {
			if err != nil {
				return Stats{}, err
			}
			if !rel.Live() {
				continue
			}
			if !alive[rel.Child] {
				return Stats{}, fmt.Errorf("component %q has a relation at %d to %d, which is not a live component: %w",
					rec.Name, rel.Addr, rel.Child, store.ErrFormat)
			}
			chains[i] = append(chains[i], rel)
		}
		relations += len(chains[i])
	}

	// Relations first: their new heads go into the component records.
	heads, err := rs.CompactWriteBack(chains)
	if err != nil {
		return Stats{}, fmt.Errorf("rewrite relations: %w", err)
	}
	for i := range live {
		live[i].RelationHead = heads[i]
	}
	m, err := cs.CompactWriteBack(live)
	if err != nil {
		return Stats{}, fmt.Errorf("rewrite components: %w", err)
	}
	if err := rs.CompactRemap(m); err != nil {
		return Stats{}, fmt.Errorf("remap relations: %w", err)
	}

	if err := cs.Sync(); err != nil {
		return Stats{}, err
	}
	if err := rs.Sync(); err != nil {
		return Stats{}, err
	}

	compAfter, err := cs.Size()
	if err != nil {
		return Stats{}, err
	}
	relAfter, err := rs.Size()
	if err != nil {
		return Stats{}, err
	}

	st := Stats{
		Components:              len(live),
		Relations:               relations,
		ReclaimedComponentBytes: compBefore - compAfter,
		ReclaimedRelationBytes:  relBefore - relAfter,
	}
	log.Info("compacted",
		zap.String("components_file", cs.FileName()),
		zap.Int("components", st.Components),
		zap.Int("relations", st.Relations),
		zap.Int64("reclaimed_component_bytes", st.ReclaimedComponentBytes),
		zap.Int64("reclaimed_relation_bytes", st.ReclaimedRelationBytes),
		zap.Bool("sorted", opts.SortByName),
	)
	return st, nil
}
