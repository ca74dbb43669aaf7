package graph

import (
	"testing"

	"github.com/agentic-research/bomstore/internal/store"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	cs *store.ComponentStore
	rs *store.RelationStore
}

func newFixture(t *testing.T, names ...string) *fixture {
	t.Helper()
	fs := memfs.New()
	cs, err := store.CreateComponentStore(fs, "bom.prd", 20, "bom.prs")
	require.NoError(t, err)
	rs, err := store.CreateRelationStore(fs, "bom.prs")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = cs.Close()
		_ = rs.Close()
	})
	for _, n := range names {
		_, err := cs.Add(n)
		require.NoError(t, err)
	}
	return &fixture{cs: cs, rs: rs}
}

// link writes a relation without any of the engine's checks.
func (f *fixture) link(t *testing.T, parent, child string) {
	t.Helper()
	p, err := f.cs.Lookup(parent)
	require.NoError(t, err)
	c, err := f.cs.Lookup(child)
	require.NoError(t, err)
	head, err := f.rs.Add(p.RelationHead, c.Addr)
	require.NoError(t, err)
	require.NoError(t, f.cs.SetRelationHead(p.Addr, head))
}

func (f *fixture) build(t *testing.T) *Graph {
	t.Helper()
	g, err := Build(f.cs, f.rs)
	require.NoError(t, err)
	return g
}

func names(cs []*Component) []string {
	out := make([]string, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Name)
	}
	return out
}

// bracketFixture is Frame → {Bracket, Bolt}, Bracket → {Bolt}.
func bracketFixture(t *testing.T) *fixture {
	f := newFixture(t, "Bolt", "Bracket", "Frame")
	f.link(t, "Frame", "Bracket")
	f.link(t, "Frame", "Bolt")
	f.link(t, "Bracket", "Bolt")
	return f
}

func TestBuild_BracketExample(t *testing.T) {
	g := bracketFixture(t).build(t)

	if diff := cmp.Diff([]string{"Bolt", "Bracket", "Frame"}, names(g.Components())); diff != "" {
		t.Errorf("components mismatch (-want +got):\n%s", diff)
	}

	frame, err := g.ByName("frame")
	require.NoError(t, err)
	assert.Equal(t, Assembly, frame.Type())
	assert.Equal(t, []string{"Bolt", "Bracket"}, names(frame.Children), "newest child first")

	bracket, err := g.ByName("Bracket")
	require.NoError(t, err)
	assert.Equal(t, Assembly, bracket.Type())
	assert.Equal(t, []string{"Bolt"}, names(bracket.Children))

	bolt, err := g.ByName("BOLT")
	require.NoError(t, err)
	assert.Equal(t, Leaf, bolt.Type())
	assert.Same(t, bolt, frame.Children[0], "children share the generation's components")
}

func TestBuild_EmptyStore(t *testing.T) {
	g := newFixture(t).build(t)
	assert.Equal(t, 0, g.Len())
	assert.Empty(t, g.Components())

	_, err := g.ByName("Bolt")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestBuild_SkipsDuplicateRelations(t *testing.T) {
	f := newFixture(t, "Bolt", "Frame")
	f.link(t, "Frame", "Bolt")
	f.link(t, "Frame", "Bolt")

	frame, err := f.build(t).ByName("Frame")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bolt"}, names(frame.Children))
}

func TestBuild_SkipsChildrenThatDoNotResolve(t *testing.T) {
	f := newFixture(t, "Bolt", "Frame")
	f.link(t, "Frame", "Bolt")
	// Tombstone the child underneath a live relation.
	_, err := f.cs.Delete("Bolt")
	require.NoError(t, err)

	g := f.build(t)
	frame, err := g.ByName("Frame")
	require.NoError(t, err)
	assert.Empty(t, frame.Children)
	assert.Equal(t, Leaf, frame.Type())
}

func TestBuild_SkipsDeletedRelations(t *testing.T) {
	f := bracketFixture(t)
	frame, err := f.cs.Lookup("Frame")
	require.NoError(t, err)
	_, err = f.rs.DeleteChain(frame.RelationHead)
	require.NoError(t, err)

	g := f.build(t)
	c, err := g.ByName("Frame")
	require.NoError(t, err)
	assert.Equal(t, Leaf, c.Type())
}

func TestBuild_ToleratesCyclicRelations(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.link(t, "A", "B")
	f.link(t, "B", "A")

	g := f.build(t)
	a, err := g.ByName("A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, names(a.Children))
}

func TestGraph_Parents(t *testing.T) {
	g := bracketFixture(t).build(t)

	parents, err := g.Parents("Bolt")
	require.NoError(t, err)
	assert.Equal(t, []string{"Bracket", "Frame"}, names(parents))

	parents, err = g.Parents("Frame")
	require.NoError(t, err)
	assert.Empty(t, parents)

	_, err = g.Parents("Nut")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGraph_Tree(t *testing.T) {
	g := bracketFixture(t).build(t)

	lines, err := g.Tree("Frame")
	require.NoError(t, err)

	type row struct {
		Depth    int
		Name     string
		Repeated bool
	}
	var got []row
	for _, l := range lines {
		got = append(got, row{l.Depth, l.Component.Name, l.Repeated})
	}
	want := []row{
		{0, "Frame", false},
		{1, "Bolt", false},
		{1, "Bracket", false},
		{2, "Bolt", false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}
}

func TestGraph_TreeCutsRepeatedAncestors(t *testing.T) {
	f := newFixture(t, "A", "B")
	f.link(t, "A", "B")
	f.link(t, "B", "A")

	lines, err := f.build(t).Tree("A")
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "A", lines[2].Component.Name)
	assert.Equal(t, 2, lines[2].Depth)
	assert.True(t, lines[2].Repeated)
}

func TestWouldCreateCycle(t *testing.T) {
	f := bracketFixture(t)
	_, err := f.cs.Add("Nut")
	require.NoError(t, err)

	tests := []struct {
		parent, child string
		want          bool
	}{
		{"Bolt", "Frame", true},
		{"Bolt", "Bracket", true},
		{"Bracket", "Frame", true},
		{"Frame", "Bolt", false},
		{"Nut", "Frame", false},
		{"Frame", "Nut", false},
		{"Bolt", "bolt", true},
		{"Gear", "Frame", false},
		{"Frame", "Gear", false},
	}
	for _, tt := range tests {
		t.Run(tt.parent+"->"+tt.child, func(t *testing.T) {
			got, err := WouldCreateCycle(f.cs, f.rs, tt.parent, tt.child)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWouldCreateCycle_TerminatesOnCorruptCycle(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.link(t, "A", "B")
	f.link(t, "B", "A")

	got, err := WouldCreateCycle(f.cs, f.rs, "C", "A")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestWouldCreateCycle_DoesNotExpandDeletedComponents(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	f.link(t, "B", "C")
	f.link(t, "A", "B")
	// Tombstone B underneath A's relation, leaving B's own chain on disk.
	_, err := f.cs.Delete("B")
	require.NoError(t, err)

	got, err := WouldCreateCycle(f.cs, f.rs, "C", "A")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestHotSwapGraph_Swap(t *testing.T) {
	h := NewHotSwapGraph(nil)
	assert.Empty(t, h.Components())

	old := h.Load()
	g := bracketFixture(t).build(t)
	h.Swap(g)

	assert.Equal(t, 0, old.Len(), "earlier generations are left intact")
	assert.Equal(t, []string{"Bolt", "Bracket", "Frame"}, names(h.Components()))

	c, err := h.ByName("Frame")
	require.NoError(t, err)
	assert.Equal(t, Assembly, c.Type())

	lines, err := h.Tree("Bracket")
	require.NoError(t, err)
	assert.Len(t, lines, 2)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "assembly", Assembly.String())
	assert.Equal(t, "leaf", Leaf.String())
}
