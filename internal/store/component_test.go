package store

import (
	"testing"

	"github.com/agentic-research/bomstore/internal/codec"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testWidth = 20

// recSize is the component record size for testWidth.
const recSize = componentFixedSize + testWidth

func newComponentStore(t *testing.T) (billy.Filesystem, *ComponentStore) {
	t.Helper()
	fs := memfs.New()
	s, err := CreateComponentStore(fs, "bom.prd", testWidth, "bom.prs")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return fs, s
}

func activeNames(t *testing.T, s *ComponentStore) []string {
	t.Helper()
	var names []string
	for rec, err := range s.Active() {
		require.NoError(t, err)
		names = append(names, rec.Name)
	}
	return names
}

func addAll(t *testing.T, s *ComponentStore, names ...string) []ComponentAddr {
	t.Helper()
	var out []ComponentAddr
	for _, n := range names {
		addr, err := s.Add(n)
		require.NoError(t, err)
		out = append(out, addr)
	}
	return out
}

func TestCreateThenOpenRoundTrip(t *testing.T) {
	fs, s := newComponentStore(t)
	require.NoError(t, s.Close())

	reopened, err := OpenComponentStore(fs, "bom.prd")
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	assert.Equal(t, int16(testWidth), reopened.NameWidth())
	assert.Equal(t, "bom.prs", reopened.RelationFile())
	assert.Empty(t, activeNames(t, reopened))

	size, err := reopened.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(ComponentHeaderSize), size)
}

func TestCreateRejectsNonPositiveWidth(t *testing.T) {
	_, err := CreateComponentStore(memfs.New(), "bom.prd", 0, "bom.prs")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestOpenRejectsBadFiles(t *testing.T) {
	fs := memfs.New()

	short, err := fs.Create("short.prd")
	require.NoError(t, err)
	_, err = short.Write([]byte("PS\x14\x00"))
	require.NoError(t, err)
	require.NoError(t, short.Close())

	_, err = OpenComponentStore(fs, "short.prd")
	assert.ErrorIs(t, err, ErrFormat)

	bad, err := fs.Create("bad.prd")
	require.NoError(t, err)
	_, err = bad.Write(make([]byte, ComponentHeaderSize))
	require.NoError(t, err)
	require.NoError(t, bad.Close())

	_, err = OpenComponentStore(fs, "bad.prd")
	assert.ErrorIs(t, err, ErrFormat)

	_, err = OpenComponentStore(fs, "missing.prd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddAppendsInInsertionOrder(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket", "Frame")

	assert.Equal(t, []ComponentAddr{
		ComponentHeaderSize,
		ComponentHeaderSize + recSize,
		ComponentHeaderSize + 2*recSize,
	}, addrs)
	if diff := cmp.Diff([]string{"Bolt", "Bracket", "Frame"}, activeNames(t, s)); diff != "" {
		t.Errorf("active names mismatch (-want +got):\n%s", diff)
	}

	rec, err := s.Lookup("frame")
	require.NoError(t, err)
	assert.Equal(t, addrs[2], rec.Addr)
	assert.Equal(t, NoRelation, rec.RelationHead)
	assert.Equal(t, NoComponent, rec.Next)

	free, err := s.freeHead()
	require.NoError(t, err)
	assert.Equal(t, int32(ComponentHeaderSize+3*recSize), free)
}

func TestAddValidatesNames(t *testing.T) {
	_, s := newComponentStore(t)
	addAll(t, s, "Bolt")

	_, err := s.Add("   ")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = s.Add("BOLT")
	assert.ErrorIs(t, err, ErrConstraint)
}

func TestAddTruncatesToNameWidth(t *testing.T) {
	_, s := newComponentStore(t)
	addAll(t, s, "Hex socket cap screw M8x40")

	rec, err := s.Lookup("Hex socket cap screw")
	require.NoError(t, err)
	assert.Equal(t, "Hex socket cap screw", rec.Name)
}

func TestDeleteTombstonesAndKeepsChain(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket", "Frame")

	deleted, err := s.Delete("bracket")
	require.NoError(t, err)
	assert.Equal(t, addrs[1], deleted.Addr)

	assert.Equal(t, []string{"Bolt", "Frame"}, activeNames(t, s))

	rec, err := s.Record(addrs[1])
	require.NoError(t, err)
	assert.False(t, rec.Live())
	assert.Equal(t, addrs[2], rec.Next, "deleted record stays threaded in the activity chain")
	assert.Equal(t, int32(ComponentHeaderSize+3*recSize), rec.FreeLink)

	free, err := s.freeHead()
	require.NoError(t, err)
	assert.Equal(t, int32(addrs[1]), free)

	_, err = s.Delete("Bracket")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddReusesMiddleSlotWithoutOrphaningSuccessors(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket", "Frame")

	_, err := s.Delete("Bracket")
	require.NoError(t, err)

	nut, err := s.Add("Nut")
	require.NoError(t, err)
	assert.Equal(t, addrs[1], nut, "freed slot is reused")

	assert.Equal(t, []string{"Bolt", "Nut", "Frame"}, activeNames(t, s))

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(ComponentHeaderSize+3*recSize), size, "file did not grow")

	washer, err := s.Add("Washer")
	require.NoError(t, err)
	assert.Equal(t, ComponentAddr(ComponentHeaderSize+3*recSize), washer, "empty free list appends")
	assert.Equal(t, []string{"Bolt", "Nut", "Frame", "Washer"}, activeNames(t, s))
}

func TestFreeListPopsInLastInFirstOutOrder(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket", "Frame")

	_, err := s.Delete("Bolt")
	require.NoError(t, err)
	_, err = s.Delete("Frame")
	require.NoError(t, err)

	a, err := s.Add("A")
	require.NoError(t, err)
	b, err := s.Add("B")
	require.NoError(t, err)
	c, err := s.Add("C")
	require.NoError(t, err)

	assert.Equal(t, addrs[2], a)
	assert.Equal(t, addrs[0], b)
	assert.Equal(t, ComponentAddr(ComponentHeaderSize+3*recSize), c)
	assert.Equal(t, []string{"B", "Bracket", "A", "C"}, activeNames(t, s))
}

func TestFreshSlotAfterDeletedTailLinksToTrueTail(t *testing.T) {
	_, s := newComponentStore(t)
	addAll(t, s, "Bolt", "Frame")
	_, err := s.Delete("Frame")
	require.NoError(t, err)
	// Reuse Frame's slot, then append past it.
	addAll(t, s, "Nut", "Washer")

	assert.Equal(t, []string{"Bolt", "Nut", "Washer"}, activeNames(t, s))
}

func TestActiveToleratesCyclicChain(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket")

	// Point Bracket's next back at Bolt.
	require.NoError(t, codec.WriteInt32(s.file, int64(addrs[1])+nextOffset, int32(addrs[0])))

	assert.Equal(t, []string{"Bolt", "Bracket"}, activeNames(t, s))
}

func TestActiveStopsAtOutOfFilePointer(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket")
	require.NoError(t, codec.WriteInt32(s.file, int64(addrs[1])+nextOffset, 100000))

	assert.Equal(t, []string{"Bolt", "Bracket"}, activeNames(t, s))
}

func TestRecordRejectsMisalignedAddress(t *testing.T) {
	_, s := newComponentStore(t)
	addAll(t, s, "Bolt")

	_, err := s.Record(ComponentHeaderSize + 3)
	assert.ErrorIs(t, err, ErrFormat)
	_, err = s.Record(4)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestClosedStoreIsValidationError(t *testing.T) {
	_, s := newComponentStore(t)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err := s.Add("Bolt")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = s.Lookup("Bolt")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSetRelationHead(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Frame")

	require.NoError(t, s.SetRelationHead(addrs[0], RelationHeaderSize))
	rec, err := s.Record(addrs[0])
	require.NoError(t, err)
	assert.Equal(t, RelationAddr(RelationHeaderSize), rec.RelationHead)

	_, err = s.Delete("Frame")
	require.NoError(t, err)
	assert.ErrorIs(t, s.SetRelationHead(addrs[0], NoRelation), ErrNotFound)
}

func TestLiveRecoversRecordsOffTheChain(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket", "Frame")

	// Cut the chain after Bolt, the way a reuse that resets next would.
	require.NoError(t, codec.WriteInt32(s.file, int64(addrs[0])+nextOffset, int32(NoComponent)))
	assert.Equal(t, []string{"Bolt"}, activeNames(t, s))

	live, err := s.Live()
	require.NoError(t, err)
	var names []string
	for _, r := range live {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Bolt", "Bracket", "Frame"}, names)
}

func TestComponentCompactWriteBack(t *testing.T) {
	_, s := newComponentStore(t)
	addrs := addAll(t, s, "Bolt", "Bracket", "Frame")
	_, err := s.Delete("Bracket")
	require.NoError(t, err)
	require.NoError(t, s.SetRelationHead(addrs[2], 19))

	live, err := s.Live()
	require.NoError(t, err)
	require.Len(t, live, 2)

	m, err := s.CompactWriteBack(live)
	require.NoError(t, err)
	assert.Equal(t, AddrMap{
		addrs[0]: ComponentHeaderSize,
		addrs[2]: ComponentHeaderSize + recSize,
	}, m)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(ComponentHeaderSize+2*recSize), size)
	assert.Equal(t, []string{"Bolt", "Frame"}, activeNames(t, s))

	frame, err := s.Lookup("Frame")
	require.NoError(t, err)
	assert.Equal(t, RelationAddr(19), frame.RelationHead)

	free, err := s.freeHead()
	require.NoError(t, err)
	assert.Equal(t, int32(size), free)

	// The reserved slot still names the relation store.
	assert.Equal(t, "bom.prs", s.RelationFile())
}

func TestCompactWriteBackEmpty(t *testing.T) {
	_, s := newComponentStore(t)
	addAll(t, s, "Bolt")
	_, err := s.Delete("Bolt")
	require.NoError(t, err)

	m, err := s.CompactWriteBack(nil)
	require.NoError(t, err)
	assert.Empty(t, m)

	first, err := s.first()
	require.NoError(t, err)
	assert.Equal(t, NoComponent, first)

	size, err := s.Size()
	require.NoError(t, err)
	assert.Equal(t, int64(ComponentHeaderSize), size)
}
