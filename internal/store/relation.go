package store

import (
	"errors"
	"fmt"
	"iter"
	"os"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/bomstore/internal/codec"
	billy "github.com/go-git/go-billy/v5"
)

const (
	// RelationHeaderSize is first(4) + free(4).
	RelationHeaderSize = 8
	// RelationRecordSize is flag(1) + child / free link(4) + quantity(2) + next(4).
	RelationRecordSize = 11

	relationFirstAt = 0
	relationFreeAt  = 4
	quantityOffset  = 5
	relationNextAt  = 7
	defaultQuantity = 1
)

// RelationAddr is the byte offset of a record in the relation store.
type RelationAddr int32

// NoRelation terminates a relation chain and marks a component with no children.
const NoRelation RelationAddr = -1

// RelationRecord is one decoded relation slot.
type RelationRecord struct {
	Addr RelationAddr
	Flag byte
	// Child is the component this relation points at. It is NoComponent for
	// deleted records, whose field holds FreeLink instead.
	Child    ComponentAddr
	FreeLink int32
	Quantity int16
	Next     RelationAddr
}

// Live reports whether the record is not tombstoned.
func (r RelationRecord) Live() bool { return r.Flag == Live }

// RelationStore is a relation file: a header followed by fixed-size records,
// each parent's children forming one singly linked chain.
type RelationStore struct {
	arena
}

// CreateRelationStore writes a fresh, empty relation store named name in fs.
func CreateRelationStore(fs billy.Filesystem, name string) (*RelationStore, error) {
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w: %w", name, ErrIO, err)
	}
	s := &RelationStore{arena: newRelationArena(f, name)}
	if err := s.rewrite(relationHeader(NoRelation, RelationHeaderSize)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// OpenRelationStore opens an existing relation store.
func OpenRelationStore(fs billy.Filesystem, name string) (*RelationStore, error) {
	f, err := fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open relation store %s: %w: %w", name, ErrNotFound, err)
		}
		return nil, fmt.Errorf("open relation store %s: %w: %w", name, ErrIO, err)
	}
	if _, err := codec.ReadAt(f, 0, RelationHeaderSize); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: header shorter than %d bytes: %w", name, RelationHeaderSize, ErrFormat)
	}
	return &RelationStore{arena: newRelationArena(f, name)}, nil
}

func newRelationArena(f billy.File, name string) arena {
	return arena{
		file:       f,
		name:       name,
		headerSize: RelationHeaderSize,
		recordSize: RelationRecordSize,
		freeOffset: relationFreeAt,
	}
}

func relationHeader(first RelationAddr, free int64) []byte {
	hdr := make([]byte, RelationHeaderSize)
	codec.PutInt32(hdr[relationFirstAt:], int32(first))
	codec.PutInt32(hdr[relationFreeAt:], int32(free))
	return hdr
}

func decodeRelation(addr RelationAddr, b []byte) RelationRecord {
	rec := RelationRecord{
		Addr:     addr,
		Flag:     b[flagOffset],
		Child:    NoComponent,
		Quantity: codec.Int16(b[quantityOffset:]),
		Next:     RelationAddr(codec.Int32(b[relationNextAt:])),
	}
	if rec.Live() {
		rec.Child = ComponentAddr(codec.Int32(b[linkOffset:]))
	} else {
		rec.FreeLink = codec.Int32(b[linkOffset:])
	}
	return rec
}

func encodeRelation(child ComponentAddr, next RelationAddr) []byte {
	rec := make([]byte, RelationRecordSize)
	rec[flagOffset] = Live
	codec.PutInt32(rec[linkOffset:], int32(child))
	codec.PutInt16(rec[quantityOffset:], defaultQuantity)
	codec.PutInt32(rec[relationNextAt:], int32(next))
	return rec
}

// First is the header's first-relation pointer.
func (s *RelationStore) First() (RelationAddr, error) {
	if err := s.ensureOpen(); err != nil {
		return NoRelation, err
	}
	v, err := s.readHeaderInt32(relationFirstAt)
	return RelationAddr(v), err
}

// Record reads the relation record at addr.
func (s *RelationStore) Record(addr RelationAddr) (RelationRecord, error) {
	if err := s.ensureOpen(); err != nil {
		return RelationRecord{}, err
	}
	b, err := s.readSlot(int32(addr))
	if err != nil {
		return RelationRecord{}, err
	}
	return decodeRelation(addr, b), nil
}

// Add prepends a relation to child onto the chain starting at parentHead.
// The returned address is both the new record and the parent's new head;
// the caller stores it back into the parent component.
func (s *RelationStore) Add(parentHead RelationAddr, child ComponentAddr) (RelationAddr, error) {
	if err := s.ensureOpen(); err != nil {
		return NoRelation, err
	}
	slot, _, err := s.alloc()
	if err != nil {
		return NoRelation, err
	}
	addr := RelationAddr(slot)
	if err := s.writeSlot(slot, encodeRelation(child, parentHead)); err != nil {
		return NoRelation, err
	}

	first, err := s.First()
	if err != nil {
		return NoRelation, err
	}
	if first == NoRelation {
		if err := s.writeHeaderInt32(relationFirstAt, int32(addr)); err != nil {
			return NoRelation, err
		}
	}
	return addr, nil
}

// Chain walks one parent's chain from head, yielding live and deleted
// records. A revisited or out-of-file address ends the walk.
func (s *RelationStore) Chain(head RelationAddr) iter.Seq2[RelationRecord, error] {
	return func(yield func(RelationRecord, error) bool) {
		if err := s.ensureOpen(); err != nil {
			yield(RelationRecord{}, err)
			return
		}
		size, err := s.size()
		if err != nil {
			yield(RelationRecord{}, err)
			return
		}

		visited := roaring.New()
		for addr := head; addr != NoRelation; {
			if !s.valid(int32(addr), size) || visited.Contains(uint32(addr)) {
				return
			}
			visited.Add(uint32(addr))

			b, err := codec.ReadAt(s.file, int64(addr), RelationRecordSize)
			if err != nil {
				yield(RelationRecord{}, wrapIO(s.name, err))
				return
			}
			rec := decodeRelation(addr, b)
			if !yield(rec, nil) {
				return
			}
			addr = rec.Next
		}
	}
}

// Children returns the child addresses of the live records on a chain, in
// chain order.
func (s *RelationStore) Children(head RelationAddr) ([]ComponentAddr, error) {
	var out []ComponentAddr
	for rec, err := range s.Chain(head) {
		if err != nil {
			return nil, err
		}
		if rec.Live() {
			out = append(out, rec.Child)
		}
	}
	return out, nil
}

// DeleteChain tombstones every live record of the chain at head and threads
// each onto the free list. It returns how many records were released. The
// caller resets the owning component's head to NoRelation.
func (s *RelationStore) DeleteChain(head RelationAddr) (int, error) {
	var live []RelationAddr
	for rec, err := range s.Chain(head) {
		if err != nil {
			return 0, err
		}
		if rec.Live() {
			live = append(live, rec.Addr)
		}
	}
	for i, addr := range live {
		if err := s.release(int32(addr)); err != nil {
			return i, err
		}
	}
	return len(live), nil
}

// All yields every whole slot of the file in physical order, live or not.
func (s *RelationStore) All() iter.Seq2[RelationRecord, error] {
	return func(yield func(RelationRecord, error) bool) {
		if err := s.ensureOpen(); err != nil {
			yield(RelationRecord{}, err)
			return
		}
		size, err := s.size()
		if err != nil {
			yield(RelationRecord{}, err)
			return
		}
		for addr := range s.slots(size) {
			b, err := codec.ReadAt(s.file, int64(addr), RelationRecordSize)
			if err != nil {
				yield(RelationRecord{}, wrapIO(s.name, err))
				return
			}
			if !yield(decodeRelation(RelationAddr(addr), b), nil) {
				return
			}
		}
	}
}

// FindsReference reports whether any live relation names child.
func (s *RelationStore) FindsReference(child ComponentAddr) (bool, error) {
	for rec, err := range s.All() {
		if err != nil {
			return false, err
		}
		if rec.Live() && rec.Child == child {
			return true, nil
		}
	}
	return false, nil
}

// CompactWriteBack rewrites the whole file from chains, one per parent,
// each laid out contiguously and linked in the given order. Child addresses
// are written as given. It returns the new head of every chain, NoRelation
// for an empty one.
func (s *RelationStore) CompactWriteBack(chains [][]RelationRecord) ([]RelationAddr, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	total := 0
	for _, c := range chains {
		total += len(c)
	}
	end := RelationHeaderSize + int64(total)*RelationRecordSize
	first := NoRelation
	if total > 0 {
		first = RelationHeaderSize
	}

	img := make([]byte, end)
	copy(img, relationHeader(first, end))
	heads := make([]RelationAddr, len(chains))
	off := int64(RelationHeaderSize)
	for i, c := range chains {
		heads[i] = NoRelation
		if len(c) == 0 {
			continue
		}
		heads[i] = RelationAddr(off)
		for j, r := range c {
			next := NoRelation
			if j < len(c)-1 {
				next = RelationAddr(off + RelationRecordSize)
			}
			copy(img[off:], encodeRelation(r.Child, next))
			if r.Quantity != 0 {
				codec.PutInt16(img[off+quantityOffset:], r.Quantity)
			}
			off += RelationRecordSize
		}
	}

	if err := s.rewrite(img); err != nil {
		return nil, err
	}
	return heads, nil
}

// CompactRemap rewrites every live child address in place through m. A
// child missing from m means the relation points at no surviving component;
// that is reported as ErrFormat before anything is written.
func (s *RelationStore) CompactRemap(m AddrMap) error {
	var updates []RelationRecord
	for rec, err := range s.All() {
		if err != nil {
			return err
		}
		if !rec.Live() {
			continue
		}
		to, ok := m[rec.Child]
		if !ok {
			return fmt.Errorf("relation at %d points at component %d which did not survive compaction: %w", rec.Addr, rec.Child, ErrFormat)
		}
		if to != rec.Child {
			rec.Child = to
			updates = append(updates, rec)
		}
	}
	for _, rec := range updates {
		if err := s.writeHeaderInt32(int64(rec.Addr)+linkOffset, int32(rec.Child)); err != nil {
			return err
		}
	}
	return nil
}
