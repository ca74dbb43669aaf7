package store

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/agentic-research/bomstore/internal/codec"
	billy "github.com/go-git/go-billy/v5"
)

const (
	// ComponentMagic opens every component store.
	ComponentMagic = "PS"
	// ComponentHeaderSize is magic(2) + name width(2) + first(4) + free(4) + relation file(16).
	ComponentHeaderSize = 28
	// RelationFileField is the width of the paired relation file name slot.
	RelationFileField = 16

	componentFixedSize = 9 // flag(1) + relation head / free link(4) + next(4)

	widthOffset        = 2
	firstOffset        = 4
	componentFreeAt    = 8
	relationNameOffset = 12
	nextOffset         = 5
	nameOffset         = 9
)

// ComponentAddr is the byte offset of a record in the component store.
type ComponentAddr int32

// NoComponent terminates activity chains and marks an empty store.
const NoComponent ComponentAddr = -1

// AddrMap maps component addresses before compaction to addresses after it.
type AddrMap map[ComponentAddr]ComponentAddr

// ComponentRecord is one decoded component slot.
type ComponentRecord struct {
	Addr ComponentAddr
	Flag byte
	// RelationHead is the first relation of this component's chain. It is
	// NoRelation for deleted records, whose field holds FreeLink instead.
	RelationHead RelationAddr
	FreeLink     int32
	Next         ComponentAddr
	Name         string

	field []byte
}

// Live reports whether the record is not tombstoned.
func (r ComponentRecord) Live() bool { return r.Flag == Live }

// ComponentStore is a component file: a header followed by fixed-size
// records threaded into an activity chain and a free list.
type ComponentStore struct {
	arena
	nameWidth    int16
	relationFile string
}

// CreateComponentStore writes a fresh, empty component store named name in fs.
// relationFile is recorded in the header as the paired relation store.
func CreateComponentStore(fs billy.Filesystem, name string, nameWidth int16, relationFile string) (*ComponentStore, error) {
	if nameWidth <= 0 {
		return nil, fmt.Errorf("%w: name width must be positive, got %d", ErrValidation, nameWidth)
	}
	f, err := fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w: %w", name, ErrIO, err)
	}

	s := &ComponentStore{
		arena:        newComponentArena(f, name, nameWidth),
		nameWidth:    nameWidth,
		relationFile: codec.FitName(relationFile, RelationFileField),
	}
	if err := s.rewrite(s.header(NoComponent, ComponentHeaderSize)); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

// OpenComponentStore opens an existing component store and validates its header.
func OpenComponentStore(fs billy.Filesystem, name string) (*ComponentStore, error) {
	f, err := fs.OpenFile(name, os.O_RDWR, 0)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("open %s: %w: %w", name, ErrNotFound, err)
		}
		return nil, fmt.Errorf("open %s: %w: %w", name, ErrIO, err)
	}

	hdr, err := codec.ReadAt(f, 0, ComponentHeaderSize)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: header shorter than %d bytes: %w", name, ComponentHeaderSize, ErrFormat)
	}
	if string(hdr[0:2]) != ComponentMagic {
		_ = f.Close()
		return nil, fmt.Errorf("%s: bad magic %q: %w", name, hdr[0:2], ErrFormat)
	}
	width := codec.Int16(hdr[widthOffset:])
	if width <= 0 {
		_ = f.Close()
		return nil, fmt.Errorf("%s: invalid name width %d: %w", name, width, ErrFormat)
	}

	return &ComponentStore{
		arena:        newComponentArena(f, name, width),
		nameWidth:    width,
		relationFile: codec.DecodeName(hdr[relationNameOffset : relationNameOffset+RelationFileField]),
	}, nil
}

func newComponentArena(f billy.File, name string, width int16) arena {
	return arena{
		file:       f,
		name:       name,
		headerSize: ComponentHeaderSize,
		recordSize: componentFixedSize + int64(width),
		freeOffset: componentFreeAt,
	}
}

// NameWidth is the fixed byte width of the name field.
func (s *ComponentStore) NameWidth() int16 { return s.nameWidth }

// RelationFile is the paired relation store named in the header.
func (s *ComponentStore) RelationFile() string { return s.relationFile }

// FitName returns name as it would be stored, trimmed and cut to the name field.
func (s *ComponentStore) FitName(name string) string {
	return codec.FitName(name, int(s.nameWidth))
}

func (s *ComponentStore) header(first ComponentAddr, free int64) []byte {
	hdr := make([]byte, ComponentHeaderSize)
	copy(hdr[0:2], ComponentMagic)
	codec.PutInt16(hdr[widthOffset:], s.nameWidth)
	codec.PutInt32(hdr[firstOffset:], int32(first))
	codec.PutInt32(hdr[componentFreeAt:], int32(free))
	copy(hdr[relationNameOffset:], codec.EncodeName(s.relationFile, RelationFileField))
	return hdr
}

func (s *ComponentStore) first() (ComponentAddr, error) {
	v, err := s.readHeaderInt32(firstOffset)
	return ComponentAddr(v), err
}

func (s *ComponentStore) decode(addr ComponentAddr, b []byte) ComponentRecord {
	rec := ComponentRecord{
		Addr:         addr,
		Flag:         b[flagOffset],
		RelationHead: NoRelation,
		Next:         ComponentAddr(codec.Int32(b[nextOffset:])),
		field:        b[nameOffset:],
	}
	if rec.Live() {
		rec.RelationHead = RelationAddr(codec.Int32(b[linkOffset:]))
	} else {
		rec.FreeLink = codec.Int32(b[linkOffset:])
	}
	rec.Name = codec.DecodeName(rec.field)
	return rec
}

// Record reads the record at addr, live or not.
func (s *ComponentStore) Record(addr ComponentAddr) (ComponentRecord, error) {
	if err := s.ensureOpen(); err != nil {
		return ComponentRecord{}, err
	}
	b, err := s.readSlot(int32(addr))
	if err != nil {
		return ComponentRecord{}, err
	}
	return s.decode(addr, b), nil
}

// chain walks the activity chain, yielding live and deleted records in
// chain order. A revisited or out-of-file address ends the walk.
func (s *ComponentStore) chain() iter.Seq2[ComponentRecord, error] {
	return func(yield func(ComponentRecord, error) bool) {
		if err := s.ensureOpen(); err != nil {
			yield(ComponentRecord{}, err)
			return
		}
		size, err := s.size()
		if err != nil {
			yield(ComponentRecord{}, err)
			return
		}
		addr, err := s.first()
		if err != nil {
			yield(ComponentRecord{}, err)
			return
		}

		visited := roaring.New()
		for addr != NoComponent {
			if !s.valid(int32(addr), size) || visited.Contains(uint32(addr)) {
				return
			}
			visited.Add(uint32(addr))

			b, err := codec.ReadAt(s.file, int64(addr), int(s.recordSize))
			if err != nil {
				yield(ComponentRecord{}, wrapIO(s.name, err))
				return
			}
			rec := s.decode(addr, b)
			if !yield(rec, nil) {
				return
			}
			addr = rec.Next
		}
	}
}

// Active yields every live, non-blank record on the activity chain. The
// sequence is lazy and may be ranged over any number of times.
func (s *ComponentStore) Active() iter.Seq2[ComponentRecord, error] {
	return func(yield func(ComponentRecord, error) bool) {
		for rec, err := range s.chain() {
			if err != nil {
				yield(ComponentRecord{}, err)
				return
			}
			if !rec.Live() || rec.Name == "" {
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Lookup finds an active record by case-insensitive exact name. The query
// is fitted to the name field first, so it matches what Add stored.
func (s *ComponentStore) Lookup(name string) (ComponentRecord, error) {
	want := s.FitName(name)
	for rec, err := range s.Active() {
		if err != nil {
			return ComponentRecord{}, err
		}
		if strings.EqualFold(rec.Name, want) {
			return rec, nil
		}
	}
	return ComponentRecord{}, fmt.Errorf("component %q: %w", want, ErrNotFound)
}

// Add stores a new component and returns its address. A slot freed by
// Delete is reused before the file grows. A reused slot that is still
// threaded into the activity chain keeps its place there; relinking it at
// the tail would orphan every record that followed it.
func (s *ComponentStore) Add(name string) (ComponentAddr, error) {
	if err := s.ensureOpen(); err != nil {
		return NoComponent, err
	}
	stored := s.FitName(name)
	if stored == "" {
		return NoComponent, fmt.Errorf("%w: component name is blank", ErrValidation)
	}

	tail := NoComponent
	onChain := roaring.New()
	for rec, err := range s.chain() {
		if err != nil {
			return NoComponent, err
		}
		onChain.Add(uint32(rec.Addr))
		tail = rec.Addr
		if rec.Live() && strings.EqualFold(rec.Name, stored) {
			return NoComponent, fmt.Errorf("component %q already exists: %w", stored, ErrConstraint)
		}
	}

	slot, _, err := s.alloc()
	if err != nil {
		return NoComponent, err
	}
	addr := ComponentAddr(slot)
	linked := onChain.Contains(uint32(addr))

	next := NoComponent
	if linked {
		v, err := s.readHeaderInt32(int64(addr) + nextOffset)
		if err != nil {
			return NoComponent, err
		}
		next = ComponentAddr(v)
	}

	rec := make([]byte, s.recordSize)
	rec[flagOffset] = Live
	codec.PutInt32(rec[linkOffset:], int32(NoRelation))
	codec.PutInt32(rec[nextOffset:], int32(next))
	copy(rec[nameOffset:], codec.EncodeName(stored, int(s.nameWidth)))
	if err := s.writeSlot(int32(addr), rec); err != nil {
		return NoComponent, err
	}

	if linked {
		return addr, nil
	}
	if tail == NoComponent {
		return addr, s.writeHeaderInt32(firstOffset, int32(addr))
	}
	return addr, s.writeHeaderInt32(int64(tail)+nextOffset, int32(addr))
}

// Delete tombstones the named component and pushes its slot onto the free
// list. The record stays in the activity chain. The caller must ensure no
// live relation still names it as a child.
func (s *ComponentStore) Delete(name string) (ComponentRecord, error) {
	rec, err := s.Lookup(name)
	if err != nil {
		return ComponentRecord{}, err
	}
	if err := s.release(int32(rec.Addr)); err != nil {
		return ComponentRecord{}, err
	}
	return rec, nil
}

// SetRelationHead points a live component at a new relation chain.
func (s *ComponentStore) SetRelationHead(addr ComponentAddr, head RelationAddr) error {
	rec, err := s.Record(addr)
	if err != nil {
		return err
	}
	if !rec.Live() {
		return fmt.Errorf("component at %d is deleted: %w", addr, ErrNotFound)
	}
	return s.writeHeaderInt32(int64(addr)+linkOffset, int32(head))
}

// Live returns every live record: first those on the activity chain in
// chain order, then any live slot the chain no longer reaches, in file
// order. Blank names are kept so that nothing is lost on rewrite.
func (s *ComponentStore) Live() ([]ComponentRecord, error) {
	var out []ComponentRecord
	seen := roaring.New()
	for rec, err := range s.chain() {
		if err != nil {
			return nil, err
		}
		seen.Add(uint32(rec.Addr))
		if rec.Live() {
			out = append(out, rec)
		}
	}

	size, err := s.size()
	if err != nil {
		return nil, err
	}
	for addr := range s.slots(size) {
		if seen.Contains(uint32(addr)) {
			continue
		}
		rec, err := s.Record(ComponentAddr(addr))
		if err != nil {
			return nil, err
		}
		if rec.Live() {
			out = append(out, rec)
		}
	}
	return out, nil
}

// CompactWriteBack rewrites the whole file from records, in order, placed
// contiguously after the header and chained in that order. Each record's
// RelationHead is written as given. It returns the old→new address map.
func (s *ComponentStore) CompactWriteBack(records []ComponentRecord) (AddrMap, error) {
	if err := s.ensureOpen(); err != nil {
		return nil, err
	}
	end := ComponentHeaderSize + int64(len(records))*s.recordSize
	first := NoComponent
	if len(records) > 0 {
		first = ComponentHeaderSize
	}

	img := make([]byte, end)
	copy(img, s.header(first, end))
	m := make(AddrMap, len(records))
	for i, r := range records {
		off := ComponentHeaderSize + int64(i)*s.recordSize
		next := NoComponent
		if i < len(records)-1 {
			next = ComponentAddr(off + s.recordSize)
		}
		rec := img[off : off+s.recordSize]
		rec[flagOffset] = Live
		codec.PutInt32(rec[linkOffset:], int32(r.RelationHead))
		codec.PutInt32(rec[nextOffset:], int32(next))
		if r.field != nil {
			copy(rec[nameOffset:], r.field)
		} else {
			copy(rec[nameOffset:], codec.EncodeName(r.Name, int(s.nameWidth)))
		}
		m[r.Addr] = ComponentAddr(off)
	}

	if err := s.rewrite(img); err != nil {
		return nil, err
	}
	return m, nil
}
