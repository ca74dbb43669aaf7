package store

import (
	"fmt"
	"iter"
	"math"

	"github.com/agentic-research/bomstore/internal/codec"
	billy "github.com/go-git/go-billy/v5"
)

const (
	// Live and Deleted are the tombstone flag values of both record kinds.
	Live    byte = 0
	Deleted byte = 255

	// Offsets shared by component and relation records: the flag, then the
	// field that doubles as the next-free link once the slot is deleted.
	flagOffset = 0
	linkOffset = 1
)

// arena is a file of fixed-size slots following a fixed header. Slots are
// addressed by byte offset. Deleted slots form an intrusive free list whose
// head lives in the header at freeOffset; when the list is empty the same
// header field is the bump pointer to the end of the file.
type arena struct {
	file       billy.File
	name       string
	headerSize int64
	recordSize int64
	freeOffset int64
}

func (a *arena) ensureOpen() error {
	if a == nil || a.file == nil {
		return fmt.Errorf("%w: store is not open", ErrValidation)
	}
	return nil
}

func (a *arena) size() (int64, error) {
	n, err := codec.Size(a.file)
	if err != nil {
		return 0, wrapIO(a.name, err)
	}
	return n, nil
}

// valid reports whether addr begins a whole slot inside a file of the given size.
func (a *arena) valid(addr int32, size int64) bool {
	off := int64(addr)
	return off >= a.headerSize &&
		(off-a.headerSize)%a.recordSize == 0 &&
		off+a.recordSize <= size
}

func (a *arena) check(addr int32) error {
	size, err := a.size()
	if err != nil {
		return err
	}
	if !a.valid(addr, size) {
		return fmt.Errorf("%s: address %d is not a record (file size %d): %w", a.name, addr, size, ErrFormat)
	}
	return nil
}

func (a *arena) readSlot(addr int32) ([]byte, error) {
	if err := a.check(addr); err != nil {
		return nil, err
	}
	b, err := codec.ReadAt(a.file, int64(addr), int(a.recordSize))
	if err != nil {
		return nil, wrapIO(a.name, err)
	}
	return b, nil
}

func (a *arena) writeSlot(addr int32, rec []byte) error {
	if err := codec.WriteAt(a.file, int64(addr), rec); err != nil {
		return wrapIO(a.name, err)
	}
	return nil
}

func (a *arena) readHeaderInt32(off int64) (int32, error) {
	v, err := codec.ReadInt32(a.file, off)
	if err != nil {
		return 0, wrapIO(a.name, err)
	}
	return v, nil
}

func (a *arena) writeHeaderInt32(off int64, v int32) error {
	if err := codec.WriteInt32(a.file, off, v); err != nil {
		return wrapIO(a.name, err)
	}
	return nil
}

func (a *arena) freeHead() (int32, error) { return a.readHeaderInt32(a.freeOffset) }

func (a *arena) setFreeHead(v int32) error { return a.writeHeaderInt32(a.freeOffset, v) }

// isFree reports whether addr is a tombstoned slot, i.e. a free-list node.
func (a *arena) isFree(addr int32, size int64) (bool, error) {
	if !a.valid(addr, size) {
		return false, nil
	}
	flag, err := codec.ReadByte(a.file, int64(addr)+flagOffset)
	if err != nil {
		return false, wrapIO(a.name, err)
	}
	return flag == Deleted, nil
}

// alloc returns the slot the next record goes to. A free-list head that
// addresses a tombstoned slot is popped; anything else means the list is
// empty and the record is appended at the end of the file. The header is
// updated before the caller writes the record.
func (a *arena) alloc() (addr int32, reused bool, err error) {
	size, err := a.size()
	if err != nil {
		return 0, false, err
	}
	head, err := a.freeHead()
	if err != nil {
		return 0, false, err
	}

	free, err := a.isFree(head, size)
	if err != nil {
		return 0, false, err
	}
	if free {
		link, err := a.readHeaderInt32(int64(head) + linkOffset)
		if err != nil {
			return 0, false, err
		}
		next := int32(size)
		if link != head {
			if ok, err := a.isFree(link, size); err != nil {
				return 0, false, err
			} else if ok {
				next = link
			}
		}
		if err := a.setFreeHead(next); err != nil {
			return 0, false, err
		}
		return head, true, nil
	}

	end := size + a.recordSize
	if end > math.MaxInt32 {
		return 0, false, fmt.Errorf("%s: %w: file would exceed %d bytes", a.name, ErrConstraint, int64(math.MaxInt32))
	}
	if err := a.setFreeHead(int32(end)); err != nil {
		return 0, false, err
	}
	return int32(size), false, nil
}

// release tombstones addr and pushes it onto the free list. Only the flag
// and link fields are touched, so any chain threaded through the slot's
// other fields stays intact.
func (a *arena) release(addr int32) error {
	if err := a.check(addr); err != nil {
		return err
	}
	head, err := a.freeHead()
	if err != nil {
		return err
	}
	if err := codec.WriteByte(a.file, int64(addr)+flagOffset, Deleted); err != nil {
		return wrapIO(a.name, err)
	}
	if err := codec.WriteInt32(a.file, int64(addr)+linkOffset, head); err != nil {
		return wrapIO(a.name, err)
	}
	return a.setFreeHead(addr)
}

// rewrite replaces the whole file with img.
func (a *arena) rewrite(img []byte) error {
	if err := codec.WriteAt(a.file, 0, img); err != nil {
		return wrapIO(a.name, err)
	}
	if err := a.file.Truncate(int64(len(img))); err != nil {
		return wrapIO(a.name, err)
	}
	return nil
}

// Sync flushes the file when the filesystem supports it (osfs does, memfs
// does not need to).
func (a *arena) Sync() error {
	if err := a.ensureOpen(); err != nil {
		return err
	}
	if s, ok := a.file.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			return wrapIO(a.name, err)
		}
	}
	return nil
}

// Close releases the file handle. Closing twice is a no-op.
func (a *arena) Close() error {
	if a == nil || a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	if err != nil {
		return wrapIO(a.name, err)
	}
	return nil
}

// FileName is the name of the backing file inside its filesystem.
func (a *arena) FileName() string { return a.name }

// RecordSize is the fixed slot size in bytes.
func (a *arena) RecordSize() int64 { return a.recordSize }

// HeaderSize is the fixed header size in bytes.
func (a *arena) HeaderSize() int64 { return a.headerSize }

// Size returns the current file length.
func (a *arena) Size() (int64, error) {
	if err := a.ensureOpen(); err != nil {
		return 0, err
	}
	return a.size()
}

// slots yields the address of every whole slot in physical order.
func (a *arena) slots(size int64) iter.Seq[int32] {
	return func(yield func(int32) bool) {
		for off := a.headerSize; off+a.recordSize <= size; off += a.recordSize {
			if !yield(int32(off)) {
				return
			}
		}
	}
}
