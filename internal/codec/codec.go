// Package codec reads and writes the fixed-width little-endian fields of the
// bomstore file formats at absolute byte offsets.
package codec

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// File is the random-access surface the codec needs. billy.File satisfies it;
// billy has no WriterAt, so writes are Seek+Write.
type File interface {
	io.ReaderAt
	io.Writer
	io.Seeker
}

// ReadAt reads exactly n bytes at off. A short read is reported as
// io.ErrUnexpectedEOF.
func ReadAt(f io.ReaderAt, off int64, n int) ([]byte, error) {
	buf := make([]byte, n)
	got, err := f.ReadAt(buf, off)
	if got == n {
		return buf, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return nil, fmt.Errorf("read %d bytes at %d: %w", n, off, err)
}

// WriteAt writes b at off.
func WriteAt(f io.WriteSeeker, off int64, b []byte) error {
	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek %d: %w", off, err)
	}
	n, err := f.Write(b)
	if err != nil {
		return fmt.Errorf("write %d bytes at %d: %w", len(b), off, err)
	}
	if n != len(b) {
		return fmt.Errorf("write at %d: %w", off, io.ErrShortWrite)
	}
	return nil
}

func ReadByte(f io.ReaderAt, off int64) (byte, error) {
	b, err := ReadAt(f, off, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func ReadInt16(f io.ReaderAt, off int64) (int16, error) {
	b, err := ReadAt(f, off, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.LittleEndian.Uint16(b)), nil
}

func ReadInt32(f io.ReaderAt, off int64) (int32, error) {
	b, err := ReadAt(f, off, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}

func WriteByte(f io.WriteSeeker, off int64, v byte) error {
	return WriteAt(f, off, []byte{v})
}

func WriteInt16(f io.WriteSeeker, off int64, v int16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], uint16(v))
	return WriteAt(f, off, b[:])
}

func WriteInt32(f io.WriteSeeker, off int64, v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	return WriteAt(f, off, b[:])
}

// PutInt16 and PutInt32 encode into a caller-owned record buffer.
func PutInt16(b []byte, v int16) { binary.LittleEndian.PutUint16(b, uint16(v)) }

func PutInt32(b []byte, v int32) { binary.LittleEndian.PutUint32(b, uint32(v)) }

func Int16(b []byte) int16 { return int16(binary.LittleEndian.Uint16(b)) }

func Int32(b []byte) int32 { return int32(binary.LittleEndian.Uint32(b)) }

// Size returns the current length of f.
func Size(f io.Seeker) (int64, error) {
	n, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, fmt.Errorf("seek end: %w", err)
	}
	return n, nil
}

// EncodeName returns name as a zero-padded UTF-8 field of exactly width
// bytes. Names longer than the field are cut on a rune boundary.
func EncodeName(name string, width int) []byte {
	field := make([]byte, width)
	n := 0
	for _, r := range name {
		if n+utf8.RuneLen(r) > width {
			break
		}
		n += utf8.EncodeRune(field[n:], r)
	}
	return field
}

// DecodeName strips zero padding and surrounding whitespace.
func DecodeName(field []byte) string {
	return strings.TrimSpace(strings.TrimRight(string(field), "\x00"))
}

// FitName returns name exactly as it reads back after a round trip through a
// field of the given width.
func FitName(name string, width int) string {
	return DecodeName(EncodeName(strings.TrimSpace(name), width))
}
