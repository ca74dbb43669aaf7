// Package snapshot packs a store pair into one zstd-compressed archive and
// unpacks it again.
//
// An archive is a 16-byte uncompressed header followed by a zstd stream of
// entries, each a uint16 name length, the name, a uint64 data length and
// the data. All integers are little-endian.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/agentic-research/bomstore/internal/store"
	billy "github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/klauspost/compress/zstd"
)

const (
	HeaderSize = 16
	Magic      = 0x534D4F42 // "BOMS"
	Version    = 1
	// Ext is the file extension of archives written by the CLI.
	Ext = ".bomsnap"

	maxEntries = 255
)

type Header struct {
	Magic   uint32
	Version uint8
	Count   uint8
	Padding [2]byte
	Created int64 // unix seconds
}

// Entry is one file of an archive.
type Entry struct {
	Name string
	Data []byte
}

// Archive is a decoded snapshot.
type Archive struct {
	Header  Header
	Entries []Entry
}

// Names lists the entry names in archive order.
func (a *Archive) Names() []string {
	out := make([]string, len(a.Entries))
	for i, e := range a.Entries {
		out[i] = e.Name
	}
	return out
}

// FileName is the conventional archive name for base taken at t.
func FileName(base string, t time.Time) string {
	return base + "-" + t.UTC().Format("20060102T150405Z") + Ext
}

func (h Header) marshal() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Magic)
	buf[4] = h.Version
	buf[5] = h.Count
	binary.LittleEndian.PutUint64(buf[8:16], uint64(h.Created))
	return buf
}

func readHeader(r io.Reader) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("snapshot header: %w: %w", store.ErrFormat, err)
	}
	h := Header{
		Magic:   binary.LittleEndian.Uint32(buf[0:4]),
		Version: buf[4],
		Count:   buf[5],
		Created: int64(binary.LittleEndian.Uint64(buf[8:16])),
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("invalid snapshot magic: %x: %w", h.Magic, store.ErrFormat)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("unsupported snapshot version: %d: %w", h.Version, store.ErrFormat)
	}
	return h, nil
}

// Write archives the named files of fs to w.
func Write(w io.Writer, fs billy.Filesystem, created time.Time, names ...string) error {
	if len(names) > maxEntries {
		return fmt.Errorf("%w: %d files exceed the archive limit of %d", store.ErrValidation, len(names), maxEntries)
	}

	var payload bytes.Buffer
	for _, name := range names {
		data, err := util.ReadFile(fs, name)
		if err != nil {
			return fmt.Errorf("read %s: %w: %w", name, store.ErrIO, err)
		}
		base := path.Base(name)
		_ = binary.Write(&payload, binary.LittleEndian, uint16(len(base)))
		payload.WriteString(base)
		_ = binary.Write(&payload, binary.LittleEndian, uint64(len(data)))
		payload.Write(data)
	}

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("creating zstd encoder: %w", err)
	}
	if _, err := encoder.Write(payload.Bytes()); err != nil {
		_ = encoder.Close()
		return fmt.Errorf("compressing: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("closing encoder: %w", err)
	}

	h := Header{Magic: Magic, Version: Version, Count: uint8(len(names)), Created: created.Unix()}
	if _, err := w.Write(h.marshal()); err != nil {
		return fmt.Errorf("write snapshot: %w: %w", store.ErrIO, err)
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return fmt.Errorf("write snapshot: %w: %w", store.ErrIO, err)
	}
	return nil
}

// Read decodes an archive.
func Read(r io.Reader) (*Archive, error) {
	h, err := readHeader(r)
	if err != nil {
		return nil, err
	}

	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	defer decoder.Close()

	payload, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w: %w", store.ErrFormat, err)
	}

	a := &Archive{Header: h}
	rd := bytes.NewReader(payload)
	for i := 0; i < int(h.Count); i++ {
		var nameLen uint16
		if err := binary.Read(rd, binary.LittleEndian, &nameLen); err != nil {
			return nil, fmt.Errorf("entry %d: %w: %w", i, store.ErrFormat, err)
		}
		name := make([]byte, nameLen)
		if _, err := io.ReadFull(rd, name); err != nil {
			return nil, fmt.Errorf("entry %d name: %w: %w", i, store.ErrFormat, err)
		}
		var size uint64
		if err := binary.Read(rd, binary.LittleEndian, &size); err != nil {
			return nil, fmt.Errorf("entry %d: %w: %w", i, store.ErrFormat, err)
		}
		if size > uint64(rd.Len()) {
			return nil, fmt.Errorf("entry %q claims %d bytes, %d left: %w", name, size, rd.Len(), store.ErrFormat)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(rd, data); err != nil {
			return nil, fmt.Errorf("entry %q: %w: %w", name, store.ErrFormat, err)
		}
		a.Entries = append(a.Entries, Entry{Name: string(name), Data: data})
	}
	return a, nil
}

// Restore writes every entry into fs. Each file is written beside its
// target first and renamed over it, so a failed restore leaves the earlier
// files of the pair complete.
func Restore(fs billy.Filesystem, a *Archive) error {
	for _, e := range a.Entries {
		if e.Name == "" || e.Name != path.Base(e.Name) || e.Name == "." || e.Name == ".." {
			return fmt.Errorf("entry name %q: %w", e.Name, store.ErrFormat)
		}
		tmp := e.Name + ".restore"
		if err := util.WriteFile(fs, tmp, e.Data, 0o644); err != nil {
			_ = fs.Remove(tmp)
			return fmt.Errorf("restore %s: %w: %w", e.Name, store.ErrIO, err)
		}
		if err := fs.Rename(tmp, e.Name); err != nil {
			_ = fs.Remove(tmp)
			return fmt.Errorf("restore %s: %w: %w", e.Name, store.ErrIO, err)
		}
	}
	return nil
}
