package snapshot

import (
	"bytes"
	"testing"
	"time"

	"github.com/agentic-research/bomstore/internal/store"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRestore(t *testing.T) {
	src := memfs.New()
	require.NoError(t, util.WriteFile(src, "bom.prd", []byte("PS component bytes"), 0o644))
	require.NoError(t, util.WriteFile(src, "bom.prs", []byte{0xff, 0xff, 0xff, 0xff, 8, 0, 0, 0}, 0o644))

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, src, created, "bom.prd", "bom.prs"))

	a, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), a.Header.Count)
	assert.Equal(t, created.Unix(), a.Header.Created)
	assert.Equal(t, []string{"bom.prd", "bom.prs"}, a.Names())

	dst := memfs.New()
	require.NoError(t, util.WriteFile(dst, "bom.prd", []byte("stale"), 0o644))
	require.NoError(t, Restore(dst, a))

	got, err := util.ReadFile(dst, "bom.prd")
	require.NoError(t, err)
	assert.Equal(t, "PS component bytes", string(got))
	got, err = util.ReadFile(dst, "bom.prs")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xff, 0xff, 0xff, 8, 0, 0, 0}, got)

	_, err = dst.Stat("bom.prd.restore")
	assert.Error(t, err, "temporary file is renamed away")
}

func TestWriteMissingFile(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, memfs.New(), time.Now(), "missing.prd")
	assert.ErrorIs(t, err, store.ErrIO)
}

func TestReadRejectsBadInput(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("short")))
	assert.ErrorIs(t, err, store.ErrFormat)

	bad := Header{Magic: 0xdeadbeef, Version: Version}.marshal()
	_, err = Read(bytes.NewReader(bad))
	assert.ErrorIs(t, err, store.ErrFormat)

	future := Header{Magic: Magic, Version: 9}.marshal()
	_, err = Read(bytes.NewReader(future))
	assert.ErrorIs(t, err, store.ErrFormat)

	// A valid header that promises more entries than the payload holds.
	src := memfs.New()
	require.NoError(t, util.WriteFile(src, "bom.prd", []byte("x"), 0o644))
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, src, time.Now(), "bom.prd"))
	raw := buf.Bytes()
	raw[5] = 3
	_, err = Read(bytes.NewReader(raw))
	assert.ErrorIs(t, err, store.ErrFormat)
}

func TestRestoreRejectsPathNames(t *testing.T) {
	a := &Archive{Entries: []Entry{{Name: "../escape.prd", Data: []byte("x")}}}
	err := Restore(memfs.New(), a)
	assert.ErrorIs(t, err, store.ErrFormat)
}

func TestFileName(t *testing.T) {
	ts := time.Date(2026, 10, 17, 8, 30, 0, 0, time.UTC)
	assert.Equal(t, "bom-20261017T083000Z.bomsnap", FileName("bom", ts))
}
