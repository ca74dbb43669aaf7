package codec

import (
	"io"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntegersRoundTripAtOffsets(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Create("fields.bin")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	require.NoError(t, WriteInt16(f, 2, -7))
	require.NoError(t, WriteInt32(f, 4, -1))
	require.NoError(t, WriteInt32(f, 8, 28))
	require.NoError(t, WriteByte(f, 0, 255))

	v16, err := ReadInt16(f, 2)
	require.NoError(t, err)
	assert.Equal(t, int16(-7), v16)

	v32, err := ReadInt32(f, 4)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), v32)

	v32, err = ReadInt32(f, 8)
	require.NoError(t, err)
	assert.Equal(t, int32(28), v32)

	b, err := ReadByte(f, 0)
	require.NoError(t, err)
	assert.Equal(t, byte(255), b)

	size, err := Size(f)
	require.NoError(t, err)
	assert.Equal(t, int64(12), size)
}

func TestLittleEndianLayout(t *testing.T) {
	buf := make([]byte, 6)
	PutInt16(buf[0:2], 20)
	PutInt32(buf[2:6], 0x01020304)
	assert.Equal(t, []byte{20, 0, 4, 3, 2, 1}, buf)
	assert.Equal(t, int16(20), Int16(buf[0:2]))
	assert.Equal(t, int32(0x01020304), Int32(buf[2:6]))
}

func TestReadPastEndIsUnexpectedEOF(t *testing.T) {
	fs := memfs.New()
	f, err := fs.Create("short.bin")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	require.NoError(t, WriteInt16(f, 0, 1))

	_, err = ReadInt32(f, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadInt32(f, 100)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeName(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  string
	}{
		{"padded", "Bolt", 8, "Bolt"},
		{"truncated", "Bracket-assembly", 7, "Bracket"},
		{"exact", "Frame", 5, "Frame"},
		{"rune boundary", "Болт", 3, "Б"},
		{"whitespace trimmed", "  Nut  ", 10, "Nut"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			field := EncodeName(tt.in, tt.width)
			assert.Len(t, field, tt.width)
			assert.Equal(t, tt.want, DecodeName(field))
			assert.Equal(t, tt.want, FitName(tt.in, tt.width))
		})
	}
}

func TestDecodeNameBlank(t *testing.T) {
	assert.Equal(t, "", DecodeName(make([]byte, 12)))
	assert.Equal(t, "", DecodeName([]byte("   \x00\x00")))
}
