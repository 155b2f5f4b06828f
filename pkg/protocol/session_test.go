package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crazyscot/qcp-sub001/pkg/wire"
)

func TestCommandGetWireLayout(t *testing.T) {
	cmd := &Command{Get: &GetArgs{Filename: "myfile"}}
	data, err := wire.EncodeMessage(cmd)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x00, 0x06}, []byte("myfile")...), data)
}

func TestCommandPutWireLayout(t *testing.T) {
	cmd := &Command{Put: &PutArgs{Filename: "myfile2"}}
	data, err := wire.EncodeMessage(cmd)
	require.NoError(t, err)
	assert.Equal(t, append([]byte{0x01, 0x07}, []byte("myfile2")...), data)
}

func TestCommandRoundTrip(t *testing.T) {
	cases := []*Command{
		{Get: &GetArgs{Filename: "a"}},
		{Put: &PutArgs{Filename: "b"}},
		{Get2: &Get2Args{Filename: "c", Options: []wire.TaggedData{wire.Tagged(ParamPreserveMetadata, wire.Empty())}}},
		{Put2: &Put2Args{Filename: "d"}},
		{CreateDir: &CreateDirectoryArgs{DirName: "e"}},
		{SetMeta: &SetMetadataArgs{Path: "f", Metadata: []wire.TaggedData{wire.TaggedUnsigned(MetaMode, 0o644)}}},
		{List: &ListArgs{Path: "g"}},
	}
	for _, in := range cases {
		data, err := wire.EncodeMessage(in)
		require.NoError(t, err)
		var out Command
		require.NoError(t, wire.DecodeMessage(&out, data))
		assert.Equal(t, in.Name(), out.Name())
		again, err := wire.EncodeMessage(&out)
		require.NoError(t, err)
		assert.Equal(t, data, again, "re-encode of %s", in.Name())
	}
}

func TestCommandUnknownDiscriminant(t *testing.T) {
	var out Command
	err := wire.DecodeMessage(&out, []byte{0x63})
	assert.ErrorIs(t, err, wire.ErrUnknownDiscriminant)
}

func TestFileHeaderV1WireLayout(t *testing.T) {
	h := NewFileHeaderV1(12345, "myfile")
	data, err := wire.EncodeMessage(h)
	require.NoError(t, err)
	expected := append([]byte{0x00, 0xb9, 0x60, 0x06}, []byte("myfile")...)
	assert.Equal(t, expected, data)

	var out FileHeader
	require.NoError(t, wire.DecodeMessage(&out, data))
	assert.Equal(t, uint64(12345), out.SizeValue())
	assert.Equal(t, "myfile", out.FilenameValue())
	assert.Nil(t, out.MetadataValue())
}

func TestFileHeaderV2WireLayout(t *testing.T) {
	h := NewFileHeaderV2(12345, "myfile", []wire.TaggedData{
		wire.TaggedUnsigned(MetaMode, 0o644),
	})
	data, err := wire.EncodeMessage(h)
	require.NoError(t, err)
	expected := append([]byte{0x01, 0xb9, 0x60, 0x06}, []byte("myfile")...)
	expected = append(expected, 0x01, 0x01, 0x03, 0xa4, 0x03)
	assert.Equal(t, expected, data)

	var out FileHeader
	require.NoError(t, wire.DecodeMessage(&out, data))
	mode, ok := wire.FindUnsigned(out.MetadataValue(), MetaMode)
	assert.True(t, ok)
	assert.Equal(t, uint64(0o644), mode)
}

func TestFileTrailerV1WireLayout(t *testing.T) {
	trailer := &FileTrailer{V1: true}
	data, err := wire.EncodeMessage(trailer)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00}, data)
}

func TestFileTrailerV2WireLayout(t *testing.T) {
	trailer := &FileTrailer{V2: &FileTrailerV2{Metadata: []wire.TaggedData{
		wire.TaggedUnsigned(MetaMode, 0o644),
		wire.TaggedUnsigned(MetaAccessTime, 1_700_000_000),
		wire.TaggedUnsigned(MetaModificationTime, 42),
	}}}
	data, err := wire.EncodeMessage(trailer)
	require.NoError(t, err)
	expected := []byte{
		0x01,                   // V2
		0x03,                   // three attributes
		0x01, 0x03, 0xa4, 0x03, // Mode = 0o644
		0x02, 0x03, 0x80, 0xe2, 0xcf, 0xaa, 0x06, // AccessTime = 1_700_000_000
		0x03, 0x03, 0x2a, // ModificationTime = 42
	}
	assert.Equal(t, expected, data)

	var out FileTrailer
	require.NoError(t, wire.DecodeMessage(&out, data))
	atime, ok := wire.FindUnsigned(out.MetadataValue(), MetaAccessTime)
	assert.True(t, ok)
	assert.Equal(t, uint64(1_700_000_000), atime)
}

// A V1-only decoder must read the V1 shape out of a stream written by a
// V2-capable sender that chose V1 for compatibility.
func TestVersionedEnumDowngrade(t *testing.T) {
	h := NewFileHeaderV1(99, "f")
	data, err := wire.EncodeMessage(h)
	require.NoError(t, err)
	var out FileHeader
	require.NoError(t, wire.DecodeMessage(&out, data))
	assert.NotNil(t, out.V1)
	assert.Nil(t, out.V2)
}

func TestResponseRoundTrip(t *testing.T) {
	ok := NewResponse(StatusOk, "")
	data, err := wire.EncodeMessage(ok)
	require.NoError(t, err)
	var out Response
	require.NoError(t, wire.DecodeMessage(&out, data))
	assert.NoError(t, out.Err())

	fail := NewResponse(StatusFileNotFound, "no such file")
	data, err = wire.EncodeMessage(fail)
	require.NoError(t, err)
	require.NoError(t, wire.DecodeMessage(&out, data))
	err = out.Err()
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StatusFileNotFound, se.Status)
	assert.Contains(t, err.Error(), "no such file")
}

func TestListDataRoundTrip(t *testing.T) {
	in := &ListData{Entries: []ListEntry{
		{Name: "a.txt", Size: 100, Mode: 0o644, Kind: ListEntryFile, Mtime: 1_700_000_000},
		{Name: "subdir", Mode: 0o755, Kind: ListEntryDirectory},
	}}
	data, err := wire.EncodeMessage(in)
	require.NoError(t, err)
	var out ListData
	require.NoError(t, wire.DecodeMessage(&out, data))
	assert.Equal(t, in.Entries, out.Entries)
}

func TestHasPreserve(t *testing.T) {
	assert.False(t, HasPreserve(nil))
	assert.True(t, HasPreserve([]wire.TaggedData{wire.Tagged(ParamPreserveMetadata, wire.Empty())}))
}
