package packfile_test

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/nivl-forge/gitcore/delta"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/nivl-forge/gitcore/packfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// packBuilder accumulates entries for a hand-assembled pack+index pair
// written to disk for packfile.Open to read back.
type packBuilder struct {
	body    bytes.Buffer
	offsets map[oid.Oid]uint32
}

func newPackBuilder() *packBuilder {
	return &packBuilder{offsets: map[oid.Oid]uint32{}}
}

func (pb *packBuilder) writeHeader() {
	pb.body.Write([]byte{'P', 'A', 'C', 'K', 0, 0, 0, 2, 0, 0, 0, 0})
}

// addEntry appends a non-delta entry for o and records its offset.
func (pb *packBuilder) addEntry(id oid.Oid, typ int, content []byte) {
	pb.offsets[id] = uint32(pb.body.Len())

	first := byte(typ<<4) | byte(len(content)&0x0f)
	size := len(content) >> 4
	rest := []byte{}
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		rest = append(rest, b)
	}
	if len(rest) > 0 {
		first |= 0x80
	}
	pb.body.WriteByte(first)
	pb.body.Write(rest)

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(content) //nolint:errcheck
	zw.Close()         //nolint:errcheck
	pb.body.Write(zbuf.Bytes())
}

// addRefDeltaEntry appends a ref-delta entry (type 7) whose base is
// baseID, with the given already-encoded delta instruction stream.
func (pb *packBuilder) addRefDeltaEntry(id, baseID oid.Oid, deltaBytes []byte) {
	pb.offsets[id] = uint32(pb.body.Len())

	const entryRefDelta = 7
	first := byte(entryRefDelta<<4) | byte(len(deltaBytes)&0x0f)
	size := len(deltaBytes) >> 4
	rest := []byte{}
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		rest = append(rest, b)
	}
	if len(rest) > 0 {
		first |= 0x80
	}
	pb.body.WriteByte(first)
	pb.body.Write(rest)
	pb.body.Write(baseID.Bytes())

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	zw.Write(deltaBytes) //nolint:errcheck
	zw.Close()            //nolint:errcheck
	pb.body.Write(zbuf.Bytes())
}

func (pb *packBuilder) writeIndex() []byte {
	ids := make([]oid.Oid, 0, len(pb.offsets))
	for id := range pb.offsets {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && oid.Less(ids[j], ids[j-1]); j-- {
			ids[j], ids[j-1] = ids[j-1], ids[j]
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{255, 't', 'O', 'c', 0, 0, 0, 2})

	fanout := make([]uint32, 256)
	for _, id := range ids {
		b := id.Bytes()[0]
		for i := int(b); i < 256; i++ {
			fanout[i]++
		}
	}
	for _, v := range fanout {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], v)
		buf.Write(b[:])
	}
	for _, id := range ids {
		buf.Write(id.Bytes())
	}
	for range ids {
		buf.Write([]byte{0, 0, 0, 0})
	}
	for _, id := range ids {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], pb.offsets[id])
		buf.Write(b[:])
	}
	return buf.Bytes()
}

func (pb *packBuilder) persist(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	packPath := filepath.Join(dir, "pack-test.pack")
	require.NoError(t, os.WriteFile(packPath, pb.body.Bytes(), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pack-test.idx"), pb.writeIndex(), 0o644))
	return packPath
}

func encodeDeltaSize(n int) []byte {
	var out []byte
	for {
		b := byte(n & 0x7f)
		n >>= 7
		if n != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if n == 0 {
			break
		}
	}
	return out
}

func TestPackOpenRejectsBadMagic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := filepath.Join(dir, "bad.pack")
	require.NoError(t, os.WriteFile(p, []byte("NOTAPACK0000"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.idx"), []byte{}, 0o644))

	_, err := packfile.Open(p)
	assert.ErrorIs(t, err, packfile.ErrInvalidMagic)
}

func TestPackGetObjectNonDelta(t *testing.T) {
	t.Parallel()

	blob := object.New(object.TypeBlob, []byte("hello\n"))
	id, _, err := blob.Compress()
	require.NoError(t, err)

	pb := newPackBuilder()
	pb.writeHeader()
	pb.addEntry(id, 3, []byte("hello\n"))
	packPath := pb.persist(t)

	pack, err := packfile.Open(packPath)
	require.NoError(t, err)
	defer pack.Close()

	got, err := pack.GetObject(id)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(got.Bytes()))
	assert.Equal(t, object.TypeBlob, got.Type())
}

func TestPackGetObjectRefDelta(t *testing.T) {
	t.Parallel()

	baseContent := []byte("The quick brown fox\n")
	base := object.New(object.TypeBlob, baseContent)
	baseID, _, err := base.Compress()
	require.NoError(t, err)

	want := "The slow brown fox\n"
	var d []byte
	d = append(d, encodeDeltaSize(len(baseContent))...)
	d = append(d, encodeDeltaSize(len(want))...)
	d = append(d, byte(0x90), 4)                       // copy(offset=0, size=4) "The "
	d = append(d, byte(4))
	d = append(d, []byte("slow")...)                   // literal insert
	d = append(d, byte(0x91), 9, 11)                   // copy(offset=9, size=11) " brown fox\n"

	// sanity-check our hand rolled delta actually decodes to `want`
	got, err := delta.Decode(baseContent, d)
	require.NoError(t, err)
	require.Equal(t, want, string(got))

	derivedID := oid.FromContent([]byte("irrelevant for ref-delta lookup"))

	pb := newPackBuilder()
	pb.writeHeader()
	pb.addEntry(baseID, 3, baseContent)
	pb.addRefDeltaEntry(derivedID, baseID, d)
	packPath := pb.persist(t)

	pack, err := packfile.Open(packPath)
	require.NoError(t, err)
	defer pack.Close()

	resolved, err := pack.GetObject(derivedID)
	require.NoError(t, err)
	assert.Equal(t, want, string(resolved.Bytes()))
	assert.Equal(t, object.TypeBlob, resolved.Type())
}
