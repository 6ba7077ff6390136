// Package packfile reads git pack files: a header, a sequence of
// zlib-compressed entries (each optionally delta-encoded against a
// base in the same pack), and a trailing digest. Packs are read
// lazily via a memory mapping; writing packs is out of scope.
package packfile

import (
	"bufio"
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"io"
	"sort"
	"strings"

	"github.com/nivl-forge/gitcore/delta"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"golang.org/x/exp/mmap"
	"golang.org/x/xerrors"
)

const (
	// ExtPackfile is the file extension of a pack's data file.
	ExtPackfile = ".pack"
	// ExtIndex is the file extension of a pack's index sidecar.
	ExtIndex = ".idx"

	headerSize = 12

	// deltaDepthLimit bounds how many times GetObject will recurse
	// while resolving a chain of deltas before giving up; real packs
	// never nest this deep, so hitting it means a cycle or a base
	// genuinely missing from the pack.
	deltaDepthLimit = 256
)

// ErrInvalidMagic is returned when a pack or index file doesn't start
// with the expected magic bytes.
var ErrInvalidMagic = errors.New("invalid magic")

// ErrInvalidVersion is returned when a pack declares an unsupported
// version.
var ErrInvalidVersion = errors.New("invalid version")

// ErrObjectNotFound is returned when a digest has no entry in a pack's
// index.
var ErrObjectNotFound = errors.New("object not found in pack")

// ErrDeltaDepthExceeded is returned when resolving an object's delta
// chain recurses past deltaDepthLimit.
var ErrDeltaDepthExceeded = errors.New("delta chain depth exceeded")

func packMagic() []byte    { return []byte{'P', 'A', 'C', 'K'} }
func packVersion() []byte  { return []byte{0, 0, 0, 2} }

// entryType mirrors the 3-bit type code embedded in a pack entry's
// size header; it is a superset of object.Type, adding the two delta
// variants.
type entryType uint8

const (
	entryCommit   entryType = 1
	entryTree     entryType = 2
	entryBlob     entryType = 3
	entryTag      entryType = 4
	entryOfsDelta entryType = 6
	entryRefDelta entryType = 7
)

func (t entryType) objectType() (object.Type, bool) {
	switch t {
	case entryCommit:
		return object.TypeCommit, true
	case entryTree:
		return object.TypeTree, true
	case entryBlob:
		return object.TypeBlob, true
	case entryTag:
		return object.TypeTag, true
	default:
		return 0, false
	}
}

// OidWalkFunc is called once per digest by WalkOids. Returning
// ErrStopWalk halts the walk early without it being treated as a
// failure.
type OidWalkFunc func(id oid.Oid) error

// ErrStopWalk is a sentinel a OidWalkFunc can return to stop WalkOids
// early.
var ErrStopWalk = errors.New("stop walk")

// Pack is a single mapped ".pack" file plus its parsed ".idx" sidecar.
type Pack struct {
	path   string
	data   *mmap.ReaderAt
	idx    *Index
	header [headerSize]byte
	id     oid.Oid
}

// Open mmaps the pack file at packPath and parses its ".idx" sidecar
// (found by swapping the ".pack" extension for ".idx"). The returned
// Pack must be closed with Close when no longer needed.
func Open(packPath string) (p *Pack, err error) {
	data, err := mmap.Open(packPath)
	if err != nil {
		return nil, xerrors.Errorf("could not map %s: %w", packPath, err)
	}
	defer func() {
		if err != nil {
			data.Close() //nolint:errcheck // already failing
		}
	}()

	pk := &Pack{path: packPath, data: data}
	if _, err = data.ReadAt(pk.header[:], 0); err != nil {
		return nil, xerrors.Errorf("could not read pack header: %w", err)
	}
	if !bytes.Equal(pk.header[0:4], packMagic()) {
		return nil, xerrors.Errorf("%s: %w", packPath, ErrInvalidMagic)
	}
	if !bytes.Equal(pk.header[4:8], packVersion()) {
		return nil, xerrors.Errorf("%s: %w", packPath, ErrInvalidVersion)
	}

	idxPath := strings.TrimSuffix(packPath, ExtPackfile) + ExtIndex
	pk.idx, err = NewIndexFromFile(idxPath)
	if err != nil {
		return nil, xerrors.Errorf("could not load index for %s: %w", packPath, err)
	}

	return pk, nil
}

// Close releases the pack's memory mapping.
func (p *Pack) Close() error {
	return p.data.Close()
}

// ObjectCount returns the number of objects the pack's header claims.
func (p *Pack) ObjectCount() uint32 {
	return binary.BigEndian.Uint32(p.header[8:])
}

// Trailer returns the pack's trailing digest as stored in its last 20
// bytes (in a well-formed pack, the SHA-1 of every byte preceding it).
// It does not recompute that digest or compare it with anything.
func (p *Pack) Trailer() (oid.Oid, error) {
	buf := make([]byte, oid.Size)
	at := p.data.Len() - oid.Size
	if _, err := p.data.ReadAt(buf, int64(at)); err != nil {
		return oid.Oid{}, xerrors.Errorf("could not read pack trailer: %w", err)
	}
	return oid.FromBytes(buf)
}

// HasObject reports whether id resolves via this pack's index.
func (p *Pack) HasObject(id oid.Oid) bool {
	_, err := p.idx.GetObjectOffset(id)
	return err == nil
}

// GetObject resolves id to its fully-reconstructed Object, recursively
// patching through any delta chain. Bases must live in this same pack;
// ErrDeltaDepthExceeded signals a chain that never bottoms out within
// deltaDepthLimit hops.
func (p *Pack) GetObject(id oid.Oid) (*object.Object, error) {
	offset, err := p.idx.GetObjectOffset(id)
	if err != nil {
		return nil, err
	}
	return p.objectAt(id, offset, 0)
}

// objectAt reads and, if necessary, resolves the object located at
// offset. depth counts delta hops taken so far.
func (p *Pack) objectAt(id oid.Oid, offset uint64, depth int) (*object.Object, error) {
	if depth > deltaDepthLimit {
		return nil, ErrDeltaDepthExceeded
	}

	raw, rawType, baseOid, baseOffset, err := p.readEntry(offset)
	if err != nil {
		return nil, err
	}

	if typ, ok := rawType.objectType(); ok {
		return object.NewWithID(id, typ, raw), nil
	}

	var base *object.Object
	switch rawType {
	case entryRefDelta:
		var refOffset uint64
		refOffset, err = p.idx.GetObjectOffset(baseOid)
		if err == nil {
			base, err = p.objectAt(baseOid, refOffset, depth+1)
		}
	case entryOfsDelta:
		base, err = p.objectAt(oid.Null, baseOffset, depth+1)
	default:
		return nil, xerrors.Errorf("unknown entry type %d", rawType)
	}
	if err != nil {
		return nil, xerrors.Errorf("could not resolve delta base: %w", err)
	}

	result, err := delta.Decode(base.Bytes(), raw)
	if err != nil {
		return nil, xerrors.Errorf("could not apply delta at offset %d: %w", offset, err)
	}
	return object.NewWithID(id, base.Type(), result), nil
}

// readEntry reads the variable-length type+size header at offset,
// any delta-base prefix that follows it, and the zlib-compressed body,
// returning the inflated (but, for deltas, still-encoded) bytes.
func (p *Pack) readEntry(offset uint64) (raw []byte, typ entryType, baseOid oid.Oid, baseOffset uint64, err error) {
	sr := io.NewSectionReader(p.data, int64(offset), p.data.Len()-int64(offset))
	br := bufio.NewReader(sr)

	first, err := br.ReadByte()
	if err != nil {
		return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not read entry header: %w", err)
	}
	typ = entryType((first >> 4) & 0x7)
	size := uint64(first & 0x0f)
	shift := uint(4)
	for first&0x80 != 0 {
		first, err = br.ReadByte()
		if err != nil {
			return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not read entry size: %w", err)
		}
		size |= uint64(first&0x7f) << shift
		shift += 7
	}

	switch typ {
	case entryRefDelta:
		buf := make([]byte, oid.Size)
		if _, err = io.ReadFull(br, buf); err != nil {
			return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not read delta base oid: %w", err)
		}
		baseOid, err = oid.FromBytes(buf)
		if err != nil {
			return nil, 0, oid.Oid{}, 0, xerrors.Errorf("invalid delta base oid: %w", err)
		}
	case entryOfsDelta:
		b, rErr := br.ReadByte()
		if rErr != nil {
			return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not read delta base offset: %w", rErr)
		}
		rel := uint64(b & 0x7f)
		for b&0x80 != 0 {
			b, rErr = br.ReadByte()
			if rErr != nil {
				return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not read delta base offset: %w", rErr)
			}
			rel = ((rel + 1) << 7) | uint64(b&0x7f)
		}
		baseOffset = offset - rel
	}

	zr, err := zlib.NewReader(br)
	if err != nil {
		return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not open zlib stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck // read-only decompression

	buf := &bytes.Buffer{}
	if _, err = io.Copy(buf, zr); err != nil {
		return nil, 0, oid.Oid{}, 0, xerrors.Errorf("could not inflate entry: %w", err)
	}
	if uint64(buf.Len()) != size {
		return nil, 0, oid.Oid{}, 0, xerrors.Errorf("entry declared size %d, inflated to %d", size, buf.Len())
	}

	return buf.Bytes(), typ, baseOid, baseOffset, nil
}

// WalkOids calls f once for every digest in the pack's index, in the
// index's own (sorted-by-digest) order.
func (p *Pack) WalkOids(f OidWalkFunc) error {
	ids := make([]oid.Oid, 0, len(p.idx.byOid))
	for id := range p.idx.byOid {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return oid.Less(ids[i], ids[j]) })
	for _, id := range ids {
		if err := f(id); err != nil {
			if errors.Is(err, ErrStopWalk) {
				return nil
			}
			return err
		}
	}
	return nil
}
