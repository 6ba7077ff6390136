package packfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/nivl-forge/gitcore/internal/readutil"
	"github.com/nivl-forge/gitcore/oid"
	"golang.org/x/xerrors"
)

const (
	fanoutEntries   = 256
	fanoutSize      = fanoutEntries * 4
	crcEntrySize    = 4
	offsetEntrySize = 4
)

func indexHeader() []byte {
	return []byte{255, 't', 'O', 'c', 0, 0, 0, 2}
}

// Index is a packfile's ".idx" sidecar: a 256-entry fanout table over
// the sorted digests of every object the pack contains, followed by
// the digests themselves, a CRC per object, and a 31-bit offset per
// object (spilling into an 8-byte layer for packs bigger than 2GiB).
// It lets GetObjectOffset resolve a digest to its byte offset in the
// pack without scanning the pack itself.
type Index struct {
	mu sync.Mutex

	r      readutil.BufferedReader
	byOid  map[oid.Oid]uint64
	parsed bool
	parseErr error
}

// NewIndex wraps r, which must be positioned at the start of an index
// file, validating its magic and version.
func NewIndex(r readutil.BufferedReader) (*Index, error) {
	header := make([]byte, len(indexHeader()))
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, xerrors.Errorf("could not read index header: %w", err)
	}
	if !bytes.Equal(header, indexHeader()) {
		return nil, xerrors.Errorf("invalid index header: %w", ErrInvalidMagic)
	}
	return &Index{r: r}, nil
}

// GetObjectOffset returns the byte offset of id within its pack.
func (idx *Index) GetObjectOffset(id oid.Oid) (uint64, error) {
	if err := idx.parse(); err != nil {
		return 0, xerrors.Errorf("could not parse pack index: %w", err)
	}
	offset, ok := idx.byOid[id]
	if !ok {
		return 0, ErrObjectNotFound
	}
	return offset, nil
}

// parse reads the whole index into memory. It is idempotent and
// memoizes failure: the underlying reader cannot be rewound, so a
// failed parse is permanent.
func (idx *Index) parse() (err error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.parsed {
		return nil
	}
	if idx.parseErr != nil {
		return idx.parseErr
	}
	defer func() {
		if err != nil {
			idx.parseErr = err
		}
	}()

	int32Buf := make([]byte, 4)
	int64Buf := make([]byte, 8)
	oidBuf := make([]byte, oid.Size)

	if _, err = idx.r.Discard((fanoutEntries - 1) * 4); err != nil {
		return xerrors.Errorf("could not reach last fanout entry: %w", err)
	}
	if _, err = io.ReadFull(idx.r, int32Buf); err != nil {
		return xerrors.Errorf("could not read object count: %w", err)
	}
	count := int(binary.BigEndian.Uint32(int32Buf))

	ids := make([]oid.Oid, 0, count)
	for i := 0; i < count; i++ {
		if _, err = io.ReadFull(idx.r, oidBuf); err != nil {
			return xerrors.Errorf("could not read oid %d: %w", i, err)
		}
		id, fErr := oid.FromBytes(oidBuf)
		if fErr != nil {
			return xerrors.Errorf("invalid oid at entry %d: %w", i, fErr)
		}
		ids = append(ids, id)
	}

	if _, err = idx.r.Discard(count * crcEntrySize); err != nil {
		return xerrors.Errorf("could not skip CRC table: %w", err)
	}

	idx.byOid = make(map[oid.Oid]uint64, count)

	type wide struct {
		id             oid.Oid
		relativeOffset uint64
	}
	var wideOffsets []wide

	for _, id := range ids {
		if _, err = io.ReadFull(idx.r, int32Buf); err != nil {
			return xerrors.Errorf("could not read offset for %s: %w", id, err)
		}
		entry := binary.BigEndian.Uint32(int32Buf)
		if entry>>31 == 1 {
			wideOffsets = append(wideOffsets, wide{id: id, relativeOffset: uint64(entry & 0x7fffffff)})
			continue
		}
		idx.byOid[id] = uint64(entry)
	}

	sort.Slice(wideOffsets, func(i, j int) bool {
		return wideOffsets[i].relativeOffset < wideOffsets[j].relativeOffset
	})
	for _, w := range wideOffsets {
		if _, err = io.ReadFull(idx.r, int64Buf); err != nil {
			return xerrors.Errorf("could not read wide offset for %s: %w", w.id, err)
		}
		idx.byOid[w.id] = binary.BigEndian.Uint64(int64Buf)
	}

	idx.parsed = true
	return nil
}

// NewIndexFromFile opens and parses the ".idx" sidecar at path.
func NewIndexFromFile(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("could not open index file %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only, parse() buffers everything it needs

	idx, err := NewIndex(bufio.NewReader(f))
	if err != nil {
		return nil, err
	}
	if err := idx.parse(); err != nil {
		return nil, err
	}
	return idx, nil
}
