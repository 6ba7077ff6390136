// Package index implements the staging manifest: a sorted array of
// (name, stage) entries carrying a stat cache and a blob digest,
// persisted to ".git/index" between commands. It mirrors the
// find-by-binary-search, add/remove-in-place, and lockfile-then-rename
// save discipline of git's original cache_entry array.
package index

import (
	"bufio"
	"bytes"
	"crypto/sha1" //nolint:gosec
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nivl-forge/gitcore/internal/lockfile"
	"github.com/nivl-forge/gitcore/internal/pathutil"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrInvalidSignature is returned when a loaded index file doesn't
// start with the expected "DIRC" magic.
var ErrInvalidSignature = errors.New("invalid index signature")

// ErrUnsupportedVersion is returned when a loaded index declares a
// version this package doesn't parse.
var ErrUnsupportedVersion = errors.New("unsupported index version")

// ErrChecksumMismatch is returned when the trailing digest doesn't
// match the digest of everything preceding it.
var ErrChecksumMismatch = errors.New("index checksum mismatch")

// ErrCollision is returned by Insert when a file/directory path
// collision under Policy OkToAdd would be required to resolve it.
var ErrCollision = errors.New("path collides with an existing entry")

const (
	signature      = "DIRC"
	supportedMajor = 2
	headerSize     = 12
	entryBaseSize  = 62 // everything up to and including the name, before padding
)

// Policy governs what Insert does when an identical-key entry already
// exists or a file/directory collision is found under OkToAdd.
type Policy int

const (
	// OkToAdd refuses to resolve a file/directory collision; Insert
	// returns ErrCollision instead.
	OkToAdd Policy = iota
	// OkToReplace removes colliding entries and retries the insert.
	OkToReplace
)

// Stage identifies one side of a three-way merge conflict; stage 0 is
// the normal, unconflicted state.
type Stage uint8

const (
	StageNormal Stage = iota
	StageBase
	StageOurs
	StageTheirs
)

// Changed is a bitmask of what cache_match_stat found different
// between an entry's recorded stat cache and a fresh os.Stat.
type Changed uint32

const (
	TypeChanged Changed = 1 << iota
	ModeChanged
	MTimeChanged
	CTimeChanged
	OwnerChanged
	InodeChanged
	DataChanged
)

// StatInfo is the subset of file metadata an entry caches to avoid
// re-hashing unchanged files on every refresh.
type StatInfo struct {
	CTimeSec  uint32
	CTimeNano uint32
	MTimeSec  uint32
	MTimeNano uint32
	Dev       uint32
	Ino       uint32
	UID       uint32
	GID       uint32
	Size      uint32
}

// Entry is one line of the staging manifest: a path at a given merge
// stage, the blob it names, and the stat cache used to short-circuit
// re-hashing on refresh.
type Entry struct {
	Stat  StatInfo
	Mode  object.Mode
	ID    oid.Oid
	Stage Stage
	Name  string

	// AssumeValid mirrors CE_VALID: when set, refresh never re-stats
	// this entry even if the working tree changed.
	AssumeValid bool
	// NeedsUpdate is set by Refresh when an entry's type or mode no
	// longer matches the working tree and the content must be
	// recomputed by the caller before the next save.
	NeedsUpdate bool
}

// entryLess orders entries the way cache_name_compare does: by name bytes,
// then by name length (a shorter name sorts first when one is a
// prefix of the other), then by stage.
func entryLess(aName string, aStage Stage, bName string, bStage Stage) bool {
	n := len(aName)
	if len(bName) < n {
		n = len(bName)
	}
	if cmp := strings.Compare(aName[:n], bName[:n]); cmp != 0 {
		return cmp < 0
	}
	if len(aName) != len(bName) {
		return len(aName) < len(bName)
	}
	return aStage < bStage
}

// Index is the in-memory staging manifest. The zero value is an empty
// index ready to be populated with Insert.
type Index struct {
	fs      afero.Fs
	version uint32
	entries []*Entry
}

// New returns an empty index that will be saved to path using fs.
func New(fs afero.Fs) *Index {
	return &Index{fs: fs, version: supportedMajor}
}

// Load reads and validates an index file's full contents: signature,
// version, per-entry records, and the trailing digest of everything
// that precedes it. A missing file is reported as the error of the
// underlying Open; callers distinguish absence with os.IsNotExist on
// it.
func Load(fs afero.Fs, path string) (*Index, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, xerrors.Errorf("could not read index %s: %w", path, err)
	}
	return Parse(fs, raw)
}

// Parse decodes a complete index file already read into memory.
func Parse(fs afero.Fs, raw []byte) (*Index, error) {
	if len(raw) < headerSize+oid.Size {
		return nil, ErrInvalidSignature
	}

	body := raw[:len(raw)-oid.Size]
	wantSum := raw[len(raw)-oid.Size:]
	gotSum := sha1.Sum(body) //nolint:gosec
	if !bytes.Equal(gotSum[:], wantSum) {
		return nil, ErrChecksumMismatch
	}

	if string(raw[0:4]) != signature {
		return nil, ErrInvalidSignature
	}
	version := binary.BigEndian.Uint32(raw[4:8])
	if version != supportedMajor {
		return nil, xerrors.Errorf("version %d: %w", version, ErrUnsupportedVersion)
	}
	count := binary.BigEndian.Uint32(raw[8:12])

	idx := &Index{fs: fs, version: version}
	pos := headerSize
	for i := uint32(0); i < count; i++ {
		e, n, err := decodeEntry(raw[pos:len(raw)-oid.Size])
		if err != nil {
			return nil, xerrors.Errorf("entry %d: %w", i, err)
		}
		idx.entries = append(idx.entries, e)
		pos += n
	}
	return idx, nil
}

func decodeEntry(b []byte) (*Entry, int, error) {
	if len(b) < entryBaseSize {
		return nil, 0, io.ErrUnexpectedEOF
	}
	e := &Entry{
		Stat: StatInfo{
			CTimeSec:  binary.BigEndian.Uint32(b[0:4]),
			CTimeNano: binary.BigEndian.Uint32(b[4:8]),
			MTimeSec:  binary.BigEndian.Uint32(b[8:12]),
			MTimeNano: binary.BigEndian.Uint32(b[12:16]),
			Dev:       binary.BigEndian.Uint32(b[16:20]),
			Ino:       binary.BigEndian.Uint32(b[20:24]),
			UID:       binary.BigEndian.Uint32(b[28:32]),
			GID:       binary.BigEndian.Uint32(b[32:36]),
			Size:      binary.BigEndian.Uint32(b[36:40]),
		},
		Mode: object.Mode(binary.BigEndian.Uint32(b[24:28])),
	}
	id, err := oid.FromBytes(b[40:60])
	if err != nil {
		return nil, 0, err
	}
	e.ID = id

	flags := binary.BigEndian.Uint16(b[60:62])
	e.AssumeValid = flags&0x8000 != 0
	e.Stage = Stage((flags >> 12) & 0x3)
	nameLen := int(flags & 0x0fff)

	nameStart := entryBaseSize
	if nameStart+nameLen > len(b) {
		return nil, 0, io.ErrUnexpectedEOF
	}
	e.Name = string(b[nameStart : nameStart+nameLen])

	entryLen := nameStart + nameLen
	padded := (entryLen + 8) &^ 7 // pad to an 8-byte boundary, always at least one NUL
	if padded > len(b) {
		padded = len(b)
	}
	return e, padded, nil
}

func encodeEntry(e *Entry) []byte {
	var buf bytes.Buffer
	var fixed [62]byte
	binary.BigEndian.PutUint32(fixed[0:4], e.Stat.CTimeSec)
	binary.BigEndian.PutUint32(fixed[4:8], e.Stat.CTimeNano)
	binary.BigEndian.PutUint32(fixed[8:12], e.Stat.MTimeSec)
	binary.BigEndian.PutUint32(fixed[12:16], e.Stat.MTimeNano)
	binary.BigEndian.PutUint32(fixed[16:20], e.Stat.Dev)
	binary.BigEndian.PutUint32(fixed[20:24], e.Stat.Ino)
	binary.BigEndian.PutUint32(fixed[24:28], uint32(e.Mode))
	binary.BigEndian.PutUint32(fixed[28:32], e.Stat.UID)
	binary.BigEndian.PutUint32(fixed[32:36], e.Stat.GID)
	binary.BigEndian.PutUint32(fixed[36:40], e.Stat.Size)
	copy(fixed[40:60], e.ID.Bytes())

	nameLen := len(e.Name)
	flagLen := nameLen
	if flagLen > 0x0fff {
		flagLen = 0x0fff
	}
	flags := uint16(flagLen) | uint16(e.Stage)<<12
	if e.AssumeValid {
		flags |= 0x8000
	}
	binary.BigEndian.PutUint16(fixed[60:62], flags)

	buf.Write(fixed[:])
	buf.WriteString(e.Name)

	entryLen := entryBaseSize + nameLen
	padded := (entryLen + 8) &^ 7
	for buf.Len() < padded {
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

// Entries returns the manifest in sorted order. The returned slice
// must not be mutated by the caller.
func (idx *Index) Entries() []*Entry { return idx.entries }

// Find performs the binary search cache_name_pos does: it returns the
// exact position and true if (name, stage) is present, or the
// insertion point and false otherwise.
func (idx *Index) Find(name string, stage Stage) (int, bool) {
	n := len(idx.entries)
	pos := sort.Search(n, func(i int) bool {
		return !entryLess(idx.entries[i].Name, idx.entries[i].Stage, name, stage)
	})
	if pos < n {
		e := idx.entries[pos]
		if e.Name == name && e.Stage == stage {
			return pos, true
		}
	}
	return pos, false
}

// Insert adds or replaces e under the given policy, enforcing the
// file/directory collision rule: inserting "A/B" at a stage forbids an
// entry "A" at that stage and vice versa. Inserting a stage-0 entry
// removes every other stage recorded for the same name, matching
// add_cache_entry's merge-resolution behavior.
func (idx *Index) Insert(e *Entry, policy Policy) error {
	if err := pathutil.VerifyPath(e.Name); err != nil {
		return xerrors.Errorf("invalid path %q: %w", e.Name, err)
	}

	if err := idx.resolveCollisions(e, policy); err != nil {
		return err
	}

	pos, found := idx.Find(e.Name, e.Stage)
	if found {
		idx.entries[pos] = e
		return nil
	}

	if e.Stage == StageNormal {
		idx.removeOtherStages(e.Name)
		pos, _ = idx.Find(e.Name, e.Stage)
	}

	idx.entries = append(idx.entries, nil)
	copy(idx.entries[pos+1:], idx.entries[pos:])
	idx.entries[pos] = e
	return nil
}

// resolveCollisions removes any entry that would collide with e's
// path under OkToReplace, or reports ErrCollision under OkToAdd.
func (idx *Index) resolveCollisions(e *Entry, policy Policy) error {
	for {
		collision := idx.findCollision(e.Name, e.Stage)
		if collision == "" {
			return nil
		}
		if policy != OkToReplace {
			return xerrors.Errorf("%q vs %q: %w", e.Name, collision, ErrCollision)
		}
		pos, _ := idx.Find(collision, e.Stage)
		idx.entries = append(idx.entries[:pos], idx.entries[pos+1:]...)
	}
}

// findCollision returns the name of an existing entry at stage that
// conflicts with name under the file/directory rule, or "" if none
// does.
func (idx *Index) findCollision(name string, stage Stage) string {
	for _, e := range idx.entries {
		if e.Name == name || e.Stage != stage {
			continue
		}
		if strings.HasPrefix(e.Name, name+"/") {
			return e.Name
		}
		if strings.HasPrefix(name, e.Name+"/") {
			return e.Name
		}
	}
	return ""
}

func (idx *Index) removeOtherStages(name string) {
	kept := idx.entries[:0]
	for _, e := range idx.entries {
		if e.Name == name && e.Stage != StageNormal {
			continue
		}
		kept = append(kept, e)
	}
	idx.entries = kept
}

// Remove deletes every stage recorded for name, mirroring
// remove_file_from_cache extended to all merge stages.
func (idx *Index) Remove(name string) {
	kept := idx.entries[:0]
	for _, e := range idx.entries {
		if e.Name != name {
			kept = append(kept, e)
		}
	}
	idx.entries = kept
}

// RefreshOptions tunes Refresh's tolerance for files that have gone
// missing from the working tree.
type RefreshOptions struct {
	IgnoreMissing bool
}

// RefreshResult reports, per path, the stat-cache drift Refresh found.
type RefreshResult struct {
	Path    string
	Changed Changed
}

// Refresh re-stats every stage-0 entry against the working tree
// rooted at workTree. Entries whose only drift is in the stat cache
// (the mtime, the one stat-cache field compareStat checks besides the
// size) are rewritten in place with the fresh stat info, exactly as
// refresh_entry does when cache_match_stat reports nothing beyond
// that. Entries whose type, mode, or size changed, or that are
// missing from disk, are flagged
// NeedsUpdate and returned in the result slice; a conflicted (non-zero
// stage) entry is always reported without being touched.
func (idx *Index) Refresh(fs afero.Fs, workTree string, opts RefreshOptions) ([]RefreshResult, error) {
	var results []RefreshResult

	i := 0
	for i < len(idx.entries) {
		e := idx.entries[i]
		if e.Stage != StageNormal {
			results = append(results, RefreshResult{Path: e.Name, Changed: 0})
			name := e.Name
			for i < len(idx.entries) && idx.entries[i].Name == name {
				i++
			}
			continue
		}

		if e.AssumeValid {
			i++
			continue
		}

		fullPath := filepath.Join(workTree, e.Name)
		fi, err := fs.Stat(fullPath)
		if err != nil {
			if os.IsNotExist(err) {
				if !opts.IgnoreMissing {
					e.NeedsUpdate = true
					results = append(results, RefreshResult{Path: e.Name, Changed: TypeChanged})
				}
				i++
				continue
			}
			return results, xerrors.Errorf("could not stat %s: %w", fullPath, err)
		}

		changed := compareStat(e, fi)
		if changed == 0 {
			i++
			continue
		}
		if changed&(TypeChanged|ModeChanged|DataChanged) != 0 {
			e.NeedsUpdate = true
			results = append(results, RefreshResult{Path: e.Name, Changed: changed})
			i++
			continue
		}

		e.Stat = statInfoFromFileInfo(fi)
		i++
	}
	return results, nil
}

// compareStat is a reduced cache_match_stat: it yields the bitmask of
// drift between the recorded stat cache and a fresh stat, comparing
// the mtime (whole seconds), the file type, the owner-execute bit for
// mode (regular files carry no other meaningful permission bit in the
// tree), and the size. Ctime, owner, inode and device are not
// compared, so CTimeChanged, OwnerChanged and InodeChanged are never
// set here.
func compareStat(e *Entry, fi os.FileInfo) Changed {
	var changed Changed

	mtime := fi.ModTime()
	if uint32(mtime.Unix()) != e.Stat.MTimeSec { //nolint:gosec
		changed |= MTimeChanged
	}

	wantMode := e.Mode
	gotMode := modeFromFileInfo(fi)
	if wantMode.IsDir() != gotMode.IsDir() || (wantMode.ObjectType() != gotMode.ObjectType()) {
		changed |= TypeChanged
	} else if (uint32(wantMode)^uint32(gotMode))&0o100 != 0 {
		changed |= ModeChanged
	}

	if uint32(fi.Size()) != e.Stat.Size { //nolint:gosec
		changed |= DataChanged
	}

	return changed
}

func modeFromFileInfo(fi os.FileInfo) object.Mode {
	switch {
	case fi.IsDir():
		return object.ModeDirectory
	case fi.Mode()&os.ModeSymlink != 0:
		return object.ModeSymlink
	case fi.Mode()&0o100 != 0:
		return object.ModeExecutable
	default:
		return object.ModeFile
	}
}

func statInfoFromFileInfo(fi os.FileInfo) StatInfo {
	return StatInfo{
		MTimeSec: uint32(fi.ModTime().Unix()), //nolint:gosec
		Size:     uint32(fi.Size()),            // nolint:gosec
	}
}

// Save writes the index atomically: the full entry list is serialized
// to "<path>.lock" through internal/lockfile, a trailing SHA-1 digest
// of everything written so far is appended, and the lockfile is
// committed (renamed) over path. Only one writer at a time succeeds;
// a concurrent writer observes lockfile.ErrBusy.
func (idx *Index) Save(path string) (err error) {
	lf, err := lockfile.Create(idx.fs, path)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = lf.Rollback()
		}
	}()

	sort.SliceStable(idx.entries, func(i, j int) bool {
		a, b := idx.entries[i], idx.entries[j]
		return entryLess(a.Name, a.Stage, b.Name, b.Stage)
	})

	h := sha1.New() //nolint:gosec
	w := io.MultiWriter(lf.File(), h)

	bw := bufio.NewWriter(w)
	var header [headerSize]byte
	copy(header[0:4], signature)
	binary.BigEndian.PutUint32(header[4:8], supportedMajor)
	binary.BigEndian.PutUint32(header[8:12], uint32(len(idx.entries)))
	if _, err = bw.Write(header[:]); err != nil {
		return xerrors.Errorf("could not write index header: %w", err)
	}

	for _, e := range idx.entries {
		if _, err = bw.Write(encodeEntry(e)); err != nil {
			return xerrors.Errorf("could not write entry %q: %w", e.Name, err)
		}
	}
	if err = bw.Flush(); err != nil {
		return xerrors.Errorf("could not flush index: %w", err)
	}

	if _, err = lf.File().Write(h.Sum(nil)); err != nil {
		return xerrors.Errorf("could not write index checksum: %w", err)
	}

	return lf.Commit()
}

// String renders the manifest the way "ls-files --stage" does, for
// debugging and tests.
func (idx *Index) String() string {
	var sb strings.Builder
	for _, e := range idx.entries {
		fmt.Fprintf(&sb, "%06o %s %d\t%s\n", e.Mode, e.ID, e.Stage, e.Name)
	}
	return sb.String()
}
