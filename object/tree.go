package object

import (
	"bytes"
	"errors"
	"sort"
	"strconv"

	"github.com/nivl-forge/gitcore/internal/readutil"
	"github.com/nivl-forge/gitcore/oid"
	"golang.org/x/xerrors"
)

// ErrTreeInvalid is returned when a tree object's body cannot be parsed
// as a sequence of "<mode> <name>\0<oid>" entries.
var ErrTreeInvalid = errors.New("invalid tree")

// ErrTreeUnordered is returned by Validate when entries are not in
// canonical order; fsck reports this against every tree it visits.
var ErrTreeUnordered = errors.New("tree entries not properly sorted")

// ErrTreeDuplicate is returned by Validate when the same name appears
// twice at the same directory level.
var ErrTreeDuplicate = errors.New("tree has duplicate entries")

// Mode is the octal file mode stored next to a tree entry's name. Only
// a handful of values are legal; anything else is treated as an
// unsupported ("non-standard") mode by fsck.
type Mode uint32

// The modes git itself ever writes.
const (
	ModeFile       Mode = 0o100644
	ModeExecutable Mode = 0o100755
	ModeDirectory  Mode = 0o040000
	ModeSymlink    Mode = 0o120000
	ModeGitlink    Mode = 0o160000
)

// IsValid reports whether m is one of the modes git writes.
func (m Mode) IsValid() bool {
	switch m {
	case ModeFile, ModeExecutable, ModeDirectory, ModeSymlink, ModeGitlink:
		return true
	default:
		return false
	}
}

// IsDir reports whether m denotes a sub-tree.
func (m Mode) IsDir() bool { return m == ModeDirectory }

// ObjectType returns the kind of object a tree entry with mode m
// refers to.
func (m Mode) ObjectType() Type {
	switch m {
	case ModeDirectory:
		return TypeTree
	case ModeGitlink:
		return TypeCommit
	default:
		return TypeBlob
	}
}

// TreeEntry is one row of a tree object.
type TreeEntry struct {
	Name string
	Mode Mode
	ID   oid.Oid
}

// sortKey is the byte sequence the entry sorts by: the name, with a
// trailing "/" appended for directories so that e.g. "a.c" sorts before
// the directory "a".
func (e TreeEntry) sortKey() string {
	if e.Mode.IsDir() {
		return e.Name + "/"
	}
	return e.Name
}

// Tree is the parsed view of a tree object: an ordered list of entries.
type Tree struct {
	id      oid.Oid
	entries []TreeEntry
}

// NewTree builds a Tree from entries, sorting them into canonical
// order. Use Validate to additionally reject duplicate names.
func NewTree(entries []TreeEntry) *Tree {
	sorted := make([]TreeEntry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].sortKey() < sorted[j].sortKey()
	})
	return &Tree{entries: sorted}
}

// ID returns the tree's digest, set once the tree has been written or
// parsed from a stored object.
func (t *Tree) ID() oid.Oid { return t.id }

// Entries returns the tree's entries in canonical order.
func (t *Tree) Entries() []TreeEntry { return t.entries }

// Validate checks that no two entries of this tree share a name, so a
// file and a directory both called "a" are rejected as duplicates. It
// also re-checks the sort order, matching the "verify_ordered" pass
// fsck runs over every tree.
func (t *Tree) Validate() error {
	seen := make(map[string]bool, len(t.entries))
	for i, e := range t.entries {
		if seen[e.Name] {
			return ErrTreeDuplicate
		}
		seen[e.Name] = true
		if i > 0 && t.entries[i-1].sortKey() > e.sortKey() {
			return ErrTreeUnordered
		}
	}
	return nil
}

// ToObject serializes the tree to its canonical form: a concatenation
// of "<octal-mode> <name>\0<20-byte digest>" triples, entries already
// in canonical order.
func (t *Tree) ToObject() *Object {
	var buf bytes.Buffer
	for _, e := range t.entries {
		buf.WriteString(strconv.FormatUint(uint64(e.Mode), 8))
		buf.WriteByte(' ')
		buf.WriteString(e.Name)
		buf.WriteByte(0)
		buf.Write(e.ID.Bytes())
	}
	o := NewWithID(t.id, TypeTree, buf.Bytes())
	t.id, _, _ = o.Compress() //nolint:errcheck // Compress on an in-memory buffer never fails to compute an id
	return o
}

// AsTree parses o's content as a sequence of tree entries.
func (o *Object) AsTree() (*Tree, error) {
	var entries []TreeEntry
	data := o.Bytes()
	offset := 0
	for offset < len(data) {
		modeBytes := readutil.ReadTo(data[offset:], ' ')
		if modeBytes == nil {
			return nil, xerrors.Errorf("could not find entry mode: %w", ErrTreeInvalid)
		}
		offset += len(modeBytes) + 1

		modeVal, err := strconv.ParseUint(string(modeBytes), 8, 32)
		if err != nil {
			return nil, xerrors.Errorf("invalid entry mode %q: %w", modeBytes, ErrTreeInvalid)
		}

		nameBytes := readutil.ReadTo(data[offset:], 0)
		if nameBytes == nil {
			return nil, xerrors.Errorf("could not find entry name: %w", ErrTreeInvalid)
		}
		offset += len(nameBytes) + 1

		if offset+oid.Size > len(data) {
			return nil, xerrors.Errorf("truncated entry id: %w", ErrTreeInvalid)
		}
		id, err := oid.FromBytes(data[offset : offset+oid.Size])
		if err != nil {
			return nil, xerrors.Errorf("%s: %w", ErrTreeInvalid.Error(), err)
		}
		offset += oid.Size

		entries = append(entries, TreeEntry{
			Name: string(nameBytes),
			Mode: Mode(modeVal),
			ID:   id,
		})
	}

	return &Tree{id: o.id, entries: entries}, nil
}
