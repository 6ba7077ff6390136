// Package patch applies unified-diff text to a working tree, the way
// apply.c's patch machinery does: parse headers and hunks, locate each
// hunk's old content by exact-offset match first and then an
// alternating backward/forward whole-line search, splice in the new
// content, and write the result back out (or, for a new file, create
// it; for a delete, remove it).
package patch

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nivl-forge/gitcore/index"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/odb"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrPatchApply is returned when a hunk cannot be matched anywhere in
// the target's current contents.
var ErrPatchApply = errors.New("patch does not apply")

// ErrIndexMismatch is returned, with ApplyOptions.CheckIndex set, when
// no index was supplied or the working file's size differs from the
// size the index recorded. A pre-image path missing from the index is
// reported with a separate "does not exist in index" error.
var ErrIndexMismatch = errors.New("does not match index")

// ErrTypeChange is returned when the pre-image on disk is not of the
// object type (regular file, symlink, directory) the patch's old mode
// names. The old and new modes are not compared with each other, so a
// patch is not rejected for changing the type.
var ErrTypeChange = errors.New("wrong type")

const defaultFileMode = 0o100644

// FileMode is the subset of a tree entry's mode apply.go cares about:
// the low twelve bits (S_IFMT plus permission bits), exactly what a
// diff header's "old mode"/"new mode" lines carry.
type FileMode uint32

// IsRegular, IsSymlink and IsDir mirror S_ISREG/S_ISLNK/S_ISDIR.
func (m FileMode) IsRegular() bool { return m&0o170000 == 0o100000 }
func (m FileMode) IsSymlink() bool { return m&0o170000 == 0o120000 }
func (m FileMode) IsDir() bool     { return m&0o170000 == 0o040000 }

// typeOf returns the S_IFMT bits alone, used to compare mode types
// while ignoring permission bits.
func (m FileMode) typeOf() FileMode { return m & 0o170000 }

// execBit reports whether the owner-execute permission bit is set.
func (m FileMode) execBit() bool { return m&0o100 != 0 }

// Hunk is one `@@ -oldpos,oldlines +newpos,newlines @@` block plus its
// body lines, each still carrying its leading ' '/'-'/'+'/'\' marker.
type Hunk struct {
	OldPos   int
	OldLines int
	NewPos   int
	NewLines int
	Body     []string
}

// old reconstructs the pre-image bytes a hunk expects to find, and new
// the bytes it should be replaced with.
func (h *Hunk) old() []byte     { return h.sideBytes(" -") }
func (h *Hunk) newSide() []byte { return h.sideBytes(" +") }

func (h *Hunk) sideBytes(markers string) []byte {
	var buf bytes.Buffer
	for i, line := range h.Body {
		if len(line) == 0 || strings.IndexByte(markers, line[0]) < 0 {
			continue
		}
		buf.WriteString(line[1:])
		if i+1 < len(h.Body) && h.Body[i+1] == `\ No newline at end of file` {
			continue
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// FilePatch is one `diff --git` section: header metadata plus its
// ordered hunks.
type FilePatch struct {
	OldName  string
	NewName  string
	OldMode  FileMode
	NewMode  FileMode
	IsNew    bool
	IsDelete bool
	Hunks    []*Hunk
}

// Parse splits raw unified-diff text into one FilePatch per `diff
// --git` section. Only the header fields apply.c itself recognizes
// are extracted; unrecognized header lines (extended attributes,
// similarity index, binary markers) are skipped rather than rejected,
// since they carry no information this applier acts on.
func Parse(raw []byte) ([]*FilePatch, error) {
	lines := splitLines(string(raw))

	var patches []*FilePatch
	var cur *FilePatch

	flush := func() {
		if cur != nil {
			patches = append(patches, cur)
		}
	}

	i := 0
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			flush()
			cur = &FilePatch{IsNew: false, IsDelete: false}
			i++
		case strings.HasPrefix(line, "--- "):
			if cur != nil {
				cur.OldName = parseFileHeaderName(line[4:])
			}
			i++
		case strings.HasPrefix(line, "+++ "):
			if cur != nil {
				cur.NewName = parseFileHeaderName(line[4:])
			}
			i++
		case strings.HasPrefix(line, "old mode "):
			if cur != nil {
				cur.OldMode = parseMode(line[len("old mode "):])
			}
			i++
		case strings.HasPrefix(line, "new mode "):
			if cur != nil {
				cur.NewMode = parseMode(line[len("new mode "):])
			}
			i++
		case strings.HasPrefix(line, "new file mode "):
			if cur != nil {
				cur.IsNew = true
				cur.NewMode = parseMode(line[len("new file mode "):])
			}
			i++
		case strings.HasPrefix(line, "deleted file mode "):
			if cur != nil {
				cur.IsDelete = true
				cur.OldMode = parseMode(line[len("deleted file mode "):])
			}
			i++
		case strings.HasPrefix(line, "@@ "):
			if cur == nil {
				return nil, xerrors.Errorf("hunk header with no preceding diff --git section at line %d", i+1)
			}
			h, next, err := parseHunk(lines, i)
			if err != nil {
				return nil, err
			}
			cur.Hunks = append(cur.Hunks, h)
			i = next
		default:
			i++
		}
	}
	flush()

	for _, p := range patches {
		if err := validateFileState(p); err != nil {
			return nil, err
		}
	}
	return patches, nil
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func parseFileHeaderName(rest string) string {
	name := rest
	if tab := strings.IndexByte(name, '\t'); tab >= 0 {
		name = name[:tab]
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	if name == "/dev/null" {
		return ""
	}
	return name
}

func parseMode(s string) FileMode {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 8, 32)
	if err != nil {
		return 0
	}
	return FileMode(v) //nolint:gosec
}

func parseHunk(lines []string, at int) (*Hunk, int, error) {
	header := lines[at]
	oldPos, oldLines, newPos, newLines, err := parseHunkHeader(header)
	if err != nil {
		return nil, at, err
	}
	h := &Hunk{OldPos: oldPos, OldLines: oldLines, NewPos: newPos, NewLines: newLines}

	i := at + 1
	for i < len(lines) {
		line := lines[i]
		if line == "" || (line[0] != ' ' && line[0] != '-' && line[0] != '+' && line[0] != '\\') {
			break
		}
		h.Body = append(h.Body, line)
		i++
	}
	return h, i, nil
}

// parseHunkHeader reads "@@ -oldpos,oldlines +newpos,newlines @@",
// tolerating the single-line shorthand ("-N" with no ",len", meaning
// length 1) real diffs use.
func parseHunkHeader(header string) (oldPos, oldLines, newPos, newLines int, err error) {
	body := strings.TrimPrefix(header, "@@ ")
	if end := strings.Index(body, " @@"); end >= 0 {
		body = body[:end]
	}
	fields := strings.Fields(body)
	if len(fields) != 2 || fields[0][0] != '-' || fields[1][0] != '+' {
		return 0, 0, 0, 0, xerrors.Errorf("malformed hunk header %q", header)
	}
	oldPos, oldLines, err = parseRange(fields[0][1:])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	newPos, newLines, err = parseRange(fields[1][1:])
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return oldPos, oldLines, newPos, newLines, nil
}

func parseRange(s string) (pos, count int, err error) {
	parts := strings.SplitN(s, ",", 2)
	pos, err = strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, xerrors.Errorf("malformed hunk range %q: %w", s, err)
	}
	if len(parts) == 1 {
		return pos, 1, nil
	}
	count, err = strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, xerrors.Errorf("malformed hunk range %q: %w", s, err)
	}
	return pos, count, nil
}

// validateFileState fills in IsNew/IsDelete from hunk content when the
// header didn't already say, and cross-checks them against every
// hunk's old/new line counts, exactly as apply.c's gitdiff consistency
// check does.
func validateFileState(p *FilePatch) error {
	if len(p.Hunks) == 0 {
		return nil
	}
	first := p.Hunks[0]

	if !p.IsNew && !p.IsDelete {
		p.IsNew = first.OldLines == 0 && p.OldName == ""
		p.IsDelete = first.NewLines == 0 && p.NewName == ""
	}

	for _, h := range p.Hunks {
		if p.IsNew && h.OldLines != 0 {
			return xerrors.Errorf("%s: new file depends on old contents", p.NewName)
		}
		if p.IsDelete && h.NewLines != 0 {
			return xerrors.Errorf("%s: deleted file still has contents", p.OldName)
		}
	}
	return nil
}

// ApplyOptions configures Apply. CheckIndex/WriteIndex mirror apply.c's
// --index/--cached split: CheckIndex alone verifies consistency
// against idx without writing it; both together additionally commit
// new blobs and entries to idx (the caller still owns idx.Save).
type ApplyOptions struct {
	CheckIndex       bool
	WriteIndex       bool
	IgnoreWhitespace bool
	Index            *index.Index
	WorkTree         string
}

// Result reports, per patch, the outcome Apply produced.
type Result struct {
	Path   string
	Offset int // non-zero when a hunk matched away from its recorded position
}

// Apply applies every patch in order against fs rooted at
// opts.WorkTree, writing the reconstructed files (or removing deleted
// ones) and, when opts.WriteIndex is set, syncing opts.Index. A
// failure partway through leaves every file already written in its new
// state — apply.c offers the same no-rollback guarantee, deferring
// atomicity to the caller's own backup/checkout discipline.
func Apply(fs afero.Fs, store *odb.Store, patches []*FilePatch, opts ApplyOptions) ([]Result, error) {
	var results []Result
	for _, p := range patches {
		r, err := applyOne(fs, store, p, opts)
		if err != nil {
			return results, err
		}
		results = append(results, r)
	}
	return results, nil
}

func applyOne(fs afero.Fs, store *odb.Store, p *FilePatch, opts ApplyOptions) (Result, error) {
	oldPath, newPath := worktreePath(opts.WorkTree, p.OldName), worktreePath(opts.WorkTree, p.NewName)

	var st os.FileInfo
	if !p.IsNew {
		var err error
		st, err = fs.Stat(oldPath)
		if err != nil {
			return Result{}, xerrors.Errorf("%s: %w", p.OldName, err)
		}
		if opts.CheckIndex {
			if err := checkIndexConsistency(opts.Index, p.OldName, st); err != nil {
				return Result{}, err
			}
		}
		if err := checkModeAgreement(p, st); err != nil {
			return Result{}, err
		}
	} else if opts.CheckIndex && opts.Index != nil {
		if _, ok := opts.Index.Find(p.NewName, index.StageNormal); ok {
			return Result{}, xerrors.Errorf("%s: already exists in index", p.NewName)
		}
	}

	var buf []byte
	if !p.IsNew {
		data, err := readOldContent(fs, oldPath, st)
		if err != nil {
			return Result{}, err
		}
		buf = data
	}

	result, offset, err := applyFragments(buf, p, opts.IgnoreWhitespace)
	if err != nil {
		return Result{}, xerrors.Errorf("%s: %w", p.OldName, err)
	}
	if p.IsDelete && len(result) != 0 {
		return Result{}, xerrors.Errorf("%s: removal patch leaves file contents", p.OldName)
	}

	mode := p.NewMode
	if mode == 0 {
		mode = p.OldMode
	}
	if mode == 0 {
		mode = defaultFileMode
	}

	switch {
	case p.IsDelete:
		if err := removeFile(fs, store, oldPath, p.OldName, opts); err != nil {
			return Result{}, err
		}
	default:
		if !p.IsNew && oldPath != newPath {
			if err := removeFile(fs, store, oldPath, p.OldName, opts); err != nil {
				return Result{}, err
			}
		}
		if err := writeFile(fs, store, newPath, p.NewName, mode, result, opts); err != nil {
			return Result{}, err
		}
	}

	return Result{Path: p.NewName, Offset: offset}, nil
}

func worktreePath(workTree, name string) string {
	if name == "" {
		return ""
	}
	return filepath.Join(workTree, name)
}

func checkIndexConsistency(idx *index.Index, name string, st os.FileInfo) error {
	if idx == nil {
		return xerrors.Errorf("%s: %w", name, ErrIndexMismatch)
	}
	pos, ok := idx.Find(name, index.StageNormal)
	if !ok {
		return xerrors.Errorf("%s: does not exist in index", name)
	}
	entries := idx.Entries()
	if uint32(st.Size()) != entries[pos].Stat.Size { //nolint:gosec
		return xerrors.Errorf("%s: %w", name, ErrIndexMismatch)
	}
	return nil
}

func checkModeAgreement(p *FilePatch, st os.FileInfo) error {
	actual := modeOf(st)
	if p.OldMode == 0 {
		return nil
	}
	if actual.typeOf() != p.OldMode.typeOf() {
		return xerrors.Errorf("%s: %w", p.OldName, ErrTypeChange)
	}
	return nil
}

func modeOf(st os.FileInfo) FileMode {
	switch {
	case st.IsDir():
		return 0o040000
	case st.Mode()&os.ModeSymlink != 0:
		return 0o120000
	case st.Mode()&0o100 != 0:
		return 0o100755
	default:
		return 0o100644
	}
}

func readOldContent(fs afero.Fs, path string, st os.FileInfo) ([]byte, error) {
	if st.Mode()&os.ModeSymlink != 0 {
		target, err := afero.ReadFile(fs, path)
		if err != nil {
			return nil, xerrors.Errorf("unable to read link %s: %w", path, err)
		}
		return target, nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, xerrors.Errorf("unable to open %s: %w", path, err)
	}
	return data, nil
}

// applyFragments runs every hunk through findOffset/splice in order,
// against a single growing buffer, mirroring apply_fragments's
// single-pass accumulation. It returns the final buffer and the offset
// reported for the last hunk that needed to be relocated (0 if every
// hunk matched exactly where recorded).
func applyFragments(buf []byte, p *FilePatch, ignoreWhitespace bool) ([]byte, int, error) {
	lastOffset := 0
	for _, h := range p.Hunks {
		old, newContent := h.old(), h.newSide()
		at, length, offset, ok := findOffset(buf, old, h.OldPos, ignoreWhitespace)
		if !ok {
			return nil, 0, fmt.Errorf("%w: %s:%d", ErrPatchApply, p.OldName, h.OldPos)
		}
		buf = splice(buf, at, length, newContent)
		lastOffset = offset
	}
	return buf, lastOffset, nil
}

// findOffset locates fragment inside buf, trying the exact byte
// offset implied by line (1-based) first, then alternating one line
// backward and one line forward from there until a match is found or
// both directions run out of room — find_offset's naive byte-compare
// search. When ignoreWhitespace is set, a candidate region spanning
// the same number of lines as fragment also counts as a match when it
// differs only in runs of whitespace, the way apply.c's
// whitespace-insensitive fallback compare does; length reports how
// many bytes the match actually consumed, which can differ from
// len(fragment) when whitespace padding changed a line's width.
func findOffset(buf, fragment []byte, line int, ignoreWhitespace bool) (at, length, offset int, ok bool) {
	if len(fragment) > len(buf) {
		return 0, 0, 0, false
	}

	start := lineStart(buf, line)

	if n, matched := matches(buf, start, fragment, ignoreWhitespace); matched {
		return start, n, 0, true
	}

	backwards, forwards := start, start
	for i := 0; ; i++ {
		var try int
		moved := false
		if i%2 == 1 {
			if backwards == 0 {
				if forwards+len(fragment) > len(buf) {
					break
				}
				continue
			}
			backwards--
			for backwards > 0 && buf[backwards-1] != '\n' {
				backwards--
			}
			try = backwards
			moved = true
		} else {
			for forwards+len(fragment) <= len(buf) {
				c := buf[forwards]
				forwards++
				if c == '\n' {
					break
				}
			}
			try = forwards
			moved = true
		}
		if !moved {
			break
		}
		if try+len(fragment) > len(buf) {
			continue
		}
		n, matched := matches(buf, try, fragment, ignoreWhitespace)
		if !matched {
			continue
		}
		signed := i/2 + 1
		if i%2 == 1 {
			signed = -signed
		}
		return try, n, signed, true
	}

	return 0, 0, 0, false
}

func lineStart(buf []byte, line int) int {
	if line <= 1 {
		return 0
	}
	offset := 0
	remaining := line - 1
	for offset < len(buf) {
		if buf[offset] == '\n' {
			offset++
			remaining--
			if remaining == 0 {
				return offset
			}
			continue
		}
		offset++
	}
	return 0
}

// matches reports whether a fragment-shaped region of buf starting at
// at equals fragment, returning the number of bytes that region
// spans. The exact byte-compare always uses len(fragment) bytes. The
// whitespace-tolerant fallback instead walks forward exactly as many
// newline-terminated lines as fragment has, since whitespace padding
// can shift a line's byte length without changing its line count, and
// compares line by line with runs of horizontal whitespace collapsed.
func matches(buf []byte, at int, fragment []byte, ignoreWhitespace bool) (int, bool) {
	if at+len(fragment) <= len(buf) && bytes.Equal(buf[at:at+len(fragment)], fragment) {
		return len(fragment), true
	}
	if !ignoreWhitespace {
		return 0, false
	}

	end := takeLines(buf, at, countLines(fragment))
	if end < at {
		return 0, false
	}
	if equalIgnoringWhitespace(buf[at:end], fragment) {
		return end - at, true
	}
	return 0, false
}

// countLines returns how many lines fragment spans, counting a final
// line with no trailing newline as one more line.
func countLines(fragment []byte) int {
	if len(fragment) == 0 {
		return 0
	}
	n := bytes.Count(fragment, []byte{'\n'})
	if fragment[len(fragment)-1] != '\n' {
		n++
	}
	return n
}

// takeLines advances from start in buf far enough to span n
// newline-terminated lines, returning the end offset. Running out of
// newlines before consuming n lines means the file's final line lacks
// a trailing newline; the candidate is extended to the end of buf.
func takeLines(buf []byte, start, n int) int {
	pos := start
	for i := 0; i < n; i++ {
		idx := bytes.IndexByte(buf[pos:], '\n')
		if idx < 0 {
			return len(buf)
		}
		pos += idx + 1
	}
	return pos
}

func equalIgnoringWhitespace(a, b []byte) bool {
	linesA, linesB := bytes.Split(a, []byte{'\n'}), bytes.Split(b, []byte{'\n'})
	if len(linesA) != len(linesB) {
		return false
	}
	for i := range linesA {
		if collapseWhitespace(linesA[i]) != collapseWhitespace(linesB[i]) {
			return false
		}
	}
	return true
}

// collapseWhitespace drops trailing horizontal whitespace and
// collapses interior runs of it to a single space, so lines that
// differ only in how much whitespace they carry compare equal.
func collapseWhitespace(b []byte) string {
	b = bytes.TrimRight(b, " \t")

	var out strings.Builder
	prevSpace := false
	for _, c := range b {
		if c == ' ' || c == '\t' {
			if !prevSpace {
				out.WriteByte(' ')
			}
			prevSpace = true
			continue
		}
		prevSpace = false
		out.WriteByte(c)
	}
	return out.String()
}

// splice replaces buf[at:at+oldSize] with newContent. It does not reuse
// buf's spare capacity: the result is built on buf[:at:at], so appended
// bytes go to a new array. apply_one_fragment doubles with an 8 KiB
// floor on growth; here Go's own append growth takes that place.
func splice(buf []byte, at, oldSize int, newContent []byte) []byte {
	tail := append([]byte(nil), buf[at+oldSize:]...)
	out := append(buf[:at:at], newContent...)
	return append(out, tail...)
}

func removeFile(fs afero.Fs, store *odb.Store, path, name string, opts ApplyOptions) error {
	if opts.WriteIndex && opts.Index != nil {
		opts.Index.Remove(name)
	}
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("unable to remove %s: %w", path, err)
	}
	return nil
}

func writeFile(fs afero.Fs, store *odb.Store, path, name string, mode FileMode, content []byte, opts ApplyOptions) error {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("unable to create parent directory for %s: %w", path, err)
	}

	switch {
	case mode.IsSymlink():
		target := content
		if len(target) > 0 && target[len(target)-1] == '\n' {
			target = target[:len(target)-1]
		}
		if err := removeIfExists(fs, path); err != nil {
			return err
		}
		if symlinker, ok := fs.(afero.Symlinker); ok {
			if err := symlinker.SymlinkIfPossible(string(target), path); err != nil {
				return xerrors.Errorf("unable to write symlink %s: %w", path, err)
			}
		} else {
			return xerrors.Errorf("unable to write symlink %s: filesystem does not support symlinks", path)
		}
	case mode.IsRegular():
		perm := os.FileMode(0o666)
		if mode.execBit() {
			perm = 0o777
		}
		if err := afero.WriteFile(fs, path, content, perm); err != nil {
			return xerrors.Errorf("unable to create file %s: %w", path, err)
		}
	default:
		return xerrors.Errorf("unable to write file mode %o", mode)
	}

	return addIndexFile(fs, store, path, name, mode, content, opts)
}

func removeIfExists(fs afero.Fs, path string) error {
	if err := fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("unable to remove existing %s: %w", path, err)
	}
	return nil
}

// addIndexFile is add_index_file: writes content as a blob, stats the
// file just written, and adds or replaces its stage-0 index entry.
func addIndexFile(fs afero.Fs, store *odb.Store, path, name string, mode FileMode, content []byte, opts ApplyOptions) error {
	if !opts.WriteIndex || opts.Index == nil {
		return nil
	}

	id, err := store.Write(object.TypeBlob, content)
	if err != nil {
		return xerrors.Errorf("unable to create backing store for newly created file %s: %w", name, err)
	}

	fi, err := fs.Stat(path)
	if err != nil {
		return xerrors.Errorf("unable to stat newly created file %s: %w", name, err)
	}

	entry := &index.Entry{
		Name:  name,
		Mode:  treeMode(mode),
		ID:    id,
		Stat:  index.StatInfo{MTimeSec: uint32(fi.ModTime().Unix()), Size: uint32(fi.Size())}, //nolint:gosec
	}
	if err := opts.Index.Insert(entry, index.OkToReplace); err != nil {
		return xerrors.Errorf("unable to add index entry for %s: %w", name, err)
	}
	return nil
}

func treeMode(m FileMode) object.Mode {
	switch {
	case m.IsSymlink():
		return object.ModeSymlink
	case m.IsDir():
		return object.ModeDirectory
	case m.execBit():
		return object.ModeExecutable
	default:
		return object.ModeFile
	}
}
