// Package odb implements the object store: read/write access over a
// primary object directory, a chain of alternate directories, and the
// packs found in each. Loose objects are written atomically via
// temp-file-then-link, with a rename fallback across devices; packs
// are consulted only after the loose chain comes up empty.
package odb

import (
	"compress/zlib"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nivl-forge/gitcore/internal/cache"
	"github.com/nivl-forge/gitcore/internal/errutil"
	"github.com/nivl-forge/gitcore/internal/gitpath"
	"github.com/nivl-forge/gitcore/internal/readutil"
	"github.com/nivl-forge/gitcore/internal/syncutil"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/nivl-forge/gitcore/packfile"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrNotFound is returned when a digest resolves through neither the
// loose-object chain nor any pack.
var ErrNotFound = errors.New("object not found")

// ErrCorrupt is returned when a loose object's header or inflated
// length is inconsistent with its declared size.
var ErrCorrupt = errors.New("corrupt object")

// ErrHashMismatch is returned by StreamCopy when the digest computed
// from an incoming stream doesn't match the digest it was claimed to
// have.
var ErrHashMismatch = errors.New("hash mismatch")

// lockStripes sizes the named-mutex used to serialize concurrent
// writers of the same digest.
const lockStripes = 256

// cacheEntries bounds the in-memory parsed-object cache.
const cacheEntries = 4096

// Store is an object database: one primary directory, zero or more
// alternates, and the packs found in each. The zero value is not
// usable; construct with Open.
type Store struct {
	fs   afero.Fs
	dirs []string // primary directory first, then alternates in order

	mu    *syncutil.NamedMutex
	cache *cache.LRU

	packs []*packfile.Pack
}

// Open returns a Store rooted at objectDir, with alternates resolved
// from the colon-separated alternatesEnv (as would come from
// GIT_ALTERNATE_OBJECT_DIRECTORIES). Every directory's "pack/"
// subdirectory is scanned once for ".pack" files.
func Open(fs afero.Fs, objectDir, alternatesEnv string) (*Store, error) {
	dirs := []string{objectDir}
	for _, a := range strings.Split(alternatesEnv, ":") {
		if a != "" {
			dirs = append(dirs, a)
		}
	}

	s := &Store{
		fs:    fs,
		dirs:  dirs,
		mu:    syncutil.NewNamedMutex(lockStripes),
		cache: cache.New(cacheEntries),
	}

	for _, d := range dirs {
		if err := s.loadPacks(d); err != nil {
			return nil, xerrors.Errorf("could not load packs under %s: %w", d, err)
		}
	}
	return s, nil
}

// Close releases every pack mapping held by the store.
func (s *Store) Close() error {
	var firstErr error
	for _, p := range s.packs {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) loadPacks(dir string) error {
	packDir := filepath.Join(dir, "pack")
	entries, err := afero.ReadDir(s.fs, packDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != packfile.ExtPackfile {
			continue
		}
		p, err := packfile.Open(filepath.Join(packDir, e.Name()))
		if err != nil {
			return xerrors.Errorf("could not open pack %s: %w", e.Name(), err)
		}
		s.packs = append(s.packs, p)
	}
	return nil
}

// loosePath returns the on-disk path of a loose object under a given
// object directory.
func loosePath(dir string, id oid.Oid) string {
	return filepath.Join(dir, gitpath.LooseObjectPath(id.String()))
}

// Exists reports whether id resolves via a loose file in any
// directory in the chain, or via any pack's index.
func (s *Store) Exists(id oid.Oid) bool {
	for _, d := range s.dirs {
		if ok, _ := afero.Exists(s.fs, loosePath(d, id)); ok {
			return true
		}
	}
	for _, p := range s.packs {
		if p.HasObject(id) {
			return true
		}
	}
	return false
}

// Open resolves id to its Object, checking the loose chain before
// falling back to packs.
func (s *Store) Open(id oid.Oid) (o *object.Object, err error) {
	s.mu.RLock(id.Bytes())
	defer s.mu.RUnlock(id.Bytes())

	if cached, ok := s.cache.Get(id); ok {
		return cached.(*object.Object), nil
	}

	o, err = s.openLoose(id)
	if err == nil {
		s.cache.Add(id, o)
		return o, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	for _, p := range s.packs {
		o, pErr := p.GetObject(id)
		if pErr == nil {
			s.cache.Add(id, o)
			return o, nil
		}
		if !errors.Is(pErr, packfile.ErrObjectNotFound) {
			return nil, xerrors.Errorf("could not read %s from pack: %w", id, pErr)
		}
	}
	return nil, ErrNotFound
}

func (s *Store) openLoose(id oid.Oid) (o *object.Object, err error) {
	for _, d := range s.dirs {
		p := loosePath(d, id)
		f, openErr := s.fs.Open(p)
		if openErr != nil {
			continue
		}
		o, err = parseLoose(f, id)
		closeErr := f.Close()
		if err != nil {
			return nil, err
		}
		if closeErr != nil {
			return nil, closeErr
		}
		return o, nil
	}
	return nil, ErrNotFound
}

// parseLoose inflates and parses a loose object's canonical form:
// "<type> <size>\0<content>".
func parseLoose(r io.Reader, id oid.Oid) (o *object.Object, err error) {
	zr, err := zlib.NewReader(r)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w: %v", id, ErrCorrupt, err)
	}
	defer errutil.Close(zr, &err)

	buf, err := io.ReadAll(zr)
	if err != nil {
		return nil, xerrors.Errorf("%s: %w: %v", id, ErrCorrupt, err)
	}

	typeBytes := readutil.ReadTo(buf, ' ')
	if typeBytes == nil {
		return nil, xerrors.Errorf("%s: missing type: %w", id, ErrCorrupt)
	}
	typ, err := object.TypeFromString(string(typeBytes))
	if err != nil {
		return nil, xerrors.Errorf("%s: %w: %v", id, ErrCorrupt, err)
	}

	pos := len(typeBytes) + 1
	sizeBytes := readutil.ReadTo(buf[pos:], 0)
	if sizeBytes == nil {
		return nil, xerrors.Errorf("%s: missing size: %w", id, ErrCorrupt)
	}
	size, err := strconv.Atoi(string(sizeBytes))
	if err != nil {
		return nil, xerrors.Errorf("%s: invalid size: %w", id, ErrCorrupt)
	}
	pos += len(sizeBytes) + 1

	content := buf[pos:]
	if len(content) != size {
		return nil, xerrors.Errorf("%s: declared size %d, got %d: %w", id, size, len(content), ErrCorrupt)
	}

	return object.NewWithID(id, typ, content), nil
}

// Write persists content under typ, returning its digest. Writing an
// already-present object is a cheap no-op; two writers racing on the
// same digest both succeed.
func (s *Store) Write(typ object.Type, content []byte) (oid.Oid, error) {
	o := object.New(typ, content)
	id, compressed, err := o.Compress()
	if err != nil {
		return oid.Oid{}, xerrors.Errorf("could not compress object: %w", err)
	}

	s.mu.Lock(id.Bytes())
	defer s.mu.Unlock(id.Bytes())

	if s.Exists(id) {
		return id, nil
	}

	dest := loosePath(s.dirs[0], id)
	if err := s.fs.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return oid.Oid{}, xerrors.Errorf("could not create object directory: %w", err)
	}

	if err := writeLooseAtomic(s.fs, dest, compressed); err != nil {
		return oid.Oid{}, xerrors.Errorf("could not persist object %s: %w", id, err)
	}

	s.cache.Add(id, object.NewWithID(id, typ, content))
	return id, nil
}

// writeLooseAtomic writes data to a temp file beside dest, then
// commits it into place. On a real OS filesystem this is a hard
// link-then-unlink (falling back to rename on cross-device failure,
// e.g. EXDEV); afero backends with no hard-link notion (used in
// tests) commit via rename alone. A post-link EEXIST from a racing
// concurrent writer is not an error: objects are immutable once
// written, so whichever writer's bytes landed first is correct.
func writeLooseAtomic(fs afero.Fs, dest string, data []byte) error {
	tmp := dest + ".tmp"
	if err := afero.WriteFile(fs, tmp, data, 0o444); err != nil {
		return err
	}

	if _, ok := fs.(*afero.OsFs); ok {
		if err := os.Link(tmp, dest); err != nil {
			if os.IsExist(err) {
				_ = os.Remove(tmp)
				return nil
			}
			if rErr := os.Rename(tmp, dest); rErr != nil {
				return rErr
			}
			return nil
		}
		_ = os.Remove(tmp)
		return nil
	}

	if err := fs.Rename(tmp, dest); err != nil && !os.IsExist(err) {
		return err
	}
	_ = fs.Remove(tmp)
	return nil
}

// StreamCopy inflates src, feeding it through a running digest while
// re-deflating it to dst, and fails with ErrHashMismatch if the
// resulting digest doesn't equal want. Used when receiving an object
// whose digest is asserted up front (e.g. during a transfer) rather
// than derived locally.
func StreamCopy(dst io.Writer, src io.Reader, want oid.Oid) (err error) {
	zr, err := zlib.NewReader(src)
	if err != nil {
		return xerrors.Errorf("could not open inflate stream: %w", err)
	}
	defer errutil.Close(zr, &err)

	digest := readutil.NewDigestWriter(io.Discard)
	zw := zlib.NewWriter(dst)
	defer errutil.Close(zw, &err)

	tee := io.MultiWriter(zw, digest)
	if _, err := io.Copy(tee, zr); err != nil {
		return xerrors.Errorf("could not stream-copy object: %w", err)
	}

	got, err := oid.FromBytes(digest.Sum())
	if err != nil {
		return xerrors.Errorf("could not derive digest: %w", err)
	}
	if got != want {
		return xerrors.Errorf("got %s, want %s: %w", got, want, ErrHashMismatch)
	}
	return nil
}

// Info is an object's type and size. Store.Info fills it from a full
// Open, so loose and packed objects alike are inflated in full (and
// packed deltas resolved); there is no header-only shortcut.
type Info struct {
	Type object.Type
	Size int
}

// Info looks up id's type and size.
func (s *Store) Info(id oid.Oid) (Info, error) {
	o, err := s.Open(id)
	if err != nil {
		return Info{}, err
	}
	return Info{Type: o.Type(), Size: o.Size()}, nil
}

// WalkIDs calls f once for every object digest found in the loose
// fanout directories of every directory in the chain, then once for
// every digest in every pack's index. A directory entry that isn't a
// well-formed 38-hex-character loose object name is skipped rather
// than treated as an error, matching fsck_dir's tolerance for stray
// files under the fanout. f's error, if non-nil, stops the walk and is
// returned as-is.
func (s *Store) WalkIDs(f func(oid.Oid) error) error {
	seen := make(map[oid.Oid]bool)

	for _, d := range s.dirs {
		fanouts, err := afero.ReadDir(s.fs, d)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return xerrors.Errorf("could not list object directory %s: %w", d, err)
		}
		for _, fanout := range fanouts {
			if !fanout.IsDir() || len(fanout.Name()) != 2 {
				continue
			}
			names, err := afero.ReadDir(s.fs, filepath.Join(d, fanout.Name()))
			if err != nil {
				return xerrors.Errorf("could not list fanout %s: %w", fanout.Name(), err)
			}
			for _, n := range names {
				if n.IsDir() || len(n.Name()) != 38 {
					continue
				}
				id, err := oid.FromHex(fanout.Name() + n.Name())
				if err != nil {
					continue
				}
				if seen[id] {
					continue
				}
				seen[id] = true
				if err := f(id); err != nil {
					return err
				}
			}
		}
	}

	for _, p := range s.packs {
		err := p.WalkOids(func(id oid.Oid) error {
			if seen[id] {
				return nil
			}
			seen[id] = true
			return f(id)
		})
		if err != nil {
			return err
		}
	}
	return nil
}
