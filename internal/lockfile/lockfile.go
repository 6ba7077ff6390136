// Package lockfile implements the atomic-write-via-rename discipline
// used by the index and, in principle, any other single-writer file in
// the repository.
//
// A Lockfile is created at "<path>.lock" using O_CREAT|O_EXCL, so a
// second concurrent writer fails fast with ErrBusy instead of
// corrupting the target file. The lock is released either by Commit
// (renames the lockfile over path, the atomic commit point) or by
// Rollback (removes the lockfile, leaving path untouched).
//
// Every held lockfile is registered with a process-global registry so
// that a SIGINT/SIGTERM handler can remove it even if the owning
// goroutine never runs its defer. No exit-time hook is installed: only
// those two signals trigger this cleanup.
package lockfile

import (
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrBusy is returned when a lockfile is already held by another
// writer.
var ErrBusy = errors.New("unable to create lock file: file exists")

// Ext is the suffix appended to the path being locked.
const Ext = ".lock"

// Lockfile represents a held lock on a single path.
type Lockfile struct {
	fs     afero.Fs
	path   string
	lock   string
	file   afero.File
	closed bool
}

var (
	registryMu sync.Mutex
	registry   = map[string]*Lockfile{}
	once       sync.Once
)

// Create acquires the lock for path, creating "<path>.lock" exclusively.
// The caller must eventually call Commit or Rollback.
func Create(fs afero.Fs, path string) (*Lockfile, error) {
	installSignalHandler()

	lockPath := path + Ext
	f, err := fs.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrBusy
		}
		return nil, xerrors.Errorf("could not create lockfile %s: %w", lockPath, err)
	}

	lf := &Lockfile{fs: fs, path: path, lock: lockPath, file: f}

	registryMu.Lock()
	registry[lockPath] = lf
	registryMu.Unlock()

	return lf, nil
}

// File returns the underlying writable lockfile handle.
func (lf *Lockfile) File() afero.File {
	return lf.file
}

// Commit flushes and renames the lockfile over the original path. This
// rename is the atomic commit point: readers of path never observe a
// partially-written file.
func (lf *Lockfile) Commit() error {
	if lf.closed {
		return nil
	}
	if err := lf.file.Close(); err != nil {
		return xerrors.Errorf("could not close lockfile %s: %w", lf.lock, err)
	}
	if err := lf.fs.Rename(lf.lock, lf.path); err != nil {
		return xerrors.Errorf("could not rename %s to %s: %w", lf.lock, lf.path, err)
	}
	lf.unregister()
	return nil
}

// Rollback discards the lockfile without touching the original path.
func (lf *Lockfile) Rollback() error {
	if lf.closed {
		return nil
	}
	_ = lf.file.Close()
	err := lf.fs.Remove(lf.lock)
	lf.unregister()
	if err != nil && !os.IsNotExist(err) {
		return xerrors.Errorf("could not remove lockfile %s: %w", lf.lock, err)
	}
	return nil
}

func (lf *Lockfile) unregister() {
	lf.closed = true
	registryMu.Lock()
	delete(registry, lf.lock)
	registryMu.Unlock()
}

// cleanupAll removes every currently-held lockfile. Called from the
// signal handler and may be called directly by tests.
func cleanupAll() {
	registryMu.Lock()
	defer registryMu.Unlock()
	for lockPath, lf := range registry {
		_ = lf.fs.Remove(lockPath)
		delete(registry, lockPath)
	}
}

// installSignalHandler registers, once per process, a SIGINT/SIGTERM
// handler that removes every held lockfile before re-raising the
// signal with the default disposition.
func installSignalHandler() {
	once.Do(func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			for sig := range c {
				cleanupAll()
				signal.Reset(sig)
				_ = syscall.Kill(syscall.Getpid(), sig.(syscall.Signal))
			}
		}()
	})
}
