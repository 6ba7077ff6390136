// Package pathutil contains helpers to locate a repository on disk and
// to validate path names used as index/tree entries.
package pathutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/nivl-forge/gitcore/internal/gitpath"
	"golang.org/x/xerrors"
)

// ErrNoRepo is returned when no repository can be found.
var ErrNoRepo = errors.New("not a git repository (or any of the parent directories)")

// ErrInvalidPath is returned by VerifyPath when a path is unsafe to use
// as a working-tree or index entry name.
var ErrInvalidPath = errors.New("invalid path")

// RepoRoot returns the absolute path to the root of the repository
// containing the current working directory.
func RepoRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", xerrors.Errorf("could not get current working directory: %w", err)
	}
	return RepoRootFromPath(wd)
}

// RepoRootFromPath returns the absolute path to the root of the
// repository containing p, walking up the tree until a ".git" directory
// or a bare HEAD file is found.
func RepoRootFromPath(p string) (string, error) {
	prev := ""
	for p != prev {
		info, err := os.Stat(filepath.Join(p, gitpath.DotGit))
		if err == nil && info.IsDir() {
			return p, nil
		}

		info, err = os.Stat(filepath.Join(p, gitpath.HEAD))
		if err == nil && !info.IsDir() && info.Size() > 0 {
			return p, nil
		}

		prev = p
		p = filepath.Dir(p)
	}
	return "", ErrNoRepo
}

// WorkingTreeFromPath returns the absolute path to the root of the
// repository's work tree containing p.
func WorkingTreeFromPath(p string) (string, error) {
	prev := ""
	for p != prev {
		info, err := os.Stat(filepath.Join(p, gitpath.DotGit))
		if err == nil && info.IsDir() {
			return p, nil
		}
		prev = p
		p = filepath.Dir(p)
	}
	return "", ErrNoRepo
}

// VerifyPath validates that name is safe to use as a path tracked by the
// index or reconstructed by the patch applier: it must be relative,
// non-empty, use forward slashes, and never contain a ".." segment that
// would let it escape the work tree.
//
// Grounded on update-cache.c's verify_path(), called before any path is
// added to the cache.
func VerifyPath(name string) error {
	if name == "" {
		return ErrInvalidPath
	}
	if filepath.IsAbs(name) || strings.HasPrefix(name, "/") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(name, "/") {
		switch seg {
		case "", ".", "..":
			return ErrInvalidPath
		}
		if seg == ".git" {
			return ErrInvalidPath
		}
	}
	return nil
}
