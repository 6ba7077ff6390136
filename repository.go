// Package gitcore ties together the object store, index,
// configuration, and reachability/patch tooling into a single
// repository handle, mirroring the way git.Repository wraps its own
// backend, reference, and object-database layers.
package gitcore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nivl-forge/gitcore/config"
	"github.com/nivl-forge/gitcore/env"
	"github.com/nivl-forge/gitcore/fsck"
	"github.com/nivl-forge/gitcore/index"
	"github.com/nivl-forge/gitcore/internal/gitpath"
	"github.com/nivl-forge/gitcore/odb"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/nivl-forge/gitcore/patch"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"
)

// ErrRepositoryExists is returned by Init when a HEAD file is already
// present at the resolved git directory.
var ErrRepositoryExists = errors.New("repository already exists")

// ErrRepositoryNotExist is returned by Open when no HEAD file is found
// at the resolved git directory.
var ErrRepositoryNotExist = errors.New("repository does not exist")

// defaultBranch names the branch HEAD is pointed at when neither a
// caller-supplied name nor init.defaultBranch says otherwise.
const defaultBranch = "master"

// Repository is a single handle over every on-disk component of a
// repository: its resolved configuration, its object store, its
// staging index, and (for non-bare repositories) its work tree.
type Repository struct {
	Config     *config.Config
	Store      *odb.Store
	Index      *index.Index
	WorkTreeFS afero.Fs
}

// Options carries the location overrides used to resolve a
// Repository's Config, mirroring config.LoadOptions.
type Options struct {
	WorkingDirectory string
	GitDirPath       string
	WorkTreePath     string
	IsBare           bool
	FS               afero.Fs
	Env              *env.Env
}

func (o Options) loadOptions(skipGitDirLookUp bool) config.LoadOptions {
	return config.LoadOptions{
		FS:               o.FS,
		WorkingDirectory: o.WorkingDirectory,
		WorkTreePath:     o.WorkTreePath,
		GitDirPath:       o.GitDirPath,
		IsBare:           o.IsBare,
		SkipGitDirLookUp: skipGitDirLookUp,
	}
}

// Init creates a new repository: the .git directory layout, a default
// local config, and an unborn HEAD pointing at initialBranch (or
// init.defaultBranch, or "master" if neither is set).
func Init(opts Options, initialBranch string) (*Repository, error) {
	e := opts.Env
	if e == nil {
		e = env.NewFromOs()
	}
	cfg, err := config.Load(e, opts.loadOptions(true))
	if err != nil {
		return nil, xerrors.Errorf("could not resolve config: %w", err)
	}

	if _, err := cfg.FS.Stat(filepath.Join(cfg.GitDirPath, gitpath.HEAD)); err == nil {
		return nil, ErrRepositoryExists
	}

	dirs := []string{
		cfg.GitDirPath,
		cfg.ObjectDirPath,
		filepath.Join(cfg.ObjectDirPath, "pack"),
		filepath.Join(cfg.GitDirPath, gitpath.RefsHeads),
		filepath.Join(cfg.GitDirPath, gitpath.RefsTags),
	}
	for _, d := range dirs {
		if err := cfg.FS.MkdirAll(d, 0o755); err != nil {
			return nil, xerrors.Errorf("could not create %s: %w", d, err)
		}
	}

	if initialBranch == "" {
		if name, ok := cfg.DefaultBranch(); ok {
			initialBranch = name
		} else {
			initialBranch = defaultBranch
		}
	}
	if err := writeSymbolicHead(cfg, initialBranch); err != nil {
		return nil, err
	}

	cfg.UpdateIsBare(opts.IsBare)
	cfg.UpdateRepoFormatVersion("0")
	if err := cfg.Save(); err != nil {
		return nil, xerrors.Errorf("could not save config: %w", err)
	}

	return open(cfg)
}

// Open loads an existing repository.
func Open(opts Options) (*Repository, error) {
	e := opts.Env
	if e == nil {
		e = env.NewFromOs()
	}
	cfg, err := config.Load(e, opts.loadOptions(false))
	if err != nil {
		return nil, xerrors.Errorf("could not resolve config: %w", err)
	}
	if _, err := cfg.FS.Stat(filepath.Join(cfg.GitDirPath, gitpath.HEAD)); err != nil {
		return nil, ErrRepositoryNotExist
	}
	return open(cfg)
}

func open(cfg *config.Config) (*Repository, error) {
	store, err := odb.Open(cfg.FS, cfg.ObjectDirPath, "")
	if err != nil {
		return nil, xerrors.Errorf("could not open object store: %w", err)
	}

	idx, err := index.Load(cfg.FS, filepath.Join(cfg.GitDirPath, gitpath.Index))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, xerrors.Errorf("could not load index: %w", err)
		}
		idx = index.New(cfg.FS)
	}

	var wt afero.Fs
	if cfg.WorkTreePath != "" {
		wt = afero.NewBasePathFs(cfg.FS, cfg.WorkTreePath)
	}

	return &Repository{Config: cfg, Store: store, Index: idx, WorkTreeFS: wt}, nil
}

// Close releases the object store's pack mappings.
func (r *Repository) Close() error {
	return r.Store.Close()
}

// SaveIndex persists the in-memory index to .git/index.
func (r *Repository) SaveIndex() error {
	return r.Index.Save(filepath.Join(r.Config.GitDirPath, gitpath.Index))
}

func writeSymbolicHead(cfg *config.Config, branch string) error {
	line := fmt.Sprintf("ref: %s\n", gitpath.LocalBranchFullName(branch))
	return afero.WriteFile(cfg.FS, filepath.Join(cfg.GitDirPath, gitpath.HEAD), []byte(line), 0o644)
}

// Head resolves HEAD to the commit digest it ultimately names,
// following one level of "ref: <target>" symbolic indirection. An
// unborn HEAD (a branch ref that doesn't exist yet, the normal state
// right after Init) resolves to oid.Null with no error.
func (r *Repository) Head() (oid.Oid, error) {
	return r.resolveRef(gitpath.HEAD, true)
}

func (r *Repository) resolveRef(name string, allowSymbolic bool) (oid.Oid, error) {
	raw, err := afero.ReadFile(r.Config.FS, filepath.Join(r.Config.GitDirPath, name))
	if err != nil {
		if os.IsNotExist(err) {
			return oid.Null, nil
		}
		return oid.Null, err
	}

	line := strings.TrimSpace(string(raw))
	if line == "" {
		return oid.Null, nil
	}
	if target, ok := strings.CutPrefix(line, "ref: "); ok {
		if !allowSymbolic {
			return oid.Null, xerrors.Errorf("%s: nested symbolic ref", name)
		}
		return r.resolveRef(target, false)
	}
	return oid.FromHex(line)
}

// SetHeadBranch points HEAD at branch, creating the branch ref at
// target first when target isn't the null digest.
func (r *Repository) SetHeadBranch(branch string, target oid.Oid) error {
	if !target.IsZero() {
		refPath := filepath.Join(r.Config.GitDirPath, gitpath.LocalBranchFullName(branch))
		if err := afero.WriteFile(r.Config.FS, refPath, []byte(target.String()+"\n"), 0o644); err != nil {
			return xerrors.Errorf("could not write %s: %w", branch, err)
		}
	}
	return writeSymbolicHead(r.Config, branch)
}

// Check runs package fsck's reachability/integrity walk over the
// object store, seeding opts.Tips from HEAD when the caller didn't
// supply any.
func (r *Repository) Check(opts fsck.Options) (fsck.Report, error) {
	if len(opts.Tips) == 0 {
		if head, err := r.Head(); err == nil && !head.IsZero() {
			opts.Tips = []oid.Oid{head}
		}
	}
	return fsck.Check(r.Store, opts)
}

// Apply parses raw as a unified diff and applies it against the
// repository's work tree, defaulting opts.Index and opts.WorkTree to
// the repository's own index and resolved work tree when unset.
func (r *Repository) Apply(raw []byte, opts patch.ApplyOptions) ([]patch.Result, error) {
	patches, err := patch.Parse(raw)
	if err != nil {
		return nil, xerrors.Errorf("could not parse patch: %w", err)
	}
	if opts.Index == nil {
		opts.Index = r.Index
	}
	if opts.WorkTree == "" {
		opts.WorkTree = r.Config.WorkTreePath
	}
	return patch.Apply(r.Config.FS, r.Store, patches, opts)
}
