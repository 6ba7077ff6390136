// Package config resolves a repository's configuration: the handful
// of environment variables git itself reads before touching any file
// (GIT_DIR, GIT_WORK_TREE, GIT_OBJECT_DIRECTORY, GIT_CONFIG, PREFIX,
// GIT_CONFIG_NOSYSTEM), the chain of system/global/local ini files that
// layer on top, and the handful of core.* keys the rest of the module
// cares about.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nivl-forge/gitcore/env"
	"github.com/nivl-forge/gitcore/internal/gitpath"
	"github.com/nivl-forge/gitcore/internal/pathutil"
	"github.com/spf13/afero"
)

// ErrNoWorkTreeAlone is returned when a work tree path is given
// without a git directory.
var ErrNoWorkTreeAlone = errors.New("cannot specify a work tree without also specifying a git dir")

// Config is the fully-resolved configuration of a repository: the
// paths git needs to find its data, plus an aggregate view over every
// config file that applies to it.
//
// Constructing one by hand (rather than through Load) is supported but
// every field must be set correctly; nothing defaults it for you.
type Config struct {
	// FS is the filesystem implementation used to look for files and
	// directories. Defaults to the real OS filesystem.
	FS afero.Fs

	fromFiles *FileAggregate

	// GitDirPath is the path to the .git directory. Maps to $GIT_DIR.
	// Defaults to walking up from the working directory until a ".git"
	// is found.
	GitDirPath string
	// WorkTreePath is the path to the work tree. Maps to
	// $GIT_WORK_TREE. Defaults to the directory containing GitDirPath,
	// or core.worktree if set.
	WorkTreePath string
	// ObjectDirPath is the path to the object directory. Maps to
	// $GIT_OBJECT_DIRECTORY. Defaults to $(GitDirPath)/objects.
	ObjectDirPath string
	// LocalConfig is the repository-local config file. Maps to
	// $GIT_CONFIG. Defaults to $(GitDirPath)/config.
	LocalConfig string
	// Prefix is the base used to find the system config file,
	// $(Prefix)/etc/gitconfig. Maps to $PREFIX.
	Prefix string
	// SkipSystemConfig disables loading the system config file. Maps
	// to $GIT_CONFIG_NOSYSTEM.
	SkipSystemConfig bool
}

// LoadOptions carries the overrides used to resolve a Config; any
// field left at its zero value falls back to the environment or to a
// directory-discovery default.
type LoadOptions struct {
	// FS is the filesystem to resolve paths against. Defaults to the
	// real OS filesystem.
	FS afero.Fs
	// WorkingDirectory overrides the process working directory.
	WorkingDirectory string
	// WorkTreePath overrides $GIT_WORK_TREE.
	WorkTreePath string
	// GitDirPath overrides $GIT_DIR.
	GitDirPath string
	// IsBare marks the repository as having no work tree.
	IsBare bool
	// SkipGitDirLookUp disables walking up the directory tree looking
	// for a ".git" directory; set this when initializing a brand new
	// repository, where no such walk should succeed.
	SkipGitDirLookUp bool
}

// Load resolves a Config from e layered with opts. Environment
// variables set the baseline; opts fields, when non-zero, override
// them.
func Load(e *env.Env, opts LoadOptions) (*Config, error) {
	skipSystemConfig := false
	switch strings.ToLower(e.Get("GIT_CONFIG_NOSYSTEM")) {
	case "yes", "1", "true":
		skipSystemConfig = true
	}

	cfg := &Config{
		GitDirPath:       e.Get("GIT_DIR"),
		WorkTreePath:     e.Get("GIT_WORK_TREE"),
		ObjectDirPath:    e.Get("GIT_OBJECT_DIRECTORY"),
		SkipSystemConfig: skipSystemConfig,
		LocalConfig:      e.Get("GIT_CONFIG"),
		Prefix:           e.Get("PREFIX"),
	}

	if err := resolve(e, cfg, opts); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadSkipEnv resolves a Config the same way Load does, except that no
// environment variable is consulted: only opts and on-disk discovery
// contribute.
func LoadSkipEnv(opts LoadOptions) (*Config, error) {
	return Load(env.NewFromKVList(nil), opts)
}

func resolve(e *env.Env, cfg *Config, opts LoadOptions) (err error) {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	cfg.FS = opts.FS

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("could not get the current directory: %w", err)
	}
	if opts.WorkingDirectory == "" {
		opts.WorkingDirectory = wd
	}
	if !filepath.IsAbs(opts.WorkingDirectory) {
		opts.WorkingDirectory = filepath.Join(wd, opts.WorkingDirectory)
	}

	// $GIT_WORK_TREE and --work-tree cannot be set without $GIT_DIR or
	// --git-dir; core.worktree is unaffected by this rule.
	if opts.GitDirPath == "" && cfg.GitDirPath == "" && (opts.WorkTreePath != "" || cfg.WorkTreePath != "") {
		return ErrNoWorkTreeAlone
	}

	if opts.GitDirPath != "" {
		cfg.GitDirPath = opts.GitDirPath
	}
	guessedWorkTree := opts.WorkingDirectory
	switch cfg.GitDirPath {
	case "":
		if !opts.SkipGitDirLookUp {
			guessedWorkTree, err = pathutil.WorkingTreeFromPath(opts.WorkingDirectory)
			if err != nil {
				return fmt.Errorf("could not find working tree: %w", err)
			}
		}
		cfg.GitDirPath = filepath.Join(guessedWorkTree, gitpath.DotGit)
	default:
		if !filepath.IsAbs(cfg.GitDirPath) {
			cfg.GitDirPath = filepath.Join(opts.WorkingDirectory, cfg.GitDirPath)
		}
	}

	if cfg.LocalConfig == "" {
		cfg.LocalConfig = filepath.Join(cfg.GitDirPath, gitpath.Config)
	}
	if !filepath.IsAbs(cfg.LocalConfig) {
		cfg.LocalConfig = filepath.Join(opts.WorkingDirectory, cfg.LocalConfig)
	}

	if cfg.ObjectDirPath == "" {
		cfg.ObjectDirPath = filepath.Join(cfg.GitDirPath, gitpath.Objects)
	}
	if !filepath.IsAbs(cfg.ObjectDirPath) {
		cfg.ObjectDirPath = filepath.Join(opts.WorkingDirectory, cfg.ObjectDirPath)
	}

	cfg.fromFiles, err = NewFileAggregate(e, cfg)
	if err != nil {
		return fmt.Errorf("could not load config files: %w", err)
	}

	// --work-tree wins, then core.worktree, then $GIT_WORK_TREE; a
	// non-bare repo with none of them set falls back to the directory
	// the ".git" look-up found, or to the working directory itself when
	// GitDirPath was given or the look-up was skipped.
	if path, ok := cfg.fromFiles.WorkTree(); ok {
		cfg.WorkTreePath = path
	}
	if opts.WorkTreePath != "" {
		cfg.WorkTreePath = opts.WorkTreePath
	}
	if cfg.WorkTreePath == "" && !opts.IsBare {
		cfg.WorkTreePath = guessedWorkTree
	}
	if cfg.WorkTreePath != "" && !filepath.IsAbs(cfg.WorkTreePath) {
		cfg.WorkTreePath = filepath.Join(opts.WorkingDirectory, cfg.WorkTreePath)
	}

	return nil
}

// RepoFormatVersion returns core.repositoryformatversion.
func (cfg *Config) RepoFormatVersion() (int, bool) {
	return cfg.fromFiles.RepoFormatVersion()
}

// UpdateRepoFormatVersion sets core.repositoryformatversion in the
// local config. Save must be called to persist the change.
func (cfg *Config) UpdateRepoFormatVersion(ver string) {
	cfg.fromFiles.UpdateRepoFormatVersion(ver)
}

// DefaultBranch returns init.defaultBranch, the name used for a
// repository's first branch.
func (cfg *Config) DefaultBranch() (string, bool) {
	return cfg.fromFiles.DefaultBranch()
}

// IsBare returns core.bare.
func (cfg *Config) IsBare() (bool, bool) {
	return cfg.fromFiles.IsBare()
}

// UpdateIsBare sets core.bare in the local config. Save must be called
// to persist the change.
func (cfg *Config) UpdateIsBare(isBare bool) {
	cfg.fromFiles.UpdateIsBare(isBare)
}

// Save persists any pending local config changes to disk.
func (cfg *Config) Save() error {
	return cfg.fromFiles.Save()
}
