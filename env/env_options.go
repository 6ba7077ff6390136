package env

import (
	"path/filepath"
	"strings"

	"github.com/nivl-forge/gitcore/internal/gitpath"
)

// GitOptions represents the repository-location options git itself
// reads from the environment before ever opening a config file.
type GitOptions struct {
	// GitDirPath represents the path to the .git directory.
	// Defaults to .git
	// Maps to GIT_DIR
	GitDirPath string
	// GitObjectDirPath represents the path to the .git/objects directory.
	// Defaults to .git/objects
	// Maps to GIT_OBJECT_DIRECTORY
	GitObjectDirPath string
	// GitConfig represents the config file to load.
	// Defaults to .git/config
	// Maps to GIT_CONFIG
	GitConfig string
	// SkipSystemConfig states whether the system config should be read.
	// Defaults to false
	// Maps to GIT_CONFIG_NOSYSTEM
	SkipSystemConfig bool

	// isFinalized is set once the exported values have been resolved
	// to their final paths.
	isFinalized bool
}

// NewGitOptions returns a GitOptions that fetches its data from e.
//
// Usage: NewGitOptions(NewFromOs())
func NewGitOptions(e *Env) *GitOptions {
	skipSystemConfig := false
	switch strings.ToLower(e.Get("GIT_CONFIG_NOSYSTEM")) {
	case "yes", "1", "true":
		skipSystemConfig = true
	}

	return &GitOptions{
		GitDirPath:       e.Get("GIT_DIR"),
		GitObjectDirPath: e.Get("GIT_OBJECT_DIRECTORY"),
		SkipSystemConfig: skipSystemConfig,
		GitConfig:        e.Get("GIT_CONFIG"),
	}
}

// FinalizeOptions carries the data needed to turn GitOptions' raw
// env-sourced fields into absolute paths.
type FinalizeOptions struct {
	ProjectPath string
	IsBare      bool
}

// Finalize resolves every path field against p. Calling it more than
// once is a no-op.
func (opts *GitOptions) Finalize(p FinalizeOptions) {
	if opts.isFinalized {
		return
	}

	opts.isFinalized = true
	opts.GitDirPath = opts.buildDotGitPath(p.ProjectPath, p.IsBare)
	opts.GitObjectDirPath = opts.buildDotGitObjectsPath(p.ProjectPath, opts.GitDirPath)
	if opts.GitConfig == "" {
		opts.GitConfig = filepath.Join(opts.GitDirPath, gitpath.Config)
	}
}

// IsFinalized reports whether Finalize has run.
func (opts *GitOptions) IsFinalized() bool {
	if opts == nil {
		return false
	}
	return opts.isFinalized
}

// buildDotGitPath returns the absolute path to the .git directory.
// projectPath is the directory that would contain .git in the common
// case.
func (opts *GitOptions) buildDotGitPath(projectPath string, isBare bool) string {
	dotGitPath := projectPath
	if !isBare {
		dotGitPath = filepath.Join(projectPath, gitpath.DotGit)
	}
	// An explicit GitDirPath wins regardless of isBare: it doesn't make
	// sense to ask for a bare layout while also pointing at a specific
	// git directory.
	if opts.GitDirPath != "" {
		dotGitPath = opts.GitDirPath
		if !filepath.IsAbs(opts.GitDirPath) {
			dotGitPath = filepath.Join(projectPath, opts.GitDirPath)
		}
	}
	return dotGitPath
}

// buildDotGitObjectsPath returns the absolute path to the objects
// directory, relative to projectPath when GitObjectDirPath is a
// relative override and to dotGitPath otherwise.
func (opts *GitOptions) buildDotGitObjectsPath(projectPath, dotGitPath string) string {
	objectsPath := filepath.Join(dotGitPath, gitpath.Objects)
	if opts.GitObjectDirPath != "" {
		objectsPath = opts.GitObjectDirPath
		if !filepath.IsAbs(opts.GitObjectDirPath) {
			objectsPath = filepath.Join(projectPath, opts.GitObjectDirPath)
		}
	}
	return objectsPath
}
