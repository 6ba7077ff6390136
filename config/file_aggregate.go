package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/nivl-forge/gitcore/env"
	"gopkg.in/ini.v1"
)

// loadOptions is shared by every ini.File this package parses.
// Treat it as a constant: never mutate it from a method, including in
// tests.
//
//nolint:gochecknoglobals // see above
var loadOptions = ini.LoadOptions{SkipUnrecognizableLines: true}

// defaultConfig builds the baseline core.* section a freshly
// initialized repository ships with, used when no config file exists
// yet on disk.
func defaultConfig() (*ini.File, error) {
	cfg := ini.Empty(loadOptions)

	core := cfg.Section("core")
	defaults := map[string]string{
		"repositoryformatversion": "0",
		"filemode":                "true",
		"logallrefupdates":        "true",
		"ignorecase":              "true",
		"precomposeunicode":       "true",
	}
	for k, v := range defaults {
		if _, err := core.NewKey(k, v); err != nil {
			return nil, fmt.Errorf("could not set core.%s: %w", k, err)
		}
	}
	return cfg, nil
}

// FileAggregate layers every config file that applies to a repository:
// system and global files fold into one read-only view, the
// repository-local file is kept separate since it's the only one this
// package ever writes back to.
type FileAggregate struct {
	cfg    *Config
	global *ini.File
	local  *ini.File
}

// Save persists pending changes to the local config file.
func (fa *FileAggregate) Save() error {
	return fa.local.SaveTo(fa.cfg.LocalConfig)
}

// RepoFormatVersion returns core.repositoryformatversion, preferring
// the local file over global/system when both set it.
func (fa *FileAggregate) RepoFormatVersion() (version int, ok bool) {
	source := fa.global
	if fa.local.Section("core").HasKey("repositoryformatversion") {
		source = fa.local
	}
	v, err := source.Section("core").Key("repositoryformatversion").Int()
	if err != nil {
		return 0, false
	}
	return v, true
}

// UpdateRepoFormatVersion sets core.repositoryformatversion in the
// local file.
func (fa *FileAggregate) UpdateRepoFormatVersion(ver string) {
	fa.local.Section("core").Key("repositoryformatversion").SetValue(ver)
}

// DefaultBranch returns init.defaultBranch. The value isn't validated
// as a legal ref name here.
func (fa *FileAggregate) DefaultBranch() (name string, ok bool) {
	source := fa.global
	if fa.local.Section("init").HasKey("defaultBranch") {
		source = fa.local
	}
	v := source.Section("init").Key("defaultBranch").String()
	return v, v != ""
}

// WorkTree returns core.worktree.
func (fa *FileAggregate) WorkTree() (workTree string, ok bool) {
	source := fa.global
	if fa.local.Section("core").HasKey("worktree") {
		source = fa.local
	}
	v := source.Section("core").Key("worktree").String()
	return v, v != ""
}

// IsBare returns core.bare.
func (fa *FileAggregate) IsBare() (isBare, ok bool) {
	source := fa.global
	if fa.local.Section("core").HasKey("bare") {
		source = fa.local
	}
	v, err := source.Section("core").Key("bare").Bool()
	if err != nil {
		return false, false
	}
	return v, true
}

// UpdateIsBare sets core.bare in the local file.
func (fa *FileAggregate) UpdateIsBare(isBare bool) {
	fa.local.Section("core").Key("bare").SetValue(strconv.FormatBool(isBare))
}

// NewFileAggregate loads every config file that applies to cfg and
// returns an accessor over the aggregate.
func NewFileAggregate(e *env.Env, cfg *Config) (*FileAggregate, error) {
	fa := &FileAggregate{cfg: cfg}

	readers, err := openExisting(cfg, configPaths(e, cfg))
	defer func() {
		for _, r := range readers {
			_ = r.Close() // go-ini already closed these; this guards against a future ini.v1 change that stops doing so
		}
	}()
	if err != nil {
		return nil, err
	}

	files := make([]interface{}, len(readers))
	for i, r := range readers {
		files[i] = r
	}

	// Without a local config file on disk every file found is a system
	// or global one; an empty source stands in for the local file.
	if len(files) > 0 {
		if _, statErr := cfg.FS.Stat(cfg.LocalConfig); statErr != nil {
			files = append(files, []byte{})
		}
	}

	fa.global = ini.Empty(loadOptions)
	switch len(files) {
	case 0:
		if fa.local, err = defaultConfig(); err != nil {
			return nil, fmt.Errorf("could not create default local config: %w", err)
		}
	default:
		if len(files) > 1 {
			// Earlier files are overwritten by later ones: system,
			// then global, then every file but the last are merged
			// into "global"; the last file (always the local config)
			// is kept separate since it's the only writable one.
			fa.global, err = ini.LoadSources(loadOptions, files[0], files[1:len(files)-1]...)
			if err != nil {
				return nil, fmt.Errorf("could not aggregate config files: %w", err)
			}
		}
		fa.local, err = ini.LoadSources(loadOptions, files[len(files)-1])
		if err != nil {
			return nil, fmt.Errorf("could not load local config file: %w", err)
		}
	}
	return fa, nil
}

// openExisting opens every path in paths that exists on disk, skipping
// the rest: not every config file is expected to be present.
func openExisting(cfg *Config, paths []string) ([]io.ReadCloser, error) {
	var readers []io.ReadCloser
	for _, p := range paths {
		if _, err := cfg.FS.Stat(p); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return readers, fmt.Errorf("could not check file %s: %w", p, err)
		}
		f, err := cfg.FS.Open(p)
		if err != nil {
			return readers, fmt.Errorf("could not open file %s: %w", p, err)
		}
		readers = append(readers, f)
	}
	return readers, nil
}

func appendIfSet(paths *[]string, base string, rest ...string) {
	if base != "" {
		*paths = append(*paths, filepath.Join(base, filepath.Join(rest...)))
	}
}

// configPaths returns every config file path that could apply to cfg,
// in the order they must be merged: system, global, then local.
func configPaths(e *env.Env, cfg *Config) []string {
	var paths []string

	// git looks for $(prefix)/etc/gitconfig, prefix being a value
	// normally baked in at compile time ($PREFIX). Since that's rarely
	// set here, the OS-specific defaults below are tried instead.
	if !cfg.SkipSystemConfig && cfg.Prefix != "" {
		paths = append(paths, filepath.Join(cfg.Prefix, "etc", "gitconfig"))
	}

	switch runtime.GOOS {
	case "windows":
		if !cfg.SkipSystemConfig && cfg.Prefix == "" {
			appendIfSet(&paths, e.Get("ALLUSERSPROFILE"), "Application Data", "Git", "config")
			appendIfSet(&paths, e.Get("ProgramFiles(x86)"), "Git", "etc", "gitconfig")
			appendIfSet(&paths, e.Get("ProgramFiles"), "Git", "mingw64", "etc", "gitconfig")
		}
		appendIfSet(&paths, e.Get("USERPROFILE"), ".gitconfig")
	default:
		if !cfg.SkipSystemConfig && cfg.Prefix == "" {
			paths = append(paths, "/etc/gitconfig", "/usr/local/etc/gitconfig", "/opt/homebrew/etc/gitconfig")
		}
		if e.Get("XDG_CONFIG_HOME") != "" {
			paths = append(paths, filepath.Join(e.Get("XDG_CONFIG_HOME"), "git", ".gitconfig"))
		} else {
			appendIfSet(&paths, e.Get("HOME"), ".config", "git", ".gitconfig")
		}
	}
	appendIfSet(&paths, e.Get("HOME"), ".gitconfig")
	paths = append(paths, cfg.LocalConfig)
	return paths
}
