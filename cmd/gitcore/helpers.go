package main

import (
	gitcore "github.com/nivl-forge/gitcore"
	"github.com/nivl-forge/gitcore/env"
)

// repoOptions turns the persistent flags shared by every subcommand
// into gitcore.Options, reading the rest from the process environment.
func repoOptions(flags *globalFlags) gitcore.Options {
	return gitcore.Options{
		WorkingDirectory: flags.chdir,
		GitDirPath:       flags.gitDir,
		WorkTreePath:     flags.workTree,
		IsBare:           flags.bare,
		Env:              env.NewFromOs(),
	}
}

// openRepository opens the repository reachable from flags, the way
// every subcommand but init needs to.
func openRepository(flags *globalFlags) (*gitcore.Repository, error) {
	return gitcore.Open(repoOptions(flags))
}
