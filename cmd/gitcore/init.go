package main

import (
	"fmt"
	"io"

	gitcore "github.com/nivl-forge/gitcore"
	"github.com/spf13/cobra"
)

func newInitCmd(flags *globalFlags) *cobra.Command {
	var bare bool
	var initialBranch string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags.bare = bare
			return runInit(cmd.OutOrStdout(), flags, initialBranch)
		},
	}
	cmd.Flags().BoolVar(&bare, "bare", false, "create a bare repository")
	cmd.Flags().StringVarP(&initialBranch, "initial-branch", "b", "", "name of the initial branch")
	return cmd
}

func runInit(out io.Writer, flags *globalFlags, initialBranch string) error {
	r, err := gitcore.Init(repoOptions(flags), initialBranch)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // nothing to report at the end of an otherwise-successful init

	_, err = fmt.Fprintf(out, "Initialized empty Git repository in %s\n", r.Config.GitDirPath)
	return err
}
