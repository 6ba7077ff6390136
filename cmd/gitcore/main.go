// Command gitcore is a small porcelain over package gitcore: enough of
// init, hash-object, cat-file, update-index, fsck, and apply to drive
// the object store, index, and patch applier from a shell.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// globalFlags carries the handful of location overrides every
// subcommand accepts, mirroring git's own -C/--git-dir/--work-tree.
type globalFlags struct {
	chdir    string
	gitDir   string
	workTree string
	bare     bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:           "gitcore",
		Short:         "A small, from-scratch git core",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.chdir, "directory", "C", "", "run as if started in <path>")
	root.PersistentFlags().StringVar(&flags.gitDir, "git-dir", "", "path to the repository's .git directory")
	root.PersistentFlags().StringVar(&flags.workTree, "work-tree", "", "path to the work tree")

	root.AddCommand(
		newInitCmd(flags),
		newHashObjectCmd(flags),
		newCatFileCmd(flags),
		newUpdateIndexCmd(flags),
		newFsckCmd(flags),
		newApplyCmd(flags),
		newVerifyPackCmd(flags),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "gitcore:", err)
		os.Exit(1)
	}
}
