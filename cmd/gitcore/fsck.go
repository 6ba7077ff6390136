package main

import (
	"fmt"
	"io"

	"github.com/nivl-forge/gitcore/fsck"
	"github.com/spf13/cobra"
)

func newFsckCmd(flags *globalFlags) *cobra.Command {
	var unreachable, tags bool

	cmd := &cobra.Command{
		Use:   "fsck",
		Short: "Check the object database for missing or broken links",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runFsck(cmd.OutOrStdout(), flags, fsck.Options{
				IncludeUnreachable: unreachable,
				IncludeTags:        tags,
			})
		},
	}
	cmd.Flags().BoolVar(&unreachable, "unreachable", false, "report objects not reachable from any tip")
	cmd.Flags().BoolVar(&tags, "tags", false, "report each tag object's target")
	return cmd
}

func runFsck(out io.Writer, flags *globalFlags, opts fsck.Options) error {
	r, err := openRepository(flags)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // read-only command, nothing left to flush

	report, err := r.Check(opts)
	for _, issue := range report.Issues {
		fmt.Fprintln(out, issue)
	}
	return err
}
