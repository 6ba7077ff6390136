package main

import (
	"fmt"
	"io"

	"github.com/nivl-forge/gitcore/patch"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newApplyCmd(flags *globalFlags) *cobra.Command {
	var check, cached, ignoreWhitespace bool

	cmd := &cobra.Command{
		Use:   "apply <patch-file>",
		Short: "Apply a unified diff to the work tree and/or the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.OutOrStdout(), flags, args[0], patch.ApplyOptions{
				CheckIndex:       check || cached,
				WriteIndex:       cached,
				IgnoreWhitespace: ignoreWhitespace,
			})
		},
	}
	cmd.Flags().BoolVar(&check, "index", false, "verify the patch applies cleanly against the index")
	cmd.Flags().BoolVar(&cached, "cached", false, "apply the patch to the work tree and also update the index")
	cmd.Flags().BoolVar(&ignoreWhitespace, "ignore-whitespace", false, "tolerate whitespace differences in context lines")
	return cmd
}

func runApply(out io.Writer, flags *globalFlags, path string, opts patch.ApplyOptions) error {
	r, err := openRepository(flags)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // the index save below is what actually needs to succeed

	raw, err := afero.ReadFile(afero.NewOsFs(), path)
	if err != nil {
		return xerrors.Errorf("could not read %s: %w", path, err)
	}

	results, err := r.Apply(raw, opts)
	for _, res := range results {
		fmt.Fprintln(out, res.Path)
	}
	if err != nil {
		return err
	}
	if opts.WriteIndex {
		return r.SaveIndex()
	}
	return nil
}
