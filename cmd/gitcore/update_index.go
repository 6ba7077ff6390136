package main

import (
	"io"

	"github.com/nivl-forge/gitcore/index"
	"github.com/nivl-forge/gitcore/object"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newUpdateIndexCmd(flags *globalFlags) *cobra.Command {
	var add bool

	cmd := &cobra.Command{
		Use:   "update-index [path...]",
		Short: "Register file contents in the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !add {
				return xerrors.New("update-index currently only supports --add")
			}
			return runUpdateIndex(cmd.OutOrStdout(), flags, args)
		},
	}
	cmd.Flags().BoolVar(&add, "add", false, "add the named files to the index")
	return cmd
}

func runUpdateIndex(_ io.Writer, flags *globalFlags, paths []string) error {
	r, err := openRepository(flags)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // the index save below is what actually needs to succeed

	for _, p := range paths {
		content, err := afero.ReadFile(r.WorkTreeFS, p)
		if err != nil {
			return xerrors.Errorf("could not read %s: %w", p, err)
		}
		mode := object.ModeFile
		id, err := r.Store.Write(object.TypeBlob, content)
		if err != nil {
			return xerrors.Errorf("could not write %s: %w", p, err)
		}
		if err := r.Index.Insert(&index.Entry{Name: p, Mode: mode, ID: id}, index.OkToReplace); err != nil {
			return xerrors.Errorf("could not stage %s: %w", p, err)
		}
	}
	return r.SaveIndex()
}
