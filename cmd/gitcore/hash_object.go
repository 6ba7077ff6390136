package main

import (
	"fmt"
	"io"

	"github.com/nivl-forge/gitcore/object"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newHashObjectCmd(flags *globalFlags) *cobra.Command {
	var typ string
	var write bool

	cmd := &cobra.Command{
		Use:   "hash-object [path...]",
		Short: "Compute the object digest for files, optionally writing them to the store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHashObject(cmd.OutOrStdout(), flags, typ, write, args)
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "blob", "type of the object to create")
	cmd.Flags().BoolVarP(&write, "write", "w", false, "write the object into the object database")
	return cmd
}

func runHashObject(out io.Writer, flags *globalFlags, typString string, write bool, paths []string) error {
	typ, err := object.TypeFromString(typString)
	if err != nil {
		return xerrors.Errorf("%s: %w", typString, err)
	}

	var fs afero.Fs = afero.NewOsFs()

	if write {
		r, err := openRepository(flags)
		if err != nil {
			return err
		}
		defer r.Close() //nolint:errcheck // we've already produced every digest we were asked for

		for _, p := range paths {
			content, err := afero.ReadFile(fs, p)
			if err != nil {
				return xerrors.Errorf("could not read %s: %w", p, err)
			}
			id, err := r.Store.Write(typ, content)
			if err != nil {
				return xerrors.Errorf("could not write %s: %w", p, err)
			}
			fmt.Fprintln(out, id)
		}
		return nil
	}

	for _, p := range paths {
		content, err := afero.ReadFile(fs, p)
		if err != nil {
			return xerrors.Errorf("could not read %s: %w", p, err)
		}
		id, _, err := object.New(typ, content).Compress()
		if err != nil {
			return xerrors.Errorf("could not hash %s: %w", p, err)
		}
		fmt.Fprintln(out, id)
	}
	return nil
}
