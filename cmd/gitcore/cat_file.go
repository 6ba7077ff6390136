package main

import (
	"fmt"
	"io"

	"github.com/nivl-forge/gitcore/oid"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newCatFileCmd(flags *globalFlags) *cobra.Command {
	var showType, showSize, prettyPrint bool

	cmd := &cobra.Command{
		Use:   "cat-file <object>",
		Short: "Show the type, size, or content of a repository object",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatFile(cmd.OutOrStdout(), flags, args[0], showType, showSize, prettyPrint)
		},
	}
	cmd.Flags().BoolVarP(&showType, "type", "t", false, "show the object's type")
	cmd.Flags().BoolVarP(&showSize, "size", "s", false, "show the object's size")
	cmd.Flags().BoolVarP(&prettyPrint, "pretty-print", "p", false, "pretty-print the object's content")
	return cmd
}

func runCatFile(out io.Writer, flags *globalFlags, idHex string, showType, showSize, prettyPrint bool) error {
	if showType && showSize || showType && prettyPrint || showSize && prettyPrint {
		return xerrors.New("only one of -t, -s, -p may be given")
	}

	id, err := oid.FromHex(idHex)
	if err != nil {
		return xerrors.Errorf("%s: %w", idHex, err)
	}

	r, err := openRepository(flags)
	if err != nil {
		return err
	}
	defer r.Close() //nolint:errcheck // read-only command, nothing left to flush

	o, err := r.Store.Open(id)
	if err != nil {
		return xerrors.Errorf("could not open %s: %w", idHex, err)
	}

	switch {
	case showType:
		_, err = fmt.Fprintln(out, o.Type())
	case showSize:
		_, err = fmt.Fprintln(out, o.Size())
	case prettyPrint:
		err = prettyPrintObject(out, o)
	default:
		_, err = out.Write(o.Bytes())
	}
	return err
}
