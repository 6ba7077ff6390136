package main

import (
	"fmt"
	"io"
	"os"

	"github.com/nivl-forge/gitcore/oid"
	"github.com/nivl-forge/gitcore/packfile"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"
)

func newVerifyPackCmd(flags *globalFlags) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "verify-pack <pack-file>",
		Short: "Validate a packfile's trailer checksum and list its objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerifyPack(cmd.OutOrStdout(), args[0], verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every object found in the pack")
	return cmd
}

func runVerifyPack(out io.Writer, path string, verbose bool) error {
	p, err := packfile.Open(path)
	if err != nil {
		return xerrors.Errorf("could not open %s: %w", path, err)
	}
	defer p.Close() //nolint:errcheck // read-only command, nothing left to flush

	trailer, err := p.Trailer()
	if err != nil {
		return xerrors.Errorf("could not read trailer: %w", err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return xerrors.Errorf("could not read %s: %w", path, err)
	}
	if oid.FromContent(raw[:len(raw)-oid.Size]) != trailer {
		return xerrors.Errorf("%s: trailer checksum mismatch", path)
	}

	if verbose {
		err = p.WalkOids(func(id oid.Oid) error {
			_, err := fmt.Fprintln(out, id)
			return err
		})
		if err != nil {
			return xerrors.Errorf("could not walk pack: %w", err)
		}
	}

	fmt.Fprintf(out, "%s: ok, %d objects, checksum %s\n", path, p.ObjectCount(), trailer)
	return nil
}
