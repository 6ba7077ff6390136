package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/nivl-forge/gitcore/object"
	"golang.org/x/xerrors"
)

// prettyPrintObject renders o the way `git cat-file -p` does: blobs
// are dumped verbatim, commits/tags print their parsed headers and
// message, and trees print one "<mode> <type> <id>\t<name>" line per
// entry.
func prettyPrintObject(out io.Writer, o *object.Object) error {
	switch o.Type() {
	case object.TypeBlob:
		_, err := out.Write(o.AsBlob().Bytes())
		return err
	case object.TypeTree:
		return prettyPrintTree(out, o)
	case object.TypeCommit:
		return prettyPrintCommit(out, o)
	case object.TypeTag:
		return prettyPrintTag(out, o)
	default:
		return xerrors.Errorf("unknown object type %s", o.Type())
	}
}

func prettyPrintTree(out io.Writer, o *object.Object) error {
	tree, err := o.AsTree()
	if err != nil {
		return err
	}
	for _, e := range tree.Entries() {
		_, err := fmt.Fprintf(out, "%06s %s %s\t%s\n", strconv.FormatUint(uint64(e.Mode), 8), e.Mode.ObjectType(), e.ID, e.Name)
		if err != nil {
			return err
		}
	}
	return nil
}

func prettyPrintCommit(out io.Writer, o *object.Object) error {
	c, err := o.AsCommit()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "tree %s\n", c.TreeID)
	for _, p := range c.ParentIDs {
		fmt.Fprintf(out, "parent %s\n", p)
	}
	fmt.Fprintf(out, "author %s\n", c.Author)
	fmt.Fprintf(out, "committer %s\n", c.Committer)
	_, err = fmt.Fprintf(out, "\n%s", c.Message)
	return err
}

func prettyPrintTag(out io.Writer, o *object.Object) error {
	t, err := o.AsTag()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "object %s\n", t.TargetID)
	fmt.Fprintf(out, "type %s\n", t.TargetType)
	fmt.Fprintf(out, "tag %s\n", t.Name)
	fmt.Fprintf(out, "tagger %s\n", t.Tagger)
	_, err = fmt.Fprintf(out, "\n%s", t.Message)
	return err
}
