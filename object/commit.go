package object

import (
	"bytes"
	"errors"

	"github.com/nivl-forge/gitcore/internal/readutil"
	"github.com/nivl-forge/gitcore/oid"
	"golang.org/x/xerrors"
)

// ErrCommitInvalid is returned when a commit object's body does not
// start with a "tree <oid>" line or has an unterminated gpgsig block.
// A malformed id or signature in a header is reported with the error
// of the parser that rejected it.
var ErrCommitInvalid = errors.New("invalid commit")

// Commit is the parsed view of a commit object.
//
//	tree {sha}
//	parent {sha}          (zero, one, or many)
//	author {name} <{email}> {seconds} {tz}
//	committer {name} <{email}> {seconds} {tz}
//	gpgsig -----BEGIN PGP SIGNATURE-----
//	 {...}
//	 -----END PGP SIGNATURE-----
//	{blank line}
//	{message}
type Commit struct {
	id        oid.Oid
	TreeID    oid.Oid
	ParentIDs []oid.Oid
	Author    Signature
	Committer Signature
	Message   string
	gpgSig    string
}

// ID returns the commit's digest.
func (c *Commit) ID() oid.Oid { return c.id }

// NewCommit builds an in-memory commit ready to be written.
func NewCommit(tree oid.Oid, parents []oid.Oid, author, committer Signature, message string) *Commit {
	return &Commit{TreeID: tree, ParentIDs: parents, Author: author, Committer: committer, Message: message}
}

// ToObject serializes the commit to its canonical body.
func (c *Commit) ToObject() *Object {
	var buf bytes.Buffer
	buf.WriteString("tree ")
	buf.WriteString(c.TreeID.String())
	buf.WriteByte('\n')
	for _, p := range c.ParentIDs {
		buf.WriteString("parent ")
		buf.WriteString(p.String())
		buf.WriteByte('\n')
	}
	buf.WriteString("author ")
	buf.WriteString(c.Author.String())
	buf.WriteByte('\n')
	buf.WriteString("committer ")
	buf.WriteString(c.Committer.String())
	buf.WriteByte('\n')
	if c.gpgSig != "" {
		buf.WriteString("gpgsig ")
		buf.WriteString(c.gpgSig)
	}
	buf.WriteByte('\n')
	buf.WriteString(c.Message)

	o := NewWithID(c.id, TypeCommit, buf.Bytes())
	c.id, _, _ = o.Compress() //nolint:errcheck // in-memory Compress never fails
	return o
}

// IsRoot reports whether this commit has no parents; fsck reports such
// commits as roots.
func (c *Commit) IsRoot() bool { return len(c.ParentIDs) == 0 }

// AsCommit parses o's content as a commit.
func (o *Object) AsCommit() (*Commit, error) {
	if o.typ != TypeCommit {
		return nil, xerrors.Errorf("type %s is not a commit", o.typ)
	}

	ci := &Commit{id: o.id}
	data := o.Bytes()
	if !bytes.HasPrefix(data, []byte("tree ")) {
		return nil, xerrors.Errorf("first header is not tree: %w", ErrCommitInvalid)
	}
	offset := 0
	sawTree := false

	for {
		line := readutil.ReadTo(data[offset:], '\n')
		offset += len(line) + 1

		if len(line) == 0 {
			ci.Message = string(data[offset:])
			break
		}

		key, value := splitHeaderLine(line)
		switch string(key) {
		case "tree":
			id, err := oid.FromChars(value)
			if err != nil {
				return nil, xerrors.Errorf("could not parse tree id %q: %w", value, err)
			}
			ci.TreeID = id
			sawTree = true
		case "parent":
			id, err := oid.FromChars(value)
			if err != nil {
				return nil, xerrors.Errorf("could not parse parent id %q: %w", value, err)
			}
			ci.ParentIDs = append(ci.ParentIDs, id)
		case "author":
			sig, err := NewSignatureFromBytes(value)
			if err != nil {
				return nil, xerrors.Errorf("could not parse author: %w", err)
			}
			ci.Author = sig
		case "committer":
			sig, err := NewSignatureFromBytes(value)
			if err != nil {
				return nil, xerrors.Errorf("could not parse committer: %w", err)
			}
			ci.Committer = sig
		case "gpgsig":
			const end = "-----END PGP SIGNATURE-----\n"
			begin := string(value) + "\n"
			i := bytes.Index(data[offset:], []byte(end))
			if i < 0 {
				return nil, xerrors.Errorf("unterminated gpgsig: %w", ErrCommitInvalid)
			}
			ci.gpgSig = begin + string(data[offset:offset+i]) + end
			offset += i + len(end)
		}
	}

	if !sawTree {
		return nil, xerrors.Errorf("missing tree header: %w", ErrCommitInvalid)
	}
	return ci, nil
}
