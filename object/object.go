// Package object implements git's object model: the four concrete
// object kinds (blob, tree, commit, tag), their canonical byte form,
// and a process-wide interning table used to give every digest a
// single shared record and to build the cross-reference graph walked
// by package fsck.
package object

import (
	"bytes"
	"compress/zlib"
	"errors"
	"fmt"
	"strconv"

	"github.com/nivl-forge/gitcore/oid"
	"golang.org/x/xerrors"
)

// ErrUnknownType is returned when a type name isn't one of the four
// supported kinds.
var ErrUnknownType = errors.New("unknown object type")

// ErrBadFormat is returned when an object's body fails to parse as the
// structure required by its type.
var ErrBadFormat = errors.New("bad object format")

// Type identifies one of the four object kinds. The numeric values
// match the type codes used inside a packfile entry header.
type Type int8

// The four object kinds. 5 is reserved by the pack format for future
// use and deliberately has no constant here.
const (
	TypeCommit Type = 1
	TypeTree   Type = 2
	TypeBlob   Type = 3
	TypeTag    Type = 4
)

// String returns the object's canonical type name, as written in a
// loose object's header.
func (t Type) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	default:
		panic(fmt.Sprintf("unknown object type %d", t))
	}
}

// IsValid reports whether t is one of the four supported kinds.
func (t Type) IsValid() bool {
	switch t {
	case TypeCommit, TypeTree, TypeBlob, TypeTag:
		return true
	default:
		return false
	}
}

// TypeFromString parses a loose-object header type name.
func TypeFromString(s string) (Type, error) {
	switch s {
	case "commit":
		return TypeCommit, nil
	case "tree":
		return TypeTree, nil
	case "blob":
		return TypeBlob, nil
	case "tag":
		return TypeTag, nil
	default:
		return 0, ErrUnknownType
	}
}

// Object is a parsed (or not-yet-parsed) git object: a digest, a type
// tag, and its raw content. Blob/Tree/Commit/Tag wrap an *Object and
// expose a structured view over Bytes().
type Object struct {
	id      oid.Oid
	typ     Type
	content []byte
}

// New creates an in-memory object of the given type. Its Oid is
// computed lazily by Compress and is oid.Null until then.
func New(typ Type, content []byte) *Object {
	return &Object{id: oid.Null, typ: typ, content: content}
}

// NewWithID wraps already-known content under an already-known digest,
// e.g. an object just read back out of the store.
func NewWithID(id oid.Oid, typ Type, content []byte) *Object {
	return &Object{id: id, typ: typ, content: content}
}

// ID returns the object's digest. Zero until Compress has run, for
// objects created with New rather than NewWithID.
func (o *Object) ID() oid.Oid { return o.id }

// Type returns the object's kind.
func (o *Object) Type() Type { return o.typ }

// Size returns the length of the object's content.
func (o *Object) Size() int { return len(o.content) }

// Bytes returns the object's raw content (i.e. everything after the
// "<type> <size>\0" header).
func (o *Object) Bytes() []byte { return o.content }

// Canonical returns the canonical byte form of an object: its type
// name, a space, its decimal size, a NUL byte, then its content. This
// is the byte sequence whose SHA-1 is the object's digest.
func Canonical(typ Type, content []byte) []byte {
	w := new(bytes.Buffer)
	w.WriteString(typ.String())
	w.WriteByte(' ')
	w.WriteString(strconv.Itoa(len(content)))
	w.WriteByte(0)
	w.Write(content)
	return w.Bytes()
}

// Compress computes the object's digest from its canonical form (fixing
// o.id as a side effect) and returns the digest alongside the
// zlib-compressed canonical form ready to be written to a loose object
// file.
func (o *Object) Compress() (id oid.Oid, data []byte, err error) {
	canon := Canonical(o.typ, o.content)
	o.id = oid.FromContent(canon)

	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	defer func() {
		if cerr := zw.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err = zw.Write(canon); err != nil {
		return oid.Null, nil, xerrors.Errorf("could not deflate object: %w", err)
	}
	return o.id, buf.Bytes(), nil
}

// AsBlob views the object as a Blob. No structural validation is
// performed: any content is a valid blob.
func (o *Object) AsBlob() *Blob {
	return &Blob{id: o.id, content: o.content}
}
