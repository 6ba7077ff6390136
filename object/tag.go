package object

import (
	"bytes"
	"errors"

	"github.com/nivl-forge/gitcore/internal/readutil"
	"github.com/nivl-forge/gitcore/oid"
	"golang.org/x/xerrors"
)

// ErrTagInvalid is returned when a tag object's body doesn't match the
// expected header sequence.
var ErrTagInvalid = errors.New("invalid tag")

// Tag is the parsed view of an annotated tag object.
//
//	object {sha}
//	type {type}
//	tag {name}
//	tagger {name} <{email}> {seconds} {tz}
//	{blank line}
//	{message}
type Tag struct {
	id         oid.Oid
	TargetID   oid.Oid
	TargetType Type
	Name       string
	Tagger     Signature
	Message    string
}

// ID returns the tag's digest.
func (t *Tag) ID() oid.Oid { return t.id }

// NewTag builds an in-memory annotated tag ready to be written.
func NewTag(target oid.Oid, targetType Type, name string, tagger Signature, message string) *Tag {
	return &Tag{TargetID: target, TargetType: targetType, Name: name, Tagger: tagger, Message: message}
}

// ToObject serializes the tag to its canonical body.
func (t *Tag) ToObject() *Object {
	var buf bytes.Buffer
	buf.WriteString("object ")
	buf.WriteString(t.TargetID.String())
	buf.WriteByte('\n')
	buf.WriteString("type ")
	buf.WriteString(t.TargetType.String())
	buf.WriteByte('\n')
	buf.WriteString("tag ")
	buf.WriteString(t.Name)
	buf.WriteByte('\n')
	buf.WriteString("tagger ")
	buf.WriteString(t.Tagger.String())
	buf.WriteString("\n\n")
	buf.WriteString(t.Message)

	o := NewWithID(t.id, TypeTag, buf.Bytes())
	t.id, _, _ = o.Compress() //nolint:errcheck // in-memory Compress never fails
	return o
}

// AsTag parses o's content as an annotated tag.
func (o *Object) AsTag() (*Tag, error) {
	if o.typ != TypeTag {
		return nil, xerrors.Errorf("type %s is not a tag", o.typ)
	}

	tag := &Tag{id: o.id}
	data := o.Bytes()
	offset := 0

	for {
		line := readutil.ReadTo(data[offset:], '\n')
		offset += len(line) + 1

		if len(line) == 0 {
			tag.Message = string(data[offset:])
			break
		}

		key, value := splitHeaderLine(line)
		switch string(key) {
		case "object":
			id, err := oid.FromChars(value)
			if err != nil {
				return nil, xerrors.Errorf("could not parse object id %q: %w", value, err)
			}
			tag.TargetID = id
		case "type":
			typ, err := TypeFromString(string(value))
			if err != nil {
				return nil, xerrors.Errorf("could not parse target type %q: %w", value, err)
			}
			tag.TargetType = typ
		case "tag":
			tag.Name = string(value)
		case "tagger":
			sig, err := NewSignatureFromBytes(value)
			if err != nil {
				return nil, xerrors.Errorf("could not parse tagger: %w", err)
			}
			tag.Tagger = sig
		}
	}

	if tag.TargetID.IsZero() || tag.Name == "" {
		return nil, xerrors.Errorf("missing object/tag header: %w", ErrTagInvalid)
	}
	return tag, nil
}
