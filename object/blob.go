package object

import "github.com/nivl-forge/gitcore/oid"

// Blob is the simplest object kind: an opaque byte payload with no
// internal structure and therefore no parse step that can fail.
type Blob struct {
	id      oid.Oid
	content []byte
}

// NewBlob creates a Blob from raw content. Its digest is computed when
// it is handed to the object store for writing.
func NewBlob(content []byte) *Blob {
	return &Blob{content: content}
}

// ID returns the blob's digest.
func (b *Blob) ID() oid.Oid { return b.id }

// Bytes returns the blob's content.
func (b *Blob) Bytes() []byte { return b.content }

// ToObject returns the generic Object view of this blob.
func (b *Blob) ToObject() *Object {
	return NewWithID(b.id, TypeBlob, b.content)
}
