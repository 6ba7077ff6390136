package oid_test

import (
	"testing"

	"github.com/nivl-forge/gitcore/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContentAndString(t *testing.T) {
	t.Parallel()

	// S1: "blob 6\0hello\n" hashes to this well-known value.
	content := []byte("blob 6\x00hello\n")
	o := oid.FromContent(content)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", o.String())
}

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	o := oid.FromContent([]byte("anything"))
	str := o.String()

	back, err := oid.FromHex(str)
	require.NoError(t, err)
	assert.Equal(t, o, back)
	assert.Equal(t, o.Bytes(), back.Bytes())
}

func TestFromBytes(t *testing.T) {
	t.Parallel()

	o := oid.FromContent([]byte("anything"))
	back, err := oid.FromBytes(o.Bytes())
	require.NoError(t, err)
	assert.Equal(t, o, back)

	_, err = oid.FromBytes([]byte{1, 2, 3})
	assert.ErrorIs(t, err, oid.ErrInvalid)
}

func TestFromHexInvalid(t *testing.T) {
	t.Parallel()

	_, err := oid.FromHex("not-hex")
	assert.ErrorIs(t, err, oid.ErrInvalid)

	_, err = oid.FromHex("abcd")
	assert.ErrorIs(t, err, oid.ErrInvalid)
}

func TestIsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, oid.Null.IsZero())
	assert.False(t, oid.FromContent([]byte("x")).IsZero())
}

func TestCompareAndLess(t *testing.T) {
	t.Parallel()

	a := oid.Oid{0x01}
	b := oid.Oid{0x02}
	assert.Negative(t, a.Compare(b))
	assert.Positive(t, b.Compare(a))
	assert.Zero(t, a.Compare(a))
	assert.True(t, oid.Less(a, b))
	assert.False(t, oid.Less(b, a))
}
