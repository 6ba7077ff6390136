package object_test

import (
	"testing"

	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobCompress(t *testing.T) {
	t.Parallel()

	o := object.New(object.TypeBlob, []byte("hello\n"))
	id, _, err := o.Compress()
	require.NoError(t, err)
	assert.Equal(t, "ce013625030ba8dba906f756967f9e9ca394464a", id.String())
}

func TestCanonicalRoundTrip(t *testing.T) {
	t.Parallel()

	content := []byte("hello\n")
	canon := object.Canonical(object.TypeBlob, content)
	assert.Equal(t, "blob 6\x00hello\n", string(canon))
}

func TestTypeFromStringAndBack(t *testing.T) {
	t.Parallel()

	for _, typ := range []object.Type{object.TypeBlob, object.TypeTree, object.TypeCommit, object.TypeTag} {
		got, err := object.TypeFromString(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, got)
		assert.True(t, typ.IsValid())
	}

	_, err := object.TypeFromString("delta")
	assert.ErrorIs(t, err, object.ErrUnknownType)
}

func TestZeroByteBlob(t *testing.T) {
	t.Parallel()

	o := object.New(object.TypeBlob, nil)
	id, _, err := o.Compress()
	require.NoError(t, err)
	assert.Equal(t, oid.FromContent([]byte("blob 0\x00")), id)
}
