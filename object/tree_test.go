package object_test

import (
	"testing"

	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeCanonicalOrder(t *testing.T) {
	t.Parallel()

	// S2: the file "a.c" sorts before the directory "a" because the
	// directory name gets a trailing "/" before compare.
	x := oid.FromContent([]byte("X"))
	y := oid.FromContent([]byte("Y"))

	tree := object.NewTree([]object.TreeEntry{
		{Name: "a", Mode: object.ModeDirectory, ID: x},
		{Name: "a.c", Mode: object.ModeFile, ID: y},
	})

	entries := tree.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a.c", entries[0].Name)
	assert.Equal(t, "a", entries[1].Name)
}

func TestTreeRoundTrip(t *testing.T) {
	t.Parallel()

	x := oid.FromContent([]byte("X"))
	y := oid.FromContent([]byte("Y"))
	tree := object.NewTree([]object.TreeEntry{
		{Name: "a", Mode: object.ModeDirectory, ID: x},
		{Name: "a.c", Mode: object.ModeFile, ID: y},
	})

	o := tree.ToObject()
	parsed, err := o.AsTree()
	require.NoError(t, err)
	assert.Equal(t, tree.Entries(), parsed.Entries())
	assert.NoError(t, parsed.Validate())

	// digest is stable across re-serialization
	o2 := parsed.ToObject()
	assert.Equal(t, o.ID(), o2.ID())
}

func TestTreeValidateDetectsDuplicate(t *testing.T) {
	t.Parallel()

	x := oid.FromContent([]byte("X"))

	tree := object.NewTree([]object.TreeEntry{
		{Name: "a", Mode: object.ModeFile, ID: x},
		{Name: "a", Mode: object.ModeFile, ID: x},
	})
	assert.ErrorIs(t, tree.Validate(), object.ErrTreeDuplicate)
}

func TestModeObjectType(t *testing.T) {
	t.Parallel()

	assert.Equal(t, object.TypeTree, object.ModeDirectory.ObjectType())
	assert.Equal(t, object.TypeCommit, object.ModeGitlink.ObjectType())
	assert.Equal(t, object.TypeBlob, object.ModeFile.ObjectType())
	assert.Equal(t, object.TypeBlob, object.ModeExecutable.ObjectType())
	assert.Equal(t, object.TypeBlob, object.ModeSymlink.ObjectType())
}
