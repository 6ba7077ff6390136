package fsck_test

import (
	"testing"
	"time"

	"github.com/nivl-forge/gitcore/fsck"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/odb"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *odb.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/repo/objects", 0o755))
	s, err := odb.Open(fs, "/repo/objects", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeRawTree(t *testing.T, s *odb.Store, entries []object.TreeEntry) oid.Oid {
	t.Helper()
	var buf []byte
	for _, e := range entries {
		buf = append(buf, []byte(modeOctal(e.Mode))...)
		buf = append(buf, ' ')
		buf = append(buf, []byte(e.Name)...)
		buf = append(buf, 0)
		buf = append(buf, e.ID.Bytes()...)
	}
	id, err := s.Write(object.TypeTree, buf)
	require.NoError(t, err)
	return id
}

func modeOctal(m object.Mode) string {
	const digits = "01234567"
	n := uint32(m)
	if n == 0 {
		return "0"
	}
	var out []byte
	for n > 0 {
		out = append([]byte{digits[n%8]}, out...)
		n /= 8
	}
	return string(out)
}

func writeCommit(t *testing.T, s *odb.Store, tree oid.Oid, parents []oid.Oid) oid.Oid {
	t.Helper()
	sig := object.Signature{Name: "a", Email: "a@example.com", Time: time.Unix(1, 0).UTC()}
	c := object.NewCommit(tree, parents, sig, sig, "message\n")
	id, err := s.Write(object.TypeCommit, c.ToObject().Bytes())
	require.NoError(t, err)
	return id
}

func TestCheckReportsRootCommit(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	blobID, err := s.Write(object.TypeBlob, []byte("hi\n"))
	require.NoError(t, err)
	treeID := writeRawTree(t, s, []object.TreeEntry{{Name: "f.txt", Mode: object.ModeFile, ID: blobID}})
	commitID := writeCommit(t, s, treeID, nil)

	report, err := fsck.Check(s, fsck.Options{Tips: []oid.Oid{commitID}})
	require.NoError(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == fsck.Root && issue.Object == commitID {
			found = true
		}
	}
	assert.True(t, found, "expected a root diagnostic for %s", commitID)
}

func TestCheckReportsMissingReference(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	missingBlob := oid.FromContent([]byte("never written"))
	treeID := writeRawTree(t, s, []object.TreeEntry{{Name: "f.txt", Mode: object.ModeFile, ID: missingBlob}})
	commitID := writeCommit(t, s, treeID, nil)

	report, err := fsck.Check(s, fsck.Options{Tips: []oid.Oid{commitID}})
	require.Error(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == fsck.Missing && issue.Target == missingBlob {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheckReportsDanglingObject(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	orphanID, err := s.Write(object.TypeBlob, []byte("nobody points at me"))
	require.NoError(t, err)

	report, err := fsck.Check(s, fsck.Options{})
	require.NoError(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == fsck.Dangling && issue.Object == orphanID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheckReportsUnreachableWhenRequested(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	reachedBlob, err := s.Write(object.TypeBlob, []byte("reached"))
	require.NoError(t, err)
	treeID := writeRawTree(t, s, []object.TreeEntry{{Name: "f.txt", Mode: object.ModeFile, ID: reachedBlob}})
	commitID := writeCommit(t, s, treeID, nil)

	otherBlob, err := s.Write(object.TypeBlob, []byte("not reached, but referenced"))
	require.NoError(t, err)
	otherTreeID := writeRawTree(t, s, []object.TreeEntry{{Name: "g.txt", Mode: object.ModeFile, ID: otherBlob}})

	report, err := fsck.Check(s, fsck.Options{Tips: []oid.Oid{commitID}, IncludeUnreachable: true})
	require.NoError(t, err)

	// otherTreeID has no referrer at all, so it's dangling, not merely
	// unreachable; otherBlob is referenced by otherTreeID (so it isn't
	// dangling) but that referrer itself is never reached from the tip.
	var sawDanglingTree, sawUnreachableBlob bool
	for _, issue := range report.Issues {
		if issue.Kind == fsck.Dangling && issue.Object == otherTreeID {
			sawDanglingTree = true
		}
		if issue.Kind == fsck.Unreachable && issue.Object == otherBlob {
			sawUnreachableBlob = true
		}
	}
	assert.True(t, sawDanglingTree)
	assert.True(t, sawUnreachableBlob)
}

func TestCheckReportsUnorderedTree(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	blobID, err := s.Write(object.TypeBlob, []byte("x"))
	require.NoError(t, err)

	// "b" before "a" violates canonical order.
	treeID := writeRawTree(t, s, []object.TreeEntry{
		{Name: "b", Mode: object.ModeFile, ID: blobID},
		{Name: "a", Mode: object.ModeFile, ID: blobID},
	})

	report, err := fsck.Check(s, fsck.Options{Tips: []oid.Oid{treeID}})
	require.Error(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == fsck.UnorderedTree && issue.Object == treeID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestCheckReportsDuplicateTreeEntries(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	blobID, err := s.Write(object.TypeBlob, []byte("x"))
	require.NoError(t, err)

	treeID := writeRawTree(t, s, []object.TreeEntry{
		{Name: "a", Mode: object.ModeFile, ID: blobID},
		{Name: "a", Mode: object.ModeFile, ID: blobID},
	})

	report, err := fsck.Check(s, fsck.Options{Tips: []oid.Oid{treeID}})
	require.Error(t, err)

	found := false
	for _, issue := range report.Issues {
		if issue.Kind == fsck.DuplicateTree && issue.Object == treeID {
			found = true
		}
	}
	assert.True(t, found)
}
