package gitcore_test

import (
	"path/filepath"
	"testing"

	gitcore "github.com/nivl-forge/gitcore"
	"github.com/nivl-forge/gitcore/env"
	"github.com/nivl-forge/gitcore/fsck"
	"github.com/nivl-forge/gitcore/index"
	"github.com/nivl-forge/gitcore/object"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testOptions(fs afero.Fs) gitcore.Options {
	return gitcore.Options{
		FS:               fs,
		WorkingDirectory: "/repo",
		Env:              env.NewFromKVList(nil),
	}
}

func TestInitCreatesLayoutAndUnbornHead(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	r, err := gitcore.Init(testOptions(fs), "main")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	for _, p := range []string{
		filepath.Join("/repo", ".git", "objects"),
		filepath.Join("/repo", ".git", "refs", "heads"),
		filepath.Join("/repo", ".git", "refs", "tags"),
	} {
		ok, err := afero.DirExists(fs, p)
		require.NoError(t, err)
		assert.True(t, ok, p)
	}

	raw, err := afero.ReadFile(fs, filepath.Join("/repo", ".git", "HEAD"))
	require.NoError(t, err)
	assert.Equal(t, "ref: refs/heads/main\n", string(raw))

	head, err := r.Head()
	require.NoError(t, err)
	assert.True(t, head.IsZero(), "a freshly initialized branch has no commits yet")
}

func TestInitRejectsExistingRepository(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_, err := gitcore.Init(testOptions(fs), "main")
	require.NoError(t, err)

	_, err = gitcore.Init(testOptions(fs), "main")
	assert.ErrorIs(t, err, gitcore.ErrRepositoryExists)
}

func TestOpenFailsWithoutInit(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	_, err := gitcore.Open(testOptions(fs))
	assert.ErrorIs(t, err, gitcore.ErrRepositoryNotExist)
}

func TestSetHeadBranchThenHeadResolves(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	r, err := gitcore.Init(testOptions(fs), "main")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	id, err := r.Store.Write(object.TypeBlob, []byte("hello\n"))
	require.NoError(t, err)

	require.NoError(t, r.SetHeadBranch("main", id))

	head, err := r.Head()
	require.NoError(t, err)
	assert.Equal(t, id, head)
}

func TestSaveIndexRoundTrips(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	r, err := gitcore.Init(testOptions(fs), "main")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	id, err := r.Store.Write(object.TypeBlob, []byte("content"))
	require.NoError(t, err)
	require.NoError(t, r.Index.Insert(&index.Entry{Name: "file.txt", Mode: object.ModeFile, ID: id}, index.OkToAdd))
	require.NoError(t, r.SaveIndex())

	reopened, err := gitcore.Open(testOptions(fs))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	pos, found := reopened.Index.Find("file.txt", index.StageNormal)
	require.True(t, found)
	assert.Equal(t, id, reopened.Index.Entries()[pos].ID)
}

func TestCheckSeedsTipsFromHead(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	r, err := gitcore.Init(testOptions(fs), "main")
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })

	blobID, err := r.Store.Write(object.TypeBlob, []byte("hi\n"))
	require.NoError(t, err)

	tree := object.NewTree([]object.TreeEntry{{Name: "a.txt", Mode: object.ModeFile, ID: blobID}})
	treeObj := tree.ToObject()
	treeID, err := r.Store.Write(object.TypeTree, treeObj.Bytes())
	require.NoError(t, err)

	commit := object.NewCommit(treeID, nil, object.NewSignature("a", "a@b.c"), object.NewSignature("a", "a@b.c"), "init\n")
	commitObj := commit.ToObject()
	commitID, err := r.Store.Write(object.TypeCommit, commitObj.Bytes())
	require.NoError(t, err)

	require.NoError(t, r.SetHeadBranch("main", commitID))

	report, err := r.Check(fsck.Options{})
	require.NoError(t, err)
	assert.Empty(t, report.Issues)
}
