package index_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nivl-forge/gitcore/index"
	"github.com/nivl-forge/gitcore/object"
	"github.com/nivl-forge/gitcore/oid"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blobEntry(name string, content string) *index.Entry {
	return &index.Entry{
		Name: name,
		Mode: object.ModeFile,
		ID:   oid.FromContent([]byte(content)),
		Stat: index.StatInfo{Size: uint32(len(content))},
	}
}

func TestInsertThenFind(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	require.NoError(t, idx.Insert(blobEntry("b.txt", "b"), index.OkToAdd))
	require.NoError(t, idx.Insert(blobEntry("a.txt", "a"), index.OkToAdd))

	pos, found := idx.Find("a.txt", index.StageNormal)
	require.True(t, found)
	assert.Equal(t, "a.txt", idx.Entries()[pos].Name)

	names := make([]string, 0, len(idx.Entries()))
	for _, e := range idx.Entries() {
		names = append(names, e.Name)
	}
	assert.Equal(t, []string{"a.txt", "b.txt"}, names)
}

func TestInsertReplacesIdenticalKey(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	require.NoError(t, idx.Insert(blobEntry("f.txt", "v1"), index.OkToAdd))
	require.NoError(t, idx.Insert(blobEntry("f.txt", "v2"), index.OkToAdd))

	require.Len(t, idx.Entries(), 1)
	assert.Equal(t, oid.FromContent([]byte("v2")), idx.Entries()[0].ID)
}

func TestInsertStageZeroClearsOtherStages(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	base := blobEntry("f.txt", "base")
	base.Stage = index.StageBase
	ours := blobEntry("f.txt", "ours")
	ours.Stage = index.StageOurs
	require.NoError(t, idx.Insert(base, index.OkToAdd))
	require.NoError(t, idx.Insert(ours, index.OkToAdd))
	require.Len(t, idx.Entries(), 2)

	require.NoError(t, idx.Insert(blobEntry("f.txt", "merged"), index.OkToAdd))

	require.Len(t, idx.Entries(), 1)
	assert.Equal(t, index.StageNormal, idx.Entries()[0].Stage)
}

func TestInsertRejectsFileDirectoryCollision(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	require.NoError(t, idx.Insert(blobEntry("a", "x"), index.OkToAdd))

	err := idx.Insert(blobEntry("a/b", "y"), index.OkToAdd)
	assert.ErrorIs(t, err, index.ErrCollision)
}

func TestInsertOkToReplaceResolvesCollision(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	require.NoError(t, idx.Insert(blobEntry("a", "x"), index.OkToAdd))

	require.NoError(t, idx.Insert(blobEntry("a/b", "y"), index.OkToReplace))

	_, found := idx.Find("a", index.StageNormal)
	assert.False(t, found)
	_, found = idx.Find("a/b", index.StageNormal)
	assert.True(t, found)
}

func TestInsertRejectsUnsafePath(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	err := idx.Insert(blobEntry("../escape", "x"), index.OkToAdd)
	assert.Error(t, err)
}

func TestRemoveDropsAllStages(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	a := blobEntry("f.txt", "a")
	a.Stage = index.StageBase
	b := blobEntry("f.txt", "b")
	b.Stage = index.StageOurs
	require.NoError(t, idx.Insert(a, index.OkToAdd))
	require.NoError(t, idx.Insert(b, index.OkToAdd))

	idx.Remove("f.txt")
	assert.Empty(t, idx.Entries())
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	idx := index.New(fs)
	require.NoError(t, idx.Insert(blobEntry("dir/a.txt", "a"), index.OkToAdd))
	require.NoError(t, idx.Insert(blobEntry("z.txt", "z"), index.OkToAdd))

	require.NoError(t, idx.Save("/repo/index"))

	loaded, err := index.Load(fs, "/repo/index")
	require.NoError(t, err)
	require.Len(t, loaded.Entries(), 2)
	assert.Equal(t, "dir/a.txt", loaded.Entries()[0].Name)
	assert.Equal(t, "z.txt", loaded.Entries()[1].Name)
	assert.Equal(t, oid.FromContent([]byte("a")), loaded.Entries()[0].ID)
}

func TestLoadRejectsBadSignature(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/repo/index", []byte("not an index file!!"), 0o644))

	_, err := index.Load(fs, "/repo/index")
	assert.ErrorIs(t, err, index.ErrInvalidSignature)
}

func TestLoadRejectsTamperedChecksum(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	idx := index.New(fs)
	require.NoError(t, idx.Insert(blobEntry("a.txt", "a"), index.OkToAdd))
	require.NoError(t, idx.Save("/repo/index"))

	raw, err := afero.ReadFile(fs, "/repo/index")
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xff
	require.NoError(t, afero.WriteFile(fs, "/repo/index", raw, 0o644))

	_, err = index.Load(fs, "/repo/index")
	assert.ErrorIs(t, err, index.ErrChecksumMismatch)
}

func TestRefreshUpdatesStatCacheWithoutContentChange(t *testing.T) {
	t.Parallel()

	fs := afero.NewOsFs()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "f.txt"), []byte("hello"), 0o644))

	idx := index.New(fs)
	e := blobEntry("f.txt", "hello")
	e.Stat.MTimeSec = 1 // force a drift that refresh should correct
	require.NoError(t, idx.Insert(e, index.OkToAdd))

	results, err := idx.Refresh(fs, dir, index.RefreshOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)

	fi, statErr := os.Stat(filepath.Join(dir, "f.txt"))
	require.NoError(t, statErr)
	assert.EqualValues(t, fi.ModTime().Unix(), idx.Entries()[0].Stat.MTimeSec)
}

func TestRefreshFlagsMissingFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewOsFs()
	dir := t.TempDir()

	idx := index.New(fs)
	require.NoError(t, idx.Insert(blobEntry("gone.txt", "x"), index.OkToAdd))

	results, err := idx.Refresh(fs, dir, index.RefreshOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "gone.txt", results[0].Path)
	assert.True(t, idx.Entries()[0].NeedsUpdate)
}

func TestRefreshIgnoreMissingSuppressesReport(t *testing.T) {
	t.Parallel()

	fs := afero.NewOsFs()
	dir := t.TempDir()

	idx := index.New(fs)
	require.NoError(t, idx.Insert(blobEntry("gone.txt", "x"), index.OkToAdd))

	results, err := idx.Refresh(fs, dir, index.RefreshOptions{IgnoreMissing: true})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRefreshFlagsConflictedEntry(t *testing.T) {
	t.Parallel()

	fs := afero.NewOsFs()
	dir := t.TempDir()

	idx := index.New(fs)
	e := blobEntry("f.txt", "x")
	e.Stage = index.StageOurs
	require.NoError(t, idx.Insert(e, index.OkToAdd))

	results, err := idx.Refresh(fs, dir, index.RefreshOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "f.txt", results[0].Path)
}

func TestRefreshSkipsAssumeValidEntries(t *testing.T) {
	t.Parallel()

	fs := afero.NewOsFs()
	dir := t.TempDir()

	idx := index.New(fs)
	e := blobEntry("gone.txt", "x")
	e.AssumeValid = true
	require.NoError(t, idx.Insert(e, index.OkToAdd))

	results, err := idx.Refresh(fs, dir, index.RefreshOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.False(t, idx.Entries()[0].NeedsUpdate)
}

func TestStringRendersStageAndMode(t *testing.T) {
	t.Parallel()

	idx := index.New(afero.NewMemMapFs())
	require.NoError(t, idx.Insert(blobEntry("a.txt", "a"), index.OkToAdd))

	out := idx.String()
	assert.Contains(t, out, "a.txt")
	assert.Contains(t, out, "100644")
}
