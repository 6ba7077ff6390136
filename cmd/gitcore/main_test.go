package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/nivl-forge/gitcore/fsck"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunInitCreatesGitDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var out bytes.Buffer
	require.NoError(t, runInit(&out, &globalFlags{chdir: dir}, "main"))

	assert.Contains(t, out.String(), "Initialized empty Git repository")
	info, err := os.Stat(filepath.Join(dir, ".git", "objects"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestHashObjectThenCatFileRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	flags := &globalFlags{chdir: dir}
	require.NoError(t, runInit(&bytes.Buffer{}, flags, "main"))

	blobPath := filepath.Join(dir, "hello.txt")
	require.NoError(t, os.WriteFile(blobPath, []byte("hello\n"), 0o644))

	var hashOut bytes.Buffer
	require.NoError(t, runHashObject(&hashOut, flags, "blob", true, []string{blobPath}))
	id := hashOut.String()
	id = id[:len(id)-1] // trim trailing newline

	var typeOut bytes.Buffer
	require.NoError(t, runCatFile(&typeOut, flags, id, true, false, false))
	assert.Equal(t, "blob\n", typeOut.String())

	var contentOut bytes.Buffer
	require.NoError(t, runCatFile(&contentOut, flags, id, false, false, true))
	assert.Equal(t, "hello\n", contentOut.String())
}

func TestUpdateIndexThenFsckReportsTheStagedBlobAsDangling(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	flags := &globalFlags{chdir: dir}
	require.NoError(t, runInit(&bytes.Buffer{}, flags, "main"))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a\n"), 0o644))

	require.NoError(t, runUpdateIndex(&bytes.Buffer{}, flags, []string{"a.txt"}))

	// The blob is staged but never committed, so no tip reaches it: fsck
	// reports it dangling, same as it would for any unreferenced blob.
	var fsckOut bytes.Buffer
	require.NoError(t, runFsck(&fsckOut, flags, fsck.Options{}))
	assert.Contains(t, fsckOut.String(), "dangling")
}
