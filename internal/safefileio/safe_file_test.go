package safefileio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// safeTempDir creates a temporary directory and resolves any symlinks in its path
func safeTempDir(t *testing.T) string {
	t.Helper()
	realPath, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err, "Failed to resolve symlinks in temp dir")
	return realPath
}

func TestReadFile(t *testing.T) {
	dir := safeTempDir(t)
	path := filepath.Join(dir, "bin")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0o644))

	got, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, err = ReadFile(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, ErrFileNotFound)

	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(path, link))
	_, err = ReadFile(link)
	assert.ErrorIs(t, err, ErrIsSymlink)

	_, err = ReadFile(dir)
	assert.ErrorIs(t, err, ErrInvalidFilePath)
}

func TestWriteFileAtomic(t *testing.T) {
	dir := safeTempDir(t)
	path := filepath.Join(dir, "out")

	require.NoError(t, WriteFileAtomic(path, []byte("first"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("second"), 0o755))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	fi, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileAtomicRefusesSymlink(t *testing.T) {
	dir := safeTempDir(t)
	target := filepath.Join(dir, "target")
	require.NoError(t, os.WriteFile(target, []byte("keep"), 0o644))
	link := filepath.Join(dir, "link")
	require.NoError(t, os.Symlink(target, link))

	err := WriteFileAtomic(link, []byte("clobber"), 0o644)
	assert.ErrorIs(t, err, ErrIsSymlink)

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "keep", string(got))
}

func TestCopyFile(t *testing.T) {
	dir := safeTempDir(t)
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	require.NoError(t, os.WriteFile(src, []byte("payload"), 0o640))

	require.NoError(t, CopyFile(src, dst))
	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))
	assert.Equal(t, os.FileMode(0o640), Mode(dst, 0))

	err = CopyFile(src, dst)
	assert.ErrorIs(t, err, ErrFileExists)
	assert.True(t, Exists(dst))
	assert.False(t, Exists(filepath.Join(dir, "nope")))
}
