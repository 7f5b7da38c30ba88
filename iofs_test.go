package efs

import (
	"errors"
	"io"
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIOFSConformance(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t, WithMaxOpenFiles(64), WithMaxOpenDirs(64))
	require.NoError(t, fstest.TestFS(fsys.IOFS(),
		"test.txt", "folder/test.txt", "folder/dummy", "list/a", "list/b", "list/c", "empty"))
}

func TestIOFSReadAndStat(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	iofs := fsys.IOFS()

	data, err := fs.ReadFile(iofs, "test.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	entries, err := fs.ReadDir(iofs, "list")
	require.NoError(t, err)
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	assert.Equal(t, []string{"a", "b", "c"}, names, "sorted by name")

	info, err := fs.Stat(iofs, ".")
	require.NoError(t, err)
	assert.Equal(t, ".", info.Name())
	assert.True(t, info.IsDir())

	info, err = fs.Stat(iofs, "folder/test.txt")
	require.NoError(t, err)
	assert.Equal(t, "test.txt", info.Name())
	assert.Equal(t, int64(16), info.Size())

	_, err = iofs.Open("/test.txt")
	require.ErrorIs(t, err, fs.ErrInvalid)
	_, err = iofs.Open("nope")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = fs.ReadFile(iofs, "folder")
	require.Error(t, err)
}

func TestIOFSIgnoresWorkingDirectory(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	require.NoError(t, fsys.Chdir("/list"))

	data, err := fs.ReadFile(fsys.IOFS(), "test.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestIOFSDirectoryFile(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	f, err := fsys.IOFS().Open("list")
	require.NoError(t, err)
	dir, ok := f.(fs.ReadDirFile)
	require.True(t, ok)

	first, err := dir.ReadDir(2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := dir.ReadDir(2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	_, err = dir.ReadDir(2)
	require.ErrorIs(t, err, io.EOF)

	all, err := dir.ReadDir(-1)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = f.Read(make([]byte, 1))
	require.True(t, errors.Is(err, ErrNotAFile))
	require.NoError(t, f.Close())
}
