package efs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, fsys *FS, c Cursor) []string {
	t.Helper()
	var names []string
	for {
		e, err := fsys.Next(c)
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfDirectory)
			return names
		}
		assert.Equal(t, e.Name, e.Stat.Name)
		names = append(names, e.Name)
	}
}

func TestDirIterationAndReset(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	c, err := fsys.OpenDir("/list")
	require.NoError(t, err)

	assert.Equal(t, []string{"c", "a", "b"}, drain(t, fsys, c), "pack order")

	for range 3 {
		_, err := fsys.Next(c)
		require.ErrorIs(t, err, ErrEndOfDirectory, "stays exhausted")
	}

	require.NoError(t, fsys.Reset(c))
	assert.Equal(t, []string{"c", "a", "b"}, drain(t, fsys, c))

	// Reset mid-way rewinds to the first entry.
	require.NoError(t, fsys.Reset(c))
	e, err := fsys.Next(c)
	require.NoError(t, err)
	assert.Equal(t, "c", e.Name)
	require.NoError(t, fsys.Reset(c))
	e, err = fsys.Next(c)
	require.NoError(t, err)
	assert.Equal(t, "c", e.Name)

	require.NoError(t, fsys.CloseDir(c))
	_, err = fsys.Next(c)
	require.ErrorIs(t, err, ErrInvalidHandle)
	require.ErrorIs(t, fsys.Reset(c), ErrInvalidHandle)
	require.ErrorIs(t, fsys.CloseDir(c), ErrInvalidHandle)
}

func TestDirEntriesCarryStat(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	c, err := fsys.OpenDir("/")
	require.NoError(t, err)
	defer fsys.CloseDir(c)

	got := map[string]Stat{}
	for {
		e, err := fsys.Next(c)
		if err != nil {
			require.ErrorIs(t, err, ErrEndOfDirectory)
			break
		}
		got[e.Name] = e.Stat
	}
	require.Len(t, got, 4)
	assert.True(t, got["folder"].IsDir())
	assert.True(t, got["list"].IsDir())
	assert.Equal(t, uint32(5), got["test.txt"].Size)
	assert.Zero(t, got["empty"].Size)
	assert.False(t, got["empty"].IsDir())
}

func TestEmptyDirectory(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	c, err := fsys.OpenDir("/folder/dummy")
	require.NoError(t, err)
	_, err = fsys.Next(c)
	require.ErrorIs(t, err, ErrEndOfDirectory)
	require.NoError(t, fsys.CloseDir(c))
}

func TestOpenDirRelativeAfterChdir(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	c, err := fsys.OpenDir(".")
	require.NoError(t, err)
	assert.Equal(t, []string{"test.txt", "folder", "list", "empty"}, drain(t, fsys, c))
	require.NoError(t, fsys.CloseDir(c))

	require.NoError(t, fsys.Chdir("/list/"))
	c, err = fsys.OpenDir("./")
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "b"}, drain(t, fsys, c))
	require.NoError(t, fsys.CloseDir(c))
}

func TestOpenDirErrors(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t, WithMaxOpenDirs(1))

	_, err := fsys.OpenDir("/test.txt")
	require.ErrorIs(t, err, ErrNotADirectory)
	_, err = fsys.OpenDir("/nope")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = fsys.OpenDirNode(NodeID(fsys.Len()))
	require.ErrorIs(t, err, ErrNotFound)

	c, err := fsys.OpenDir("/")
	require.NoError(t, err)
	_, err = fsys.OpenDir("/list")
	require.ErrorIs(t, err, ErrTooManyOpenDirs)
	require.NoError(t, fsys.CloseDir(c))

	// Directory cursors and file handles are separate tables.
	h, err := fsys.Open("/test.txt", ModeRead)
	require.NoError(t, err)
	c, err = fsys.OpenDir("/list")
	require.NoError(t, err)
	require.NoError(t, fsys.Close(h))
	require.NoError(t, fsys.CloseDir(c))

	_, err = fsys.Next(Cursor{})
	require.ErrorIs(t, err, ErrInvalidHandle)
}
