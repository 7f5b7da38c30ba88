package efs

import (
	"errors"
	"io"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/efs/internal/testutil"
)

func mountMock(t *testing.T, opts ...Option) (*FS, *testutil.MockDevice) {
	t.Helper()
	dev := testutil.NewMockDevice(sampleImage(t))
	fsys, err := Mount(dev, opts...)
	require.NoError(t, err)
	return fsys, dev
}

func TestBufferedWritesCoalesce(t *testing.T) {
	t.Parallel()

	fsys, dev := mountMock(t)
	h, err := fsys.Open("/folder/test.txt", ModeReadWrite)
	require.NoError(t, err)
	other, err := fsys.Open("/folder/test.txt", ModeRead)
	require.NoError(t, err)

	for _, c := range []byte("0123456789") {
		_, err := fsys.Write(h, []byte{c})
		require.NoError(t, err)
	}
	assert.Zero(t, dev.Writes, "sequential small writes stay in the handle buffer")

	buf := make([]byte, 16)
	n, err := fsys.ReadAt(other, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "----------------", string(buf[:n]), "other handles see flushed data only")

	require.NoError(t, fsys.Sync(h))
	assert.Equal(t, 1, dev.Writes)
	assert.Equal(t, 10, dev.WrittenBytes)

	n, err = fsys.ReadAt(other, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "0123456789------", string(buf[:n]))

	require.NoError(t, fsys.Sync(h))
	assert.Equal(t, 1, dev.Writes, "nothing pending")
	require.NoError(t, fsys.Close(h))
	require.NoError(t, fsys.Close(other))
}

func TestReadFlushesOwnWrites(t *testing.T) {
	t.Parallel()

	fsys, dev := mountMock(t)
	h, err := fsys.Open("/folder/test.txt", ModeReadWrite)
	require.NoError(t, err)

	_, err = fsys.Write(h, []byte("abc"))
	require.NoError(t, err)
	_, err = fsys.Seek(h, 0, io.SeekStart)
	require.NoError(t, err)

	buf := make([]byte, 4)
	n, err := fsys.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "abc-", string(buf[:n]))
	assert.Equal(t, 1, dev.Writes)
	require.NoError(t, fsys.Close(h))
}

func TestNonAdjacentWriteFlushes(t *testing.T) {
	t.Parallel()

	fsys, dev := mountMock(t)
	h, err := fsys.Open("/folder/test.txt", ModeWrite)
	require.NoError(t, err)

	_, err = fsys.WriteAt(h, []byte("aa"), 0)
	require.NoError(t, err)
	_, err = fsys.WriteAt(h, []byte("bb"), 2)
	require.NoError(t, err)
	assert.Zero(t, dev.Writes)
	_, err = fsys.WriteAt(h, []byte("cc"), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Writes, "gap forces a flush")

	require.NoError(t, fsys.Close(h))
	assert.Equal(t, 2, dev.Writes)
	assert.Equal(t, "aabb------cc----", readAll(t, fsys, "/folder/test.txt"))
}

func TestBufferOverflowFlushes(t *testing.T) {
	t.Parallel()

	fsys, dev := mountMock(t, WithWriteBufferSize(4))
	h, err := fsys.Open("/folder/test.txt", ModeWrite)
	require.NoError(t, err)

	_, err = fsys.Write(h, []byte("abc"))
	require.NoError(t, err)
	assert.Zero(t, dev.Writes)
	_, err = fsys.Write(h, []byte("de"))
	require.NoError(t, err)
	assert.Equal(t, 1, dev.Writes, "buffer would overflow")
	_, err = fsys.Write(h, []byte("fghij"))
	require.NoError(t, err)
	assert.Equal(t, 3, dev.Writes, "pending flushed, large write goes straight through")

	require.NoError(t, fsys.Close(h))
	assert.Equal(t, "abcdefghij------", readAll(t, fsys, "/folder/test.txt"))
}

func TestWriteThrough(t *testing.T) {
	t.Parallel()

	fsys, dev := mountMock(t, WithWriteBufferSize(0))
	h, err := fsys.Open("/folder/test.txt", ModeWrite)
	require.NoError(t, err)
	for range 3 {
		_, err := fsys.Write(h, []byte("x"))
		require.NoError(t, err)
	}
	assert.Equal(t, 3, dev.Writes)
	require.NoError(t, fsys.Close(h))
	assert.Equal(t, 3, dev.Writes)
}

func TestDeviceErrorsPropagate(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("read", func(t *testing.T) {
		t.Parallel()
		fsys, dev := mountMock(t)
		h, err := fsys.Open("/test.txt", ModeRead)
		require.NoError(t, err)
		dev.ReadErr = boom
		_, err = fsys.Read(h, make([]byte, 4))
		require.ErrorIs(t, err, boom)
		pos, err := fsys.Tell(h)
		require.NoError(t, err)
		assert.Zero(t, pos)
		require.NoError(t, fsys.Close(h))
	})

	t.Run("write through", func(t *testing.T) {
		t.Parallel()
		fsys, dev := mountMock(t, WithWriteBufferSize(0))
		h, err := fsys.Open("/test.txt", ModeWrite)
		require.NoError(t, err)
		dev.WriteErr = boom
		n, err := fsys.Write(h, []byte("x"))
		require.ErrorIs(t, err, boom)
		assert.Zero(t, n)
		pos, err := fsys.Tell(h)
		require.NoError(t, err)
		assert.Zero(t, pos)
		require.NoError(t, fsys.Close(h))
	})

	t.Run("flush on close", func(t *testing.T) {
		t.Parallel()
		fsys, dev := mountMock(t)
		h, err := fsys.Open("/test.txt", ModeWrite)
		require.NoError(t, err)
		_, err = fsys.Write(h, []byte("x"))
		require.NoError(t, err)

		dev.WriteErr = boom
		require.ErrorIs(t, fsys.Sync(h), boom)
		require.ErrorIs(t, fsys.Close(h), boom)
		require.ErrorIs(t, fsys.Close(h), ErrInvalidHandle, "released despite the failure")
	})

	t.Run("flush on unmount", func(t *testing.T) {
		t.Parallel()
		fsys, dev := mountMock(t)
		h, err := fsys.Open("/test.txt", ModeWrite)
		require.NoError(t, err)
		_, err = fsys.Write(h, []byte("x"))
		require.NoError(t, err)

		dev.WriteErr = boom
		require.ErrorIs(t, fsys.Unmount(), boom)
		require.ErrorIs(t, fsys.Unmount(), ErrUnmounted)
	})
}

func TestFileWrapper(t *testing.T) {
	t.Parallel()

	fsys, _ := mountSample(t)
	f, err := fsys.OpenFile("/list/c", ModeReadWrite)
	require.NoError(t, err)
	assert.Equal(t, "/list/c", f.Name())

	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "ccc", string(data))

	buf := make([]byte, 4)
	n, err := f.ReadAt(buf, 1)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "cc", string(buf[:n]))

	_, err = f.Seek(0, io.SeekStart)
	require.NoError(t, err)
	_, err = io.WriteString(f, "CC")
	require.NoError(t, err)
	_, err = f.WriteAt([]byte("X"), 2)
	require.NoError(t, err)
	_, err = f.Write([]byte("toolong"))
	require.ErrorIs(t, err, ErrOutOfSpace)
	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, "write", pathErr.Op)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, "c", info.Name())
	assert.Equal(t, int64(3), info.Size())
	assert.Equal(t, fs.FileMode(0o644), info.Mode())

	require.NoError(t, f.Sync())
	require.NoError(t, f.Close())
	require.ErrorIs(t, f.Close(), fs.ErrClosed)
	assert.Equal(t, "CCX", readAll(t, fsys, "/list/c"))
}
