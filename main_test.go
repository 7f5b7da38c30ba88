package efs

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// sampleBuilder stages the tree used throughout the tests:
//
//	/test.txt          "hello"
//	/folder/test.txt   16 bytes of '-'
//	/folder/dummy/
//	/list/             c, a, b (in that order)
//	/empty             0 bytes
func sampleBuilder(tb testing.TB) *Builder {
	tb.Helper()
	b := NewBuilder()
	require.NoError(tb, b.AddBytes("/test.txt", []byte("hello")))
	require.NoError(tb, b.AddBytes("/folder/test.txt", bytes.Repeat([]byte("-"), 16)))
	require.NoError(tb, b.Mkdir("/folder/dummy"))
	require.NoError(tb, b.AddBytes("/list/c", []byte("ccc")))
	require.NoError(tb, b.AddBytes("/list/a", []byte("a")))
	require.NoError(tb, b.AddBytes("/list/b", []byte("bb")))
	require.NoError(tb, b.AddBytes("/empty", nil))
	return b
}

func sampleImage(tb testing.TB) []byte {
	tb.Helper()
	img, _, err := PackBytes(context.Background(), sampleBuilder(tb))
	require.NoError(tb, err)
	return img
}

func mountSample(tb testing.TB, opts ...Option) (*FS, *MemDevice) {
	tb.Helper()
	dev := NewMemDevice(sampleImage(tb))
	fsys, err := Mount(dev, opts...)
	require.NoError(tb, err)
	return fsys, dev
}

func readAll(tb testing.TB, fsys *FS, path string) string {
	tb.Helper()
	h, err := fsys.Open(path, ModeRead)
	require.NoError(tb, err)
	defer func() { require.NoError(tb, fsys.Close(h)) }()

	var out []byte
	buf := make([]byte, 3)
	for {
		n, err := fsys.Read(h, buf)
		require.NoError(tb, err)
		if n == 0 {
			return string(out)
		}
		out = append(out, buf[:n]...)
	}
}
