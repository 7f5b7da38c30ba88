package http_test

import (
	"bytes"
	"context"
	"io"
	nethttp "net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/efs"
	efshttp "github.com/meigma/efs/http"
)

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeContent(w, r, "image.efs", time.Time{}, bytes.NewReader(data))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestDeviceReadAt(t *testing.T) {
	t.Parallel()

	data := []byte("hello world")
	dev, err := efshttp.NewDevice(serve(t, data).URL)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), dev.Size())

	buf := make([]byte, 5)
	n, err := dev.ReadAt(buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	edge := make([]byte, 10)
	n, err = dev.ReadAt(edge, int64(len(data)-3))
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "rld", string(edge[:n]))

	_, err = dev.WriteAt([]byte("x"), 0)
	require.ErrorIs(t, err, efshttp.ErrReadOnly)
}

func TestDeviceRangeUnsupported(t *testing.T) {
	t.Parallel()

	data := []byte("range unsupported")
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		_, _ = w.Write(data)
	}))
	t.Cleanup(server.Close)

	_, err := efshttp.NewDevice(server.URL)
	require.Error(t, err)
}

func TestDeviceDetectsChangedContent(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		data = []byte("first version")
		etag = `"v1"`
	)
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		mu.Lock()
		body, tag := data, etag
		mu.Unlock()
		w.Header().Set("ETag", tag)
		nethttp.ServeContent(w, r, "image.efs", time.Time{}, bytes.NewReader(body))
	}))
	t.Cleanup(server.Close)

	dev, err := efshttp.NewDevice(server.URL)
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = dev.ReadAt(buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(buf))

	mu.Lock()
	data, etag = []byte("other version"), `"v2"`
	mu.Unlock()

	_, err = dev.ReadAt(buf, 0)
	require.ErrorContains(t, err, "remote content changed")
}

func TestDeviceRejectsBadContentRange(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		w.Header().Set("Content-Range", "bytes 0-0/*")
		w.WriteHeader(nethttp.StatusPartialContent)
		_, _ = w.Write([]byte("x"))
	}))
	t.Cleanup(server.Close)

	_, err := efshttp.NewDevice(server.URL)
	require.ErrorContains(t, err, "invalid Content-Range")
}

func TestMountRemoteImage(t *testing.T) {
	t.Parallel()

	b := efs.NewBuilder()
	require.NoError(t, b.AddBytes("/test.txt", []byte("hello")))
	img, _, err := efs.PackBytes(context.Background(), b)
	require.NoError(t, err)

	dev, err := efshttp.NewDevice(serve(t, img).URL)
	require.NoError(t, err)
	fsys, err := efs.Mount(dev, efs.WithWriteBufferSize(0))
	require.NoError(t, err)

	h, err := fsys.Open("/test.txt", efs.ModeReadWrite)
	require.NoError(t, err)
	buf := make([]byte, 8)
	n, err := fsys.Read(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = fsys.WriteAt(h, []byte("J"), 0)
	require.ErrorIs(t, err, efshttp.ErrReadOnly)
	require.NoError(t, fsys.Close(h))
	require.NoError(t, fsys.Unmount())
}

func TestIsURL(t *testing.T) {
	t.Parallel()

	assert.True(t, efshttp.IsURL("http://example.com/image.efs"))
	assert.True(t, efshttp.IsURL("https://example.com/image.efs"))
	assert.False(t, efshttp.IsURL("/dev/mmcblk0"))
	assert.False(t, efshttp.IsURL("image.efs"))
}
