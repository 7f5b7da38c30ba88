package main

import (
	"bytes"
	"context"
	nethttp "net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// harness runs efstool against a packed image in a temp directory.
type harness struct {
	t      *testing.T
	dir    string
	config string
	image  string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "folder", "dummy"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "test.txt"), []byte("hello"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "folder", "test.txt"), bytes.Repeat([]byte("-"), 16), 0o644))

	h := &harness{
		t:      t,
		dir:    dir,
		config: filepath.Join(dir, "efs.yaml"),
		image:  filepath.Join(dir, "image.efs"),
	}
	require.NoError(t, os.WriteFile(h.config, nil, 0o644))

	out, _, code := h.run(nil, "pack", src, h.image)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "2 files")
	return h
}

func (h *harness) run(stdin []byte, args ...string) (string, string, int) {
	h.t.Helper()
	var stdout, stderr bytes.Buffer
	full := append([]string{args[0], "--config", h.config, "--image", h.image}, args[1:]...)
	code := run(context.Background(), full, bytes.NewReader(stdin), &stdout, &stderr)
	return stdout.String(), stderr.String(), code
}

func TestLsCatStat(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out, _, code := h.run(nil, "ls")
	require.Equal(t, 0, code)
	assert.Equal(t, "folder/\ntest.txt\n", out)

	out, _, code = h.run(nil, "ls", "-l", "/folder")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "dummy/")
	assert.Contains(t, out, "16")

	out, _, code = h.run(nil, "cat", "/folder/dummy/.././../test.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "hello", out)

	out, _, code = h.run(nil, "stat", "/folder/test.txt")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "kind: file")
	assert.Contains(t, out, "size: 16")

	_, stderr, code := h.run(nil, "cat", "/missing/file.txt")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no such file or directory")
}

func TestWrite(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	_, _, code := h.run([]byte("16b Written OK!\x00"), "write", "/folder/test.txt")
	require.Equal(t, 0, code)
	out, _, code := h.run(nil, "cat", "/folder/test.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "16b Written OK!\x00", out)

	_, _, code = h.run(nil, "write", "--offset", "4", "/test.txt", "!")
	require.Equal(t, 0, code)
	out, _, _ = h.run(nil, "cat", "/test.txt")
	assert.Equal(t, "hell!", out)

	_, stderr, code := h.run(nil, "write", "/test.txt", "too long for five")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "exceeds file size")
	out, _, _ = h.run(nil, "cat", "/test.txt")
	assert.Equal(t, "hell!", out)
}

func TestInspect(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	out, _, code := h.run(nil, "inspect")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "nodes:        5")
	assert.Contains(t, out, "index digest: sha256:")
	assert.Contains(t, out, "index offset: 128")
}

func TestPackManifest(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	manifest := filepath.Join(h.dir, "image.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
entries:
  - path: /greeting
    content: "hi"
  - path: /blank
    size: 8
`), 0o644))
	image := filepath.Join(h.dir, "manifest.efs")
	out, _, code := h.run(nil, "pack", "--manifest", manifest, image)
	require.Equal(t, 0, code)
	assert.Contains(t, out, "2 files")

	h.image = image
	out, _, code = h.run(nil, "cat", "/greeting")
	require.Equal(t, 0, code)
	assert.Equal(t, "hi", out)
}

func TestUsageErrors(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	var stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, nil, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "commands:")

	stderr.Reset()
	assert.Equal(t, 2, run(context.Background(), []string{"frobnicate"}, nil, &bytes.Buffer{}, &stderr))
	assert.Contains(t, stderr.String(), "unknown command")

	_, _, code := h.run(nil, "cat")
	assert.Equal(t, 2, code)
	_, _, code = h.run(nil, "pack", "only-one-arg")
	assert.Equal(t, 2, code)
	_, _, code = h.run(nil, "ls", "--no-such-flag")
	assert.Equal(t, 2, code)
	_, _, code = h.run(nil, "pack", "--alignment", "0", "a", "b")
	assert.Equal(t, 2, code)

	var out bytes.Buffer
	code = run(context.Background(), []string{"ls", "--config", h.config}, nil, &out, &stderr)
	assert.Equal(t, 2, code, "no image configured")
	assert.True(t, strings.Contains(stderr.String(), "no image"))
}

func TestRemoteImage(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	local := h.image
	server := httptest.NewServer(nethttp.HandlerFunc(func(w nethttp.ResponseWriter, r *nethttp.Request) {
		nethttp.ServeFile(w, r, local)
	}))
	t.Cleanup(server.Close)
	h.image = server.URL + "/image.efs"

	out, _, code := h.run(nil, "cat", "/test.txt")
	require.Equal(t, 0, code)
	assert.Equal(t, "hello", out)

	_, stderr, code := h.run(nil, "write", "/test.txt", "J")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "read-only")
}
