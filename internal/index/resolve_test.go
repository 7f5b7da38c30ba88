package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/efs/internal/efstype"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	idx := loadSample(t)

	tests := []struct {
		name string
		path string
		cwd  NodeID
		want NodeID
	}{
		{"root", "/", 0, 0},
		{"absolute file", "/test.txt", 0, 1},
		{"nested file", "/folder/test.txt", 0, 3},
		{"dot dot through sibling", "/folder/dummy/.././test.txt", 0, 3},
		{"dot dot at root", "/../..", 0, 0},
		{"dot dot at root then child", "/../test.txt", 0, 1},
		{"repeated separators", "//folder///test.txt", 0, 3},
		{"trailing separator on dir", "/folder/", 0, 2},
		{"dot", ".", 2, 2},
		{"relative from cwd", "test.txt", 2, 3},
		{"relative parent", "../test.txt", 2, 1},
		{"relative dot slash", "./dummy", 2, 4},
		{"absolute ignores cwd", "/test.txt", 2, 1},
		{"relative into list", "../../list/b", 4, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := idx.Resolve(tt.path, tt.cwd)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveErrors(t *testing.T) {
	t.Parallel()

	idx := loadSample(t)

	tests := []struct {
		name string
		path string
		cwd  NodeID
		want error
	}{
		{"empty", "", 0, efstype.ErrNotFound},
		{"missing", "/missing/file.txt", 0, efstype.ErrNotFound},
		{"missing leaf", "/folder/nope", 0, efstype.ErrNotFound},
		{"through file", "/test.txt/x", 0, efstype.ErrNotADirectory},
		{"dot dot through file", "/test.txt/..", 0, efstype.ErrNotADirectory},
		{"trailing separator on file", "/test.txt/", 0, efstype.ErrNotADirectory},
		{"case sensitive", "/TEST.TXT", 0, efstype.ErrNotFound},
		{"invalid cwd", "x", 99, efstype.ErrNotFound},
		{"relative from file", "x", 1, efstype.ErrNotADirectory},
		{"dot dot stops one level up", "../list/b", 4, efstype.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := idx.Resolve(tt.path, tt.cwd)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestResolveDotDotMatchesParent(t *testing.T) {
	t.Parallel()

	idx := loadSample(t)

	// For every directory d and every child c, "c/.." from d is d.
	for id := range idx.Len() {
		node, _ := idx.Node(NodeID(id)) //nolint:gosec // small test index
		if !node.IsDir() {
			continue
		}
		for _, child := range node.Children {
			c, _ := idx.Node(child)
			if !c.IsDir() {
				continue
			}
			got, err := idx.Resolve(c.Name+"/..", NodeID(id)) //nolint:gosec // small test index
			require.NoError(t, err)
			assert.Equal(t, NodeID(id), got) //nolint:gosec // small test index
		}
	}
}

func TestResolvePathRoundTrip(t *testing.T) {
	t.Parallel()

	idx := loadSample(t)
	for id := range idx.Len() {
		want := NodeID(id) //nolint:gosec // small test index
		got, err := idx.Resolve(idx.Path(want), 0)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
