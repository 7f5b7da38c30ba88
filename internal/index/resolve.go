package index

import (
	"strings"

	"github.com/meigma/efs/internal/efstype"
)

// Separator is the path separator of archive paths.
const Separator = '/'

// Resolve walks path from cwd (or from the root when path is absolute) and
// returns the node it names.
//
// Components are applied one at a time against the tree: "." stays, ".."
// follows the parent link of the node reached so far (the root is its own
// parent) and any other component must name an entry of the current
// directory. Empty components are ignored. A trailing separator requires
// the result to be a directory.
func (idx *Index) Resolve(path string, cwd NodeID) (NodeID, error) {
	if path == "" {
		return 0, efstype.ErrNotFound
	}

	cur := cwd
	if path[0] == Separator {
		cur = idx.root
	}
	if _, ok := idx.Node(cur); !ok {
		return 0, efstype.ErrNotFound
	}

	rest := path
	for rest != "" {
		var name string
		name, rest, _ = strings.Cut(rest, string(Separator))
		if name == "" {
			continue
		}

		node := &idx.nodes[cur]
		if !node.IsDir() {
			return 0, efstype.ErrNotADirectory
		}
		switch name {
		case ".":
		case "..":
			cur = node.Parent
		default:
			child, ok := idx.Child(cur, name)
			if !ok {
				return 0, efstype.ErrNotFound
			}
			cur = child
		}
	}

	if path[len(path)-1] == Separator && !idx.nodes[cur].IsDir() {
		return 0, efstype.ErrNotADirectory
	}
	return cur, nil
}
