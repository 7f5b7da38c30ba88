package index

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/meigma/efs/internal/efstype"
	"github.com/meigma/efs/internal/fb"
)

// Version is the index format version written by the packer.
const Version = 1

type (
	// NodeID identifies a node in the index.
	NodeID = efstype.NodeID

	// Kind identifies whether a node is a file or a directory.
	Kind = efstype.Kind
)

// Node is a single file or directory record.
type Node struct {
	// Name is the entry name within its parent. Empty for the root.
	Name string

	// Kind is KindFile or KindDirectory.
	Kind Kind

	// Parent is the containing directory. The root is its own parent.
	Parent NodeID

	// Offset is the start of the file content relative to the data region.
	Offset uint64

	// Size is the packed size of the file content in bytes.
	Size uint64

	// Children lists directory entries in pack order.
	Children []NodeID

	// byName holds Children sorted by name for lookups.
	byName []NodeID
}

// IsDir reports whether the node is a directory.
func (n *Node) IsDir() bool {
	return n.Kind == efstype.KindDirectory
}

// Index is the immutable node table of a mounted image.
type Index struct {
	version  uint32
	root     NodeID
	dataSize uint64
	nodes    []Node
}

// Load parses a FlatBuffers-encoded index and validates its structure.
//
// dataLimit is the size of the data region the index describes; every file
// range must fall inside it. All violations are reported as
// efstype.ErrCorruptArchive. The returned index does not retain data.
func Load(data []byte, dataLimit uint64) (*Index, error) {
	if len(data) == 0 {
		return nil, corruptf("empty index")
	}

	idx, err := parse(data)
	if err != nil {
		return nil, err
	}
	if idx.version != Version {
		return nil, corruptf("unsupported index version %d", idx.version)
	}
	if idx.dataSize > dataLimit {
		return nil, corruptf("index data size %d exceeds data region %d", idx.dataSize, dataLimit)
	}
	if err := idx.validate(); err != nil {
		return nil, err
	}
	return idx, nil
}

// parse copies the FlatBuffers table into Nodes. Malformed buffers make the
// generated accessors panic; the panic is converted to a corruption error.
func parse(data []byte) (idx *Index, err error) {
	defer func() {
		if r := recover(); r != nil {
			idx = nil
			err = corruptf("parse index: %v", r)
		}
	}()

	root := fb.GetRootAsIndex(data, 0)
	n := root.NodesLength()
	// Every node costs at least one 4-byte offset in the vector.
	if n == 0 || n > len(data)/4 {
		return nil, corruptf("invalid node count %d", n)
	}

	idx = &Index{
		version:  root.Version(),
		root:     NodeID(root.Root()),
		dataSize: root.DataSize(),
		nodes:    make([]Node, n),
	}

	// A tree has exactly n-1 child links.
	links := 0
	var fbNode fb.Node
	for i := range n {
		if !root.Nodes(&fbNode, i) {
			return nil, corruptf("node %d missing", i)
		}
		node := &idx.nodes[i]
		node.Name = string(fbNode.Name())
		node.Parent = NodeID(fbNode.Parent())
		node.Offset = fbNode.Offset()
		node.Size = fbNode.Size()

		switch fbNode.Kind() {
		case fb.NodeKindFile:
			node.Kind = efstype.KindFile
		case fb.NodeKindDirectory:
			node.Kind = efstype.KindDirectory
		default:
			return nil, corruptf("node %d: unknown kind %s", i, fbNode.Kind())
		}

		count := fbNode.ChildrenLength()
		if count > len(data)/4 {
			return nil, corruptf("node %d: invalid child count %d", i, count)
		}
		links += count
		if links > n-1 {
			return nil, corruptf("node %d: %d child links exceed %d nodes", i, links, n)
		}
		if count > 0 {
			node.Children = make([]NodeID, count)
			for j := range count {
				node.Children[j] = NodeID(fbNode.Children(j))
			}
		}
	}
	return idx, nil
}

// validate enforces the tree invariants: parents precede children, child
// lists agree with parent links, sibling names are unique and valid, and
// file ranges lie inside the data region.
func (idx *Index) validate() error {
	n := len(idx.nodes)
	if int(idx.root) >= n {
		return corruptf("root %d out of range", idx.root)
	}
	root := &idx.nodes[idx.root]
	if !root.IsDir() {
		return corruptf("root %d is not a directory", idx.root)
	}
	if root.Parent != idx.root {
		return corruptf("root %d has parent %d", idx.root, root.Parent)
	}
	root.Name = ""

	for i := range idx.nodes {
		id := NodeID(i) //nolint:gosec // bounded by node count
		node := &idx.nodes[i]
		if id != idx.root {
			if node.Parent >= id {
				return corruptf("node %d: parent %d does not precede it", id, node.Parent)
			}
			if !idx.nodes[node.Parent].IsDir() {
				return corruptf("node %d: parent %d is not a directory", id, node.Parent)
			}
			if err := validName(node.Name); err != nil {
				return corruptf("node %d: %v", id, err)
			}
		}
		if node.IsDir() {
			continue
		}
		if len(node.Children) > 0 {
			return corruptf("node %d: file has children", id)
		}
		if node.Size > math.MaxUint32 {
			return corruptf("node %d: size %d too large", id, node.Size)
		}
		end := node.Offset + node.Size
		if end < node.Offset || end > idx.dataSize {
			return corruptf("node %d: range [%d, +%d) outside data region of %d bytes", id, node.Offset, node.Size, idx.dataSize)
		}
	}

	listed := make([]bool, n)
	for i := range idx.nodes {
		dir := NodeID(i) //nolint:gosec // bounded by node count
		node := &idx.nodes[i]
		for _, child := range node.Children {
			if int(child) >= n || child == idx.root {
				return corruptf("node %d: invalid child %d", dir, child)
			}
			if idx.nodes[child].Parent != dir {
				return corruptf("node %d: child %d belongs to %d", dir, child, idx.nodes[child].Parent)
			}
			if listed[child] {
				return corruptf("node %d: child %d listed twice", dir, child)
			}
			listed[child] = true
		}
		if len(node.Children) == 0 {
			continue
		}
		node.byName = slices.Clone(node.Children)
		slices.SortFunc(node.byName, func(a, b NodeID) int {
			return strings.Compare(idx.nodes[a].Name, idx.nodes[b].Name)
		})
		for j := 1; j < len(node.byName); j++ {
			if idx.nodes[node.byName[j-1]].Name == idx.nodes[node.byName[j]].Name {
				return corruptf("node %d: duplicate entry %q", dir, idx.nodes[node.byName[j]].Name)
			}
		}
	}
	for i := range idx.nodes {
		if NodeID(i) != idx.root && !listed[i] { //nolint:gosec // bounded by node count
			return corruptf("node %d: missing from parent %d", i, idx.nodes[i].Parent)
		}
	}
	return nil
}

// ValidName reports whether name can be stored as a directory entry.
func ValidName(name string) bool {
	return validName(name) == nil
}

func validName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("empty name")
	case name == "." || name == "..":
		return fmt.Errorf("reserved name %q", name)
	case strings.ContainsAny(name, "/\x00"):
		return fmt.Errorf("invalid name %q", name)
	}
	return nil
}

// Version returns the format version of the index.
func (idx *Index) Version() uint32 {
	return idx.version
}

// DataSize returns the size of the data region described by the index.
func (idx *Index) DataSize() uint64 {
	return idx.dataSize
}

// Root returns the root directory.
func (idx *Index) Root() NodeID {
	return idx.root
}

// Len returns the number of nodes.
func (idx *Index) Len() int {
	return len(idx.nodes)
}

// Node returns the node for id. ok is false when id is out of range.
//
// The returned node must be treated as read-only.
func (idx *Index) Node(id NodeID) (node *Node, ok bool) {
	if int(id) >= len(idx.nodes) {
		return nil, false
	}
	return &idx.nodes[id], true
}

// Child looks up name among the entries of dir.
func (idx *Index) Child(dir NodeID, name string) (NodeID, bool) {
	node, ok := idx.Node(dir)
	if !ok || !node.IsDir() {
		return 0, false
	}
	i, found := slices.BinarySearchFunc(node.byName, name, func(id NodeID, name string) int {
		return strings.Compare(idx.nodes[id].Name, name)
	})
	if !found {
		return 0, false
	}
	return node.byName[i], true
}

// Path returns the absolute path of id, rebuilt from parent links.
func (idx *Index) Path(id NodeID) string {
	if _, ok := idx.Node(id); !ok {
		return ""
	}
	var parts []string
	for id != idx.root {
		parts = append(parts, idx.nodes[id].Name)
		id = idx.nodes[id].Parent
	}
	slices.Reverse(parts)
	return "/" + strings.Join(parts, "/")
}

func corruptf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", efstype.ErrCorruptArchive, fmt.Sprintf(format, args...))
}
