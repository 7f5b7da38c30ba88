package testutil

import (
	"testing"

	flatbuffers "github.com/google/flatbuffers/go"

	"github.com/meigma/efs/internal/fb"
	"github.com/meigma/efs/internal/image"
)

// TestNode holds data for building a test index node. Unlike the packer,
// the builder writes whatever it is given, so tests can describe broken
// trees.
type TestNode struct {
	Name     string
	Dir      bool
	Parent   uint32
	Offset   uint64
	Size     uint64
	Children []uint32
}

// TestIndex describes a whole test index.
type TestIndex struct {
	Version  uint32
	Root     uint32
	DataSize uint64
	Nodes    []TestNode
}

// BuildTestIndex creates a FlatBuffers-encoded index from ix.
func BuildTestIndex(tb testing.TB, ix TestIndex) []byte {
	tb.Helper()

	builder := flatbuffers.NewBuilder(1024)

	// Build nodes in reverse order (FlatBuffers requirement)
	offsets := make([]flatbuffers.UOffsetT, len(ix.Nodes))
	for i := len(ix.Nodes) - 1; i >= 0; i-- {
		n := ix.Nodes[i]

		var childrenOffset flatbuffers.UOffsetT
		if len(n.Children) > 0 {
			fb.NodeStartChildrenVector(builder, len(n.Children))
			for j := len(n.Children) - 1; j >= 0; j-- {
				builder.PrependUint32(n.Children[j])
			}
			childrenOffset = builder.EndVector(len(n.Children))
		}
		nameOffset := builder.CreateString(n.Name)

		kind := fb.NodeKindFile
		if n.Dir {
			kind = fb.NodeKindDirectory
		}
		fb.NodeStart(builder)
		fb.NodeAddName(builder, nameOffset)
		fb.NodeAddKind(builder, kind)
		fb.NodeAddParent(builder, n.Parent)
		fb.NodeAddOffset(builder, n.Offset)
		fb.NodeAddSize(builder, n.Size)
		if childrenOffset != 0 {
			fb.NodeAddChildren(builder, childrenOffset)
		}
		offsets[i] = fb.NodeEnd(builder)
	}

	fb.IndexStartNodesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	nodesOffset := builder.EndVector(len(offsets))

	fb.IndexStart(builder)
	fb.IndexAddVersion(builder, ix.Version)
	fb.IndexAddRoot(builder, ix.Root)
	fb.IndexAddDataSize(builder, ix.DataSize)
	fb.IndexAddNodes(builder, nodesOffset)
	builder.Finish(fb.IndexEnd(builder))
	return builder.FinishedBytes()
}

// SimpleIndex returns an index with a root directory holding one file
// "a.txt" of size bytes at offset 0.
func SimpleIndex(size uint64) TestIndex {
	return TestIndex{
		Version:  1,
		Root:     0,
		DataSize: size,
		Nodes: []TestNode{
			{Name: "", Dir: true, Parent: 0, Children: []uint32{1}},
			{Name: "a.txt", Parent: 0, Offset: 0, Size: size},
		},
	}
}

// BuildTestImage lays out a superblock, the given index, and data the way
// the packer does, with a correct index checksum.
func BuildTestImage(tb testing.TB, index, data []byte) []byte {
	tb.Helper()

	sb := image.Superblock{
		Version:     image.Version,
		IndexOffset: image.SuperblockSize,
		IndexSize:   uint64(len(index)),
		DataOffset:  image.AlignUp(image.SuperblockSize+uint64(len(index)), image.SectorSize),
		DataSize:    uint64(len(data)),
		IndexSum:    image.Checksum(index),
	}
	header, err := sb.MarshalBinary()
	if err != nil {
		tb.Fatalf("marshal superblock: %v", err)
	}
	img := make([]byte, sb.DataOffset+sb.DataSize)
	copy(img, header)
	copy(img[sb.IndexOffset:], index)
	copy(img[sb.DataOffset:], data)
	return img
}
