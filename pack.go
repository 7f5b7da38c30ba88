package efs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"path"
	"strings"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"

	"github.com/meigma/efs/internal/fb"
	"github.com/meigma/efs/internal/image"
	"github.com/meigma/efs/internal/index"
)

// Sentinel errors specific to packing.
var (
	// ErrTooManyFiles is returned when the file count exceeds the configured limit.
	ErrTooManyFiles = errors.New("efs: too many files")

	// ErrExist is returned when a path is added to a Builder twice.
	// It matches fs.ErrExist.
	ErrExist = fmt.Errorf("efs: entry exists: %w", fs.ErrExist)
)

// OpenFunc opens the content of a file being packed.
type OpenFunc func() (io.ReadCloser, error)

// buildNode is a directory or file staged in a Builder.
type buildNode struct {
	name     string
	kind     Kind
	parent   int
	children []int
	byName   map[string]int
	size     uint64
	open     OpenFunc
}

// Builder stages a directory tree for Pack.
//
// Entries keep the order in which they were added; that order becomes the
// enumeration order of the mounted image. Paths are slash-separated and
// interpreted relative to the root whether or not they start with "/".
type Builder struct {
	nodes []*buildNode
	files int
}

// NewBuilder returns a Builder holding only the root directory.
func NewBuilder() *Builder {
	return &Builder{
		nodes: []*buildNode{{kind: KindDirectory, byName: map[string]int{}}},
	}
}

// Len returns the number of staged nodes, including the root.
func (b *Builder) Len() int {
	return len(b.nodes)
}

// Files returns the number of staged files.
func (b *Builder) Files() int {
	return b.files
}

// split cleans p and returns its components.
func split(p string) ([]string, error) {
	cleaned := path.Clean("/" + p)
	if cleaned == "/" {
		return nil, nil
	}
	parts := strings.Split(cleaned[1:], "/")
	for _, name := range parts {
		if !index.ValidName(name) {
			return nil, fmt.Errorf("invalid name %q in %q", name, p)
		}
	}
	return parts, nil
}

// Mkdir adds the directory p. Missing parents are created; existing
// directories are left alone.
func (b *Builder) Mkdir(p string) error {
	parts, err := split(p)
	if err != nil {
		return err
	}
	_, err = b.mkdirAll(parts)
	return err
}

func (b *Builder) mkdirAll(parts []string) (int, error) {
	cur := 0
	for i, name := range parts {
		if id, ok := b.nodes[cur].byName[name]; ok {
			if b.nodes[id].kind != KindDirectory {
				return 0, fmt.Errorf("%s: %w", "/"+strings.Join(parts[:i+1], "/"), ErrNotADirectory)
			}
			cur = id
			continue
		}
		cur = b.add(cur, &buildNode{name: name, kind: KindDirectory, byName: map[string]int{}})
	}
	return cur, nil
}

func (b *Builder) add(parent int, n *buildNode) int {
	id := len(b.nodes)
	n.parent = parent
	b.nodes = append(b.nodes, n)
	p := b.nodes[parent]
	p.children = append(p.children, id)
	p.byName[n.name] = id
	return id
}

// AddFile adds a file of size bytes whose content is produced by open at
// pack time. Parent directories are created as needed.
func (b *Builder) AddFile(p string, size int64, open OpenFunc) error {
	if size < 0 || size > math.MaxUint32 {
		return fmt.Errorf("%s: %w", p, ErrSizeOverflow)
	}
	parts, err := split(p)
	if err != nil {
		return err
	}
	if len(parts) == 0 {
		return fmt.Errorf("%s: %w", p, ErrExist)
	}
	dir, err := b.mkdirAll(parts[:len(parts)-1])
	if err != nil {
		return err
	}
	name := parts[len(parts)-1]
	if _, ok := b.nodes[dir].byName[name]; ok {
		return fmt.Errorf("%s: %w", p, ErrExist)
	}
	b.add(dir, &buildNode{name: name, kind: KindFile, size: uint64(size), open: open})
	b.files++
	return nil
}

// AddBytes adds a file holding a copy of data.
func (b *Builder) AddBytes(p string, data []byte) error {
	content := bytes.Clone(data)
	return b.AddFile(p, int64(len(content)), func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(content)), nil
	})
}

// AddFS adds every directory and regular file of fsys below root, placing
// them under the archive directory prefix. Other file types are skipped.
// Content is read from fsys when the image is packed.
func (b *Builder) AddFS(fsys fs.FS, root, prefix string) error {
	return fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if root == "." {
			rel = p
		}
		target := path.Join("/", prefix, rel)
		switch {
		case d.IsDir():
			return b.Mkdir(target)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return b.AddFile(target, info.Size(), func() (io.ReadCloser, error) {
				return fsys.Open(p)
			})
		default:
			return nil
		}
	})
}

// PackResult describes a packed image.
type PackResult struct {
	// Size is the total image size in bytes.
	Size int64

	// Nodes is the number of directories and files, including the root.
	Nodes int

	// Files is the number of files.
	Files int

	// DataSize is the size of the data region.
	DataSize uint64

	// IndexDigest is the SHA-256 digest of the index region.
	IndexDigest digest.Digest
}

// placed is a staged node with its final ID and data offset.
type placed struct {
	node   *buildNode
	parent uint32
	offset uint64
}

// layout is the full plan of an image before any content is copied.
type layout struct {
	nodes  []placed
	header []byte
	sb     image.Superblock
}

// plan numbers nodes in pre-order, so every parent precedes its children,
// assigns content offsets, and encodes the header region.
func plan(b *Builder, cfg *packConfig) (*layout, error) {
	if cfg.maxFiles > 0 && b.files > cfg.maxFiles {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManyFiles, b.files, cfg.maxFiles)
	}

	ids := make([]uint32, len(b.nodes))
	order := make([]int, 0, len(b.nodes))
	stack := []int{0}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ids[n] = uint32(len(order)) //nolint:gosec // bounded by node count
		order = append(order, n)
		children := b.nodes[n].children
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}

	l := &layout{nodes: make([]placed, len(order))}
	var end uint64
	for i, n := range order {
		node := b.nodes[n]
		p := placed{node: node, parent: ids[node.parent]}
		if node.kind == KindFile && node.size > 0 {
			p.offset = image.AlignUp(end, cfg.alignment)
			end = p.offset + node.size
		}
		l.nodes[i] = p
	}
	idx := buildIndex(l.nodes, ids, end)

	l.sb = image.Superblock{
		Version:     image.Version,
		IndexOffset: image.SuperblockSize,
		IndexSize:   uint64(len(idx)),
		DataOffset:  image.AlignUp(image.SuperblockSize+uint64(len(idx)), image.SectorSize),
		DataSize:    end,
		IndexSum:    image.Checksum(idx),
	}
	sbBytes, err := l.sb.MarshalBinary()
	if err != nil {
		return nil, err
	}
	l.header = make([]byte, l.sb.DataOffset)
	copy(l.header, sbBytes)
	copy(l.header[l.sb.IndexOffset:], idx)
	return l, nil
}

// buildIndex serializes placed nodes to FlatBuffers format.
func buildIndex(nodes []placed, ids []uint32, dataSize uint64) []byte {
	builder := flatbuffers.NewBuilder(1024)

	// Build nodes in reverse order (FlatBuffers requirement)
	offsets := make([]flatbuffers.UOffsetT, len(nodes))
	for i := len(nodes) - 1; i >= 0; i-- {
		p := nodes[i]

		var childrenOffset flatbuffers.UOffsetT
		if len(p.node.children) > 0 {
			fb.NodeStartChildrenVector(builder, len(p.node.children))
			for j := len(p.node.children) - 1; j >= 0; j-- {
				builder.PrependUint32(ids[p.node.children[j]])
			}
			childrenOffset = builder.EndVector(len(p.node.children))
		}
		nameOffset := builder.CreateString(p.node.name)

		kind := fb.NodeKindFile
		if p.node.kind == KindDirectory {
			kind = fb.NodeKindDirectory
		}
		fb.NodeStart(builder)
		fb.NodeAddName(builder, nameOffset)
		fb.NodeAddKind(builder, kind)
		fb.NodeAddParent(builder, p.parent)
		fb.NodeAddOffset(builder, p.offset)
		fb.NodeAddSize(builder, p.node.size)
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
	fb.IndexAddVersion(builder, index.Version)
	fb.IndexAddRoot(builder, 0)
	fb.IndexAddDataSize(builder, dataSize)
	fb.IndexAddNodes(builder, nodesOffset)
	builder.Finish(fb.IndexEnd(builder))
	return builder.FinishedBytes()
}

func (l *layout) size() int64 {
	return int64(l.sb.DataOffset + l.sb.DataSize) //nolint:gosec // bounded by file limits
}

func (l *layout) result() *PackResult {
	files := 0
	for _, p := range l.nodes {
		if p.node.kind == KindFile {
			files++
		}
	}
	return &PackResult{
		Size:        l.size(),
		Nodes:       len(l.nodes),
		Files:       files,
		DataSize:    l.sb.DataSize,
		IndexDigest: digest.NewDigestFromBytes(digest.SHA256, l.sb.IndexSum[:]),
	}
}

// Pack writes the image staged in b to w.
//
// The header region (superblock, index, padding) is written first, then
// file contents are copied to their precomputed offsets in parallel. Gaps
// between aligned files are not written; w must read them back as zeros
// (true for files and zeroed buffers).
//
// The context can be used for cancellation of long-running packs.
func Pack(ctx context.Context, b *Builder, w io.WriterAt, opts ...PackOption) (*PackResult, error) {
	cfg := newPackConfig(opts)
	l, err := plan(b, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.log().Info("packing image",
		"nodes", len(l.nodes),
		"index_size", l.sb.IndexSize,
		"data_size", l.sb.DataSize)

	if err := writeFull(w, l.header, 0); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.concurrency)
	for _, p := range l.nodes {
		if p.node.kind != KindFile || p.node.size == 0 {
			continue
		}
		off := int64(l.sb.DataOffset + p.offset) //nolint:gosec // bounded by file limits
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return copyContent(w, off, p.node)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := l.result()
	cfg.log().Debug("image packed", "size", res.Size, "index_digest", res.IndexDigest.String())
	return res, nil
}

// PackBytes packs b into a new in-memory image.
func PackBytes(ctx context.Context, b *Builder, opts ...PackOption) ([]byte, *PackResult, error) {
	cfg := newPackConfig(opts)
	l, err := plan(b, &cfg)
	if err != nil {
		return nil, nil, err
	}
	buf := make([]byte, l.size())
	res, err := Pack(ctx, b, NewMemDevice(buf), opts...)
	if err != nil {
		return nil, nil, err
	}
	return buf, res, nil
}

func copyContent(w io.WriterAt, off int64, n *buildNode) error {
	if n.open == nil {
		return fmt.Errorf("%s: no content source", n.name)
	}
	rc, err := n.open()
	if err != nil {
		return fmt.Errorf("open %s: %w", n.name, err)
	}
	defer rc.Close()

	size := int64(n.size) //nolint:gosec // bounded by MaxUint32
	written, err := io.CopyN(io.NewOffsetWriter(w, off), rc, size)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("copy %s: short content (%d of %d bytes): %w", n.name, written, size, io.ErrUnexpectedEOF)
		}
		return fmt.Errorf("copy %s: %w", n.name, err)
	}
	return nil
}

func writeFull(w io.WriterAt, p []byte, off int64) error {
	n, err := w.WriteAt(p, off)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}
