package efs

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/efs/internal/image"
	"github.com/meigma/efs/internal/index"
	"github.com/meigma/efs/internal/slot"
)

// MaxIndexSize bounds the index region Mount will read into memory.
// Larger values in a superblock are treated as corruption.
const MaxIndexSize = 64 << 20

// Superblock describes the layout of a mounted image.
type Superblock = image.Superblock

// FS is a mounted image: the index, the working directory, and the tables
// of open files and directory cursors.
//
// FS is not safe for concurrent use. Callers that share an FS between
// goroutines must serialize access themselves.
type FS struct {
	dev    Device
	sb     *image.Superblock
	idx    *index.Index
	digest digest.Digest
	cwd    NodeID

	files *slot.Table[openFile]
	dirs  *slot.Table[openDir]

	maxOpenFiles    int
	maxOpenDirs     int
	writeBufferSize int
	search          bool
	logger          *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (f *FS) log() *slog.Logger {
	if f.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return f.logger
}

// Mount reads the superblock and index of the image on dev and returns a
// filesystem with the working directory set to the root.
//
// The device is read only during Mount; later reads and writes go to the
// file content regions. Structural problems are reported as
// ErrCorruptArchive and device failures are returned wrapped.
func Mount(dev Device, opts ...Option) (*FS, error) {
	f := &FS{
		maxOpenFiles:    DefaultMaxOpenFiles,
		maxOpenDirs:     DefaultMaxOpenDirs,
		writeBufferSize: DefaultWriteBufferSize,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.search {
		off, err := Locate(dev)
		if err != nil {
			return nil, err
		}
		f.log().Debug("located archive", "offset", off)
		if off > 0 {
			dev = NewSection(dev, off, dev.Size()-off)
		}
	}

	sb, err := image.Read(dev, dev.Size())
	if err != nil {
		return nil, err
	}
	if sb.IndexSize > MaxIndexSize {
		return nil, fmt.Errorf("%w: index of %d bytes exceeds limit", ErrCorruptArchive, sb.IndexSize)
	}

	data := make([]byte, sb.IndexSize)
	if err := image.ReadFull(dev, data, int64(sb.IndexOffset)); err != nil { //nolint:gosec // bounded by Validate
		return nil, fmt.Errorf("read index: %w", err)
	}
	sum := image.Checksum(data)
	if sum != sb.IndexSum {
		return nil, fmt.Errorf("%w: index checksum mismatch", ErrCorruptArchive)
	}
	idx, err := index.Load(data, sb.DataSize)
	if err != nil {
		return nil, err
	}

	f.dev = dev
	f.sb = sb
	f.idx = idx
	f.digest = digest.NewDigestFromBytes(digest.SHA256, sum[:])
	f.cwd = idx.Root()
	f.files = slot.New[openFile](f.maxOpenFiles)
	f.dirs = slot.New[openDir](f.maxOpenDirs)

	f.log().Info("mounted archive",
		"nodes", idx.Len(),
		"data_size", sb.DataSize,
		"index_digest", f.digest.String())
	return f, nil
}

// Unmount flushes every open file and invalidates all handles and cursors.
//
// Flush failures are joined into the returned error; the filesystem is
// unmounted regardless. Later calls return ErrUnmounted.
func (f *FS) Unmount() error {
	if f.idx == nil {
		return ErrUnmounted
	}
	var errs []error
	for ref, of := range f.files.All() {
		if err := f.flush(of); err != nil {
			f.log().Warn("flush on unmount failed", "path", f.idx.Path(of.node), "error", err)
			errs = append(errs, fmt.Errorf("flush %s: %w", f.idx.Path(of.node), err))
		}
		f.files.Release(ref)
	}
	for ref := range f.dirs.All() {
		f.dirs.Release(ref)
	}
	if s, ok := f.dev.(interface{ Sync() error }); ok {
		if err := s.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("sync device: %w", err))
		}
	}
	f.log().Info("unmounted archive", "index_digest", f.digest.String())
	f.idx = nil
	f.files = nil
	f.dirs = nil
	return errors.Join(errs...)
}

// Resolve returns the node named by path. Relative paths start at cwd.
//
// Failures are *fs.PathError values wrapping ErrNotFound or
// ErrNotADirectory.
func (f *FS) Resolve(path string, cwd NodeID) (NodeID, error) {
	if f.idx == nil {
		return 0, &fs.PathError{Op: "resolve", Path: path, Err: ErrUnmounted}
	}
	id, err := f.idx.Resolve(path, cwd)
	if err != nil {
		return 0, &fs.PathError{Op: "resolve", Path: path, Err: err}
	}
	return id, nil
}

// lookup resolves path against the working directory and returns the bare
// sentinel on failure.
func (f *FS) lookup(path string) (NodeID, *index.Node, error) {
	if f.idx == nil {
		return 0, nil, ErrUnmounted
	}
	id, err := f.idx.Resolve(path, f.cwd)
	if err != nil {
		return 0, nil, err
	}
	node, _ := f.idx.Node(id)
	return id, node, nil
}

// Root returns the root directory.
func (f *FS) Root() NodeID {
	if f.idx == nil {
		return 0
	}
	return f.idx.Root()
}

// Cwd returns the working directory, or 0 once unmounted.
func (f *FS) Cwd() NodeID {
	if f.idx == nil {
		return 0
	}
	return f.cwd
}

// Getwd returns the absolute path of the working directory.
func (f *FS) Getwd() (string, error) {
	if f.idx == nil {
		return "", ErrUnmounted
	}
	return f.idx.Path(f.cwd), nil
}

// Chdir changes the working directory. path must name a directory.
func (f *FS) Chdir(path string) error {
	id, node, err := f.lookup(path)
	if err != nil {
		return &fs.PathError{Op: "chdir", Path: path, Err: err}
	}
	if !node.IsDir() {
		return &fs.PathError{Op: "chdir", Path: path, Err: ErrNotADirectory}
	}
	f.cwd = id
	return nil
}

// Superblock returns a copy of the mounted superblock.
func (f *FS) Superblock() Superblock {
	if f.sb == nil {
		return Superblock{}
	}
	return *f.sb
}

// IndexDigest returns the SHA-256 digest of the index region.
func (f *FS) IndexDigest() digest.Digest {
	return f.digest
}

// Len returns the number of nodes in the image.
func (f *FS) Len() int {
	if f.idx == nil {
		return 0
	}
	return f.idx.Len()
}
