// Package fuse exposes a mounted EFS image on a host mountpoint.
//
// The tree is fixed: lookups, listings, reads, and in-place writes are
// supported, while creating, removing, renaming, or resizing entries is
// refused by the kernel-facing layer.
package fuse

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"syscall"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/meigma/efs"
)

// Options configures the FUSE mount.
type Options struct {
	// Mountpoint is the directory where the image is mounted.
	Mountpoint string

	// FS is the mounted image to expose.
	FS *efs.FS

	// Mu serializes access to FS. An *efs.FS is not safe for concurrent
	// use, and the kernel issues requests from many goroutines. If nil, an
	// internal mutex is created.
	Mu *sync.Mutex

	// ReadOnly rejects opens for writing.
	ReadOnly bool

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool

	// Logger receives diagnostic messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Mount mounts opts.FS at the configured mountpoint. The caller must call
// Unmount on the returned Server when done, before unmounting the image.
func Mount(opts Options) (*fuse.Server, error) {
	if opts.Mountpoint == "" {
		return nil, errors.New("mountpoint is required")
	}
	if opts.FS == nil {
		return nil, errors.New("filesystem is required")
	}
	if opts.Mu == nil {
		opts.Mu = &sync.Mutex{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(opts.Mountpoint, 0o755); err != nil {
		return nil, fmt.Errorf("creating mountpoint %s: %w", opts.Mountpoint, err)
	}

	rootID := opts.FS.Root()
	root := &dirNode{opts: &opts, id: rootID}

	entryTimeout := 1 * time.Second
	attrTimeout := 1 * time.Second
	negativeTimeout := 100 * time.Millisecond

	mountOpts := fuse.MountOptions{
		FsName:     "efs",
		Name:       "efs",
		AllowOther: opts.AllowOther,
	}
	if opts.ReadOnly {
		mountOpts.Options = append(mountOpts.Options, "ro")
	}

	server, err := gofuse.Mount(opts.Mountpoint, root, &gofuse.Options{
		EntryTimeout:    &entryTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		RootStableAttr:  &gofuse.StableAttr{Mode: syscall.S_IFDIR, Ino: inode(rootID)},
		MountOptions:    mountOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("mounting FUSE filesystem at %s: %w", opts.Mountpoint, err)
	}

	opts.Logger.Info("efs FUSE filesystem mounted",
		"mountpoint", opts.Mountpoint,
		"digest", opts.FS.IndexDigest().String(),
		"read_only", opts.ReadOnly,
	)
	return server, nil
}

// inode maps a node ID to a stable inode number. 0 and 1 are avoided so
// the numbers never collide with the kernel's reserved values.
func inode(id efs.NodeID) uint64 {
	return uint64(id) + 2
}

// fillAttr copies st into out.
func (o *Options) fillAttr(st efs.Stat, out *fuse.Attr) {
	out.Ino = inode(st.ID)
	out.Size = uint64(st.Size)
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = 512
	out.Nlink = 1
	perm := uint32(st.Mode().Perm())
	if o.ReadOnly {
		perm &^= 0o222
	}
	if st.IsDir() {
		out.Mode = syscall.S_IFDIR | perm
		out.Nlink = 2
	} else {
		out.Mode = syscall.S_IFREG | perm
	}
}

// stat looks up the metadata of id under the lock.
func (o *Options) stat(id efs.NodeID) (efs.Stat, syscall.Errno) {
	o.Mu.Lock()
	defer o.Mu.Unlock()
	st, err := o.FS.Stat(id)
	if err != nil {
		return efs.Stat{}, o.errno("stat", err)
	}
	return st, 0
}

// errno converts err, logging device and archive failures.
func (o *Options) errno(op string, err error) syscall.Errno {
	e := Errno(err)
	if e == syscall.EIO {
		o.Logger.Error("efs operation failed", "op", op, "error", err)
	}
	return e
}

// Errno maps an efs error to the POSIX error number reported to the kernel.
func Errno(err error) syscall.Errno {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, efs.ErrNotFound):
		return syscall.ENOENT
	case errors.Is(err, efs.ErrNotADirectory):
		return syscall.ENOTDIR
	case errors.Is(err, efs.ErrNotAFile):
		return syscall.EISDIR
	case errors.Is(err, efs.ErrOutOfSpace):
		return syscall.ENOSPC
	case errors.Is(err, efs.ErrInvalidHandle), errors.Is(err, efs.ErrInvalidMode):
		return syscall.EBADF
	case errors.Is(err, efs.ErrInvalidOffset):
		return syscall.EINVAL
	case errors.Is(err, efs.ErrTooManyOpenFiles), errors.Is(err, efs.ErrTooManyOpenDirs):
		return syscall.EMFILE
	case errors.Is(err, fs.ErrPermission):
		return syscall.EPERM
	default:
		return syscall.EIO
	}
}

// dirNode is a directory of the image.
type dirNode struct {
	gofuse.Inode
	opts *Options
	id   efs.NodeID
}

var _ gofuse.InodeEmbedder = (*dirNode)(nil)
var _ gofuse.NodeLookuper = (*dirNode)(nil)
var _ gofuse.NodeReaddirer = (*dirNode)(nil)
var _ gofuse.NodeGetattrer = (*dirNode)(nil)

func (d *dirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	d.opts.Mu.Lock()
	id, err := d.opts.FS.Resolve(name, d.id)
	var st efs.Stat
	if err == nil {
		st, err = d.opts.FS.Stat(id)
	}
	d.opts.Mu.Unlock()
	if err != nil {
		return nil, d.opts.errno("lookup", err)
	}

	d.opts.fillAttr(st, &out.Attr)
	if st.IsDir() {
		child := d.NewInode(ctx, &dirNode{opts: d.opts, id: id},
			gofuse.StableAttr{Mode: syscall.S_IFDIR, Ino: inode(id)})
		return child, 0
	}
	child := d.NewInode(ctx, &fileNode{opts: d.opts, id: id},
		gofuse.StableAttr{Mode: syscall.S_IFREG, Ino: inode(id)})
	return child, 0
}

// Readdir lists the directory in pack order through a directory cursor.
func (d *dirNode) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	d.opts.Mu.Lock()
	defer d.opts.Mu.Unlock()

	c, err := d.opts.FS.OpenDirNode(d.id)
	if err != nil {
		return nil, d.opts.errno("opendir", err)
	}
	defer d.opts.FS.CloseDir(c) //nolint:errcheck // cursor was just opened

	var entries []fuse.DirEntry
	for {
		e, err := d.opts.FS.Next(c)
		if errors.Is(err, efs.ErrEndOfDirectory) {
			break
		}
		if err != nil {
			return nil, d.opts.errno("readdir", err)
		}
		mode := uint32(syscall.S_IFREG)
		if e.Stat.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{
			Name: e.Name,
			Mode: mode,
			Ino:  inode(e.Stat.ID),
		})
	}
	return gofuse.NewListDirStream(entries), 0
}

func (d *dirNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, errno := d.opts.stat(d.id)
	if errno != 0 {
		return errno
	}
	d.opts.fillAttr(st, &out.Attr)
	return 0
}

// fileNode is a file of the image.
type fileNode struct {
	gofuse.Inode
	opts *Options
	id   efs.NodeID
}

var _ gofuse.InodeEmbedder = (*fileNode)(nil)
var _ gofuse.NodeGetattrer = (*fileNode)(nil)
var _ gofuse.NodeSetattrer = (*fileNode)(nil)
var _ gofuse.NodeOpener = (*fileNode)(nil)

func (n *fileNode) Getattr(ctx context.Context, f gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	st, errno := n.opts.stat(n.id)
	if errno != 0 {
		return errno
	}
	n.opts.fillAttr(st, &out.Attr)
	return 0
}

// Setattr accepts only requests that leave the size unchanged. Files never
// grow or shrink, so an O_TRUNC open of a non-empty file fails here.
func (n *fileNode) Setattr(ctx context.Context, f gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	st, errno := n.opts.stat(n.id)
	if errno != 0 {
		return errno
	}
	if size, ok := in.GetSize(); ok && size != uint64(st.Size) {
		return syscall.EPERM
	}
	n.opts.fillAttr(st, &out.Attr)
	return 0
}

func (n *fileNode) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	var mode efs.Mode
	switch flags & syscall.O_ACCMODE {
	case syscall.O_RDONLY:
		mode = efs.ModeRead
	case syscall.O_WRONLY:
		mode = efs.ModeWrite
	default:
		mode = efs.ModeReadWrite
	}
	if mode.CanWrite() && n.opts.ReadOnly {
		return nil, 0, syscall.EROFS
	}

	n.opts.Mu.Lock()
	h, err := n.opts.FS.OpenNode(n.id, mode)
	n.opts.Mu.Unlock()
	if err != nil {
		return nil, 0, n.opts.errno("open", err)
	}
	// In-place writes bypass the page cache.
	return &fileHandle{opts: n.opts, h: h}, fuse.FOPEN_DIRECT_IO, 0
}

// fileHandle is an open efs handle.
type fileHandle struct {
	opts *Options
	h    efs.Handle
}

var _ gofuse.FileReader = (*fileHandle)(nil)
var _ gofuse.FileWriter = (*fileHandle)(nil)
var _ gofuse.FileFlusher = (*fileHandle)(nil)
var _ gofuse.FileFsyncer = (*fileHandle)(nil)
var _ gofuse.FileReleaser = (*fileHandle)(nil)

func (fh *fileHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	fh.opts.Mu.Lock()
	defer fh.opts.Mu.Unlock()
	n, err := fh.opts.FS.ReadAt(fh.h, dest, off)
	if err != nil {
		return nil, fh.opts.errno("read", err)
	}
	return fuse.ReadResultData(dest[:n]), 0
}

func (fh *fileHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	fh.opts.Mu.Lock()
	defer fh.opts.Mu.Unlock()
	n, err := fh.opts.FS.WriteAt(fh.h, data, off)
	if err != nil {
		return 0, fh.opts.errno("write", err)
	}
	return uint32(n), 0 //nolint:gosec // n <= len(data), bounded by the kernel's max write
}

func (fh *fileHandle) Flush(ctx context.Context) syscall.Errno {
	return fh.sync("flush")
}

func (fh *fileHandle) Fsync(ctx context.Context, flags uint32) syscall.Errno {
	return fh.sync("fsync")
}

func (fh *fileHandle) sync(op string) syscall.Errno {
	fh.opts.Mu.Lock()
	defer fh.opts.Mu.Unlock()
	if err := fh.opts.FS.Sync(fh.h); err != nil {
		return fh.opts.errno(op, err)
	}
	return 0
}

func (fh *fileHandle) Release(ctx context.Context) syscall.Errno {
	fh.opts.Mu.Lock()
	defer fh.opts.Mu.Unlock()
	if err := fh.opts.FS.Close(fh.h); err != nil {
		return fh.opts.errno("release", err)
	}
	return 0
}
