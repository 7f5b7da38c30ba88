package efs

import (
	"io"
	"io/fs"

	"github.com/meigma/efs/internal/image"
)

// openFile is the state behind a Handle.
type openFile struct {
	node NodeID
	base int64 // device offset of the first content byte
	size int64
	pos  int64
	mode Mode

	// pending holds buffered writes starting at pendingOff.
	pending    []byte
	pendingOff int64
}

// Open opens the file at path and returns a handle positioned at offset 0.
func (f *FS) Open(path string, mode Mode) (Handle, error) {
	if f.idx == nil {
		return Handle{}, &fs.PathError{Op: "open", Path: path, Err: ErrUnmounted}
	}
	id, _, err := f.lookup(path)
	if err != nil {
		return Handle{}, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	h, err := f.OpenNode(id, mode)
	if err != nil {
		return Handle{}, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	return h, nil
}

// OpenNode opens the file id.
func (f *FS) OpenNode(id NodeID, mode Mode) (Handle, error) {
	if f.idx == nil {
		return Handle{}, ErrUnmounted
	}
	if !mode.Valid() {
		return Handle{}, ErrInvalidMode
	}
	node, ok := f.idx.Node(id)
	if !ok {
		return Handle{}, ErrNotFound
	}
	if node.IsDir() {
		return Handle{}, ErrNotAFile
	}

	ref, ok := f.files.Alloc(openFile{
		node: id,
		base: int64(f.sb.DataOffset + node.Offset), //nolint:gosec // bounded by device size at mount
		size: int64(node.Size),                     //nolint:gosec // file sizes fit in uint32
		mode: mode,
	})
	if !ok {
		return Handle{}, ErrTooManyOpenFiles
	}
	f.log().Debug("opened file", "node", id, "name", node.Name, "mode", mode.String())
	return Handle{ref: ref}, nil
}

// file returns the state of h.
func (f *FS) file(h Handle) (*openFile, error) {
	if f.idx == nil {
		return nil, ErrUnmounted
	}
	of, ok := f.files.Get(h.ref)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return of, nil
}

// Read reads up to len(p) bytes at the handle position and advances it.
//
// Read returns 0, nil at end of file. Pending writes of the same handle
// are flushed first so the handle always reads its own writes.
func (f *FS) Read(h Handle, p []byte) (int, error) {
	of, err := f.file(h)
	if err != nil {
		return 0, err
	}
	n, err := f.readAt(of, p, of.pos)
	of.pos += int64(n)
	return n, err
}

// ReadAt reads up to len(p) bytes at off without moving the handle position.
// It returns 0, nil when off is at or past the end of the file.
func (f *FS) ReadAt(h Handle, p []byte, off int64) (int, error) {
	of, err := f.file(h)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	return f.readAt(of, p, off)
}

func (f *FS) readAt(of *openFile, p []byte, off int64) (int, error) {
	if !of.mode.CanRead() {
		return 0, ErrInvalidMode
	}
	if err := f.flush(of); err != nil {
		return 0, err
	}
	if off >= of.size || len(p) == 0 {
		return 0, nil
	}
	n := min(int64(len(p)), of.size-off)
	if err := image.ReadFull(f.dev, p[:n], of.base+off); err != nil {
		return 0, err
	}
	return int(n), nil
}

// Write writes p at the handle position and advances it.
//
// A write that would end past the file's packed size is rejected in full
// with ErrOutOfSpace and changes nothing. Writes may be held in the handle's
// buffer until Sync or Close.
func (f *FS) Write(h Handle, p []byte) (int, error) {
	of, err := f.file(h)
	if err != nil {
		return 0, err
	}
	if err := f.writeAt(of, p, of.pos); err != nil {
		return 0, err
	}
	of.pos += int64(len(p))
	return len(p), nil
}

// WriteAt writes p at off without moving the handle position.
func (f *FS) WriteAt(h Handle, p []byte, off int64) (int, error) {
	of, err := f.file(h)
	if err != nil {
		return 0, err
	}
	if off < 0 {
		return 0, ErrInvalidOffset
	}
	if err := f.writeAt(of, p, off); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (f *FS) writeAt(of *openFile, p []byte, off int64) error {
	if !of.mode.CanWrite() {
		return ErrInvalidMode
	}
	if off > of.size || int64(len(p)) > of.size-off {
		return ErrOutOfSpace
	}
	if len(p) == 0 {
		return nil
	}

	if f.writeBufferSize == 0 || len(p) >= f.writeBufferSize {
		if err := f.flush(of); err != nil {
			return err
		}
		return f.writeDevice(of, p, off)
	}

	adjacent := of.pendingOff+int64(len(of.pending)) == off
	if len(of.pending) > 0 && (!adjacent || len(of.pending)+len(p) > f.writeBufferSize) {
		if err := f.flush(of); err != nil {
			return err
		}
	}
	if of.pending == nil {
		of.pending = make([]byte, 0, f.writeBufferSize)
	}
	if len(of.pending) == 0 {
		of.pendingOff = off
	}
	of.pending = append(of.pending, p...)
	return nil
}

// flush writes the pending buffer of of to the device. On failure the
// buffer is kept so a later Sync can retry.
func (f *FS) flush(of *openFile) error {
	if len(of.pending) == 0 {
		return nil
	}
	if err := f.writeDevice(of, of.pending, of.pendingOff); err != nil {
		return err
	}
	of.pending = of.pending[:0]
	return nil
}

func (f *FS) writeDevice(of *openFile, p []byte, off int64) error {
	n, err := f.dev.WriteAt(p, of.base+off)
	if err != nil {
		return err
	}
	if n < len(p) {
		return io.ErrShortWrite
	}
	return nil
}

// Seek sets the handle position relative to whence and returns it.
// The result is clamped to [0, size].
func (f *FS) Seek(h Handle, offset int64, whence int) (int64, error) {
	of, err := f.file(h)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = of.pos
	case io.SeekEnd:
		base = of.size
	default:
		return 0, ErrInvalidOffset
	}
	switch {
	case offset > of.size-base:
		of.pos = of.size
	case offset < -base:
		of.pos = 0
	default:
		of.pos = base + offset
	}
	return of.pos, nil
}

// Tell returns the handle position.
func (f *FS) Tell(h Handle) (int64, error) {
	of, err := f.file(h)
	if err != nil {
		return 0, err
	}
	return of.pos, nil
}

// Sync flushes the pending writes of h and, when the device supports it,
// commits them to stable storage.
func (f *FS) Sync(h Handle) error {
	of, err := f.file(h)
	if err != nil {
		return err
	}
	if err := f.flush(of); err != nil {
		return err
	}
	if s, ok := f.dev.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close flushes pending writes and releases h. The handle is released even
// when the flush fails; the flush error is returned.
func (f *FS) Close(h Handle) error {
	of, err := f.file(h)
	if err != nil {
		return err
	}
	flushErr := f.flush(of)
	if flushErr != nil {
		f.log().Warn("flush on close failed", "path", f.idx.Path(of.node), "error", flushErr)
	}
	f.files.Release(h.ref)
	f.log().Debug("closed file", "node", of.node)
	return flushErr
}

// HandleStat returns the metadata of the file behind h.
func (f *FS) HandleStat(h Handle) (Stat, error) {
	of, err := f.file(h)
	if err != nil {
		return Stat{}, err
	}
	return f.Stat(of.node)
}

// File is an open file with io-style methods. It wraps a Handle.
type File struct {
	fsys *FS
	h    Handle
	name string
}

// Interface compliance.
var (
	_ fs.File     = (*File)(nil)
	_ io.ReaderAt = (*File)(nil)
	_ io.WriterAt = (*File)(nil)
	_ io.Seeker   = (*File)(nil)
	_ io.Writer   = (*File)(nil)
)

// OpenFile opens path and wraps the handle in a File.
func (f *FS) OpenFile(path string, mode Mode) (*File, error) {
	h, err := f.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &File{fsys: f, h: h, name: path}, nil
}

// Handle returns the underlying handle.
func (fl *File) Handle() Handle {
	return fl.h
}

// Name returns the path the file was opened with.
func (fl *File) Name() string {
	return fl.name
}

// Read implements io.Reader.
func (fl *File) Read(p []byte) (int, error) {
	n, err := fl.fsys.Read(fl.h, p)
	if err != nil {
		return n, fl.wrap("read", err)
	}
	if n == 0 && len(p) > 0 {
		return 0, io.EOF
	}
	return n, nil
}

// ReadAt implements io.ReaderAt.
func (fl *File) ReadAt(p []byte, off int64) (int, error) {
	n, err := fl.fsys.ReadAt(fl.h, p, off)
	if err != nil {
		return n, fl.wrap("read", err)
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Write implements io.Writer.
func (fl *File) Write(p []byte) (int, error) {
	n, err := fl.fsys.Write(fl.h, p)
	if err != nil {
		return n, fl.wrap("write", err)
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (fl *File) WriteAt(p []byte, off int64) (int, error) {
	n, err := fl.fsys.WriteAt(fl.h, p, off)
	if err != nil {
		return n, fl.wrap("write", err)
	}
	return n, nil
}

// Seek implements io.Seeker.
func (fl *File) Seek(offset int64, whence int) (int64, error) {
	n, err := fl.fsys.Seek(fl.h, offset, whence)
	if err != nil {
		return n, fl.wrap("seek", err)
	}
	return n, nil
}

// Stat returns the file's metadata.
func (fl *File) Stat() (fs.FileInfo, error) {
	st, err := fl.fsys.HandleStat(fl.h)
	if err != nil {
		return nil, fl.wrap("stat", err)
	}
	return st.FileInfo(), nil
}

// Sync flushes pending writes.
func (fl *File) Sync() error {
	if err := fl.fsys.Sync(fl.h); err != nil {
		return fl.wrap("sync", err)
	}
	return nil
}

// Close flushes pending writes and releases the handle.
func (fl *File) Close() error {
	if err := fl.fsys.Close(fl.h); err != nil {
		return fl.wrap("close", err)
	}
	return nil
}

func (fl *File) wrap(op string, err error) error {
	return &fs.PathError{Op: op, Path: fl.name, Err: err}
}
