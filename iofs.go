package efs

import (
	"errors"
	"io"
	"io/fs"
	"path"
	"slices"
	"strings"
)

// ioFS adapts a mounted FS to the io/fs interfaces. Names are resolved
// from the root and follow fs.ValidPath rules; the working directory of
// the FS is not consulted.
type ioFS struct {
	fsys *FS
}

// Interface compliance.
var (
	_ fs.FS          = ioFS{}
	_ fs.StatFS      = ioFS{}
	_ fs.ReadFileFS  = ioFS{}
	_ fs.ReadDirFS   = ioFS{}
	_ fs.ReadDirFile = (*ioDir)(nil)
)

// IOFS returns a read-only fs.FS view of the filesystem.
//
// Files opened through the view hold a file handle and directories hold a
// cursor until closed, so the handle and cursor limits apply.
func (f *FS) IOFS() fs.FS {
	return ioFS{fsys: f}
}

// absPath maps an fs.FS name to an absolute archive path.
func absPath(name string) string {
	if name == "." {
		return "/"
	}
	return "/" + name
}

func (v ioFS) resolve(op, name string) (NodeID, error) {
	if !fs.ValidPath(name) {
		return 0, &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	if v.fsys.idx == nil {
		return 0, &fs.PathError{Op: op, Path: name, Err: ErrUnmounted}
	}
	id, err := v.fsys.idx.Resolve(absPath(name), v.fsys.idx.Root())
	if err != nil {
		return 0, &fs.PathError{Op: op, Path: name, Err: err}
	}
	return id, nil
}

// Open implements fs.FS.
func (v ioFS) Open(name string) (fs.File, error) {
	id, err := v.resolve("open", name)
	if err != nil {
		return nil, err
	}
	st, err := v.fsys.Stat(id)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	if !st.IsDir() {
		return v.openFile(name)
	}
	c, err := v.fsys.OpenDirNode(id)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &ioDir{fsys: v.fsys, c: c, name: name, st: st}, nil
}

func (v ioFS) openFile(name string) (*File, error) {
	h, err := v.fsys.Open(absPath(name), ModeRead)
	if err != nil {
		var pe *fs.PathError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		return nil, &fs.PathError{Op: "open", Path: name, Err: err}
	}
	return &File{fsys: v.fsys, h: h, name: name}, nil
}

// Stat implements fs.StatFS.
func (v ioFS) Stat(name string) (fs.FileInfo, error) {
	id, err := v.resolve("stat", name)
	if err != nil {
		return nil, err
	}
	st, err := v.fsys.Stat(id)
	if err != nil {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: err}
	}
	return fileInfo{name: path.Base(name), st: st}, nil
}

// ReadFile implements fs.ReadFileFS.
func (v ioFS) ReadFile(name string) ([]byte, error) {
	id, err := v.resolve("readfile", name)
	if err != nil {
		return nil, err
	}
	st, err := v.fsys.Stat(id)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	if st.IsDir() {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: ErrNotAFile}
	}
	f, err := v.openFile(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := make([]byte, st.Size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return buf, nil
}

// ReadDir implements fs.ReadDirFS. Entries are sorted by name.
func (v ioFS) ReadDir(name string) ([]fs.DirEntry, error) {
	id, err := v.resolve("readdir", name)
	if err != nil {
		return nil, err
	}
	c, err := v.fsys.OpenDirNode(id)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	defer v.fsys.CloseDir(c) //nolint:errcheck // cursor is known valid

	entries, err := readEntries(v.fsys, c, -1)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// readEntries drains up to n entries from c; n <= 0 reads all.
func readEntries(f *FS, c Cursor, n int) ([]fs.DirEntry, error) {
	entries := make([]fs.DirEntry, 0)
	for n <= 0 || len(entries) < n {
		e, err := f.Next(c)
		if errors.Is(err, ErrEndOfDirectory) {
			break
		}
		if err != nil {
			return entries, err
		}
		entries = append(entries, dirEntry{st: e.Stat})
	}
	return entries, nil
}

// ioDir is an open directory in the io/fs view.
type ioDir struct {
	fsys *FS
	c    Cursor
	name string
	st   Stat
}

func (d *ioDir) Stat() (fs.FileInfo, error) {
	return fileInfo{name: path.Base(d.name), st: d.st}, nil
}

func (d *ioDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.name, Err: ErrNotAFile}
}

// ReadDir implements fs.ReadDirFile.
func (d *ioDir) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := readEntries(d.fsys, d.c, n)
	if err != nil {
		return entries, &fs.PathError{Op: "readdir", Path: d.name, Err: err}
	}
	if n > 0 && len(entries) == 0 {
		return nil, io.EOF
	}
	return entries, nil
}

func (d *ioDir) Close() error {
	if err := d.fsys.CloseDir(d.c); err != nil {
		return &fs.PathError{Op: "close", Path: d.name, Err: err}
	}
	return nil
}

// dirEntry implements fs.DirEntry.
type dirEntry struct {
	st Stat
}

func (e dirEntry) Name() string               { return e.st.Name }
func (e dirEntry) IsDir() bool                { return e.st.IsDir() }
func (e dirEntry) Type() fs.FileMode          { return e.st.Mode().Type() }
func (e dirEntry) Info() (fs.FileInfo, error) { return e.st.FileInfo(), nil }
