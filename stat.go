package efs

import (
	"io/fs"
	"time"
)

// Stat is the metadata of a node.
type Stat struct {
	ID   NodeID
	Name string
	Kind Kind
	// Size is the packed size for files and 0 for directories.
	Size uint32
}

// IsDir reports whether the node is a directory.
func (s Stat) IsDir() bool {
	return s.Kind == KindDirectory
}

// Mode returns fs.ModeDir|0o755 for directories and 0o644 for files.
func (s Stat) Mode() fs.FileMode {
	return s.Kind.Mode()
}

// FileInfo adapts s to fs.FileInfo.
func (s Stat) FileInfo() fs.FileInfo {
	return fileInfo{name: s.Name, st: s}
}

// Stat returns the metadata of id. Unknown IDs return ErrNotFound.
func (f *FS) Stat(id NodeID) (Stat, error) {
	if f.idx == nil {
		return Stat{}, ErrUnmounted
	}
	node, ok := f.idx.Node(id)
	if !ok {
		return Stat{}, ErrNotFound
	}
	st := Stat{ID: id, Name: node.Name, Kind: node.Kind}
	if !node.IsDir() {
		st.Size = uint32(node.Size) //nolint:gosec // validated at mount
	}
	return st, nil
}

// StatPath resolves path and returns its metadata.
func (f *FS) StatPath(path string) (Stat, error) {
	id, _, err := f.lookup(path)
	if err != nil {
		return Stat{}, &fs.PathError{Op: "stat", Path: path, Err: err}
	}
	return f.Stat(id)
}

// fileInfo implements fs.FileInfo over a Stat.
type fileInfo struct {
	name string
	st   Stat
}

var _ fs.FileInfo = fileInfo{}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return int64(fi.st.Size) }
func (fi fileInfo) Mode() fs.FileMode  { return fi.st.Mode() }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return fi.st.IsDir() }
func (fi fileInfo) Sys() any           { return fi.st }
