package efs

import "io/fs"

// openDir is the state behind a Cursor.
type openDir struct {
	dir  NodeID
	next int
}

// DirEntry is one entry produced by Next.
type DirEntry struct {
	Name string
	Stat Stat
}

// OpenDir opens the directory at path for enumeration. The cursor starts
// before the first entry.
func (f *FS) OpenDir(path string) (Cursor, error) {
	id, _, err := f.lookup(path)
	if err != nil {
		return Cursor{}, &fs.PathError{Op: "opendir", Path: path, Err: err}
	}
	c, err := f.OpenDirNode(id)
	if err != nil {
		return Cursor{}, &fs.PathError{Op: "opendir", Path: path, Err: err}
	}
	return c, nil
}

// OpenDirNode opens the directory id for enumeration.
func (f *FS) OpenDirNode(id NodeID) (Cursor, error) {
	if f.idx == nil {
		return Cursor{}, ErrUnmounted
	}
	node, ok := f.idx.Node(id)
	if !ok {
		return Cursor{}, ErrNotFound
	}
	if !node.IsDir() {
		return Cursor{}, ErrNotADirectory
	}
	ref, ok := f.dirs.Alloc(openDir{dir: id})
	if !ok {
		return Cursor{}, ErrTooManyOpenDirs
	}
	return Cursor{ref: ref}, nil
}

func (f *FS) dir(c Cursor) (*openDir, error) {
	if f.idx == nil {
		return nil, ErrUnmounted
	}
	od, ok := f.dirs.Get(c.ref)
	if !ok {
		return nil, ErrInvalidHandle
	}
	return od, nil
}

// Next returns the next entry in pack order. Once the directory is
// exhausted it returns ErrEndOfDirectory on every call until Reset.
func (f *FS) Next(c Cursor) (DirEntry, error) {
	od, err := f.dir(c)
	if err != nil {
		return DirEntry{}, err
	}
	node, _ := f.idx.Node(od.dir)
	if od.next >= len(node.Children) {
		return DirEntry{}, ErrEndOfDirectory
	}
	st, err := f.Stat(node.Children[od.next])
	if err != nil {
		return DirEntry{}, err
	}
	od.next++
	return DirEntry{Name: st.Name, Stat: st}, nil
}

// Reset rewinds c to before the first entry.
func (f *FS) Reset(c Cursor) error {
	od, err := f.dir(c)
	if err != nil {
		return err
	}
	od.next = 0
	return nil
}

// CloseDir releases c.
func (f *FS) CloseDir(c Cursor) error {
	if _, err := f.dir(c); err != nil {
		return err
	}
	f.dirs.Release(c.ref)
	return nil
}
