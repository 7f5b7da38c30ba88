// Package efstype holds the types and sentinel errors shared between the
// public efs package and its internal packages.
package efstype

import "io/fs"

// Kind identifies whether a node is a file or a directory.
type Kind uint8

const (
	KindFile Kind = iota
	KindDirectory
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "unknown"
	}
}

// Mode returns the synthesized permission bits for a node of this kind.
func (k Kind) Mode() fs.FileMode {
	if k == KindDirectory {
		return fs.ModeDir | 0o755
	}
	return 0o644
}

// NodeID identifies a node in the archive index.
type NodeID uint32

// Mode selects how a file handle may be used.
type Mode uint8

// Access modes for file handles.
const (
	ModeRead Mode = 1 << iota
	ModeWrite

	ModeReadWrite = ModeRead | ModeWrite
)

// Valid reports whether m is one of the defined access modes.
func (m Mode) Valid() bool {
	return m == ModeRead || m == ModeWrite || m == ModeReadWrite
}

// CanRead reports whether the mode permits reading.
func (m Mode) CanRead() bool { return m&ModeRead != 0 }

// CanWrite reports whether the mode permits writing.
func (m Mode) CanWrite() bool { return m&ModeWrite != 0 }

// String returns the fopen-style name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "r"
	case ModeWrite:
		return "w"
	case ModeReadWrite:
		return "r+"
	default:
		return "invalid"
	}
}
