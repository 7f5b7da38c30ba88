package efs

import (
	"github.com/meigma/efs/internal/efstype"
	"github.com/meigma/efs/internal/slot"
)

// Re-export types from internal/efstype for the public API.
type (
	// NodeID identifies a file or directory in a mounted image.
	NodeID = efstype.NodeID

	// Kind identifies whether a node is a file or a directory.
	Kind = efstype.Kind

	// Mode selects how a file handle may be used.
	Mode = efstype.Mode
)

// Re-export kind constants.
const (
	KindFile      = efstype.KindFile
	KindDirectory = efstype.KindDirectory
)

// Re-export access modes.
const (
	ModeRead      = efstype.ModeRead
	ModeWrite     = efstype.ModeWrite
	ModeReadWrite = efstype.ModeReadWrite
)

// Handle refers to an open file. The zero Handle is never valid.
//
// Handles are plain values; copying one does not duplicate the open file.
// Once closed, every copy fails with ErrInvalidHandle.
type Handle struct {
	ref slot.Ref
}

// Cursor refers to an open directory enumeration. The zero Cursor is never valid.
type Cursor struct {
	ref slot.Ref
}
