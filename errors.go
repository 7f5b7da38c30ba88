package efs

import (
	"github.com/meigma/efs/internal/efstype"
	"github.com/meigma/efs/internal/image"
)

// Sentinel errors re-exported from internal/efstype.
var (
	// ErrNotFound is returned when a path component does not exist.
	// It matches fs.ErrNotExist.
	ErrNotFound = efstype.ErrNotFound

	// ErrNotADirectory is returned when a directory was required but a file was found.
	ErrNotADirectory = efstype.ErrNotADirectory

	// ErrNotAFile is returned when a file was required but a directory was found.
	ErrNotAFile = efstype.ErrNotAFile

	// ErrOutOfSpace is returned when a write would extend past a file's packed size.
	ErrOutOfSpace = efstype.ErrOutOfSpace

	// ErrInvalidHandle is returned for closed, stale, or never-opened handles and cursors.
	ErrInvalidHandle = efstype.ErrInvalidHandle

	// ErrInvalidMode is returned when a handle is used against its open mode.
	ErrInvalidMode = efstype.ErrInvalidMode

	// ErrInvalidOffset is returned for negative offsets and unknown seek origins.
	ErrInvalidOffset = efstype.ErrInvalidOffset

	// ErrCorruptArchive is returned when an image fails structural validation.
	ErrCorruptArchive = efstype.ErrCorruptArchive

	// ErrEndOfDirectory is returned by Next once a directory is exhausted.
	ErrEndOfDirectory = efstype.ErrEndOfDirectory

	// ErrTooManyOpenFiles is returned when the file handle table is full.
	ErrTooManyOpenFiles = efstype.ErrTooManyOpenFiles

	// ErrTooManyOpenDirs is returned when the directory cursor table is full.
	ErrTooManyOpenDirs = efstype.ErrTooManyOpenDirs

	// ErrUnmounted is returned by operations on an unmounted filesystem.
	ErrUnmounted = efstype.ErrUnmounted

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = efstype.ErrSizeOverflow
)

// ErrNoArchive is returned by Locate when a device holds no image.
var ErrNoArchive = image.ErrNoSuperblock
