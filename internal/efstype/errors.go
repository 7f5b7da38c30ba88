package efstype

import (
	"errors"
	"io/fs"
)

// kindError is a sentinel that also matches a standard io/fs error, so
// callers written against fs.ErrNotExist and friends keep working.
type kindError struct {
	msg string
	std error
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Is(target error) bool { return target == e.std }

// Sentinel errors for filesystem operations.
var (
	// ErrNotFound is returned when a path component does not exist.
	// It matches fs.ErrNotExist.
	ErrNotFound error = &kindError{msg: "efs: no such file or directory", std: fs.ErrNotExist}

	// ErrNotADirectory is returned when a directory was required but a file was found.
	ErrNotADirectory = errors.New("efs: not a directory")

	// ErrNotAFile is returned when a file was required but a directory was found.
	ErrNotAFile = errors.New("efs: is a directory")

	// ErrOutOfSpace is returned when a write would extend past a file's packed size.
	ErrOutOfSpace = errors.New("efs: write exceeds file size")

	// ErrInvalidHandle is returned for closed, stale, or never-opened handles
	// and cursors. It matches fs.ErrClosed.
	ErrInvalidHandle error = &kindError{msg: "efs: invalid handle", std: fs.ErrClosed}

	// ErrInvalidMode is returned when a handle is used against its open mode.
	// It matches fs.ErrPermission.
	ErrInvalidMode error = &kindError{msg: "efs: invalid access mode", std: fs.ErrPermission}

	// ErrInvalidOffset is returned for negative offsets and unknown seek
	// origins. It matches fs.ErrInvalid.
	ErrInvalidOffset error = &kindError{msg: "efs: invalid offset", std: fs.ErrInvalid}

	// ErrCorruptArchive is returned when an image fails structural validation.
	ErrCorruptArchive = errors.New("efs: corrupt archive")

	// ErrEndOfDirectory is returned by Next once a directory is exhausted.
	ErrEndOfDirectory = errors.New("efs: end of directory")

	// ErrTooManyOpenFiles is returned when the file handle table is full.
	ErrTooManyOpenFiles = errors.New("efs: too many open files")

	// ErrTooManyOpenDirs is returned when the directory cursor table is full.
	ErrTooManyOpenDirs = errors.New("efs: too many open directories")

	// ErrUnmounted is returned by operations on an unmounted filesystem.
	ErrUnmounted = errors.New("efs: filesystem unmounted")

	// ErrSizeOverflow is returned when byte counts exceed supported limits.
	ErrSizeOverflow = errors.New("efs: size overflow")
)
