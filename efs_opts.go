package efs

import "log/slog"

// Defaults used when no option overrides them.
const (
	DefaultMaxOpenFiles    = 32
	DefaultMaxOpenDirs     = 16
	DefaultWriteBufferSize = 512
)

// Option configures Mount.
type Option func(*FS)

// WithLogger sets a logger for the filesystem.
// If nil, a discard logger is used (default behavior).
func WithLogger(logger *slog.Logger) Option {
	return func(f *FS) {
		f.logger = logger
	}
}

// WithMaxOpenFiles sets the capacity of the file handle table.
// Open fails with ErrTooManyOpenFiles once it is full.
func WithMaxOpenFiles(n int) Option {
	return func(f *FS) {
		if n > 0 {
			f.maxOpenFiles = n
		}
	}
}

// WithMaxOpenDirs sets the capacity of the directory cursor table.
func WithMaxOpenDirs(n int) Option {
	return func(f *FS) {
		if n > 0 {
			f.maxOpenDirs = n
		}
	}
}

// WithWriteBufferSize sets the per-handle write buffer size.
//
// Sequential writes smaller than size are coalesced and reach the device on
// Sync, Close, a read through the same handle, or when the buffer fills.
// Zero writes through to the device on every call.
func WithWriteBufferSize(size int) Option {
	return func(f *FS) {
		if size >= 0 {
			f.writeBufferSize = size
		}
	}
}

// WithSearch makes Mount scan the device for the superblock instead of
// expecting it at offset zero. Use it for images embedded in a larger file.
func WithSearch(enabled bool) Option {
	return func(f *FS) {
		f.search = enabled
	}
}
