//go:generate flatc --go --go-namespace fb -o internal schema/index.fbs

// Package efs implements an embedded filesystem: a directory tree packed
// into a single archive image on a raw storage device, exposed through
// POSIX-like file and directory operations.
//
// An image consists of three regions:
//   - Superblock: fixed header locating the other regions and recording the index digest
//   - Index: FlatBuffers-encoded node table, stored in pre-order so parents precede children
//   - Data: concatenated file contents in pack order
//
// Mount reads the superblock and index once and returns an [FS]. Every
// operation resolves paths against the in-memory node table; only file
// content on the device changes afterwards. Files can be rewritten in
// place but never grow, and the tree shape is fixed.
//
// An [FS] is a single-threaded context: it is not safe for concurrent use.
// Handles and cursors are generation-checked slots, so a closed handle
// fails with [ErrInvalidHandle] even after its slot is reused.
//
// Images are built with [Builder] and [Pack], or from a host directory with
// [CreateImage]. [FS.IOFS] adapts a mounted image to the io/fs interfaces.
package efs
