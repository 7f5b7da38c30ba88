// Package index loads and validates the FlatBuffers node table of an EFS
// image and resolves paths against it.
//
// The index is parsed once into an in-memory table of nodes addressed by
// NodeID. The tree shape never changes after Load; only file content on
// the backing device is mutable.
package index
