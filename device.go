package efs

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/meigma/efs/internal/image"
	"github.com/meigma/efs/internal/platform"
)

// Device is the storage an image lives on.
//
// The filesystem only needs positional reads and writes and the addressable
// size. Errors returned by a Device are passed to callers unchanged.
type Device interface {
	io.ReaderAt
	io.WriterAt
	Size() int64
}

// errDeviceBounds is returned for writes that fall outside a device.
var errDeviceBounds = errors.New("efs: access outside device bounds")

// MemDevice is a Device backed by a byte slice.
type MemDevice struct {
	data []byte
}

// NewMemDevice returns a device over data. The slice is used in place.
func NewMemDevice(data []byte) *MemDevice {
	return &MemDevice{data: data}
}

// ReadAt implements io.ReaderAt.
func (m *MemDevice) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errDeviceBounds
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt. Writes never extend the device.
func (m *MemDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) || int64(len(p)) > int64(len(m.data))-off {
		return 0, errDeviceBounds
	}
	return copy(m.data[off:], p), nil
}

// Size returns the length of the backing slice.
func (m *MemDevice) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the backing slice.
func (m *MemDevice) Bytes() []byte {
	return m.data
}

// FileDevice is a Device backed by a regular file or a raw block device.
type FileDevice struct {
	file *os.File
	size int64
}

// OpenDevice opens the file or block device at path.
// The returned device must be closed to release the file.
func OpenDevice(path string, readOnly bool) (*FileDevice, error) {
	flag := os.O_RDWR
	if readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0) //nolint:gosec // User-provided path is intentional
	if err != nil {
		return nil, fmt.Errorf("open device: %w", err)
	}
	dev, err := NewFileDevice(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return dev, nil
}

// NewFileDevice wraps an open file. The size is captured once; block
// devices are sized with an ioctl since Stat reports zero for them.
func NewFileDevice(f *os.File) (*FileDevice, error) {
	size, err := platform.DeviceSize(f)
	if err != nil {
		return nil, fmt.Errorf("size device: %w", err)
	}
	return &FileDevice{file: f, size: size}, nil
}

// ReadAt implements io.ReaderAt.
func (d *FileDevice) ReadAt(p []byte, off int64) (int, error) {
	return d.file.ReadAt(p, off)
}

// WriteAt implements io.WriterAt. Writes never extend the device.
func (d *FileDevice) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > d.size || int64(len(p)) > d.size-off {
		return 0, errDeviceBounds
	}
	return d.file.WriteAt(p, off)
}

// Size returns the addressable size captured at open.
func (d *FileDevice) Size() int64 {
	return d.size
}

// Sync commits written data to stable storage.
func (d *FileDevice) Sync() error {
	return d.file.Sync()
}

// Close closes the underlying file.
func (d *FileDevice) Close() error {
	return d.file.Close()
}

// Section is a Device window over part of another device, used for images
// embedded inside a larger file.
type Section struct {
	dev  Device
	base int64
	size int64
}

// NewSection returns a device covering size bytes of dev starting at off.
// The window is clipped to the end of dev.
func NewSection(dev Device, off, size int64) *Section {
	if off < 0 {
		off = 0
	}
	if limit := dev.Size() - off; size > limit {
		size = max(limit, 0)
	}
	return &Section{dev: dev, base: off, size: size}
}

// ReadAt implements io.ReaderAt.
func (s *Section) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errDeviceBounds
	}
	if off >= s.size {
		return 0, io.EOF
	}
	if remaining := s.size - off; int64(len(p)) > remaining {
		n, err := s.dev.ReadAt(p[:remaining], s.base+off)
		if err == nil {
			err = io.EOF
		}
		return n, err
	}
	return s.dev.ReadAt(p, s.base+off)
}

// WriteAt implements io.WriterAt.
func (s *Section) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off > s.size || int64(len(p)) > s.size-off {
		return 0, errDeviceBounds
	}
	return s.dev.WriteAt(p, s.base+off)
}

// Size returns the window size.
func (s *Section) Size() int64 {
	return s.size
}

// Locate scans dev on 512-byte boundaries for an image superblock and
// returns its offset. Returns ErrNoArchive when none is found.
func Locate(dev Device) (int64, error) {
	return image.Locate(dev, dev.Size())
}

// Interface compliance.
var (
	_ Device = (*MemDevice)(nil)
	_ Device = (*FileDevice)(nil)
	_ Device = (*Section)(nil)
)
