// Package testutil provides devices and image builders for tests.
package testutil

import (
	"errors"
	"io"
)

// ErrOutOfRange is returned by MockDevice for accesses past its end.
var ErrOutOfRange = errors.New("testutil: access out of range")

// MockDevice implements an in-memory device with fault injection and
// operation counters.
type MockDevice struct {
	data []byte

	// ReadErr, when set, is returned by every ReadAt.
	ReadErr error

	// WriteErr, when set, is returned by every WriteAt.
	WriteErr error

	// Reads and Writes count calls; WrittenBytes sums successful writes.
	Reads        int
	Writes       int
	WrittenBytes int
}

// NewMockDevice returns a device backed by the provided data.
func NewMockDevice(data []byte) *MockDevice {
	return &MockDevice{data: data}
}

// ReadAt implements io.ReaderAt semantics over the backing slice.
func (m *MockDevice) ReadAt(p []byte, off int64) (int, error) {
	m.Reads++
	if m.ReadErr != nil {
		return 0, m.ReadErr
	}
	if off < 0 {
		return 0, ErrOutOfRange
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if off+int64(n) >= int64(len(m.data)) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes into the backing slice without growing it.
func (m *MockDevice) WriteAt(p []byte, off int64) (int, error) {
	m.Writes++
	if m.WriteErr != nil {
		return 0, m.WriteErr
	}
	if off < 0 || off+int64(len(p)) > int64(len(m.data)) {
		return 0, ErrOutOfRange
	}
	n := copy(m.data[off:], p)
	m.WrittenBytes += n
	return n, nil
}

// Size returns the total size of the backing data.
func (m *MockDevice) Size() int64 {
	return int64(len(m.data))
}

// Bytes returns the backing slice for tests that need to inspect or mutate data.
func (m *MockDevice) Bytes() []byte {
	return m.data
}
