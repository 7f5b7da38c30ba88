//go:build linux

package platform

import (
	"fmt"
	"io/fs"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// DeviceSize returns the addressable size of f. Block devices report a
// zero Stat size, so their size is queried with BLKGETSIZE64.
func DeviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	mode := info.Mode()
	if mode&fs.ModeDevice == 0 || mode&fs.ModeCharDevice != 0 {
		return info.Size(), nil
	}

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), unix.BLKGETSIZE64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, fmt.Errorf("BLKGETSIZE64 %s: %w", f.Name(), errno)
	}
	if size > 1<<63-1 {
		return 0, fmt.Errorf("block device %s: size %d too large", f.Name(), size)
	}
	return int64(size), nil
}
