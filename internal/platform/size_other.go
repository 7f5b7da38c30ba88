//go:build !linux

package platform

import "os"

// DeviceSize returns the size reported by Stat.
func DeviceSize(f *os.File) (int64, error) {
	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
