// Package image encodes and locates the EFS superblock, the fixed-size
// header that points at the index and data regions of an archive image.
package image

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/meigma/efs/internal/efstype"
)

const (
	// Magic identifies an EFS image. The last byte is the layout revision.
	Magic = "EFSIMG\x00\x01"

	// Version is the superblock format version.
	Version = 1

	// SuperblockSize is the reserved size of the superblock in bytes.
	SuperblockSize = 128

	// SectorSize is the alignment of the data region and the stride used by Locate.
	SectorSize = 512

	// encodedSize is the number of superblock bytes currently in use.
	encodedSize = 80
)

// ErrNoSuperblock is returned by Locate when no image is found.
var ErrNoSuperblock = errors.New("efs: no archive superblock found")

// Superblock describes where the index and data regions live.
// Offsets are relative to the start of the image.
type Superblock struct {
	Version     uint32
	Flags       uint32
	IndexOffset uint64
	IndexSize   uint64
	DataOffset  uint64
	DataSize    uint64
	IndexSum    [sha256.Size]byte
}

// MarshalBinary encodes the superblock into SuperblockSize bytes.
func (sb *Superblock) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SuperblockSize)
	copy(buf[0:8], Magic)
	binary.LittleEndian.PutUint32(buf[8:12], sb.Version)
	binary.LittleEndian.PutUint32(buf[12:16], sb.Flags)
	binary.LittleEndian.PutUint64(buf[16:24], sb.IndexOffset)
	binary.LittleEndian.PutUint64(buf[24:32], sb.IndexSize)
	binary.LittleEndian.PutUint64(buf[32:40], sb.DataOffset)
	binary.LittleEndian.PutUint64(buf[40:48], sb.DataSize)
	copy(buf[48:encodedSize], sb.IndexSum[:])
	return buf, nil
}

// UnmarshalBinary decodes a superblock, checking magic and version.
func (sb *Superblock) UnmarshalBinary(buf []byte) error {
	if len(buf) < encodedSize {
		return fmt.Errorf("%w: short superblock (%d bytes)", efstype.ErrCorruptArchive, len(buf))
	}
	if !bytes.Equal(buf[0:8], []byte(Magic)) {
		return fmt.Errorf("%w: bad magic", efstype.ErrCorruptArchive)
	}
	sb.Version = binary.LittleEndian.Uint32(buf[8:12])
	if sb.Version != Version {
		return fmt.Errorf("%w: unsupported superblock version %d", efstype.ErrCorruptArchive, sb.Version)
	}
	sb.Flags = binary.LittleEndian.Uint32(buf[12:16])
	sb.IndexOffset = binary.LittleEndian.Uint64(buf[16:24])
	sb.IndexSize = binary.LittleEndian.Uint64(buf[24:32])
	sb.DataOffset = binary.LittleEndian.Uint64(buf[32:40])
	sb.DataSize = binary.LittleEndian.Uint64(buf[40:48])
	copy(sb.IndexSum[:], buf[48:encodedSize])
	return nil
}

// Validate checks that both regions lie inside an image of imageSize bytes
// and do not overlap the superblock or each other.
func (sb *Superblock) Validate(imageSize int64) error {
	if imageSize < SuperblockSize {
		return fmt.Errorf("%w: image of %d bytes is smaller than a superblock", efstype.ErrCorruptArchive, imageSize)
	}
	limit := uint64(imageSize)
	indexEnd, ok := add(sb.IndexOffset, sb.IndexSize)
	if !ok || sb.IndexOffset < SuperblockSize || indexEnd > limit || sb.IndexSize == 0 {
		return fmt.Errorf("%w: index region [%d, +%d) outside image of %d bytes", efstype.ErrCorruptArchive, sb.IndexOffset, sb.IndexSize, imageSize)
	}
	dataEnd, ok := add(sb.DataOffset, sb.DataSize)
	if !ok || sb.DataOffset < SuperblockSize || dataEnd > limit {
		return fmt.Errorf("%w: data region [%d, +%d) outside image of %d bytes", efstype.ErrCorruptArchive, sb.DataOffset, sb.DataSize, imageSize)
	}
	if sb.DataSize > 0 && sb.IndexOffset < dataEnd && sb.DataOffset < indexEnd {
		return fmt.Errorf("%w: index and data regions overlap", efstype.ErrCorruptArchive)
	}
	return nil
}

// Checksum returns the digest recorded for index bytes.
func Checksum(index []byte) [sha256.Size]byte {
	return sha256.Sum256(index)
}

// Read decodes and validates the superblock at the start of r.
func Read(r io.ReaderAt, imageSize int64) (*Superblock, error) {
	buf := make([]byte, SuperblockSize)
	if imageSize < SuperblockSize {
		return nil, fmt.Errorf("%w: image of %d bytes is smaller than a superblock", efstype.ErrCorruptArchive, imageSize)
	}
	if err := readFull(r, buf, 0); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	sb := &Superblock{}
	if err := sb.UnmarshalBinary(buf); err != nil {
		return nil, err
	}
	if err := sb.Validate(imageSize); err != nil {
		return nil, err
	}
	return sb, nil
}

// Locate scans r on SectorSize boundaries for a valid superblock and
// returns its offset. Archives appended to a larger image (for example a
// ROM) are found this way.
func Locate(r io.ReaderAt, size int64) (int64, error) {
	buf := make([]byte, SuperblockSize)
	for off := int64(0); off+SuperblockSize <= size; off += SectorSize {
		if err := readFull(r, buf[:len(Magic)], off); err != nil {
			return 0, fmt.Errorf("scan at %d: %w", off, err)
		}
		if !bytes.Equal(buf[:len(Magic)], []byte(Magic)) {
			continue
		}
		if err := readFull(r, buf, off); err != nil {
			return 0, fmt.Errorf("scan at %d: %w", off, err)
		}
		var sb Superblock
		if sb.UnmarshalBinary(buf) != nil || sb.Validate(size-off) != nil {
			continue
		}
		return off, nil
	}
	return 0, ErrNoSuperblock
}

// ReadFull reads exactly len(p) bytes at off. A trailing io.EOF on a
// complete read is not an error.
func ReadFull(r io.ReaderAt, p []byte, off int64) error {
	return readFull(r, p, off)
}

func readFull(r io.ReaderAt, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil || err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// AlignUp rounds n up to the next multiple of align.
func AlignUp(n, align uint64) uint64 {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func add(a, b uint64) (uint64, bool) {
	sum := a + b
	return sum, sum >= a
}
