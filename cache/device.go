// Package cache provides an in-memory block cache for EFS devices.
//
// Wrapping a slow device (a remote image, a flash part behind a narrow bus)
// in a cache Device keeps recently read blocks in memory. Writes go through
// to the underlying device and update any cached copy, so the wrapped device
// always holds the authoritative bytes.
package cache

import (
	"container/list"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/meigma/efs"
)

// DefaultBlockSize is the default block size.
const DefaultBlockSize int64 = 64 << 10

// DefaultMaxBlocks is the default number of cached blocks.
const DefaultMaxBlocks = 256

// DefaultMaxBlocksPerRead caps cached blocks per ReadAt. Larger reads go
// straight to the device.
const DefaultMaxBlocksPerRead = 4

// Device wraps an efs.Device with an LRU cache of fixed-size blocks.
// It is safe for concurrent use if the wrapped device is.
type Device struct {
	dev              efs.Device
	blockSize        int64
	maxBlocks        int
	maxBlocksPerRead int
	logger           *slog.Logger

	mu     sync.Mutex
	blocks map[int64]*list.Element // block index -> element holding *block
	lru    *list.List              // front is most recently used
	epoch  uint64                  // bumped by every write
	stats  Stats

	fetchGroup singleflight.Group // deduplicates concurrent fetches of one block
}

type block struct {
	index int64
	data  []byte
}

// Stats counts cache activity.
type Stats struct {
	Hits      int64
	Misses    int64
	Bypassed  int64
	Evictions int64
}

// Option configures a Device.
type Option func(*Device)

// WithBlockSize sets the block size in bytes.
func WithBlockSize(n int64) Option {
	return func(d *Device) {
		d.blockSize = n
	}
}

// WithMaxBlocks sets the number of blocks kept in memory.
func WithMaxBlocks(n int) Option {
	return func(d *Device) {
		d.maxBlocks = n
	}
}

// WithMaxBlocksPerRead bypasses the cache when a ReadAt spans more than n
// blocks. Values <= 0 disable the limit.
func WithMaxBlocksPerRead(n int) Option {
	return func(d *Device) {
		d.maxBlocksPerRead = n
	}
}

// WithLogger sets the logger for cache diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

// New wraps dev with a block cache.
func New(dev efs.Device, opts ...Option) (*Device, error) {
	if dev == nil {
		return nil, errors.New("block cache: device is nil")
	}
	d := &Device{
		dev:              dev,
		blockSize:        DefaultBlockSize,
		maxBlocks:        DefaultMaxBlocks,
		maxBlocksPerRead: DefaultMaxBlocksPerRead,
		blocks:           make(map[int64]*list.Element),
		lru:              list.New(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.blockSize <= 0 {
		return nil, errors.New("block cache: block size must be > 0")
	}
	if d.blockSize > math.MaxInt32 {
		return nil, errors.New("block cache: block size too large")
	}
	if d.maxBlocks <= 0 {
		return nil, errors.New("block cache: max blocks must be > 0")
	}
	return d, nil
}

func (d *Device) log() *slog.Logger {
	if d.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return d.logger
}

// Size returns the size of the wrapped device.
func (d *Device) Size() int64 {
	return d.dev.Size()
}

// ReadAt reads len(p) bytes at off, filling missing blocks from the device.
func (d *Device) ReadAt(p []byte, off int64) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	size := d.dev.Size()
	if off >= size {
		return 0, io.EOF
	}

	expected := min(int64(len(p)), size-off)
	startBlock := off / d.blockSize
	endBlock := (off + expected - 1) / d.blockSize

	if d.maxBlocksPerRead > 0 && endBlock-startBlock+1 > int64(d.maxBlocksPerRead) {
		d.mu.Lock()
		d.stats.Bypassed++
		d.mu.Unlock()
		return d.dev.ReadAt(p, off)
	}

	var n int64
	for idx := startBlock; idx <= endBlock; idx++ {
		blockStart := idx * d.blockSize
		blockEnd := min(blockStart+d.blockSize, size)

		copyStart := max(off, blockStart)
		copyEnd := min(off+expected, blockEnd)
		dst := p[copyStart-off : copyEnd-off]

		if !d.copyCached(idx, dst, copyStart-blockStart) {
			data, err := d.fetch(idx, blockStart, blockEnd-blockStart)
			if err != nil {
				return int(n), err
			}
			d.mu.Lock()
			copy(dst, data[copyStart-blockStart:])
			d.mu.Unlock()
		}
		n += copyEnd - copyStart
	}

	if expected < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// copyCached copies block idx from offset from into dst if it is cached.
func (d *Device) copyCached(idx int64, dst []byte, from int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	el, ok := d.blocks[idx]
	if !ok {
		return false
	}
	d.lru.MoveToFront(el)
	copy(dst, el.Value.(*block).data[from:]) //nolint:errcheck // list only holds *block
	d.stats.Hits++
	return true
}

// fetch reads block idx from the device and caches it. A block read while a
// write was in flight is returned but not cached.
func (d *Device) fetch(idx, off, length int64) ([]byte, error) {
	result, err, _ := d.fetchGroup.Do(strconv.FormatInt(idx, 10), func() (any, error) {
		d.mu.Lock()
		if el, ok := d.blocks[idx]; ok {
			d.mu.Unlock()
			return el.Value.(*block).data, nil //nolint:errcheck // list only holds *block
		}
		epoch := d.epoch
		d.stats.Misses++
		d.mu.Unlock()

		data := make([]byte, length)
		n, err := d.dev.ReadAt(data, off)
		if err != nil && !(errors.Is(err, io.EOF) && int64(n) == length) {
			return nil, err
		}
		if int64(n) != length {
			return nil, io.ErrUnexpectedEOF
		}

		d.mu.Lock()
		if d.epoch == epoch {
			d.insert(idx, data)
		}
		d.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil //nolint:errcheck // type assertion always succeeds when err is nil
}

// insert adds a block, evicting the least recently used one when full.
// d.mu must be held.
func (d *Device) insert(idx int64, data []byte) {
	if _, ok := d.blocks[idx]; ok {
		return
	}
	for d.lru.Len() >= d.maxBlocks {
		oldest := d.lru.Back()
		d.lru.Remove(oldest)
		delete(d.blocks, oldest.Value.(*block).index) //nolint:errcheck // list only holds *block
		d.stats.Evictions++
	}
	d.blocks[idx] = d.lru.PushFront(&block{index: idx, data: data})
}

// WriteAt writes through to the device and refreshes cached blocks in the
// written range. Blocks are dropped when the device write fails.
func (d *Device) WriteAt(p []byte, off int64) (int, error) {
	n, err := d.dev.WriteAt(p, off)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.epoch++
	if len(p) == 0 {
		return n, err
	}
	startBlock := off / d.blockSize
	endBlock := (off + int64(len(p)) - 1) / d.blockSize
	for idx := startBlock; idx <= endBlock; idx++ {
		el, ok := d.blocks[idx]
		if !ok {
			continue
		}
		if err != nil {
			d.lru.Remove(el)
			delete(d.blocks, idx)
			continue
		}
		blk := el.Value.(*block) //nolint:errcheck // list only holds *block
		blockStart := idx * d.blockSize
		copyStart := max(off, blockStart)
		copyEnd := min(off+int64(len(p)), blockStart+int64(len(blk.data)))
		if copyEnd > copyStart {
			copy(blk.data[copyStart-blockStart:], p[copyStart-off:copyEnd-off])
		}
	}
	if err != nil {
		d.log().Warn("device write failed, dropped cached blocks", "offset", off, "error", err)
	}
	return n, err
}

// Sync syncs the wrapped device if it supports it.
func (d *Device) Sync() error {
	if s, ok := d.dev.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Len returns the number of cached blocks.
func (d *Device) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Interface compliance.
var _ efs.Device = (*Device)(nil)
