//go:build linux || darwin

package daystats

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// mmapRegion wraps a memory-mapped file region. The kernel requires the map
// offset to be a multiple of the system page size, so region records both
// the page-aligned mapping and the caller's real start/length within it.
type mmapRegion struct {
	mapping []byte // the full page-aligned mmap
	start   int    // offset of the requested data within mapping
	length  int    // length of the requested data
}

// mapFile memory-maps [offset, offset+length) of f read-only, aligning the
// mmap call to the system page size and retaining the real start/length so
// Bytes returns exactly the requested region.
func mapFile(f *os.File, offset, length int64) (*mmapRegion, error) {
	pageSize := int64(os.Getpagesize())
	alignedOffset := (offset / pageSize) * pageSize
	pad := offset - alignedOffset

	mapping, err := unix.Mmap(int(f.Fd()), alignedOffset, int(length+pad), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("daystats: mmap: %w", err)
	}

	return &mmapRegion{mapping: mapping, start: int(pad), length: int(length)}, nil
}

// Bytes returns the requested region (not the page-aligned padding).
func (r *mmapRegion) Bytes() []byte {
	return r.mapping[r.start : r.start+r.length]
}

// Close unmaps the underlying page-aligned mapping.
func (r *mmapRegion) Close() error {
	return unix.Munmap(r.mapping)
}
