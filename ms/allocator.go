// Package ms implements the memory server role: a slab of addressable
// memory (persistent or volatile) with a local allocator, RDMA endpoint
// registration, local atomics, and the ATL recovery/replay workers that
// sit in front of it (spec.md's "Memory Server (MS)").
package ms

import (
	"fmt"
	"sync"

	"github.com/openfam/fam/cmn"
)

// freeBlock is one run of free bytes in the slab's free list.
type freeBlock struct {
	offset int64
	size   int64
}

// Allocator is a simple best-fit free-list allocator over one region's
// per-server slab, enforcing the 64-byte alignment and MIN_OBJ_SIZE floor
// from spec.md §3/§4.1. One Allocator backs one (region_id) on one MS.
type Allocator struct {
	mu       sync.Mutex
	regionID uint64
	capacity int64
	free     []freeBlock
}

// NewAllocator creates an allocator over a freshly created region's
// per-server share, entirely free.
func NewAllocator(regionID uint64, capacity int64) *Allocator {
	return &Allocator{
		regionID: regionID,
		capacity: capacity,
		free:     []freeBlock{{offset: 0, size: capacity}},
	}
}

// Allocate reserves size bytes (rounded up to AllocAlignment, floored at
// MinObjSize) and returns the offset of the reservation, or
// FAM_ERR_REGION_NO_SPACE if no free block is large enough.
func (a *Allocator) Allocate(size int64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := cmn.AlignUp(size, cmn.AllocAlignment)
	if want < cmn.MinObjSize {
		want = cmn.MinObjSize
	}

	bestIdx := -1
	for i, b := range a.free {
		if b.size >= want && (bestIdx == -1 || b.size < a.free[bestIdx].size) {
			bestIdx = i
		}
	}
	if bestIdx == -1 {
		return 0, cmn.ErrRegionNoSpacef(a.regionID)
	}

	b := a.free[bestIdx]
	offset := b.offset
	if b.size == want {
		a.free = append(a.free[:bestIdx], a.free[bestIdx+1:]...)
	} else {
		a.free[bestIdx] = freeBlock{offset: b.offset + want, size: b.size - want}
	}
	return offset, nil
}

// Deallocate returns [offset, offset+size) to the free list, coalescing
// with adjacent free blocks.
func (a *Allocator) Deallocate(offset, size int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	want := cmn.AlignUp(size, cmn.AllocAlignment)
	if want < cmn.MinObjSize {
		want = cmn.MinObjSize
	}
	if offset < 0 || offset+want > a.capacity {
		return cmn.ErrOutOfRangef(offset, want)
	}

	a.free = append(a.free, freeBlock{offset: offset, size: want})
	a.coalesce()
	return nil
}

func (a *Allocator) coalesce() {
	if len(a.free) < 2 {
		return
	}
	sortBlocks(a.free)
	merged := a.free[:1]
	for _, b := range a.free[1:] {
		last := &merged[len(merged)-1]
		if last.offset+last.size == b.offset {
			last.size += b.size
		} else {
			merged = append(merged, b)
		}
	}
	a.free = merged
}

func sortBlocks(blocks []freeBlock) {
	for i := 1; i < len(blocks); i++ {
		for j := i; j > 0 && blocks[j].offset < blocks[j-1].offset; j-- {
			blocks[j], blocks[j-1] = blocks[j-1], blocks[j]
		}
	}
}

// Used reports the bytes currently allocated, for capacity reporting.
func (a *Allocator) Used() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var free int64
	for _, b := range a.free {
		free += b.size
	}
	return a.capacity - free
}

func (a *Allocator) String() string {
	return fmt.Sprintf("allocator(region=%d cap=%d used=%d)", a.regionID, a.capacity, a.Used())
}
