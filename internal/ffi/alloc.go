package ffi

import (
	"sync/atomic"
	"unsafe"
)

// Allocator hands out native memory that libmpv may read and that never moves.
// Malloc returns zero on failure. Free(0) is a no-op.
type Allocator interface {
	Malloc(size uintptr) uintptr
	Free(ptr uintptr)
}

// Calloc allocates size bytes from a and zeroes them.
func Calloc(a Allocator, size uintptr) uintptr {
	p := a.Malloc(size)
	if p != 0 && size > 0 {
		clear(unsafe.Slice((*byte)(unsafe.Pointer(p)), size))
	}
	return p
}

// CountingAllocator wraps an Allocator and tracks outstanding blocks.
type CountingAllocator struct {
	inner Allocator
	live  atomic.Int64
	total atomic.Uint64
}

// Counted wraps a with allocation counters.
func Counted(a Allocator) *CountingAllocator {
	if c, ok := a.(*CountingAllocator); ok {
		return c
	}
	return &CountingAllocator{inner: a}
}

func (c *CountingAllocator) Malloc(size uintptr) uintptr {
	p := c.inner.Malloc(size)
	if p != 0 {
		c.live.Add(1)
		c.total.Add(1)
	}
	return p
}

func (c *CountingAllocator) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	c.inner.Free(ptr)
	c.live.Add(-1)
}

// Live returns the number of blocks allocated and not yet freed.
func (c *CountingAllocator) Live() int64 { return c.live.Load() }

// Total returns the number of blocks ever allocated.
func (c *CountingAllocator) Total() uint64 { return c.total.Load() }
