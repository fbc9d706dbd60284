package ffi

import (
	"fmt"
	"os"
	"sync"
)

// PageAllocator gives every block its own page-aligned mapping. A use after
// Free faults instead of reading stale data, and freeing an address twice
// panics. It is meant for debugging and tests, not throughput.
type PageAllocator struct {
	mu     sync.Mutex
	blocks map[uintptr]pageBlock
}

type pageBlock struct {
	mapping []byte
	size    uintptr
}

// NewPageAllocator returns an empty PageAllocator.
func NewPageAllocator() *PageAllocator {
	return &PageAllocator{blocks: make(map[uintptr]pageBlock)}
}

func (a *PageAllocator) Malloc(size uintptr) uintptr {
	page := uintptr(os.Getpagesize())
	length := (size + page - 1) / page * page
	if length == 0 {
		length = page
	}
	mapping, err := mapPages(int(length))
	if err != nil {
		return 0
	}
	p := mappingAddr(mapping)

	a.mu.Lock()
	a.blocks[p] = pageBlock{mapping: mapping, size: size}
	a.mu.Unlock()
	return p
}

func (a *PageAllocator) Free(ptr uintptr) {
	if ptr == 0 {
		return
	}
	a.mu.Lock()
	b, ok := a.blocks[ptr]
	delete(a.blocks, ptr)
	a.mu.Unlock()

	if !ok {
		panic(fmt.Sprintf("ffi: free of unknown or already freed pointer %#x", ptr))
	}
	if err := unmapPages(b.mapping); err != nil {
		panic(fmt.Sprintf("ffi: unmap %#x: %v", ptr, err))
	}
}

// Live returns the number of blocks not yet freed.
func (a *PageAllocator) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.blocks)
}

// Size returns the size requested for the live block at ptr, or zero.
func (a *PageAllocator) Size(ptr uintptr) uintptr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.blocks[ptr].size
}

// Owns reports whether ptr is a live block of this allocator.
func (a *PageAllocator) Owns(ptr uintptr) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.blocks[ptr]
	return ok
}
