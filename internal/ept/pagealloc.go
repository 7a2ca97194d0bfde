// Package ept builds the extended page table this hypervisor's single
// vCPU uses to map guest-physical addresses onto the host buffer
// backing guest RAM, and registers that buffer with KVM as the memory
// region the hardware MMU actually walks.
package ept

import "fmt"

// PageSize is the page granularity this table maps at. No large-page
// (2 MiB/1 GiB) leaves are ever installed.
const PageSize = 4096

// PageAllocator hands out PageSize-aligned frames carved out of a
// host-owned buffer, for use as EPT intermediate-level tables and as
// the backing store the leaves ultimately point at.
type PageAllocator struct {
	buf  []byte
	next uintptr
}

// NewPageAllocator wraps buf, which must be at least PageSize bytes,
// for page-sized allocation. The allocator never frees: this
// hypervisor tears down its entire address space by exiting.
func NewPageAllocator(buf []byte) *PageAllocator {
	return &PageAllocator{buf: buf}
}

// Alloc returns a zeroed PageSize-aligned page and the offset within
// the wrapped buffer it starts at. It returns an error once the
// buffer is exhausted.
func (a *PageAllocator) Alloc() ([]byte, uintptr, error) {
	start := alignUp(a.next, PageSize)
	end := start + PageSize
	if end > uintptr(len(a.buf)) {
		return nil, 0, fmt.Errorf("ept: page allocator exhausted: need %d bytes at offset %#x, have %d", PageSize, start, len(a.buf))
	}
	page := a.buf[start:end]
	for i := range page {
		page[i] = 0
	}
	a.next = end
	return page, start, nil
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
