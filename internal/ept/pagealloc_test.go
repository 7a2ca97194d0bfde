package ept

import "testing"

func TestPageAllocatorReturnsZeroedPages(t *testing.T) {
	buf := make([]byte, 2*PageSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	a := NewPageAllocator(buf)

	page, off, err := a.Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if off != 0 {
		t.Fatalf("first allocation offset = %#x, want 0", off)
	}
	for i, b := range page {
		if b != 0 {
			t.Fatalf("page[%d] = %#x, want zeroed", i, b)
		}
	}
}

func TestPageAllocatorAdvances(t *testing.T) {
	a := NewPageAllocator(make([]byte, 2*PageSize))
	_, first, err := a.Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	_, second, err := a.Alloc()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second != first+PageSize {
		t.Fatalf("second offset = %#x, want %#x", second, first+PageSize)
	}
}

func TestPageAllocatorExhaustion(t *testing.T) {
	a := NewPageAllocator(make([]byte, PageSize))
	if _, _, err := a.Alloc(); err != nil {
		t.Fatalf("first allocation should succeed: %v", err)
	}
	if _, _, err := a.Alloc(); err == nil {
		t.Fatal("expected error once the buffer is exhausted")
	}
}
