package bootinfo

import (
	"errors"
	"testing"
)

// TestInvalidMagicRejected is spec.md §8 scenario 1.
func TestInvalidMagicRejected(t *testing.T) {
	info := New(nil, GuestInfo{Image: []byte{0x7F, 'E', 'L', 'F'}}, 0)
	info.Magic = 0

	if err := info.Validate(); !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("got %v, want ErrInvalidMagic", err)
	}
}

func TestValidInfoPasses(t *testing.T) {
	info := New(nil, GuestInfo{Image: []byte{0x7F, 'E', 'L', 'F'}}, 0x1000)
	if err := info.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestEmptyGuestImageRejected(t *testing.T) {
	info := New(nil, GuestInfo{}, 0)
	if err := info.Validate(); err == nil {
		t.Fatal("expected error for empty guest image")
	}
}

func TestUsablePagesSumsOnlyUsableEntries(t *testing.T) {
	info := New([]MemoryMapEntry{
		{PhysStart: 0, Pages: 10, Usable: true},
		{PhysStart: 0x10000, Pages: 5, Usable: false},
		{PhysStart: 0x20000, Pages: 3, Usable: true},
	}, GuestInfo{Image: []byte{1}}, 0)

	if got := info.UsablePages(); got != 13 {
		t.Fatalf("UsablePages() = %d, want 13", got)
	}
}
