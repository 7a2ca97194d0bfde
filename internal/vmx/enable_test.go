package vmx

import "testing"

func TestAdjustFixedBits(t *testing.T) {
	// fixed0 bit 0 mandatory-1, fixed1 bit 3 mandatory-0 (since bit 3
	// is clear in fixed1, meaning it must be zero).
	const fixed0 = 1 << 0
	const fixed1 = ^uint64(1 << 3)

	got := adjustFixedBits(0, fixed0, fixed1)
	if got&(1<<0) == 0 {
		t.Fatalf("mandatory-1 bit not set: %#x", got)
	}
	if got&(1<<3) != 0 {
		t.Fatalf("mandatory-0 bit not cleared: %#x", got)
	}
}

func TestAdjustFixedBitsPreservesDesired(t *testing.T) {
	fixed0 := uint64(0)
	fixed1 := ^uint64(0)
	desired := uint64(0xABCD)

	got := adjustFixedBits(desired, fixed0, fixed1)
	if got != desired {
		t.Fatalf("got %#x, want unmodified desired %#x", got, desired)
	}
}
