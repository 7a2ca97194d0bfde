package ept

import "testing"

func TestRegisterMemoryEmptyBufferIsNoop(t *testing.T) {
	if err := RegisterMemory(-1, 0, 0, nil); err != nil {
		t.Fatalf("expected no-op for empty buffer, got %v", err)
	}
}

func TestRegisterMemoryRejectsBadFd(t *testing.T) {
	mem := make([]byte, PageSize)
	if err := RegisterMemory(-1, 0, 0, mem); err == nil {
		t.Fatal("expected an error for an invalid VM fd")
	}
}
