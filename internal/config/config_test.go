package config

import "testing"

func TestHypervisorValidateRequiresKernel(t *testing.T) {
	h := Hypervisor{MemSizeMiB: DefaultMemSizeMiB}
	if err := h.Validate(); err == nil {
		t.Fatal("expected error for missing kernel path")
	}
}

func TestHypervisorValidateRejectsTinyMemory(t *testing.T) {
	h := Hypervisor{KernelPath: "bzImage", MemSizeMiB: 1}
	if err := h.Validate(); err == nil {
		t.Fatal("expected error for undersized memory")
	}
}

func TestHypervisorValidateAccepts(t *testing.T) {
	h := Hypervisor{KernelPath: "bzImage", MemSizeMiB: DefaultMemSizeMiB}
	if err := h.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMkGuestValidateRequiresOutDir(t *testing.T) {
	g := MkGuest{KernelPath: "bzImage"}
	if err := g.Validate(); err == nil {
		t.Fatal("expected error for missing out dir")
	}
}
