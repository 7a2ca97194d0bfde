package main

import (
	"testing"

	"github.com/openhv/openhv/internal/acpi"
	"github.com/openhv/openhv/internal/klog"
)

func TestBuildEPTMapsWholeGuestMemory(t *testing.T) {
	guestMem := make([]byte, 4<<20) // 4 MiB, spans multiple L1 tables' worth of leaves
	table, err := buildEPT(guestMem)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.EPTP() == 0 {
		t.Fatal("EPTP() = 0, want a populated root pointer")
	}
}

func TestBuildEPTRejectsOddSizedMemory(t *testing.T) {
	guestMem := make([]byte, 100) // not a multiple of the page size
	if _, err := buildEPT(guestMem); err == nil {
		t.Fatal("expected error for non-page-aligned guest memory length")
	}
}

func TestBuildACPITablesProducesFindableChain(t *testing.T) {
	guestMem := make([]byte, 1<<20)
	log := klog.New(nil, "err")

	rsdpAddr, err := buildACPITables(guestMem, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rsdpAddr != acpiRSDPAddr {
		t.Fatalf("rsdpAddr = %#x, want %#x", rsdpAddr, acpiRSDPAddr)
	}

	rsdp, err := acpi.ParseRSDP(guestMem[rsdpAddr:])
	if err != nil {
		t.Fatalf("RSDP did not parse: %v", err)
	}
	xsdt, err := acpi.ParseXSDT(guestMem[rsdp.XSDTAddress:])
	if err != nil {
		t.Fatalf("XSDT did not parse: %v", err)
	}

	read := func(phys uint64, length uint32) ([]byte, error) {
		return guestMem[phys : phys+uint64(length)], nil
	}
	if _, err := acpi.FindFADT(xsdt, read); err != nil {
		t.Fatalf("FindFADT: %v", err)
	}
}

func TestCopyAtRejectsOverflow(t *testing.T) {
	mem := make([]byte, 16)
	if err := copyAt(mem, 10, []byte{1, 2, 3, 4, 5, 6, 7, 8}); err == nil {
		t.Fatal("expected error for a write past the end of memory")
	}
}
