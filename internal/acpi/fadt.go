package acpi

import (
	"encoding/binary"
	"fmt"
)

const fadtSignature = "FACP"

// FADT is the Fixed ACPI Description Table. This hypervisor only
// needs it located and checksum-validated; it does not yet consume
// any of its fixed-hardware fields.
type FADT struct {
	Header Header
	Raw    []byte
}

// ParseFADT validates a table already known to be the FADT (signature
// "FACP") against its own checksum.
func ParseFADT(raw []byte) (*FADT, error) {
	h, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if string(h.Signature[:]) != fadtSignature {
		return nil, fmt.Errorf("%w: got %q, want %q", ErrInvalidSignature, h.Signature[:], fadtSignature)
	}
	if int(h.Length) > len(raw) {
		return nil, fmt.Errorf("acpi: FADT header claims %d bytes, buffer has %d", h.Length, len(raw))
	}
	table := raw[:h.Length]
	if checksum8(table) != 0 {
		return nil, ErrInvalidChecksum
	}
	return &FADT{Header: h, Raw: table}, nil
}

// BuildFADT constructs a checksum-valid, header-only FADT. Real
// firmware fills in power-management and sleep register fields here;
// this hypervisor has nothing behind them yet, so the table exists
// only to give FindFADT something real to locate.
func BuildFADT() []byte {
	raw := make([]byte, tableHeaderLen)
	copy(raw[0:4], fadtSignature)
	binary.LittleEndian.PutUint32(raw[4:8], uint32(tableHeaderLen))
	raw[8] = 1 // revision

	raw[9] = 0 - checksum8(raw)
	return raw
}

// TableAt reads the length-prefixed table physically addressed by
// phys, via the caller's accessor into guest/host memory.
type TableAt func(phys uint64, length uint32) ([]byte, error)

// FindFADT scans the tables xsdt.Entries point at, via read, for the
// first one whose signature is "FACP", and parses it.
func FindFADT(xsdt *XSDT, read TableAt) (*FADT, error) {
	for _, entry := range xsdt.Entries {
		headerBytes, err := read(entry, tableHeaderLen)
		if err != nil {
			return nil, fmt.Errorf("acpi: reading table header at %#x: %w", entry, err)
		}
		h, err := parseHeader(headerBytes)
		if err != nil {
			continue
		}
		if string(h.Signature[:]) != fadtSignature {
			continue
		}
		full, err := read(entry, h.Length)
		if err != nil {
			return nil, fmt.Errorf("acpi: reading FADT body at %#x: %w", entry, err)
		}
		return ParseFADT(full)
	}
	return nil, ErrTableNotFound
}
