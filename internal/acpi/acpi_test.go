package acpi

import (
	"encoding/binary"
	"errors"
	"testing"
)

func buildValidRSDP() []byte {
	raw := make([]byte, rsdpLen)
	copy(raw[0:8], rsdpSignature)
	raw[9] = 'A' // OEMID
	raw[15] = 2  // revision
	binary.LittleEndian.PutUint32(raw[16:20], 0)
	binary.LittleEndian.PutUint32(raw[20:24], uint32(rsdpLen))
	binary.LittleEndian.PutUint64(raw[24:32], 0x1000)

	raw[8] = 0
	raw[8] = 0 - checksum8(raw[:rsdpLegacyLen])
	raw[32] = 0
	raw[32] = 0 - checksum8(raw[:rsdpLen])
	return raw
}

func TestParseRSDPValid(t *testing.T) {
	raw := buildValidRSDP()
	r, err := ParseRSDP(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.XSDTAddress != 0x1000 {
		t.Errorf("XSDTAddress = %#x, want 0x1000", r.XSDTAddress)
	}
}

func TestParseRSDPWrongSignature(t *testing.T) {
	raw := buildValidRSDP()
	copy(raw[0:8], "XXXXXXXX")
	if _, err := ParseRSDP(raw); !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("got %v, want ErrInvalidSignature", err)
	}
}

// TestParseRSDPCorruptExtendedChecksum is spec.md §8 scenario 4: valid
// first-20-byte checksum but corrupted extended checksum.
func TestParseRSDPCorruptExtendedChecksum(t *testing.T) {
	raw := buildValidRSDP()
	raw[33] ^= 0xFF // corrupt a byte covered only by the extended checksum
	if _, err := ParseRSDP(raw); !errors.Is(err, ErrInvalidExtendedChecksum) {
		t.Fatalf("got %v, want ErrInvalidExtendedChecksum", err)
	}
}

func TestParseRSDPWrongRevision(t *testing.T) {
	raw := buildValidRSDP()
	raw[15] = 0
	raw[8] = 0
	raw[8] = 0 - checksum8(raw[:rsdpLegacyLen])
	if _, err := ParseRSDP(raw); !errors.Is(err, ErrInvalidRevision) {
		t.Fatalf("got %v, want ErrInvalidRevision", err)
	}
}

func buildTable(signature string, body []byte) []byte {
	length := tableHeaderLen + len(body)
	raw := make([]byte, length)
	copy(raw[0:4], signature)
	binary.LittleEndian.PutUint32(raw[4:8], uint32(length))
	copy(raw[tableHeaderLen:], body)
	raw[9] = 0 - checksum8(raw)
	return raw
}

func TestParseXSDTValid(t *testing.T) {
	entries := make([]byte, 16)
	binary.LittleEndian.PutUint32(entries[0:4], 0x1000)
	binary.LittleEndian.PutUint32(entries[4:8], 0)
	binary.LittleEndian.PutUint32(entries[8:12], 0x2000)
	binary.LittleEndian.PutUint32(entries[12:16], 0)
	raw := buildTable("XSDT", entries)

	xsdt, err := ParseXSDT(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(xsdt.Entries) != 2 || xsdt.Entries[0] != 0x1000 || xsdt.Entries[1] != 0x2000 {
		t.Fatalf("got entries %v", xsdt.Entries)
	}
}

func TestParseXSDTBadChecksum(t *testing.T) {
	raw := buildTable("XSDT", make([]byte, 8))
	raw[len(raw)-1] ^= 0xFF
	if _, err := ParseXSDT(raw); !errors.Is(err, ErrInvalidChecksum) {
		t.Fatalf("got %v, want ErrInvalidChecksum", err)
	}
}

func TestFindFADTScansEntries(t *testing.T) {
	decoy := buildTable("APIC", nil)
	fadt := buildTable("FACP", []byte{1, 2, 3, 4})
	tables := map[uint64][]byte{0x1000: decoy, 0x2000: fadt}

	xsdt := &XSDT{Entries: []uint64{0x1000, 0x2000}}
	read := func(phys uint64, length uint32) ([]byte, error) {
		full := tables[phys]
		if length > uint32(len(full)) {
			length = uint32(len(full))
		}
		return full[:length], nil
	}

	got, err := FindFADT(xsdt, read)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got.Header.Signature[:]) != "FACP" {
		t.Fatalf("got signature %q", got.Header.Signature[:])
	}
}

func TestBuildRSDPRoundTrips(t *testing.T) {
	raw := BuildRSDP(0x3000)
	r, err := ParseRSDP(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.XSDTAddress != 0x3000 {
		t.Fatalf("XSDTAddress = %#x, want 0x3000", r.XSDTAddress)
	}
}

func TestBuildXSDTRoundTrips(t *testing.T) {
	raw := BuildXSDT([]uint64{0x1000, 0x2000})
	xsdt, err := ParseXSDT(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(xsdt.Entries) != 2 || xsdt.Entries[0] != 0x1000 || xsdt.Entries[1] != 0x2000 {
		t.Fatalf("got entries %v", xsdt.Entries)
	}
}

func TestBuildFADTFindableViaXSDT(t *testing.T) {
	fadtAddr := uint64(0x2000)
	fadt := BuildFADT()
	xsdtRaw := BuildXSDT([]uint64{fadtAddr})

	xsdt, err := ParseXSDT(xsdtRaw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	read := func(phys uint64, length uint32) ([]byte, error) {
		if phys != fadtAddr {
			return nil, errors.New("unknown address")
		}
		return fadt[:length], nil
	}
	if _, err := FindFADT(xsdt, read); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindFADTNotFound(t *testing.T) {
	decoy := buildTable("APIC", nil)
	tables := map[uint64][]byte{0x1000: decoy}
	xsdt := &XSDT{Entries: []uint64{0x1000}}
	read := func(phys uint64, length uint32) ([]byte, error) {
		return tables[phys][:length], nil
	}
	if _, err := FindFADT(xsdt, read); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("got %v, want ErrTableNotFound", err)
	}
}
