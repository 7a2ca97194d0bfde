package ept

import "testing"

func TestLeafEntryPermissionBits(t *testing.T) {
	e := leafEntry(0x5000, true, false)
	if e&entryRead == 0 {
		t.Error("leaf entries are always readable")
	}
	if e&entryWrite == 0 {
		t.Error("expected write bit set")
	}
	if e&entryExecute != 0 {
		t.Error("expected execute bit clear")
	}
	if e.address() != 0x5000 {
		t.Errorf("address() = %#x, want 0x5000", e.address())
	}
}

func TestTableEntryIsAlwaysFullyPermissive(t *testing.T) {
	e := tableEntry(0x9000)
	if !e.valid() {
		t.Fatal("table entries must be valid")
	}
	if e&entryLeaf != 0 {
		t.Error("table entries must not set the leaf bit")
	}
}

func TestInvalidEntryHasNoAccessBits(t *testing.T) {
	var e entry
	if e.valid() {
		t.Fatal("zero entry must be invalid")
	}
}
