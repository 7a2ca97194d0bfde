package vmx

import (
	"testing"

	"github.com/openhv/openhv/internal/ept"
)

func TestEPTPZeroBeforeSet(t *testing.T) {
	v := &Vcpu{}
	if got := v.EPTP(); got != 0 {
		t.Fatalf("EPTP() = %#x before SetEPT, want 0", got)
	}
}

func TestEPTPReflectsInstalledTable(t *testing.T) {
	alloc := ept.NewPageAllocator(make([]byte, ept.PageSize))
	table, err := ept.New(alloc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	v := &Vcpu{}
	v.SetEPT(table)
	if v.EPTP() != table.EPTP() {
		t.Fatalf("EPTP() = %#x, want %#x", v.EPTP(), table.EPTP())
	}
}
