package vmx

import "testing"

func TestReadMSRsRejectsTooMany(t *testing.T) {
	indices := make([]uint32, maxMSRs+1)
	if _, err := readMSRs(0, indices...); err == nil {
		t.Fatal("expected error for too many MSR indices")
	}
}

func TestReadMSRsRejectsEmpty(t *testing.T) {
	if _, err := readMSRs(0); err == nil {
		t.Fatal("expected error for zero MSR indices")
	}
}

func TestWriteMSRsRejectsTooMany(t *testing.T) {
	values := make(map[uint32]uint64, maxMSRs+1)
	for i := 0; i < maxMSRs+1; i++ {
		values[uint32(i)] = 0
	}
	if err := writeMSRs(0, values); err == nil {
		t.Fatal("expected error for too many MSR values")
	}
}
