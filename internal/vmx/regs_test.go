package vmx

import "testing"

func TestGuestRegistersRoundTrip(t *testing.T) {
	want := GuestRegisters{
		RAX: 1, RBX: 2, RCX: 3, RDX: 4,
		RSI: 5, RDI: 6, RBP: 7,
		R8: 8, R9: 9, R10: 10, R11: 11,
		R12: 12, R13: 13, R14: 14, R15: 15,
		RIP: 0x100000, RFLAGS: 0x2,
	}
	const rsp = 0xDEADBEEF

	kr := want.toKvmRegs(rsp)
	if kr.RSP != rsp {
		t.Fatalf("RSP not carried through toKvmRegs: got %#x", kr.RSP)
	}

	var got GuestRegisters
	got.fromKvmRegs(&kr)
	if got != want {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestGuestRegistersNeverCarriesRSP(t *testing.T) {
	// GuestRegisters has no RSP field; this is a compile-time
	// invariant, but assert the zero value never leaks one in by
	// checking toKvmRegs only reflects the explicit rsp parameter.
	var g GuestRegisters
	kr := g.toKvmRegs(42)
	if kr.RSP != 42 {
		t.Fatalf("RSP = %d, want 42", kr.RSP)
	}
}
