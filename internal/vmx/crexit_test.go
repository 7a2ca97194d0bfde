package vmx

import "testing"

func TestDecodeCRAccessDetectsCR0Write(t *testing.T) {
	before := kvmSregs{CR0: cr0PE}
	after := kvmSregs{CR0: cr0PE | cr0PG}

	q, err := decodeCRAccess(&before, &after)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.typ != crAccessMovToCR || q.crNumber != 0 {
		t.Fatalf("got %+v, want MOV-to-CR0", q)
	}
}

func TestDecodeCRAccessNoChangeIsUnsupported(t *testing.T) {
	sregs := kvmSregs{CR0: cr0PE, CR4: cr4VMXE}
	if _, err := decodeCRAccess(&sregs, &sregs); err != ErrUnsupportedCRAccessVariant {
		t.Fatalf("got %v, want ErrUnsupportedCRAccessVariant", err)
	}
}
