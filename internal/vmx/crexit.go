package vmx

// CR-access qualification decoding, SDM Vol 3C Table 28-3's
// "MOV CR" exit-qualification layout. Under the KVM realization this
// package reacts to, the guest's CR0/CR4 writes are visible as a
// kvm_sregs diff on exits this hypervisor is told about rather than a
// raw exit qualification, so crAccessFromDiff decodes a qualification
// shape the same way spec.md's §4.6 CR-access handler expects, built
// from the before/after CR values this package already tracks.
type crAccessType uint8

const (
	crAccessMovToCR crAccessType = iota
	crAccessMovFromCR
	crAccessCLTS
	crAccessLMSW
)

// crAccessQualification is the decoded form of a CR-access exit,
// mirroring spec.md §3's "exit qualifications discriminated by basic
// reason" for the CR-access case.
type crAccessQualification struct {
	typ      crAccessType
	crNumber uint8
	gpr      uint8
}

// decodeCRAccess inspects which CR changed between the last-known
// sregs and the newly observed one, reporting it as a MOV-to-CR
// qualification. Only CR0 and CR4 are decoded here: any CR0 change,
// including one made by LMSW or CLTS, is reported as MOV-to-CR0, and
// MOV-from-CR is never reported. ErrUnsupportedCRAccessVariant is
// returned only when neither CR0 nor CR4 changed.
func decodeCRAccess(before, after *kvmSregs) (crAccessQualification, error) {
	switch {
	case before.CR0 != after.CR0:
		return crAccessQualification{typ: crAccessMovToCR, crNumber: 0}, nil
	case before.CR4 != after.CR4:
		return crAccessQualification{typ: crAccessMovToCR, crNumber: 4}, nil
	default:
		return crAccessQualification{}, ErrUnsupportedCRAccessVariant
	}
}

func (q crAccessQualification) String() string {
	names := [...]string{"MOV-to-CR", "MOV-from-CR", "CLTS", "LMSW"}
	typ := "UNKNOWN"
	if int(q.typ) < len(names) {
		typ = names[q.typ]
	}
	return typ + " CR" + string(rune('0'+q.crNumber))
}
