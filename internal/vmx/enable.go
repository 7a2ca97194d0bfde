package vmx

import "fmt"

// controlState is the sanitized CR0/CR4 image deriveControlState
// produces: the guest's CR0/CR4 at setup time, adjusted so every
// mandatory-1 bit from IA32_VMX_CR{0,4}_FIXED0 is set and every
// mandatory-0 bit from IA32_VMX_CR{0,4}_FIXED1 is clear.
type controlState struct {
	cr0 uint64
	cr4 uint64
}

// adjustFixedBits applies the SDM's fixed-bit rule: mandatory-1 bits
// (fixed0) are OR'd in, mandatory-0 bits (the complement of fixed1)
// are AND'd out.
func adjustFixedBits(desired, fixed0, fixed1 uint64) uint64 {
	return (desired | fixed0) &^ (^fixed1)
}

// deriveControlState reads IA32_VMX_CR0_FIXED0/1 and
// IA32_VMX_CR4_FIXED0/1 via KVM_GET_MSRS and computes the sanitized
// CR0/CR4 image later written into kvm_sregs, per spec.md §4.1 and
// SPEC_FULL.md §4.1. desiredCR0/desiredCR4 are the pre-adjustment
// values setupGuestState wants (PE|NE|ET and VMXE respectively).
func deriveControlState(vcpuFd int, desiredCR0, desiredCR4 uint64) (controlState, error) {
	vals, err := readMSRs(vcpuFd, msrIA32VMXCR0Fixed0, msrIA32VMXCR0Fixed1, msrIA32VMXCR4Fixed0, msrIA32VMXCR4Fixed1)
	if err != nil {
		return controlState{}, fmt.Errorf("deriveControlState: reading fixed-bit MSRs: %w", err)
	}

	cr0Fixed0, cr0Fixed1 := vals[0], vals[1]
	cr4Fixed0, cr4Fixed1 := vals[2], vals[3]

	return controlState{
		cr0: adjustFixedBits(desiredCR0, cr0Fixed0, cr0Fixed1),
		cr4: adjustFixedBits(desiredCR4, cr4Fixed0, cr4Fixed1),
	}, nil
}

// checkFeatureControl reads IA32_FEATURE_CONTROL. If the lock bit is
// set and VMX-outside-SMX is clear, the host firmware has locked VMX
// off; this is unrecoverable per spec.md §4.1, surfaced as
// ErrFeatureControlLocked for the caller to treat as fatal.
func checkFeatureControl(vcpuFd int) error {
	vals, err := readMSRs(vcpuFd, msrIA32FeatureControl)
	if err != nil {
		return fmt.Errorf("checkFeatureControl: %w", err)
	}
	fc := vals[0]
	if fc&featureControlLockBit != 0 && fc&featureControlVMXOutsideSMX == 0 {
		return ErrFeatureControlLocked
	}
	return nil
}
