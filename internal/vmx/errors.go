package vmx

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// Sentinel errors surfaced by VMX-instruction-class operations, per
// spec.md §7. Under the KVM realization these correspond to ioctl
// failures whose errno maps onto the CF/ZF-derived taxonomy hardware
// VMX would have produced directly.
var (
	// ErrInvalidVmcsPointer is returned when an ioctl fails the way a
	// CF-set VMX instruction would: no current VMCS, or the fd/pointer
	// it addresses is not in the state the operation requires.
	ErrInvalidVmcsPointer = errors.New("vmx: invalid vmcs pointer")

	// ErrStatusAvailable is returned when KVM reports a structured
	// failure with error detail attached (kvm_run.fail_entry), the
	// analog of a ZF-set VMX instruction with a VM-instruction-error
	// field to decode.
	ErrStatusAvailable = errors.New("vmx: vm-instruction error available")

	// ErrOutOfMemory names the out-of-memory class of VMX failure. No
	// code path returns it: internal/ept.PageAllocator reports an
	// exhausted pool with its own error.
	ErrOutOfMemory = errors.New("vmx: out of memory")

	// ErrFeatureControlLocked is returned by checkFeatureControl when
	// IA32_FEATURE_CONTROL's lock bit is set with VMX-outside-SMX
	// clear: an unrecoverable firmware policy per spec.md §4.1.
	ErrFeatureControlLocked = errors.New("vmx: IA32_FEATURE_CONTROL locked without VMX-outside-SMX")

	// ErrUnsupportedCRAccessVariant is returned by decodeCRAccess when
	// neither CR0 nor CR4 changed; dispatch then takes its fatal
	// EPT-violation path. LMSW/CLTS, which spec.md §9's Open Questions
	// leaves unspecified, are not told apart from MOV-to-CR0.
	ErrUnsupportedCRAccessVariant = errors.New("vmx: unsupported CR-access variant")

	// errUnsupportedMSR is the base sentinel wrapped by unsupportedMSRf;
	// callers match it with errors.Is.
	errUnsupportedMSR = errors.New("vmx: unsupported msr index")
)

// unsupportedMSRf wraps errUnsupportedMSR with the operation and index
// that triggered it, for RDMSR/WRMSR dispatch.
func unsupportedMSRf(op string, index uint32) error {
	return fmt.Errorf("%s index %#x: %w", op, index, errUnsupportedMSR)
}

// checkVMXStatus wraps a raw vCPU-scoped ioctl failure into the CF/ZF
// taxonomy ErrInvalidVmcsPointer/ErrStatusAvailable model: ENXIO is
// what KVM_RUN itself returns when there is nothing for KVM to resume
// into, the same "no current VMCS" shape real VMX hardware reports via
// CF. Every other failure is wrapped plainly, leaving callers to match
// it with errors.Is against whatever sentinel applies.
func checkVMXStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, unix.ENXIO) {
		return fmt.Errorf("%s: %w", op, ErrInvalidVmcsPointer)
	}
	return fmt.Errorf("%s: %w", op, err)
}
