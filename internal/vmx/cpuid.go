package vmx

import (
	"fmt"
	"unsafe"
)

// This hypervisor never sees a cpuid VM-exit: real KVM always emulates
// the instruction in-kernel against whatever leaves KVM_SET_CPUID2
// installed, so there is no dispatch case for it in dispatch.go. What
// this package owns instead is the install side — a deliberately
// narrow synthetic leaf set, installed once at Open time, in place of
// passing through the host's full native CPUID surface. RDMSR/WRMSR,
// by contrast, have exit cases in dispatch.go (KVM_EXIT_X86_RDMSR/
// WRMSR), answered against syntheticMSRs below; KVM delivers those
// exits only when KVM_CAP_X86_USER_SPACE_MSR is enabled, and this
// package does not enable it.

// cpuidEntry mirrors struct kvm_cpuid_entry2, one leaf/sub-leaf pair of
// the guest's installed CPUID surface.
type cpuidEntry struct {
	Function uint32
	Index    uint32
	Flags    uint32
	EAX      uint32
	EBX      uint32
	ECX      uint32
	EDX      uint32
	_        [3]uint32
}

const maxCPUIDEntries = 16

// cpuid2 mirrors struct kvm_cpuid2's fixed header (nent plus padding);
// KVM_SET_CPUID2's _IOC size encodes only this header, matching the
// kernel's own flexible-array-member struct.
type cpuid2 struct {
	Nr      uint32
	_       uint32
	Entries [maxCPUIDEntries]cpuidEntry
}

// Leaf-1 EDX/ECX feature bits this hypervisor advertises, SDM Vol 2A
// Table 3-11.
const (
	cpuidFPU               uint32 = 1 << 0
	cpuidTSC               uint32 = 1 << 4
	cpuidMSR               uint32 = 1 << 5
	cpuidCX8               uint32 = 1 << 8
	cpuidAPIC              uint32 = 1 << 9
	cpuidHypervisorPresent uint32 = 1 << 31 // ECX bit 31, SDM-reserved for hypervisor use
)

// buildSyntheticCPUID constructs the two-leaf CPUID surface this
// hypervisor's guest is allowed to see: leaf 0 (vendor string, max
// basic leaf) and leaf 1 (family/model/stepping plus the handful of
// feature bits the guest's early boot code probes for).
func buildSyntheticCPUID() cpuid2 {
	var c cpuid2
	c.Entries[0] = cpuidEntry{
		Function: 0x0,
		EAX:      0x1,
		EBX:      0x756e6547, // "Genu"
		EDX:      0x49656e69, // "ineI"
		ECX:      0x6c65746e, // "ntel"
	}
	c.Entries[1] = cpuidEntry{
		Function: 0x1,
		EAX:      0x000306A9,
		ECX:      cpuidHypervisorPresent,
		EDX:      cpuidFPU | cpuidTSC | cpuidMSR | cpuidCX8 | cpuidAPIC,
	}
	c.Nr = 2
	return c
}

// installCPUID issues KVM_SET_CPUID2 against vcpuFd, realizing the
// cpuid dispatch entry spec.md §4.6 describes: the guest's own cpuid
// instruction never leaves the kernel, but the leaves it sees are the
// ones installed here.
func installCPUID(vcpuFd int) error {
	c := buildSyntheticCPUID()
	if err := ioctlPtr(vcpuFd, kvmSetCPUID2, unsafe.Pointer(&c)); err != nil {
		return fmt.Errorf("KVM_SET_CPUID2: %w", err)
	}
	return nil
}

// syntheticMSRs is the narrow set of MSRs this hypervisor answers for
// the guest's early-boot probes, keyed by MSR index. An RDMSR/WRMSR
// exit that reaches dispatch for any other index is fatal.
var syntheticMSRs = map[uint32]uint64{
	msrIA32EFER: 0,
	msrIA32PAT:  0x0007040600070406, // SDM default PAT, all entries valid per §4.4
}

// handleRDMSR answers a guest RDMSR against the synthetic MSR table,
// writing the 64-bit value into EDX:EAX the way real hardware would,
// and steps RIP. An index outside the table is fatal — the guest has
// asked for something this hypervisor does not model.
func (v *Vcpu) handleRDMSR(index uint32, instrLen uint64) error {
	val, ok := syntheticMSRs[index]
	if !ok {
		return unsupportedMSRf("RDMSR", index)
	}
	v.regs.RAX = val & 0xFFFFFFFF
	v.regs.RDX = val >> 32
	v.stepNextInst(instrLen)
	return nil
}

// handleWRMSR consumes the 64-bit value KVM decoded off the exit into
// the synthetic MSR table. KVM does not sync GuestRegisters for a
// userspace-MSR exit, so value must come from kvm_run.msrExit(), never
// from RDX:RAX. Writes to unmodeled MSRs are fatal for the same reason
// reads are.
func (v *Vcpu) handleWRMSR(index uint32, value uint64, instrLen uint64) error {
	if _, ok := syntheticMSRs[index]; !ok {
		return unsupportedMSRf("WRMSR", index)
	}
	syntheticMSRs[index] = value
	v.stepNextInst(instrLen)
	return nil
}
