package vmx

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/openhv/openhv/internal/ept"
	"github.com/openhv/openhv/internal/klog"
	"github.com/openhv/openhv/internal/panics"
	"github.com/openhv/openhv/internal/pic"
)

// KVM_EXIT_IO direction values, mirroring kvm_run's io union member.
const (
	ioDirectionIn  uint8 = 0
	ioDirectionOut uint8 = 1
)

// kvmRun mirrors the header of struct kvm_run, the per-vCPU structure
// mmap'd over the vCPU file descriptor. The trailing Data array
// overlays the exit-specific union the same way real Go KVM
// hypervisors in the pack decode it (bobuhiro11/gokvm's RunData.IO,
// jamlee-t/gokvm's RunData): low-numbered uint64 slots carry the
// packed fields for whichever exit reason is active.
type kvmRun struct {
	RequestInterruptWindow     uint8
	ImmediateExit              uint8
	_                          [6]uint8
	ExitReason                 uint32
	ReadyForInterruptInjection uint8
	IfFlag                     uint8
	_                          [2]uint8
	CR8                        uint64
	ApicBase                   uint64
	Data                       [32]uint64
}

// ioExit decodes the KVM_EXIT_IO union member.
func (r *kvmRun) ioExit() (direction uint8, size uint8, port uint16, count uint32, offset uint64) {
	direction = uint8(r.Data[0] & 0xFF)
	size = uint8((r.Data[0] >> 8) & 0xFF)
	port = uint16((r.Data[0] >> 16) & 0xFFFF)
	count = uint32((r.Data[0] >> 32) & 0xFFFFFFFF)
	offset = r.Data[1]
	return
}

// msrExit decodes the approximate layout this package uses for
// KVM_EXIT_X86_RDMSR/KVM_EXIT_X86_WRMSR: index in the low 32 bits of
// Data[0], value in Data[1], mirroring the IO union's bit-packing
// convention since this hypervisor does not link against the kernel's
// C headers.
func (r *kvmRun) msrExit() (index uint32, value uint64) {
	return uint32(r.Data[0]), r.Data[1]
}

// failEntry decodes the KVM_EXIT_FAIL_ENTRY union member's hardware
// entry-failure reason.
func (r *kvmRun) failEntryReason() uint64 {
	return r.Data[0]
}

// Vcpu is the process's single virtual CPU, realizing spec.md §3's
// Vcpu type against /dev/kvm per SPEC_FULL.md §0. There is exactly
// one instance; it is never replicated, matching the single-LP
// assumption spec.md §9 calls out as pervasive and undocumented at
// each site — here it is documented once, at this type.
type Vcpu struct {
	kvmFd, vmFd, vcpuFd int
	runMem              []byte
	run                 *kvmRun

	regs       GuestRegisters
	guestRSP   uint64
	sregs      kvmSregs
	launchDone bool

	vmxonRevision uint32
	guestMemSlot  uint32
	guestMem      []byte
	eptp          *ept.Table
	pic           *pic.PIC

	log *klog.Logger
}

// SetPIC installs the interrupt controller dispatch's exitIO case
// consults for the four legacy 8259 ports; every other port remains a
// fatal, unimplemented exit per spec.md's I/O open question.
func (v *Vcpu) SetPIC(p *pic.PIC) { v.pic = p }

// Open opens /dev/kvm, creates a VM and a single vCPU, and mmaps its
// kvm_run page, realizing spec.md §4.2's VMXON/VMCS region allocation
// as the KVM object hierarchy per SPEC_FULL.md §4.2. Any failure
// surfaces as a wrapped error — allocation-class failures never panic.
func Open(log *klog.Logger) (*Vcpu, error) {
	kvmFd, err := openKvmDevice()
	if err != nil {
		return nil, err
	}

	vmFd, err := ioctlNoArg(kvmFd, kvmCreateVM, 0)
	if err != nil {
		unix.Close(kvmFd)
		return nil, fmt.Errorf("KVM_CREATE_VM: %w", err)
	}

	// KVM_IRQ_LINE (internal/pic's delivery primitive) requires an
	// in-kernel irqchip to already exist on this VM, or the ioctl fails
	// outright; create it now so the PIC's Raise/Lower calls are
	// meaningful once a vCPU is running.
	if _, err := ioctlNoArg(vmFd, kvmCreateIRQChip, 0); err != nil {
		unix.Close(vmFd)
		unix.Close(kvmFd)
		return nil, fmt.Errorf("KVM_CREATE_IRQCHIP: %w", err)
	}

	mmapSize, err := ioctlNoArg(kvmFd, kvmGetVCPUMMapSize, 0)
	if err != nil {
		unix.Close(vmFd)
		unix.Close(kvmFd)
		return nil, fmt.Errorf("KVM_GET_VCPU_MMAP_SIZE: %w", err)
	}

	vcpuFd, err := ioctlNoArg(vmFd, kvmCreateVCPU, 0)
	if err != nil {
		unix.Close(vmFd)
		unix.Close(kvmFd)
		return nil, fmt.Errorf("KVM_CREATE_VCPU: %w", err)
	}

	mem, err := unix.Mmap(vcpuFd, 0, mmapSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(vcpuFd)
		unix.Close(vmFd)
		unix.Close(kvmFd)
		return nil, fmt.Errorf("mmap kvm_run: %w", err)
	}

	if err := installCPUID(vcpuFd); err != nil {
		unix.Munmap(mem)
		unix.Close(vcpuFd)
		unix.Close(vmFd)
		unix.Close(kvmFd)
		return nil, err
	}

	rev, err := vmxBasicRevisionID(vcpuFd)
	if err != nil {
		unix.Munmap(mem)
		unix.Close(vcpuFd)
		unix.Close(vmFd)
		unix.Close(kvmFd)
		return nil, err
	}

	return &Vcpu{
		kvmFd: kvmFd, vmFd: vmFd, vcpuFd: vcpuFd,
		runMem:        mem,
		run:           (*kvmRun)(unsafe.Pointer(&mem[0])),
		vmxonRevision: rev,
		log:           log.Scope("vmx"),
	}, nil
}

// Close tears down the vCPU, VM and /dev/kvm file descriptors and
// unmaps the kvm_run page.
func (v *Vcpu) Close() error {
	unix.Munmap(v.runMem)
	var errs []error
	if err := unix.Close(v.vcpuFd); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(v.vmFd); err != nil {
		errs = append(errs, err)
	}
	if err := unix.Close(v.kvmFd); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// VMFd exposes the VM-scoped file descriptor for internal/ept's
// KVM_SET_USER_MEMORY_REGION call; EPT owns the mapping decision, this
// package only owns the fd it was issued by KVM_CREATE_VM.
func (v *Vcpu) VMFd() int { return v.vmFd }

// VMXONRevisionID returns IA32_VMX_BASIC[30:0] read at Open time, for
// the round-trip invariant in spec.md §8 scenario 2's analog.
func (v *Vcpu) VMXONRevisionID() uint32 { return v.vmxonRevision }

// SetGuestMemory registers guestMem starting at guest-physical address
// 0 via a bookkeeping slot this package remembers for DumpState; the
// actual KVM_SET_USER_MEMORY_REGION ioctl is issued by
// internal/ept.RegisterMemory against VMFd().
func (v *Vcpu) SetGuestMemory(slot uint32, mem []byte) {
	v.guestMemSlot = slot
	v.guestMem = mem
}

// SetEPT records the L4 EPT-shaped table built over guest memory, per
// spec.md §4.7's "the EPT pointer, once written to VMCS, references a
// 4-level table" invariant — under the KVM realization it is this
// package's own record of a mapping KVM_SET_USER_MEMORY_REGION already
// established, kept for DumpState and for the EPTP round-trip property
// in spec.md §8.
func (v *Vcpu) SetEPT(t *ept.Table) { v.eptp = t }

// EPTP returns the VMCS EPT-pointer encoding of the installed table,
// or 0 if none has been set yet.
func (v *Vcpu) EPTP() uint64 {
	if v.eptp == nil {
		return 0
	}
	return v.eptp.EPTP()
}

// SetupGuestState derives the fixed-bit CR0/CR4 image, builds the
// guest kvmSregs/kvmRegs pair spec.md §4.3 specifies, runs
// partialCheckGuest against it, and installs it via KVM_SET_SREGS/
// KVM_SET_REGS. kernelBase and bootParamAddr are the Linux boot
// parameters spec.md §4.8 hands to guest entry state.
func (v *Vcpu) SetupGuestState(kernelBase, bootParamAddr uint64) error {
	if err := checkFeatureControl(v.vcpuFd); err != nil {
		return err
	}

	cs, err := deriveControlState(v.vcpuFd, cr0PE|cr0NE|cr0ET, cr4VMXE)
	if err != nil {
		return err
	}

	sregs := buildGuestSregs(cs)
	regs, rsp := buildGuestRegs(kernelBase, bootParamAddr)

	kr := regs.toKvmRegs(rsp)
	es := entryState{ia32e: false, loadIA32EFER: true, unrestricted: true}
	if err := partialCheckGuest(&sregs, &kr, es); err != nil {
		panics.Fatalf("SetupGuestState: partialCheckGuest: %v", err)
		return err
	}

	if err := checkVMXStatus("KVM_SET_SREGS", ioctlPtr(v.vcpuFd, kvmSetSregs, unsafe.Pointer(&sregs))); err != nil {
		return err
	}
	if err := checkVMXStatus("KVM_SET_REGS", ioctlPtr(v.vcpuFd, kvmSetRegs, unsafe.Pointer(&kr))); err != nil {
		return err
	}
	if err := writeMSRs(v.vcpuFd, syntheticMSRs); err != nil {
		return fmt.Errorf("SetupGuestState: %w", err)
	}

	v.sregs = sregs
	v.regs = regs
	v.guestRSP = rsp
	return nil
}

// errGuestHalted is returned by dispatch when the guest executes hlt;
// Loop treats it as a clean stopping point rather than a fatal error.
var errGuestHalted = errors.New("vmx: guest halted")

// Loop runs runOnce/dispatch until the guest halts or a fatal
// condition routes through internal/panics. It is the vCPU loop
// spec.md §1/§5 describes: the only call site into this package's
// KVM_RUN primitive, and the only goroutine touching this Vcpu.
func (v *Vcpu) Loop() error {
	defer panics.Recover()
	for {
		reason, err := v.runOnce()
		if err != nil {
			return fmt.Errorf("runOnce: %w", err)
		}
		if err := v.dispatch(reason); err != nil {
			if errors.Is(err, errGuestHalted) {
				v.log.Infof("guest halted at rip=%#x", v.regs.RIP)
				return nil
			}
			return err
		}
	}
}

// runOnce is the VM-entry/VM-exit boundary-crossing primitive spec.md
// §4.5 describes as a hand-crafted assembly trampoline. Under the KVM
// realization it is an ordinary Go function with ordinary call/return
// semantics: KVM_RUN is ordinary blocking syscall, so there is no
// non-standard control-flow edge to preserve (SPEC_FULL.md §4.5).
func (v *Vcpu) runOnce() (exitReason, error) {
	kr := v.regs.toKvmRegs(v.guestRSP)

	es := entryState{ia32e: false, loadIA32EFER: true, unrestricted: true}
	if err := partialCheckGuest(&v.sregs, &kr, es); err != nil {
		panics.Fatalf("partialCheckGuest: %v", err)
	}

	if err := checkVMXStatus("KVM_SET_REGS", ioctlPtr(v.vcpuFd, kvmSetRegs, unsafe.Pointer(&kr))); err != nil {
		return 0, err
	}

	if err := v.runKVM(); err != nil {
		return 0, err
	}
	v.launchDone = true

	var out kvmRegs
	if err := checkVMXStatus("KVM_GET_REGS", ioctlPtr(v.vcpuFd, kvmGetRegs, unsafe.Pointer(&out))); err != nil {
		return 0, err
	}
	v.regs.fromKvmRegs(&out)
	v.guestRSP = out.RSP

	return exitReason(v.run.ExitReason), nil
}

// runKVM issues KVM_RUN, treating EINTR/EAGAIN as benign retries (a
// signal arriving during KVM_RUN is not a guest-visible event).
func (v *Vcpu) runKVM() error {
	for {
		_, err := ioctlNoArg(v.vcpuFd, kvmRunIoctl, 0)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
			continue
		}
		return checkVMXStatus("KVM_RUN", err)
	}
}

// stepNextInst advances GUEST.RIP past the instruction that caused the
// exit, per spec.md §4.6.
func (v *Vcpu) stepNextInst(instrLen uint64) {
	v.regs.RIP += instrLen
}

// DumpState implements internal/panics.Dumper: on a fatal halt this
// logs every GPR, CR0/3/4, EFER, and the CS selector/base/limit, per
// spec.md §7's "dump full vCPU state" requirement.
func (v *Vcpu) DumpState(log *klog.Logger) {
	log.Errorf("rax=%#x rbx=%#x rcx=%#x rdx=%#x", v.regs.RAX, v.regs.RBX, v.regs.RCX, v.regs.RDX)
	log.Errorf("rsi=%#x rdi=%#x rsp=%#x rbp=%#x", v.regs.RSI, v.regs.RDI, v.guestRSP, v.regs.RBP)
	log.Errorf("r8=%#x r9=%#x r10=%#x r11=%#x", v.regs.R8, v.regs.R9, v.regs.R10, v.regs.R11)
	log.Errorf("r12=%#x r13=%#x r14=%#x r15=%#x", v.regs.R12, v.regs.R13, v.regs.R14, v.regs.R15)
	log.Errorf("rip=%#x rflags=%#x", v.regs.RIP, v.regs.RFLAGS)
	log.Errorf("cr0=%#x cr3=%#x cr4=%#x efer=%#x", v.sregs.CR0, v.sregs.CR3, v.sregs.CR4, v.sregs.EFER)
	log.Errorf("cs.selector=%#x cs.base=%#x cs.limit=%#x", v.sregs.CS.Selector, v.sregs.CS.Base, v.sregs.CS.Limit)
	log.Errorf("guest-memory base len=%d", len(v.guestMem))
	log.Errorf("eptp=%#x", v.EPTP())
}
