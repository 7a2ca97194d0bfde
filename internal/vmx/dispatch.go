package vmx

import (
	"fmt"
	"unsafe"

	"github.com/openhv/openhv/internal/panics"
	"github.com/openhv/openhv/internal/pic"
)

// dispatch realizes spec.md §4.6 against kvm_run.exit_reason, per the
// mapping SPEC_FULL.md §4.6 records. It returns errGuestHalted on
// KVM_EXIT_HLT so Loop can stop cleanly; every other unhandled or
// fatal case routes through internal/panics.Fatalf and never returns.
func (v *Vcpu) dispatch(reason exitReason) error {
	switch reason {
	case exitHLT:
		return errGuestHalted

	case exitIO:
		direction, size, port, count, offset := v.run.ioExit()
		if v.pic != nil && size == 1 && count == 1 && handlePICPortIO(v.pic, v.runMem, direction, port, offset) {
			// KVM advances guest RIP past the port I/O instruction
			// itself before ever returning this exit to userspace.
			return nil
		}
		panics.Fatalf("io exit: port=%#x size=%d count=%d direction=%d (unimplemented, per spec.md open question)",
			port, size, count, direction)
		return nil

	case exitRDMSR:
		index, _ := v.run.msrExit()
		if err := v.handleRDMSR(index, msrInstrLen); err != nil {
			panics.Fatalf("rdmsr exit: %v", err)
		}
		return nil

	case exitWRMSR:
		index, value := v.run.msrExit()
		if err := v.handleWRMSR(index, value, msrInstrLen); err != nil {
			panics.Fatalf("wrmsr exit: %v", err)
		}
		return nil

	case exitMMIO:
		// KVM never exits directly for a guest CR0/CR4 write under
		// this hypervisor's configuration, and no trap page is
		// installed for one. On an MMIO exit the current sregs are
		// read back and compared with the cached copy: a CR0/CR4
		// change is logged as a CR access and RIP is stepped by one
		// byte; otherwise the fault is a fatal EPT violation.
		before := v.sregs
		if err := v.refreshSregsForCRCheck(); err != nil {
			panics.Fatalf("ept violation / unmapped mmio: guest rip=%#x cr3=%#x (refresh failed: %v)", v.regs.RIP, v.sregs.CR3, err)
		}
		if q, err := decodeCRAccess(&before, &v.sregs); err == nil {
			v.log.Debugf("cr-access: %s", q)
			v.stepNextInst(1)
			return nil
		}
		panics.Fatalf("ept violation / unmapped mmio: guest rip=%#x cr3=%#x", v.regs.RIP, v.sregs.CR3)
		return nil

	case exitFailEntry:
		reasonBits := v.run.failEntryReason()
		decoded := InstructionError(reasonBits)
		err := fmt.Errorf("%s: %w", decoded, ErrStatusAvailable)
		panics.Fatalf("vm entry failed: hardware_entry_failure_reason=%#x: %v", reasonBits, err)
		return nil

	case exitInternalError:
		panics.Fatalf("kvm internal error: suberror data=%#x", v.run.Data[0])
		return nil

	case exitShutdown:
		panics.Fatalf("guest triple fault / shutdown at rip=%#x", v.regs.RIP)
		return nil

	default:
		panics.Fatalf("unhandled vm-exit reason %s (%d)", reason, reason)
		return nil
	}
}

// refreshSregsForCRCheck pulls the current kvm_sregs back from KVM
// after a handler may have mutated CR state, so the next
// partialCheckGuest call sees the installed value rather than a stale
// cache. Called from dispatch's exitMMIO case.
func (v *Vcpu) refreshSregsForCRCheck() error {
	var out kvmSregs
	if err := ioctlPtr(v.vcpuFd, kvmGetSregs, unsafe.Pointer(&out)); err != nil {
		return err
	}
	v.sregs = out
	return nil
}

// handlePICPortIO services a single-byte IN/OUT against the data
// KVM_EXIT_IO carries at data_offset inside the kvm_run page (port
// exits never sync AL into GuestRegisters, unlike RDMSR/WRMSR). ok is
// false for any port outside the four legacy 8259 ports, letting the
// caller fall through to the generic fatal path.
func handlePICPortIO(p *pic.PIC, runMem []byte, direction uint8, port uint16, offset uint64) bool {
	data := runMem[offset : offset+1]
	if direction == ioDirectionOut {
		return p.PortWrite(port, data[0])
	}
	val, ok := p.PortRead(port)
	if ok {
		data[0] = val
	}
	return ok
}
