// Package vmx implements the vCPU lifecycle: opening /dev/kvm, deriving
// the control-register state VMXON requires, populating guest state,
// running the guest, and dispatching VM-exits. See SPEC_FULL.md §4 and
// §0 for the KVM-backed realization this package follows.
package vmx

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl direction bits, mirroring <asm-generic/ioctl.h>.
const (
	iocNone  = 0
	iocWrite = 1
	iocRead  = 2

	iocNrBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNrShift   = 0
	iocTypeShift = iocNrShift + iocNrBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits

	kvmMagic = 0xAE
)

// ioc encodes an ioctl request number the way Linux's _IOC macro does.
// size is the argument's size in bytes, nr its per-command number.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNrShift) | (size << iocSizeShift)
}

func iIO(nr uintptr) uintptr         { return ioc(iocNone, kvmMagic, nr, 0) }
func iIOR(nr, size uintptr) uintptr  { return ioc(iocRead, kvmMagic, nr, size) }
func iIOW(nr, size uintptr) uintptr  { return ioc(iocWrite, kvmMagic, nr, size) }
func iIOWR(nr, size uintptr) uintptr { return ioc(iocRead|iocWrite, kvmMagic, nr, size) }

// KVM ioctl numbers actually used by this hypervisor.
var (
	kvmGetAPIVersion       = iIO(0x00)
	kvmCreateVM            = iIO(0x01)
	kvmGetVCPUMMapSize     = iIO(0x04)
	kvmCreateVCPU          = iIO(0x41)
	kvmRunIoctl            = iIO(0x80)
	kvmSetUserMemoryRegion = iIOW(0x46, unsafe.Sizeof(userspaceMemoryRegion{}))
	kvmGetRegs             = iIOR(0x81, unsafe.Sizeof(kvmRegs{}))
	kvmSetRegs             = iIOW(0x82, unsafe.Sizeof(kvmRegs{}))
	kvmGetSregs            = iIOR(0x83, unsafe.Sizeof(kvmSregs{}))
	kvmSetSregs            = iIOW(0x84, unsafe.Sizeof(kvmSregs{}))
	kvmGetMSRs             = iIOWR(0x88, 8)
	kvmSetMSRs             = iIOW(0x89, 8)
	kvmSetCPUID2           = iIOW(0x90, 8)
	kvmIRQLine             = iIOW(0x61, unsafe.Sizeof(irqLevel{}))
	kvmCreateIRQChip       = iIO(0x60)
)

const apiVersionSupported = 12

// ioctlNoArg issues an ioctl whose argument is the constant zero and
// returns the syscall's result value, used for KVM_GET_API_VERSION,
// KVM_CREATE_VM, KVM_GET_VCPU_MMAP_SIZE and KVM_CREATE_VCPU.
func ioctlNoArg(fd int, req uintptr, arg uintptr) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, arg)
	if errno != 0 {
		return 0, errno
	}
	return int(r), nil
}

// ioctlPtr issues an ioctl whose argument is a pointer to arg.
func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// openKvmDevice opens /dev/kvm and checks the reported API version,
// returning a wrapped error the caller bubbles up per SPEC_FULL.md §7.
func openKvmDevice() (int, error) {
	fd, err := unix.Open("/dev/kvm", unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("opening /dev/kvm: %w", err)
	}

	version, err := ioctlNoArg(fd, kvmGetAPIVersion, 0)
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("KVM_GET_API_VERSION: %w", err)
	}
	if version != apiVersionSupported {
		unix.Close(fd)
		return -1, fmt.Errorf("unsupported KVM API version %d, want %d", version, apiVersionSupported)
	}
	return fd, nil
}
