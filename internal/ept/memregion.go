package ept

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// userspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
type userspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

const kvmSetUserMemoryRegion = 0x4020_AE46 // KVM_SET_USER_MEMORY_REGION, _IOW(KVMIO, 0x46, kvm_userspace_memory_region)

// RegisterMemory installs mem, starting at guestPhysAddr, as slot on
// the VM identified by vmFd. This is the mapping KVM's hardware MMU
// actually walks; Table above is this hypervisor's own parallel record
// of the same mapping, kept bit-exact to the SDM's EPT entry format.
func RegisterMemory(vmFd int, slot uint32, guestPhysAddr uint64, mem []byte) error {
	if len(mem) == 0 {
		return nil
	}
	region := userspaceMemoryRegion{
		Slot:          slot,
		GuestPhysAddr: guestPhysAddr,
		MemorySize:    uint64(len(mem)),
		UserspaceAddr: uint64(uintptr(unsafe.Pointer(&mem[0]))),
	}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(vmFd), uintptr(kvmSetUserMemoryRegion), uintptr(unsafe.Pointer(&region)))
	if errno != 0 {
		return errno
	}
	return nil
}
