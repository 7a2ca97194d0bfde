package vmx

import (
	"fmt"
	"unsafe"
)

// readMSRs issues a single KVM_GET_MSRS for the given indices and
// returns their values in the same order. Modeled on the whitelist
// pattern real Go KVM hypervisors in the pack use for bulk MSR reads.
func readMSRs(vcpuFd int, indices ...uint32) ([]uint64, error) {
	if len(indices) == 0 || len(indices) > maxMSRs {
		return nil, fmt.Errorf("readMSRs: %d indices exceeds limit %d", len(indices), maxMSRs)
	}

	var m msrs
	m.Nmsrs = uint32(len(indices))
	for i, idx := range indices {
		m.Entries[i].Index = idx
	}

	if err := ioctlPtr(vcpuFd, kvmGetMSRs, unsafe.Pointer(&m)); err != nil {
		return nil, fmt.Errorf("KVM_GET_MSRS: %w", err)
	}

	out := make([]uint64, len(indices))
	for i := range indices {
		out[i] = m.Entries[i].Data
	}
	return out, nil
}

// writeMSRs issues a single KVM_SET_MSRS writing the given
// index/value pairs.
func writeMSRs(vcpuFd int, values map[uint32]uint64) error {
	if len(values) == 0 || len(values) > maxMSRs {
		return fmt.Errorf("writeMSRs: %d values exceeds limit %d", len(values), maxMSRs)
	}

	var m msrs
	i := 0
	for idx, val := range values {
		m.Entries[i] = msrEntry{Index: idx, Data: val}
		i++
	}
	m.Nmsrs = uint32(i)

	if err := ioctlPtr(vcpuFd, kvmSetMSRs, unsafe.Pointer(&m)); err != nil {
		return fmt.Errorf("KVM_SET_MSRS: %w", err)
	}
	return nil
}

// vmxBasicRevisionID reads IA32_VMX_BASIC[30:0], the VMCS revision
// identifier spec.md §3/§4.2 requires written into the first 31 bits
// of the VMXON and VMCS regions. Under the KVM realization no real
// region is allocated (§0), but the invariant in spec.md §8 scenario 2
// is still meaningfully testable against this value.
func vmxBasicRevisionID(vcpuFd int) (uint32, error) {
	vals, err := readMSRs(vcpuFd, msrIA32VMXBasic)
	if err != nil {
		return 0, fmt.Errorf("vmxBasicRevisionID: %w", err)
	}
	return uint32(vals[0] & 0x7FFFFFFF), nil
}
