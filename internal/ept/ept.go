package ept

import (
	"fmt"
	"unsafe"
)

// Table is the four-level extended page table for one vCPU's guest
// address space. It mirrors IA-32e paging structurally — four 512-entry
// levels, 4 KiB leaves — but with the EPT-specific entry layout from
// entry.go, and it is built lazily: intermediate levels come into
// existence the first time Map touches an address range that needs
// them.
//
// Per SPEC_FULL §4.7, the table this type maintains is this
// hypervisor's own record of the mapping, kept bit-exact to what the
// SDM specifies; the mapping that Linux's KVM module actually walks in
// hardware comes from the KVM_SET_USER_MEMORY_REGION slot registered
// through memregion.go.
type Table struct {
	alloc    *PageAllocator
	root     *pageTable
	rootPhys uintptr
	byPhys   map[uintptr]*pageTable
}

// New allocates an empty root table from alloc.
func New(alloc *PageAllocator) (*Table, error) {
	page, off, err := alloc.Alloc()
	if err != nil {
		return nil, fmt.Errorf("ept: allocating root table: %w", err)
	}
	t := &Table{
		alloc:    alloc,
		root:     castTable(page),
		rootPhys: off,
		byPhys:   make(map[uintptr]*pageTable),
	}
	t.byPhys[off] = t.root
	return t, nil
}

// Map installs leaf entries for every page in
// [guestPhysStart, guestPhysStart+length) over hostPhysBase, allocating
// any intermediate levels the walk needs. guestPhysStart, hostPhysBase
// and length must all be page-aligned.
func (t *Table) Map(guestPhysStart, hostPhysBase, length uintptr, writable, executable bool) error {
	if guestPhysStart%PageSize != 0 || hostPhysBase%PageSize != 0 || length%PageSize != 0 {
		return fmt.Errorf("ept: Map requires page-aligned arguments, got start=%#x base=%#x length=%#x", guestPhysStart, hostPhysBase, length)
	}
	for off := uintptr(0); off < length; off += PageSize {
		if err := t.mapPage(guestPhysStart+off, hostPhysBase+off, writable, executable); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) mapPage(guestAddr, hostAddr uintptr, writable, executable bool) error {
	l3, err := t.child(t.root, pageTableIndex(guestAddr, 39))
	if err != nil {
		return err
	}
	l2, err := t.child(l3, pageTableIndex(guestAddr, 30))
	if err != nil {
		return err
	}
	l1, err := t.child(l2, pageTableIndex(guestAddr, 21))
	if err != nil {
		return err
	}
	l1[pageTableIndex(guestAddr, 12)] = leafEntry(hostAddr, writable, executable)
	return nil
}

// child returns the table parent's entry at idx points at, allocating
// and linking a fresh one if the entry is not yet present.
func (t *Table) child(parent *pageTable, idx int) (*pageTable, error) {
	if e := parent[idx]; e.valid() {
		c, ok := t.byPhys[e.address()]
		if !ok {
			return nil, fmt.Errorf("ept: entry at index %d points at untracked table %#x", idx, e.address())
		}
		return c, nil
	}
	page, off, err := t.alloc.Alloc()
	if err != nil {
		return nil, fmt.Errorf("ept: allocating intermediate table: %w", err)
	}
	c := castTable(page)
	parent[idx] = tableEntry(off)
	t.byPhys[off] = c
	return c, nil
}

// pageTableIndex extracts the 9-bit index into the level whose entries
// cover 1<<shift bytes each.
func pageTableIndex(addr uintptr, shift uint) int {
	return int((addr >> shift) & 0x1FF)
}

func castTable(page []byte) *pageTable {
	if len(page) != PageSize {
		panic("ept: page allocator returned a non-page-sized buffer")
	}
	return (*pageTable)(unsafe.Pointer(&page[0]))
}

// EPTP encodes the VMCS EPT-pointer field: write-back memory type,
// page-walk length 4 (stored as length-1), access/dirty flags
// disabled, and the L4 table's physical address.
func (t *Table) EPTP() uint64 {
	const (
		memTypeWriteBackField = 6
		walkLengthMinus1      = 3
	)
	return uint64(t.rootPhys&physAddrMask) | walkLengthMinus1<<3 | memTypeWriteBackField
}

// RootPhysAddr returns the L4 table's physical address, for logging.
func (t *Table) RootPhysAddr() uintptr { return t.rootPhys }
