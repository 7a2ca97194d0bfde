package vmx

// kvmRegs mirrors struct kvm_regs from <linux/kvm.h>: the fifteen
// general-purpose registers plus RIP/RFLAGS that KVM_GET_REGS/
// KVM_SET_REGS exchange. Guest RSP lives here too, unlike the save
// area in GuestRegisters, which deliberately omits it — RSP-class
// access always goes through this struct and never through the save
// area, per spec.md's invariant.
type kvmRegs struct {
	RAX, RBX, RCX, RDX    uint64
	RSI, RDI, RSP, RBP    uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	RIP, RFLAGS           uint64
}

// segment mirrors struct kvm_segment.
type segment struct {
	Base     uint64
	Limit    uint32
	Selector uint16
	Typ      uint8
	Present  uint8
	DPL      uint8
	DB       uint8
	S        uint8
	L        uint8
	G        uint8
	AVL      uint8
	Unusable uint8
	_        uint8
}

// dtable mirrors struct kvm_dtable, used for GDTR/IDTR.
type dtable struct {
	Base  uint64
	Limit uint16
	_     [3]uint16
}

const numInterrupts = 0x100

// kvmSregs mirrors struct kvm_sregs.
type kvmSregs struct {
	CS, DS, ES, FS, GS, SS segment
	TR, LDT                segment
	GDT, IDT               dtable
	CR0, CR2, CR3, CR4     uint64
	CR8                    uint64
	EFER                   uint64
	ApicBase               uint64
	InterruptBitmap        [(numInterrupts + 63) / 64]uint64
}

// msrEntry mirrors struct kvm_msr_entry.
type msrEntry struct {
	Index uint32
	_     uint32
	Data  uint64
}

// maxMSRs bounds the fixed-size msrs struct this package ever issues
// in one KVM_GET_MSRS/KVM_SET_MSRS call; every caller here touches a
// handful of MSRs at a time.
const maxMSRs = 8

// msrs mirrors the variable-length struct kvm_msrs, fixed at maxMSRs
// entries since this hypervisor never needs more per call.
type msrs struct {
	Nmsrs uint32
	_     uint32
	Entries [maxMSRs]msrEntry
}

// userspaceMemoryRegion mirrors struct kvm_userspace_memory_region.
type userspaceMemoryRegion struct {
	Slot          uint32
	Flags         uint32
	GuestPhysAddr uint64
	MemorySize    uint64
	UserspaceAddr uint64
}

// irqLevel mirrors struct kvm_irq_level.
type irqLevel struct {
	IRQ   uint32
	Level uint32
}

// GuestRegisters is the fifteen-GPR save area spec.md §3 describes:
// every general-purpose register except RSP, which lives exclusively
// in kvmRegs.RSP / VMCS Guest.rsp. Vcpu.runOnce merges this into
// kvmRegs before KVM_SET_REGS and refreshes it from kvmRegs after
// KVM_GET_REGS, leaving kvmRegs.RSP untouched on the way back in.
type GuestRegisters struct {
	RAX, RBX, RCX, RDX uint64
	RSI, RDI, RBP      uint64
	R8, R9, R10, R11   uint64
	R12, R13, R14, R15 uint64
	RIP, RFLAGS        uint64
}

func (g *GuestRegisters) toKvmRegs(rsp uint64) kvmRegs {
	return kvmRegs{
		RAX: g.RAX, RBX: g.RBX, RCX: g.RCX, RDX: g.RDX,
		RSI: g.RSI, RDI: g.RDI, RSP: rsp, RBP: g.RBP,
		R8: g.R8, R9: g.R9, R10: g.R10, R11: g.R11,
		R12: g.R12, R13: g.R13, R14: g.R14, R15: g.R15,
		RIP: g.RIP, RFLAGS: g.RFLAGS,
	}
}

func (g *GuestRegisters) fromKvmRegs(r *kvmRegs) {
	g.RAX, g.RBX, g.RCX, g.RDX = r.RAX, r.RBX, r.RCX, r.RDX
	g.RSI, g.RDI, g.RBP = r.RSI, r.RDI, r.RBP
	g.R8, g.R9, g.R10, g.R11 = r.R8, r.R9, r.R10, r.R11
	g.R12, g.R13, g.R14, g.R15 = r.R12, r.R13, r.R14, r.R15
	g.RIP, g.RFLAGS = r.RIP, r.RFLAGS
}
