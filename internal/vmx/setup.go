package vmx

// codeSegment and dataSegment build the flat, full-address-space
// segments spec.md §4.3 requires: base 0, limit 0xFFFFFFFF, selector
// 0, 4 KiB granularity, 32-bit default operand size.
func codeSegment(dpl, s uint8) segment {
	return segment{
		Base: 0, Limit: 0xFFFFFFFF, Selector: 0,
		Typ: segTypeCodeER, Present: 1, DPL: dpl, DB: 1, S: s, L: 0, G: 1, AVL: 0,
	}
}

func dataSegment(dpl, s uint8) segment {
	return segment{
		Base: 0, Limit: 0xFFFFFFFF, Selector: 0,
		Typ: segTypeDataRW, Present: 1, DPL: dpl, DB: 1, S: s, L: 0, G: 1, AVL: 0,
	}
}

// trSegment builds the task-register segment spec.md §4.3 specifies:
// code-execute-read-accessed, system descriptor, byte granularity,
// 16-bit default.
func trSegment() segment {
	return segment{
		Base: 0, Limit: 0xFFFFFFFF, Selector: 0,
		Typ: segTypeCodeER, Present: 1, DPL: 0, DB: 0, S: 0, L: 0, G: 0, AVL: 0,
	}
}

// ldtrSegment builds LDTR with the sentinel base spec.md §4.3
// prescribes: data-read-write, system descriptor, byte granularity.
func ldtrSegment() segment {
	return segment{
		Base: ldtrSentinelBase, Limit: 0xFFFFFFFF, Selector: 0,
		Typ: segTypeDataRW, Present: 1, DPL: 0, DB: 0, S: 0, L: 0, G: 0, AVL: 0,
	}
}

// buildGuestSregs constructs the kvmSregs image spec.md §4.3 describes
// for a 32-bit protected-mode guest with paging off: CR0 = PE|NE|ET,
// CR4 = VMXE, every segment flat over [0, 4GiB), LDTR carrying the
// 0xDEAD00 sentinel.
func buildGuestSregs(cs controlState) kvmSregs {
	return kvmSregs{
		CS: codeSegment(0, 1),
		DS: dataSegment(0, 1),
		ES: dataSegment(0, 1),
		FS: dataSegment(0, 1),
		GS: dataSegment(0, 1),
		SS: dataSegment(0, 1),
		TR: trSegment(),
		LDT: ldtrSegment(),
		GDT: dtable{Base: 0, Limit: 0},
		IDT: dtable{Base: 0, Limit: 0},
		CR0: cs.cr0,
		CR2: 0,
		CR3: 0,
		CR4: cs.cr4,
		CR8: 0,
		EFER: 0,
	}
}

// buildGuestRegs constructs the initial GuestRegisters plus guest RSP
// spec.md §4.3/§4.8 specifies: RIP = kernelBase, RSI = bootParamAddr,
// RFLAGS = 0x2 (reserved bit set, nothing else), RSP left at 0 (the
// guest sets up its own stack during early boot).
func buildGuestRegs(kernelBase, bootParamAddr uint64) (GuestRegisters, uint64) {
	return GuestRegisters{
		RIP:    kernelBase,
		RSI:    bootParamAddr,
		RFLAGS: rflagsReserved,
	}, 0
}
