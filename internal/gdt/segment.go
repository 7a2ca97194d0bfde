// Package gdt provides the bit-exact segment-selector and
// segment-access-rights encodings the SDM defines for VMCS guest
// segment fields, independent of any particular guest-state
// representation.
package gdt

// SegmentSelector is a 16-bit segment selector: index into a
// descriptor table, table indicator, and requested privilege level.
type SegmentSelector uint16

// NewSegmentSelector packs index, ti (0 = GDT, 1 = LDT) and rpl into a
// selector value.
func NewSegmentSelector(index uint16, ti bool, rpl uint8) SegmentSelector {
	var s SegmentSelector
	s |= SegmentSelector(rpl & 0x3)
	if ti {
		s |= 1 << 2
	}
	s |= SegmentSelector(index) << 3
	return s
}

// RPL returns the requested privilege level (bits 1:0).
func (s SegmentSelector) RPL() uint8 { return uint8(s & 0x3) }

// TI returns true if the selector references the LDT rather than the GDT.
func (s SegmentSelector) TI() bool { return s&(1<<2) != 0 }

// Index returns the descriptor-table index (bits 15:3).
func (s SegmentSelector) Index() uint16 { return uint16(s >> 3) }

// SegmentFields is the unpacked form of a segment's access-rights byte,
// matching the field vocabulary KVM's kvm_segment (and this
// repository's internal/vmx.segment) expose per field rather than
// packed into one word.
type SegmentFields struct {
	Type     uint8 // bits 3:0
	System   bool  // S: false = system descriptor, true = code/data
	DPL      uint8 // descriptor privilege level, bits 6:5
	Present  bool
	AVL      bool // available for system software
	Long     bool // 64-bit code segment
	DB       bool // default operand size (32-bit)
	Granular bool // limit is in 4 KiB units
	Unusable bool // segment marked not present/unusable (KVM extension)
}

// SegmentRights is the packed access-rights word the VMCS guest
// segment access-rights fields (and KVM's Sregs equivalent) actually
// store: type, S, DPL, P in the low byte, AVL/L/DB/G above a reserved
// gap, and the unusable bit above that. This is the bitfield twin of
// SegmentFields — the two round-trip via To/From.
type SegmentRights uint32

const (
	rightsTypeShift   = 0
	rightsTypeMask    = 0xF
	rightsSystemBit   = 1 << 4
	rightsDPLShift    = 5
	rightsDPLMask     = 0x3
	rightsPresentBit  = 1 << 7
	rightsAVLBit      = 1 << 12
	rightsLongBit     = 1 << 13
	rightsDBBit       = 1 << 14
	rightsGranularBit = 1 << 15
	rightsUnusableBit = 1 << 16
)

// From packs f into a SegmentRights word.
func From(f SegmentFields) SegmentRights {
	var r SegmentRights
	r |= SegmentRights(f.Type&rightsTypeMask) << rightsTypeShift
	if f.System {
		r |= rightsSystemBit
	}
	r |= SegmentRights(f.DPL&rightsDPLMask) << rightsDPLShift
	if f.Present {
		r |= rightsPresentBit
	}
	if f.AVL {
		r |= rightsAVLBit
	}
	if f.Long {
		r |= rightsLongBit
	}
	if f.DB {
		r |= rightsDBBit
	}
	if f.Granular {
		r |= rightsGranularBit
	}
	if f.Unusable {
		r |= rightsUnusableBit
	}
	return r
}

// To unpacks r into its named fields.
func (r SegmentRights) To() SegmentFields {
	return SegmentFields{
		Type:     uint8(r>>rightsTypeShift) & rightsTypeMask,
		System:   r&rightsSystemBit != 0,
		DPL:      uint8(r>>rightsDPLShift) & rightsDPLMask,
		Present:  r&rightsPresentBit != 0,
		AVL:      r&rightsAVLBit != 0,
		Long:     r&rightsLongBit != 0,
		DB:       r&rightsDBBit != 0,
		Granular: r&rightsGranularBit != 0,
		Unusable: r&rightsUnusableBit != 0,
	}
}
