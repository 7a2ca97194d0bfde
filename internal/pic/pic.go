// Package pic models the legacy Intel 8259 programmable interrupt
// controller pair this hypervisor presents to its guest: primary at
// ports 0x20/0x21, secondary (cascaded on IRQ2) at 0xA0/0xA1.
package pic

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// IrqLine names one of the sixteen legacy IRQ lines across both
// controllers.
type IrqLine uint8

const (
	Timer IrqLine = iota
	Keyboard
	Cascade
	COM2
	COM1
	LPT2
	Floppy
	LPT1
	RTC
	ACPI
	Available10
	Available11
	PS2Mouse
	FPU
	PrimaryATA
	SecondaryATA
)

const (
	primaryVectorOffset   = 32
	secondaryVectorOffset = 40

	eoiCommand = 0x20

	kvmIRQLine = 0x4008_AE61 // _IOW(KVMIO, 0x61, kvm_irq_level)
)

// Legacy 8259 port addresses this controller answers port I/O against.
const (
	primaryCommandPort   uint16 = 0x20
	primaryDataPort      uint16 = 0x21
	secondaryCommandPort uint16 = 0xA0
	secondaryDataPort    uint16 = 0xA1
)

// irqLevel mirrors struct kvm_irq_level.
type irqLevel struct {
	IRQ   uint32
	Level uint32
}

// controller is one 8259's mask-register state.
type controller struct {
	mask         uint8
	vectorOffset uint8
}

func (c *controller) init(vectorOffset uint8) {
	// ICW1 -> ICW2 -> ICW3 -> ICW4, matching the real hardware sequence;
	// only the vector offset (ICW2) is observable state here since the
	// cascade wiring (ICW3) is fixed for this platform.
	c.vectorOffset = vectorOffset
	c.mask = 0xFF // every line masked until the guest unmasks it
}

func (c *controller) setMask(bit uint8)     { c.mask |= bit }
func (c *controller) unsetMask(bit uint8)   { c.mask &^= bit }
func (c *controller) masked(bit uint8) bool { return c.mask&bit != 0 }

// PIC is the primary/secondary 8259 pair, plus the KVM VM file
// descriptor interrupts are actually delivered through.
type PIC struct {
	vmFd          int
	primary       controller
	secondary     controller
	inServiceMask uint16 // for logging/introspection only
}

// New initializes both controllers with the ICW sequence spec.md
// mandates: ICW1(init+ICW4), ICW2(vector offset), ICW4(8086 mode), then
// masks every line. vmFd is the KVM VM descriptor IRQs are injected
// through via KVM_IRQ_LINE.
func New(vmFd int) *PIC {
	p := &PIC{vmFd: vmFd}
	p.primary.init(primaryVectorOffset)
	p.secondary.init(secondaryVectorOffset)
	return p
}

func maskBit(irq IrqLine) uint8 {
	if irq < 8 {
		return 1 << uint(irq)
	}
	return 1 << uint(irq-8)
}

func (p *PIC) controllerFor(irq IrqLine) *controller {
	if irq < 8 {
		return &p.primary
	}
	return &p.secondary
}

// SetMask masks (disables) irq.
func (p *PIC) SetMask(irq IrqLine) {
	p.controllerFor(irq).setMask(maskBit(irq))
}

// UnsetMask unmasks (enables) irq.
func (p *PIC) UnsetMask(irq IrqLine) {
	p.controllerFor(irq).unsetMask(maskBit(irq))
}

// Masked reports whether irq is currently masked.
func (p *PIC) Masked(irq IrqLine) bool {
	return p.controllerFor(irq).masked(maskBit(irq))
}

// Raise asserts irq to the guest via KVM_IRQ_LINE, unless the line is
// masked. Level-triggered lines must be Lowered by the caller once the
// device deasserts.
func (p *PIC) Raise(irq IrqLine) error {
	if p.Masked(irq) {
		return nil
	}
	p.inServiceMask |= 1 << uint(irq)
	return p.setIrqLevel(irq, 1)
}

// Lower deasserts irq.
func (p *PIC) Lower(irq IrqLine) error {
	p.inServiceMask &^= 1 << uint(irq)
	return p.setIrqLevel(irq, 0)
}

// EOI acknowledges irq by clearing its in-service bit in this model.
// It writes no I/O port (eoiCommand is the value an 8259 expects on
// port 0x20/0xA0), and an irq >= 8 is handled the same way as a
// primary line, with no separate secondary acknowledgement.
func (p *PIC) EOI(irq IrqLine) {
	_ = eoiCommand // the value real hardware expects on the port; no host port to write here
	p.inServiceMask &^= 1 << uint(irq)
}

// PortWrite services a guest OUT instruction against one of the four
// legacy 8259 ports. ok is false when port belongs to neither
// controller, so the caller can fall through to its own
// unhandled-I/O path.
func (p *PIC) PortWrite(port uint16, data uint8) (ok bool) {
	switch port {
	case primaryCommandPort, secondaryCommandPort:
		// ICW/OCW sequencing already completed in New; a guest
		// rewriting it mid-boot is not a shape this hypervisor models.
	case primaryDataPort:
		p.primary.mask = data
	case secondaryDataPort:
		p.secondary.mask = data
	default:
		return false
	}
	return true
}

// PortRead services a guest IN instruction against the mask
// registers. ok is false for any port outside the four this
// controller answers.
func (p *PIC) PortRead(port uint16) (data uint8, ok bool) {
	switch port {
	case primaryDataPort:
		return p.primary.mask, true
	case secondaryDataPort:
		return p.secondary.mask, true
	default:
		return 0, false
	}
}

func (p *PIC) setIrqLevel(irq IrqLine, level uint32) error {
	lvl := irqLevel{IRQ: uint32(irq), Level: level}
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(p.vmFd), uintptr(kvmIRQLine), uintptr(unsafe.Pointer(&lvl)))
	if errno != 0 {
		return fmt.Errorf("pic: KVM_IRQ_LINE(irq=%d, level=%d): %w", irq, level, errno)
	}
	return nil
}
