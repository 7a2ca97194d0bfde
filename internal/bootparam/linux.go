// Package bootparam stages the Linux x86_64 boot_params zero page,
// command line, and setup_header the guest kernel expects at entry,
// following the same byte-for-byte protocol
// tinyrange/cc's BuildZeroPage and bobuhiro11/gokvm's boot path do.
package bootparam

import (
	"encoding/binary"
	"fmt"
)

const (
	zeroPageSize = 0x1000 // one page, matches every Go KVM loader in the pack

	e820EntriesOffset = 0x1E8
	e820TableOffset   = 0x2D0
	e820EntrySize     = 20
	e820TypeRAM       = 1

	typeOfLoaderOffset = 0x210
	extLoaderVerOffset = 0x226
	heapEndPtrOffset   = 0x224
	cmdLinePtrOffset   = 0x228
	vidModeOffset      = 0x1FA

	ramdiskImageOffset = 0x218
	ramdiskSizeOffset  = 0x21C

	typeOfLoaderUnspecified uint8  = 0xFF
	vidModeNormal           uint16 = 0xFFFF

	loadFlagLoadedHigh   uint8 = 1 << 0
	loadFlagKeepSegments uint8 = 1 << 6
	loadFlagCanUseHeap   uint8 = 1 << 7
)

// E820Entry is one BIOS/UEFI-style memory map entry recorded in the
// zero page's e820 table.
type E820Entry struct {
	Addr uint64
	Size uint64
	Type uint32
}

// Params describes everything StageBootParams needs to place the zero
// page, command line, and kernel image into guest memory.
type Params struct {
	ZeroPageAddr uint64
	CmdLineAddr  uint64
	KernelBase   uint64
	GuestMemLen  uint64
	BzImage      []byte
	Header       Header

	// Initrd and RamdiskAddr are optional; RamdiskAddr is ignored when
	// Initrd is empty.
	Initrd      []byte
	RamdiskAddr uint64

	// CmdLine overrides defaultCmdLine when nonempty.
	CmdLine string
}

const defaultCmdLine = "console=ttyS0"

// StageBootParams writes the zero page, NUL-padded command line, and
// the protected-mode kernel code into guestMem (a slice covering the
// whole guest-physical address space starting at 0), per spec.md §4.8.
func StageBootParams(guestMem []byte, p Params) error {
	if p.ZeroPageAddr+zeroPageSize > uint64(len(guestMem)) {
		return fmt.Errorf("bootparam: zero page at %#x does not fit in %d bytes of guest memory", p.ZeroPageAddr, len(guestMem))
	}

	zp := make([]byte, zeroPageSize)
	copy(zp[setupHeaderStart:setupHeaderEnd], p.Header.raw)

	binary.LittleEndian.PutUint16(zp[offBootFlag:], 0xAA55)
	copy(zp[offHeaderMagic:], "HdrS")
	binary.LittleEndian.PutUint16(zp[vidModeOffset:], vidModeNormal)

	zp[typeOfLoaderOffset] = typeOfLoaderUnspecified
	zp[extLoaderVerOffset] = 0

	loadFlags := p.Header.LoadFlags | loadFlagLoadedHigh | loadFlagCanUseHeap | loadFlagKeepSegments
	zp[offLoadFlags] = loadFlags

	if p.ZeroPageAddr < 0x200 {
		return fmt.Errorf("bootparam: zero page address %#x too low for heap_end_ptr", p.ZeroPageAddr)
	}
	binary.LittleEndian.PutUint16(zp[heapEndPtrOffset:], uint16(p.ZeroPageAddr-0x200))

	if p.CmdLineAddr > 0xFFFFFFFF {
		return fmt.Errorf("bootparam: command line address %#x exceeds 32-bit field", p.CmdLineAddr)
	}
	binary.LittleEndian.PutUint32(zp[cmdLinePtrOffset:], uint32(p.CmdLineAddr))

	entries := []E820Entry{
		{Addr: 0, Size: p.KernelBase, Type: e820TypeRAM},
		{Addr: p.KernelBase, Size: p.GuestMemLen - p.KernelBase, Type: e820TypeRAM},
	}
	if err := writeE820(zp, entries); err != nil {
		return err
	}

	if len(p.Initrd) > 0 {
		if p.RamdiskAddr+uint64(len(p.Initrd)) > uint64(len(guestMem)) {
			return fmt.Errorf("bootparam: initrd at %#x does not fit in guest memory", p.RamdiskAddr)
		}
		binary.LittleEndian.PutUint32(zp[ramdiskImageOffset:], uint32(p.RamdiskAddr))
		binary.LittleEndian.PutUint32(zp[ramdiskSizeOffset:], uint32(len(p.Initrd)))
		copy(guestMem[p.RamdiskAddr:], p.Initrd)
	}

	copy(guestMem[p.ZeroPageAddr:], zp)

	line := p.CmdLine
	if line == "" {
		line = defaultCmdLine
	}
	if err := stageCmdline(guestMem, p.CmdLineAddr, p.Header.CmdlineSize, line); err != nil {
		return err
	}

	return stageKernelCode(guestMem, p)
}

func writeE820(zp []byte, entries []E820Entry) error {
	if int(e820TableOffset+len(entries)*e820EntrySize) > len(zp) {
		return fmt.Errorf("bootparam: e820 table overflows the zero page")
	}
	zp[e820EntriesOffset] = byte(len(entries))
	for i, e := range entries {
		base := e820TableOffset + i*e820EntrySize
		binary.LittleEndian.PutUint64(zp[base:], e.Addr)
		binary.LittleEndian.PutUint64(zp[base+8:], e.Size)
		binary.LittleEndian.PutUint32(zp[base+16:], e.Type)
	}
	return nil
}

func stageCmdline(guestMem []byte, addr uint64, cmdlineSize uint32, line string) error {
	size := cmdlineSize
	if size == 0 {
		size = uint32(len(line) + 1)
	}
	if addr+uint64(size) > uint64(len(guestMem)) {
		return fmt.Errorf("bootparam: command line at %#x does not fit in guest memory", addr)
	}
	buf := make([]byte, size)
	copy(buf, line)
	copy(guestMem[addr:], buf)
	return nil
}

func stageKernelCode(guestMem []byte, p Params) error {
	off := p.Header.ProtectedCodeOffset()
	if off >= uint64(len(p.BzImage)) {
		return fmt.Errorf("bootparam: protected-mode code offset %#x beyond image length %d", off, len(p.BzImage))
	}
	code := p.BzImage[off:]
	if p.KernelBase+uint64(len(code)) > uint64(len(guestMem)) {
		return fmt.Errorf("bootparam: protected-mode code does not fit at %#x in guest memory", p.KernelBase)
	}
	copy(guestMem[p.KernelBase:], code)
	return nil
}
