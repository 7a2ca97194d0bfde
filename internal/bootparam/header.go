package bootparam

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Linux x86_64 boot protocol offsets within the kernel image's first
// sector(s), per Documentation/x86/boot.txt.
const (
	offBootFlag    = 0x1FE // u16, must be 0xAA55
	offHeaderMagic = 0x202 // 4 bytes, must be "HdrS"
	offSetupSects  = 0x1F1 // u8
	offProtoVer    = 0x206 // u16
	offLoadFlags   = 0x211 // u8
	offXLoadFlags  = 0x236 // u16
	offCmdlineSize = 0x238 // u32

	setupHeaderStart = 0x1F1
	setupHeaderEnd   = 0x250 // conservative upper bound this repo reads
)

var (
	// ErrBadBootFlag is returned when the kernel image is missing the
	// 0xAA55 boot sector signature.
	ErrBadBootFlag = errors.New("bootparam: missing 0xAA55 boot flag")
	// ErrBadHeaderMagic is returned when the "HdrS" signature is absent.
	ErrBadHeaderMagic = errors.New("bootparam: missing HdrS header signature")
)

// Header is the subset of the Linux setup_header this hypervisor
// reads from a bzImage to compute where the protected-mode kernel code
// starts and how load flags should be set.
type Header struct {
	SetupSects      uint8
	ProtocolVersion uint16
	LoadFlags       uint8
	XLoadFlags      uint16
	CmdlineSize     uint32

	raw []byte // the bytes from setupHeaderStart to setupHeaderEnd, reused verbatim in the zero page
}

// ParseHeader reads and validates the setup_header embedded in a
// bzImage buffer.
func ParseHeader(bzImage []byte) (Header, error) {
	if len(bzImage) < setupHeaderEnd {
		return Header{}, fmt.Errorf("bootparam: kernel image too short to contain a setup header: %d bytes", len(bzImage))
	}
	if binary.LittleEndian.Uint16(bzImage[offBootFlag:]) != 0xAA55 {
		return Header{}, ErrBadBootFlag
	}
	if string(bzImage[offHeaderMagic:offHeaderMagic+4]) != "HdrS" {
		return Header{}, ErrBadHeaderMagic
	}

	h := Header{
		SetupSects:      bzImage[offSetupSects],
		ProtocolVersion: binary.LittleEndian.Uint16(bzImage[offProtoVer:]),
		LoadFlags:       bzImage[offLoadFlags],
		XLoadFlags:      binary.LittleEndian.Uint16(bzImage[offXLoadFlags:]),
		CmdlineSize:     binary.LittleEndian.Uint32(bzImage[offCmdlineSize:]),
	}
	h.raw = append([]byte(nil), bzImage[setupHeaderStart:setupHeaderEnd]...)
	return h, nil
}

// ProtectedCodeOffset is where the protected-mode kernel code begins
// within the bzImage: (setup_sects+1) sectors of 512 bytes each. A
// zero setup_sects is treated as 4, the historical default.
func (h Header) ProtectedCodeOffset() uint64 {
	sects := h.SetupSects
	if sects == 0 {
		sects = 4
	}
	return (uint64(sects) + 1) * 512
}
