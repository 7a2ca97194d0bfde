package bootparam

import (
	"encoding/binary"
	"testing"
)

func testHeader(t *testing.T, setupSects uint8) Header {
	t.Helper()
	img := make([]byte, setupHeaderEnd+4096)
	binary.LittleEndian.PutUint16(img[offBootFlag:], 0xAA55)
	copy(img[offHeaderMagic:], "HdrS")
	img[offSetupSects] = setupSects
	h, err := ParseHeader(img)
	if err != nil {
		t.Fatalf("unexpected error building test header: %v", err)
	}
	return h
}

func TestStageBootParamsLayout(t *testing.T) {
	h := testHeader(t, 4)
	bzImage := make([]byte, 64*1024)
	copy(bzImage[h.ProtectedCodeOffset():], []byte{0xDE, 0xAD, 0xBE, 0xEF})

	guestMem := make([]byte, 1<<20) // 1 MiB
	params := Params{
		ZeroPageAddr: 0x10000,
		CmdLineAddr:  0x20000,
		KernelBase:   0x100000 - 0x10000, // keep inside the small test buffer
		GuestMemLen:  uint64(len(guestMem)),
		BzImage:      bzImage,
		Header:       h,
	}
	// KernelBase chosen above could exceed the buffer; pin it inside.
	params.KernelBase = 0x30000

	if err := StageBootParams(guestMem, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	zp := guestMem[params.ZeroPageAddr : params.ZeroPageAddr+zeroPageSize]
	if binary.LittleEndian.Uint16(zp[offBootFlag:]) != 0xAA55 {
		t.Error("boot flag not written")
	}
	if string(zp[offHeaderMagic:offHeaderMagic+4]) != "HdrS" {
		t.Error("header magic not written")
	}
	if zp[typeOfLoaderOffset] != typeOfLoaderUnspecified {
		t.Errorf("type_of_loader = %#x, want %#x", zp[typeOfLoaderOffset], typeOfLoaderUnspecified)
	}
	if got := binary.LittleEndian.Uint16(zp[vidModeOffset:]); got != vidModeNormal {
		t.Errorf("vid_mode = %#x, want %#x", got, vidModeNormal)
	}
	wantHeap := uint16(params.ZeroPageAddr - 0x200)
	if got := binary.LittleEndian.Uint16(zp[heapEndPtrOffset:]); got != wantHeap {
		t.Errorf("heap_end_ptr = %#x, want %#x", got, wantHeap)
	}
	if got := binary.LittleEndian.Uint32(zp[cmdLinePtrOffset:]); uint64(got) != params.CmdLineAddr {
		t.Errorf("cmd_line_ptr = %#x, want %#x", got, params.CmdLineAddr)
	}

	loadFlags := zp[offLoadFlags]
	for _, bit := range []uint8{loadFlagLoadedHigh, loadFlagCanUseHeap, loadFlagKeepSegments} {
		if loadFlags&bit == 0 {
			t.Errorf("load flags %#x missing bit %#x", loadFlags, bit)
		}
	}

	if zp[e820EntriesOffset] != 2 {
		t.Fatalf("e820 entry count = %d, want 2", zp[e820EntriesOffset])
	}
	secondAddr := binary.LittleEndian.Uint64(zp[e820TableOffset+e820EntrySize:])
	if secondAddr != params.KernelBase {
		t.Errorf("second e820 entry addr = %#x, want %#x", secondAddr, params.KernelBase)
	}

	gotCmdline := string(guestMem[params.CmdLineAddr : params.CmdLineAddr+uint64(len(defaultCmdLine))])
	if gotCmdline != defaultCmdLine {
		t.Errorf("command line = %q, want %q", gotCmdline, defaultCmdLine)
	}

	gotCode := guestMem[params.KernelBase : params.KernelBase+4]
	if gotCode[0] != 0xDE || gotCode[1] != 0xAD || gotCode[2] != 0xBE || gotCode[3] != 0xEF {
		t.Errorf("protected-mode code not copied at kernel base, got %x", gotCode)
	}
}

func TestStageBootParamsCmdLineOverride(t *testing.T) {
	h := testHeader(t, 4)
	guestMem := make([]byte, 1<<20)
	params := Params{
		ZeroPageAddr: 0x10000,
		CmdLineAddr:  0x20000,
		KernelBase:   0x30000,
		GuestMemLen:  uint64(len(guestMem)),
		BzImage:      make([]byte, 64*1024),
		Header:       h,
		CmdLine:      "console=ttyS0 root=/dev/vda",
	}
	if err := StageBootParams(guestMem, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := string(guestMem[params.CmdLineAddr : params.CmdLineAddr+uint64(len(params.CmdLine))])
	if got != params.CmdLine {
		t.Errorf("command line = %q, want %q", got, params.CmdLine)
	}
}

func TestStageBootParamsWithInitrd(t *testing.T) {
	h := testHeader(t, 4)
	bzImage := make([]byte, 64*1024)
	guestMem := make([]byte, 1<<20)
	initrd := []byte{1, 2, 3, 4, 5}
	params := Params{
		ZeroPageAddr: 0x10000,
		CmdLineAddr:  0x20000,
		KernelBase:   0x30000,
		GuestMemLen:  uint64(len(guestMem)),
		BzImage:      bzImage,
		Header:       h,
		Initrd:       initrd,
		RamdiskAddr:  0x50000,
	}
	if err := StageBootParams(guestMem, params); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	zp := guestMem[params.ZeroPageAddr : params.ZeroPageAddr+zeroPageSize]
	if got := binary.LittleEndian.Uint32(zp[ramdiskImageOffset:]); uint64(got) != params.RamdiskAddr {
		t.Errorf("ramdisk_image = %#x, want %#x", got, params.RamdiskAddr)
	}
	if got := binary.LittleEndian.Uint32(zp[ramdiskSizeOffset:]); int(got) != len(initrd) {
		t.Errorf("ramdisk_size = %d, want %d", got, len(initrd))
	}
	gotInitrd := guestMem[params.RamdiskAddr : params.RamdiskAddr+uint64(len(initrd))]
	if string(gotInitrd) != string(initrd) {
		t.Errorf("initrd bytes = %v, want %v", gotInitrd, initrd)
	}
}

func TestStageBootParamsRejectsZeroPageOverflow(t *testing.T) {
	h := testHeader(t, 4)
	guestMem := make([]byte, 4096)
	params := Params{
		ZeroPageAddr: 4000, // too close to the end of a 4096-byte buffer
		CmdLineAddr:  0x1000,
		KernelBase:   0x100,
		GuestMemLen:  uint64(len(guestMem)),
		BzImage:      make([]byte, 64*1024),
		Header:       h,
	}
	if err := StageBootParams(guestMem, params); err == nil {
		t.Fatal("expected error for zero page overflowing guest memory")
	}
}
