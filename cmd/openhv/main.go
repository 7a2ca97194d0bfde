// Package main is openhv, the command that boots a single Linux guest
// under KVM: it loads a bzImage and optional initrd, builds the guest's
// memory and ACPI tables, installs the vCPU's entry state, and runs the
// guest until it halts or faults.
package main

import (
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/openhv/openhv/internal/acpi"
	"github.com/openhv/openhv/internal/bootinfo"
	"github.com/openhv/openhv/internal/bootparam"
	"github.com/openhv/openhv/internal/config"
	"github.com/openhv/openhv/internal/ept"
	"github.com/openhv/openhv/internal/klog"
	"github.com/openhv/openhv/internal/panics"
	"github.com/openhv/openhv/internal/pic"
	"github.com/openhv/openhv/internal/vmx"
)

// Memory layout this hypervisor hands to every guest, matching the
// historical x86 KVM loader convention of keeping the zero page, ACPI
// tables, and command line below the 1 MiB real-mode boundary and the
// kernel image itself above it.
const (
	acpiRSDPAddr  = 0x9000
	acpiXSDTAddr  = 0x9100
	acpiFADTAddr  = 0x9200
	bootParamAddr = 0x10000
	cmdlineAddr   = 0x20000
	ramdiskAddr   = 0x800000
	kernelBase    = 0x100000
)

var cfg config.Hypervisor

var rootCmd = &cobra.Command{
	Use:   "openhv",
	Short: "boot a Linux guest under a minimal KVM-backed hypervisor",
	RunE:  run,
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&cfg.KernelPath, "kernel", "", "path to a bzImage kernel (required)")
	flags.StringVar(&cfg.InitrdPath, "initrd", "", "path to an initrd image (optional)")
	flags.StringVar(&cfg.CmdLine, "cmdline", "", "kernel command line override")
	flags.Uint64Var(&cfg.MemSizeMiB, "mem-mib", config.DefaultMemSizeMiB, "guest memory size in MiB")
	flags.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, err)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(_ *cobra.Command, _ []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := klog.New(os.Stderr, cfg.LogLevel)
	panics.Init(log)
	boot := log.Scope("boot")

	kernelImage, err := os.ReadFile(cfg.KernelPath)
	if err != nil {
		return fmt.Errorf("openhv: reading kernel image: %w", err)
	}
	header, err := bootparam.ParseHeader(kernelImage)
	if err != nil {
		return fmt.Errorf("openhv: %w", err)
	}

	var initrd []byte
	if cfg.InitrdPath != "" {
		initrd, err = os.ReadFile(cfg.InitrdPath)
		if err != nil {
			return fmt.Errorf("openhv: reading initrd: %w", err)
		}
	}

	guestMemLen := cfg.MemSizeMiB << 20
	guestMem, err := unix.Mmap(-1, 0, int(guestMemLen), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return fmt.Errorf("openhv: allocating guest memory: %w", err)
	}
	defer unix.Munmap(guestMem)

	rsdpAddr, err := buildACPITables(guestMem, boot)
	if err != nil {
		return fmt.Errorf("openhv: %w", err)
	}

	info := bootinfo.New(
		[]bootinfo.MemoryMapEntry{{PhysStart: 0, Pages: guestMemLen / ept.PageSize, Usable: true}},
		bootinfo.GuestInfo{Image: kernelImage, Initrd: initrd},
		rsdpAddr,
	)
	if err := info.Validate(); err != nil {
		panics.Fatalf("boot-info record failed validation: %v", err)
	}
	boot.Infof("guest memory %d MiB, %d usable pages", cfg.MemSizeMiB, info.UsablePages())

	// The vCPU file descriptor is bound to the thread that issued
	// KVM_CREATE_VCPU; KVM_RUN from any other OS thread fails.
	runtime.LockOSThread()

	vcpu, err := vmx.Open(log)
	if err != nil {
		return fmt.Errorf("openhv: %w", err)
	}
	defer vcpu.Close()
	panics.SetDumper(vcpu)

	vcpu.SetGuestMemory(0, guestMem)
	if err := ept.RegisterMemory(vcpu.VMFd(), 0, 0, guestMem); err != nil {
		return fmt.Errorf("openhv: registering guest memory with KVM: %w", err)
	}

	table, err := buildEPT(guestMem)
	if err != nil {
		return fmt.Errorf("openhv: %w", err)
	}
	vcpu.SetEPT(table)
	boot.Debugf("eptp=%#x root=%#x", table.EPTP(), table.RootPhysAddr())

	stageParams := bootparam.Params{
		ZeroPageAddr: bootParamAddr,
		CmdLineAddr:  cmdlineAddr,
		KernelBase:   kernelBase,
		GuestMemLen:  guestMemLen,
		BzImage:      kernelImage,
		Header:       header,
		Initrd:       initrd,
		RamdiskAddr:  ramdiskAddr,
		CmdLine:      cfg.CmdLine,
	}
	if err := bootparam.StageBootParams(guestMem, stageParams); err != nil {
		return fmt.Errorf("openhv: %w", err)
	}

	vcpu.SetPIC(pic.New(vcpu.VMFd()))

	if err := vcpu.SetupGuestState(kernelBase, bootParamAddr); err != nil {
		return fmt.Errorf("openhv: %w", err)
	}

	boot.Infof("entering guest at rip=%#x", kernelBase)
	return vcpu.Loop()
}

// buildEPT sizes a page pool proportional to guestMem's length (one L1
// table per 512 leaves, plus the L2/L3/L4 root chain) and maps all of
// guestMem into it as read/write/execute.
func buildEPT(guestMem []byte) (*ept.Table, error) {
	const entriesPerTable = 512
	l1Tables := (uint64(len(guestMem)) + entriesPerTable*ept.PageSize - 1) / (entriesPerTable * ept.PageSize)
	poolPages := l1Tables + 4 // L1 tables plus L2/L3/L4 and slack

	pool := make([]byte, poolPages*ept.PageSize)
	alloc := ept.NewPageAllocator(pool)
	table, err := ept.New(alloc)
	if err != nil {
		return nil, fmt.Errorf("building EPT: %w", err)
	}
	hostBase := uintptr(unsafe.Pointer(&guestMem[0]))
	if err := table.Map(0, hostBase, uintptr(len(guestMem)), true, true); err != nil {
		return nil, fmt.Errorf("mapping guest memory: %w", err)
	}
	return table, nil
}

// buildACPITables synthesizes a minimal RSDP/XSDT/FADT chain and writes
// it into guestMem below the boot_params page; this hypervisor has no
// UEFI firmware to hand one off, so it plays that role itself.
func buildACPITables(guestMem []byte, log *klog.Logger) (uint64, error) {
	fadt := acpi.BuildFADT()
	xsdt := acpi.BuildXSDT([]uint64{acpiFADTAddr})
	rsdp := acpi.BuildRSDP(acpiXSDTAddr)

	if err := copyAt(guestMem, acpiFADTAddr, fadt); err != nil {
		return 0, err
	}
	if err := copyAt(guestMem, acpiXSDTAddr, xsdt); err != nil {
		return 0, err
	}
	if err := copyAt(guestMem, acpiRSDPAddr, rsdp); err != nil {
		return 0, err
	}

	if _, err := acpi.ParseRSDP(guestMem[acpiRSDPAddr:]); err != nil {
		return 0, fmt.Errorf("synthesized RSDP failed self-check: %w", err)
	}
	log.Scope("acpi").Debugf("rsdp=%#x xsdt=%#x fadt=%#x", acpiRSDPAddr, acpiXSDTAddr, acpiFADTAddr)
	return acpiRSDPAddr, nil
}

func copyAt(mem []byte, addr uint64, b []byte) error {
	if addr+uint64(len(b)) > uint64(len(mem)) {
		return fmt.Errorf("openhv: ACPI table at %#x does not fit in guest memory", addr)
	}
	copy(mem[addr:], b)
	return nil
}
