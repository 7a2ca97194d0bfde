package vmx

// CR0 bits, SDM Vol 3A §2.5.
const (
	cr0PE uint64 = 1 << 0
	cr0MP uint64 = 1 << 1
	cr0EM uint64 = 1 << 2
	cr0TS uint64 = 1 << 3
	cr0ET uint64 = 1 << 4
	cr0NE uint64 = 1 << 5
	cr0WP uint64 = 1 << 16
	cr0AM uint64 = 1 << 18
	cr0NW uint64 = 1 << 29
	cr0CD uint64 = 1 << 30
	cr0PG uint64 = 1 << 31
)

// CR4 bits, SDM Vol 3A §2.5.
const (
	cr4VME   uint64 = 1 << 0
	cr4PAE   uint64 = 1 << 5
	cr4PCIDE uint64 = 1 << 17
	cr4VMXE  uint64 = 1 << 13
	cr4CET   uint64 = 1 << 23
)

// EFER bits, SDM Vol 3A §2.2.1.
const (
	eferSCE uint64 = 1 << 0
	eferLME uint64 = 1 << 8
	eferLMA uint64 = 1 << 10
	eferNXE uint64 = 1 << 11
)

// RFLAGS bits this package inspects.
const (
	rflagsReserved uint64 = 1 << 1 // always set
	rflagsIF       uint64 = 1 << 9
	rflagsVM       uint64 = 1 << 17
)

// VMX feature-control and fixed-bit MSR indices, SDM Vol 4.
const (
	msrIA32FeatureControl uint32 = 0x3A
	msrIA32VMXBasic       uint32 = 0x480
	msrIA32VMXCR0Fixed0   uint32 = 0x486
	msrIA32VMXCR0Fixed1   uint32 = 0x487
	msrIA32VMXCR4Fixed0   uint32 = 0x488
	msrIA32VMXCR4Fixed1   uint32 = 0x489
	msrIA32EFER           uint32 = 0xC0000080
	msrIA32PAT            uint32 = 0x277
	msrIA32SysenterESP    uint32 = 0x175
	msrIA32SysenterEIP    uint32 = 0x176
)

// IA32_FEATURE_CONTROL bits.
const (
	featureControlLockBit      uint64 = 1 << 0
	featureControlVMXOutsideSMX uint64 = 1 << 2
)

// Segment type values used by setupGuestState, SDM Vol 3A §3.4.5.1.
const (
	segTypeDataRW     uint8 = 0x3 // data, read/write, accessed
	segTypeCodeER     uint8 = 0xB // code, execute/read, accessed
	segTypeLDT        uint8 = 0x2
	segTypeTSSBusy32  uint8 = 0xB
)

// msrInstrLen is the fixed encoded length of RDMSR (0F 32) and WRMSR
// (0F 30): KVM's userspace-MSR exit carries no separate
// instruction-length field because both opcodes are always exactly two
// bytes, unlike the variable-length instructions other exit reasons
// decode.
const msrInstrLen uint64 = 2

// ldtrSentinelBase is the recognizable marker spec.md §4.3 requires:
// LDTR.base is set to this value even though this hypervisor's guest
// never loads an LDT. Nothing reads it back; the validation gate only
// checks that it is canonical.
const ldtrSentinelBase uint64 = 0xDEAD00

// exitReason is the basic reason on a VM-exit. Under the KVM
// realization this package uses, this enumerates kvm_run.exit_reason
// values rather than the raw VMCS basic-exit-reason field, per
// SPEC_FULL.md §4.6.
type exitReason uint32

const (
	exitUnknown        exitReason = 0
	exitException      exitReason = 1
	exitIO             exitReason = 2
	exitHypercall      exitReason = 3
	exitDebug          exitReason = 4
	exitHLT            exitReason = 5
	exitMMIO           exitReason = 6
	exitIRQWindowOpen  exitReason = 7
	exitShutdown       exitReason = 8
	exitFailEntry      exitReason = 9
	exitIntr           exitReason = 10
	exitSetTPR         exitReason = 11
	exitTPRAccess      exitReason = 12
	exitInternalError  exitReason = 17
	exitRDMSR          exitReason = 29
	exitWRMSR          exitReason = 30
)

func (r exitReason) String() string {
	switch r {
	case exitUnknown:
		return "EXIT_UNKNOWN"
	case exitException:
		return "EXIT_EXCEPTION"
	case exitIO:
		return "EXIT_IO"
	case exitHypercall:
		return "EXIT_HYPERCALL"
	case exitDebug:
		return "EXIT_DEBUG"
	case exitHLT:
		return "EXIT_HLT"
	case exitMMIO:
		return "EXIT_MMIO"
	case exitIRQWindowOpen:
		return "EXIT_IRQ_WINDOW_OPEN"
	case exitShutdown:
		return "EXIT_SHUTDOWN"
	case exitFailEntry:
		return "EXIT_FAIL_ENTRY"
	case exitIntr:
		return "EXIT_INTR"
	case exitSetTPR:
		return "EXIT_SET_TPR"
	case exitTPRAccess:
		return "EXIT_TPR_ACCESS"
	case exitInternalError:
		return "EXIT_INTERNAL_ERROR"
	case exitRDMSR:
		return "EXIT_X86_RDMSR"
	case exitWRMSR:
		return "EXIT_X86_WRMSR"
	default:
		return "EXIT_UNSPECIFIED"
	}
}

// InstructionError enumerates the SDM Vol 3C §31.4 VM-instruction
// error numbers KVM reports via kvm_run.fail_entry/emulation_failure
// when an entry is structurally rejected.
type InstructionError uint32

const (
	ErrVMCallInVMXRoot                       InstructionError = 1
	ErrVMClearInvalidAddr                    InstructionError = 2
	ErrVMClearVMXONPointer                   InstructionError = 3
	ErrVMLaunchNonClearVMCS                  InstructionError = 4
	ErrVMResumeNonLaunchedVMCS                InstructionError = 5
	ErrVMResumeAfterVMXOFF                   InstructionError = 6
	ErrVMEntryInvalidControlField            InstructionError = 7
	ErrVMEntryInvalidHostStateField          InstructionError = 8
	ErrVMPtrLdInvalidAddr                    InstructionError = 9
	ErrVMPtrLdVMXONPointer                   InstructionError = 10
	ErrVMPtrLdIncorrectRevision              InstructionError = 11
	ErrVMReadWriteUnsupportedField           InstructionError = 12
	ErrVMWriteReadOnlyField                  InstructionError = 13
	ErrVMXONInVMXRoot                        InstructionError = 15
	ErrVMEntryInvalidExecutiveVMCSPointer    InstructionError = 16
	ErrVMEntryNonLaunchedExecutiveVMCS       InstructionError = 17
	ErrVMEntryExecutiveVMCSPointerNotVMXON   InstructionError = 18
	ErrVMCallNonClearVMCS                    InstructionError = 19
	ErrVMCallInvalidVMExitControl            InstructionError = 20
	ErrVMCallIncorrectMSEGRevision           InstructionError = 22
	ErrVMXOFFDualMonitor                     InstructionError = 23
	ErrVMCallInvalidSMMFeatures              InstructionError = 24
	ErrVMEntryInvalidVMExecControl           InstructionError = 25
	ErrVMEntryEventsBlockedByMovSS           InstructionError = 26
	ErrInvalidOperandToINVEPT                InstructionError = 28
)

func (e InstructionError) String() string {
	switch e {
	case ErrVMCallInVMXRoot:
		return "VMCALL executed in VMX root operation"
	case ErrVMClearInvalidAddr:
		return "VMCLEAR with invalid physical address"
	case ErrVMClearVMXONPointer:
		return "VMCLEAR with VMXON pointer"
	case ErrVMLaunchNonClearVMCS:
		return "VMLAUNCH with non-clear VMCS"
	case ErrVMResumeNonLaunchedVMCS:
		return "VMRESUME with non-launched VMCS"
	case ErrVMResumeAfterVMXOFF:
		return "VMRESUME after VMXOFF"
	case ErrVMEntryInvalidControlField:
		return "VM entry with invalid control field(s)"
	case ErrVMEntryInvalidHostStateField:
		return "VM entry with invalid host-state field(s)"
	case ErrVMPtrLdInvalidAddr:
		return "VMPTRLD with invalid physical address"
	case ErrVMPtrLdVMXONPointer:
		return "VMPTRLD with VMXON pointer"
	case ErrVMPtrLdIncorrectRevision:
		return "VMPTRLD with incorrect VMCS revision identifier"
	case ErrVMReadWriteUnsupportedField:
		return "VMREAD/VMWRITE from/to unsupported VMCS component"
	case ErrVMWriteReadOnlyField:
		return "VMWRITE to read-only VMCS component"
	case ErrVMXONInVMXRoot:
		return "VMXON executed in VMX root operation"
	case ErrVMEntryInvalidExecutiveVMCSPointer:
		return "VM entry with invalid executive-VMCS pointer"
	case ErrVMEntryNonLaunchedExecutiveVMCS:
		return "VM entry with non-launched executive VMCS"
	case ErrVMEntryExecutiveVMCSPointerNotVMXON:
		return "VM entry with executive-VMCS pointer not VMXON pointer"
	case ErrVMCallNonClearVMCS:
		return "VMCALL with non-clear VMCS"
	case ErrVMCallInvalidVMExitControl:
		return "VMCALL with invalid VM-exit control fields"
	case ErrVMCallIncorrectMSEGRevision:
		return "VMCALL with incorrect MSEG revision identifier"
	case ErrVMXOFFDualMonitor:
		return "VMXOFF under dual-monitor treatment of SMIs and SMM"
	case ErrVMCallInvalidSMMFeatures:
		return "VMCALL with invalid SMM-monitor features"
	case ErrVMEntryInvalidVMExecControl:
		return "VM entry with invalid VM-execution control fields"
	case ErrVMEntryEventsBlockedByMovSS:
		return "VM entry events blocked by MOV SS"
	case ErrInvalidOperandToINVEPT:
		return "Invalid operand to INVEPT/INVVPID"
	default:
		return "unrecognized VM-instruction error"
	}
}
