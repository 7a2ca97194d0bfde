// Package config is the plain struct cmd/openhv and cmd/mkguest bind
// their cobra/pflag flags into. There is no file-based configuration —
// spec.md treats option plumbing as out of scope, but the flags
// themselves still need a typed home rather than being read ad hoc
// from viper/pflag at every call site.
package config

import "fmt"

// Hypervisor holds cmd/openhv's flags.
type Hypervisor struct {
	KernelPath string
	InitrdPath string
	CmdLine    string
	MemSizeMiB uint64
	LogLevel   string
}

// DefaultMemSizeMiB is the --mem-mib flag's default; Validate rejects
// an explicit zero.
const DefaultMemSizeMiB = 256

// Validate checks the combination of flags cmd/openhv actually needs
// to boot a guest.
func (h Hypervisor) Validate() error {
	if h.KernelPath == "" {
		return fmt.Errorf("config: --kernel is required")
	}
	if h.MemSizeMiB == 0 {
		return fmt.Errorf("config: --mem-mib must be nonzero")
	}
	if h.MemSizeMiB < 2 {
		return fmt.Errorf("config: --mem-mib must be at least 2 MiB to hold the kernel and boot_params")
	}
	return nil
}

// MkGuest holds cmd/mkguest's flags.
type MkGuest struct {
	KernelPath string
	InitrdPath string
	OutDir     string
	CmdLine    string
}

// Validate checks the combination of flags cmd/mkguest needs to
// assemble a guest directory.
func (g MkGuest) Validate() error {
	if g.KernelPath == "" {
		return fmt.Errorf("config: --kernel is required")
	}
	if g.OutDir == "" {
		return fmt.Errorf("config: --out is required")
	}
	return nil
}
