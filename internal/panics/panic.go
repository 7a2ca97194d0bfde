// Package panics implements the hypervisor's fatal-halt path: every
// guest-state invariant violation and every unhandled VM-exit reason
// routes through here rather than returning an error, per spec.md §7.
package panics

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/openhv/openhv/internal/klog"
)

// Dumper is implemented by whatever owns the vCPU state worth dumping
// on a fatal halt. internal/vmx.Vcpu implements this; registering it
// here avoids a panics->vmx import cycle, per spec.md §9's
// "process-wide Option<&Vcpu> read by the panic handler" design note.
type Dumper interface {
	DumpState(log *klog.Logger)
}

var (
	panicking atomic.Bool
	dumper    atomic.Value // holds Dumper
	log       *klog.Logger
)

// Init installs the logger the panic handler writes to. Must be called
// once during startup before any Fatalf/Halt call.
func Init(l *klog.Logger) {
	log = l.Scope("panic")
}

// SetDumper registers the vCPU (or other state holder) to dump on a
// fatal halt. Analogous to spec.md §9's setVm.
func SetDumper(d Dumper) {
	dumper.Store(d)
}

// Fatalf logs a formatted fatal error, dumps registered state, and
// halts forever. It never returns — callers should write it as the
// last statement in a branch, the same way a real panic() is used.
func Fatalf(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	enterFatal(msg)
}

// Recover should be deferred at the top of the vCPU run loop. If the Go
// runtime panics for a reason other than an explicit Fatalf call (e.g.
// a nil dereference in a handler), it is funneled through the same
// dump-and-halt path instead of unwinding past the hypervisor's own
// main.
func Recover() {
	if r := recover(); r != nil {
		enterFatal(fmt.Sprintf("recovered panic: %v", r))
	}
}

func enterFatal(msg string) {
	if !panicking.CompareAndSwap(false, true) {
		// Already panicking: a second fault while dumping state. Halt
		// immediately without further logging, per spec.md §5's
		// double-panic guard.
		Halt()
	}

	if log != nil {
		log.Errorf("fatal: %s", msg)
	}

	if d, ok := dumper.Load().(Dumper); ok && d != nil && log != nil {
		d.DumpState(log)
	}

	buf := make([]byte, 1<<16)
	n := runtime.Stack(buf, false)
	if log != nil {
		log.Errorf("stack trace:\n%s", buf[:n])
	}

	Halt()
}

// Halt is the hosted-process analog of an endless hlt loop: it blocks
// the calling goroutine forever. Since this hypervisor has exactly one
// vCPU goroutine (spec.md §5), this is equivalent to halting the LP.
func Halt() {
	select {}
}
