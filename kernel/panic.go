package kernel

import (
	"github.com/bigjr-mkkong/rs-micros/kernel/cpu"
	"github.com/bigjr-mkkong/rs-micros/kernel/kfmt/early"
)

var (
	// cpuHaltFn is mocked by tests and is automatically inlined by the compiler.
	cpuHaltFn = cpu.Halt

	errRuntimePanic = &Error{Module: "rt", Kind: EFAULT, Message: "unknown cause"}
)

// SetHaltFn overrides the halt primitive Panic/PanicWithDump call after
// printing; used by tests of packages layered on top of kernel (e.g.
// kernel/trap) that need to observe a panic without halting the test
// process on a bodyless asm stub.
func SetHaltFn(fn func()) { cpuHaltFn = fn }

// HaltFn returns the currently installed halt primitive, so a test can save
// and later restore it.
func HaltFn() func() { return cpuHaltFn }

// CoreDump describes the machine state captured at an unrecoverable trap,
// printed by Panic before halting.
type CoreDump struct {
	Hart    uint64
	Xepc    uint64
	Xtval   uint64
	Xstatus uint64
	Satp    uint64
}

// Panic outputs the supplied error (if not nil) and an optional core dump to
// the console and halts the CPU. Calls to Panic never return. Panic also
// works as a redirection target for calls to panic() (resolved via
// runtime.gopanic).
//
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	PanicWithDump(e, nil)
}

// PanicWithDump is the core-dump-aware variant of Panic used by the trap
// dispatcher for unrecoverable exception/interrupt causes.
func PanicWithDump(e interface{}, dump *CoreDump) {
	var err *Error

	switch t := e.(type) {
	case *Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	line, file, msg := 0, "", "unknown cause"
	if err != nil {
		line, file, msg = err.Line, err.File, err.Message
	}

	early.Printf("System Aborting... %d, %s, %s\n", line, file, msg)
	if dump != nil {
		early.Printf(
			"core dump: hart=%d xepc=%x xtval=%x xstatus=%x satp=%x\n",
			dump.Hart, dump.Xepc, dump.Xtval, dump.Xstatus, dump.Satp,
		)
	}

	cpuHaltFn()
}
