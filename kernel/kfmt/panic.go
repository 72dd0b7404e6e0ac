package kfmt

import (
	"runtime"
	"unsafe"

	"nucleuskernel/kernel"
	"nucleuskernel/kernel/cpu"
)

const (
	// maxTraceFrames bounds the RBP-chain walk in a panic dump.
	maxTraceFrames = 20

	// traceFloor and traceCeiling are the sanity bounds applied to each
	// frame pointer before it is dereferenced: values below 1 MiB or at or
	// above the canonical user ceiling terminate the walk.
	traceFloor   = uintptr(1 << 20)
	traceCeiling = uintptr(0x0000800000000000)
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	cpuHaltFn           = cpu.Halt
	disableInterruptsFn = cpu.DisableInterrupts
	readCR0Fn           = cpu.ReadCR0
	readCR2Fn           = cpu.ReadCR2
	readCR3Fn           = cpu.ActivePDT
	readCR4Fn           = cpu.ReadCR4
	readRBPFn           = cpu.ReadRBP
	callerFn            = runtime.Caller

	// readFramePointerFn dereferences one slot of the RBP chain; tests
	// point it at a fake stack.
	readFramePointerFn = func(addr uintptr) uintptr {
		return *(*uintptr)(unsafe.Pointer(addr))
	}

	// panicking guards against a panic raised while a panic dump is
	// already in progress; the second panic prints a terse notice and
	// halts with interrupts disabled instead of recursing.
	panicking bool

	errRuntimePanic = &kernel.Error{Module: "rt", Message: "unknown cause"}
)

// Panic outputs the supplied error (if not nil) to the console along with
// the panic's origin, the control registers and a bounded frame-pointer
// stack trace, then halts the CPU. Calls to Panic never return. Panic also
// works as a redirection target for calls to panic() (resolved via
// runtime.gopanic)
//go:redirect-from runtime.gopanic
func Panic(e interface{}) {
	if panicking {
		Printf("\n*** double panic: halting ***\n")
		disableInterruptsFn()
		cpuHaltFn()
		return
	}
	panicking = true

	var err *kernel.Error

	switch t := e.(type) {
	case *kernel.Error:
		err = t
	case string:
		errRuntimePanic.Message = t
		err = errRuntimePanic
	case error:
		errRuntimePanic.Message = t.Error()
		err = errRuntimePanic
	}

	Printf("\n-----------------------------------\n")
	if err != nil {
		Printf("[%s] unrecoverable error: %s\n", err.Module, err.Message)
	}
	printPanicOrigin()
	printControlRegisters()
	StackTrace(readRBPFn())
	Printf("*** kernel panic: system halted ***")
	Printf("\n-----------------------------------\n")

	cpuHaltFn()
	panicking = false
}

// panicString serves as a redirect target for runtime.throw
//go:redirect-from runtime.throw
func panicString(msg string) {
	errRuntimePanic.Message = msg
	Panic(errRuntimePanic)
}

// printPanicOrigin reports the file, line and function that invoked Panic,
// skipping over the panic delivery machinery itself (Panic, panicString and
// the runtime redirection shims).
func printPanicOrigin() {
	for skip := 1; skip < 6; skip++ {
		pc, file, line, ok := callerFn(skip)
		if !ok {
			return
		}

		fn := runtime.FuncForPC(pc)
		if fn == nil {
			return
		}

		name := fn.Name()
		if isPanicPlumbing(name) {
			continue
		}

		Printf("at %s:%d (%s)\n", file, line, name)
		return
	}
}

// isPanicPlumbing reports whether the named function belongs to the panic
// delivery path rather than the true call site. Matched by suffix so the
// module path prefix does not matter.
func isPanicPlumbing(name string) bool {
	suffixes := []string{"kfmt.Panic", "kfmt.panicString", "runtime.gopanic", "runtime.throw"}
	for _, s := range suffixes {
		if len(name) >= len(s) && name[len(name)-len(s):] == s {
			return true
		}
	}
	return false
}

// printControlRegisters dumps CR0-CR4 in the same fixed-width style the irq
// package uses for GPRs.
func printControlRegisters() {
	Printf("CR0 = %16x CR2 = %16x\n", readCR0Fn(), readCR2Fn())
	Printf("CR3 = %16x CR4 = %16x\n", uint64(readCR3Fn()), readCR4Fn())
}

// StackTrace walks the frame-pointer chain anchored at rbp and prints the
// return address of each frame, stopping after maxTraceFrames frames or at
// the first frame pointer that fails the sanity bounds.
func StackTrace(rbp uintptr) {
	Printf("Stack trace:\n")
	for depth := 0; depth < maxTraceFrames; depth++ {
		if rbp < traceFloor || rbp >= traceCeiling {
			return
		}

		retAddr := readFramePointerFn(rbp + uintptr(8))
		if retAddr == 0 {
			return
		}

		Printf(" #%d %16x\n", depth, uint64(retAddr))
		rbp = readFramePointerFn(rbp)
	}
}
