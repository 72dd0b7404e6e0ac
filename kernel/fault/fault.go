// Package fault routes CPU exceptions to their consequences: recoverable
// page faults are repaired in place, user-mode faults become POSIX-style
// signals against the faulting process, and kernel-mode faults are fatal.
package fault

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/cpu"
	"nucleuskernel/kernel/irq"
	"nucleuskernel/kernel/kfmt"
	"nucleuskernel/kernel/mem/vmm"
	"nucleuskernel/kernel/process"
	"nucleuskernel/kernel/sched"
)

// Page-fault error code bits pushed by the CPU.
const (
	pfErrPresent = 1 << 0
	pfErrWrite   = 1 << 1
	pfErrUser    = 1 << 2
)

// selectorRPLMask extracts the requested privilege level from a segment
// selector; RPL 3 in the faulting CS means the fault came from ring 3.
const selectorRPLMask = 3

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleExceptionFn         = irq.HandleException
	handleExceptionWithCodeFn = irq.HandleExceptionWithCode
	readCR2Fn                 = cpu.ReadCR2
	recoverCoWFn              = vmm.RecoverCopyOnWrite
	lazyMapFn                 = vmm.MapLazyUserPage
	currentFn                 = process.Current
	scheduleNextFn            = sched.ScheduleNext
	panicFn                   = kfmt.Panic

	errUnrecoverableFault = &kernel.Error{Module: "fault", Message: "unrecoverable fault in kernel mode"}
	errDoubleFault        = &kernel.Error{Module: "fault", Message: "double fault"}
)

// Init installs the fault handlers for the exception vectors the kernel
// routes: page fault, general protection fault, double fault, invalid
// opcode and divide-by-zero.
func Init() {
	handleExceptionWithCodeFn(irq.PageFaultException, pageFaultHandler)
	handleExceptionWithCodeFn(irq.GPFException, generalProtectionFaultHandler)
	handleExceptionWithCodeFn(irq.DoubleFault, doubleFaultHandler)
	handleExceptionFn(irq.InvalidOpcode, invalidOpcodeHandler)
	handleExceptionFn(irq.DivideByZero, divideByZeroHandler)
}

// fromUserMode reports whether the interrupted context was executing in
// ring 3 when the exception fired. The privilege level is read off the
// saved CS selector; a user process that faults while inside a syscall is
// in kernel mode and must be treated as such.
func fromUserMode(frame *irq.Frame) bool {
	return frame.CS&selectorRPLMask == 3
}

// pageFaultHandler implements the page-fault policy:
//
//  1. A write to a read-only copy-on-write page is repaired in place and the
//     instruction retried.
//  2. A not-present fault from user mode on a user-half address conjures a
//     fresh zeroed page (lazy stack growth / anonymous memory).
//  3. Any other user-mode page fault becomes SIGSEGV against the faulting
//     process.
//  4. Any kernel-mode page fault that cannot be repaired is fatal.
func pageFaultHandler(errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	faultAddress := uintptr(readCR2Fn())

	if recoverCoWFn(faultAddress) {
		return
	}

	if fromUserMode(frame) {
		if errorCode&pfErrPresent == 0 && faultAddress < vmm.UserHalfCeiling {
			if err := lazyMapFn(faultAddress, errorCode&pfErrWrite != 0); err == nil {
				return
			}
		}

		if forwardSignal(process.SigSegv, frame, regs) {
			return
		}
	}

	dumpPageFault(faultAddress, errorCode, frame, regs)
	panicFn(errUnrecoverableFault)
}

// generalProtectionFaultHandler converts ring-3 protection violations to
// SIGSEGV; in kernel mode they are fatal.
func generalProtectionFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	if fromUserMode(frame) && forwardSignal(process.SigSegv, frame, regs) {
		return
	}

	kfmt.Printf("\nGeneral protection fault while accessing address: 0x%x\n", readCR2Fn())
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panicFn(errUnrecoverableFault)
}

// doubleFaultHandler is always fatal; by the time it fires the CPU has
// already failed to deliver another exception.
func doubleFaultHandler(_ uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nDouble fault\n")
	kfmt.Printf("Registers:\n")
	regs.Print()
	frame.Print()

	panicFn(errDoubleFault)
}

// invalidOpcodeHandler converts ring-3 undefined instructions to SIGILL; in
// kernel mode they are fatal.
func invalidOpcodeHandler(frame *irq.Frame, regs *irq.Regs) {
	if fromUserMode(frame) && forwardSignal(process.SigIll, frame, regs) {
		return
	}

	kfmt.Printf("\nInvalid opcode at RIP 0x%16x\n", frame.RIP)
	regs.Print()
	frame.Print()

	panicFn(errUnrecoverableFault)
}

// divideByZeroHandler converts ring-3 divide errors to SIGFPE; in kernel
// mode they are fatal.
func divideByZeroHandler(frame *irq.Frame, regs *irq.Regs) {
	if fromUserMode(frame) && forwardSignal(process.SigFpe, frame, regs) {
		return
	}

	kfmt.Printf("\nDivide-by-zero at RIP 0x%16x\n", frame.RIP)
	regs.Print()
	frame.Print()

	panicFn(errUnrecoverableFault)
}

// forwardSignal raises sig against the currently running process and hands
// control to the scheduler, whose pre-dispatch pass performs the actual
// delivery. It reports false when no process is running, in which case the
// caller must treat the fault as fatal.
//
// The faulting user context is captured into the process record before the
// scheduler runs, and copied back into the exception frame afterwards: if
// delivery rewrote the saved context (a user handler), the exception return
// lands in the handler instead of retrying the faulting instruction. If
// delivery terminated the process instead, the scheduler never resumes this
// call and the restore is never reached.
func forwardSignal(sig process.Signal, frame *irq.Frame, regs *irq.Regs) bool {
	cur := currentFn()
	if cur == nil {
		return false
	}

	captureTrapContext(cur, frame, regs)
	cur.Signals.Raise(sig)
	scheduleNextFn()
	restoreTrapContext(cur, frame, regs)
	return true
}

// captureTrapContext copies the interrupted user context from the exception
// frame into rec's saved context.
func captureTrapContext(rec *process.Record, frame *irq.Frame, regs *irq.Regs) {
	rec.Ctx.Regs.RAX = regs.RAX
	rec.Ctx.Regs.RBX = regs.RBX
	rec.Ctx.Regs.RCX = regs.RCX
	rec.Ctx.Regs.RDX = regs.RDX
	rec.Ctx.Regs.RSI = regs.RSI
	rec.Ctx.Regs.RDI = regs.RDI
	rec.Ctx.Regs.RBP = regs.RBP
	rec.Ctx.Regs.R8 = regs.R8
	rec.Ctx.Regs.R9 = regs.R9
	rec.Ctx.Regs.R10 = regs.R10
	rec.Ctx.Regs.R11 = regs.R11
	rec.Ctx.Regs.R12 = regs.R12
	rec.Ctx.Regs.R13 = regs.R13
	rec.Ctx.Regs.R14 = regs.R14
	rec.Ctx.Regs.R15 = regs.R15
	rec.Ctx.Regs.RIP = frame.RIP
	rec.Ctx.Regs.CS = frame.CS
	rec.Ctx.Regs.RFlags = frame.RFlags
	rec.Ctx.Regs.RSP = frame.RSP
	rec.Ctx.Regs.SS = frame.SS
}

// restoreTrapContext copies rec's saved context back into the exception
// frame so that modifications made while the process was suspended (a signal
// frame, a sigreturn) propagate to the exception return path.
func restoreTrapContext(rec *process.Record, frame *irq.Frame, regs *irq.Regs) {
	regs.RAX = rec.Ctx.Regs.RAX
	regs.RBX = rec.Ctx.Regs.RBX
	regs.RCX = rec.Ctx.Regs.RCX
	regs.RDX = rec.Ctx.Regs.RDX
	regs.RSI = rec.Ctx.Regs.RSI
	regs.RDI = rec.Ctx.Regs.RDI
	regs.RBP = rec.Ctx.Regs.RBP
	regs.R8 = rec.Ctx.Regs.R8
	regs.R9 = rec.Ctx.Regs.R9
	regs.R10 = rec.Ctx.Regs.R10
	regs.R11 = rec.Ctx.Regs.R11
	regs.R12 = rec.Ctx.Regs.R12
	regs.R13 = rec.Ctx.Regs.R13
	regs.R14 = rec.Ctx.Regs.R14
	regs.R15 = rec.Ctx.Regs.R15
	frame.RIP = rec.Ctx.Regs.RIP
	frame.CS = rec.Ctx.Regs.CS
	frame.RFlags = rec.Ctx.Regs.RFlags
	frame.RSP = rec.Ctx.Regs.RSP
	frame.SS = rec.Ctx.Regs.SS
}

// dumpPageFault prints the reason and register state for a page fault that
// is about to become a panic.
func dumpPageFault(faultAddress uintptr, errorCode uint64, frame *irq.Frame, regs *irq.Regs) {
	kfmt.Printf("\nPage fault while accessing address: 0x%16x\nReason: ", faultAddress)
	switch {
	case errorCode == 0:
		kfmt.Printf("read from non-present page")
	case errorCode == 1:
		kfmt.Printf("page protection violation (read)")
	case errorCode == 2:
		kfmt.Printf("write to non-present page")
	case errorCode == 3:
		kfmt.Printf("page protection violation (write)")
	case errorCode == 4:
		kfmt.Printf("page-fault in user-mode")
	case errorCode == 8:
		kfmt.Printf("page table has reserved bit set")
	case errorCode == 16:
		kfmt.Printf("instruction fetch")
	default:
		kfmt.Printf("unknown")
	}

	kfmt.Printf("\n\nRegisters:\n")
	regs.Print()
	frame.Print()
}
