package syscall

import (
	"nucleuskernel/kernel/gate"
	"nucleuskernel/kernel/process"
)

// Vector is the software interrupt ring-3 code raises to enter the kernel.
const Vector = gate.InterruptNumber(0x80)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	handleInterruptFn = gate.HandleInterrupt
	currentFn         = process.Current
)

// Init installs the syscall trap gate. It must run after gate.Init and
// before the first user process is dispatched.
func Init() {
	handleInterruptFn(Vector, 0, trapEntry)
}

// trapEntry is the ring-3 entry point: it resolves the calling process,
// saves its user context into the process record, dispatches the requested
// syscall and propagates the (possibly rewritten) context plus the return
// value back into the trap frame for the iret.
//
// The context round-trip matters for two reasons: any suspension inside a
// handler (IPC, wait4) must leave the process resumable from its saved
// context, and sigreturn/signal delivery rewrite that saved context and
// expect the rewrite to reach the return path.
func trapEntry(regs *gate.Registers) {
	cur := currentFn()
	if cur == nil {
		regs.RAX = uint64(errnoBadArg)
		return
	}

	cur.Ctx.Regs = *regs

	ret := Dispatch(cur, Number(regs.Info), [6]uint64{
		regs.RDI, regs.RSI, regs.RDX, regs.R10, regs.R8, regs.R9,
	})

	*regs = cur.Ctx.Regs
	regs.RAX = uint64(ret)
}

// Dispatch routes one syscall to its registered handler and returns the
// value destined for rax: zero or positive on success, a negative error
// kind otherwise.
//
// If a deliverable terminating signal zombified the process while the
// handler was blocked (spec: SIGNAL-PENDING-TERM), the syscall is aborted
// with BAD-ARG on a best-effort basis; the process will not observe the
// return value anyway.
func Dispatch(cur *process.Record, num Number, argv [6]uint64) int64 {
	if num >= numSyscalls || table[num] == nil {
		return errnoBadArg
	}

	args := &Args{
		Proc: cur,
		A0:   argv[0], A1: argv[1], A2: argv[2],
		A3: argv[3], A4: argv[4], A5: argv[5],
	}

	ret := table[num](args)

	if cur.State == process.Zombie {
		return errnoBadArg
	}
	return ret
}
