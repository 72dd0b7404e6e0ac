package syscall

import "nucleuskernel/kernel/process"

// sigaction's action argument encoding: 0 restores the default disposition,
// 1 ignores the signal, any other value is a user handler address.
const (
	sigActionDefault = 0
	sigActionIgnore  = 1
)

var (
	// findProcessFn is mocked by tests and automatically inlined by the
	// compiler.
	findProcessFn = process.Find
)

func init() {
	register(SysKill, sysKill)
	register(SysSigaction, sysSigaction)
	register(SysSigreturn, sysSigreturn)
}

// sysKill raises the signal in A1 against the process named by A0. Delivery
// happens at that process's next dispatch; raising is just a pending-set
// update.
func sysKill(args *Args) int64 {
	pid := int(int64(args.A0))
	signo := int(args.A1)
	if signo < 0 || signo >= process.SignalCount {
		return errnoBadArg
	}

	target, err := findProcessFn(pid)
	if err != nil {
		return errnoFor(err)
	}
	if target.State == process.Zombie {
		return errnoFor(process.ErrNotFound)
	}

	target.Signals.Raise(process.Signal(signo))
	return 0
}

// sysSigaction updates the calling process's disposition for the signal in
// A0 to the action in A1 and returns the previous action using the same
// encoding. KILL's disposition can never be changed.
func sysSigaction(args *Args) int64 {
	signo := int(args.A0)
	action := uintptr(args.A1)
	if signo < 0 || signo >= process.SignalCount {
		return errnoBadArg
	}

	sig := process.Signal(signo)
	if sig == process.SigKill {
		return errnoBadArg
	}

	sigs := &args.Proc.Signals

	var prev int64
	switch sigs.Disposition[sig].Kind {
	case process.DispositionIgnore:
		prev = sigActionIgnore
	case process.DispositionHandler:
		prev = int64(sigs.Disposition[sig].Handler)
	default:
		prev = sigActionDefault
	}

	switch action {
	case sigActionDefault:
		sigs.Disposition[sig] = process.Disposition{Kind: process.DispositionDefault}
		sigs.Ignored = sigs.Ignored.Remove(sig)
	case sigActionIgnore:
		sigs.Disposition[sig] = process.Disposition{Kind: process.DispositionIgnore}
		sigs.Ignored = sigs.Ignored.Add(sig)
	default:
		sigs.Disposition[sig] = process.Disposition{Kind: process.DispositionHandler, Handler: action}
		sigs.Ignored = sigs.Ignored.Remove(sig)
	}

	return prev
}

// sysSigreturn restores the register context saved before the current
// signal handler was entered. The restored rax is returned so the interrupted
// computation resumes with the value it was about to receive.
func sysSigreturn(args *Args) int64 {
	if err := args.Proc.SigReturn(); err != nil {
		return errnoBadArg
	}
	return int64(args.Proc.Ctx.Regs.RAX)
}
