package process

import "nucleuskernel/kernel"

var errWaitNoSuchChild = &kernel.Error{Module: "process", Message: "no such process"}

// ErrNoSuchChild is returned by Wait when the caller has no child matching
// the requested pid.
var ErrNoSuchChild = errWaitNoSuchChild

// onYieldFn suspends the calling process and dispatches another READY one.
// It is wired to sched.Yield during boot.
var onYieldFn func()

// SetYielder registers the function Wait (and the IPC channel package) use
// to suspend the current process until something wakes it. Called once
// during boot by the scheduler package.
func SetYielder(yieldFn func()) {
	onYieldFn = yieldFn
}

// AnyChild is the pid value meaning "wait for any child", resolving Open
// Question #2 from spec.md §9.
const AnyChild = -1

// Yield suspends the calling process until the scheduler dispatches it
// again. The caller must already have updated its own State (e.g. to
// Blocked) before calling. Wait uses this internally; the IPC channel
// package (kernel/ipc) also calls it directly when a process blocks on a
// channel's private wait queue rather than on a child, since both are just
// "park until something else makes me READY again".
func Yield() {
	if onYieldFn != nil {
		onYieldFn()
	}
}

// Wait blocks the calling process until a child matching pid (or, if pid is
// AnyChild, any child) reaches ZOMBIE. It then reaps that child's record,
// returning its pid and writing its exit code to *status.
//
// If the caller has no such child at all (alive or zombie) Wait returns
// ErrNoSuchChild immediately without blocking.
func Wait(pid int, status *int) (int, *kernel.Error) {
	caller := Current()
	if caller == nil {
		return 0, errWaitNoSuchChild
	}

	for {
		if zombie := findWaitableZombie(caller.PID, pid); zombie != nil {
			childPID := zombie.PID
			if status != nil {
				*status = zombie.ExitCode
			}
			free(zombie)
			return childPID, nil
		}

		if !hasMatchingChild(caller.PID, pid) {
			return 0, errWaitNoSuchChild
		}

		caller.State = Blocked
		Yield()
	}
}

func findWaitableZombie(callerPID, pid int) *Record {
	var found *Record
	ForEachZombieChild(callerPID, func(z *Record) {
		if found != nil {
			return
		}
		if pid == AnyChild || z.PID == pid {
			found = z
		}
	})
	return found
}

func hasMatchingChild(callerPID, pid int) bool {
	match := false
	visit := func(p *Record) {
		if pid == AnyChild || p.PID == pid {
			match = true
		}
	}
	ForEachChild(callerPID, visit)
	ForEachZombieChild(callerPID, visit)
	return match
}
