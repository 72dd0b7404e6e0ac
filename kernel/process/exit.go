package process

// onScheduleNextFn hands control back to the scheduler once the exiting
// process has been fully torn down. It is wired to sched.ScheduleNext during
// boot (sched.Init calls SetDispatcher below) to avoid a
// process->sched import cycle, since sched already imports process for
// Record.
var (
	onScheduleNextFn func()
	onRemoveFn       func(*Record)
)

// SetDispatcher registers the scheduler entry points Exit uses: removeFn to
// unlink the exiting process from the run queue, scheduleNextFn to dispatch
// the next one. Called once during boot by the scheduler package.
func SetDispatcher(removeFn func(*Record), scheduleNextFn func()) {
	onRemoveFn = removeFn
	onScheduleNextFn = scheduleNextFn
}

// Terminate transitions rec to ZOMBIE with the given exit code, reparents
// its live children to init, reaps any of its own children that were
// already ZOMBIE, and delivers SIGCHLD to its own parent. It is the shared
// core behind both Exit (the exit syscall) and signal-driven termination
// (the scheduler's pre-dispatch signal check in spec.md §4.7), which must
// perform the exact same bookkeeping without recursing back into the
// scheduler — the scheduler is already the one driving the call in that
// case.
func Terminate(rec *Record, code int) {
	rec.State = Zombie
	rec.ExitCode = code

	ForEachChild(rec.PID, func(child *Record) {
		child.PPID = InitPID
	})

	ForEachZombieChild(rec.PID, func(zombie *Record) {
		free(zombie)
	})

	if parent, err := Find(rec.PPID); err == nil {
		parent.Signals.Raise(SigChld)
		if parent.State == Blocked {
			parent.State = Ready
		}
	}
}

// Discard fully removes rec from the process table and run queue without
// zombifying it. It exists for callers that build a process, fail to finish
// setting it up and need to tear it down before it has ever been dispatched
// for real (ELF loading, see kernel/exec) — no parent is waiting to reap a
// zombie for a process whose pid it was never even handed.
func Discard(rec *Record) {
	if onRemoveFn != nil {
		onRemoveFn(rec)
	}
	free(rec)
}

// Exit transitions the current process to ZOMBIE, reparents its live
// children to init, reaps any of its own children that were already ZOMBIE,
// delivers SIGCHLD to its own parent, removes itself from scheduling and
// dispatches the next process. Exit never returns to its caller; an
// implementation that returns from it is a programming error.
func Exit(code int) {
	rec := Current()
	if rec == nil {
		panic("process.Exit called with no current process")
	}

	Terminate(rec, code)
	SetCurrent(nil)

	if onRemoveFn != nil {
		onRemoveFn(rec)
	}

	if onScheduleNextFn != nil {
		onScheduleNextFn()
	}

	panic("process.Exit: rr_schedule_next returned to a ZOMBIE process")
}
