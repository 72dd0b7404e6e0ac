package sched

import (
	"unsafe"

	"nucleuskernel/kernel/cpu"
	"nucleuskernel/kernel/process"
)

// switchToFn, enterUserFn, haltFn and enableInterruptsFn indirect through
// cpu's bodiless architecture declarations, the same way vmm indirects
// through cpu.SwitchPDT via switchPDTFn: these four functions have no Go
// implementation (they are filled in by the assembler stage that links the
// final kernel image), so calling them directly from a hosted `go test`
// binary would be a link error. Tests replace them with stand-ins; the real
// kernel never reassigns them.
var (
	switchToFn         = cpu.SwitchTo
	enterUserFn        = cpu.EnterUser
	haltFn             = cpu.Halt
	enableInterruptsFn = cpu.EnableInterrupts
)

// dispatchedOnce tracks whether ScheduleNext has ever successfully dispatched
// a process in this boot. The very first dispatch has no "previous" saved
// context to resume into later, so it jumps into the target via EnterUser's
// synthesized iret frame rather than SwitchTo's save/restore pair.
var dispatchedOnce bool

// Init wires the scheduler into the process package's Fn-style seams. It
// must run once during boot, after the process table exists and before the
// first call to ScheduleNext.
func Init() {
	process.SetScheduler(Add)
	process.SetDispatcher(Remove, ScheduleNext)
	process.SetYielder(Yield)
}

// ScheduleNext picks the next READY process in round-robin order and
// dispatches it, saving the outgoing process's context first (unless this
// is the very first dispatch of the boot, which has nothing to save). If no
// process in the run queue is currently READY, it idles.
//
// ScheduleNext never returns to a caller expecting control back: on the
// first-ever dispatch it jumps directly into ring 3 (or ring 0, for a
// kernel-mode process) and never returns at all; on every later dispatch it
// returns only into the *previous* occupant of the CPU, at the point right
// after that process's own earlier call into this function.
func ScheduleNext() {
	prev := process.Current()

	next := findReadyCandidate()
	if next == nil {
		process.SetCurrent(nil)
		idle()
		return
	}
	dispatch(prev, next)
}

// idle is entered whenever no process in the run queue is READY: every
// queued process is BLOCKED, or the queue is empty entirely. It enables
// interrupts (so a wakeup can ever happen) and halts, rescanning the run
// queue each time an interrupt resumes it, until some process has become
// READY.
func idle() {
	enableInterruptsFn()
	for {
		haltFn()
		if next := findReadyCandidate(); next != nil {
			dispatch(nil, next)
			return
		}
	}
}

// Yield voluntarily gives up the CPU on behalf of the calling process,
// which must already have set its own State (e.g. to Blocked) before
// calling. It is the function Wait and the IPC channel package are wired to
// via process.SetYielder.
func Yield() {
	ScheduleNext()
}

// findReadyCandidate advances the ring cursor by at most one full lap,
// delivering any pending signal against each process it visits along the
// way, and returns the first process it finds still READY afterward. It
// returns nil if nothing in the ring is dispatchable right now.
//
// Delivering signals here, rather than in some other subsystem, keeps the
// scheduler as the single place that turns a pending signal into a real
// control-flow change: a fatal default terminates the candidate and removes
// it from the run queue without it ever running again, a handler rewrites
// its saved context, SIGSTOP parks it, SIGCONT wakes a process a prior
// SIGSTOP parked.
func findReadyCandidate() *process.Record {
	for i := 0; i < count; i++ {
		if cursor == nil {
			cursor = tail.next
		} else {
			cursor = cursor.next
		}

		rec := cursor.rec
		if deliverPending(rec) {
			// Terminated before ever running again; Remove already
			// unlinked it, moved cursor back to its predecessor and
			// shrank count, so the increment is undone and the lap
			// still covers every node not yet visited.
			i--
			continue
		}
		if rec.State == process.Ready {
			return rec
		}
	}
	return nil
}

// dispatch installs next as the running process, saving prev's context
// first whenever prev is non-nil (idle has no prev); a prev that was
// Running goes back to Ready. The first dispatch of the boot enters next
// through enterUserFn and saves nothing.
func dispatch(prev, next *process.Record) {
	if prev != nil && prev.State == process.Running {
		prev.State = process.Ready
	}
	next.State = process.Running
	process.SetCurrent(next)

	if !dispatchedOnce {
		dispatchedOnce = true
		enterUserFn(unsafe.Pointer(&next.Ctx))
		return
	}

	var prevCtx unsafe.Pointer
	if prev != nil {
		prevCtx = unsafe.Pointer(&prev.Ctx)
	}
	switchToFn(prevCtx, unsafe.Pointer(&next.Ctx))
}

// deliverPending applies every signal pending against rec that is
// deliverable right now, stopping as soon as one terminates rec or rewrites
// its context for a handler. It reports whether rec was terminated.
func deliverPending(rec *process.Record) bool {
	for {
		sig, ok := rec.Signals.NextDeliverable()
		if !ok {
			return false
		}

		disp := rec.Signals.Disposition[sig]
		switch disp.Kind {
		case process.DispositionIgnore:
			rec.Signals.Consume(sig)
			continue
		case process.DispositionHandler:
			rec.Signals.Consume(sig)
			if err := rec.DeliverHandler(sig, disp.Handler); err != nil {
				return applyDefault(rec, sig)
			}
			return false
		default:
			rec.Signals.Consume(sig)
			if applyDefault(rec, sig) {
				return true
			}
		}
	}
}

// applyDefault applies sig's built-in default action to rec and reports
// whether that terminated it. SIGCHLD's default is to do nothing; SIGSTOP
// parks the process; SIGCONT wakes one parked by a prior SIGSTOP. Every
// other signal in deliveryOrder defaults to termination.
func applyDefault(rec *process.Record, sig process.Signal) bool {
	switch sig {
	case process.SigChld:
		return false
	case process.SigStop:
		rec.State = process.Blocked
		return false
	case process.SigCont:
		if rec.State == process.Blocked {
			rec.State = process.Ready
		}
		return false
	default:
		process.Terminate(rec, 128+int(sig))
		Remove(rec)
		return true
	}
}
