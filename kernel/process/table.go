package process

import "nucleuskernel/kernel"

var (
	errOutOfMemory       = &kernel.Error{Module: "process", Message: "out of memory"}
	errTooManyProcesses  = &kernel.Error{Module: "process", Message: "process table capacity exceeded"}
	errNotCurrent        = &kernel.Error{Module: "process", Message: "no process is currently running"}

	// ErrOutOfMemory is returned by Spawn when a backing allocation (an
	// address space, a stack mapping) fails.
	ErrOutOfMemory = errOutOfMemory
	// ErrTooManyProcesses is returned by Spawn once the process table is
	// at capacity.
	ErrTooManyProcesses = errTooManyProcesses
)

// nextPID is the PID that the next call to Spawn will hand out. PIDs are
// never reused within a boot, satisfying the strictly-increasing property
// the spec requires even though the process-table slot they once occupied
// can be.
var nextPID = InitPID

// list is the head of the global process list, threaded through Record.next
// in allocation order.
var list *Record

// liveCount tracks how many Records currently exist (READY/RUNNING/BLOCKED/
// ZOMBIE, i.e. not yet reaped), bounding it against maxProcesses.
var liveCount int

// current points to the RUNNING process, or nil when the scheduler is
// between dispatches (idling, or during boot before the first dispatch).
var current *Record

// allocatePID reserves the next PID and links a freshly built Record into
// the global list. Returns ErrTooManyProcesses if the table is at capacity.
func allocatePID(rec *Record) *kernel.Error {
	if liveCount >= maxProcesses {
		return errTooManyProcesses
	}

	rec.PID = nextPID
	nextPID++
	rec.next = list
	list = rec
	liveCount++
	return nil
}

// unlink removes rec from the global process list. It does not decrement
// liveCount; callers that are actually freeing the record (as opposed to
// merely hiding a zombie pending reap) do that themselves.
func unlink(rec *Record) {
	if list == rec {
		list = rec.next
		return
	}
	for p := list; p != nil; p = p.next {
		if p.next == rec {
			p.next = rec.next
			return
		}
	}
}

// free removes rec from the global list and returns its slot to the table.
func free(rec *Record) {
	unlink(rec)
	liveCount--
}

// Find returns the live Record for pid, or ErrNotFound.
func Find(pid int) (*Record, *kernel.Error) {
	for p := list; p != nil; p = p.next {
		if p.PID == pid {
			return p, nil
		}
	}
	return nil, errNotFound
}

// Current returns the RUNNING process, or nil if the scheduler is idling.
func Current() *Record {
	return current
}

// SetCurrent is called by the scheduler to record which process is RUNNING.
// It exists only because current_process is the one piece of global mutable
// state spec.md §9 explicitly calls out as acceptable to keep as a single-
// mutator global, documented and encapsulated here rather than scattered.
func SetCurrent(rec *Record) {
	current = rec
}

// ForEachChild invokes fn for every live process whose PPID is ppid. fn must
// not mutate the global list.
func ForEachChild(ppid int, fn func(*Record)) {
	for p := list; p != nil; p = p.next {
		if p.PPID == ppid && p.State != Zombie {
			fn(p)
		}
	}
}

// ForEachZombieChild invokes fn for every ZOMBIE process whose PPID is ppid.
func ForEachZombieChild(ppid int, fn func(*Record)) {
	for p := list; p != nil; p = p.next {
		if p.PPID == ppid && p.State == Zombie {
			fn(p)
		}
	}
}
