// Package process implements the kernel's process table: process records,
// PID allocation, parent/child linkage, per-process file descriptors, signal
// state and the saved CPU context that the scheduler restores on every
// context switch.
package process

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/gate"
	"nucleuskernel/kernel/mem/vmm"
)

// Mode identifies the privilege level a process runs at. It is always an
// explicit argument to Spawn and is never inferred from address values.
type Mode uint8

const (
	// KernelMode processes run with kernel selectors and a kernel-heap
	// stack.
	KernelMode Mode = iota
	// UserMode processes run in ring 3 with a mapped user stack.
	UserMode
)

// State is a process's position in the scheduling state machine.
type State uint8

const (
	// Ready means the process is eligible to be dispatched by the
	// scheduler.
	Ready State = iota
	// Running is held by at most one process at any instant: the one
	// process.Current returns.
	Running
	// Blocked means the process is parked on some wait queue and is
	// skipped by the scheduler until woken.
	Blocked
	// Zombie means the process has exited but has not yet been reaped by
	// its parent.
	Zombie
)

const (
	// maxProcesses bounds the size of the process table. It is a
	// compile-time constant, like the rest of this kernel's boot
	// parameters, because there is no hosted filesystem to read a config
	// file from before the process table itself exists.
	maxProcesses = 256

	// FDTableSize is the fixed size of a process's file-descriptor table.
	// The spec requires at least 16; 32 leaves headroom for a shell
	// redirecting several files without exhausting the table.
	FDTableSize = 32

	// MaxCommandLen bounds the command-name field.
	MaxCommandLen = 15

	// MaxPathLen bounds path-shaped fields (cwd, fd paths).
	MaxPathLen = 255

	// UserStackTop is the fixed high user virtual address at which every
	// user-mode process's initial stack is mapped.
	UserStackTop = uintptr(0x7FFFF000)

	// UserStackSize is the size of the initial user stack region.
	UserStackSize = 8192

	// InitPID is the PID of the first process spawned in a boot; it is
	// also the reparenting target for every orphaned child.
	InitPID = 1
)

// Context is the full saved CPU context for a process: general-purpose
// registers and the iret frame (rip/cs/rflags/rsp/ss) via gate.Registers,
// plus the segment selectors and page-table root that gate.Registers doesn't
// carry.
type Context struct {
	Regs gate.Registers

	DS, ES, FS, GS uint64

	// CR3 is the physical address of the process's PML4 root. It is
	// restored immediately before GPRs on every context switch so that any
	// subsequent stack access lands in the right address space.
	CR3 uintptr
}

// FD describes one slot in a process's file-descriptor table.
type FD struct {
	InUse  bool
	Path   string
	Flags  int
	Offset int64
	Handle interface{}
}

// SignalState holds the per-process signal bookkeeping described in
// spec.md's signal model: a pending and blocked bitmask, an ignored bitmask
// and a disposition per signal. See signal.go for the Signal type and
// default dispositions.
type SignalState struct {
	Pending Set
	Blocked Set
	Ignored Set

	Disposition [numSignals]Disposition

	// Saved holds the pre-signal register snapshot while a user handler is
	// executing; it is restored by sigreturn.
	Saved    *Context
	HasSaved bool
}

// Record is a single process's kernel-owned record. A Record is identified
// by PID for its entire lifetime, including its zombie tail; parent/child
// relationships are expressed as PID fields rather than pointers so that
// reaping never has to break an ownership cycle.
type Record struct {
	PID  int
	PPID int

	Command string
	UID, GID, EUID, EGID int
	Umask                int
	Cwd                  string

	Ctx  Context
	Mode Mode

	AddrSpace    vmm.AddressSpace
	StackBase    uintptr
	StackSize    uintptr
	ImageBase    uintptr
	ImageSize    uintptr
	HasImage     bool

	// Brk is the current program break: the page-aligned end of the
	// process's anonymous data region. It starts at the end of the loaded
	// image and moves via the brk syscall.
	Brk uintptr

	FDs [FDTableSize]FD

	Signals SignalState

	State    State
	ExitCode int

	// next links every live Record into the global process list in
	// allocation order; it is not a scheduling structure.
	next *Record

	// queued is owned by the scheduler package (see sched.Node). The
	// process package never dereferences it; it only carries the pointer
	// so that Record's lifetime and its queue node's lifetime are visibly
	// tied together in one struct, mirroring how a Record's fd table is
	// embedded rather than separately allocated.
	queued interface{}
}

// SetQueueNode stores the scheduler's opaque bookkeeping for this record.
// Only the sched package calls this.
func (r *Record) SetQueueNode(node interface{}) { r.queued = node }

// QueueNode returns the scheduler's opaque bookkeeping for this record.
func (r *Record) QueueNode() interface{} { return r.queued }

var (
	errNotFound = &kernel.Error{Module: "process", Message: "no such process"}
)

// ErrNotFound is returned by Find when no process with the requested PID
// exists.
var ErrNotFound = errNotFound
