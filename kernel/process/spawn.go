package process

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/vmm"
)

// Selector values for the four descriptors the (out-of-scope) GDT/TSS setup
// layer is expected to publish: ring-0 code/data and ring-3 code/data, RPL
// bits already applied. These are conventional flat-model values; a real
// GDT layer could override them by assigning these vars before the first
// Spawn call.
var (
	KernelCodeSelector uint64 = 0x08
	KernelDataSelector uint64 = 0x10
	UserCodeSelector   uint64 = 0x1B
	UserDataSelector   uint64 = 0x23
)

// rflagsIF is the Interrupt Flag bit of RFLAGS.
const rflagsIF = 1 << 9

// rflagsReserved is bit 1 of RFLAGS, which the architecture defines as
// always set.
const rflagsReserved = 1 << 1

// onAddRunQueueFn is called once a newly spawned Record is fully populated
// and ready to be scheduled. It is wired to sched.Add during boot, mirroring
// the frameAllocator-style indirection vmm uses to avoid a process->sched
// import cycle (sched already depends on process for Record).
var onAddRunQueueFn func(*Record)

// SetScheduler registers the function Spawn uses to enqueue a freshly built
// process. Called once during boot by the scheduler package.
func SetScheduler(addFn func(*Record)) {
	onAddRunQueueFn = addFn
}

// newAddressSpaceFn, mapAddressSpaceFn and destroyAddressSpaceFn indirect
// through the vmm package so that tests can exercise Spawn's bookkeeping
// (PID assignment, ppid, fd table, signal defaults, queueing) without a real
// four-level page table backing them, the same way vmm itself mocks
// frameAllocator/switchPDTFn. When compiling the kernel these are trivial
// wrappers that the compiler inlines away.
var (
	newAddressSpaceFn = vmm.NewAddressSpace
	mapAddressSpaceFn = func(as vmm.AddressSpace, vaddr uintptr, size mem.Size, flags vmm.PageTableEntryFlag) *kernel.Error {
		return as.Map(vaddr, size, flags)
	}
	destroyAddressSpaceFn = func(as vmm.AddressSpace) { as.Destroy() }
)

// Spawn allocates a process record, assigns it the next PID, builds a fresh
// address space, seeds its saved context for a first dispatch at entry and
// links it into both the global process list and the run queue.
//
// The caller's PID becomes the new process's PPID; if there is no current
// process (boot, or a kernel-mode caller outside any process context) PPID
// is InitPID.
func Spawn(entry uintptr, name string, mode Mode) (*Record, *kernel.Error) {
	rec := &Record{
		Command: truncate(name, MaxCommandLen),
		Mode:    mode,
		State:   Ready,
	}
	rec.Cwd = "/"
	rec.Signals.InitDefaultDispositions()
	rec.InitFDTable()

	if err := allocatePID(rec); err != nil {
		return nil, err
	}

	if c := Current(); c != nil {
		rec.PPID = c.PID
	} else {
		rec.PPID = InitPID
	}

	as, err := newAddressSpaceFn()
	if err != nil {
		free(rec)
		return nil, errOutOfMemory
	}
	rec.AddrSpace = as

	switch mode {
	case UserMode:
		rec.StackBase = UserStackTop - UserStackSize
		rec.StackSize = UserStackSize
		flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible
		if err := mapAddressSpaceFn(as, rec.StackBase, mem.Size(UserStackSize), flags); err != nil {
			destroyAddressSpaceFn(as)
			free(rec)
			return nil, errOutOfMemory
		}

		rec.Ctx.Regs.RIP = uint64(entry)
		rec.Ctx.Regs.RSP = uint64(rec.StackBase+UserStackSize) - 16
		rec.Ctx.Regs.CS = UserCodeSelector
		rec.Ctx.Regs.SS = UserDataSelector
		rec.Ctx.DS, rec.Ctx.ES, rec.Ctx.FS, rec.Ctx.GS = UserDataSelector, UserDataSelector, UserDataSelector, UserDataSelector
	case KernelMode:
		// Kernel-mode processes run on a kernel-heap stack rather than a
		// mapped user region; the heap allocator (outside this core's
		// scope) is responsible for carving it out. The stack pointer is
		// seeded by the caller via Record.Ctx after Spawn returns, since
		// only the caller knows the heap-allocated stack's extent.
		rec.Ctx.Regs.RIP = uint64(entry)
		rec.Ctx.Regs.CS = KernelCodeSelector
		rec.Ctx.Regs.SS = KernelDataSelector
		rec.Ctx.DS, rec.Ctx.ES, rec.Ctx.FS, rec.Ctx.GS = KernelDataSelector, KernelDataSelector, KernelDataSelector, KernelDataSelector
	}

	rec.Ctx.Regs.RFlags = rflagsIF | rflagsReserved
	rec.Ctx.CR3 = rec.AddrSpace.Root.Address()

	if onAddRunQueueFn != nil {
		onAddRunQueueFn(rec)
	}

	return rec, nil
}

// truncate returns s cut down to at most n bytes.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
