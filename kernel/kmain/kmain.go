package kmain

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/exec"
	"nucleuskernel/kernel/fault"
	"nucleuskernel/kernel/gate"
	"nucleuskernel/kernel/goruntime"
	"nucleuskernel/kernel/hal"
	"nucleuskernel/kernel/hal/multiboot"
	"nucleuskernel/kernel/kfmt"
	"nucleuskernel/kernel/mem/pmm/allocator"
	"nucleuskernel/kernel/mem/vmm"
	"nucleuskernel/kernel/sched"
	"nucleuskernel/kernel/syscall"
)

// initPath is the executable the kernel hands the machine to once every
// subsystem is up. It is read through the filesystem installed with
// vfs.Register; no package in this tree calls vfs.Register.
const initPath = "/sbin/init"

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
)

// Kmain is the only Go symbol that is visible (exported) from the rt0 initialization
// code. This function is invoked by the rt0 assembly code after setting up the GDT
// and setting up a a minimal g0 struct that allows Go code using the 4K stack
// allocated by the assembly code.
//
// The rt0 code passes the address of the multiboot info payload provided by the
// bootloader as well as the physical addresses for the kernel start/end and the
// page offset where the kernel image is mapped.
//
// Kmain is not expected to return. If it does, the rt0 code will halt the CPU.
//
//go:noinline
func Kmain(multibootInfoPtr, kernelStart, kernelEnd, kernelPageOffset uintptr) {
	multiboot.SetInfoPtr(multibootInfoPtr)

	// The vmm draws page-table frames from the boot allocator from its very
	// first mapping, and hands frames back to whatever allocator is active
	// once user address spaces start being torn down.
	vmm.SetFrameAllocator(allocator.AllocFrame)
	vmm.SetFrameFreer(allocator.FreeFrame)

	var err *kernel.Error
	if err = allocator.Init(kernelStart, kernelEnd); err != nil {
		panic(err)
	} else if err = vmm.Init(kernelPageOffset); err != nil {
		panic(err)
	} else if err = goruntime.Init(); err != nil {
		panic(err)
	}

	// With the Go allocator up, bootstrap allocations are over: hand the
	// untouched remainder of physical memory to the free-list allocator.
	// Until this runs FreeFrame is inert, so frames released by
	// address-space teardown would leak instead of returning to the pool.
	if base, size := allocator.BootResidualRegion(); size > 0 {
		if err = allocator.PromoteToFreeList(base, size); err != nil {
			panic(err)
		}
	}

	gate.Init()
	fault.Init()
	hal.DetectHardware()

	// Scheduling and the ring-3 entry path come up last: sched.Init wires
	// the process package's seams, syscall.Init installs the trap gate.
	sched.Init()
	syscall.Init()

	if _, err = exec.Kexecve(initPath, []string{initPath}, nil); err != nil {
		kfmt.Panic(err)
	}

	// Hand the CPU to the first process. ScheduleNext does not return to
	// this call site; if the run queue ever drains completely it idles
	// inside the scheduler instead.
	sched.ScheduleNext()

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}
