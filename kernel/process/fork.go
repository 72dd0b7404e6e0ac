package process

import "nucleuskernel/kernel"

// ForkTrampolineAddr is the address of a tiny piece of kernel code that
// immediately calls Exit(0). Fork seeds a new process's entry point with
// this address rather than duplicating the caller's address space.
//
// This resolves Open Question #1 from spec.md §9 ("does process_fork need
// true memory duplication or is spawn-equivalence the intended contract?")
// in favor of spawn-equivalence, exactly as spec.md's own fallback
// describes: the child is a fresh process, not a copy-on-write clone of the
// parent. Architecture bootstrap code is responsible for pointing this at
// real machine code; it is a package var (rather than a compile-time
// constant) purely so that boot sequencing can assign it once the
// trampoline has been assembled.
var ForkTrampolineAddr uintptr

// Fork spawns a new process whose entry point is ForkTrampolineAddr and
// returns its pid to the caller. Per spec.md's syscall-shape contract, the
// parent observes this return value; the child's corresponding "return 0"
// is a property of the trampoline/syscall-return path, not of this Go
// function, since the child runs as an entirely separate dispatch.
func Fork() (int, *kernel.Error) {
	caller := Current()
	name := "fork"
	if caller != nil {
		name = caller.Command
	}

	child, err := Spawn(ForkTrampolineAddr, name, UserMode)
	if err != nil {
		return 0, err
	}
	return child.PID, nil
}
