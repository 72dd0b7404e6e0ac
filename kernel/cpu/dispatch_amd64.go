package cpu

import "unsafe"

// SwitchTo performs the context switch at the heart of the scheduler: it
// saves the outgoing process's general-purpose registers, rflags and rsp
// into *prev (if prev is non-nil), switches the page directory to the one
// recorded in *next, then restores next's GPRs and returns to whatever
// resumes at next's saved rip. Ordering: the page-directory switch always
// happens before GPRs are restored, so that any subsequent stack access
// lands in the new address space.
//
// prev and next point at a process.Context-shaped region of memory; the
// exact field layout is owned by the process package, not by this one. This
// keeps every architecture-specific register-save/restore instruction
// confined to this file, per the "isolate inline assembly" guidance the
// kernel follows for CR3 switches and iretq frames elsewhere in this
// package.
func SwitchTo(prev, next unsafe.Pointer)

// EnterUser performs the kernel's very first transition into a process that
// has never been dispatched before: it installs next's page directory,
// loads its GPRs and segment selectors and performs an iretq using the
// cs/ss/rflags/rip/rsp recorded in its saved context. EnterUser never
// returns.
func EnterUser(next unsafe.Pointer)
