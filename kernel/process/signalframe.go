package process

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem/vmm"
	"unsafe"
)

// pushSignalFrameFn is an indirection over the real stack write so tests can
// exercise DeliverHandler's bookkeeping (saved-context capture, rip/rdi
// rewrite) without a mapped user stack behind rec.AddrSpace.
var pushSignalFrameFn = writeSignalNumberToUserStack

// DeliverHandler builds a signal frame on rec's user stack and redirects it
// to a user-mode handler: the pre-signal register context is saved (for a
// later sigreturn to restore) and rip/rdi are rewritten so the process's
// next dispatch lands in the handler with the signal number in the first
// SysV argument register.
func (r *Record) DeliverHandler(sig Signal, handler uintptr) *kernel.Error {
	saved := r.Ctx
	r.Signals.Saved = &saved
	r.Signals.HasSaved = true

	newRSP := (uintptr(r.Ctx.Regs.RSP) - 256) &^ 0xF

	if err := pushSignalFrameFn(r.AddrSpace, newRSP, sig); err != nil {
		return err
	}

	r.Ctx.Regs.RSP = uint64(newRSP)
	r.Ctx.Regs.RDI = uint64(sig)
	r.Ctx.Regs.RIP = uint64(handler)
	return nil
}

// SigReturn restores the register context saved by the most recent
// DeliverHandler call, undoing the frame built for the signal handler.
func (r *Record) SigReturn() *kernel.Error {
	if !r.Signals.HasSaved {
		return errNoSavedContext
	}
	r.Ctx = *r.Signals.Saved
	r.Signals.HasSaved = false
	r.Signals.Saved = nil
	return nil
}

var errNoSavedContext = &kernel.Error{Module: "process", Message: "sigreturn with no saved signal context"}

// writeSignalNumberToUserStack writes the raw signal number to the target
// address within as's user stack, temporarily switching into as the way the
// ELF loader does when copying segment bytes into a freshly built address
// space.
func writeSignalNumberToUserStack(as vmm.AddressSpace, addr uintptr, sig Signal) *kernel.Error {
	prev := vmm.Current()
	as.Switch()
	defer prev.Switch()

	*(*uint64)(unsafe.Pointer(addr)) = uint64(sig)
	return nil
}
