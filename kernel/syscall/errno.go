package syscall

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/exec"
	"nucleuskernel/kernel/ipc"
	"nucleuskernel/kernel/mem/vmm"
	"nucleuskernel/kernel/process"
)

// Error kind codes returned in rax, per spec.md §7's "negative return values
// between -1 and -4095 denote error kinds" convention. The exact values are
// this kernel's own stable table; spec.md leaves the numbering
// implementation-defined.
const (
	errnoBadAddress        = -1
	errnoBadFD             = -2
	errnoBadArg            = -3
	errnoNameTooLong       = -4
	errnoNotFound          = -5
	errnoNoMemory          = -6
	errnoTooManyProcesses  = -7
	errnoInvalidFormat     = -8
	errnoStackTooSmall     = -9
	errnoIOError           = -10
	errnoChannelClosed     = -11
	errnoSignalPendingTerm = -12
)

// errnoFor maps a *kernel.Error sentinel returned by an internal API to the
// stable negative error kind a syscall handler places in rax. Known
// sentinels from every component the dispatcher reaches into are matched by
// pointer identity; anything else -- most commonly a concrete VFS
// implementation's own error, since this core never defines one -- falls
// back to IO-ERROR, matching spec.md's "IO-ERROR: VFS returned a failure".
func errnoFor(err *kernel.Error) int64 {
	switch err {
	case nil:
		return 0
	case errBadAddress, vmm.ErrInvalidMapping:
		return errnoBadAddress
	case process.ErrBadFD:
		return errnoBadFD
	case errBadArg:
		return errnoBadArg
	case errNameTooLong:
		return errnoNameTooLong
	case process.ErrNotFound, process.ErrNoSuchChild:
		return errnoNotFound
	case process.ErrOutOfMemory:
		return errnoNoMemory
	case process.ErrTooManyProcesses:
		return errnoTooManyProcesses
	case exec.ErrInvalidFormat:
		return errnoInvalidFormat
	case exec.ErrStackTooSmall:
		return errnoStackTooSmall
	case exec.ErrIOError:
		return errnoIOError
	case ipc.ErrChannelClosed:
		return errnoChannelClosed
	case ipc.ErrZeroLengthBuffer:
		return errnoBadArg
	default:
		return errnoIOError
	}
}
