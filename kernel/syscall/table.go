// Package syscall implements the kernel's ring-3 -> ring-0 entry point: the
// syscall number table, argument/pointer validation, and the handlers for
// every syscall kind spec.md §4.6 describes (process, file, directory,
// memory, signal and IPC operations).
package syscall

import "nucleuskernel/kernel/process"

// Number identifies a syscall kind. spec.md §9 leaves the exact numbering an
// open question ("implementations should publish a stable table"); this is
// that table, frozen for this kernel version so dispatch is a direct array
// index rather than a chain of comparisons.
type Number uint64

const (
	SysExit Number = iota
	SysFork
	SysWait4
	SysGetpid
	SysGetppid
	SysExecve
	SysRead
	SysWrite
	SysOpen
	SysClose
	SysLseek
	SysStat
	SysFstat
	SysUnlink
	SysMkdir
	SysRmdir
	SysChdir
	SysGetcwd
	SysLs
	SysBrk
	SysMmap
	SysMunmap
	SysKill
	SysSigaction
	SysSigreturn

	numSyscalls
)

// Args bundles a syscall's up to six argument registers plus the calling
// process's record, so individual handlers never reach for
// process.Current() themselves -- the lookup happens once, in trapEntry.
type Args struct {
	Proc                   *process.Record
	A0, A1, A2, A3, A4, A5 uint64
}

// handlerFn is a single syscall's implementation. It returns the value to
// place in rax: zero or positive for success, one of the negative errno*
// constants in errno.go for failure.
type handlerFn func(args *Args) int64

// table is indexed directly by Number; a nil slot means the number is
// unassigned. It is populated by each handlers_*.go file's own init(),
// mirroring how the gate package's interrupt vectors are each installed by the
// component that owns them rather than from one central list.
var table [numSyscalls]handlerFn

// register installs fn as the handler for syscall n. It panics on a double
// registration, since that can only be a programming error in this package,
// never a runtime condition a caller needs to recover from.
func register(n Number, fn handlerFn) {
	if table[n] != nil {
		panic("syscall: duplicate registration")
	}
	table[n] = fn
}
