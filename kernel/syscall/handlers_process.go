package syscall

import (
	"nucleuskernel/kernel/exec"
	"nucleuskernel/kernel/process"
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	exitFn    = process.Exit
	forkFn    = process.Fork
	waitFn    = process.Wait
	kexecveFn = exec.Kexecve
)

func init() {
	register(SysExit, sysExit)
	register(SysFork, sysFork)
	register(SysWait4, sysWait4)
	register(SysGetpid, sysGetpid)
	register(SysGetppid, sysGetppid)
	register(SysExecve, sysExecve)
}

// sysExit terminates the calling process with the supplied status code. It
// never returns in the running kernel; process.Exit hands the CPU to the
// next runnable process.
func sysExit(args *Args) int64 {
	exitFn(int(int32(args.A0)))
	return 0
}

func sysFork(args *Args) int64 {
	pid, err := forkFn()
	if err != nil {
		return errnoFor(err)
	}
	return int64(pid)
}

// sysWait4 blocks until the child named by A0 (or any child, for -1) is
// reaped, writing its exit status to the user address in A1 when non-zero.
func sysWait4(args *Args) int64 {
	pid := int(int64(args.A0))
	statusAddr := uintptr(args.A1)

	var status int
	childPID, err := waitFn(pid, &status)
	if err != nil {
		return errnoFor(err)
	}

	if statusAddr != 0 {
		var raw [4]byte
		v := uint32(int32(status))
		raw[0] = byte(v)
		raw[1] = byte(v >> 8)
		raw[2] = byte(v >> 16)
		raw[3] = byte(v >> 24)
		if cerr := copyToUser(statusAddr, raw[:]); cerr != nil {
			return errnoFor(cerr)
		}
	}

	return int64(childPID)
}

func sysGetpid(args *Args) int64 {
	return int64(args.Proc.PID)
}

func sysGetppid(args *Args) int64 {
	return int64(args.Proc.PPID)
}

// sysExecve loads the ELF executable named by the user path in A0 into a
// fresh process, passing it the argv/envp vectors read from A1/A2, and
// returns the new process's pid.
func sysExecve(args *Args) int64 {
	path, err := copyStringFromUser(uintptr(args.A0), maxPathLen)
	if err != nil {
		return errnoFor(err)
	}
	if path == "" {
		return errnoBadArg
	}

	argv, err := copyStringArrayFromUser(uintptr(args.A1))
	if err != nil {
		return errnoFor(err)
	}

	envp, err := copyStringArrayFromUser(uintptr(args.A2))
	if err != nil {
		return errnoFor(err)
	}

	pid, kerr := kexecveFn(path, argv, envp)
	if kerr != nil {
		return errnoFor(kerr)
	}
	return int64(pid)
}
