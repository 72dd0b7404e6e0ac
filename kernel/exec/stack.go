package exec

import (
	"unsafe"

	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem/vmm"
)

// errStackTooSmall is returned when argv/envp don't fit in a process's
// fixed-size initial stack.
var errStackTooSmall = &kernel.Error{Module: "exec", Message: "initial stack too small for argv/envp"}

// stackMargin is the minimum number of bytes that must remain free below
// the argv/envp block; a process entered with less room than this cannot
// even push a call frame before faulting.
const stackMargin = 256

// ErrStackTooSmall is returned by Kexecve when argv/envp don't fit in the
// process's fixed-size initial stack.
var ErrStackTooSmall = errStackTooSmall

// stackLayout is the result of laying argv/envp out over a process's initial
// stack: image holds the exact bytes that belong at [stackBase, stackTop),
// with image[i] corresponding to virtual address stackBase+uintptr(i). Only
// writeStackImageFn ever needs a real address space to act on this.
type stackLayout struct {
	image    []byte
	rsp      uintptr
	argvAddr uintptr
	envpAddr uintptr
}

// computeStackLayout lays argv's and envp's string bytes followed by their
// NULL-terminated pointer arrays out from the top of a stackSize-byte stack
// topping out at stackTop, growing down exactly the way a real user stack
// does. It is pure arithmetic over an in-memory byte slice standing in for
// the stack region, so it can be exercised directly by tests without a real
// address space.
func computeStackLayout(stackTop, stackSize uintptr, argv, envp []string) (*stackLayout, *kernel.Error) {
	stackBase := stackTop - stackSize
	image := make([]byte, stackSize)
	cursor := stackTop

	writeString := func(s string) (uintptr, *kernel.Error) {
		n := uintptr(len(s)) + 1
		if cursor < stackBase+n {
			return 0, errStackTooSmall
		}
		cursor -= n
		copy(image[cursor-stackBase:], s)
		image[cursor-stackBase+uintptr(len(s))] = 0
		return cursor, nil
	}

	argvAddrs := make([]uintptr, len(argv))
	for i, s := range argv {
		addr, err := writeString(s)
		if err != nil {
			return nil, err
		}
		argvAddrs[i] = addr
	}

	envpAddrs := make([]uintptr, len(envp))
	for i, s := range envp {
		addr, err := writeString(s)
		if err != nil {
			return nil, err
		}
		envpAddrs[i] = addr
	}

	cursor &^= 0x7

	writePointerArray := func(addrs []uintptr) (uintptr, *kernel.Error) {
		n := uintptr(len(addrs)+1) * 8
		if cursor < stackBase+n {
			return 0, errStackTooSmall
		}
		cursor -= n
		base := cursor
		for i, a := range addrs {
			*(*uintptr)(unsafe.Pointer(&image[base-stackBase+uintptr(i)*8])) = a
		}
		*(*uintptr)(unsafe.Pointer(&image[base-stackBase+uintptr(len(addrs))*8])) = 0
		return base, nil
	}

	envArr, err := writePointerArray(envpAddrs)
	if err != nil {
		return nil, err
	}
	argArr, err := writePointerArray(argvAddrs)
	if err != nil {
		return nil, err
	}

	cursor &^= 0xF

	if cursor < stackBase+stackMargin {
		return nil, errStackTooSmall
	}

	return &stackLayout{image: image, rsp: cursor, argvAddr: argArr, envpAddr: envArr}, nil
}

// writeStackImageFn copies a computed stackLayout's image into as's user
// stack region, switching into as the same way
// writeSignalNumberToUserStack (in the process package) reaches a
// not-currently-active address space to write into it. It is a package var
// so tests can exercise computeStackLayout's bookkeeping without a real MMU
// behind as.
var writeStackImageFn = func(as vmm.AddressSpace, stackBase uintptr, layout *stackLayout) *kernel.Error {
	prev := vmm.Current()
	as.Switch()
	defer prev.Switch()

	for i, b := range layout.image {
		*(*byte)(unsafe.Pointer(stackBase + uintptr(i))) = b
	}
	return nil
}

// buildInitialStack lays argv/envp out and writes them into as's user
// stack, returning the final rsp and the addresses of the argv and envp
// pointer arrays, ready to be placed in rsp/rsi/rdx respectively.
func buildInitialStack(as vmm.AddressSpace, stackTop, stackSize uintptr, argv, envp []string) (rsp, argvAddr, envpAddr uintptr, kerr *kernel.Error) {
	layout, err := computeStackLayout(stackTop, stackSize, argv, envp)
	if err != nil {
		return 0, 0, 0, err
	}
	if err := writeStackImageFn(as, stackTop-stackSize, layout); err != nil {
		return 0, 0, 0, err
	}
	return layout.rsp, layout.argvAddr, layout.envpAddr, nil
}
