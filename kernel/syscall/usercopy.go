package syscall

import (
	"unsafe"

	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/vmm"
	"nucleuskernel/kernel/process"
)

const (
	// maxUserTransfer caps the size of a single read/write buffer crossing
	// the user/kernel boundary.
	maxUserTransfer = 1 << 20

	// maxPathLen mirrors the process package's path-length bound; longer
	// paths fail with NAME-TOO-LONG before any component sees them.
	maxPathLen = process.MaxPathLen

	// maxArgVectors bounds the argv/envp pointer arrays execve accepts.
	maxArgVectors = 64

	// maxArgLen bounds a single argv/envp string.
	maxArgLen = 1024

	pageSize = uintptr(mem.PageSize)
)

var (
	errBadAddress  = &kernel.Error{Module: "syscall", Message: "user pointer outside the user half or unmapped"}
	errNameTooLong = &kernel.Error{Module: "syscall", Message: "path exceeds the maximum length"}
	errBadArg      = &kernel.Error{Module: "syscall", Message: "malformed or oversized argument"}
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	checkUserPageFn = vmm.CheckUserPage

	peekUserByteFn = func(addr uintptr) byte {
		return *(*byte)(unsafe.Pointer(addr))
	}
	pokeUserByteFn = func(addr uintptr, v byte) {
		*(*byte)(unsafe.Pointer(addr)) = v
	}
)

// validateUserRange verifies that every page covering [addr, addr+size) is
// mapped, user-accessible and (when requireWrite is set) writable in the
// currently active address space. Validation happens before any byte is
// touched so that a copy either happens in full or not at all; a fault
// mid-copy would mean kernel state changed under us.
func validateUserRange(addr uintptr, size int, requireWrite bool) *kernel.Error {
	if size <= 0 || size > maxUserTransfer {
		return errBadArg
	}

	end := addr + uintptr(size)
	if end < addr {
		return errBadAddress
	}

	for page := addr &^ (pageSize - 1); page < end; page += pageSize {
		if !checkUserPageFn(page, requireWrite) {
			return errBadAddress
		}
	}
	return nil
}

// copyFromUser fills dst with len(dst) bytes read from the user address
// uaddr. It either succeeds in full or fails without transferring anything.
func copyFromUser(dst []byte, uaddr uintptr) *kernel.Error {
	if err := validateUserRange(uaddr, len(dst), false); err != nil {
		return err
	}

	for i := range dst {
		dst[i] = peekUserByteFn(uaddr + uintptr(i))
	}
	return nil
}

// copyToUser writes src to the user address uaddr. It either succeeds in
// full or fails without transferring anything.
func copyToUser(uaddr uintptr, src []byte) *kernel.Error {
	if err := validateUserRange(uaddr, len(src), true); err != nil {
		return err
	}

	for i := range src {
		pokeUserByteFn(uaddr+uintptr(i), src[i])
	}
	return nil
}

// copyStringFromUser reads a NUL-terminated string of at most maxLen bytes
// (not counting the terminator) starting at uaddr. Each page is validated
// before the first byte on it is read, so an unterminated string running off
// the last mapped page fails with BAD-ADDRESS rather than faulting.
func copyStringFromUser(uaddr uintptr, maxLen int) (string, *kernel.Error) {
	var (
		buf           []byte
		validatedPage = uintptr(1) // never a page-aligned value
	)

	for i := 0; i <= maxLen; i++ {
		addr := uaddr + uintptr(i)
		if page := addr &^ (pageSize - 1); page != validatedPage {
			if !checkUserPageFn(page, false) {
				return "", errBadAddress
			}
			validatedPage = page
		}

		b := peekUserByteFn(addr)
		if b == 0 {
			return string(buf), nil
		}
		buf = append(buf, b)
	}

	return "", errNameTooLong
}

// readUserPointer reads one 8-byte little-endian pointer from uaddr.
func readUserPointer(uaddr uintptr) (uintptr, *kernel.Error) {
	var raw [8]byte
	if err := copyFromUser(raw[:], uaddr); err != nil {
		return 0, err
	}

	var v uintptr
	for i := 7; i >= 0; i-- {
		v = v<<8 | uintptr(raw[i])
	}
	return v, nil
}

// copyStringArrayFromUser reads a NULL-terminated array of string pointers
// (the argv/envp shape) from uaddr. A zero uaddr yields an empty array,
// matching execve callers that pass no environment at all.
func copyStringArrayFromUser(uaddr uintptr) ([]string, *kernel.Error) {
	if uaddr == 0 {
		return nil, nil
	}

	var out []string
	for i := 0; ; i++ {
		if i >= maxArgVectors {
			return nil, errBadArg
		}

		ptr, err := readUserPointer(uaddr + uintptr(i)*8)
		if err != nil {
			return nil, err
		}
		if ptr == 0 {
			return out, nil
		}

		s, err := copyStringFromUser(ptr, maxArgLen)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
}
