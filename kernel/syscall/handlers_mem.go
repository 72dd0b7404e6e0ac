package syscall

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/vmm"
)

// mmap prot bits, following the usual POSIX encoding.
const (
	protRead  = 1 << 0
	protWrite = 1 << 1
	protExec  = 1 << 2
)

var (
	// the following functions are mocked by tests and are automatically
	// inlined by the compiler.
	mapRegionFn = func(as vmm.AddressSpace, vaddr uintptr, size mem.Size, flags vmm.PageTableEntryFlag) *kernel.Error {
		return as.Map(vaddr, size, flags)
	}
	unmapRegionFn = func(as vmm.AddressSpace, vaddr uintptr, size mem.Size) *kernel.Error {
		return as.Unmap(vaddr, size)
	}
)

func init() {
	register(SysBrk, sysBrk)
	register(SysMmap, sysMmap)
	register(SysMunmap, sysMunmap)
}

func pageRoundUp(addr uintptr) uintptr {
	return (addr + pageSize - 1) &^ (pageSize - 1)
}

// sysBrk moves the program break to A0, mapping or unmapping whole pages as
// the break crosses page boundaries. brk(0) queries the current break.
func sysBrk(args *Args) int64 {
	cur := args.Proc
	newBrk := uintptr(args.A0)

	if newBrk == 0 {
		return int64(cur.Brk)
	}
	if !cur.HasImage {
		// No loaded image means no data segment to grow.
		return errnoBadArg
	}
	if newBrk < cur.ImageBase+cur.ImageSize {
		return errnoBadArg
	}
	if pageRoundUp(newBrk) >= cur.StackBase {
		return errnoNoMemory
	}

	oldEnd := pageRoundUp(cur.Brk)
	newEnd := pageRoundUp(newBrk)

	switch {
	case newEnd > oldEnd:
		flags := vmm.FlagPresent | vmm.FlagRW | vmm.FlagUserAccessible | vmm.FlagNoExecute
		if err := mapRegionFn(cur.AddrSpace, oldEnd, mem.Size(newEnd-oldEnd), flags); err != nil {
			return errnoNoMemory
		}
	case newEnd < oldEnd:
		unmapRegionFn(cur.AddrSpace, newEnd, mem.Size(oldEnd-newEnd))
	}

	cur.Brk = newBrk
	return int64(newBrk)
}

// sysMmap establishes an anonymous user mapping at the fixed, page-aligned
// address in A0 spanning A1 bytes with the prot bits in A2. File-backed
// mappings are not supported.
func sysMmap(args *Args) int64 {
	addr := uintptr(args.A0)
	length := uintptr(args.A1)
	prot := int(args.A2)

	if addr == 0 || addr&(pageSize-1) != 0 || length == 0 {
		return errnoBadArg
	}

	end := addr + pageRoundUp(length)
	if end < addr || end > vmm.UserHalfCeiling {
		return errnoFor(errBadAddress)
	}

	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if prot&protWrite != 0 {
		flags |= vmm.FlagRW
	}
	if prot&protExec == 0 {
		flags |= vmm.FlagNoExecute
	}

	if err := mapRegionFn(args.Proc.AddrSpace, addr, mem.Size(length), flags); err != nil {
		return errnoNoMemory
	}
	return int64(addr)
}

// sysMunmap tears down the anonymous user mapping at [A0, A0+A1).
func sysMunmap(args *Args) int64 {
	addr := uintptr(args.A0)
	length := uintptr(args.A1)

	if addr&(pageSize-1) != 0 || length == 0 {
		return errnoBadArg
	}

	end := addr + pageRoundUp(length)
	if end < addr || end > vmm.UserHalfCeiling {
		return errnoFor(errBadAddress)
	}

	if err := unmapRegionFn(args.Proc.AddrSpace, addr, mem.Size(length)); err != nil {
		return errnoFor(err)
	}
	return 0
}
