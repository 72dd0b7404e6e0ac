package exec

import (
	"strings"
	"unsafe"

	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/vmm"
	"nucleuskernel/kernel/process"
	"nucleuskernel/kernel/vfs"
)

var (
	errInvalidFormat = &kernel.Error{Module: "exec", Message: "invalid or unsupported ELF image"}
	errIOError       = &kernel.Error{Module: "exec", Message: "no filesystem available"}
)

// ErrInvalidFormat is returned when the target file fails ELF64 validation.
var ErrInvalidFormat = errInvalidFormat

// ErrIOError is returned when no VFS has been registered, or the VFS itself
// fails to read the target file.
var ErrIOError = errIOError

// readFileFn indirects through the active vfs.FS so tests can supply an ELF
// image directly without a real filesystem registered.
var readFileFn = func(path string) ([]byte, *kernel.Error) {
	fs := vfs.Active()
	if fs == nil {
		return nil, errIOError
	}
	return fs.ReadFile(path)
}

// spawnFn, mapFn and destroyFn indirect through process/vmm the same way
// process/spawn.go's own seams do, so Kexecve's segment-mapping and
// stack-building logic can be tested without a real MMU behind it.
var (
	spawnFn = process.Spawn
	mapFn   = func(as vmm.AddressSpace, vaddr uintptr, size mem.Size, flags vmm.PageTableEntryFlag) *kernel.Error {
		return as.Map(vaddr, size, flags)
	}
	destroyFn = func(as vmm.AddressSpace) { as.Destroy() }
	discardFn = process.Discard

	// copySegmentBytesFn performs the actual cross-address-space copy for a
	// PT_LOAD segment, switching into as the way every other write into a
	// not-currently-active address space in this kernel does. It is a
	// package var, mirroring process.pushSignalFrameFn, so the bookkeeping
	// in loadSegment (bounds checks, page rounding, flag derivation) can be
	// tested without a real MMU behind as.
	copySegmentBytesFn = func(as vmm.AddressSpace, image []byte, ph programHeader) *kernel.Error {
		prev := vmm.Current()
		as.Switch()
		defer prev.Switch()

		vaddr := uintptr(ph.Vaddr)
		for i := uint64(0); i < ph.FileSz; i++ {
			*(*byte)(unsafe.Pointer(vaddr + uintptr(i))) = image[ph.Offset+i]
		}
		for i := ph.FileSz; i < ph.MemSz; i++ {
			*(*byte)(unsafe.Pointer(vaddr + uintptr(i))) = 0
		}
		return nil
	}
)

// pageSize is the granularity PT_LOAD segments are rounded out to before
// mapping, matching vmm_map's own page-rounding contract.
const pageSize = uintptr(mem.PageSize)

// Kexecve loads the ELF64 executable at path into a freshly spawned
// process: it validates the header, maps every PT_LOAD segment into the
// child's address space, builds the initial user stack with argv/envp and
// seeds the process to resume at the image's entry point with argc/argv/envp
// already in rdi/rsi/rdx.
func Kexecve(path string, argv, envp []string) (int, *kernel.Error) {
	image, err := readFileFn(path)
	if err != nil {
		return 0, err
	}

	h, err := parseHeader(image)
	if err != nil {
		return 0, err
	}

	phdrs, err := programHeaders(image, h)
	if err != nil {
		return 0, err
	}

	rec, err := spawnFn(uintptr(h.Entry), baseName(path), process.UserMode)
	if err != nil {
		return 0, err
	}

	var imageStart, imageEnd uintptr
	for _, ph := range phdrs {
		if ph.Type != ptLoad {
			continue
		}
		if err := loadSegment(rec.AddrSpace, image, ph); err != nil {
			destroyFn(rec.AddrSpace)
			discardFn(rec)
			return 0, err
		}

		segStart := uintptr(ph.Vaddr) &^ (pageSize - 1)
		segEnd := (uintptr(ph.Vaddr) + uintptr(ph.MemSz) + pageSize - 1) &^ (pageSize - 1)
		if !rec.HasImage || segStart < imageStart {
			imageStart = segStart
		}
		if segEnd > imageEnd {
			imageEnd = segEnd
		}
		rec.HasImage = true
	}

	if rec.HasImage {
		rec.ImageBase = imageStart
		rec.ImageSize = imageEnd - imageStart
		// The program break starts right past the loaded image; the brk
		// syscall moves it from there.
		rec.Brk = imageEnd
	}

	rsp, argvAddr, envpAddr, err := buildInitialStack(rec.AddrSpace, process.UserStackTop, process.UserStackSize, argv, envp)
	if err != nil {
		destroyFn(rec.AddrSpace)
		discardFn(rec)
		return 0, err
	}

	rec.Ctx.Regs.RSP = uint64(rsp)
	rec.Ctx.Regs.RDI = uint64(len(argv))
	rec.Ctx.Regs.RSI = uint64(argvAddr)
	rec.Ctx.Regs.RDX = uint64(envpAddr)

	return rec.PID, nil
}

// loadSegment maps ph's page-aligned region into as, then copies p_filesz
// bytes from the image verbatim and zero-fills the remaining
// [p_filesz, p_memsz) tail, temporarily switching into as the way every
// cross-address-space write in this kernel does.
func loadSegment(as vmm.AddressSpace, image []byte, ph programHeader) *kernel.Error {
	if uint64(len(image)) < ph.Offset || uint64(len(image))-ph.Offset < ph.FileSz {
		return errInvalidFormat
	}

	alignedStart := uintptr(ph.Vaddr) &^ (pageSize - 1)
	end := uintptr(ph.Vaddr) + uintptr(ph.MemSz)
	alignedEnd := (end + pageSize - 1) &^ (pageSize - 1)
	size := alignedEnd - alignedStart

	flags := vmm.FlagPresent | vmm.FlagUserAccessible
	if ph.Flags&pfWrite != 0 {
		flags |= vmm.FlagRW
	}
	if ph.Flags&pfExecute == 0 {
		flags |= vmm.FlagNoExecute
	}

	if err := mapFn(as, alignedStart, mem.Size(size), flags); err != nil {
		return err
	}

	return copySegmentBytesFn(as, image, ph)
}

// baseName returns the last path component of path, used as the spawned
// process's command name.
func baseName(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
