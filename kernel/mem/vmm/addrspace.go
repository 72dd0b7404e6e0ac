package vmm

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/cpu"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/pmm"
)

// kernelHalfStart is the index of the first PML4 entry that belongs to the
// kernel half of the address space. Entries [kernelHalfStart, selfRefIndex)
// are shared, bit-identical, across every address space; entry selfRefIndex
// points each table back at itself, and entries below kernelHalfStart are
// private to whichever address space currently owns them.
const kernelHalfStart = 256

// pml4Entries is the number of entries in a single page-table level.
const pml4Entries = 512

// selfRefIndex is the PML4 slot used to recursively map a table into its own
// address space so that walk() can reach every level through pdtVirtualAddr.
const selfRefIndex = 511

var (
	// switchPDTFn and activePDTFn are mocked by tests and automatically
	// inlined by the compiler when compiling the kernel.
	switchPDTFn = cpu.SwitchPDT
	activePDTFn = cpu.ActivePDT

	// frameFreer points to a frame-releasing function registered using
	// SetFrameFreer. It mirrors frameAllocator/SetFrameAllocator in vmm.go;
	// AddressSpace is the first consumer in this package that ever needs to
	// give frames back.
	frameFreer FrameFreerFn

	errAddrSpaceOutOfMemory = &kernel.Error{Module: "vmm", Message: "out of memory while allocating address space"}
	errKernelHalfMapping    = &kernel.Error{Module: "vmm", Message: "refusing to create a writable user-accessible mapping in the kernel half"}
)

// FrameFreerFn is a function that can release a physical frame back to the
// frame allocator.
type FrameFreerFn func(pmm.Frame)

// SetFrameFreer registers a frame-releasing function that AddressSpace uses
// to return frames to the allocator when unmapping or destroying a user
// address space.
func SetFrameFreer(freeFn FrameFreerFn) {
	frameFreer = freeFn
}

// AddressSpace represents a complete, independently switchable page-table
// hierarchy: a PML4 root frame plus every intermediate table and data frame
// it refers to. Exactly one process owns a given AddressSpace for its
// lifetime, except for the kernel half, which every AddressSpace shares by
// value (the entries are copied, not referenced, but their contents are kept
// bit-identical by construction).
type AddressSpace struct {
	// Root is the physical frame backing the PML4 table for this address
	// space.
	Root pmm.Frame
}

// NewAddressSpace allocates a fresh PML4 frame, clears its user half,
// copies the kernel-half entries (indices 256-510) from the currently active
// address space and sets index 511 to a recursive reference to the new
// table itself. The returned AddressSpace has an empty user half; callers
// use Map to populate it.
//
// NewAddressSpace never touches indices 256-511 of the currently active
// table; it only reads them.
func NewAddressSpace() (AddressSpace, *kernel.Error) {
	root, err := frameAllocator()
	if err != nil {
		return AddressSpace{}, errAddrSpaceOutOfMemory
	}

	tmpPage, err := mapTemporaryFn(root)
	if err != nil {
		frameFreer(root)
		return AddressSpace{}, err
	}

	mem.Memset(tmpPage.Address(), 0, mem.PageSize)

	newTable := (*[pml4Entries]pageTableEntry)(ptePtrFn(tmpPage.Address()))
	curTable := (*[pml4Entries]pageTableEntry)(ptePtrFn(pdtVirtualAddr))
	for i := kernelHalfStart; i < pml4Entries; i++ {
		newTable[i] = curTable[i]
	}

	// Recursive self-mapping: the last entry always points back to the
	// table's own physical frame so that walk() can reach this table (and
	// everything beneath it) once it becomes active.
	var selfRef pageTableEntry
	selfRef.SetFrame(root)
	selfRef.SetFlags(FlagPresent | FlagRW)
	newTable[selfRefIndex] = selfRef

	if err = unmapFn(tmpPage); err != nil {
		return AddressSpace{}, err
	}

	return AddressSpace{Root: root}, nil
}

// Switch installs as as the active address space for the current CPU.
func (as AddressSpace) Switch() {
	switchPDTFn(as.Root.Address())
}

// Current returns the AddressSpace that is currently active on this CPU.
func Current() AddressSpace {
	return AddressSpace{Root: pmm.FrameFromAddress(activePDTFn())}
}

// Map ensures that a contiguous mapped region [vaddr, vaddr+size) exists in
// this address space with the requested flags, rounding size up to page
// granularity. Mapping a region in the kernel half with FlagRW|FlagUserAccessible
// set is refused outright; it is a programming error per the VMM contract.
//
// Map temporarily installs as as the active address space (via Switch) in
// order to reuse the package-level Map/walk machinery, which always operates
// against whichever table is currently active through the recursive
// self-mapping. The previously active address space is restored before Map
// returns, including on failure.
func (as AddressSpace) Map(vaddr uintptr, size mem.Size, flags PageTableEntryFlag) *kernel.Error {
	if (flags&(FlagRW|FlagUserAccessible)) == (FlagRW|FlagUserAccessible) && vaddr>>pageLevelShifts[0]&0x1ff >= kernelHalfStart {
		return errKernelHalfMapping
	}

	prev := Current()
	as.Switch()
	defer prev.Switch()

	pageCount := (uintptr(size) + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)
	startPage := PageFromAddress(vaddr)

	mapped := make([]Page, 0, pageCount)
	for i := uintptr(0); i < pageCount; i++ {
		page := startPage + Page(i)

		frame, err := frameAllocator()
		if err != nil {
			rollbackMapping(mapped)
			return err
		}

		if err := Map(page, frame, flags); err != nil {
			frameFreer(frame)
			rollbackMapping(mapped)
			return err
		}

		mapped = append(mapped, page)
	}

	return nil
}

// rollbackMapping tears down a partially completed Map call so that a failed
// allocation never leaves a half-built region behind.
func rollbackMapping(pages []Page) {
	for _, page := range pages {
		if pte, err := pteForAddress(page.Address()); err == nil {
			frameFreer(pte.Frame())
		}
		_ = Unmap(page)
	}
}

// Unmap tears down mappings in [vaddr, vaddr+size) within this address
// space, returning their data frames to the frame allocator.
func (as AddressSpace) Unmap(vaddr uintptr, size mem.Size) *kernel.Error {
	prev := Current()
	as.Switch()
	defer prev.Switch()

	pageCount := (uintptr(size) + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)
	startPage := PageFromAddress(vaddr)

	for i := uintptr(0); i < pageCount; i++ {
		page := startPage + Page(i)

		pte, err := pteForAddress(page.Address())
		if err != nil {
			continue
		}
		frame := pte.Frame()

		if err := Unmap(page); err != nil {
			return err
		}
		frameFreer(frame)
	}

	return nil
}

// Destroy walks the user half of this address space, returns every data
// frame and intermediate table page it reaches to the frame allocator, and
// finally frees the root page itself. Kernel-half entries are never touched;
// they are shared and owned by the boot address space.
func (as AddressSpace) Destroy() {
	prev := Current()
	as.Switch()

	for pml4Index := 0; pml4Index < kernelHalfStart; pml4Index++ {
		vaddr := uintptr(pml4Index) << pageLevelShifts[0]
		destroyUserPML4Entry(vaddr)
	}

	prev.Switch()
	frameFreer(as.Root)
}

// destroyUserPML4Entry walks a single PML4 slot (and everything beneath it)
// looking for present data mappings, freeing each frame it finds. It relies
// on the recursive self-mapping to reach every level of the currently active
// table.
func destroyUserPML4Entry(vaddr uintptr) {
	const entriesPerLevel = 512

	pml4e := (*pageTableEntry)(ptePtrFn(pdtVirtualAddr + (vaddr>>pageLevelShifts[0]&0x1ff)<<mem.PointerShift))
	if !pml4e.HasFlags(FlagPresent) {
		return
	}

	for pdptIdx := uintptr(0); pdptIdx < entriesPerLevel; pdptIdx++ {
		pdptVaddr := vaddr | pdptIdx<<pageLevelShifts[1]
		pdpte := walkEntry(pdptVaddr, 1)
		if pdpte == nil || !pdpte.HasFlags(FlagPresent) {
			continue
		}

		for pdIdx := uintptr(0); pdIdx < entriesPerLevel; pdIdx++ {
			pdVaddr := pdptVaddr | pdIdx<<pageLevelShifts[2]
			pde := walkEntry(pdVaddr, 2)
			if pde == nil || !pde.HasFlags(FlagPresent) {
				continue
			}

			for ptIdx := uintptr(0); ptIdx < entriesPerLevel; ptIdx++ {
				ptVaddr := pdVaddr | ptIdx<<pageLevelShifts[3]
				pte := walkEntry(ptVaddr, 3)
				if pte == nil || !pte.HasFlags(FlagPresent) {
					continue
				}
				frameFreer(pte.Frame())
			}
			frameFreer(pde.Frame())
		}
		frameFreer(pdpte.Frame())
	}
	frameFreer(pml4e.Frame())
}

// walkEntry returns the page table entry for vaddr at the given level, or
// nil if an intermediate entry along the way is not present.
func walkEntry(vaddr uintptr, wantLevel uint8) *pageTableEntry {
	var found *pageTableEntry
	walk(vaddr, func(level uint8, pte *pageTableEntry) bool {
		if level == wantLevel {
			found = pte
			return false
		}
		return pte.HasFlags(FlagPresent)
	})
	return found
}

