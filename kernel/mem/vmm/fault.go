package vmm

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/pmm"
)

// memsetFn is mocked by tests and is automatically inlined by the compiler.
var memsetFn = mem.Memset

// RecoverCopyOnWrite examines the page table entry for faultAddress and, if
// it describes a read-only page flagged copy-on-write, replaces it with a
// freshly allocated writable copy. It reports whether the fault was
// recovered; a true return means the faulting instruction can simply be
// retried.
//
// Copy-on-write mappings are produced by the Go runtime bootstrap code,
// which maps lazily allocated heap regions to ReservedZeroedFrame (see the
// example on that variable); user address spaces never contain them.
func RecoverCopyOnWrite(faultAddress uintptr) bool {
	var (
		faultPage = PageFromAddress(faultAddress)
		pageEntry *pageTableEntry
	)

	// Lookup entry for the page where the fault occurred
	walk(faultPage.Address(), func(pteLevel uint8, pte *pageTableEntry) bool {
		nextIsPresent := pte.HasFlags(FlagPresent)

		if pteLevel == pageLevels-1 && nextIsPresent {
			pageEntry = pte
		}

		// Abort walk if the next page table entry is missing
		return nextIsPresent
	})

	// CoW is supported for RO pages with the CoW flag set
	if pageEntry == nil || pageEntry.HasFlags(FlagRW) || !pageEntry.HasFlags(FlagCopyOnWrite) {
		return false
	}

	var (
		copy    pmm.Frame
		tmpPage Page
		err     *kernel.Error
	)

	if copy, err = frameAllocator(); err != nil {
		return false
	} else if tmpPage, err = mapTemporaryFn(copy); err != nil {
		return false
	}

	// Copy page contents, mark as RW and remove CoW flag
	mem.Memcopy(faultPage.Address(), tmpPage.Address(), mem.PageSize)
	unmapFn(tmpPage)

	// Update mapping to point to the new frame, flag it as RW and
	// remove the CoW flag
	pageEntry.ClearFlags(FlagCopyOnWrite)
	pageEntry.SetFlags(FlagPresent | FlagRW)
	pageEntry.SetFrame(copy)
	flushTLBEntryFn(faultPage.Address())

	// Fault recovered; the instruction that caused it can be retried.
	return true
}

// MapLazyUserPage backs the page containing vaddr with a freshly allocated,
// zeroed frame mapped user-accessible in the currently active address space.
// The frame allocator never zeroes frames itself, so the clear happens here
// before user code can observe the page's contents.
//
// This is the recovery path behind lazy user stack growth: a not-present
// fault on a user-half address is resolved by conjuring the page into
// existence rather than punishing the process.
func MapLazyUserPage(vaddr uintptr, write bool) *kernel.Error {
	frame, err := frameAllocator()
	if err != nil {
		return err
	}

	page := PageFromAddress(vaddr)
	flags := FlagPresent | FlagUserAccessible
	if write {
		flags |= FlagRW
	}

	if err = Map(page, frame, flags); err != nil {
		if frameFreer != nil {
			frameFreer(frame)
		}
		return err
	}

	memsetFn(page.Address(), 0, mem.PageSize)
	return nil
}
