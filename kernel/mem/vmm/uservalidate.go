package vmm

// UserHalfCeiling is the first virtual address that belongs to the kernel
// half (PML4 index kernelHalfStart). Any address at or above this boundary
// is never a valid target for a copy_from_user/copy_to_user style access,
// regardless of what its page table entries say.
var UserHalfCeiling = uintptr(kernelHalfStart) << pageLevelShifts[0]

// CheckUserPage reports whether vaddr is present, mapped USER-accessible,
// and (if requireWrite is set) writable in the currently active address
// space. It is the primitive the syscall dispatcher's copy_from_user/
// copy_to_user routines use to validate a single page of a user pointer
// argument before touching it, the same pteForAddress lookup Translate
// already performs for its own purposes.
func CheckUserPage(vaddr uintptr, requireWrite bool) bool {
	if vaddr >= UserHalfCeiling {
		return false
	}

	pte, err := pteForAddress(vaddr)
	if err != nil {
		return false
	}
	if !pte.HasFlags(FlagPresent | FlagUserAccessible) {
		return false
	}
	if requireWrite && !pte.HasFlags(FlagRW) {
		return false
	}
	return true
}
