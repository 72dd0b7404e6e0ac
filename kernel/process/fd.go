package process

import "nucleuskernel/kernel"

var (
	errBadFD = &kernel.Error{Module: "process", Message: "out-of-range or unused file descriptor"}
	// ErrBadFD is returned by fd-table operations given an out-of-range or
	// unused slot.
	ErrBadFD = errBadFD
)

// stdin/stdout/stderr occupy the first three fd slots of every process, per
// the file-descriptor convention in spec.md §6.
const (
	FDStdin  = 0
	FDStdout = 1
	FDStderr = 2
)

// InitFDTable initializes slots 0/1/2 to the standard stdio paths; every
// other slot starts unused. It corresponds to spec.md's
// process_init_fd_table operation.
func (r *Record) InitFDTable() {
	for i := range r.FDs {
		r.FDs[i] = FD{}
	}
	r.FDs[FDStdin] = FD{InUse: true, Path: "/dev/stdin"}
	r.FDs[FDStdout] = FD{InUse: true, Path: "/dev/stdout"}
	r.FDs[FDStderr] = FD{InUse: true, Path: "/dev/stderr"}
}

// AllocFD finds the lowest-numbered free slot, marks it in use and returns
// its index, or ErrBadFD if the table is full.
func (r *Record) AllocFD() (int, *kernel.Error) {
	for i := range r.FDs {
		if !r.FDs[i].InUse {
			r.FDs[i].InUse = true
			return i, nil
		}
	}
	return -1, errBadFD
}

// FDAt returns a pointer to the fd slot at index fd, validating that it is
// both in range and in use.
func (r *Record) FDAt(fd int) (*FD, *kernel.Error) {
	if fd < 0 || fd >= len(r.FDs) || !r.FDs[fd].InUse {
		return nil, errBadFD
	}
	return &r.FDs[fd], nil
}

// ReleaseFD marks fd as unused again.
func (r *Record) ReleaseFD(fd int) *kernel.Error {
	f, err := r.FDAt(fd)
	if err != nil {
		return err
	}
	*f = FD{}
	return nil
}
