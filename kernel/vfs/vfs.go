// Package vfs declares the narrow contract the kernel core requires from a
// filesystem implementation. The core never implements a filesystem itself;
// it only calls through this interface so that file, directory and device
// I/O syscalls can be dispatched to whatever VFS a surrounding build wires
// in at boot.
package vfs

import "nucleuskernel/kernel"

// Handle is an opaque, VFS-owned reference to an open file or directory. The
// core never interprets its contents; it only stores it in a process's
// file-descriptor table and hands it back to the VFS on every subsequent
// call.
type Handle interface{}

// Stat describes the subset of file metadata the core's stat/fstat syscalls
// expose to user space.
type Stat struct {
	Size    int64
	IsDir   bool
	Mode    uint32
	ModTime int64
}

// FS is the interface the syscall dispatcher and ELF loader use to reach the
// surrounding filesystem. A concrete VFS registers an implementation via
// Register during boot; until then, every file-backed syscall fails with
// IO-ERROR.
type FS interface {
	// ReadFile reads the entire contents of path into memory, used by the
	// ELF loader to bring an executable image into a kernel buffer.
	ReadFile(path string) ([]byte, *kernel.Error)

	// Open returns a Handle for path honoring flags (VFS-defined, POSIX-ish:
	// O_RDONLY/O_WRONLY/O_RDWR/O_CREAT/O_TRUNC/O_APPEND style bits).
	Open(path string, flags int) (Handle, *kernel.Error)

	// Read reads up to len(buf) bytes from h at its current offset.
	Read(h Handle, buf []byte) (int, *kernel.Error)

	// Write writes buf to h at its current offset.
	Write(h Handle, buf []byte) (int, *kernel.Error)

	// Close releases h. Closing an already-closed handle is the caller's
	// error, not the VFS's.
	Close(h Handle) *kernel.Error

	// Seek repositions h's offset; whence follows the lseek(2) convention
	// (0=start, 1=current, 2=end).
	Seek(h Handle, offset int64, whence int) (int64, *kernel.Error)

	// Stat returns metadata for path without opening it.
	Stat(path string) (Stat, *kernel.Error)

	// FStat returns metadata for an already-open handle.
	FStat(h Handle) (Stat, *kernel.Error)

	// Unlink removes the file named by path.
	Unlink(path string) *kernel.Error

	// Mkdir creates the directory named by path.
	Mkdir(path string) *kernel.Error

	// Rmdir removes the empty directory named by path.
	Rmdir(path string) *kernel.Error

	// ReadDir returns a formatted byte stream describing the directory's
	// entries, used directly as the payload for the ls syscall.
	ReadDir(path string) ([]byte, *kernel.Error)
}

// active holds the FS implementation registered via Register. It starts nil;
// every core component that needs the VFS must tolerate that and fail with
// IO-ERROR rather than panicking, since drivers and filesystems initialize
// after the memory/process/scheduler core.
var active FS

// Register installs fs as the active filesystem implementation. Surrounding
// boot code calls this once, after the VFS and its backing drivers have
// initialized.
func Register(fs FS) {
	active = fs
}

// Active returns the currently registered filesystem implementation, or nil
// if none has been registered yet.
func Active() FS {
	return active
}
