package syscall

func init() {
	register(SysMkdir, sysMkdir)
	register(SysRmdir, sysRmdir)
	register(SysChdir, sysChdir)
	register(SysGetcwd, sysGetcwd)
	register(SysLs, sysLs)
}

func sysMkdir(args *Args) int64 {
	path, err := copyStringFromUser(uintptr(args.A0), maxPathLen)
	if err != nil {
		return errnoFor(err)
	}
	if path == "" {
		return errnoBadArg
	}

	fs := activeFSFn()
	if fs == nil {
		return errnoIOError
	}

	if merr := fs.Mkdir(path); merr != nil {
		return errnoFor(merr)
	}
	return 0
}

func sysRmdir(args *Args) int64 {
	path, err := copyStringFromUser(uintptr(args.A0), maxPathLen)
	if err != nil {
		return errnoFor(err)
	}
	if path == "" {
		return errnoBadArg
	}

	fs := activeFSFn()
	if fs == nil {
		return errnoIOError
	}

	if rerr := fs.Rmdir(path); rerr != nil {
		return errnoFor(rerr)
	}
	return 0
}

// sysChdir validates that the target exists and is a directory before
// committing it as the process's working directory. Without a registered
// VFS the existence check is skipped; a boot that never wires a filesystem
// still gets a coherent cwd string.
func sysChdir(args *Args) int64 {
	path, err := copyStringFromUser(uintptr(args.A0), maxPathLen)
	if err != nil {
		return errnoFor(err)
	}
	if path == "" {
		return errnoBadArg
	}

	if fs := activeFSFn(); fs != nil {
		st, serr := fs.Stat(path)
		if serr != nil {
			return errnoFor(serr)
		}
		if !st.IsDir {
			return errnoBadArg
		}
	}

	args.Proc.Cwd = path
	return 0
}

// sysGetcwd copies the NUL-terminated working directory into the user
// buffer at A0 (of size A1) and returns the path's length.
func sysGetcwd(args *Args) int64 {
	cwd := args.Proc.Cwd
	size := int(args.A1)
	if size < len(cwd)+1 {
		return errnoBadArg
	}

	buf := append([]byte(cwd), 0)
	if cerr := copyToUser(uintptr(args.A0), buf); cerr != nil {
		return errnoFor(cerr)
	}
	return int64(len(cwd))
}

// sysLs streams the VFS's formatted listing for the directory named by A0
// into the user buffer at A1 (of size A2), truncating to the buffer size,
// and returns the number of bytes copied.
func sysLs(args *Args) int64 {
	path, err := copyStringFromUser(uintptr(args.A0), maxPathLen)
	if err != nil {
		return errnoFor(err)
	}
	if path == "" {
		return errnoBadArg
	}

	fs := activeFSFn()
	if fs == nil {
		return errnoIOError
	}

	listing, lerr := fs.ReadDir(path)
	if lerr != nil {
		return errnoFor(lerr)
	}

	n := len(listing)
	if max := int(args.A2); n > max {
		n = max
	}
	if n == 0 {
		return 0
	}

	if cerr := copyToUser(uintptr(args.A1), listing[:n]); cerr != nil {
		return errnoFor(cerr)
	}
	return int64(n)
}
