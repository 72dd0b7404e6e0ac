package syscall

import (
	"bytes"
	"io"
	"testing"

	"nucleuskernel/kernel"
	"nucleuskernel/kernel/ipc"
	"nucleuskernel/kernel/process"
	"nucleuskernel/kernel/vfs"

	"github.com/stretchr/testify/require"
)

// fakeFS is an in-memory vfs.FS good enough to exercise the file syscalls.
type fakeFS struct {
	files map[string][]byte
	dirs  map[string]bool

	opened []string
	closed int
}

type fakeHandle struct {
	path   string
	offset int64
}

var errFakeNotFound = &kernel.Error{Module: "fakefs", Message: "no such file"}

func newFakeFS() *fakeFS {
	return &fakeFS{files: map[string][]byte{}, dirs: map[string]bool{}}
}

func (f *fakeFS) ReadFile(path string) ([]byte, *kernel.Error) {
	data, ok := f.files[path]
	if !ok {
		return nil, errFakeNotFound
	}
	return data, nil
}

func (f *fakeFS) Open(path string, flags int) (vfs.Handle, *kernel.Error) {
	if _, ok := f.files[path]; !ok {
		return nil, errFakeNotFound
	}
	f.opened = append(f.opened, path)
	return &fakeHandle{path: path}, nil
}

func (f *fakeFS) Read(h vfs.Handle, buf []byte) (int, *kernel.Error) {
	fh := h.(*fakeHandle)
	data := f.files[fh.path]
	if fh.offset >= int64(len(data)) {
		return 0, nil
	}
	n := copy(buf, data[fh.offset:])
	fh.offset += int64(n)
	return n, nil
}

func (f *fakeFS) Write(h vfs.Handle, buf []byte) (int, *kernel.Error) {
	fh := h.(*fakeHandle)
	f.files[fh.path] = append(f.files[fh.path][:fh.offset], buf...)
	fh.offset += int64(len(buf))
	return len(buf), nil
}

func (f *fakeFS) Close(h vfs.Handle) *kernel.Error {
	f.closed++
	return nil
}

func (f *fakeFS) Seek(h vfs.Handle, offset int64, whence int) (int64, *kernel.Error) {
	fh := h.(*fakeHandle)
	switch whence {
	case 1:
		fh.offset += offset
	case 2:
		fh.offset = int64(len(f.files[fh.path])) + offset
	default:
		fh.offset = offset
	}
	return fh.offset, nil
}

func (f *fakeFS) Stat(path string) (vfs.Stat, *kernel.Error) {
	if f.dirs[path] {
		return vfs.Stat{IsDir: true, Mode: 0755}, nil
	}
	data, ok := f.files[path]
	if !ok {
		return vfs.Stat{}, errFakeNotFound
	}
	return vfs.Stat{Size: int64(len(data)), Mode: 0644, ModTime: 1234}, nil
}

func (f *fakeFS) FStat(h vfs.Handle) (vfs.Stat, *kernel.Error) {
	return f.Stat(h.(*fakeHandle).path)
}

func (f *fakeFS) Unlink(path string) *kernel.Error {
	if _, ok := f.files[path]; !ok {
		return errFakeNotFound
	}
	delete(f.files, path)
	return nil
}

func (f *fakeFS) Mkdir(path string) *kernel.Error {
	f.dirs[path] = true
	return nil
}

func (f *fakeFS) Rmdir(path string) *kernel.Error {
	if !f.dirs[path] {
		return errFakeNotFound
	}
	delete(f.dirs, path)
	return nil
}

func (f *fakeFS) ReadDir(path string) ([]byte, *kernel.Error) {
	if !f.dirs[path] {
		return nil, errFakeNotFound
	}
	return []byte("bin\netc\nhome\n"), nil
}

// installFakeFS wires a fresh fakeFS into the syscall seams and returns it
// together with a user process ready to make calls.
func installFakeFS(t *testing.T) (*fakeFS, *process.Record) {
	t.Helper()

	fs := newFakeFS()
	origActive := activeFSFn
	origChannel := findOrCreateChannelFn
	origSink := consoleSinkFn
	t.Cleanup(func() {
		activeFSFn = origActive
		findOrCreateChannelFn = origChannel
		consoleSinkFn = origSink
	})
	activeFSFn = func() vfs.FS { return fs }

	rec := &process.Record{PID: 2, State: process.Running}
	rec.InitFDTable()
	return fs, rec
}

func TestSysOpenReadCloseFile(t *testing.T) {
	fs, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/etc/motd")
	m.mapPage(0x401000)

	fs.files["/etc/motd"] = []byte("welcome\n")

	fd := sysOpen(&Args{Proc: rec, A0: 0x400000, A1: 0})
	require.Equal(t, int64(3), fd, "the first free slot after stdio should be 3")
	require.Equal(t, []string{"/etc/motd"}, fs.opened)

	n := sysRead(&Args{Proc: rec, A0: uint64(fd), A1: 0x401000, A2: 8})
	require.Equal(t, int64(8), n)
	require.Equal(t, "welcome\n", string(m.read(0x401000, 8)))

	// A second read is at EOF.
	require.Equal(t, int64(0), sysRead(&Args{Proc: rec, A0: uint64(fd), A1: 0x401000, A2: 8}))

	require.Equal(t, int64(0), sysClose(&Args{Proc: rec, A0: uint64(fd)}))
	require.Equal(t, 1, fs.closed)
	require.False(t, rec.FDs[3].InUse)

	// Using the released fd again is BAD-FD.
	require.Equal(t, int64(errnoBadFD), sysRead(&Args{Proc: rec, A0: uint64(fd), A1: 0x401000, A2: 8}))
}

func TestSysOpenMissingFile(t *testing.T) {
	_, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/no/such")

	// The fake FS error is not one of the core's sentinels, so it reports
	// as IO-ERROR.
	require.Equal(t, int64(errnoIOError), sysOpen(&Args{Proc: rec, A0: 0x400000}))
}

func TestSysWriteFileAndLseek(t *testing.T) {
	fs, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/tmp/out")
	m.write(0x401000, []byte("payload"))

	fs.files["/tmp/out"] = nil

	fd := sysOpen(&Args{Proc: rec, A0: 0x400000, A1: 1})
	require.GreaterOrEqual(t, fd, int64(3))

	n := sysWrite(&Args{Proc: rec, A0: uint64(fd), A1: 0x401000, A2: 7})
	require.Equal(t, int64(7), n)
	require.Equal(t, "payload", string(fs.files["/tmp/out"]))

	off := sysLseek(&Args{Proc: rec, A0: uint64(fd), A1: 0, A2: 0})
	require.Equal(t, int64(0), off)
	require.Equal(t, int64(0), rec.FDs[int(fd)].Offset)
}

func TestSysWriteStdout(t *testing.T) {
	_, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.write(0x400000, []byte("hello"))

	var buf bytes.Buffer
	consoleSinkFn = func() io.Writer { return &buf }

	n := sysWrite(&Args{Proc: rec, A0: process.FDStdout, A1: 0x400000, A2: 5})
	require.Equal(t, int64(5), n)
	require.Equal(t, "hello", buf.String())

	// Reading the stdin sink yields EOF.
	m.mapPage(0x401000)
	require.Equal(t, int64(0), sysRead(&Args{Proc: rec, A0: process.FDStdin, A1: 0x401000, A2: 16}))

	// Stdio sinks are not seekable.
	require.Equal(t, int64(errnoBadArg), sysLseek(&Args{Proc: rec, A0: process.FDStdout}))
}

func TestChannelPseudoPaths(t *testing.T) {
	_, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/chan/7")
	m.write(0x401000, []byte("ping"))
	m.mapPage(0x402000)

	var requestedID uint32
	ch := ipc.FindOrCreate(7)
	findOrCreateChannelFn = func(id uint32) *ipc.Channel {
		requestedID = id
		return ch
	}

	fd := sysOpen(&Args{Proc: rec, A0: 0x400000})
	require.Equal(t, int64(3), fd)
	require.Equal(t, uint32(7), requestedID)
	require.Same(t, ch, rec.FDs[3].Handle)

	n := sysWrite(&Args{Proc: rec, A0: uint64(fd), A1: 0x401000, A2: 4})
	require.Equal(t, int64(4), n)

	n = sysRead(&Args{Proc: rec, A0: uint64(fd), A1: 0x402000, A2: 16})
	require.Equal(t, int64(4), n)
	require.Equal(t, "ping", string(m.read(0x402000, 4)))

	// Channels cannot be seeked or fstat'ed.
	require.Equal(t, int64(errnoBadArg), sysLseek(&Args{Proc: rec, A0: uint64(fd)}))
	require.Equal(t, int64(errnoBadArg), sysFstat(&Args{Proc: rec, A0: uint64(fd), A1: 0x402000}))

	require.Equal(t, int64(0), sysClose(&Args{Proc: rec, A0: uint64(fd)}))
	require.Nil(t, ipc.Lookup(7), "closing the last fd must destroy the channel")
}

func TestSysStatAndFstat(t *testing.T) {
	fs, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/etc/motd")
	m.mapPage(0x401000)

	fs.files["/etc/motd"] = []byte("welcome\n")

	require.Equal(t, int64(0), sysStat(&Args{Proc: rec, A0: 0x400000, A1: 0x401000}))

	// statBuf.Size is the first field, little endian.
	require.Equal(t, []byte{8, 0, 0, 0, 0, 0, 0, 0}, m.read(0x401000, 8))

	fd := sysOpen(&Args{Proc: rec, A0: 0x400000})
	require.Equal(t, int64(0), sysFstat(&Args{Proc: rec, A0: uint64(fd), A1: 0x401000}))
}

func TestSysUnlink(t *testing.T) {
	fs, rec := installFakeFS(t)
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/etc/motd")

	fs.files["/etc/motd"] = []byte("x")

	require.Equal(t, int64(0), sysUnlink(&Args{Proc: rec, A0: 0x400000}))
	_, ok := fs.files["/etc/motd"]
	require.False(t, ok)

	require.Equal(t, int64(errnoIOError), sysUnlink(&Args{Proc: rec, A0: 0x400000}))
}

func TestParseChannelPath(t *testing.T) {
	id, ok := parseChannelPath("/chan/42")
	require.True(t, ok)
	require.Equal(t, uint32(42), id)

	id, ok = parseChannelPath("/chan/0")
	require.True(t, ok)
	require.Equal(t, uint32(0), id)

	_, ok = parseChannelPath("/etc/motd")
	require.False(t, ok)

	id, ok = parseChannelPath("/chan/notanumber")
	require.True(t, ok)
	require.Equal(t, uint32(0), id)
}
