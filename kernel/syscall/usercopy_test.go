package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeUserMem models just enough of a user address space for the copy
// routines: a sparse byte store plus per-page mapped/read-only flags.
type fakeUserMem struct {
	bytes    map[uintptr]byte
	mapped   map[uintptr]bool
	readOnly map[uintptr]bool
}

// installFakeUserMem points the user-copy seams at an empty fake address
// space and restores the real ones when the test finishes.
func installFakeUserMem(t *testing.T) *fakeUserMem {
	t.Helper()

	m := &fakeUserMem{
		bytes:    map[uintptr]byte{},
		mapped:   map[uintptr]bool{},
		readOnly: map[uintptr]bool{},
	}

	origCheck, origPeek, origPoke := checkUserPageFn, peekUserByteFn, pokeUserByteFn
	t.Cleanup(func() {
		checkUserPageFn, peekUserByteFn, pokeUserByteFn = origCheck, origPeek, origPoke
	})

	checkUserPageFn = func(page uintptr, write bool) bool {
		if !m.mapped[page] {
			return false
		}
		return !(write && m.readOnly[page])
	}
	peekUserByteFn = func(addr uintptr) byte { return m.bytes[addr] }
	pokeUserByteFn = func(addr uintptr, v byte) { m.bytes[addr] = v }

	return m
}

// mapPage marks the page containing addr as mapped.
func (m *fakeUserMem) mapPage(addr uintptr) {
	m.mapped[addr&^(pageSize-1)] = true
}

// write stores data at addr, mapping every page it covers.
func (m *fakeUserMem) write(addr uintptr, data []byte) {
	for i, b := range data {
		m.bytes[addr+uintptr(i)] = b
		m.mapPage(addr + uintptr(i))
	}
}

// writeString stores a NUL-terminated string at addr.
func (m *fakeUserMem) writeString(addr uintptr, s string) {
	m.write(addr, append([]byte(s), 0))
}

// writePointer stores one little-endian 8-byte pointer at addr.
func (m *fakeUserMem) writePointer(addr, ptr uintptr) {
	var raw [8]byte
	for i := range raw {
		raw[i] = byte(ptr >> (8 * i))
	}
	m.write(addr, raw[:])
}

// read returns n bytes starting at addr.
func (m *fakeUserMem) read(addr uintptr, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = m.bytes[addr+uintptr(i)]
	}
	return out
}

func TestValidateUserRange(t *testing.T) {
	m := installFakeUserMem(t)
	m.mapPage(0x400000)

	require.Nil(t, validateUserRange(0x400010, 16, false))
	require.Equal(t, errBadArg, validateUserRange(0x400010, 0, false))
	require.Equal(t, errBadArg, validateUserRange(0x400010, maxUserTransfer+1, false))

	// The second page of a straddling range is unmapped.
	require.Equal(t, errBadAddress, validateUserRange(0x400ff8, 16, false))

	// Writes to a read-only page are rejected.
	m.readOnly[0x400000] = true
	require.Equal(t, errBadAddress, validateUserRange(0x400010, 16, true))
	require.Nil(t, validateUserRange(0x400010, 16, false))
}

func TestCopyFromAndToUser(t *testing.T) {
	m := installFakeUserMem(t)
	m.write(0x400000, []byte("kernel boundary"))

	dst := make([]byte, 15)
	require.Nil(t, copyFromUser(dst, 0x400000))
	require.Equal(t, "kernel boundary", string(dst))

	require.Nil(t, copyToUser(0x400100, []byte("reply")))
	require.Equal(t, "reply", string(m.read(0x400100, 5)))

	require.Equal(t, errBadAddress, copyFromUser(dst, 0x500000))
}

func TestCopyStringFromUser(t *testing.T) {
	m := installFakeUserMem(t)
	m.writeString(0x400000, "/bin/echo")

	s, err := copyStringFromUser(0x400000, maxPathLen)
	require.Nil(t, err)
	require.Equal(t, "/bin/echo", s)

	// An unterminated string that exceeds the limit.
	long := make([]byte, maxPathLen+2)
	for i := range long {
		long[i] = 'a'
	}
	m.write(0x401000, long)
	_, err = copyStringFromUser(0x401000, maxPathLen)
	require.Equal(t, errNameTooLong, err)

	// A string running off the last mapped page.
	unterminated := []byte{'b', 'c', 'd'}
	base := uintptr(0x403000) - uintptr(len(unterminated))
	m.write(base, unterminated)
	_, err = copyStringFromUser(base, maxPathLen)
	require.Equal(t, errBadAddress, err)
}

func TestCopyStringArrayFromUser(t *testing.T) {
	m := installFakeUserMem(t)

	m.writeString(0x400100, "echo")
	m.writeString(0x400110, "hi")
	m.writePointer(0x400000, 0x400100)
	m.writePointer(0x400008, 0x400110)
	m.writePointer(0x400010, 0)

	argv, err := copyStringArrayFromUser(0x400000)
	require.Nil(t, err)
	require.Equal(t, []string{"echo", "hi"}, argv)

	// A nil array pointer is an empty vector, not an error.
	argv, err = copyStringArrayFromUser(0)
	require.Nil(t, err)
	require.Empty(t, argv)

	// An array that never terminates is rejected once it exceeds the
	// vector bound.
	for i := 0; i <= maxArgVectors; i++ {
		m.writePointer(0x402000+uintptr(i)*8, 0x400100)
	}
	_, err = copyStringArrayFromUser(0x402000)
	require.Equal(t, errBadArg, err)
}
