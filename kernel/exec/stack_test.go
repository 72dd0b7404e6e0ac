package exec

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const (
	testStackTop  = uintptr(0x7FFFF000)
	testStackSize = uintptr(8192)
)

func TestComputeStackLayoutWritesArgvStringsAndPointerArray(t *testing.T) {
	layout, err := computeStackLayout(testStackTop, testStackSize, []string{"echo", "hi"}, nil)
	require.Nil(t, err)

	stackBase := testStackTop - testStackSize

	readCString := func(addr uintptr) string {
		off := addr - stackBase
		end := off
		for layout.image[end] != 0 {
			end++
		}
		return string(layout.image[off:end])
	}

	readPointer := func(addr uintptr, i int) uintptr {
		off := addr - stackBase + uintptr(i)*8
		var v uintptr
		for b := 0; b < 8; b++ {
			v |= uintptr(layout.image[int(off)+b]) << (8 * b)
		}
		return v
	}

	argv0 := readPointer(layout.argvAddr, 0)
	argv1 := readPointer(layout.argvAddr, 1)
	argvNil := readPointer(layout.argvAddr, 2)

	require.Equal(t, "echo", readCString(argv0))
	require.Equal(t, "hi", readCString(argv1))
	require.Zero(t, argvNil)

	require.Zero(t, readPointer(layout.envpAddr, 0))
	require.Zero(t, layout.rsp&0xF)
	require.GreaterOrEqual(t, layout.rsp, stackBase)
	require.Less(t, layout.rsp, testStackTop)
}

func TestComputeStackLayoutFailsWhenArgvDoesNotFit(t *testing.T) {
	huge := make([]string, 0, 4096)
	for i := 0; i < 4096; i++ {
		huge = append(huge, "x")
	}

	_, err := computeStackLayout(testStackTop, testStackSize, huge, nil)
	require.Equal(t, errStackTooSmall, err)
}

func TestComputeStackLayoutFailsWhenMarginTooSmall(t *testing.T) {
	// Two 150-byte strings plus their pointer arrays occupy roughly 330 of
	// a 512-byte stack: they fit outright, but leave less than the
	// required 256 bytes of headroom below the block.
	long := strings.Repeat("a", 150)

	_, err := computeStackLayout(testStackTop, 512, []string{long, long}, nil)
	require.Equal(t, errStackTooSmall, err)
}

func TestComputeStackLayoutEmptyArgvEnvpStillAligns(t *testing.T) {
	layout, err := computeStackLayout(testStackTop, testStackSize, nil, nil)
	require.Nil(t, err)
	require.Zero(t, layout.rsp&0xF)
}
