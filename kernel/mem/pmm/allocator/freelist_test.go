package allocator

import (
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/pmm"
	"testing"

	"github.com/stretchr/testify/require"
)

// newHeapBackedAllocator returns a FreeListAllocator whose node storage lives
// in a regular Go map instead of raw physical memory, so tests can run on the
// host without touching arbitrary addresses.
func newHeapBackedAllocator() *FreeListAllocator {
	backing := make(map[pmm.Frame]freeListNode)

	a := &FreeListAllocator{
		readNodeFn: func(f pmm.Frame) freeListNode {
			return backing[f]
		},
		writeNodeFn: func(f pmm.Frame, n freeListNode) {
			backing[f] = n
		},
	}

	return a
}

func TestFreeListAllocatorS1(t *testing.T) {
	// Scenario S1 from spec.md §8: pfa_init(0x800000, 0x1800000) produces
	// 6144 frames; 6144 allocations succeed, the 6145th fails.
	const (
		base = uintptr(0x800000)
		size = uintptr(0x1800000)
	)

	a := newHeapBackedAllocator()
	require.Nil(t, a.Init(base, size))
	require.EqualValues(t, 6144, a.TotalFrames())

	seen := make(map[pmm.Frame]bool)
	for i := 0; i < 6144; i++ {
		f, err := a.AllocFrame()
		require.Nil(t, err, "allocation %d should succeed", i)
		require.True(t, f.Valid())
		require.False(t, seen[f], "frame %d returned twice", f)
		seen[f] = true
	}

	_, err := a.AllocFrame()
	require.NotNil(t, err, "6145th allocation should fail")
	require.Equal(t, errFreeListOutOfMemory, err)
}

func TestFreeListAllocatorFreeRestoresTop(t *testing.T) {
	a := newHeapBackedAllocator()
	require.Nil(t, a.Init(0x1000, mem.PageSize*4))

	f1, err := a.AllocFrame()
	require.Nil(t, err)

	a.FreeFrame(f1)
	require.EqualValues(t, 4, a.FreeFrames())

	f2, err := a.AllocFrame()
	require.Nil(t, err)
	require.Equal(t, f1, f2, "freeing a frame should push it back to the top of the free list")
}

func TestFreeListAllocatorConservation(t *testing.T) {
	a := newHeapBackedAllocator()
	require.Nil(t, a.Init(0x0, mem.PageSize*16))

	var allocated []pmm.Frame
	for i := 0; i < 10; i++ {
		f, err := a.AllocFrame()
		require.Nil(t, err)
		allocated = append(allocated, f)
	}
	require.EqualValues(t, 6, a.FreeFrames())

	for _, f := range allocated {
		a.FreeFrame(f)
	}
	require.EqualValues(t, 16, a.FreeFrames(), "free+mapped frame count must return to the pre-sequence value")
}

func TestFreeListAllocatorRejectsBadRange(t *testing.T) {
	a := newHeapBackedAllocator()
	require.NotNil(t, a.Init(0x1, mem.PageSize*4), "unaligned base must be rejected")
	require.NotNil(t, a.Init(0x1000, mem.PageSize-1), "sub-page size must be rejected")
}
