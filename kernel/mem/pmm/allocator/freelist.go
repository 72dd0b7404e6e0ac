package allocator

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/mem"
	"nucleuskernel/kernel/mem/pmm"
	"unsafe"
)

var (
	errFreeListOutOfMemory = &kernel.Error{Module: "freelist_alloc", Message: "out of memory"}
	errFreeListBadRange    = &kernel.Error{Module: "freelist_alloc", Message: "base address is not frame-aligned or size is smaller than one frame"}
)

// freeListNode is overlaid on top of a free frame's contents so the frame
// itself supplies the storage for the intrusive LIFO stack; no separate
// bookkeeping allocation is ever required.
type freeListNode struct {
	next pmm.Frame
}

// FreeListAllocator hands out and reclaims 4K physical frames from a single
// contiguous range using an intrusive LIFO free list. Unlike bootMemAllocator
// (see bootmem.go) it supports freeing, making it suitable as the kernel's
// steady-state physical frame allocator once the bootstrap phase is over.
//
// The allocator never zeroes frame contents; callers that require zeroed
// memory (e.g. user-space mappings) must clear the frame themselves.
type FreeListAllocator struct {
	base, size uintptr
	totalCount uint64
	freeCount  uint64
	head       pmm.Frame
	headValid  bool

	// readNodeFn and writeNodeFn access the free-list node stored at the
	// start of a frame's contents. They are overridden by tests, which keep
	// the nodes in a Go map instead of raw physical memory.
	readNodeFn  func(pmm.Frame) freeListNode
	writeNodeFn func(pmm.Frame, freeListNode)
}

// Init partitions [base, base+size) into 4K frames and pushes all of them
// onto the free list. It fails if base is not frame-aligned or size does not
// cover at least one frame.
func (a *FreeListAllocator) Init(base, size uintptr) *kernel.Error {
	if base&uintptr(mem.PageSize-1) != 0 || size < uintptr(mem.PageSize) {
		return errFreeListBadRange
	}

	if a.readNodeFn == nil {
		a.readNodeFn = defaultReadNode
	}
	if a.writeNodeFn == nil {
		a.writeNodeFn = defaultWriteNode
	}

	a.base = base
	a.size = size
	a.totalCount = uint64(size) / uint64(mem.PageSize)
	a.freeCount = 0
	a.headValid = false

	frameCount := pmm.Frame(a.totalCount)
	startFrame := pmm.FrameFromAddress(base)
	for i := pmm.Frame(0); i < frameCount; i++ {
		a.push(startFrame + i)
	}

	return nil
}

// TotalFrames returns the number of frames this allocator was initialized with.
func (a *FreeListAllocator) TotalFrames() uint64 { return a.totalCount }

// FreeFrames returns the number of frames currently available for allocation.
func (a *FreeListAllocator) FreeFrames() uint64 { return a.freeCount }

// AllocFrame pops a frame off the free list. It returns an error if the
// allocator is exhausted.
func (a *FreeListAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	if !a.headValid {
		return pmm.InvalidFrame, errFreeListOutOfMemory
	}

	frame := a.head
	node := a.readNodeFn(frame)
	a.freeCount--
	a.headValid = a.freeCount > 0
	if a.headValid {
		a.head = node.next
	}

	return frame, nil
}

// FreeFrame returns frame to the top of the free list. Freeing a frame the
// allocator does not own, or freeing the same frame twice, is undefined
// behavior per the PFA contract; detecting it is a quality-of-implementation
// concern this allocator does not attempt.
func (a *FreeListAllocator) FreeFrame(frame pmm.Frame) {
	a.push(frame)
}

func (a *FreeListAllocator) push(frame pmm.Frame) {
	next := pmm.InvalidFrame
	if a.headValid {
		next = a.head
	}
	a.writeNodeFn(frame, freeListNode{next: next})
	a.head = frame
	a.headValid = true
	a.freeCount++
}

// frameNodePtr returns a pointer to the free-list node stored at the start of
// frame's physical contents.
func frameNodePtr(f pmm.Frame) unsafe.Pointer {
	return unsafe.Pointer(f.Address())
}

func defaultReadNode(f pmm.Frame) freeListNode {
	return *(*freeListNode)(frameNodePtr(f))
}

func defaultWriteNode(f pmm.Frame, n freeListNode) {
	*(*freeListNode)(frameNodePtr(f)) = n
}
