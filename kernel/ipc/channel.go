package ipc

import (
	"nucleuskernel/kernel"
	"nucleuskernel/kernel/process"
	"nucleuskernel/kernel/sync"
)

// Channel is a kernel-owned IPC endpoint: a fixed-capacity ring buffer plus
// the bookkeeping spec.md's data model requires (reader/writer wait queues,
// reader/writer/open-fd refcounts, a spin-flag reserved for a future
// preemptive build).
type Channel struct {
	ID uint32

	buf     ring
	readers waitQueue
	writers waitQueue

	ReaderRefs int
	WriterRefs int
	openRefs   int

	// closed is set once openRefs drops to zero. Every Read/Write already
	// blocked or newly attempted against a closed channel fails with
	// ErrChannelClosed rather than blocking forever on a resource nothing
	// will ever service again.
	closed bool

	// spinFlag guards buffer mutations. On this single-CPU cooperative
	// kernel no process can be preempted mid-mutation, so the lock is
	// never contended and the non-blocking acquire below always succeeds;
	// a preemptive build changes acquire to the busy-waiting
	// Spinlock.Acquire and nothing else, exactly the local-change shape
	// spec.md §5 calls for.
	spinFlag sync.Spinlock
}

func (c *Channel) acquire() { c.spinFlag.TryToAcquire() }
func (c *Channel) release() { c.spinFlag.Release() }

var errChannelClosed = &kernel.Error{Module: "ipc", Message: "channel closed"}

// ErrChannelClosed is returned to any in-progress or newly attempted
// Read/Write once a channel has been destroyed.
var ErrChannelClosed = errChannelClosed

var errNoCurrentProcess = &kernel.Error{Module: "ipc", Message: "no current process to block"}

var errZeroLengthBuffer = &kernel.Error{Module: "ipc", Message: "zero-length buffer"}

// ErrZeroLengthBuffer is returned by Read/Write when handed an empty buffer;
// spec.md's error kinds call this out explicitly (BAD-ARG: "zero-length
// buffer where forbidden").
var ErrZeroLengthBuffer = errZeroLengthBuffer

// registry maps channel ids to the live Channel they name. Like the process
// table and the scheduler's run queue, it is kernel-private state mutated
// only from the kernel's single cooperative thread, so it needs no lock
// (spec.md §5).
var registry = map[uint32]*Channel{}

// nextAutoID is the next candidate id handed out when FindOrCreate is asked
// to allocate one (requested id 0), scanning forward past any id already in
// the registry.
var nextAutoID uint32 = 1

// FindOrCreate returns the channel named by id, creating it on first
// reference. id == 0 means "allocate the next free id >= 1", matching
// spec.md's access surface for find_or_create.
func FindOrCreate(id uint32) *Channel {
	if id != 0 {
		if c, ok := registry[id]; ok {
			return c
		}
		c := &Channel{ID: id}
		registry[id] = c
		return c
	}

	for {
		if _, taken := registry[nextAutoID]; !taken {
			break
		}
		nextAutoID++
	}
	c := &Channel{ID: nextAutoID}
	registry[nextAutoID] = c
	nextAutoID++
	return c
}

// Lookup returns the channel named by id without creating one, or nil if no
// such channel currently exists.
func Lookup(id uint32) *Channel {
	return registry[id]
}

// Open increments c's open-fd refcount: one more file descriptor now
// references this channel.
func (c *Channel) Open() {
	c.openRefs++
}

// Close decrements c's open-fd refcount. Once it reaches zero the channel is
// destroyed: it is removed from the registry and every process still parked
// on either of its wait queues is woken, with its blocked Read/Write call
// returning ErrChannelClosed, per spec.md's IPC channel lifecycle.
func (c *Channel) Close() {
	c.openRefs--
	if c.openRefs > 0 {
		return
	}

	c.closed = true
	delete(registry, c.ID)
	c.readers.wakeAll()
	c.writers.wakeAll()
}

// Read drains up to len(buf) bytes from c into buf. If the ring buffer is
// empty, the calling process blocks on c's readers wait queue until woken by
// a writer or by the channel's destruction. A successful Read always
// transfers at least one byte; it never returns (0, nil).
func (c *Channel) Read(buf []byte) (int, *kernel.Error) {
	if len(buf) == 0 {
		return 0, errZeroLengthBuffer
	}

	for {
		if c.closed {
			return 0, errChannelClosed
		}

		c.acquire()
		n := c.buf.read(buf)
		c.release()

		if n > 0 {
			c.writers.wakeOne()
			return n, nil
		}

		cur := process.Current()
		if cur == nil {
			return 0, errNoCurrentProcess
		}
		cur.State = process.Blocked
		c.readers.enqueue(cur)
		process.Yield()

		if c.closed {
			return 0, errChannelClosed
		}
	}
}

// Write copies up to len(buf) bytes of buf into c. If the ring buffer is
// completely full, the calling process blocks on c's writers wait queue
// until woken by a reader or by the channel's destruction. A successful
// Write always transfers at least one byte; it never returns (0, nil).
func (c *Channel) Write(buf []byte) (int, *kernel.Error) {
	if len(buf) == 0 {
		return 0, errZeroLengthBuffer
	}

	for {
		if c.closed {
			return 0, errChannelClosed
		}

		c.acquire()
		n := c.buf.write(buf)
		c.release()

		if n > 0 {
			c.readers.wakeOne()
			return n, nil
		}

		cur := process.Current()
		if cur == nil {
			return 0, errNoCurrentProcess
		}
		cur.State = process.Blocked
		c.writers.enqueue(cur)
		process.Yield()

		if c.closed {
			return 0, errChannelClosed
		}
	}
}
