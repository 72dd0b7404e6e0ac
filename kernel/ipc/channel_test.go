package ipc

import (
	"testing"

	"nucleuskernel/kernel/process"

	"github.com/stretchr/testify/require"
)

// resetRegistry clears package-level channel registry state between tests so
// that channel ids allocated by one test don't leak into the next.
func resetRegistry(t *testing.T) {
	t.Helper()
	registry = map[uint32]*Channel{}
	nextAutoID = 1
}

// newRec builds a bare process.Record suitable for exercising the wait-queue
// and blocking logic in this package without going through process.Spawn,
// which would require a real frame allocator and address space behind it.
// This mirrors kernel/sched/queue_test.go's own newRec helper.
func newRec(pid int) *process.Record {
	rec := &process.Record{PID: pid, State: process.Ready}
	rec.Signals.InitDefaultDispositions()
	return rec
}

func TestFindOrCreateAutoAssignsIDsStartingAtOne(t *testing.T) {
	resetRegistry(t)

	c1 := FindOrCreate(0)
	c2 := FindOrCreate(0)
	require.Equal(t, uint32(1), c1.ID)
	require.Equal(t, uint32(2), c2.ID)
	require.NotSame(t, c1, c2)
}

func TestFindOrCreateReturnsSameChannelForSameID(t *testing.T) {
	resetRegistry(t)

	c1 := FindOrCreate(7)
	c2 := FindOrCreate(7)
	require.Same(t, c1, c2)
	require.Equal(t, uint32(7), c1.ID)
}

func TestWriteThenReadReturnsExactBytes(t *testing.T) {
	resetRegistry(t)
	c := FindOrCreate(7)

	n, err := c.Write([]byte("ABC"))
	require.Nil(t, err)
	require.Equal(t, 3, n)

	out := make([]byte, 16)
	n, err = c.Read(out)
	require.Nil(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, "ABC", string(out[:n]))
}

func TestReadBlocksOnEmptyChannelThenWakesOnWrite(t *testing.T) {
	resetRegistry(t)
	c := FindOrCreate(7)

	reader := newRec(1)
	process.SetCurrent(reader)

	yielded := false
	process.SetYielder(func() {
		yielded = true
		// Simulate a writer on another CPU context servicing the channel
		// while reader is parked.
		c.buf.write([]byte("ABC"))
		reader.State = process.Ready
	})

	out := make([]byte, 16)
	n, err := c.Read(out)
	require.Nil(t, err)
	require.True(t, yielded)
	require.Equal(t, 3, n)
	require.Equal(t, "ABC", string(out[:n]))
}

func TestWriteBlocksWhenRingFullThenDrainsPartially(t *testing.T) {
	resetRegistry(t)
	c := FindOrCreate(7)

	// Fill the ring completely.
	full := make([]byte, Capacity)
	n, err := c.Write(full)
	require.Nil(t, err)
	require.Equal(t, Capacity, n)

	writer := newRec(2)
	process.SetCurrent(writer)

	process.SetYielder(func() {
		// A reader drains 10 bytes, freeing up space for the blocked writer.
		drained := make([]byte, 10)
		c.buf.read(drained)
		writer.State = process.Ready
	})

	extra := []byte("0123456789012345")
	n, err = c.Write(extra)
	require.Nil(t, err)
	require.Equal(t, 10, n)
}

func TestCloseWakesAllWaitersWithChannelClosed(t *testing.T) {
	resetRegistry(t)
	c := FindOrCreate(7)
	c.Open()

	reader := newRec(1)
	process.SetCurrent(reader)

	process.SetYielder(func() {
		c.Close()
	})

	out := make([]byte, 4)
	_, err := c.Read(out)
	require.Equal(t, errChannelClosed, err)
}

func TestReadWriteRejectZeroLengthBuffer(t *testing.T) {
	resetRegistry(t)
	c := FindOrCreate(7)

	_, err := c.Read(nil)
	require.Equal(t, errZeroLengthBuffer, err)

	_, err = c.Write(nil)
	require.Equal(t, errZeroLengthBuffer, err)
}

func TestOpenCloseRefcountDestroysOnlyAtZero(t *testing.T) {
	resetRegistry(t)
	c := FindOrCreate(9)
	c.Open()
	c.Open()

	c.Close()
	require.Same(t, c, Lookup(9))

	c.Close()
	require.Nil(t, Lookup(9))
	require.True(t, c.closed)
}
