// Package sched implements the kernel's cooperative round-robin scheduler:
// a circular singly-linked run queue of READY processes, dispatched one at
// a time, with no preemption and no priorities. A process only leaves the
// CPU by blocking, exiting or being terminated by a signal.
package sched

import "nucleuskernel/kernel/process"

// Node is one cell of the run-queue ring. The ring is circular: tail.next is
// always the head. A Record's queue membership is tracked by storing its
// *Node back on the Record itself (process.Record.SetQueueNode), so Remove
// can find a process's cell in O(1) without a separate lookup table.
type Node struct {
	rec  *process.Record
	next *Node
}

// tail is the most recently added node; tail.next is the head of the ring.
// A nil tail means the ring is empty.
var tail *Node

// cursor is the node ScheduleNext most recently examined, so the next
// search resumes after it rather than always starting at the head. This is
// what gives round-robin its fairness: every process gets one turn per lap
// of the ring before any process gets a second.
var cursor *Node

// count is the number of nodes currently in the ring, kept alongside tail so
// ScheduleNext can bound its search to one full lap without walking the
// ring twice.
var count int

// Add enqueues rec as READY and appends it to the tail of the run queue.
func Add(rec *process.Record) {
	node := &Node{rec: rec}
	rec.State = process.Ready
	rec.SetQueueNode(node)

	if tail == nil {
		node.next = node
		tail = node
		count = 1
		return
	}

	node.next = tail.next
	tail.next = node
	tail = node
	count++
}

// Remove unlinks rec from the run queue, if it is queued at all. Safe to
// call on a process that was never added or was already removed.
func Remove(rec *process.Record) {
	n, ok := rec.QueueNode().(*Node)
	if !ok || n == nil {
		return
	}
	rec.SetQueueNode(nil)

	if n.next == n {
		tail, cursor, count = nil, nil, 0
		return
	}

	prev := n
	for prev.next != n {
		prev = prev.next
	}
	prev.next = n.next

	if tail == n {
		tail = prev
	}
	if cursor == n {
		cursor = prev
	}
	count--
}

// Len reports how many processes are currently queued.
func Len() int {
	return count
}
