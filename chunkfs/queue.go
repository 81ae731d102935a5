package chunkfs

import (
	"container/heap"
	"time"
)

// QueueMode selects how the compactor orders pending chunks.
type QueueMode int

const (
	// QueueFIFO only ever looks at the oldest entry. A young entry at
	// the head holds back everything queued behind it.
	QueueFIFO QueueMode = iota
	// QueueDeadline orders entries by the time they become idle, so
	// an old entry is never starved by a freshly queued one.
	QueueDeadline
)

func (m QueueMode) String() string {
	switch m {
	case QueueFIFO:
		return "fifo"
	case QueueDeadline:
		return "deadline"
	default:
		return "unknown"
	}
}

// queueEntry is a chunk path waiting for compression.
type queueEntry struct {
	path     string
	deadline time.Time
	attempts int
	seq      uint64
}

// compactionQueue is the storage behind the compactor. It is not safe for
// concurrent use; the Compressor guards it with its mutex.
type compactionQueue interface {
	push(e queueEntry)
	peek() (queueEntry, bool)
	pop() (queueEntry, bool)
	contains(path string) bool
	remove(path string) int
	len() int
}

func newQueue(mode QueueMode) compactionQueue {
	if mode == QueueDeadline {
		return &deadlineQueue{}
	}
	return &fifoQueue{}
}

type fifoQueue struct {
	entries []queueEntry
}

func (q *fifoQueue) push(e queueEntry) { q.entries = append(q.entries, e) }

func (q *fifoQueue) peek() (queueEntry, bool) {
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	return q.entries[0], true
}

func (q *fifoQueue) pop() (queueEntry, bool) {
	if len(q.entries) == 0 {
		return queueEntry{}, false
	}
	e := q.entries[0]
	q.entries[0] = queueEntry{}
	q.entries = q.entries[1:]
	return e, true
}

func (q *fifoQueue) contains(path string) bool {
	for _, e := range q.entries {
		if e.path == path {
			return true
		}
	}
	return false
}

func (q *fifoQueue) remove(path string) int {
	kept := q.entries[:0]
	for _, e := range q.entries {
		if e.path != path {
			kept = append(kept, e)
		}
	}
	removed := len(q.entries) - len(kept)
	q.entries = kept
	return removed
}

func (q *fifoQueue) len() int { return len(q.entries) }

// deadlineQueue is a min-heap on (deadline, seq).
type deadlineQueue struct {
	h entryHeap
}

func (q *deadlineQueue) push(e queueEntry) { heap.Push(&q.h, e) }

func (q *deadlineQueue) peek() (queueEntry, bool) {
	if len(q.h) == 0 {
		return queueEntry{}, false
	}
	return q.h[0], true
}

func (q *deadlineQueue) pop() (queueEntry, bool) {
	if len(q.h) == 0 {
		return queueEntry{}, false
	}
	return heap.Pop(&q.h).(queueEntry), true
}

func (q *deadlineQueue) contains(path string) bool {
	for _, e := range q.h {
		if e.path == path {
			return true
		}
	}
	return false
}

func (q *deadlineQueue) remove(path string) int {
	kept := q.h[:0]
	for _, e := range q.h {
		if e.path != path {
			kept = append(kept, e)
		}
	}
	removed := len(q.h) - len(kept)
	q.h = kept
	heap.Init(&q.h)
	return removed
}

func (q *deadlineQueue) len() int { return len(q.h) }

type entryHeap []queueEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) { *h = append(*h, x.(queueEntry)) }

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = queueEntry{}
	*h = old[:n-1]
	return e
}
