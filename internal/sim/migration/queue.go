// Package migration moves persistently defecting Mixed-world cells into the
// Good world through a FIFO queue drained with a per-tick cap.
package migration

// Queue is a FIFO of Mixed-world cell indices. The same index may be queued
// more than once; stale entries are skipped when drained.
type Queue struct {
	items []int
	head  int
}

func (q *Queue) Push(i int) { q.items = append(q.items, i) }

func (q *Queue) Len() int { return len(q.items) - q.head }

// Pop removes and returns the oldest entry.
func (q *Queue) Pop() (int, bool) {
	if q.Len() == 0 {
		return 0, false
	}
	v := q.items[q.head]
	q.head++
	q.compact()
	return v, true
}

// pushFront returns an entry to the head of the queue.
func (q *Queue) pushFront(i int) {
	if q.head > 0 {
		q.head--
		q.items[q.head] = i
		return
	}
	q.items = append(q.items, 0)
	copy(q.items[1:], q.items)
	q.items[0] = i
}

// Pending returns a copy of the queued indices, oldest first.
func (q *Queue) Pending() []int {
	return append([]int(nil), q.items[q.head:]...)
}

func (q *Queue) Reset() {
	q.items = q.items[:0]
	q.head = 0
}

// compact reclaims the consumed prefix once it dominates the backing array.
func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	if q.head >= 1024 && q.head*2 >= len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}
