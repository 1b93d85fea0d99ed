package breaker

import (
	"container/heap"
	"fmt"
)

// Priority orders bulkhead admission. Higher values are admitted first.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityMedium Priority = 5
	PriorityHigh   Priority = 10
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

// ParsePriority converts a priority name back to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityMedium, fmt.Errorf("unknown priority: %q", s)
	}
}

// ticket is the completion handle a queued caller waits on. The admitting
// side closes ready after taking a concurrency slot on the caller's behalf;
// a caller that gives up must release that slot if admission already won.
type ticket struct {
	priority Priority
	seq      uint64
	ready    chan struct{}
	index    int
}

// admissionQueue is a max-heap over (priority, FIFO seq). It implements
// heap.Interface; all access happens under the owning breaker's mutex.
type admissionQueue []*ticket

func (q admissionQueue) Len() int { return len(q) }

func (q admissionQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q admissionQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *admissionQueue) Push(x interface{}) {
	t := x.(*ticket)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *admissionQueue) Pop() interface{} {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// remove takes a waiting ticket out of the queue. Returns false if the
// ticket was already popped by admission.
func (q *admissionQueue) remove(t *ticket) bool {
	if t.index < 0 {
		return false
	}
	heap.Remove(q, t.index)
	return true
}
