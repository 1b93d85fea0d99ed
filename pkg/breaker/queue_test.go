package breaker

import (
	"container/heap"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushTicket(q *admissionQueue, p Priority, seq uint64) *ticket {
	t := &ticket{priority: p, seq: seq, ready: make(chan struct{})}
	heap.Push(q, t)
	return t
}

func TestAdmissionQueue_PriorityThenFIFO(t *testing.T) {
	var q admissionQueue
	pushTicket(&q, PriorityMedium, 0)
	pushTicket(&q, PriorityLow, 1)
	pushTicket(&q, PriorityHigh, 2)
	pushTicket(&q, PriorityHigh, 3)
	pushTicket(&q, PriorityMedium, 4)

	var got []uint64
	for q.Len() > 0 {
		got = append(got, heap.Pop(&q).(*ticket).seq)
	}

	// High before medium before low; FIFO within each priority.
	assert.Equal(t, []uint64{2, 3, 0, 4, 1}, got)
}

func TestAdmissionQueue_Remove(t *testing.T) {
	var q admissionQueue
	a := pushTicket(&q, PriorityMedium, 0)
	b := pushTicket(&q, PriorityMedium, 1)
	c := pushTicket(&q, PriorityMedium, 2)

	require.True(t, q.remove(b))
	assert.Equal(t, 2, q.Len())
	assert.False(t, q.remove(b))

	first := heap.Pop(&q).(*ticket)
	assert.Same(t, a, first)

	// A popped ticket cannot be removed; admission already owns it.
	assert.False(t, q.remove(first))

	assert.Same(t, c, heap.Pop(&q).(*ticket))
	assert.Equal(t, 0, q.Len())
}

func TestPriority_RoundTrip(t *testing.T) {
	for _, p := range []Priority{PriorityLow, PriorityMedium, PriorityHigh} {
		parsed, err := ParsePriority(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, parsed)
	}

	_, err := ParsePriority("urgent")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Priority(0).String())
}
