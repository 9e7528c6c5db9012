// Implements the RequestQueue used for both the running queue (admission
// order) and the waiting queue (front = next to admit).

package serve

import (
	"fmt"
	"strings"
)

// RequestQueue is an ordered list of requests. For the running queue the
// order is admission order; for the waiting queue the front is the next
// request to (re)admit.
type RequestQueue struct {
	queue []*Request
}

// Enqueue adds a request to the back of the queue.
func (q *RequestQueue) Enqueue(r *Request) {
	q.queue = append(q.queue, r)
}

// PrependFront inserts a request at the front of the queue.
// Used for preemption: an evicted request goes back to the head of the
// waiting queue for priority re-admission.
func (q *RequestQueue) PrependFront(r *Request) {
	if r == nil {
		panic("PrependFront: request must not be nil")
	}
	q.queue = append([]*Request{r}, q.queue...)
}

// Len returns the number of requests in the queue.
func (q *RequestQueue) Len() int {
	return len(q.queue)
}

// Front returns the request at the front of the queue, or nil when empty.
func (q *RequestQueue) Front() *Request {
	if len(q.queue) == 0 {
		return nil
	}
	return q.queue[0]
}

// Back returns the most recently enqueued request, or nil when empty.
func (q *RequestQueue) Back() *Request {
	if len(q.queue) == 0 {
		return nil
	}
	return q.queue[len(q.queue)-1]
}

// Dequeue removes and returns the request at the front of the queue.
func (q *RequestQueue) Dequeue() *Request {
	if len(q.queue) == 0 {
		return nil
	}
	front := q.queue[0]
	q.queue = q.queue[1:]
	return front
}

// Remove deletes the given request from the queue, preserving order.
// Panics if the request is not present: callers remove only requests they
// know to be queued, so absence is a contract breach.
func (q *RequestQueue) Remove(r *Request) {
	for i, queued := range q.queue {
		if queued == r {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return
		}
	}
	panic(fmt.Sprintf("Remove: request %s not in queue", r.ID))
}

// Items returns the queue contents for iteration.
// The returned slice is the queue's internal storage -- callers may iterate
// over it but must not append to or reslice it.
func (q *RequestQueue) Items() []*Request {
	return q.queue
}

func (q *RequestQueue) String() string {
	var sb strings.Builder
	sb.WriteString("[")
	for i, r := range q.queue {
		sb.WriteString(r.ID)
		if i < len(q.queue)-1 {
			sb.WriteString(" ")
		}
	}
	sb.WriteString("]")
	return sb.String()
}
