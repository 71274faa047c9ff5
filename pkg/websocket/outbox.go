package websocket

// DefaultQueueCapacity bounds the offline publish queue.
const DefaultQueueCapacity = 1000

// outbox is a bounded FIFO ring buffer of frames published while not connected.
// It is not safe for concurrent use; the client serializes access.
type outbox struct {
	buf    []Frame
	head   int
	tail   int
	size   int
	policy OverflowPolicy
}

// newOutbox creates a bounded ring buffer.
func newOutbox(capacity int, policy OverflowPolicy) *outbox {
	if capacity <= 0 {
		capacity = 1
	}
	return &outbox{
		buf:    make([]Frame, capacity),
		policy: policy,
	}
}

// Push enqueues a frame according to the overflow policy.
// When the queue is full, the evicted frame is returned with dropped set.
func (q *outbox) Push(frame Frame) (evicted Frame, dropped bool) {
	if q.size == len(q.buf) {
		if q.policy == OverflowDropNewest {
			return frame, true
		}
		evicted = q.buf[q.head]
		q.buf[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
		dropped = true
	}
	q.buf[q.tail] = frame
	q.tail = (q.tail + 1) % len(q.buf)
	q.size++
	return evicted, dropped
}

// Drain removes and returns every queued frame in FIFO order.
func (q *outbox) Drain() []Frame {
	if q.size == 0 {
		return nil
	}
	out := make([]Frame, 0, q.size)
	for q.size > 0 {
		out = append(out, q.buf[q.head])
		q.buf[q.head] = Frame{}
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	q.head = 0
	q.tail = 0
	return out
}

// Requeue puts frames back ahead of anything queued since, keeping FIFO order.
// It returns how many frames the overflow policy dropped.
func (q *outbox) Requeue(frames []Frame) int {
	if len(frames) == 0 {
		return 0
	}
	rest := q.Drain()
	dropped := 0
	for _, f := range frames {
		if _, ok := q.Push(f); ok {
			dropped++
		}
	}
	for _, f := range rest {
		if _, ok := q.Push(f); ok {
			dropped++
		}
	}
	return dropped
}

// Len returns the number of queued frames.
func (q *outbox) Len() int {
	return q.size
}

// Cap returns the queue capacity.
func (q *outbox) Cap() int {
	return len(q.buf)
}
