package websocket

import (
	"sync"
	"time"
)

// EventKind identifies the notifications a Client emits.
type EventKind uint8

const (
	// EventStatus reports a status transition.
	EventStatus EventKind = iota + 1
	// EventError reports a non-fatal failure such as a TransportError.
	EventError
	// EventHeartbeatMissed reports that the server went quiet for too long.
	EventHeartbeatMissed
	// EventReconnectScheduled reports the delay before the next connection attempt.
	EventReconnectScheduled
	// EventQueueOverflow reports a frame evicted from the offline queue.
	EventQueueOverflow
	// EventFlushed reports how many queued frames were sent after an open.
	EventFlushed
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventHeartbeatMissed:
		return "heartbeat_missed"
	case EventReconnectScheduled:
		return "reconnect_scheduled"
	case EventQueueOverflow:
		return "queue_overflow"
	case EventFlushed:
		return "flushed"
	default:
		return "unknown"
	}
}

// Event is a client notification. Only the fields relevant to Kind are set.
type Event struct {
	Kind    EventKind
	Status  Status
	Err     error
	Attempt int
	Delay   time.Duration
	Idle    time.Duration
	Frame   Frame
	Count   int
}

type listener struct {
	id   uint64
	kind EventKind
	fn   func(Event)
}

// emitter delivers events in the order they were pushed.
// A single caller drains at a time, so listeners never run concurrently with each other.
type emitter struct {
	mu        sync.Mutex
	listeners []listener
	nextID    uint64
	queue     []Event
	draining  bool
}

func newEmitter() *emitter {
	return &emitter{}
}

// on registers fn for kind and returns a function removing it.
func (e *emitter) on(kind EventKind, fn func(Event)) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners = append(e.listeners, listener{id: id, kind: kind, fn: fn})
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			for i, l := range e.listeners {
				if l.id == id {
					e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
					break
				}
			}
			e.mu.Unlock()
		})
	}
}

// push queues an event. It may be called while holding the client lock.
func (e *emitter) push(ev Event) {
	e.mu.Lock()
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
}

// flush dispatches queued events. It must be called without the client lock.
func (e *emitter) flush() {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return
	}
	e.draining = true
	for len(e.queue) > 0 {
		ev := e.queue[0]
		e.queue = e.queue[1:]
		fns := make([]func(Event), 0, len(e.listeners))
		for _, l := range e.listeners {
			if l.kind == ev.Kind {
				fns = append(fns, l.fn)
			}
		}
		e.mu.Unlock()
		for _, fn := range fns {
			fn(ev)
		}
		e.mu.Lock()
	}
	e.draining = false
	e.mu.Unlock()
}
