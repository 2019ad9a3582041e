package agent

import (
	"context"
	"sync"
)

// eventQueue decouples the engine from its consumer: push never blocks,
// so a slow reader does not stall the backend stream. Once ctx is done,
// buffered and later events are dropped. out is closed only after close
// is called, so a closed channel means the run has fully finished.
type eventQueue struct {
	mu       sync.Mutex
	buf      []Event
	closed   bool
	dropping bool
	notify   chan struct{}
	out      chan Event
}

func newEventQueue(ctx context.Context) *eventQueue {
	q := &eventQueue{
		notify: make(chan struct{}, 1),
		out:    make(chan Event),
	}
	go q.pump(ctx.Done())
	return q
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	if q.closed || q.dropping {
		q.mu.Unlock()
		return
	}
	q.buf = append(q.buf, ev)
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *eventQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// next pops the head of the buffer.
func (q *eventQueue) next() (ev Event, ok bool, closed bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) == 0 {
		return Event{}, false, q.closed
	}
	ev = q.buf[0]
	q.buf[0] = Event{}
	q.buf = q.buf[1:]
	return ev, true, q.closed
}

func (q *eventQueue) drop() {
	q.mu.Lock()
	q.dropping = true
	q.buf = nil
	q.mu.Unlock()
}

func (q *eventQueue) pump(done <-chan struct{}) {
	defer close(q.out)
	for {
		ev, ok, closed := q.next()
		if !ok {
			if closed {
				return
			}
			select {
			case <-q.notify:
			case <-done:
				q.drop()
				done = nil
			}
			continue
		}

		select {
		case q.out <- ev:
		case <-done:
			q.drop()
			done = nil
		}
	}
}
