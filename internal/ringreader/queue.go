package ringreader

import (
	"sync"

	"github.com/kubearch/retisgo/internal/event"
)

// unboundedQueue is an unbounded single-producer/single-consumer channel
// (spec §4.4): the kernel-side reader goroutine never blocks on a full
// buffer, since there is nowhere upstream to push back to. notify is a
// capacity-1 semaphore so a context-aware consumer can select on it
// alongside ctx.Done() and a poll deadline, instead of condition-variable
// waits that can't be cancelled that way.
type unboundedQueue struct {
	mu     sync.Mutex
	items  []*event.Event
	closed bool
	notify chan struct{}
}

func newUnboundedQueue() *unboundedQueue {
	return &unboundedQueue{notify: make(chan struct{}, 1)}
}

func (q *unboundedQueue) push(e *event.Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		e.Release()
		return
	}
	q.items = append(q.items, e)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// tryPop returns the oldest queued event without blocking.
func (q *unboundedQueue) tryPop() (*event.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	e := q.items[0]
	q.items = q.items[1:]
	return e, true
}

func (q *unboundedQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *unboundedQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	pending := q.items
	q.items = nil
	q.mu.Unlock()

	for _, e := range pending {
		e.Release()
	}
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
