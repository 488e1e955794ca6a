package ringreader

import (
	"testing"
	"time"

	"github.com/kubearch/retisgo/internal/event"
)

func TestUnboundedQueue_PushTryPopOrder(t *testing.T) {
	q := newUnboundedQueue()
	a := event.Acquire()
	b := event.Acquire()
	q.push(a)
	q.push(b)

	got, ok := q.tryPop()
	if !ok || got != a {
		t.Fatalf("tryPop() = %v, %v, want a, true", got, ok)
	}
	got, ok = q.tryPop()
	if !ok || got != b {
		t.Fatalf("tryPop() = %v, %v, want b, true", got, ok)
	}
	if _, ok := q.tryPop(); ok {
		t.Error("expected empty queue after draining both items")
	}
}

func TestUnboundedQueue_NotifyWakesWaiter(t *testing.T) {
	q := newUnboundedQueue()
	done := make(chan *event.Event, 1)
	go func() {
		<-q.notify
		e, _ := q.tryPop()
		done <- e
	}()

	e := event.Acquire()
	q.push(e)

	select {
	case got := <-done:
		if got != e {
			t.Errorf("got %v, want %v", got, e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for notify")
	}
}

func TestUnboundedQueue_CloseReleasesPending(t *testing.T) {
	q := newUnboundedQueue()
	q.push(event.Acquire())
	q.close()

	if !q.isClosed() {
		t.Error("expected isClosed() to be true")
	}
	if _, ok := q.tryPop(); ok {
		t.Error("expected pending items to be dropped on close")
	}

	// Pushing after close must not panic and must release the event.
	q.push(event.Acquire())
}
