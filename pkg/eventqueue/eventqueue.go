// Package eventqueue implements the §4.3 priority time-queue and the
// worker pool that drains it: a min-heap on (DueMs, Seq) feeding a
// dedicated event-handling goroutine, grounded on the original's
// TEventQueue (event.cpp) translated from a condvar-guarded heap into
// container/heap plus sync.Cond per the spec's design note preferring
// condition variables over channels for due-time waits.
package eventqueue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cuemby/portod/pkg/types"
)

// Handler processes one fired event. RotateLogs and NetworkWatchdog
// handlers are expected to call Queue.Schedule again before returning,
// reproducing the original's self-rescheduling events.
type Handler func(types.Event)

type itemHeap []types.Event

func (h itemHeap) Len() int { return len(h) }
func (h itemHeap) Less(i, j int) bool {
	if h[i].DueMs != h[j].DueMs {
		return h[i].DueMs < h[j].DueMs
	}
	return h[i].Seq < h[j].Seq
}
func (h itemHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *itemHeap) Push(x any)   { *h = append(*h, x.(types.Event)) }
func (h *itemHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Queue is the priority time-queue plus dispatch goroutine.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	items   itemHeap
	nextSeq uint64
	closed  bool

	handlers map[types.EventType]Handler
}

// New builds an empty queue. Register handlers with On before Run.
func New() *Queue {
	q := &Queue{handlers: make(map[types.EventType]Handler)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// On registers the handler invoked for events of the given type.
func (q *Queue) On(t types.EventType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Schedule enqueues ev to fire at ev.DueMs (a time.Now().UnixMilli()
// timestamp; values at or before now fire immediately, matching the
// spec's "scheduling an event past now is legal").
func (q *Queue) Schedule(ev types.Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	ev.Seq = q.nextSeq
	q.nextSeq++
	heap.Push(&q.items, ev)
	q.cond.Broadcast()
}

// ScheduleIn is a convenience wrapper for Schedule at now+d.
func (q *Queue) ScheduleIn(ev types.Event, d time.Duration) {
	ev.DueMs = time.Now().Add(d).UnixMilli()
	q.Schedule(ev)
}

// Len reports how many events are currently pending, used by the
// metrics collector for portod_event_queue_depth.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close stops Run's loop and wakes any blocked waiter.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Run drains the queue on the calling goroutine until Close is called,
// blocking on the heap's condition variable for max(0, top.due-now)
// between pops, exactly as §4.3 specifies.
func (q *Queue) Run() {
	for {
		ev, handler, ok := q.waitNext()
		if !ok {
			return
		}
		handler(ev)
	}
}

func (q *Queue) waitNext() (types.Event, Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if q.closed {
			return types.Event{}, nil, false
		}
		if len(q.items) == 0 {
			q.cond.Wait()
			continue
		}
		top := q.items[0]
		now := time.Now().UnixMilli()
		if top.DueMs > now {
			q.waitTimeout(time.Duration(top.DueMs-now) * time.Millisecond)
			continue
		}
		ev := heap.Pop(&q.items).(types.Event)
		h := q.handlers[ev.Type]
		if h == nil {
			continue
		}
		return ev, h, true
	}
}

// waitTimeout blocks on cond for at most d, releasing q.mu while
// waiting and reacquiring it before returning (sync.Cond has no native
// timed wait, so a timer broadcasts on cond after d; a helper goroutine
// stops that timer once the wait has returned).
func (q *Queue) waitTimeout(d time.Duration) {
	done := make(chan struct{})
	timer := time.AfterFunc(d, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	go func() {
		<-done
		timer.Stop()
	}()
	q.cond.Wait()
	close(done)
}
