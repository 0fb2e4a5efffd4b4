package eventq

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// Event is a deferred event. An event is either pending in exactly one
// queue or idle; scheduling a pending event moves its expiry.
type Event struct {
	name  string
	fn    func()
	when  time.Time
	seq   uint64
	index int
}

// NewEvent creates an idle event that calls fn when it fires.
func NewEvent(name string, fn func()) *Event {
	return &Event{name: name, fn: fn, index: -1}
}

// Name returns the event name.
func (e *Event) Name() string { return e.name }

// Pending reports whether the event is scheduled.
func (e *Event) Pending() bool { return e.index >= 0 }

// Expiry returns the time the event is due. Zero when idle.
func (e *Event) Expiry() time.Time {
	if !e.Pending() {
		return time.Time{}
	}
	return e.when
}

// Config configures a Queue.
type Config struct {
	// Clock defaults to SystemClock.
	Clock Clock

	// Logger is optional.
	Logger *slog.Logger
}

// Queue is a deferred-event queue with an inbound work list.
//
// Schedule, Cancel and RunDue must only be called from the processing loop
// (or from work it runs). Post is safe from any goroutine.
type Queue struct {
	clock  Clock
	logger *slog.Logger

	events eventHeap
	seq    uint64

	mu     sync.Mutex
	posted []func()
	wake   chan struct{}
}

// New creates a queue.
func New(cfg Config) *Queue {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	return &Queue{
		clock:  cfg.Clock,
		logger: cfg.Logger,
		wake:   make(chan struct{}, 1),
	}
}

// Now returns the queue's time reference.
func (q *Queue) Now() time.Time {
	return q.clock.Now()
}

// Schedule arms ev to fire after delay. A pending event is rescheduled.
// Negative delays fire on the next pass.
func (q *Queue) Schedule(ev *Event, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	q.seq++
	ev.when = q.clock.Now().Add(delay)
	ev.seq = q.seq
	if ev.Pending() {
		heap.Fix(&q.events, ev.index)
	} else {
		heap.Push(&q.events, ev)
	}
	q.logger.Debug("event scheduled", "event", ev.name, "delay", delay)
}

// Cancel disarms ev. It reports whether the event was pending.
func (q *Queue) Cancel(ev *Event) bool {
	if ev == nil || !ev.Pending() {
		return false
	}
	heap.Remove(&q.events, ev.index)
	q.logger.Debug("event cancelled", "event", ev.name)
	return true
}

// Len returns the number of pending events.
func (q *Queue) Len() int {
	return q.events.Len()
}

// Post queues fn to run on the processing loop.
func (q *Queue) Post(fn func()) {
	q.mu.Lock()
	q.posted = append(q.posted, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// RunDue runs all posted work and every event due at the current time,
// including events made due by the handlers themselves. It returns the
// number of callbacks run.
func (q *Queue) RunDue() int {
	n := q.drainPosted()
	for {
		ev := q.nextDue()
		if ev == nil {
			if q.hasPosted() {
				n += q.drainPosted()
				continue
			}
			return n
		}
		ev.fn()
		n++
		n += q.drainPosted()
	}
}

// Run processes work until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		q.RunDue()

		wait := time.Hour
		if q.events.Len() > 0 {
			wait = q.events[0].when.Sub(q.clock.Now())
			if wait < 0 {
				wait = 0
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		case <-timer.C:
		}
	}
}

func (q *Queue) nextDue() *Event {
	if q.events.Len() == 0 {
		return nil
	}
	ev := q.events[0]
	if ev.when.After(q.clock.Now()) {
		return nil
	}
	heap.Pop(&q.events)
	return ev
}

func (q *Queue) hasPosted() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.posted) > 0
}

func (q *Queue) drainPosted() int {
	q.mu.Lock()
	work := q.posted
	q.posted = nil
	q.mu.Unlock()

	for _, fn := range work {
		fn()
	}
	return len(work)
}

// eventHeap orders events by expiry, then by scheduling order.
type eventHeap []*Event

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h eventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *eventHeap) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*h)
	*h = append(*h, ev)
}

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	ev.index = -1
	*h = old[:n-1]
	return ev
}
