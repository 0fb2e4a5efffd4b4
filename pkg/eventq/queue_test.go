package eventq

import (
	"context"
	"sync"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newManualQueue() (*Queue, *ManualClock) {
	clock := NewManualClock(epoch)
	return New(Config{Clock: clock}), clock
}

func TestScheduleFiresAtExpiry(t *testing.T) {
	q, clock := newManualQueue()

	fired := 0
	ev := NewEvent("keepalive", func() { fired++ })
	q.Schedule(ev, 10*time.Second)

	if !ev.Pending() {
		t.Fatal("Pending() = false, want true")
	}

	clock.Advance(10*time.Second - time.Millisecond)
	q.RunDue()
	if fired != 0 {
		t.Fatalf("fired = %d before expiry, want 0", fired)
	}

	clock.Advance(time.Millisecond)
	q.RunDue()
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if ev.Pending() {
		t.Error("Pending() = true after firing, want false")
	}
}

func TestRescheduleMovesExpiry(t *testing.T) {
	q, clock := newManualQueue()

	fired := 0
	ev := NewEvent("retry", func() { fired++ })
	q.Schedule(ev, time.Second)
	q.Schedule(ev, 5*time.Second)

	if q.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", q.Len())
	}

	clock.Advance(2 * time.Second)
	q.RunDue()
	if fired != 0 {
		t.Fatalf("fired = %d, want 0", fired)
	}

	clock.Advance(3 * time.Second)
	q.RunDue()
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
}

func TestCancel(t *testing.T) {
	q, clock := newManualQueue()

	fired := false
	ev := NewEvent("timeout", func() { fired = true })
	q.Schedule(ev, time.Second)

	if !q.Cancel(ev) {
		t.Error("Cancel() = false, want true")
	}
	if q.Cancel(ev) {
		t.Error("second Cancel() = true, want false")
	}

	clock.Advance(time.Minute)
	q.RunDue()
	if fired {
		t.Error("cancelled event fired")
	}
}

func TestOrdering(t *testing.T) {
	q, clock := newManualQueue()

	var order []string
	record := func(name string) func() {
		return func() { order = append(order, name) }
	}

	q.Schedule(NewEvent("c", record("c")), 3*time.Second)
	q.Schedule(NewEvent("a", record("a")), time.Second)
	q.Schedule(NewEvent("b1", record("b1")), 2*time.Second)
	q.Schedule(NewEvent("b2", record("b2")), 2*time.Second)

	clock.Advance(5 * time.Second)
	q.RunDue()

	want := []string{"a", "b1", "b2", "c"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %s, want %s", i, order[i], want[i])
		}
	}
}

func TestHandlerSchedulesZeroDelay(t *testing.T) {
	q, _ := newManualQueue()

	var order []string
	second := NewEvent("second", func() { order = append(order, "second") })
	first := NewEvent("first", func() {
		order = append(order, "first")
		q.Schedule(second, 0)
	})
	q.Schedule(first, 0)

	if n := q.RunDue(); n != 2 {
		t.Errorf("RunDue() = %d, want 2", n)
	}
	if len(order) != 2 || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

func TestPostRunsBeforeDueEvents(t *testing.T) {
	q, _ := newManualQueue()

	var order []string
	q.Schedule(NewEvent("timer", func() { order = append(order, "timer") }), 0)
	q.Post(func() { order = append(order, "posted") })

	q.RunDue()
	if len(order) != 2 || order[0] != "posted" {
		t.Errorf("order = %v, want [posted timer]", order)
	}
}

func TestRunProcessesPostedWork(t *testing.T) {
	q := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- q.Run(ctx) }()

	var wg sync.WaitGroup
	wg.Add(3)
	count := 0
	for i := 0; i < 3; i++ {
		go q.Post(func() {
			count++
			wg.Done()
		})
	}
	wg.Wait()

	fired := make(chan struct{})
	q.Post(func() {
		q.Schedule(NewEvent("soon", func() { close(fired) }), 10*time.Millisecond)
	})

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("deferred event did not fire")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}
