package registration

import (
	"errors"
	"testing"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
)

type harness struct {
	clock     *eventq.ManualClock
	queue     *eventq.Queue
	ctrl      *Controller
	starts    []bool
	teardowns []State
	changes   [][2]State
	outcomes  []Outcome
	startErr  error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{clock: eventq.NewManualClock(time.Unix(1_700_000_000, 0))}
	h.queue = eventq.New(eventq.Config{Clock: h.clock})

	ctrl, err := New(Config{
		Queue:   h.queue,
		Timeout: 30 * time.Second,
		OnStart: func(keyRefresh bool) error {
			h.starts = append(h.starts, keyRefresh)
			return h.startErr
		},
		OnTeardown: func(reason State) {
			h.teardowns = append(h.teardowns, reason)
		},
		OnStateChange: func(old, new State) {
			h.changes = append(h.changes, [2]State{old, new})
		},
		OnFinish: func(o Outcome) {
			h.outcomes = append(h.outcomes, o)
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ctrl = ctrl
	return h
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.queue.RunDue()
}

func TestNewRequiresQueue(t *testing.T) {
	_, err := New(Config{})
	if !errors.Is(err, ErrNoQueue) {
		t.Errorf("New() error = %v, want ErrNoQueue", err)
	}
	if errcode.KindOf(err) != errcode.KindProgrammer {
		t.Errorf("KindOf() = %v, want PROGRAMMER", errcode.KindOf(err))
	}
}

func TestInitialState(t *testing.T) {
	h := newHarness(t)

	if h.ctrl.State() != StateNotStarted {
		t.Errorf("State() = %v, want NOT_STARTED", h.ctrl.State())
	}
	if h.ctrl.SubState() != StateNotStarted {
		t.Errorf("SubState() = %v, want NOT_STARTED", h.ctrl.SubState())
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0", h.queue.Len())
	}
}

func TestStartCompletes(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if h.ctrl.State() != StateStarted {
		t.Errorf("State() = %v, want STARTED", h.ctrl.State())
	}
	if len(h.starts) != 1 || h.starts[0] {
		t.Errorf("OnStart calls = %v, want [false]", h.starts)
	}
	if h.queue.Len() != 1 {
		t.Errorf("queue.Len() = %d, want timeout armed", h.queue.Len())
	}

	if err := h.ctrl.Report(EventStarted); err != nil {
		t.Fatalf("Report(STARTED) error = %v", err)
	}
	if h.ctrl.SubState() != StateStarted {
		t.Errorf("SubState() = %v, want STARTED", h.ctrl.SubState())
	}

	if err := h.ctrl.Report(EventCompleted); err != nil {
		t.Fatalf("Report(COMPLETED) error = %v", err)
	}
	if h.ctrl.State() != StateCompleted {
		t.Errorf("State() = %v, want COMPLETED", h.ctrl.State())
	}
	if h.ctrl.SubState() != StateCompleted {
		t.Errorf("SubState() = %v, want COMPLETED", h.ctrl.SubState())
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want timeout disarmed", h.queue.Len())
	}

	// The disarmed timeout never fires.
	h.advance(time.Minute)
	if h.ctrl.State() != StateCompleted {
		t.Errorf("State() after timeout = %v, want COMPLETED", h.ctrl.State())
	}

	out := h.ctrl.Outcome()
	if out.State != StateCompleted || out.Err != nil || out.Attempts != 1 {
		t.Errorf("Outcome() = %+v", out)
	}
}

func TestSecondStartRejected(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	err := h.ctrl.Start(true)
	if !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start() error = %v, want ErrInvalidState", err)
	}
	if errcode.KindOf(err) != errcode.KindProtocol {
		t.Errorf("KindOf() = %v, want PROTOCOL", errcode.KindOf(err))
	}
	if h.ctrl.State() != StateStarted {
		t.Errorf("State() = %v, want STARTED", h.ctrl.State())
	}
	if len(h.starts) != 1 {
		t.Errorf("OnStart calls = %d, want 1", len(h.starts))
	}
}

func TestTimeout(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.advance(29 * time.Second)
	if h.ctrl.State() != StateStarted {
		t.Errorf("State() before timeout = %v, want STARTED", h.ctrl.State())
	}

	h.advance(time.Second)
	if h.ctrl.State() != StateTimedOut {
		t.Errorf("State() = %v, want TIMED_OUT", h.ctrl.State())
	}
	if h.ctrl.SubState() != StateTimedOut {
		t.Errorf("SubState() = %v, want TIMED_OUT", h.ctrl.SubState())
	}
	if len(h.teardowns) != 1 || h.teardowns[0] != StateTimedOut {
		t.Errorf("teardowns = %v, want [TIMED_OUT]", h.teardowns)
	}
	if !errors.Is(h.ctrl.Outcome().Err, ErrTimedOut) {
		t.Errorf("Outcome().Err = %v, want ErrTimedOut", h.ctrl.Outcome().Err)
	}

	// A late completion is rejected.
	if err := h.ctrl.Report(EventCompleted); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Report(COMPLETED) error = %v, want ErrInvalidState", err)
	}

	// The controller can be restarted.
	if err := h.ctrl.Start(true); err != nil {
		t.Fatalf("Start() after timeout error = %v", err)
	}
	if got := h.ctrl.Outcome(); got.Attempts != 2 || !got.KeyRefresh {
		t.Errorf("Outcome() = %+v, want attempt 2 with key refresh", got)
	}
}

func TestCancel(t *testing.T) {
	h := newHarness(t)

	if err := h.ctrl.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Cancel() before start error = %v, want ErrInvalidState", err)
	}

	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.ctrl.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if h.ctrl.State() != StateCancelled {
		t.Errorf("State() = %v, want CANCELLED", h.ctrl.State())
	}
	if len(h.teardowns) != 1 || h.teardowns[0] != StateCancelled {
		t.Errorf("teardowns = %v, want [CANCELLED]", h.teardowns)
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0", h.queue.Len())
	}
}

func TestFailRecordsCause(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	cause := errors.New("signature mismatch")
	if err := h.ctrl.Fail(cause); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if h.ctrl.State() != StateErrored {
		t.Errorf("State() = %v, want ERRORED", h.ctrl.State())
	}
	err := h.ctrl.Outcome().Err
	if !errors.Is(err, ErrFailed) || !errors.Is(err, cause) {
		t.Errorf("Outcome().Err = %v, want ErrFailed wrapping cause", err)
	}
	if len(h.teardowns) != 0 {
		t.Errorf("teardowns = %v, want none", h.teardowns)
	}
}

func TestStartHookError(t *testing.T) {
	h := newHarness(t)
	h.startErr = errors.New("link down")

	if err := h.ctrl.Start(false); !errors.Is(err, h.startErr) {
		t.Errorf("Start() error = %v, want hook error", err)
	}
	if h.ctrl.State() != StateErrored {
		t.Errorf("State() = %v, want ERRORED", h.ctrl.State())
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0", h.queue.Len())
	}
}

func TestNotStartedToCompletedRejected(t *testing.T) {
	h := newHarness(t)

	for _, ev := range []Event{EventStarted, EventCompleted, EventError} {
		if err := h.ctrl.Report(ev); !errors.Is(err, ErrInvalidState) {
			t.Errorf("Report(%v) error = %v, want ErrInvalidState", ev, err)
		}
	}
	if h.ctrl.State() != StateNotStarted {
		t.Errorf("State() = %v, want NOT_STARTED", h.ctrl.State())
	}
	if len(h.changes) != 0 {
		t.Errorf("state changes = %v, want none", h.changes)
	}
}

func TestDuplicateSessionStarted(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.ctrl.Report(EventStarted); err != nil {
		t.Fatalf("Report(STARTED) error = %v", err)
	}
	if err := h.ctrl.Report(EventStarted); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second Report(STARTED) error = %v, want ErrInvalidState", err)
	}
}

func TestResetFromStarted(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	h.ctrl.Reset()
	if h.ctrl.State() != StateNotStarted {
		t.Errorf("State() = %v, want NOT_STARTED", h.ctrl.State())
	}
	if h.queue.Len() != 0 {
		t.Errorf("queue.Len() = %d, want 0", h.queue.Len())
	}
	if len(h.teardowns) != 1 {
		t.Errorf("teardowns = %v, want one", h.teardowns)
	}
	if (h.ctrl.Outcome() != Outcome{}) {
		t.Errorf("Outcome() = %+v, want zero", h.ctrl.Outcome())
	}
}

func TestCompletedCannotRestart(t *testing.T) {
	h := newHarness(t)
	_ = h.ctrl.Start(false)
	_ = h.ctrl.Report(EventCompleted)

	if err := h.ctrl.Start(false); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Start() from COMPLETED error = %v, want ErrInvalidState", err)
	}

	h.ctrl.Reset()
	if err := h.ctrl.Start(false); err != nil {
		t.Errorf("Start() after Reset error = %v", err)
	}
}

func TestStateChangeObserver(t *testing.T) {
	h := newHarness(t)
	_ = h.ctrl.Start(false)
	_ = h.ctrl.Cancel()
	_ = h.ctrl.Start(false)
	h.advance(time.Minute)

	want := [][2]State{
		{StateNotStarted, StateStarted},
		{StateStarted, StateCancelled},
		{StateCancelled, StateStarted},
		{StateStarted, StateTimedOut},
	}
	if len(h.changes) != len(want) {
		t.Fatalf("changes = %v, want %v", h.changes, want)
	}
	for i := range want {
		if h.changes[i] != want[i] {
			t.Errorf("changes[%d] = %v, want %v", i, h.changes[i], want[i])
		}
	}
}

func TestOnFinishOutcome(t *testing.T) {
	h := newHarness(t)
	if err := h.ctrl.Start(false); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if len(h.outcomes) != 0 {
		t.Fatalf("outcomes = %v before finish", h.outcomes)
	}
	h.advance(30 * time.Second)

	if len(h.outcomes) != 1 {
		t.Fatalf("outcomes = %d, want 1", len(h.outcomes))
	}
	o := h.outcomes[0]
	if o.State != StateTimedOut || !errors.Is(o.Err, ErrTimedOut) || o.Attempts != 1 {
		t.Errorf("outcome = %+v", o)
	}
	if o.FinishedAt.Sub(o.StartedAt) != 30*time.Second {
		t.Errorf("duration = %v, want 30s", o.FinishedAt.Sub(o.StartedAt))
	}
}

func TestNext(t *testing.T) {
	states := []State{StateNotStarted, StateStarted, StateCompleted, StateCancelled, StateTimedOut, StateErrored}

	allowed := map[[2]State]bool{
		{StateNotStarted, StateStarted}: true,
		{StateStarted, StateCompleted}:  true,
		{StateStarted, StateErrored}:    true,
		{StateStarted, StateCancelled}:  true,
		{StateStarted, StateTimedOut}:   true,
		{StateErrored, StateStarted}:    true,
		{StateCancelled, StateStarted}:  true,
		{StateTimedOut, StateStarted}:   true,
	}

	for _, s := range states {
		for tr := Trigger(0); tr < numTriggers; tr++ {
			next, ok := Next(s, tr)
			if tr == TriggerReset {
				if !ok || next != StateNotStarted {
					t.Errorf("Next(%v, RESET) = %v, %v", s, next, ok)
				}
				continue
			}
			if ok != allowed[[2]State{s, next}] {
				t.Errorf("Next(%v, %v) = %v, %v", s, tr, next, ok)
			}
			if !ok && next != s {
				t.Errorf("Next(%v, %v) rejected but moved to %v", s, tr, next)
			}
		}
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateNotStarted, "NOT_STARTED"},
		{StateStarted, "STARTED"},
		{StateCompleted, "COMPLETED"},
		{StateCancelled, "CANCELLED"},
		{StateTimedOut, "TIMED_OUT"},
		{StateErrored, "ERRORED"},
		{State(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
