package registration

import (
	"errors"
	"testing"
	"time"
)

// legal lists every observable registration transition other than Reset.
var legal = map[[2]State]bool{
	{StateNotStarted, StateStarted}: true,
	{StateStarted, StateCompleted}:  true,
	{StateStarted, StateErrored}:    true,
	{StateStarted, StateCancelled}:  true,
	{StateStarted, StateTimedOut}:   true,
	{StateErrored, StateStarted}:    true,
	{StateCancelled, StateStarted}:  true,
	{StateTimedOut, StateStarted}:   true,
}

func FuzzTransitions(f *testing.F) {
	f.Add([]byte{0, 2, 3})
	f.Add([]byte{0, 0, 5, 0, 6, 7, 3})
	f.Add([]byte{3, 4, 5, 6, 0, 6, 6, 6, 1})
	f.Add([]byte{0, 2, 4, 0, 5, 0, 7, 7})

	f.Fuzz(func(t *testing.T, ops []byte) {
		h := newHarness(t)
		ctrl := h.ctrl

		for i, op := range ops {
			before := ctrl.State()
			reset := false
			var err error

			switch op % 8 {
			case 0:
				err = ctrl.Start(false)
			case 1:
				err = ctrl.Start(true)
			case 2:
				err = ctrl.Report(EventStarted)
			case 3:
				err = ctrl.Report(EventCompleted)
			case 4:
				err = ctrl.Report(EventError)
			case 5:
				err = ctrl.Cancel()
			case 6:
				h.advance(31 * time.Second)
			case 7:
				ctrl.Reset()
				reset = true
			}
			after := ctrl.State()

			if reset {
				if after != StateNotStarted {
					t.Fatalf("op %d: Reset left state %v", i, after)
				}
				continue
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidState) {
					t.Fatalf("op %d: unexpected error %v", i, err)
				}
				if after != before {
					t.Fatalf("op %d: rejected request moved %v -> %v", i, before, after)
				}
				continue
			}
			if after != before && !legal[[2]State{before, after}] {
				t.Fatalf("op %d: illegal transition %v -> %v", i, before, after)
			}
			if after == StateStarted && h.queue.Len() != 1 {
				t.Fatalf("op %d: STARTED without armed timeout", i)
			}
			if after != StateStarted && h.queue.Len() != 0 {
				t.Fatalf("op %d: %v with armed timeout", i, after)
			}
		}

		for _, c := range h.changes {
			if c[1] == StateNotStarted {
				continue
			}
			if !legal[c] {
				t.Fatalf("observed illegal transition %v -> %v", c[0], c[1])
			}
		}
	})
}
