package registration

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/errcode"
	"github.com/lrmgmt/lrmgmt-go/pkg/eventq"
)

// DefaultTimeout bounds a registration attempt.
const DefaultTimeout = 60 * time.Second

// Controller errors.
var (
	ErrInvalidState = errors.New("invalid registration state")
	ErrTimedOut     = errors.New("registration timed out")
	ErrCancelled    = errors.New("registration cancelled")
	ErrFailed       = errors.New("registration failed")
	ErrNoQueue      = errors.New("registration requires an event queue")
)

// Config configures a Controller.
type Config struct {
	// Queue runs the timeout. Required.
	Queue *eventq.Queue

	// Timeout bounds each attempt. Defaults to DefaultTimeout.
	Timeout time.Duration

	// OnStart kicks off the secure session handshake. An error moves the
	// attempt to Errored.
	OnStart func(isKeyRefresh bool) error

	// OnTeardown is called when an attempt is cancelled or times out.
	// The session should be zeroized.
	OnTeardown func(reason State)

	// OnStateChange observes every registration state change.
	OnStateChange func(old, new State)

	// OnFinish receives the outcome of every attempt that reached a
	// terminal state.
	OnFinish func(Outcome)

	Logger *slog.Logger
}

// Outcome describes the latest attempt.
type Outcome struct {
	State      State
	KeyRefresh bool
	Attempts   int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Controller is the registration state machine.
type Controller struct {
	cfg     Config
	logger  *slog.Logger
	timeout *eventq.Event

	state   State
	sub     State
	outcome Outcome
}

// New creates a controller in NotStarted.
func New(cfg Config) (*Controller, error) {
	if cfg.Queue == nil {
		return nil, errcode.Programmer("registration.New", ErrNoQueue)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	c := &Controller{
		cfg:    cfg,
		logger: logger.With("component", "registration"),
	}
	c.timeout = eventq.NewEvent("registration-timeout", c.onTimeout)
	return c, nil
}

// State returns the registration state.
func (c *Controller) State() State {
	return c.state
}

// SubState returns the secure session sub-state.
func (c *Controller) SubState() State {
	return c.sub
}

// Outcome returns the latest attempt's outcome.
func (c *Controller) Outcome() Outcome {
	return c.outcome
}

// Start begins an attempt. It is accepted from NotStarted and from any
// failed terminal state.
func (c *Controller) Start(isKeyRefresh bool) error {
	if err := c.transition(TriggerStart); err != nil {
		return errcode.Protocol("registration.Start", err)
	}

	c.sub = StateNotStarted
	c.outcome = Outcome{
		State:      StateStarted,
		KeyRefresh: isKeyRefresh,
		Attempts:   c.outcome.Attempts + 1,
		StartedAt:  c.cfg.Queue.Now(),
	}
	c.cfg.Queue.Schedule(c.timeout, c.cfg.Timeout)
	c.logger.Info("registration started", "keyRefresh", isKeyRefresh, "attempt", c.outcome.Attempts)

	if c.cfg.OnStart == nil {
		return nil
	}
	if err := c.cfg.OnStart(isKeyRefresh); err != nil {
		c.finish(TriggerError, StateErrored, fmt.Errorf("%w: %w", ErrFailed, err))
		return err
	}
	return nil
}

// Report records a secure session event for the in-flight attempt.
func (c *Controller) Report(ev Event) error {
	return c.report(ev, nil)
}

// Fail reports EventError with its cause.
func (c *Controller) Fail(cause error) error {
	return c.report(EventError, cause)
}

func (c *Controller) report(ev Event, cause error) error {
	if c.state != StateStarted {
		return errcode.Protocol("registration.Report",
			fmt.Errorf("%w: %s in %s", ErrInvalidState, ev, c.state))
	}

	switch ev {
	case EventStarted:
		if c.sub != StateNotStarted {
			return errcode.Protocol("registration.Report",
				fmt.Errorf("%w: session already %s", ErrInvalidState, c.sub))
		}
		c.sub = StateStarted
		c.logger.Debug("session started")
		return nil
	case EventCompleted:
		c.finish(TriggerCompleted, StateCompleted, nil)
		return nil
	case EventError:
		err := ErrFailed
		if cause != nil {
			err = fmt.Errorf("%w: %w", ErrFailed, cause)
		}
		c.finish(TriggerError, StateErrored, err)
		return nil
	default:
		return errcode.Programmer("registration.Report", fmt.Errorf("unknown event %d", ev))
	}
}

// Cancel aborts the in-flight attempt. The session is torn down.
func (c *Controller) Cancel() error {
	if c.state != StateStarted {
		return errcode.Protocol("registration.Cancel",
			fmt.Errorf("%w: %s", ErrInvalidState, c.state))
	}
	c.finish(TriggerCancel, StateCancelled, ErrCancelled)
	c.teardown(StateCancelled)
	return nil
}

// Reset returns the controller to NotStarted from any state.
func (c *Controller) Reset() {
	c.cfg.Queue.Cancel(c.timeout)
	if c.state == StateStarted {
		c.teardown(StateCancelled)
	}
	old := c.state
	c.state, _ = Next(c.state, TriggerReset)
	c.sub = StateNotStarted
	c.outcome = Outcome{}
	c.notify(old, c.state)
}

func (c *Controller) onTimeout() {
	if c.state != StateStarted {
		return
	}
	c.logger.Warn("registration timed out", "timeout", c.cfg.Timeout)
	c.finish(TriggerTimeout, StateTimedOut, ErrTimedOut)
	c.teardown(StateTimedOut)
}

func (c *Controller) finish(trigger Trigger, sub State, err error) {
	c.cfg.Queue.Cancel(c.timeout)
	if e := c.transition(trigger); e != nil {
		return
	}
	c.sub = sub
	c.outcome.State = c.state
	c.outcome.Err = err
	c.outcome.FinishedAt = c.cfg.Queue.Now()
	if err != nil {
		c.logger.Info("registration finished", "state", c.state, "error", err)
	} else {
		c.logger.Info("registration finished", "state", c.state)
	}
	if c.cfg.OnFinish != nil {
		c.cfg.OnFinish(c.outcome)
	}
}

func (c *Controller) transition(trigger Trigger) error {
	next, ok := Next(c.state, trigger)
	if !ok {
		return fmt.Errorf("%w: %s from %s", ErrInvalidState, trigger, c.state)
	}
	old := c.state
	c.state = next
	c.notify(old, next)
	return nil
}

func (c *Controller) teardown(reason State) {
	if c.cfg.OnTeardown != nil {
		c.cfg.OnTeardown(reason)
	}
}

func (c *Controller) notify(old, new State) {
	if old != new && c.cfg.OnStateChange != nil {
		c.cfg.OnStateChange(old, new)
	}
}
