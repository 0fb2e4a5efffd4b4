package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Supervisor errors.
var (
	ErrClosed           = errors.New("supervisor closed")
	ErrAlreadyConnected = errors.New("already connected")
)

// DefaultDialTimeout bounds a single dial attempt.
const DefaultDialTimeout = 30 * time.Second

// State is the supervised link state.
type State uint8

const (
	// StateDisconnected indicates no link and no redial in progress.
	StateDisconnected State = iota

	// StateConnecting indicates the first dial is in progress.
	StateConnecting

	// StateConnected indicates the link is up.
	StateConnected

	// StateReconnecting indicates redialling after a loss.
	StateReconnecting

	// StateClosed indicates the supervisor has been closed.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc establishes the link. It returns nil on success.
type DialFunc func(ctx context.Context) error

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Dial DialFunc

	// Backoff paces redials. Defaults to NewBackoff().
	Backoff *Backoff

	// DialTimeout bounds each redial. Defaults to DefaultDialTimeout.
	DialTimeout time.Duration

	// OnStateChange is called from the supervisor's goroutines.
	OnStateChange func(old, new State)

	Logger *slog.Logger
}

// Supervisor keeps a link dialled, redialling with backoff after a loss.
type Supervisor struct {
	mu      sync.Mutex
	state   State
	backoff *Backoff
	cfg     SupervisorConfig
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	lostCh chan struct{}
}

// NewSupervisor creates a supervisor and starts its redial goroutine.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Backoff == nil {
		cfg.Backoff = NewBackoff()
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		state:   StateDisconnected,
		backoff: cfg.Backoff,
		cfg:     cfg,
		logger:  logger.With("component", "supervisor"),
		ctx:     ctx,
		cancel:  cancel,
		lostCh:  make(chan struct{}, 1),
	}
	s.wg.Add(1)
	go s.redialLoop()
	return s
}

// State returns the current state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect performs the first dial.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateConnected:
		s.mu.Unlock()
		return ErrAlreadyConnected
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	}
	s.mu.Unlock()
	s.setState(StateConnecting)

	if err := s.cfg.Dial(ctx); err != nil {
		s.setState(StateDisconnected)
		return err
	}
	s.connected()
	return nil
}

// NotifyLost reports a link loss and starts redialling.
func (s *Supervisor) NotifyLost() {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setState(StateReconnecting)
	select {
	case s.lostCh <- struct{}{}:
	default:
	}
}

// Close stops redialling.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.setState(StateClosed)
	s.cancel()
	s.wg.Wait()
}

func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	old := s.state
	if old == StateClosed || old == next {
		s.mu.Unlock()
		return
	}
	s.state = next
	s.mu.Unlock()

	s.logger.Debug("link state", "old", old, "new", next)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(old, next)
	}
}

func (s *Supervisor) connected() {
	s.mu.Lock()
	s.backoff.Reset()
	s.mu.Unlock()
	s.setState(StateConnected)
}

func (s *Supervisor) redialLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.lostCh:
			s.redial()
		}
	}
}

func (s *Supervisor) redial() {
	for {
		if st := s.State(); st != StateReconnecting {
			return
		}

		s.mu.Lock()
		delay := s.backoff.Next()
		attempt := s.backoff.Attempts()
		s.mu.Unlock()
		s.logger.Info("redialling", "attempt", attempt, "delay", delay)

		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.cfg.DialTimeout)
		err := s.cfg.Dial(ctx)
		cancel()
		if err == nil {
			s.connected()
			return
		}
		s.logger.Warn("redial failed", "attempt", attempt, "err", err)
	}
}
