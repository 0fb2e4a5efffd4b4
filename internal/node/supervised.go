package node

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/connection"
	"github.com/lrmgmt/lrmgmt-go/pkg/link"
)

// ErrDisconnected is returned by Send while the link is being redialled.
var ErrDisconnected = errors.New("link disconnected")

// LinkDialer opens the underlying link. lost must be called when the
// link goes away on its own.
type LinkDialer func(ctx context.Context, local link.Address, lost func(error)) (link.NetworkInterface, error)

// SupervisedConfig configures a SupervisedLink.
type SupervisedConfig struct {
	Dial LinkDialer

	// Local is the initial local address.
	Local link.Address

	// Backoff paces redials. Defaults to connection.NewBackoff().
	Backoff *connection.Backoff

	DialTimeout time.Duration

	// OnStateChange is called from the supervisor's goroutines.
	OnStateChange func(old, new connection.State)

	Logger *slog.Logger
}

// SupervisedLink is a link.NetworkInterface that survives the loss of the
// link beneath it. The receiver and local address carry over to every
// redialled link.
type SupervisedLink struct {
	dial   LinkDialer
	sup    *connection.Supervisor
	logger *slog.Logger

	mu       sync.Mutex
	current  link.NetworkInterface
	gen      uint64
	local    link.Address
	receiver link.Receiver
	closed   bool
}

// NewSupervisedLink creates the link. Nothing is dialled until Connect.
func NewSupervisedLink(cfg SupervisedConfig) *SupervisedLink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &SupervisedLink{
		dial:   cfg.Dial,
		logger: logger.With("component", "supervised-link"),
		local:  cfg.Local,
	}
	s.sup = connection.NewSupervisor(connection.SupervisorConfig{
		Dial:          s.dialOnce,
		Backoff:       cfg.Backoff,
		DialTimeout:   cfg.DialTimeout,
		OnStateChange: cfg.OnStateChange,
		Logger:        logger,
	})
	return s
}

// Connect performs the first dial.
func (s *SupervisedLink) Connect(ctx context.Context) error {
	return s.sup.Connect(ctx)
}

// State returns the supervisor state.
func (s *SupervisedLink) State() connection.State {
	return s.sup.State()
}

func (s *SupervisedLink) dialOnce(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return link.ErrClosed
	}
	s.gen++
	gen := s.gen
	local := s.local
	s.mu.Unlock()

	inner, err := s.dial(ctx, local, func(err error) { s.lost(gen, err) })
	if err != nil {
		return err
	}
	inner.SetReceiver(s.deliver)

	s.mu.Lock()
	if s.closed || gen != s.gen {
		s.mu.Unlock()
		_ = inner.Close()
		return link.ErrClosed
	}
	s.current = inner
	local = s.local
	s.mu.Unlock()

	if inner.LocalAddress() != local {
		inner.SetLocalAddress(local)
	}
	return nil
}

func (s *SupervisedLink) lost(gen uint64, err error) {
	s.mu.Lock()
	if s.closed || gen != s.gen || s.current == nil {
		s.mu.Unlock()
		return
	}
	old := s.current
	s.current = nil
	s.mu.Unlock()

	s.logger.Warn("link lost", "err", err)
	// lost may run on the old link's reader, which Close waits for.
	go func() { _ = old.Close() }()
	s.sup.NotifyLost()
}

func (s *SupervisedLink) deliver(src link.Address, frame []byte) {
	s.mu.Lock()
	recv := s.receiver
	s.mu.Unlock()
	if recv != nil {
		recv(src, frame)
	}
}

// Send transmits on the current link.
func (s *SupervisedLink) Send(ctx context.Context, dst link.Address, frame []byte, responseRequired bool) error {
	s.mu.Lock()
	cur := s.current
	closed := s.closed
	s.mu.Unlock()

	if closed {
		return link.ErrClosed
	}
	if cur == nil {
		return ErrDisconnected
	}
	return cur.Send(ctx, dst, frame, responseRequired)
}

// SetReceiver installs the inbound callback.
func (s *SupervisedLink) SetReceiver(r link.Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = r
}

// LocalAddress returns the local address.
func (s *SupervisedLink) LocalAddress() link.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// SetLocalAddress changes the local address of this and every later link.
func (s *SupervisedLink) SetLocalAddress(a link.Address) {
	s.mu.Lock()
	s.local = a
	cur := s.current
	s.mu.Unlock()

	if cur != nil {
		cur.SetLocalAddress(a)
	}
}

// Close stops redialling and closes the current link.
func (s *SupervisedLink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	cur := s.current
	s.current = nil
	s.mu.Unlock()

	s.sup.Close()
	if cur != nil {
		return cur.Close()
	}
	return nil
}

var _ link.NetworkInterface = (*SupervisedLink)(nil)
