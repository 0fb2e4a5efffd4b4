package link

import (
	"context"
	"sync"
)

// Pipe is one end of an in-memory link. Frames sent on one end are
// delivered synchronously to the receiver of the other end.
type Pipe struct {
	mu        sync.Mutex
	local     Address
	peer      *Pipe
	receiver  Receiver
	intercept func(frame []byte) []byte
	closed    bool
	sent      int
}

// NewPipe returns two connected ends with the given addresses.
func NewPipe(a, b Address) (*Pipe, *Pipe) {
	pa := &Pipe{local: a}
	pb := &Pipe{local: b}
	pa.peer = pb
	pb.peer = pa
	return pa, pb
}

// Intercept installs a hook that sees every frame sent from this end.
// It returns the frame to deliver, or nil to drop it.
func (p *Pipe) Intercept(fn func(frame []byte) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.intercept = fn
}

// Sent returns the number of frames sent from this end.
func (p *Pipe) Sent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sent
}

// Send delivers frame to the peer. The destination must be the peer's
// address or Broadcast.
func (p *Pipe) Send(_ context.Context, dst Address, frame []byte, _ bool) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.sent++
	src := p.local
	hook := p.intercept
	p.mu.Unlock()

	peer := p.peer
	peer.mu.Lock()
	if peer.closed {
		peer.mu.Unlock()
		return nil
	}
	if dst != peer.local && dst != Broadcast && peer.local != Unassigned {
		peer.mu.Unlock()
		return ErrNoRoute
	}
	recv := peer.receiver
	peer.mu.Unlock()

	buf := append([]byte(nil), frame...)
	if hook != nil {
		if buf = hook(buf); buf == nil {
			return nil
		}
	}
	if recv != nil {
		recv(src, buf)
	}
	return nil
}

// SetReceiver installs the inbound callback.
func (p *Pipe) SetReceiver(r Receiver) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receiver = r
}

// LocalAddress returns this end's address.
func (p *Pipe) LocalAddress() Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

// SetLocalAddress changes this end's address.
func (p *Pipe) SetLocalAddress(a Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.local = a
}

// Close stops this end. Frames sent to it are dropped.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

var _ NetworkInterface = (*Pipe)(nil)
