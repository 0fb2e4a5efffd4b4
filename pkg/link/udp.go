package link

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
)

// UDP datagrams carry src address(4, big-endian) || frame.

// UDPConfig configures the short-range IP link.
type UDPConfig struct {
	// Listen is the local UDP address, e.g. ":4790".
	Listen string

	// Peers maps known link addresses to UDP endpoints. Endpoints of
	// peers that send to us are learned.
	Peers map[Address]string

	// BroadcastTo receives frames sent to Broadcast, if set.
	BroadcastTo string

	Local        Address
	MaxFrameSize int
	Logger       *slog.Logger
}

// UDPLink exchanges frames in UDP datagrams.
type UDPLink struct {
	conn    *net.UDPConn
	maxSize int
	bcast   *net.UDPAddr
	logger  *slog.Logger

	mu       sync.Mutex
	local    Address
	peers    map[Address]*net.UDPAddr
	receiver Receiver

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// ListenUDP opens the UDP socket and starts reading.
func ListenUDP(cfg UDPConfig) (*UDPLink, error) {
	laddr, err := net.ResolveUDPAddr("udp", cfg.Listen)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %q: %w", cfg.Listen, err)
	}
	peers := make(map[Address]*net.UDPAddr, len(cfg.Peers))
	for a, s := range cfg.Peers {
		ua, err := net.ResolveUDPAddr("udp", s)
		if err != nil {
			return nil, fmt.Errorf("link: peer %s: %w", a, err)
		}
		peers[a] = ua
	}
	var bcast *net.UDPAddr
	if cfg.BroadcastTo != "" {
		if bcast, err = net.ResolveUDPAddr("udp", cfg.BroadcastTo); err != nil {
			return nil, fmt.Errorf("link: broadcast %q: %w", cfg.BroadcastTo, err)
		}
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("link: listen %q: %w", cfg.Listen, err)
	}

	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = DefaultMaxFrameSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	u := &UDPLink{
		conn:    conn,
		maxSize: cfg.MaxFrameSize,
		bcast:   bcast,
		logger:  logger.With("component", "udp-link"),
		local:   cfg.Local,
		peers:   peers,
		done:    make(chan struct{}),
	}
	u.wg.Add(1)
	go u.readLoop()
	return u, nil
}

// Addr returns the bound UDP address.
func (u *UDPLink) Addr() *net.UDPAddr {
	return u.conn.LocalAddr().(*net.UDPAddr)
}

// AddPeer maps a link address to a UDP endpoint.
func (u *UDPLink) AddPeer(a Address, ua *net.UDPAddr) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.peers[a] = ua
}

// Send writes one datagram to dst's endpoint.
func (u *UDPLink) Send(ctx context.Context, dst Address, frame []byte, _ bool) error {
	if len(frame) > u.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(frame), u.maxSize)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	u.mu.Lock()
	src := u.local
	to := u.peers[dst]
	u.mu.Unlock()
	if dst == Broadcast && u.bcast != nil {
		to = u.bcast
	}
	if to == nil {
		return fmt.Errorf("%w: %s", ErrNoRoute, dst)
	}

	buf := make([]byte, AddressSize, AddressSize+len(frame))
	binary.BigEndian.PutUint32(buf, uint32(src))
	buf = append(buf, frame...)
	if _, err := u.conn.WriteToUDP(buf, to); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrClosed
		}
		return fmt.Errorf("link: udp write: %w", err)
	}
	return nil
}

// SetReceiver installs the inbound callback.
func (u *UDPLink) SetReceiver(r Receiver) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.receiver = r
}

// LocalAddress returns the local address.
func (u *UDPLink) LocalAddress() Address {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.local
}

// SetLocalAddress changes the local address.
func (u *UDPLink) SetLocalAddress(a Address) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.local = a
}

// Close closes the socket and waits for the reader.
func (u *UDPLink) Close() error {
	var err error
	u.closeOnce.Do(func() {
		close(u.done)
		err = u.conn.Close()
		u.wg.Wait()
	})
	return err
}

func (u *UDPLink) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, AddressSize+u.maxSize+1)
	for {
		n, from, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-u.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			u.logger.Warn("udp read error", "err", err)
			continue
		}
		if n <= AddressSize || n > AddressSize+u.maxSize {
			u.logger.Debug("dropping datagram", "size", n, "from", from)
			continue
		}

		src := Address(binary.BigEndian.Uint32(buf[:AddressSize]))
		frame := append([]byte(nil), buf[AddressSize:n]...)

		u.mu.Lock()
		// Replies to Unassigned go to the latest unprovisioned sender.
		if src != Broadcast {
			u.peers[src] = from
		}
		recv := u.receiver
		u.mu.Unlock()

		if recv != nil {
			recv(src, frame)
		}
	}
}

var _ NetworkInterface = (*UDPLink)(nil)
