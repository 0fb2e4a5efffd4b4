package link

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// SerialConfig configures a radio modem on a UART.
type SerialConfig struct {
	Port     string
	BaudRate int

	// MaxFrameSize defaults to DefaultMaxFrameSize.
	MaxFrameSize int

	// Local is the initial local address.
	Local Address

	// OnLost is called from the read goroutine when the modem goes away.
	OnLost func(error)

	Logger         *slog.Logger
	ProtocolLogger log.Logger
}

// SerialLink exchanges frames with a radio modem over a serial port.
type SerialLink struct {
	port   io.ReadWriteCloser
	reader *FrameReader
	writer *FrameWriter
	logger *slog.Logger
	onLost func(error)

	mu       sync.Mutex
	local    Address
	receiver Receiver

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// OpenSerial opens the serial port and starts reading.
func OpenSerial(cfg SerialConfig) (*SerialLink, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 115200
	}
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("link: open %s: %w", cfg.Port, err)
	}
	return NewSerialLink(port, cfg), nil
}

// NewSerialLink runs a SerialLink over an already open port.
func NewSerialLink(port io.ReadWriteCloser, cfg SerialConfig) *SerialLink {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &SerialLink{
		port:   port,
		reader: NewFrameReader(bufio.NewReader(port), cfg.MaxFrameSize),
		writer: NewFrameWriter(port, cfg.MaxFrameSize),
		logger: logger.With("component", "serial-link", "port", cfg.Port),
		local:  cfg.Local,
		onLost: cfg.OnLost,
		done:   make(chan struct{}),
	}
	if cfg.ProtocolLogger != nil {
		s.reader.SetLogger(cfg.ProtocolLogger)
		s.writer.SetLogger(cfg.ProtocolLogger)
	}
	s.wg.Add(1)
	go s.readLoop()
	return s
}

// Send writes a frame to the modem.
func (s *SerialLink) Send(ctx context.Context, dst Address, frame []byte, _ bool) error {
	select {
	case <-s.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return s.writer.WriteFrame(dst, frame)
}

// SetReceiver installs the inbound callback.
func (s *SerialLink) SetReceiver(r Receiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receiver = r
}

// LocalAddress returns the local address.
func (s *SerialLink) LocalAddress() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// SetLocalAddress changes the local address.
func (s *SerialLink) SetLocalAddress(a Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = a
}

// Close closes the port and waits for the reader to stop.
func (s *SerialLink) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
		s.wg.Wait()
	})
	return err
}

func (s *SerialLink) readLoop() {
	defer s.wg.Done()

	backoff := 10 * time.Millisecond
	const maxBackoff = 5 * time.Second

	for {
		src, frame, err := s.reader.ReadFrame()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, io.EOF) {
				s.logger.Warn("serial port closed by peer")
				if s.onLost != nil {
					s.onLost(err)
				}
				return
			}
			// A bad length prefix leaves the stream unsynchronised; the
			// modem resynchronises on its own after a short idle.
			s.logger.Warn("serial read error", "err", err)
			select {
			case <-time.After(backoff):
			case <-s.done:
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = 10 * time.Millisecond

		s.mu.Lock()
		recv := s.receiver
		s.mu.Unlock()
		if recv != nil {
			recv(src, frame)
		}
	}
}

var _ NetworkInterface = (*SerialLink)(nil)
