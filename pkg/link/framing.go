package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/log"
)

// Modem framing: length(2, big-endian) || address(4, big-endian) || frame.
// The address is the destination on write and the source on read; the
// length covers only the frame.
const (
	LengthPrefixSize = 2
	AddressSize      = 4
	PrefixSize       = LengthPrefixSize + AddressSize

	// DefaultMaxFrameSize fits the largest long-range radio payload with
	// room for the secured overhead.
	DefaultMaxFrameSize = 1024
)

// Framing errors.
var (
	ErrFrameEmpty     = errors.New("frame is empty")
	ErrFrameTruncated = errors.New("frame truncated")
)

// FrameWriter writes modem frames to an underlying writer.
type FrameWriter struct {
	w       io.Writer
	maxSize int
	mu      sync.Mutex

	logger log.Logger
}

// NewFrameWriter creates a frame writer.
func NewFrameWriter(w io.Writer, maxSize int) *FrameWriter {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameWriter{w: w, maxSize: maxSize}
}

// SetLogger configures frame capture. Pass nil to disable it.
func (fw *FrameWriter) SetLogger(logger log.Logger) {
	fw.logger = logger
}

// WriteFrame writes one frame addressed to dst. Safe for concurrent use.
func (fw *FrameWriter) WriteFrame(dst Address, data []byte) error {
	if len(data) == 0 {
		return ErrFrameEmpty
	}
	if len(data) > fw.maxSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(data), fw.maxSize)
	}

	buf := make([]byte, PrefixSize, PrefixSize+len(data))
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(data)))
	binary.BigEndian.PutUint32(buf[2:6], uint32(dst))
	buf = append(buf, data...)

	fw.mu.Lock()
	defer fw.mu.Unlock()

	// One write per frame so the modem never sees a split prefix.
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("link: write frame: %w", err)
	}
	if fw.logger != nil {
		fw.logger.Log(frameEvent(log.DirectionOut, dst, data))
	}
	return nil
}

// FrameReader reads modem frames from an underlying reader.
type FrameReader struct {
	r       io.Reader
	maxSize int
	prefix  [PrefixSize]byte

	logger log.Logger
}

// NewFrameReader creates a frame reader.
func NewFrameReader(r io.Reader, maxSize int) *FrameReader {
	if maxSize <= 0 {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameReader{r: r, maxSize: maxSize}
}

// SetLogger configures frame capture. Pass nil to disable it.
func (fr *FrameReader) SetLogger(logger log.Logger) {
	fr.logger = logger
}

// ReadFrame reads one frame and its source address. io.EOF is returned
// only at a frame boundary.
func (fr *FrameReader) ReadFrame() (Address, []byte, error) {
	if _, err := io.ReadFull(fr.r, fr.prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return 0, nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return 0, nil, ErrFrameTruncated
		}
		return 0, nil, fmt.Errorf("link: read prefix: %w", err)
	}

	length := int(binary.BigEndian.Uint16(fr.prefix[0:2]))
	src := Address(binary.BigEndian.Uint32(fr.prefix[2:6]))
	if length == 0 {
		return 0, nil, ErrFrameEmpty
	}
	if length > fr.maxSize {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, fr.maxSize)
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(fr.r, data); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return 0, nil, ErrFrameTruncated
		}
		return 0, nil, fmt.Errorf("link: read frame: %w", err)
	}
	if fr.logger != nil {
		fr.logger.Log(frameEvent(log.DirectionIn, src, data))
	}
	return src, data, nil
}

func frameEvent(dir log.Direction, remote Address, data []byte) log.Event {
	return log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerLink,
		Category:  log.CategoryMessage,
		Remote:    remote.String(),
		Frame:     log.NewFrameEvent(data),
	}
}
