package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Codec errors.
var (
	ErrShortBuffer = errors.New("wire: short buffer")
	ErrFormat      = errors.New("wire: malformed frame")
)

// Header sizes and limits.
const (
	// HeaderSize is the size of the fixed header.
	HeaderSize = 8

	// ExtHeaderMinSize is the size of the extended header with no options.
	ExtHeaderMinSize = 3

	// MaxID is the largest command id that fits in header byte 2.
	MaxID = 0x3F

	// MaxLogEntries is the largest log-entry field.
	MaxLogEntries = 0xFF
)

// Control byte bits.
const (
	ctrlExtended         = 1 << 7
	ctrlSecured          = 1 << 6
	ctrlResponseRequired = 1 << 5
	ctrlReserved         = 0x1F
)

// OptionMask selects the optional extended-header fields.
type OptionMask uint8

// Option bits in descending significance.
const (
	OptStatus           OptionMask = 1 << 7
	OptAdditionalStatus OptionMask = 1 << 6
	OptLogEntries       OptionMask = 1 << 5
	OptBattery          OptionMask = 1 << 4
	OptRSSISNR          OptionMask = 1 << 3
	OptTimestamp        OptionMask = 1 << 2

	optReserved OptionMask = 0x03
)

// Has reports whether all bits in o are set.
func (m OptionMask) Has(o OptionMask) bool {
	return m&o == o
}

// ExtHeader is the optional extended header.
type ExtHeader struct {
	Version  uint8
	Priority uint8
	Options  OptionMask

	Status           Status
	AdditionalStatus uint8
	LogEntries       []byte
	Battery          uint8
	RSSI             int8
	SNR              int8
	Timestamp        uint32
}

// size returns the encoded size of the extended header.
func (e *ExtHeader) size() int {
	n := ExtHeaderMinSize
	if e.Options.Has(OptStatus) {
		n++
	}
	if e.Options.Has(OptAdditionalStatus) {
		n++
	}
	if e.Options.Has(OptLogEntries) {
		n += 1 + len(e.LogEntries)
	}
	if e.Options.Has(OptBattery) {
		n++
	}
	if e.Options.Has(OptRSSISNR) {
		n += 2
	}
	if e.Options.Has(OptTimestamp) {
		n += 4
	}
	return n
}

// Header is the fixed header plus the optional extended header.
type Header struct {
	Class            uint16
	ID               uint16
	Opcode           Opcode
	Secured          bool
	ResponseRequired bool
	Seq              uint32

	// Ext is nil when the extended header is absent.
	Ext *ExtHeader
}

// Descriptor returns the command descriptor addressed by the header.
func (h *Header) Descriptor() Descriptor {
	d := Descriptor{Class: h.Class, ID: h.ID, Opcode: h.Opcode}
	if h.Ext != nil {
		d.Version = h.Ext.Version
		d.Priority = h.Ext.Priority
	}
	return d
}

// Validate checks the header against its bit-width contract.
func (h *Header) Validate() error {
	if h.ID > MaxID {
		return fmt.Errorf("%w: id %d exceeds %d", ErrFormat, h.ID, MaxID)
	}
	if !h.Opcode.IsValid() {
		return fmt.Errorf("%w: opcode %d", ErrFormat, h.Opcode)
	}
	if h.Ext != nil {
		if h.Ext.Options&optReserved != 0 {
			return fmt.Errorf("%w: reserved option bits set", ErrFormat)
		}
		if h.Ext.Options.Has(OptLogEntries) && len(h.Ext.LogEntries) > MaxLogEntries {
			return fmt.Errorf("%w: %d log entry bytes", ErrFormat, len(h.Ext.LogEntries))
		}
	}
	return nil
}

// Size returns the encoded header size.
func (h *Header) Size() int {
	n := HeaderSize
	if h.Ext != nil {
		n += h.Ext.size()
	}
	return n
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h *Header) ([]byte, error) {
	if err := h.Validate(); err != nil {
		return dst, err
	}

	var ctrl byte
	if h.Ext != nil {
		ctrl |= ctrlExtended
	}
	if h.Secured {
		ctrl |= ctrlSecured
	}
	if h.ResponseRequired {
		ctrl |= ctrlResponseRequired
	}

	dst = binary.BigEndian.AppendUint16(dst, h.Class)
	dst = append(dst, byte(h.ID)<<2|byte(h.Opcode), ctrl)
	dst = binary.BigEndian.AppendUint32(dst, h.Seq)

	if e := h.Ext; e != nil {
		dst = append(dst, e.Version, e.Priority, byte(e.Options))
		if e.Options.Has(OptStatus) {
			dst = append(dst, byte(e.Status))
		}
		if e.Options.Has(OptAdditionalStatus) {
			dst = append(dst, e.AdditionalStatus)
		}
		if e.Options.Has(OptLogEntries) {
			dst = append(dst, byte(len(e.LogEntries)))
			dst = append(dst, e.LogEntries...)
		}
		if e.Options.Has(OptBattery) {
			dst = append(dst, e.Battery)
		}
		if e.Options.Has(OptRSSISNR) {
			dst = append(dst, byte(e.RSSI), byte(e.SNR))
		}
		if e.Options.Has(OptTimestamp) {
			dst = binary.BigEndian.AppendUint32(dst, e.Timestamp)
		}
	}
	return dst, nil
}

// DecodeHeader parses a header from data and returns the number of bytes
// consumed.
func DecodeHeader(data []byte) (*Header, int, error) {
	if len(data) < HeaderSize {
		return nil, 0, fmt.Errorf("%w: %d bytes, header needs %d", ErrShortBuffer, len(data), HeaderSize)
	}

	ctrl := data[3]
	if ctrl&ctrlReserved != 0 {
		return nil, 0, fmt.Errorf("%w: reserved control bits 0x%02x", ErrFormat, ctrl&ctrlReserved)
	}

	h := &Header{
		Class:            binary.BigEndian.Uint16(data[0:2]),
		ID:               uint16(data[2] >> 2),
		Opcode:           Opcode(data[2] & 0x03),
		Secured:          ctrl&ctrlSecured != 0,
		ResponseRequired: ctrl&ctrlResponseRequired != 0,
		Seq:              binary.BigEndian.Uint32(data[4:8]),
	}
	off := HeaderSize

	if ctrl&ctrlExtended == 0 {
		return h, off, nil
	}

	r := reader{buf: data, off: off}
	e := &ExtHeader{}
	e.Version = r.u8()
	e.Priority = r.u8()
	e.Options = OptionMask(r.u8())
	if r.err != nil {
		return nil, 0, r.err
	}
	if e.Options&optReserved != 0 {
		return nil, 0, fmt.Errorf("%w: reserved option bits 0x%02x", ErrFormat, byte(e.Options&optReserved))
	}

	if e.Options.Has(OptStatus) {
		e.Status = Status(r.u8())
	}
	if e.Options.Has(OptAdditionalStatus) {
		e.AdditionalStatus = r.u8()
	}
	if e.Options.Has(OptLogEntries) {
		n := int(r.u8())
		e.LogEntries = r.bytes(n)
	}
	if e.Options.Has(OptBattery) {
		e.Battery = r.u8()
	}
	if e.Options.Has(OptRSSISNR) {
		e.RSSI = int8(r.u8())
		e.SNR = int8(r.u8())
	}
	if e.Options.Has(OptTimestamp) {
		e.Timestamp = r.u32()
	}
	if r.err != nil {
		return nil, 0, r.err
	}

	h.Ext = e
	return h, r.off, nil
}

// reader is a bounds-checked cursor. After the first short read every
// accessor returns zero and err stays set.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrShortBuffer, n, r.off, len(r.buf)-r.off)
		return false
	}
	return true
}

func (r *reader) u8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.buf[r.off]
	r.off++
	return v
}

func (r *reader) u32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := make([]byte, n)
	copy(v, r.buf[r.off:r.off+n])
	r.off += n
	return v
}
