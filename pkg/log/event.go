package log

import (
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Event is a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred.
	Timestamp time.Time `cbor:"1,keyasint"`

	// SessionID identifies the secure session (UUID), empty before one exists.
	SessionID string `cbor:"2,keyasint,omitempty"`

	Direction Direction `cbor:"3,keyasint"`
	Layer     Layer     `cbor:"4,keyasint"`
	Category  Category  `cbor:"5,keyasint"`
	LocalRole Role      `cbor:"6,keyasint,omitempty"`

	// Remote is the peer network address.
	Remote string `cbor:"7,keyasint,omitempty"`

	// DeviceSerial is the hex device certificate serial, once known.
	DeviceSerial string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Command     *CommandEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	Security    *SecurityEvent    `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction indicates message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerLink is the network interface (raw bytes).
	LayerLink Layer = 0
	// LayerWire is the command codec and dispatcher.
	LayerWire Layer = 1
	// LayerService is registration, session and management.
	LayerService Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerLink:
		return "LINK"
	case LayerWire:
		return "WIRE"
	case LayerService:
		return "SERVICE"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage  Category = 0
	CategorySecurity Category = 1
	CategoryState    Category = 2
	CategoryError    Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategorySecurity:
		return "SECURITY"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates whether the local endpoint is a device or gateway.
type Role uint8

const (
	RoleDevice  Role = 0
	RoleGateway Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleGateway:
		return "GATEWAY"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the link layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame (may be truncated).
	Data []byte `cbor:"2,keyasint,omitempty"`

	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MaxFrameData bounds FrameEvent.Data.
const MaxFrameData = 256

// NewFrameEvent captures frame, truncating to MaxFrameData.
func NewFrameEvent(frame []byte) *FrameEvent {
	fe := &FrameEvent{Size: len(frame)}
	n := min(len(frame), MaxFrameData)
	fe.Data = append([]byte(nil), frame[:n]...)
	fe.Truncated = n < len(frame)
	return fe
}

// CommandEvent captures a decoded command header.
type CommandEvent struct {
	Class            uint16      `cbor:"1,keyasint"`
	ID               uint16      `cbor:"2,keyasint"`
	Opcode           wire.Opcode `cbor:"3,keyasint"`
	Seq              uint32      `cbor:"4,keyasint"`
	Secured          bool        `cbor:"5,keyasint,omitempty"`
	ResponseRequired bool        `cbor:"6,keyasint,omitempty"`

	// Status is set for responses.
	Status *wire.Status `cbor:"7,keyasint,omitempty"`

	// PayloadSize is the plaintext payload size.
	PayloadSize int `cbor:"8,keyasint"`

	// Attempt numbers retransmissions of an outbound command, from 1.
	Attempt int `cbor:"9,keyasint,omitempty"`
}

// NewCommandEvent captures h.
func NewCommandEvent(h *wire.Header, payloadSize int) *CommandEvent {
	ce := &CommandEvent{
		Class:            h.Class,
		ID:               h.ID,
		Opcode:           h.Opcode,
		Seq:              h.Seq,
		Secured:          h.Secured,
		ResponseRequired: h.ResponseRequired,
		PayloadSize:      payloadSize,
	}
	if h.Ext != nil && h.Ext.Options.Has(wire.OptStatus) {
		s := h.Ext.Status
		ce.Status = &s
	}
	return ce
}

// Name returns "Class.Command" for known commands.
func (c *CommandEvent) Name() string {
	return wire.CommandKey{Class: c.Class, ID: c.ID}.String()
}

// StateChangeEvent captures state machine transitions.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	StateEntityRegistration StateEntity = 0
	StateEntitySession      StateEntity = 1
	StateEntityJoin         StateEntity = 2
	StateEntityClockSync    StateEntity = 3
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityRegistration:
		return "REGISTRATION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityJoin:
		return "JOIN"
	case StateEntityClockSync:
		return "CLOCK_SYNC"
	default:
		return "UNKNOWN"
	}
}

// SecurityEvent records a frame rejected before dispatch.
type SecurityEvent struct {
	Reason SecurityReason `cbor:"1,keyasint"`
	Detail string         `cbor:"2,keyasint,omitempty"`
}

// SecurityReason says why a frame was rejected.
type SecurityReason uint8

const (
	SecurityMalformed SecurityReason = 0
	SecurityReplay    SecurityReason = 1
	SecurityAuth      SecurityReason = 2
	SecurityNoSession SecurityReason = 3
)

// String returns the reason name.
func (r SecurityReason) String() string {
	switch r {
	case SecurityMalformed:
		return "MALFORMED"
	case SecurityReplay:
		return "REPLAY"
	case SecurityAuth:
		return "AUTH"
	case SecurityNoSession:
		return "NO_SESSION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Kind is the errcode kind name, if classified.
	Kind string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
