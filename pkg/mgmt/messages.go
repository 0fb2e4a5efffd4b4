package mgmt

import (
	"github.com/lrmgmt/lrmgmt-go/pkg/wire"
)

// Command descriptors of the management classes.
var (
	DescJoin          = wire.Descriptor{Class: wire.ClassJoin, ID: wire.IDJoinRequest, Opcode: wire.OpWrite}
	DescKeepAlive     = wire.Descriptor{Class: wire.ClassKeepAlive, ID: wire.IDKeepAlivePing, Opcode: wire.OpNotify}
	DescClockSync     = wire.Descriptor{Class: wire.ClassClockSync, ID: wire.IDClockSyncTime, Opcode: wire.OpRead}
	DescClockSyncMode = wire.Descriptor{Class: wire.ClassClockSync, ID: wire.IDClockSyncMode, Opcode: wire.OpWrite}
	DescConfigGet     = wire.Descriptor{Class: wire.ClassConfig, ID: wire.IDConfigParam, Opcode: wire.OpRead}
	DescConfigSet     = wire.Descriptor{Class: wire.ClassConfig, ID: wire.IDConfigParam, Opcode: wire.OpWrite}
	DescFactoryReset  = wire.Descriptor{Class: wire.ClassFactoryReset, ID: wire.IDFactoryResetReset, Opcode: wire.OpWrite}
)

// JoinCode is the gateway's answer to a join request.
type JoinCode uint8

const (
	// JoinAccepted admits the device.
	JoinAccepted JoinCode = 0

	// JoinRejected refuses the device for the current cycle.
	JoinRejected JoinCode = 1
)

// String returns the code name.
func (c JoinCode) String() string {
	switch c {
	case JoinAccepted:
		return "ACCEPTED"
	case JoinRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}

// JoinRequest announces the device.
type JoinRequest struct {
	Reason  NetworkState `cbor:"1,keyasint"`
	GroupID uint32       `cbor:"2,keyasint,omitempty"`
	AuxID   uint32       `cbor:"3,keyasint,omitempty"`
	Attempt uint8        `cbor:"4,keyasint"`
}

// JoinResponse answers a join request.
type JoinResponse struct {
	Code    JoinCode `cbor:"1,keyasint"`
	GroupID uint32   `cbor:"2,keyasint,omitempty"`
	AuxID   uint32   `cbor:"3,keyasint,omitempty"`
}

// KeepAlive is the periodic ping.
type KeepAlive struct {
	// Uptime is the node uptime in seconds.
	Uptime uint32 `cbor:"1,keyasint"`
	Seq    uint32 `cbor:"2,keyasint"`
}

// TimeRequest starts a clock sync exchange. T1 is the device send time.
type TimeRequest struct {
	T1 int64 `cbor:"1,keyasint"`
}

// TimeResponse carries the gateway receive (T2) and send (T3) times, all
// in Unix nanoseconds.
type TimeResponse struct {
	T1 int64 `cbor:"1,keyasint"`
	T2 int64 `cbor:"2,keyasint"`
	T3 int64 `cbor:"3,keyasint"`
}

// SyncModeRequest selects the clock sync mode.
type SyncModeRequest struct {
	Mode SyncState `cbor:"1,keyasint"`
}

// ParamRequest reads a configuration parameter.
type ParamRequest struct {
	ID uint16 `cbor:"1,keyasint"`
}

// ParamValue carries a configuration parameter value.
type ParamValue struct {
	ID    uint16 `cbor:"1,keyasint"`
	Value uint32 `cbor:"2,keyasint"`
}
