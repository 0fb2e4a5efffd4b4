package persistence

import (
	"errors"
	"time"
)

// StateVersion is the current version of the stored documents.
const StateVersion = 1

// ErrVersion is returned when a stored document has an unknown version.
var ErrVersion = errors.New("persistence: unsupported state version")

// DeviceState is the persisted state of a device node.
type DeviceState struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`

	// Address is the network address assigned during provisioning.
	Address uint32 `json:"address,omitempty"`

	// Paired is set once registration has completed.
	Paired bool `json:"paired,omitempty"`

	GroupID uint32 `json:"group_id,omitempty"`
	AuxID   uint32 `json:"aux_id,omitempty"`

	// Config holds configuration values by configuration id.
	Config map[uint16]uint32 `json:"config,omitempty"`
}

// GatewayState is the persisted state of a gateway node.
type GatewayState struct {
	Version int       `json:"version"`
	SavedAt time.Time `json:"saved_at"`

	// NextAddress is the next address to assign.
	NextAddress uint32 `json:"next_address"`

	Devices []DeviceRecord `json:"devices,omitempty"`
}

// DeviceRecord is a device known to a gateway.
type DeviceRecord struct {
	// Serial is the hex-encoded device certificate serial.
	Serial string `json:"serial"`

	Address    uint32    `json:"address"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeenAt time.Time `json:"last_seen_at,omitempty"`
}

// Device returns the record with the given serial, or nil.
func (g *GatewayState) Device(serial string) *DeviceRecord {
	for i := range g.Devices {
		if g.Devices[i].Serial == serial {
			return &g.Devices[i]
		}
	}
	return nil
}

// Store persists node state. Load methods return nil, nil when nothing
// has been saved.
type Store interface {
	LoadDevice() (*DeviceState, error)
	SaveDevice(state *DeviceState) error
	LoadGateway() (*GatewayState, error)
	SaveGateway(state *GatewayState) error

	// Clear removes every stored document.
	Clear() error

	Close() error
}

func stamp(version *int, savedAt *time.Time) {
	*version = StateVersion
	if savedAt.IsZero() {
		*savedAt = time.Now()
	}
}

func checkVersion(v int) error {
	if v != StateVersion {
		return ErrVersion
	}
	return nil
}
