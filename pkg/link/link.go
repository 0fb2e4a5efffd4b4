package link

import (
	"context"
	"errors"
	"fmt"
	"strconv"
)

// Address is a network address. Gateways assign device addresses during
// provisioning.
type Address uint32

const (
	// Unassigned is the address of a device before provisioning.
	Unassigned Address = 0

	// Broadcast reaches every endpoint on the link.
	Broadcast Address = 0xFFFFFFFF
)

// String returns the address as 0x-prefixed hex.
func (a Address) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

// ParseAddress parses a decimal or 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("link: parse address %q: %w", s, err)
	}
	return Address(v), nil
}

// Link errors.
var (
	ErrClosed        = errors.New("link closed")
	ErrFrameTooLarge = errors.New("frame too large")
	ErrNoRoute       = errors.New("no route to address")
)

// Receiver is called for every inbound frame.
type Receiver func(src Address, frame []byte)

// NetworkInterface carries frames to and from the radio or short-range
// link.
type NetworkInterface interface {
	// Send transmits frame to dst. responseRequired lets the link keep a
	// receive window open for the reply.
	Send(ctx context.Context, dst Address, frame []byte, responseRequired bool) error

	// SetReceiver installs the inbound frame callback.
	SetReceiver(r Receiver)

	// LocalAddress returns the address frames are sent from.
	LocalAddress() Address

	// SetLocalAddress changes the local address after provisioning.
	SetLocalAddress(a Address)

	// Close stops the interface.
	Close() error
}
