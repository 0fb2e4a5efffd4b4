package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/lrmgmt/lrmgmt-go/pkg/link"
)

// Service constants.
const (
	// ServiceType is the DNS-SD service of gateways.
	ServiceType = "_lrgw._udp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is the default UDP link port.
	DefaultPort = 4790

	// DefaultTTL is the DNS record TTL.
	DefaultTTL = 120 * time.Second

	// BrowseTimeout is the default timeout for FindGateway.
	BrowseTimeout = 10 * time.Second

	// MaxInstanceNameLen is the DNS label limit.
	MaxInstanceNameLen = 63
)

// TXT record keys.
const (
	TXTKeyAddress = "addr"
	TXTKeyVersion = "pv"
	TXTKeyGroupID = "gid"
)

// Discovery errors.
var (
	ErrNotFound            = errors.New("gateway not found")
	ErrMissingRequired     = errors.New("missing required TXT record")
	ErrInvalidAddress      = errors.New("invalid gateway address")
	ErrIncompatible        = errors.New("incompatible protocol version")
	ErrInstanceNameTooLong = errors.New("instance name too long")
)

// GatewayInfo is what a gateway advertises.
type GatewayInfo struct {
	// Name is the instance name.
	Name string

	// Address is the gateway link address.
	Address link.Address

	// Port is the UDP link port. Zero means DefaultPort.
	Port uint16

	// Version is the protocol version, e.g. "1.0".
	Version string

	// GroupID is optional.
	GroupID uint32
}

// GatewayService is a discovered gateway.
type GatewayService struct {
	GatewayInfo

	Host      string
	Addresses []string
}

// UDPEndpoint returns "host:port" for the first resolved address.
func (s *GatewayService) UDPEndpoint() (string, bool) {
	if len(s.Addresses) == 0 {
		return "", false
	}
	return net.JoinHostPort(s.Addresses[0], strconv.Itoa(int(s.Port))), true
}
