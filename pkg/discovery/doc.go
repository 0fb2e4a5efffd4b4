// Package discovery finds gateways on the short-range IP link with
// mDNS/DNS-SD.
//
// A gateway advertises the _lrgw._udp service. The instance name is the
// user-friendly gateway name; the SRV port is the UDP link port. TXT
// records carry:
//
//   - addr: the gateway link address (0x-prefixed hex)
//   - pv: the protocol version (major.minor)
//   - gid: the group id handed out at join (optional)
//
// Devices browse for the service, skip gateways with an incompatible
// protocol major version and add the first match as a UDP link peer.
package discovery
