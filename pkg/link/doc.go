// Package link is the network interface boundary. A NetworkInterface
// carries opaque frames between addressed endpoints; transport-specific
// framing stays behind it.
//
// Implementations:
//   - Pipe: an in-memory pair for tests and simulation
//   - MQTTLink: gateway backhaul over an MQTT broker
//   - SerialLink: a radio modem on a UART, length-prefixed frames
//   - UDPLink: the short-range IP link
//
// Receivers are called from the interface's own goroutine. Callers that
// own their state on an event loop should post the frame to that loop.
package link
