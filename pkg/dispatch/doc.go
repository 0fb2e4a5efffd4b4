// Package dispatch routes decoded commands to handlers and governs
// outbound retries.
//
// Inbound frames pass through a fixed pipeline before any handler runs:
//
//	decode -> decrypt (secured frames) -> replay check -> dispatch
//
// Decryption is stateless and yields the authenticated per-direction
// counter, which keys the replay guard for secured frames; unsecured
// frames are keyed by the header sequence and a BLAKE3 fingerprint.
// Response frames complete a pending outbound command instead of being
// dispatched.
//
// Outbound commands are governed by the PolicyTable: time-to-live,
// retry count and duplicate filtering. Every attempt uses a fresh
// sequence number.
//
// A Dispatcher is owned by the processing loop. Receive and Send must be
// called from that loop; link receivers should Post inbound frames to it.
package dispatch
