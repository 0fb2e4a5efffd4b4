// Package mgmt is the management core of a device node: the procedures
// that run on top of an established secure session.
//
// Join announces the device after a network state change and retries
// with exponential backoff until the gateway answers. Keep-alive pings
// the gateway at a fixed interval; protocol events that require a resync
// override the next delay with Reschedule. Clock sync keeps the node
// clock aligned with the gateway, either periodically (NetworkSync) or
// once (OneShot); failed one-shot exchanges back off through a list of
// suspend intervals. Configuration parameters are bound to numeric ids
// in a ConfigRegistry and persisted. Factory reset tears everything down
// after a short delay and clears the persisted identifiers.
//
// Everything in this package runs on the processing loop of the Handle's
// event queue.
package mgmt
