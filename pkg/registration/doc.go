// Package registration sequences device registration: start the secure
// session handshake, then wait for completion, an error, cancellation or
// the registration timeout.
//
// The controller is owned by the processing loop. All methods must be
// called from that loop; the timeout fires as a deferred event on the same
// queue, so it is ordered with every other queued event.
//
// Transitions:
//
//	NotStarted                     -> Started    Start
//	Started                        -> Completed  Report(EventCompleted)
//	Started                        -> Errored    Report(EventError)
//	Started                        -> Cancelled  Cancel
//	Started                        -> TimedOut   timeout
//	Errored, Cancelled, TimedOut   -> Started    Start
//	any                            -> NotStarted Reset
//
// Any other request returns ErrInvalidState and leaves the state untouched.
package registration
