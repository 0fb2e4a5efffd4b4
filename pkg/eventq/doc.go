// Package eventq provides the single processing loop that owns all
// management core state.
//
// Deferred events (timeouts, retries, keep-alive, clock sync, join retries)
// are kept in an expiry-ordered heap. Work from other goroutines, such as
// frames arriving from a network interface, enters through Post. Run
// executes posted work and due events one at a time, so a handler always
// runs to completion before the next one starts and no component needs its
// own lock.
//
// Tests drive the queue with a ManualClock and RunDue instead of Run.
package eventq
