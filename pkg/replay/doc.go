// Package replay rejects duplicated and stale frames.
//
// A Guard keeps the most recently accepted (sequence, truncated tag) pairs
// in a fixed-capacity ring. A cuckoo filter answers most lookups without
// scanning the ring; every filter hit is confirmed against the ring, so
// filter false positives never reject a fresh frame.
//
// Secured frames are checked with CheckCounter. Their sequence is the
// sender's session counter, and the guard also remembers the highest
// counter it has evicted, so an old frame cannot be replayed once newer
// traffic pushes it out of the ring.
//
// The guard must be consulted before any stateful handler runs.
package replay
