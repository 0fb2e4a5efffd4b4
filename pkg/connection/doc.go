// Package connection provides retry pacing and link supervision.
//
// # Backoff
//
// Backoff produces exponentially growing delays with additive jitter:
//
//	delay = base + random(0, base * jitter)
//
// The base starts at Initial, is multiplied after every attempt and is
// capped at Max. Reset returns it to Initial after a success. The join
// procedure uses a Backoff for its per-attempt interval; the defaults
// below are the join defaults.
//
// # Supervisor
//
// Supervisor keeps a link to an external system (MQTT broker, serial
// modem) established, redialling with a Backoff after a loss. It runs
// its own goroutine and never touches processing-loop state; callers
// observe it through callbacks that post to the loop.
package connection
