package log

// Logger receives protocol log events. Pass nil or NoopLogger to disable
// capture.
type Logger interface {
	// Log records a protocol event. Implementations must be safe for
	// concurrent use and must not block the caller for long.
	Log(event Event)
}

// NoopLogger discards all events.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// OrNoop returns l, or NoopLogger if l is nil.
func OrNoop(l Logger) Logger {
	if l == nil {
		return NoopLogger{}
	}
	return l
}
