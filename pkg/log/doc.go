// Package log provides structured protocol logging.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at the link, wire and service layers. It is
// separate from operational logging (slog): protocol capture is a
// machine-readable trace for post-mortem analysis of a device or gateway.
//
// # Basic Usage
//
//	// Development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// Field units: write to a CBOR file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/lrmgmt/device.lrlog")
//
//	// Both
//	cfg.ProtocolLogger = log.NewMultiLogger(slogAdapter, fileLogger)
//
// # Event Types
//
//   - Link: raw frame bytes (FrameEvent)
//   - Wire: decoded command headers (CommandEvent)
//   - Service: registration, session, join and clock sync state (StateChangeEvent)
//
// Rejected frames (replay, authentication, malformed) are SecurityEvents;
// other failures are ErrorEvents.
//
// # File Format
//
// Log files are a stream of CBOR-encoded events with the .lrlog extension.
package log
