package log

import (
	"context"
	"encoding/hex"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger at Debug level.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
		slog.String("role", event.LocalRole.String()),
	}
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session", event.SessionID))
	}
	if event.Remote != "" {
		attrs = append(attrs, slog.String("remote", event.Remote))
	}
	if event.DeviceSerial != "" {
		attrs = append(attrs, slog.String("serial", event.DeviceSerial))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.String("frame", hex.EncodeToString(event.Frame.Data)),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Command != nil:
		c := event.Command
		attrs = append(attrs,
			slog.String("command", c.Name()),
			slog.String("opcode", c.Opcode.String()),
			slog.Uint64("seq", uint64(c.Seq)),
			slog.Bool("secured", c.Secured),
			slog.Int("payload_size", c.PayloadSize),
		)
		if c.Status != nil {
			attrs = append(attrs, slog.String("status", c.Status.String()))
		}
		if c.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", c.Attempt))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Security != nil:
		attrs = append(attrs, slog.String("reason", event.Security.Reason.String()))
		if event.Security.Detail != "" {
			attrs = append(attrs, slog.String("detail", event.Security.Detail))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
		if event.Error.Kind != "" {
			attrs = append(attrs, slog.String("error_kind", event.Error.Kind))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

var _ Logger = (*SlogAdapter)(nil)
