package log

import (
	"context"
	"log/slog"
)

// SlogAdapter mirrors protocol events onto an slog.Logger at Debug
// level, so the chiller and lamp traffic shows up interleaved with the
// regular application log during development.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter wraps the given slog.Logger as an event sink.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log emits the event as a single "protocol" debug record.
func (a *SlogAdapter) Log(event Event) {
	attrs := make([]slog.Attr, 0, 10)
	attrs = append(attrs,
		slog.String("source", event.Source.String()),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	)
	if event.ConnectionID != "" {
		attrs = append(attrs, slog.String("conn_id", event.ConnectionID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}
	attrs = append(attrs, payloadAttrs(event)...)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

func payloadAttrs(event Event) []slog.Attr {
	switch {
	case event.Frame != nil:
		return []slog.Attr{
			slog.Int("frame_size", event.Frame.Size),
			slog.String("frame_data", string(event.Frame.Data)),
		}
	case event.Command != nil:
		attrs := []slog.Attr{
			slog.String("cmd_id", event.Command.CommandID),
			slog.String("mnemonic", event.Command.Mnemonic),
		}
		if event.Command.Data != "" {
			attrs = append(attrs, slog.String("data", event.Command.Data))
		}
		if event.Command.ErrorDigit != "" {
			attrs = append(attrs, slog.String("error_digit", event.Command.ErrorDigit))
		}
		return attrs
	case event.StateChange != nil:
		attrs := []slog.Attr{
			slog.String("entity", event.StateChange.Entity),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		}
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		return attrs
	case event.Error != nil:
		attrs := []slog.Attr{
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		}
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
		return attrs
	}
	return nil
}

var _ Logger = (*SlogAdapter)(nil)
