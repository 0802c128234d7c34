package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes events to an slog.Logger. Useful for development
// when boundary events should appear on the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a SlogAdapter that writes to the given
// slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger. Error events go to Error
// level, informational events to Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := make([]slog.Attr, 0, len(event.Attrs)+1)
	if event.SessionID != "" {
		attrs = append(attrs, slog.String("session_id", event.SessionID))
	}
	for _, at := range event.Attrs {
		attrs = append(attrs, slog.String(at.Name, at.Value))
	}

	level := slog.LevelDebug
	if event.IsError {
		level = slog.LevelError
	}
	a.logger.LogAttrs(context.Background(), level, event.Name, attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
