package log

import "github.com/rs/zerolog"

// ZerologAdapter writes events to a zerolog.Logger for hosts that
// already run a zerolog pipeline.
type ZerologAdapter struct {
	logger zerolog.Logger
}

// NewZerologAdapter creates a ZerologAdapter that writes to the given
// zerolog.Logger.
func NewZerologAdapter(logger zerolog.Logger) *ZerologAdapter {
	return &ZerologAdapter{logger: logger}
}

// Log writes the event. Error events go to Error level, informational
// events to Debug.
func (a *ZerologAdapter) Log(event Event) {
	var ev *zerolog.Event
	if event.IsError {
		ev = a.logger.Error()
	} else {
		ev = a.logger.Debug()
	}
	if event.SessionID != "" {
		ev = ev.Str("session_id", event.SessionID)
	}
	for _, at := range event.Attrs {
		ev = ev.Str(at.Name, at.Value)
	}
	ev.Msg(event.Name)
}

// Compile-time interface satisfaction check.
var _ Logger = (*ZerologAdapter)(nil)
