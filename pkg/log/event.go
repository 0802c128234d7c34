package log

import "time"

// Attr is one name/value pair attached to an event. Attribute values
// are plain strings so any sink can embed them verbatim.
type Attr struct {
	Name  string `cbor:"1,keyasint"`
	Value string `cbor:"2,keyasint"`
}

// Event is one diagnostic record emitted by a policy or session.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// Name identifies the event. Names are stable identifiers safe to
	// embed as structured-log attribute values.
	Name string `cbor:"2,keyasint"`

	// SessionID correlates the event to a connection. It is the LogID
	// supplied at session creation, forwarded verbatim; empty for
	// events emitted by a policy rather than a session.
	SessionID string `cbor:"3,keyasint,omitempty"`

	// IsError distinguishes error events from informational ones.
	// Blocking conditions (want-read/want-write) are not errors and
	// are never reported with IsError set.
	IsError bool `cbor:"4,keyasint,omitempty"`

	// Attrs carries the ordered attribute pairs of the event.
	Attrs []Attr `cbor:"5,keyasint,omitempty"`
}

// NewEvent builds an event stamped with the current time. attrs are
// alternating name, value strings; a trailing unpaired name is given
// an empty value.
func NewEvent(name, sessionID string, isError bool, attrs ...string) Event {
	ev := Event{
		Timestamp: time.Now(),
		Name:      name,
		SessionID: sessionID,
		IsError:   isError,
	}
	for i := 0; i < len(attrs); i += 2 {
		a := Attr{Name: attrs[i]}
		if i+1 < len(attrs) {
			a.Value = attrs[i+1]
		}
		ev.Attrs = append(ev.Attrs, a)
	}
	return ev
}

// Attr returns the value of the named attribute and whether it is
// present.
func (e Event) Attr(name string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}
