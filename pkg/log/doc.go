// Package log defines the diagnostic side channel of the
// transport-security boundary. Policies and sessions emit Events to a
// host-supplied Logger; the channel is write-only and fire-and-forget,
// so no sink may block or fail the operation that emitted the event.
package log
