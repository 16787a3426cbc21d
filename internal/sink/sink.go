// Package sink delivers encoded capture events to listeners.
package sink

import "errors"

// EventData is the only event a capture session emits.
const EventData = "data"

// ErrInvalidEvent is returned when subscribing to an unknown event name.
var ErrInvalidEvent = errors.New("invalid event")

// Event is one encoded frame. Seq starts at 1 for every capture run and
// increases by one per emitted frame.
type Event struct {
	Name      string `json:"event"`
	Seq       uint64 `json:"seq"`
	SessionID string `json:"session"`
	Payload   string `json:"data"`
}

// Sink receives events. Emit is called from the capture goroutine; sinks that
// need another execution context must hand off themselves.
type Sink interface {
	Emit(ev Event) error
}

// Func adapts a function to Sink.
type Func func(ev Event) error

func (f Func) Emit(ev Event) error { return f(ev) }

// ValidEvent reports whether name is an event listeners may subscribe to.
func ValidEvent(name string) bool {
	return name == EventData
}
