package sink

import (
	"errors"
	"fmt"
	"sync"
)

type listener struct {
	sink Sink
}

// Emitter fans events out to the listeners registered for their name.
type Emitter struct {
	mu        sync.RWMutex
	listeners map[string][]*listener
}

func NewEmitter() *Emitter {
	return &Emitter{listeners: make(map[string][]*listener)}
}

// On replaces every listener for name with s. The returned func removes s if
// it is still registered.
func (e *Emitter) On(name string, s Sink) (func(), error) {
	if !ValidEvent(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEvent, name)
	}

	l := &listener{sink: s}
	e.mu.Lock()
	e.listeners[name] = []*listener{l}
	e.mu.Unlock()

	return func() { e.remove(name, l) }, nil
}

// Add registers s alongside the existing listeners for name.
func (e *Emitter) Add(name string, s Sink) (func(), error) {
	if !ValidEvent(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidEvent, name)
	}

	l := &listener{sink: s}
	e.mu.Lock()
	e.listeners[name] = append(e.listeners[name], l)
	e.mu.Unlock()

	return func() { e.remove(name, l) }, nil
}

func (e *Emitter) remove(name string, l *listener) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ls := e.listeners[name]
	for i, x := range ls {
		if x == l {
			e.listeners[name] = append(ls[:i:i], ls[i+1:]...)
			return
		}
	}
}

// RemoveAll drops every listener for name.
func (e *Emitter) RemoveAll(name string) {
	e.mu.Lock()
	delete(e.listeners, name)
	e.mu.Unlock()
}

// Listeners returns how many listeners are registered for name.
func (e *Emitter) Listeners(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners[name])
}

// Emit calls each listener in registration order. A failing listener does not
// stop delivery to the rest; their errors are joined.
func (e *Emitter) Emit(ev Event) error {
	e.mu.RLock()
	ls := e.listeners[ev.Name]
	e.mu.RUnlock()

	var errs []error
	for _, l := range ls {
		if err := l.sink.Emit(ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
